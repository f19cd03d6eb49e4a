package ports

import (
	"context"

	"github.com/hive-corporation/guardybot/internal/core/domain"
)

// Notifier delivers a rendered message to a chat channel. Transport retry
// and backoff belong to the implementation.
type Notifier interface {
	Notify(ctx context.Context, msg domain.OutboundMessage) error
	Name() string
}

// MuteFilter decides whether a finding should be kept out of the channel.
// It returns the rule that matched.
type MuteFilter interface {
	Match(f domain.Finding) (rule string, muted bool)
}

// DuplicateGuard remembers which findings were already announced.
// Claim returns true the first time a key is seen within its TTL; Release
// drops a claim after a failed delivery so the next publication retries.
type DuplicateGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}
