package ports

import (
	"context"
	"time"

	"github.com/hive-corporation/guardybot/internal/core/domain"
)

type DeliveryRepository interface {
	Save(ctx context.Context, d domain.Delivery) error
	FindSince(ctx context.Context, since time.Time, limit int) ([]domain.Delivery, error)
	FindByFindingID(ctx context.Context, findingID string) ([]domain.Delivery, error)
}
