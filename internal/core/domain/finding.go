package domain

import (
	"time"
)

// Finding is a single GuardDuty threat event. It is built once from an
// inbound payload and never modified.
type Finding struct {
	ID          string
	Type        string
	Taxonomy    TypeTaxonomy
	Severity    float64
	Title       string
	Description string
	AccountID   string
	Region      string
	Resource    Resource
	FirstSeen   time.Time
	LastSeen    time.Time
	Count       int

	ARN       string
	Partition string
	CreatedAt time.Time
	UpdatedAt time.Time
	Archived  bool
}

// DefaultPartition is assumed when neither the payload nor its ARN name one.
const DefaultPartition = "aws"

// Timestamp is the moment the notification should be dated with.
func (f Finding) Timestamp() time.Time {
	if !f.UpdatedAt.IsZero() {
		return f.UpdatedAt
	}
	return f.LastSeen
}
