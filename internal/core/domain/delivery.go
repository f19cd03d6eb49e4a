package domain

import (
	"strconv"
	"time"
)

type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryMuted     DeliveryStatus = "muted"
	DeliveryDuplicate DeliveryStatus = "duplicate"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Delivery is the audit record of one processed finding.
type Delivery struct {
	ID          string         // Delivery UUID
	FindingID   string         // GuardDuty finding id
	FindingType string         // Raw type string
	Severity    float64        // Score as received
	Tier        ColorTier      // Presentation tier
	Recognized  bool           // Whether the type was in the catalog
	AccountID   string         // Account the finding belongs to
	Region      string         // Region the finding was raised in
	Count       int            // Occurrence counter at delivery time
	Notifier    string         // Which notifier handled it
	Status      DeliveryStatus // Outcome
	Detail      string         // Muting rule or error text
	ProcessedAt time.Time      // When WE processed it
}

// DuplicateKey identifies a finding publication. GuardDuty republishes the
// same finding id with a higher count when it recurs.
func DuplicateKey(f Finding) string {
	return f.ID + "#" + strconv.Itoa(f.Count)
}
