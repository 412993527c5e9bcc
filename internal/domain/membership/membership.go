// Package membership turns subscription-platform webhooks into membership
// records, one per purchased seat.
package membership

import (
	"context"
	"time"
)

// Member is one membership row derived from a subscription item seat.
type Member struct {
	Name          string
	Type          string
	DOB           *time.Time
	SubID         string
	SellingPlanID string
	Barcode       string
	Email         string
}

// Repository persists membership records.
type Repository interface {
	Insert(ctx context.Context, m *Member) error
}
