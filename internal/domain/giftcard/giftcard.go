// Package giftcard derives redeemable card records from order line items.
//
// Card numbers come straight from the source line item id, so re-processing a
// redelivered webhook issues the same numbers and the store's uniqueness
// constraint turns the second insert into a no-op. The issuer itself never
// deduplicates.
package giftcard

import (
	"context"
	"time"
)

// Card is a redeemable credential issued for one eligible line item.
type Card struct {
	CardNumber    string
	Items         string
	IsDonation    bool
	IssuedTo      string
	Notes         string
	Expiration    *time.Time
	ValidStarting *time.Time
}

// Repository persists issued cards. Insert reports whether a row was actually
// written; a duplicate card number is not an error.
type Repository interface {
	Insert(ctx context.Context, c *Card) (bool, error)
}
