package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCategory is assigned to ledger rows until a proper product
// categorization source exists.
const DefaultCategory = "Uncategorized"

// Snapshot is the full representation of an external order at its last known
// update. Snapshots are replaced, never merged: each accepted delivery stores
// a complete new snapshot and readers take the one with the newest UpdatedAt.
type Snapshot struct {
	ID        string
	LineItems []LineItem
	Refunds   []Refund
	UpdatedAt time.Time
}

// LineItem is a single purchasable line of an order.
type LineItem struct {
	ID           string
	Name         string
	Title        string
	SKU          string
	Price        decimal.Decimal
	Quantity     int
	VariantTitle string
}

// Refund groups the line-item quantities returned in one refund event.
type Refund struct {
	Items []RefundItem
}

// RefundItem records how many units of a line item were refunded.
type RefundItem struct {
	LineItemID string
	Quantity   int
}

// ItemSummary is a line item netted against its refunds, carrying everything
// a ledger row needs. Diff also emits ItemSummary values: those carry signed
// quantities and amounts relative to the previous snapshot.
type ItemSummary struct {
	LineItemID  string
	Name        string
	SKU         string
	Price       decimal.Decimal
	Quantity    int
	TotalAmount decimal.Decimal
	Category    string
	OrderID     string
}

// SnapshotStore persists order snapshots. Latest returns nil (and no error)
// when the order has never been seen.
type SnapshotStore interface {
	Latest(ctx context.Context, orderID string) (*Snapshot, error)
	Append(ctx context.Context, s *Snapshot, rawPayload []byte) error
}

// LedgerWriter appends computed deltas as immutable sales rows.
type LedgerWriter interface {
	InsertSales(ctx context.Context, rows []ItemSummary) error
}
