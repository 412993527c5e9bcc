package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zdonhauser/pos-webhooks/internal/domain/order"
)

const (
	latestSnapshotSQL = `SELECT full_order FROM orders
		WHERE shopify_order_id = $1
		ORDER BY shopify_updated_at DESC, id DESC
		LIMIT 1`

	appendSnapshotSQL = `INSERT INTO orders (shopify_order_id, full_order, shopify_updated_at)
		VALUES ($1, $2, $3)`

	insertSaleSQL = `INSERT INTO line_item_sales
		(line_item_id, name, sku, price, quantity_sold, total_amount_received, category, shopify_order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
)

var (
	_ order.SnapshotStore = (*OrderRepository)(nil)
	_ order.LedgerWriter  = (*OrderRepository)(nil)
)

// OrderRepository stores order snapshots and their ledger rows.
//
// Snapshots are append-only: every accepted delivery inserts a fresh row and
// Latest picks the newest by the platform's updated_at, so a slow writer can
// never clobber a newer snapshot.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Latest returns the newest stored snapshot for orderID, or nil when the
// order has never been seen.
func (r *OrderRepository) Latest(ctx context.Context, orderID string) (*order.Snapshot, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, latestSnapshotSQL, orderID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load snapshot for order %q", orderID)
	}

	// The stored JSONB is the webhook body verbatim, so the webhook codec
	// reads it back.
	snap, err := order.ParsePayload(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decode stored snapshot for order %q", orderID)
	}
	return snap, nil
}

// Append stores s as a new snapshot row. rawPayload is the webhook body
// exactly as delivered.
func (r *OrderRepository) Append(ctx context.Context, s *order.Snapshot, rawPayload []byte) error {
	_, err := r.pool.Exec(ctx, appendSnapshotSQL, s.ID, rawPayload, s.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "append snapshot for order %q", s.ID)
	}
	return nil
}

// InsertSales appends ledger rows in one round trip.
func (r *OrderRepository) InsertSales(ctx context.Context, rows []order.ItemSummary) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		category := row.Category
		if category == "" {
			category = order.DefaultCategory
		}
		batch.Queue(insertSaleSQL,
			row.LineItemID, row.Name, row.SKU, row.Price,
			row.Quantity, row.TotalAmount, category, row.OrderID,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return errors.Wrap(err, "insert ledger row")
		}
	}
	return nil
}
