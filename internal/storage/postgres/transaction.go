package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zdonhauser/pos-webhooks/internal/domain/transaction"
)

const (
	insertTransactionSQL = `INSERT INTO transactions
		(id, order_id, kind, gateway, status, message, amount, currency,
		 test, source_name, payment_id, created_at, processed_at, webhook)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	transactionIDsSinceSQL = `SELECT id FROM transactions
		WHERE processed_at >= $1 OR processed_at IS NULL`

	transactionExistsSQL = `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`

	transactionsSinceSQL = `SELECT id, order_id, kind, gateway, status, message,
		amount, currency, test, source_name, payment_id, created_at, processed_at
		FROM transactions
		WHERE processed_at >= $1
		ORDER BY processed_at, id`
)

var _ transaction.Repository = (*TransactionRepository)(nil)

// TransactionRepository persists payment events. The platform transaction id
// is the primary key; redelivered events insert nothing.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository returns a TransactionRepository that uses the
// given pool.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// Insert writes t, ignoring duplicate ids.
func (r *TransactionRepository) Insert(ctx context.Context, t *transaction.Transaction) error {
	_, err := r.pool.Exec(ctx, insertTransactionSQL,
		t.ID, nullInt64(t.OrderID), t.Kind, t.Gateway, t.Status, t.Message,
		t.Amount, t.Currency, t.Test, t.SourceName, t.PaymentID,
		nullTime(t.CreatedAt), nullTime(t.ProcessedAt), nullJSON(t.Raw),
	)
	if err != nil {
		return errors.Wrapf(err, "insert transaction %d", t.ID)
	}
	return nil
}

// Exists reports whether a transaction with id is already stored.
func (r *TransactionRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, transactionExistsSQL, id).Scan(&exists); err != nil {
		return false, errors.Wrapf(err, "check transaction %d", id)
	}
	return exists, nil
}

// IDsSince lists the ids of transactions processed at or after since. Rows
// with no processed_at are included so callers never re-ingest them.
func (r *TransactionRepository) IDsSince(ctx context.Context, since time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, transactionIDsSinceSQL, since)
	if err != nil {
		return nil, errors.Wrap(err, "list transaction ids")
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, errors.Wrap(err, "scan transaction ids")
	}
	return ids, nil
}

// ListSince returns the transactions processed at or after since, ordered by
// processing time.
func (r *TransactionRepository) ListSince(ctx context.Context, since time.Time) ([]transaction.Transaction, error) {
	rows, err := r.pool.Query(ctx, transactionsSinceSQL, since)
	if err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}

	txs, err := pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return nil, errors.Wrap(err, "scan transactions")
	}
	return txs, nil
}

func scanTransaction(row pgx.CollectableRow) (transaction.Transaction, error) {
	var (
		t           transaction.Transaction
		orderID     *int64
		createdAt   *time.Time
		processedAt *time.Time
	)
	err := row.Scan(
		&t.ID, &orderID, &t.Kind, &t.Gateway, &t.Status, &t.Message,
		&t.Amount, &t.Currency, &t.Test, &t.SourceName, &t.PaymentID,
		&createdAt, &processedAt,
	)
	if orderID != nil {
		t.OrderID = *orderID
	}
	if createdAt != nil {
		t.CreatedAt = *createdAt
	}
	if processedAt != nil {
		t.ProcessedAt = *processedAt
	}
	return t, err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullInt64(n int64) *int64 {
	if n == 0 {
		return nil
	}
	return &n
}

func nullJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
