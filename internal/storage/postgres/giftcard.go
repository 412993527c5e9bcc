package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zdonhauser/pos-webhooks/internal/domain/giftcard"
)

const insertGiftCardSQL = `INSERT INTO gift_cards
	(card_number, items, is_donation, issued_to, notes, expiration, valid_starting)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (card_number) DO NOTHING`

var _ giftcard.Repository = (*GiftCardRepository)(nil)

// GiftCardRepository persists issued cards. Card numbers are unique; the
// conflict clause absorbs redelivered webhooks.
type GiftCardRepository struct {
	pool *pgxpool.Pool
}

// NewGiftCardRepository returns a GiftCardRepository that uses the given pool.
func NewGiftCardRepository(pool *pgxpool.Pool) *GiftCardRepository {
	return &GiftCardRepository{pool: pool}
}

// Insert writes c and reports whether a new row was created. A duplicate card
// number returns (false, nil).
func (r *GiftCardRepository) Insert(ctx context.Context, c *giftcard.Card) (bool, error) {
	tag, err := r.pool.Exec(ctx, insertGiftCardSQL,
		c.CardNumber, c.Items, c.IsDonation, c.IssuedTo, c.Notes,
		c.Expiration, c.ValidStarting,
	)
	if err != nil {
		return false, errors.Wrapf(err, "insert gift card %q", c.CardNumber)
	}
	return tag.RowsAffected() > 0, nil
}
