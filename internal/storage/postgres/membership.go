package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zdonhauser/pos-webhooks/internal/domain/membership"
)

const insertMembershipSQL = `INSERT INTO memberships
	(name, membership_type, dob, sub_id, seal_selling_plan_id, barcode, email)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

var _ membership.Repository = (*MembershipRepository)(nil)

// MembershipRepository persists membership rows derived from subscription
// webhooks. Inserts carry no uniqueness constraint, so a redelivered
// subscription webhook writes duplicate rows; deduplication is left to the
// downstream consumer.
type MembershipRepository struct {
	pool *pgxpool.Pool
}

// NewMembershipRepository returns a MembershipRepository that uses the given
// pool.
func NewMembershipRepository(pool *pgxpool.Pool) *MembershipRepository {
	return &MembershipRepository{pool: pool}
}

// Insert writes one membership row.
func (r *MembershipRepository) Insert(ctx context.Context, m *membership.Member) error {
	_, err := r.pool.Exec(ctx, insertMembershipSQL,
		m.Name, m.Type, m.DOB, m.SubID, m.SellingPlanID, m.Barcode, m.Email,
	)
	if err != nil {
		return errors.Wrapf(err, "insert membership for sub %q", m.SubID)
	}
	return nil
}
