package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veskor/bazaar/internal/domain/coupon"
)

const (
	findActiveCouponSQL = `SELECT name, discount, expires_at
		FROM coupons WHERE name = upper($1) AND expires_at > now()`

	upsertCouponSQL = `INSERT INTO coupons (name, discount, expires_at)
		VALUES (upper($1), $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			discount = EXCLUDED.discount,
			expires_at = EXCLUDED.expires_at`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
// Coupon names are upper-cased in SQL on both read and write, so lookups
// are case-insensitive regardless of how the code was entered.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindActive looks up a non-expired coupon by name. Returns
// coupon.ErrInvalidOrExpired when no such coupon exists.
func (r *CouponRepository) FindActive(ctx context.Context, name string) (*coupon.Coupon, error) {
	var c coupon.Coupon
	err := r.pool.QueryRow(ctx, findActiveCouponSQL, name).
		Scan(&c.Name, &c.Discount, &c.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidOrExpired
		}
		return nil, fmt.Errorf("finding coupon %q: %w", name, err)
	}
	return &c, nil
}

// Upsert creates or refreshes a coupon.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL, c.Name, c.Discount, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Name, err)
	}
	return nil
}
