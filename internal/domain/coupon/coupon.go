package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrInvalidOrExpired is returned when no non-expired coupon matches the
// given code.
var ErrInvalidOrExpired = errors.New("coupon is invalid or expired")

// Coupon is a percentage discount with an expiry. Names are unique and
// stored upper-cased.
type Coupon struct {
	Name      string
	Discount  decimal.Decimal // percent, 0–100
	ExpiresAt time.Time
}

// Expired reports whether the coupon is past its expiry at the given time.
func (c *Coupon) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Normalize canonicalizes a coupon code for lookup: trimmed, upper-cased.
func Normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// DiscountedTotal computes round(total × (1 − discount/100), 2).
func DiscountedTotal(total, discount decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	return total.Sub(total.Mul(discount).Div(hundred)).Round(2)
}

// Repository provides coupon lookup and maintenance.
type Repository interface {
	// FindActive returns the non-expired coupon matching the normalized
	// name, or ErrInvalidOrExpired.
	FindActive(ctx context.Context, name string) (*Coupon, error)
	Upsert(ctx context.Context, c *Coupon) error
}
