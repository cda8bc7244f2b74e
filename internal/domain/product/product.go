package product

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrVariantNotFound is returned when a color is requested and the
	// product has no variant with that color.
	ErrVariantNotFound = errors.New("product not available in this color")
)

// Product represents a catalog item available for purchase. Stock for a
// color lives only in the matching variant; the top-level Quantity applies
// when no color is requested.
type Product struct {
	ID         string
	Name       string
	Price      decimal.Decimal
	Quantity   int
	Sold       int
	ImageCover string
	Variants   []Variant
}

// Variant is a per-color stock record, independent of the product's base
// quantity.
type Variant struct {
	ID       string
	Color    string
	Quantity int
}

// VariantByColor returns the variant matching color, case-insensitively.
func (p *Product) VariantByColor(color string) (*Variant, bool) {
	for i := range p.Variants {
		if strings.EqualFold(p.Variants[i].Color, color) {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// AvailableFor returns the purchasable stock for the given color. An empty
// color means the base stock. ErrVariantNotFound is returned when a color
// is requested and no matching variant exists.
func (p *Product) AvailableFor(color string) (int, error) {
	if color == "" {
		return p.Quantity, nil
	}
	v, ok := p.VariantByColor(color)
	if !ok {
		return 0, ErrVariantNotFound
	}
	return v.Quantity, nil
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
}
