package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/veskor/bazaar/internal/domain/product"
)

var (
	// ErrNotFound is returned when the user has no cart.
	ErrNotFound = errors.New("no cart for this user")
	// ErrItemNotFound is returned when a cart item id does not exist.
	ErrItemNotFound = errors.New("no cart item with this id")
	// ErrOutOfStock is returned when the requested product has zero stock.
	ErrOutOfStock = errors.New("product is out of stock")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// InsufficientStockError indicates the requested quantity exceeds the
// currently available stock. Available carries the count the caller can
// still order.
type InsufficientStockError struct {
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return errors.Errorf("only %d items available in stock, requested are %d",
		e.Available, e.Requested).Error()
}

// Item is a single cart line. Price is a snapshot of the product price at
// the time the item was added; it is refreshed during price reconciliation.
type Item struct {
	ID        string
	ProductID string
	Color     string
	Quantity  int
	Price     decimal.Decimal
}

// Subtotal returns Price × Quantity.
func (it Item) Subtotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Cart holds one user's line items and the derived totals. TotalPrice must
// always equal the sum of item subtotals; TotalAfterDiscount is set by
// coupon application and cleared whenever the total changes.
type Cart struct {
	ID                 string
	UserID             string
	Items              []Item
	TotalPrice         decimal.Decimal
	TotalAfterDiscount *decimal.Decimal
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ItemByID returns the line item with the given id.
func (c *Cart) ItemByID(id string) (*Item, bool) {
	for i := range c.Items {
		if c.Items[i].ID == id {
			return &c.Items[i], true
		}
	}
	return nil, false
}

// PopulatedItem pairs a cart item with live catalog data attached at read
// time. Product is nil when it no longer exists in the catalog.
type PopulatedItem struct {
	Item
	Product *product.Product
}

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

// ItemsTotal computes the invariant cart total: Σ price × quantity.
func ItemsTotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// ItemView is a cart item annotated with availability diagnostics against
// the live catalog.
type ItemView struct {
	Item

	// ProductName and LivePrice are read-time projections of the catalog;
	// both are zero values when the product no longer exists.
	ProductName string
	LivePrice   decimal.Decimal
	ImageCover  string

	// Exists reports whether the referenced product (and, for colored
	// items, its variant) is still present in the catalog.
	Exists bool
	// AvailabilityChanged is set when the item can no longer be fulfilled
	// as-is: the product or variant vanished, or stock dropped below the
	// in-cart quantity.
	AvailabilityChanged bool
	// AvailableQuantity is the current purchasable stock, meaningful when
	// AvailabilityChanged is set and the product still exists.
	AvailableQuantity int
}

// View is the reconciled read-time projection of a cart.
type View struct {
	Cart  Cart
	Items []ItemView

	// ProductChanged is set when any item has an availability problem; the
	// cart is returned annotated and unmodified so the caller can prompt
	// the user instead of silently altering the cart.
	ProductChanged bool
	// PriceChanged is set when item prices drifted and were refreshed.
	PriceChanged bool
}

// DetectAvailability compares every populated item against current catalog
// stock and returns the annotated view. It never mutates the cart: items
// whose product vanished are marked non-existent, items whose stock dropped
// below the in-cart quantity carry the available count.
func DetectAvailability(c Cart, populated []PopulatedItem) View {
	v := View{Cart: c, Items: make([]ItemView, len(populated))}
	for i, pit := range populated {
		iv := ItemView{Item: pit.Item, Exists: true}

		switch {
		case pit.Product == nil:
			iv.Exists = false
			iv.AvailabilityChanged = true
		default:
			iv.ProductName = pit.Product.Name
			iv.LivePrice = pit.Product.Price
			iv.ImageCover = pit.Product.ImageCover

			avail, err := pit.Product.AvailableFor(pit.Color)
			if err != nil {
				// Variant for this color no longer exists.
				iv.Exists = false
				iv.AvailabilityChanged = true
				break
			}
			if avail < pit.Quantity {
				iv.AvailabilityChanged = true
				iv.AvailableQuantity = avail
			}
		}

		if iv.AvailabilityChanged {
			v.ProductChanged = true
		}
		v.Items[i] = iv
	}
	return v
}

// PriceChange records a refreshed snapshot price for one cart item.
type PriceChange struct {
	ItemID   string
	NewPrice decimal.Decimal
}

// ReconcilePrices compares each item's snapshot price against the live
// product price. It returns the per-item changes, the cart total after
// applying them, and whether anything drifted. Items whose product is gone
// are skipped; callers run DetectAvailability first.
func ReconcilePrices(c Cart, populated []PopulatedItem) ([]PriceChange, decimal.Decimal, bool) {
	var changes []PriceChange
	total := c.TotalPrice
	for _, pit := range populated {
		if pit.Product == nil || pit.Product.Price.Equal(pit.Price) {
			continue
		}
		qty := decimal.NewFromInt(int64(pit.Quantity))
		total = total.Sub(pit.Price.Mul(qty)).Add(pit.Product.Price.Mul(qty))
		changes = append(changes, PriceChange{ItemID: pit.ID, NewPrice: pit.Product.Price})
	}
	return changes, total, len(changes) > 0
}

// Repository defines the persistence operations of the cart store. The
// mutating operations must be atomic with respect to concurrent calls for
// the same cart: implementations serialize them on the cart record so that
// concurrent merges for different items never lose each other's updates.
type Repository interface {
	// UpsertItem merges it into the user's cart, creating the cart when
	// absent. An existing (product, color) line has its quantity
	// incremented; otherwise the item is appended. The cart total is
	// increased by it.Price × it.Quantity and any discounted total is
	// cleared, all in the same atomic write. Returns the updated cart and
	// the post-merge line item.
	UpsertItem(ctx context.Context, userID string, it Item) (*Cart, *Item, error)

	// AdjustItem increments the item quantity by deltaQty and the cart
	// total by deltaTotal in one atomic write. Used as the compensating
	// update when an optimistic merge overshoots available stock.
	AdjustItem(ctx context.Context, userID, itemID string, deltaQty int, deltaTotal decimal.Decimal) (*Cart, error)

	// SetItemQuantity sets the item quantity and adjusts the cart total by
	// deltaTotal, clearing any discounted total.
	SetItemQuantity(ctx context.Context, userID, itemID string, quantity int, deltaTotal decimal.Decimal) (*Cart, error)

	// RemoveItem filters the item out of the cart, recomputes the total
	// over the remaining items, and clears any discounted total as one
	// atomic write.
	RemoveItem(ctx context.Context, userID, itemID string) (*Cart, error)

	// UpdatePrices applies refreshed snapshot prices, recomputes the
	// total, and clears any discounted total.
	UpdatePrices(ctx context.Context, userID string, changes []PriceChange) (*Cart, error)

	// ApplyDiscount sets the discounted total to
	// round(total × (1 − discount/100), 2) against the latest stored total.
	ApplyDiscount(ctx context.Context, userID string, discount decimal.Decimal) (*Cart, error)

	// FindByUser returns the cart with items populated with live product
	// data.
	FindByUser(ctx context.Context, userID string) (*Cart, []PopulatedItem, error)

	// FindByID is FindByUser keyed by cart id; used by the payment
	// completion flow, which only holds the session's cart reference.
	FindByID(ctx context.Context, cartID string) (*Cart, []PopulatedItem, error)

	// Delete drops the user's cart and its items.
	Delete(ctx context.Context, userID string) error
}
