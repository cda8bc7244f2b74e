package cart

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/veskor/bazaar/internal/domain/coupon"
	"github.com/veskor/bazaar/internal/domain/product"
)

// Service is the cart consistency engine: it performs stock-checked,
// atomic cart mutations and reconciles fetched carts against the live
// catalog. It holds no in-process state; all contention is resolved by the
// repository's atomic writes plus the compensating update in AddItem.
type Service struct {
	carts    Repository
	products product.Repository
	coupons  coupon.Repository
}

// NewService creates a cart Service with the required dependencies.
func NewService(carts Repository, products product.Repository, coupons coupon.Repository) *Service {
	return &Service{
		carts:    carts,
		products: products,
		coupons:  coupons,
	}
}

// AddItem adds quantity units of a product (optionally a color variant) to
// the user's cart, merging into an existing line for the same (product,
// color) pair. The merge and total recompute happen in one atomic write;
// a post-write check compensates when a concurrent add pushed the line
// past the stock snapshot taken here.
func (s *Service) AddItem(ctx context.Context, userID, productID, color string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	color = strings.ToLower(strings.TrimSpace(color))
	available, err := p.AvailableFor(color)
	if err != nil {
		return nil, err
	}
	if available == 0 {
		return nil, ErrOutOfStock
	}
	if quantity > available {
		return nil, &InsufficientStockError{Available: available, Requested: quantity}
	}

	updated, merged, err := s.carts.UpsertItem(ctx, userID, Item{
		ID:        uuid.New().String(),
		ProductID: p.ID,
		Color:     color,
		Quantity:  quantity,
		Price:     p.Price,
	})
	if err != nil {
		return nil, errors.Wrap(err, "upsert cart item")
	}

	// The availability snapshot above may be stale relative to concurrent
	// adds for the same line. If the merged quantity overshoots, undo
	// exactly the amount just added and report the shortage; the cart ends
	// up as it was before this call.
	if merged.Quantity > available {
		added := p.Price.Mul(decimalFromInt(quantity))
		if _, err := s.carts.AdjustItem(ctx, userID, merged.ID, -quantity, added.Neg()); err != nil {
			return nil, errors.Wrap(err, "compensate cart item")
		}
		return nil, &InsufficientStockError{Available: available, Requested: merged.Quantity}
	}

	return updated, nil
}

// Get returns the user's cart reconciled against the live catalog.
//
// Availability drift (missing product or variant, stock below the in-cart
// quantity) produces an annotated view with ProductChanged set and nothing
// persisted. Otherwise price drift is folded into the cart, persisted, and
// reported via PriceChanged.
func (s *Service) Get(ctx context.Context, userID string) (*View, error) {
	c, populated, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := DetectAvailability(*c, populated)
	if view.ProductChanged {
		return &view, nil
	}

	changes, _, changed := ReconcilePrices(*c, populated)
	if !changed {
		return &view, nil
	}

	updated, err := s.carts.UpdatePrices(ctx, userID, changes)
	if err != nil {
		return nil, errors.Wrap(err, "persist price changes")
	}
	view = viewFromCart(*updated, view)
	view.PriceChanged = true
	return &view, nil
}

// GetByCartID returns the populated view of a cart by its id without
// availability or price reconciliation. Used by the payment completion
// flow, which holds only the session's cart reference and has already
// captured payment.
func (s *Service) GetByCartID(ctx context.Context, cartID string) (*View, error) {
	c, populated, err := s.carts.FindByID(ctx, cartID)
	if err != nil {
		return nil, err
	}
	v := DetectAvailability(*c, populated)
	// Diagnostics are informational here; the caller ignores the flags.
	return &v, nil
}

// RemoveItem filters the item out of the cart in one atomic write that
// also recomputes the total and clears any discounted total. When the last
// item is removed the cart itself is deleted and a nil cart is returned.
func (s *Service) RemoveItem(ctx context.Context, userID, itemID string) (*Cart, error) {
	updated, err := s.carts.RemoveItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}

	if len(updated.Items) == 0 {
		if err := s.carts.Delete(ctx, userID); err != nil {
			return nil, errors.Wrap(err, "delete emptied cart")
		}
		return nil, nil
	}
	return updated, nil
}

// UpdateItemQuantity sets a line item to newQuantity after re-checking
// stock for the item's (product, color), adjusting the total by the price
// delta and clearing any discounted total.
func (s *Service) UpdateItemQuantity(ctx context.Context, userID, itemID string, newQuantity int) (*Cart, error) {
	if newQuantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	c, populated, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	item, ok := c.ItemByID(itemID)
	if !ok {
		return nil, ErrItemNotFound
	}

	var live *product.Product
	for _, pit := range populated {
		if pit.ID == itemID {
			live = pit.Product
			break
		}
	}
	if live == nil {
		return nil, product.ErrNotFound
	}

	available, err := live.AvailableFor(item.Color)
	if err != nil {
		return nil, err
	}
	if available == 0 {
		return nil, ErrOutOfStock
	}
	if newQuantity > available {
		return nil, &InsufficientStockError{Available: available, Requested: newQuantity}
	}

	delta := newQuantity - item.Quantity
	deltaTotal := item.Price.Mul(decimalFromInt(delta))

	updated, err := s.carts.SetItemQuantity(ctx, userID, itemID, newQuantity, deltaTotal)
	if err != nil {
		return nil, errors.Wrap(err, "set item quantity")
	}
	return updated, nil
}

// ApplyCoupon applies a non-expired coupon to the cart, setting the
// discounted total against the latest stored total in one atomic update.
// Availability and price reconciliation are not re-run here.
func (s *Service) ApplyCoupon(ctx context.Context, userID, code string) (*Cart, error) {
	cpn, err := s.coupons.FindActive(ctx, coupon.Normalize(code))
	if err != nil {
		return nil, err
	}

	updated, err := s.carts.ApplyDiscount(ctx, userID, cpn.Discount)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Clear drops the user's cart entirely.
func (s *Service) Clear(ctx context.Context, userID string) error {
	return s.carts.Delete(ctx, userID)
}

// viewFromCart rebuilds a view around an updated cart, keeping the
// projection fields computed from prev.
func viewFromCart(c Cart, prev View) View {
	v := View{Cart: c, Items: make([]ItemView, 0, len(c.Items))}
	byID := make(map[string]ItemView, len(prev.Items))
	for _, iv := range prev.Items {
		byID[iv.ID] = iv
	}
	for _, it := range c.Items {
		iv, ok := byID[it.ID]
		if !ok {
			iv = ItemView{Exists: true}
		}
		iv.Item = it
		v.Items = append(v.Items, iv)
	}
	return v
}
