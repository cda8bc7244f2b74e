package cart

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veskor/bazaar/internal/domain/coupon"
	"github.com/veskor/bazaar/internal/domain/product"
)

// --- Fakes ---

// fakeCartRepo is an in-memory Repository mirroring the store semantics:
// merge-by-(product,color), total maintenance, and discount clearing on
// every total-changing write except AdjustItem.
type fakeCartRepo struct {
	byUser  map[string]*Cart
	catalog map[string]*product.Product
}

func newFakeCartRepo(catalog map[string]*product.Product) *fakeCartRepo {
	return &fakeCartRepo{byUser: make(map[string]*Cart), catalog: catalog}
}

func (f *fakeCartRepo) snapshot(c *Cart) *Cart {
	cp := *c
	cp.Items = append([]Item(nil), c.Items...)
	if c.TotalAfterDiscount != nil {
		d := *c.TotalAfterDiscount
		cp.TotalAfterDiscount = &d
	}
	return &cp
}

func (f *fakeCartRepo) UpsertItem(_ context.Context, userID string, it Item) (*Cart, *Item, error) {
	c, ok := f.byUser[userID]
	if !ok {
		c = &Cart{ID: uuid.New().String(), UserID: userID, TotalPrice: decimal.Zero}
		f.byUser[userID] = c
	}

	var merged *Item
	for i := range c.Items {
		if c.Items[i].ProductID == it.ProductID && c.Items[i].Color == it.Color {
			c.Items[i].Quantity += it.Quantity
			merged = &c.Items[i]
			break
		}
	}
	if merged == nil {
		c.Items = append(c.Items, it)
		merged = &c.Items[len(c.Items)-1]
	}

	c.TotalPrice = c.TotalPrice.Add(it.Subtotal())
	c.TotalAfterDiscount = nil

	m := *merged
	return f.snapshot(c), &m, nil
}

func (f *fakeCartRepo) AdjustItem(_ context.Context, userID, itemID string, deltaQty int, deltaTotal decimal.Decimal) (*Cart, error) {
	c, ok := f.byUser[userID]
	if !ok {
		return nil, ErrNotFound
	}
	it, ok := c.ItemByID(itemID)
	if !ok {
		return nil, ErrItemNotFound
	}
	it.Quantity += deltaQty
	c.TotalPrice = c.TotalPrice.Add(deltaTotal)
	return f.snapshot(c), nil
}

func (f *fakeCartRepo) SetItemQuantity(_ context.Context, userID, itemID string, quantity int, deltaTotal decimal.Decimal) (*Cart, error) {
	c, ok := f.byUser[userID]
	if !ok {
		return nil, ErrNotFound
	}
	it, ok := c.ItemByID(itemID)
	if !ok {
		return nil, ErrItemNotFound
	}
	it.Quantity = quantity
	c.TotalPrice = c.TotalPrice.Add(deltaTotal)
	c.TotalAfterDiscount = nil
	return f.snapshot(c), nil
}

func (f *fakeCartRepo) RemoveItem(_ context.Context, userID, itemID string) (*Cart, error) {
	c, ok := f.byUser[userID]
	if !ok {
		return nil, ErrNotFound
	}
	kept := c.Items[:0]
	for _, it := range c.Items {
		if it.ID != itemID {
			kept = append(kept, it)
		}
	}
	c.Items = kept
	c.TotalPrice = ItemsTotal(c.Items)
	c.TotalAfterDiscount = nil
	return f.snapshot(c), nil
}

func (f *fakeCartRepo) UpdatePrices(_ context.Context, userID string, changes []PriceChange) (*Cart, error) {
	c, ok := f.byUser[userID]
	if !ok {
		return nil, ErrNotFound
	}
	for _, ch := range changes {
		if it, ok := c.ItemByID(ch.ItemID); ok {
			it.Price = ch.NewPrice
		}
	}
	c.TotalPrice = ItemsTotal(c.Items)
	c.TotalAfterDiscount = nil
	return f.snapshot(c), nil
}

func (f *fakeCartRepo) ApplyDiscount(_ context.Context, userID string, discount decimal.Decimal) (*Cart, error) {
	c, ok := f.byUser[userID]
	if !ok {
		return nil, ErrNotFound
	}
	discounted := coupon.DiscountedTotal(c.TotalPrice, discount)
	c.TotalAfterDiscount = &discounted
	return f.snapshot(c), nil
}

func (f *fakeCartRepo) FindByUser(_ context.Context, userID string) (*Cart, []PopulatedItem, error) {
	c, ok := f.byUser[userID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return f.snapshot(c), f.populate(c), nil
}

func (f *fakeCartRepo) FindByID(_ context.Context, cartID string) (*Cart, []PopulatedItem, error) {
	for _, c := range f.byUser {
		if c.ID == cartID {
			return f.snapshot(c), f.populate(c), nil
		}
	}
	return nil, nil, ErrNotFound
}

func (f *fakeCartRepo) Delete(_ context.Context, userID string) error {
	delete(f.byUser, userID)
	return nil
}

var _ Repository = (*fakeCartRepo)(nil)

func (f *fakeCartRepo) populate(c *Cart) []PopulatedItem {
	populated := make([]PopulatedItem, len(c.Items))
	for i, it := range c.Items {
		populated[i] = PopulatedItem{Item: it, Product: f.catalog[it.ProductID]}
	}
	return populated
}

// fakeProductRepo serves the catalog shared with the cart repository.
type fakeProductRepo struct {
	catalog map[string]*product.Product
}

func (f fakeProductRepo) List(_ context.Context) ([]product.Product, error) { return nil, nil }

func (f fakeProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := f.catalog[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

type fakeCouponRepo struct {
	byName map[string]coupon.Coupon
}

func (f *fakeCouponRepo) FindActive(_ context.Context, name string) (*coupon.Coupon, error) {
	c, ok := f.byName[name]
	if !ok || c.Expired(time.Now()) {
		return nil, coupon.ErrInvalidOrExpired
	}
	return &c, nil
}

func (f *fakeCouponRepo) Upsert(_ context.Context, c *coupon.Coupon) error {
	f.byName[c.Name] = *c
	return nil
}

// --- Helpers ---

func newTestService(t *testing.T) (*Service, *fakeCartRepo) {
	t.Helper()

	catalog := map[string]*product.Product{
		"p1": {ID: "p1", Name: "Backpack", Price: d("100"), Quantity: 5},
		"p2": {ID: "p2", Name: "Scarf", Price: d("40"), Quantity: 10,
			Variants: []product.Variant{
				{ID: "v1", Color: "navy", Quantity: 3},
				{ID: "v2", Color: "red", Quantity: 0},
			}},
	}

	carts := newFakeCartRepo(catalog)
	coupons := &fakeCouponRepo{byName: map[string]coupon.Coupon{
		"SUMMER25": {Name: "SUMMER25", Discount: d("25"), ExpiresAt: time.Now().Add(time.Hour)},
		"BYGONE":   {Name: "BYGONE", Discount: d("50"), ExpiresAt: time.Now().Add(-time.Hour)},
	}}
	return NewService(carts, fakeProductRepo{catalog: catalog}, coupons), carts
}

// --- AddItem ---

func TestAddItem(t *testing.T) {
	ctx := context.Background()

	t.Run("creates cart and line", func(t *testing.T) {
		svc, _ := newTestService(t)

		c, err := svc.AddItem(ctx, "u1", "p1", "", 3)
		require.NoError(t, err)
		require.Len(t, c.Items, 1)
		assert.Equal(t, 3, c.Items[0].Quantity)
		assert.True(t, c.TotalPrice.Equal(d("300")), "got %s", c.TotalPrice)
	})

	t.Run("merges same product and color", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.AddItem(ctx, "u1", "p2", "navy", 1)
		require.NoError(t, err)
		c, err := svc.AddItem(ctx, "u1", "p2", "NAVY", 2)
		require.NoError(t, err)

		require.Len(t, c.Items, 1)
		assert.Equal(t, 3, c.Items[0].Quantity)
		assert.Equal(t, "navy", c.Items[0].Color)
		assert.True(t, c.TotalPrice.Equal(d("120")))
	})

	t.Run("different colors stay separate lines", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.AddItem(ctx, "u1", "p2", "navy", 1)
		require.NoError(t, err)
		c, err := svc.AddItem(ctx, "u1", "p2", "", 1)
		require.NoError(t, err)

		assert.Len(t, c.Items, 2)
	})

	t.Run("clears discounted total", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.AddItem(ctx, "u1", "p1", "", 1)
		require.NoError(t, err)
		c, err := svc.ApplyCoupon(ctx, "u1", "summer25")
		require.NoError(t, err)
		require.NotNil(t, c.TotalAfterDiscount)

		c, err = svc.AddItem(ctx, "u1", "p1", "", 1)
		require.NoError(t, err)
		assert.Nil(t, c.TotalAfterDiscount)
	})

	t.Run("rejects invalid quantity", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.AddItem(ctx, "u1", "p1", "", 0)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
		_, err = svc.AddItem(ctx, "u1", "p1", "", -2)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})

	t.Run("unknown product", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.AddItem(ctx, "u1", "nope", "", 1)
		assert.ErrorIs(t, err, product.ErrNotFound)
	})

	t.Run("unknown color", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.AddItem(ctx, "u1", "p2", "green", 1)
		assert.ErrorIs(t, err, product.ErrVariantNotFound)
	})

	t.Run("zero stock variant", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.AddItem(ctx, "u1", "p2", "red", 1)
		assert.ErrorIs(t, err, ErrOutOfStock)
	})

	t.Run("requesting more than available", func(t *testing.T) {
		svc, repo := newTestService(t)

		_, err := svc.AddItem(ctx, "u1", "p1", "", 10)
		var insufficient *InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, 5, insufficient.Available)
		assert.Equal(t, 10, insufficient.Requested)

		// Rejected before any write: no cart was created.
		_, _, err = repo.FindByUser(ctx, "u1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAddItemCompensation(t *testing.T) {
	ctx := context.Background()

	t.Run("merged quantity over stock is rolled back", func(t *testing.T) {
		svc, _ := newTestService(t)

		// 3 of 5 in the cart, then 3 more: each add passes the pre-check
		// but the merged line overshoots.
		before, err := svc.AddItem(ctx, "u1", "p1", "", 3)
		require.NoError(t, err)

		_, err = svc.AddItem(ctx, "u1", "p1", "", 3)
		var insufficient *InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, 5, insufficient.Available)
		assert.Equal(t, 6, insufficient.Requested)

		// Cart restored to its pre-add state.
		after, _, err := svc.carts.FindByUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, after.Items, 1)
		assert.Equal(t, 3, after.Items[0].Quantity)
		assert.True(t, after.TotalPrice.Equal(before.TotalPrice))
	})

	t.Run("rollback does not resurrect the discount", func(t *testing.T) {
		svc, repo := newTestService(t)

		_, err := svc.AddItem(ctx, "u1", "p1", "", 3)
		require.NoError(t, err)
		c, err := svc.ApplyCoupon(ctx, "u1", "SUMMER25")
		require.NoError(t, err)
		require.NotNil(t, c.TotalAfterDiscount)

		_, err = svc.AddItem(ctx, "u1", "p1", "", 3)
		var insufficient *InsufficientStockError
		require.ErrorAs(t, err, &insufficient)

		// Quantity and total roll back; the discounted total stays
		// cleared and the coupon must be re-applied.
		after, _, err := repo.FindByUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, after.Items, 1)
		assert.Equal(t, 3, after.Items[0].Quantity)
		assert.True(t, after.TotalPrice.Equal(c.TotalPrice))
		assert.Nil(t, after.TotalAfterDiscount)
	})

	t.Run("only the touched line is validated", func(t *testing.T) {
		svc, repo := newTestService(t)

		_, err := svc.AddItem(ctx, "u1", "p2", "navy", 3)
		require.NoError(t, err)

		// Stock for the navy scarf drops below the in-cart quantity.
		repo.catalog["p2"].Variants[0].Quantity = 1

		// Adding a different product still succeeds: the overfull line is
		// surfaced at read and checkout, not here.
		c, err := svc.AddItem(ctx, "u1", "p1", "", 2)
		require.NoError(t, err)
		assert.Len(t, c.Items, 2)

		stored, _, err := repo.FindByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, stored.Items, 2)
	})
}

// --- Get ---

func TestGet(t *testing.T) {
	ctx := context.Background()

	t.Run("clean cart", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.AddItem(ctx, "u1", "p1", "", 2)
		require.NoError(t, err)

		view, err := svc.Get(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, view.ProductChanged)
		assert.False(t, view.PriceChanged)
		assert.True(t, view.Cart.TotalPrice.Equal(d("200")))
		require.Len(t, view.Items, 1)
		assert.Equal(t, "Backpack", view.Items[0].ProductName)
	})

	t.Run("price drift is persisted", func(t *testing.T) {
		svc, repo := newTestService(t)
		_, err := svc.AddItem(ctx, "u1", "p1", "", 2)
		require.NoError(t, err)

		repo.catalog["p1"].Price = d("120")

		view, err := svc.Get(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, view.PriceChanged)
		assert.False(t, view.ProductChanged)
		assert.True(t, view.Cart.TotalPrice.Equal(d("240")), "got %s", view.Cart.TotalPrice)

		// The refresh is durable: a second read sees no drift.
		stored, _, err := repo.FindByUser(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, stored.Items[0].Price.Equal(d("120")))

		view, err = svc.Get(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, view.PriceChanged)
	})

	t.Run("price refresh clears discount", func(t *testing.T) {
		svc, repo := newTestService(t)
		_, err := svc.AddItem(ctx, "u1", "p1", "", 2)
		require.NoError(t, err)
		_, err = svc.ApplyCoupon(ctx, "u1", "SUMMER25")
		require.NoError(t, err)

		repo.catalog["p1"].Price = d("120")

		view, err := svc.Get(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, view.PriceChanged)
		assert.Nil(t, view.Cart.TotalAfterDiscount)
	})

	t.Run("availability drift wins over price drift", func(t *testing.T) {
		svc, repo := newTestService(t)
		_, err := svc.AddItem(ctx, "u1", "p1", "", 4)
		require.NoError(t, err)

		repo.catalog["p1"].Price = d("120")
		repo.catalog["p1"].Quantity = 2

		view, err := svc.Get(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, view.ProductChanged)
		assert.False(t, view.PriceChanged)
		require.Len(t, view.Items, 1)
		assert.True(t, view.Items[0].AvailabilityChanged)
		assert.Equal(t, 2, view.Items[0].AvailableQuantity)

		// Nothing was persisted: snapshot price and total are untouched.
		stored, _, err := repo.FindByUser(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, stored.Items[0].Price.Equal(d("100")))
		assert.True(t, stored.TotalPrice.Equal(d("400")))
	})

	t.Run("vanished product is annotated", func(t *testing.T) {
		svc, repo := newTestService(t)
		_, err := svc.AddItem(ctx, "u1", "p1", "", 1)
		require.NoError(t, err)

		delete(repo.catalog, "p1")

		view, err := svc.Get(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, view.ProductChanged)
		require.Len(t, view.Items, 1)
		assert.False(t, view.Items[0].Exists)
	})

	t.Run("no cart", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Get(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// --- RemoveItem / UpdateItemQuantity ---

func TestRemoveItem(t *testing.T) {
	ctx := context.Background()

	t.Run("removes line and recomputes total", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.AddItem(ctx, "u1", "p1", "", 2)
		require.NoError(t, err)
		c, err := svc.AddItem(ctx, "u1", "p2", "navy", 1)
		require.NoError(t, err)
		require.Len(t, c.Items, 2)

		updated, err := svc.RemoveItem(ctx, "u1", c.Items[1].ID)
		require.NoError(t, err)
		require.NotNil(t, updated)
		require.Len(t, updated.Items, 1)
		assert.True(t, updated.TotalPrice.Equal(d("200")))
	})

	t.Run("removing the last item deletes the cart", func(t *testing.T) {
		svc, repo := newTestService(t)
		c, err := svc.AddItem(ctx, "u1", "p1", "", 2)
		require.NoError(t, err)

		updated, err := svc.RemoveItem(ctx, "u1", c.Items[0].ID)
		require.NoError(t, err)
		assert.Nil(t, updated)

		_, _, err = repo.FindByUser(ctx, "u1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("clears discount", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.AddItem(ctx, "u1", "p1", "", 2)
		require.NoError(t, err)
		c, err := svc.AddItem(ctx, "u1", "p2", "navy", 1)
		require.NoError(t, err)
		_, err = svc.ApplyCoupon(ctx, "u1", "SUMMER25")
		require.NoError(t, err)

		updated, err := svc.RemoveItem(ctx, "u1", c.Items[1].ID)
		require.NoError(t, err)
		assert.Nil(t, updated.TotalAfterDiscount)
	})
}

func TestUpdateItemQuantity(t *testing.T) {
	ctx := context.Background()

	t.Run("sets quantity and adjusts total", func(t *testing.T) {
		svc, _ := newTestService(t)
		c, err := svc.AddItem(ctx, "u1", "p1", "", 2)
		require.NoError(t, err)

		updated, err := svc.UpdateItemQuantity(ctx, "u1", c.Items[0].ID, 5)
		require.NoError(t, err)
		assert.Equal(t, 5, updated.Items[0].Quantity)
		assert.True(t, updated.TotalPrice.Equal(d("500")))
	})

	t.Run("rejects over-stock quantity", func(t *testing.T) {
		svc, _ := newTestService(t)
		c, err := svc.AddItem(ctx, "u1", "p1", "", 2)
		require.NoError(t, err)

		_, err = svc.UpdateItemQuantity(ctx, "u1", c.Items[0].ID, 6)
		var insufficient *InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, 5, insufficient.Available)
	})

	t.Run("unknown item", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.AddItem(ctx, "u1", "p1", "", 2)
		require.NoError(t, err)

		_, err = svc.UpdateItemQuantity(ctx, "u1", "missing", 1)
		assert.ErrorIs(t, err, ErrItemNotFound)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.UpdateItemQuantity(ctx, "u1", "i1", 0)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})
}

// --- ApplyCoupon ---

func TestApplyCoupon(t *testing.T) {
	ctx := context.Background()

	t.Run("applies percentage discount", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.AddItem(ctx, "u1", "p1", "", 2)
		require.NoError(t, err)

		c, err := svc.ApplyCoupon(ctx, "u1", " summer25 ")
		require.NoError(t, err)
		require.NotNil(t, c.TotalAfterDiscount)
		assert.True(t, c.TotalAfterDiscount.Equal(d("150")), "got %s", c.TotalAfterDiscount)
		assert.True(t, c.TotalPrice.Equal(d("200")))
	})

	t.Run("unknown coupon", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.AddItem(ctx, "u1", "p1", "", 1)
		require.NoError(t, err)

		_, err = svc.ApplyCoupon(ctx, "u1", "NOPE")
		assert.ErrorIs(t, err, coupon.ErrInvalidOrExpired)
	})

	t.Run("expired coupon", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.AddItem(ctx, "u1", "p1", "", 1)
		require.NoError(t, err)

		_, err = svc.ApplyCoupon(ctx, "u1", "BYGONE")
		assert.ErrorIs(t, err, coupon.ErrInvalidOrExpired)
	})

	t.Run("no cart", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.ApplyCoupon(ctx, "nobody", "SUMMER25")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
