package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veskor/bazaar/internal/domain/product"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestItemsTotal(t *testing.T) {
	items := []Item{
		{ID: "i1", Price: d("100"), Quantity: 3},
		{ID: "i2", Price: d("49.99"), Quantity: 2},
	}
	assert.True(t, ItemsTotal(items).Equal(d("399.98")))
	assert.True(t, ItemsTotal(nil).IsZero())
}

func TestDetectAvailability(t *testing.T) {
	c := Cart{
		ID: "c1",
		Items: []Item{
			{ID: "i1", ProductID: "p1", Quantity: 3, Price: d("100")},
			{ID: "i2", ProductID: "p2", Quantity: 2, Price: d("50")},
			{ID: "i3", ProductID: "p3", Color: "black", Quantity: 1, Price: d("80")},
		},
	}

	t.Run("all fulfillable", func(t *testing.T) {
		populated := []PopulatedItem{
			{Item: c.Items[0], Product: &product.Product{ID: "p1", Name: "A", Price: d("100"), Quantity: 5}},
			{Item: c.Items[1], Product: &product.Product{ID: "p2", Name: "B", Price: d("50"), Quantity: 2}},
			{Item: c.Items[2], Product: &product.Product{ID: "p3", Name: "C", Price: d("80"),
				Variants: []product.Variant{{Color: "black", Quantity: 4}}}},
		}

		v := DetectAvailability(c, populated)
		assert.False(t, v.ProductChanged)
		for _, iv := range v.Items {
			assert.True(t, iv.Exists)
			assert.False(t, iv.AvailabilityChanged)
		}
	})

	t.Run("product vanished", func(t *testing.T) {
		populated := []PopulatedItem{
			{Item: c.Items[0], Product: nil},
			{Item: c.Items[1], Product: &product.Product{ID: "p2", Price: d("50"), Quantity: 2}},
		}

		v := DetectAvailability(Cart{Items: c.Items[:2]}, populated)
		require.True(t, v.ProductChanged)
		assert.False(t, v.Items[0].Exists)
		assert.True(t, v.Items[0].AvailabilityChanged)
		assert.True(t, v.Items[1].Exists)
		assert.False(t, v.Items[1].AvailabilityChanged)
	})

	t.Run("stock dropped below cart quantity", func(t *testing.T) {
		populated := []PopulatedItem{
			{Item: c.Items[0], Product: &product.Product{ID: "p1", Price: d("100"), Quantity: 1}},
		}

		v := DetectAvailability(Cart{Items: c.Items[:1]}, populated)
		require.True(t, v.ProductChanged)
		assert.True(t, v.Items[0].Exists)
		assert.True(t, v.Items[0].AvailabilityChanged)
		assert.Equal(t, 1, v.Items[0].AvailableQuantity)
	})

	t.Run("variant vanished", func(t *testing.T) {
		populated := []PopulatedItem{
			{Item: c.Items[2], Product: &product.Product{ID: "p3", Price: d("80"),
				Variants: []product.Variant{{Color: "brown", Quantity: 10}}}},
		}

		v := DetectAvailability(Cart{Items: c.Items[2:]}, populated)
		require.True(t, v.ProductChanged)
		assert.False(t, v.Items[0].Exists)
		assert.True(t, v.Items[0].AvailabilityChanged)
	})
}

func TestReconcilePrices(t *testing.T) {
	c := Cart{
		TotalPrice: d("400"),
		Items: []Item{
			{ID: "i1", ProductID: "p1", Quantity: 3, Price: d("100")},
			{ID: "i2", ProductID: "p2", Quantity: 2, Price: d("50")},
		},
	}

	t.Run("no drift", func(t *testing.T) {
		populated := []PopulatedItem{
			{Item: c.Items[0], Product: &product.Product{ID: "p1", Price: d("100")}},
			{Item: c.Items[1], Product: &product.Product{ID: "p2", Price: d("50")}},
		}

		changes, total, changed := ReconcilePrices(c, populated)
		assert.False(t, changed)
		assert.Empty(t, changes)
		assert.True(t, total.Equal(d("400")))
	})

	t.Run("price raised", func(t *testing.T) {
		populated := []PopulatedItem{
			{Item: c.Items[0], Product: &product.Product{ID: "p1", Price: d("120")}},
			{Item: c.Items[1], Product: &product.Product{ID: "p2", Price: d("50")}},
		}

		changes, total, changed := ReconcilePrices(c, populated)
		require.True(t, changed)
		require.Len(t, changes, 1)
		assert.Equal(t, "i1", changes[0].ItemID)
		assert.True(t, changes[0].NewPrice.Equal(d("120")))
		// 400 - 3×100 + 3×120
		assert.True(t, total.Equal(d("460")), "got %s", total)
	})

	t.Run("missing product skipped", func(t *testing.T) {
		populated := []PopulatedItem{
			{Item: c.Items[0], Product: nil},
			{Item: c.Items[1], Product: &product.Product{ID: "p2", Price: d("40")}},
		}

		changes, total, changed := ReconcilePrices(c, populated)
		require.True(t, changed)
		require.Len(t, changes, 1)
		assert.Equal(t, "i2", changes[0].ItemID)
		// 400 - 2×50 + 2×40
		assert.True(t, total.Equal(d("380")), "got %s", total)
	})
}

func TestItemByID(t *testing.T) {
	c := Cart{Items: []Item{{ID: "i1"}, {ID: "i2"}}}

	it, ok := c.ItemByID("i2")
	require.True(t, ok)
	assert.Equal(t, "i2", it.ID)

	_, ok = c.ItemByID("i3")
	assert.False(t, ok)
}
