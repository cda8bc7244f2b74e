package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/veskor/bazaar/internal/domain/cart"
)

const (
	selectCartByUserSQL = `SELECT id, user_id, total_price, total_after_discount, created_at, updated_at
		FROM carts WHERE user_id = $1`

	selectCartByIDSQL = `SELECT id, user_id, total_price, total_after_discount, created_at, updated_at
		FROM carts WHERE id = $1`

	lockCartByUserSQL = `SELECT id FROM carts WHERE user_id = $1 FOR UPDATE`

	selectItemsSQL = `SELECT id, product_id, color, quantity, price
		FROM cart_items WHERE cart_id = $1 ORDER BY id`

	// The DO UPDATE arm makes the upsert take the row lock and return the
	// id even when the cart already exists, serializing concurrent
	// mutations of the same cart for the rest of the transaction.
	upsertCartSQL = `INSERT INTO carts (id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
		RETURNING id`

	mergeItemSQL = `INSERT INTO cart_items (id, cart_id, product_id, color, quantity, price)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cart_id, product_id, color)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		RETURNING id, quantity`

	addToTotalSQL = `UPDATE carts SET total_price = total_price + $2,
		total_after_discount = NULL, updated_at = now()
		WHERE id = $1`

	adjustItemSQL = `UPDATE cart_items SET quantity = quantity + $3
		WHERE cart_id = $1 AND id = $2`

	setItemQuantitySQL = `UPDATE cart_items SET quantity = $3
		WHERE cart_id = $1 AND id = $2`

	deleteItemSQL = `DELETE FROM cart_items WHERE cart_id = $1 AND id = $2`

	setItemPriceSQL = `UPDATE cart_items SET price = $3
		WHERE cart_id = $1 AND id = $2`

	recomputeTotalSQL = `UPDATE carts c SET
		total_price = COALESCE(
			(SELECT sum(price * quantity) FROM cart_items WHERE cart_id = c.id), 0),
		total_after_discount = NULL,
		updated_at = now()
		WHERE c.id = $1`

	applyDiscountSQL = `UPDATE carts SET
		total_after_discount = round(total_price * (1 - $2 / 100.0), 2),
		updated_at = now()
		WHERE user_id = $1
		RETURNING id`

	deleteCartByUserSQL = `DELETE FROM carts WHERE user_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Every
// mutating method runs in one transaction that first locks the cart row,
// which is what makes the merge/recompute writes atomic with respect to
// concurrent requests for the same cart.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// UpsertItem merges the item into the user's cart (creating the cart when
// absent), bumps the total by the item subtotal, and clears any discounted
// total, all inside one transaction holding the cart row lock.
func (r *CartRepository) UpsertItem(ctx context.Context, userID string, it cart.Item) (*cart.Cart, *cart.Item, error) {
	var (
		updated *cart.Cart
		merged  cart.Item
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var cartID string
		if err := tx.QueryRow(ctx, upsertCartSQL, uuid.New().String(), userID).Scan(&cartID); err != nil {
			return fmt.Errorf("upserting cart: %w", err)
		}

		merged = it
		err := tx.QueryRow(ctx, mergeItemSQL,
			it.ID, cartID, it.ProductID, it.Color, it.Quantity, it.Price,
		).Scan(&merged.ID, &merged.Quantity)
		if err != nil {
			return fmt.Errorf("merging cart item: %w", err)
		}

		if _, err := tx.Exec(ctx, addToTotalSQL, cartID, it.Subtotal()); err != nil {
			return fmt.Errorf("adding to cart total: %w", err)
		}

		c, err := loadCart(ctx, tx, cartID)
		if err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, &merged, nil
}

// AdjustItem applies a quantity delta to one item and a total delta to the
// cart. The discounted total is left untouched: this is the compensating
// path, which must restore the exact pre-add state.
func (r *CartRepository) AdjustItem(ctx context.Context, userID, itemID string, deltaQty int, deltaTotal decimal.Decimal) (*cart.Cart, error) {
	return r.mutate(ctx, userID, func(tx pgx.Tx, cartID string) error {
		tag, err := tx.Exec(ctx, adjustItemSQL, cartID, itemID, deltaQty)
		if err != nil {
			return fmt.Errorf("adjusting cart item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return cart.ErrItemNotFound
		}
		_, err = tx.Exec(ctx,
			`UPDATE carts SET total_price = total_price + $2, updated_at = now() WHERE id = $1`,
			cartID, deltaTotal,
		)
		if err != nil {
			return fmt.Errorf("adjusting cart total: %w", err)
		}
		return nil
	})
}

// SetItemQuantity sets an item's quantity and shifts the total by
// deltaTotal, clearing any discounted total.
func (r *CartRepository) SetItemQuantity(ctx context.Context, userID, itemID string, quantity int, deltaTotal decimal.Decimal) (*cart.Cart, error) {
	return r.mutate(ctx, userID, func(tx pgx.Tx, cartID string) error {
		tag, err := tx.Exec(ctx, setItemQuantitySQL, cartID, itemID, quantity)
		if err != nil {
			return fmt.Errorf("setting cart item quantity: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return cart.ErrItemNotFound
		}
		if _, err := tx.Exec(ctx, addToTotalSQL, cartID, deltaTotal); err != nil {
			return fmt.Errorf("adjusting cart total: %w", err)
		}
		return nil
	})
}

// RemoveItem deletes the item and recomputes the total over the remaining
// items in the same transaction. A missing item id is not an error; the
// recompute then leaves the cart unchanged.
func (r *CartRepository) RemoveItem(ctx context.Context, userID, itemID string) (*cart.Cart, error) {
	return r.mutate(ctx, userID, func(tx pgx.Tx, cartID string) error {
		if _, err := tx.Exec(ctx, deleteItemSQL, cartID, itemID); err != nil {
			return fmt.Errorf("deleting cart item: %w", err)
		}
		if _, err := tx.Exec(ctx, recomputeTotalSQL, cartID); err != nil {
			return fmt.Errorf("recomputing cart total: %w", err)
		}
		return nil
	})
}

// UpdatePrices refreshes item snapshot prices and recomputes the total.
func (r *CartRepository) UpdatePrices(ctx context.Context, userID string, changes []cart.PriceChange) (*cart.Cart, error) {
	return r.mutate(ctx, userID, func(tx pgx.Tx, cartID string) error {
		for _, ch := range changes {
			if _, err := tx.Exec(ctx, setItemPriceSQL, cartID, ch.ItemID, ch.NewPrice); err != nil {
				return fmt.Errorf("updating price of item %q: %w", ch.ItemID, err)
			}
		}
		if _, err := tx.Exec(ctx, recomputeTotalSQL, cartID); err != nil {
			return fmt.Errorf("recomputing cart total: %w", err)
		}
		return nil
	})
}

// ApplyDiscount computes the discounted total from the stored total inside
// the UPDATE itself, so it is always consistent with the latest total.
func (r *CartRepository) ApplyDiscount(ctx context.Context, userID string, discount decimal.Decimal) (*cart.Cart, error) {
	var cartID string
	err := r.pool.QueryRow(ctx, applyDiscountSQL, userID, discount).Scan(&cartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("applying discount: %w", err)
	}
	return loadCart(ctx, r.pool, cartID)
}

// FindByUser returns the cart and its items populated with live product
// data fetched in the same call.
func (r *CartRepository) FindByUser(ctx context.Context, userID string) (*cart.Cart, []cart.PopulatedItem, error) {
	return r.find(ctx, selectCartByUserSQL, userID)
}

// FindByID is FindByUser keyed by cart id.
func (r *CartRepository) FindByID(ctx context.Context, cartID string) (*cart.Cart, []cart.PopulatedItem, error) {
	return r.find(ctx, selectCartByIDSQL, cartID)
}

// Delete drops the user's cart; items go with it via ON DELETE CASCADE.
func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, deleteCartByUserSQL, userID); err != nil {
		return fmt.Errorf("deleting cart: %w", err)
	}
	return nil
}

// mutate runs fn inside a transaction that holds the user's cart row lock
// and returns the reloaded cart. cart.ErrNotFound when the user has no
// cart.
func (r *CartRepository) mutate(ctx context.Context, userID string, fn func(tx pgx.Tx, cartID string) error) (*cart.Cart, error) {
	var updated *cart.Cart
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var cartID string
		if err := tx.QueryRow(ctx, lockCartByUserSQL, userID).Scan(&cartID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return cart.ErrNotFound
			}
			return fmt.Errorf("locking cart: %w", err)
		}

		if err := fn(tx, cartID); err != nil {
			return err
		}

		c, err := loadCart(ctx, tx, cartID)
		if err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *CartRepository) find(ctx context.Context, query, key string) (*cart.Cart, []cart.PopulatedItem, error) {
	c, err := scanCartRow(r.pool.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, cart.ErrNotFound
		}
		return nil, nil, fmt.Errorf("finding cart: %w", err)
	}

	items, err := loadItems(ctx, r.pool, c.ID)
	if err != nil {
		return nil, nil, err
	}
	c.Items = items

	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}

	products, err := loadProductsByIDs(ctx, r.pool, ids)
	if err != nil {
		return nil, nil, err
	}

	populated := make([]cart.PopulatedItem, len(items))
	for i, it := range items {
		populated[i] = cart.PopulatedItem{Item: it, Product: products[it.ProductID]}
	}
	return c, populated, nil
}

func loadCart(ctx context.Context, q querier, cartID string) (*cart.Cart, error) {
	c, err := scanCartRow(q.QueryRow(ctx, selectCartByIDSQL, cartID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("loading cart %q: %w", cartID, err)
	}
	items, err := loadItems(ctx, q, cartID)
	if err != nil {
		return nil, err
	}
	c.Items = items
	return c, nil
}

func scanCartRow(row pgx.Row) (*cart.Cart, error) {
	var (
		c        cart.Cart
		discount decimal.NullDecimal
	)
	err := row.Scan(&c.ID, &c.UserID, &c.TotalPrice, &discount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if discount.Valid {
		c.TotalAfterDiscount = &discount.Decimal
	}
	return &c, nil
}

func loadItems(ctx context.Context, q querier, cartID string) ([]cart.Item, error) {
	rows, err := q.Query(ctx, selectItemsSQL, cartID)
	if err != nil {
		return nil, fmt.Errorf("loading cart items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var it cart.Item
		err := row.Scan(&it.ID, &it.ProductID, &it.Color, &it.Quantity, &it.Price)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning cart items: %w", err)
	}
	return items, nil
}
