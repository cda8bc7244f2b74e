package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veskor/bazaar/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders
		(id, user_id, items, shipping_address, total_price, payment_method, paid, paid_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	selectOrderSQL = `SELECT id, user_id, items, shipping_address, total_price,
		payment_method, paid, paid_at, delivered, delivered_at, created_at
		FROM orders WHERE id = $1`

	selectOrdersByUserSQL = `SELECT id, user_id, items, shipping_address, total_price,
		payment_method, paid, paid_at, delivered, delivered_at, created_at
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	updateOrderStatusSQL = `UPDATE orders SET
		paid = paid OR $2,
		paid_at = CASE WHEN NOT paid AND $2 THEN now() ELSE paid_at END,
		delivered = delivered OR $3,
		delivered_at = CASE WHEN NOT delivered AND $3 THEN now() ELSE delivered_at END
		WHERE id = $1`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	// Conditional decrements: zero rows affected means the stock dropped
	// below the ordered quantity and the whole checkout must abort.
	decrementStockSQL = `UPDATE products
		SET quantity = quantity - $2, sold = sold + $2, updated_at = now()
		WHERE id = $1 AND quantity >= $2`

	decrementVariantStockSQL = `UPDATE product_variants
		SET quantity = quantity - $3
		WHERE product_id = $1 AND lower(color) = lower($2) AND quantity >= $3`

	incrementSoldSQL = `UPDATE products
		SET sold = sold + $2, updated_at = now()
		WHERE id = $1`

	deleteCartByIDSQL = `DELETE FROM carts WHERE id = $1`
)

// checkoutAttempts bounds transparent retries on transient transaction
// conflicts.
const checkoutAttempts = 3

var (
	_ order.Repository    = (*OrderRepository)(nil)
	_ order.CheckoutStore = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository and order.CheckoutStore
// backed by PostgreSQL. Order items and the shipping address are stored as
// JSONB snapshots; they are historical records and never join back to the
// catalog.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Checkout runs the all-or-nothing checkout unit: insert the order,
// conditionally decrement stock per item, delete the cart. Serialization
// failures and deadlocks are retried a bounded number of times; every
// other failure aborts the transaction and surfaces once.
func (r *OrderRepository) Checkout(ctx context.Context, o *order.Order, cartID string) error {
	var err error
	for attempt := 1; attempt <= checkoutAttempts; attempt++ {
		err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			return r.checkoutTx(ctx, tx, o, cartID)
		})
		if err == nil || !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

func (r *OrderRepository) checkoutTx(ctx context.Context, tx pgx.Tx, o *order.Order, cartID string) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addrJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}

	if _, err := tx.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, itemsJSON, addrJSON, o.TotalPrice,
		string(o.PaymentMethod), o.Paid, o.PaidAt, o.CreatedAt,
	); err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	for _, it := range o.Items {
		if err := decrementStock(ctx, tx, it); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, deleteCartByIDSQL, cartID); err != nil {
		return fmt.Errorf("deleting cart %q: %w", cartID, err)
	}
	return nil
}

func decrementStock(ctx context.Context, tx pgx.Tx, it order.OrderItem) error {
	if it.Color != "" {
		tag, err := tx.Exec(ctx, decrementVariantStockSQL, it.ProductID, it.Color, it.Quantity)
		if err != nil {
			return fmt.Errorf("decrementing variant stock of %q: %w", it.ProductID, err)
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(order.ErrInsufficientStock, "product %q color %q", it.ProductID, it.Color)
		}
		if _, err := tx.Exec(ctx, incrementSoldSQL, it.ProductID, it.Quantity); err != nil {
			return fmt.Errorf("incrementing sold of %q: %w", it.ProductID, err)
		}
		return nil
	}

	tag, err := tx.Exec(ctx, decrementStockSQL, it.ProductID, it.Quantity)
	if err != nil {
		return fmt.Errorf("decrementing stock of %q: %w", it.ProductID, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(order.ErrInsufficientStock, "product %q", it.ProductID)
	}
	return nil
}

// GetByID returns a single order.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, selectOrderSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return o, nil
}

// ListByUser returns a user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, selectOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var orders []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// UpdateStatus sets paid/delivered flags that are true, stamping their
// timestamps on the first transition only.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, paid, delivered bool) (*order.Order, error) {
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL, id, paid, delivered)
	if err != nil {
		return nil, fmt.Errorf("updating order status %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, order.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// Delete removes an order.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o             order.Order
		itemsJSON     []byte
		addrJSON      []byte
		paymentMethod string
		paidAt        *time.Time
		deliveredAt   *time.Time
	)
	err := row.Scan(
		&o.ID, &o.UserID, &itemsJSON, &addrJSON, &o.TotalPrice,
		&paymentMethod, &o.Paid, &paidAt, &o.Delivered, &deliveredAt, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(addrJSON, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshaling shipping address: %w", err)
	}
	o.PaymentMethod = order.PaymentMethod(paymentMethod)
	o.PaidAt = paidAt
	o.DeliveredAt = deliveredAt
	return &o, nil
}
