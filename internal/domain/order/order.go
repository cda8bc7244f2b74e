package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrInsufficientStock aborts a checkout whose conditional stock
	// decrement found less stock than the order requires.
	ErrInsufficientStock = errors.New("insufficient stock for order item")
	// ErrNotCashOrder is returned when cancelling a non-cash order.
	ErrNotCashOrder = errors.New("order is not a cash order")
	// ErrAlreadyPaid is returned when cancelling a paid order.
	ErrAlreadyPaid = errors.New("order is already paid")
)

// CheckoutFailedError wraps a failed checkout transaction. The underlying
// transaction is guaranteed to have been rolled back before this error
// surfaces.
type CheckoutFailedError struct {
	Err error
}

func (e *CheckoutFailedError) Error() string {
	return "checkout failed: " + e.Err.Error()
}

func (e *CheckoutFailedError) Unwrap() error {
	return e.Err
}

// PaymentMethod is how an order was (or will be) paid.
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

// Address is the shipping destination for an order.
type Address struct {
	Alias      string `json:"alias,omitempty"`
	Details    string `json:"details,omitempty"`
	Phone      string `json:"phone,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

// OrderItem is an immutable snapshot of a cart line at order-creation
// time; it never changes even if the source product later does.
type OrderItem struct {
	ProductID  string          `json:"productId"`
	Name       string          `json:"name"`
	ImageCover string          `json:"imageCover,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	Color      string          `json:"color,omitempty"`
}

// Order is a placed customer order.
type Order struct {
	ID              string
	UserID          string
	Items           []OrderItem
	ShippingAddress Address
	TotalPrice      decimal.Decimal
	PaymentMethod   PaymentMethod
	Paid            bool
	PaidAt          *time.Time
	Delivered       bool
	DeliveredAt     *time.Time
	CreatedAt       time.Time
}

// Repository defines persistence operations for orders outside the
// checkout unit.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// UpdateStatus sets the paid/delivered flags (with timestamps) that
	// are true; false values leave the stored flags untouched.
	UpdateStatus(ctx context.Context, id string, paid, delivered bool) (*Order, error)
	Delete(ctx context.Context, id string) error
}

// CheckoutStore executes the all-or-nothing checkout unit: create the
// order, decrement stock (variant stock for colored items) and increment
// sold counters for every order item, and delete the cart. Any failure
// rolls the whole unit back; implementations may retry transparently on
// transient store contention.
type CheckoutStore interface {
	Checkout(ctx context.Context, o *Order, cartID string) error
}
