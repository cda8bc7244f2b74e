package order

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/veskor/bazaar/internal/domain/cart"
)

// Tax and shipping are flat for now; they participate in the total so the
// breakdown is explicit at the one place it is computed.
var (
	taxPrice      = decimal.Zero
	shippingPrice = decimal.Zero
)

// CartProvider yields cart views for checkout. Implemented by the cart
// service: Get runs full reconciliation, GetByCartID only populates.
type CartProvider interface {
	Get(ctx context.Context, userID string) (*cart.View, error)
	GetByCartID(ctx context.Context, cartID string) (*cart.View, error)
}

// EventPublisher announces placed orders to downstream consumers (mailers,
// analytics). Publishing is best effort and never fails an order.
type EventPublisher interface {
	OrderPlaced(ctx context.Context, o *Order) error
}

// PlaceOrderResult is the outcome of an order placement attempt. Exactly
// one of Order and StaleCart is set: StaleCart carries the annotated cart
// when availability or price drift blocked the order. A stale cart is a
// successful response, not an error; the caller should re-confirm with
// the user.
type PlaceOrderResult struct {
	Order     *Order
	StaleCart *cart.View
}

// CheckoutSession is the completed payment session handed over by the
// payment gateway callback. The gateway signature has been verified
// upstream; the total is the amount actually captured.
type CheckoutSession struct {
	CartID          string
	UserID          string
	ShippingAddress Address
	AmountTotal     decimal.Decimal
}

// Service is the checkout orchestrator.
type Service struct {
	carts  CartProvider
	store  CheckoutStore
	orders Repository
	events EventPublisher
}

// NewService creates an order Service. events may be nil when no publisher
// is configured.
func NewService(carts CartProvider, store CheckoutStore, orders Repository, events EventPublisher) *Service {
	return &Service{
		carts:  carts,
		store:  store,
		orders: orders,
		events: events,
	}
}

// PlaceCashOrder creates a cash-on-delivery order from the user's
// reconciled cart. Any availability or price drift aborts placement and is
// returned as a StaleCart result; no partial order is ever created from a
// stale cart.
func (s *Service) PlaceCashOrder(ctx context.Context, userID string, addr Address) (*PlaceOrderResult, error) {
	view, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if view.ProductChanged || view.PriceChanged {
		return &PlaceOrderResult{StaleCart: view}, nil
	}

	o := &Order{
		ID:              uuid.New().String(),
		UserID:          userID,
		Items:           snapshotItems(view),
		ShippingAddress: addr,
		TotalPrice:      cartTotal(view).Add(taxPrice).Add(shippingPrice),
		PaymentMethod:   PaymentCash,
		CreatedAt:       time.Now(),
	}

	if err := s.store.Checkout(ctx, o, view.Cart.ID); err != nil {
		return nil, &CheckoutFailedError{Err: err}
	}

	s.publish(ctx, o)
	return &PlaceOrderResult{Order: o}, nil
}

// PlaceCardOrder creates an order for an already-captured card payment.
// The cart is addressed through the session reference and the order is
// pre-marked paid. Failures are logged and surfaced once; the originating
// payment event is not re-emitted by this service, so there is no retry
// loop here.
func (s *Service) PlaceCardOrder(ctx context.Context, session CheckoutSession) (*Order, error) {
	view, err := s.carts.GetByCartID(ctx, session.CartID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	o := &Order{
		ID:              uuid.New().String(),
		UserID:          session.UserID,
		Items:           snapshotItems(view),
		ShippingAddress: session.ShippingAddress,
		TotalPrice:      session.AmountTotal,
		PaymentMethod:   PaymentCard,
		Paid:            true,
		PaidAt:          &now,
		CreatedAt:       now,
	}

	if err := s.store.Checkout(ctx, o, view.Cart.ID); err != nil {
		zctx.From(ctx).Error("Card order checkout failed",
			zap.String("cart_id", session.CartID),
			zap.String("user_id", session.UserID),
			zap.Error(err),
		)
		return nil, &CheckoutFailedError{Err: err}
	}

	s.publish(ctx, o)
	return o, nil
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

// ListByUser returns all orders placed by a user, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// UpdateStatus marks an order paid and/or delivered, stamping the
// corresponding timestamps.
func (s *Service) UpdateStatus(ctx context.Context, id string, paid, delivered bool) (*Order, error) {
	return s.orders.UpdateStatus(ctx, id, paid, delivered)
}

// CancelCashOrder deletes an unpaid cash order. Paid or card orders cannot
// be cancelled through this path.
func (s *Service) CancelCashOrder(ctx context.Context, id string) error {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if o.PaymentMethod != PaymentCash {
		return ErrNotCashOrder
	}
	if o.Paid {
		return ErrAlreadyPaid
	}
	return s.orders.Delete(ctx, id)
}

func (s *Service) publish(ctx context.Context, o *Order) {
	if s.events == nil {
		return
	}
	if err := s.events.OrderPlaced(ctx, o); err != nil {
		zctx.From(ctx).Warn("Publish order event failed",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

// snapshotItems copies the reconciled cart lines into immutable order
// items. Live product data is preferred; for items whose product vanished
// between reconciliation and snapshotting the cart snapshot is kept.
func snapshotItems(view *cart.View) []OrderItem {
	items := make([]OrderItem, len(view.Items))
	for i, iv := range view.Items {
		name, price, image := iv.ProductName, iv.LivePrice, iv.ImageCover
		if !iv.Exists {
			name, price = "", iv.Price
		}
		items[i] = OrderItem{
			ProductID:  iv.ProductID,
			Name:       name,
			ImageCover: image,
			Price:      price,
			Quantity:   iv.Quantity,
			Color:      iv.Color,
		}
	}
	return items
}

func cartTotal(view *cart.View) decimal.Decimal {
	if view.Cart.TotalAfterDiscount != nil {
		return *view.Cart.TotalAfterDiscount
	}
	return view.Cart.TotalPrice
}
