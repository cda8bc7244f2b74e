package api

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/veskor/bazaar/internal/domain/cart"
	"github.com/veskor/bazaar/internal/domain/coupon"
	"github.com/veskor/bazaar/internal/domain/order"
	"github.com/veskor/bazaar/internal/domain/product"
)

// respondError maps domain errors to HTTP statuses. Unknown errors are
// logged with the request context and hidden behind a generic 500.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *cart.InsufficientStockError
	if errors.As(err, &insufficient) {
		writeError(w, http.StatusBadRequest, insufficient.Error())
		return
	}

	var checkoutFailed *order.CheckoutFailedError
	if errors.As(err, &checkoutFailed) {
		if errors.Is(err, order.ErrInsufficientStock) {
			writeError(w, http.StatusConflict, "not enough stock to fulfil the order")
			return
		}
		zctx.From(r.Context()).Error("Checkout failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "checkout failed")
		return
	}

	switch {
	case errors.Is(err, product.ErrNotFound),
		errors.Is(err, cart.ErrNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, product.ErrVariantNotFound),
		errors.Is(err, cart.ErrOutOfStock),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, coupon.ErrInvalidOrExpired),
		errors.Is(err, order.ErrNotCashOrder),
		errors.Is(err, order.ErrAlreadyPaid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
