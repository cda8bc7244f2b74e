package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/veskor/bazaar/internal/domain/order"
)

type placeOrderRequest struct {
	ShippingAddress order.Address `json:"shippingAddress"`
}

func (s *Server) handlePlaceCashOrder(w http.ResponseWriter, r *http.Request, userID string) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.orders.PlaceCashOrder(r.Context(), userID, req.ShippingAddress)
	if err != nil {
		respondError(w, r, err)
		return
	}

	// A stale cart is not an error: the annotated cart goes back so the
	// client can re-confirm with the user. No order was created.
	if result.StaleCart != nil {
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
			s.encodeView(e, result.StaleCart)
		})
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("status")
		e.Str("ok")
		e.FieldStart("order")
		s.encodeOrder(e, result.Order)
		e.ObjEnd()
	})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request, userID string) {
	orders, err := s.orders.ListByUser(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("results")
		e.Int(len(orders))
		e.FieldStart("orders")
		e.ArrStart()
		for i := range orders {
			s.encodeOrder(e, &orders[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, userID string) {
	o, err := s.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if o.UserID != userID && r.Header.Get("X-User-Role") != "admin" {
		writeError(w, http.StatusNotFound, order.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		s.encodeOrder(e, o)
	})
}

type updateStatusRequest struct {
	Paid      bool `json:"paid"`
	Delivered bool `json:"delivered"`
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request, _ string) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := s.orders.UpdateStatus(r.Context(), r.PathValue("id"), req.Paid, req.Delivered)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		s.encodeOrder(e, o)
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request, userID string) {
	id := r.PathValue("id")
	o, err := s.orders.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if o.UserID != userID {
		writeError(w, http.StatusNotFound, order.ErrNotFound.Error())
		return
	}
	if err := s.orders.CancelCashOrder(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkoutCompletedRequest is the payload forwarded by the payment
// gateway webhook after the signature was verified upstream.
type checkoutCompletedRequest struct {
	CartID          string        `json:"cartId"`
	UserID          string        `json:"userId"`
	ShippingAddress order.Address `json:"shippingAddress"`
	AmountTotal     float64       `json:"amountTotal"`
}

func (s *Server) handleCheckoutCompleted(w http.ResponseWriter, r *http.Request) {
	var req checkoutCompletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CartID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "cartId and userId are required")
		return
	}

	o, err := s.orders.PlaceCardOrder(r.Context(), order.CheckoutSession{
		CartID:          req.CartID,
		UserID:          req.UserID,
		ShippingAddress: req.ShippingAddress,
		AmountTotal:     decimal.NewFromFloat(req.AmountTotal),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		s.encodeOrder(e, o)
	})
}
