package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/jx"
)

type addItemRequest struct {
	ProductID string `json:"productId"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request, userID string) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	c, err := s.carts.AddItem(r.Context(), userID, req.ProductID, req.Color, req.Quantity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeCart(e, c)
	})
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := s.carts.Get(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		s.encodeView(e, view)
	})
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.carts.Clear(r.Context(), userID); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request, userID string) {
	c, err := s.carts.RemoveItem(r.Context(), userID, r.PathValue("itemID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if c == nil {
		// Removing the last item deletes the cart itself.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeCart(e, c)
	})
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Server) handleUpdateItemQuantity(w http.ResponseWriter, r *http.Request, userID string) {
	var req updateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := s.carts.UpdateItemQuantity(r.Context(), userID, r.PathValue("itemID"), req.Quantity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeCart(e, c)
	})
}

type applyCouponRequest struct {
	Coupon string `json:"coupon"`
}

func (s *Server) handleApplyCoupon(w http.ResponseWriter, r *http.Request, userID string) {
	var req applyCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := s.carts.ApplyCoupon(r.Context(), userID, req.Coupon)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeCart(e, c)
	})
}
