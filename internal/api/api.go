// Package api exposes the storefront over HTTP/JSON. Routing uses
// net/http method patterns; responses are streamed with go-faster/jx.
//
// Authentication happens upstream: the gateway verifies the session and
// forwards the caller's identity in X-User-ID (and X-User-Role for staff).
package api

import (
	"net/http"

	"github.com/veskor/bazaar/internal/domain/cart"
	"github.com/veskor/bazaar/internal/domain/order"
	"github.com/veskor/bazaar/internal/domain/product"
)

// Config holds non-dependency configuration for the API.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product
	// responses. When empty, image paths are returned as stored.
	ImageBaseURL string
}

// Server routes storefront requests to the domain services.
type Server struct {
	products     product.Repository
	carts        *cart.Service
	orders       *order.Service
	imageBaseURL string
}

// NewServer constructs a Server with the required domain dependencies.
func NewServer(cfg Config, products product.Repository, carts *cart.Service, orders *order.Service) *Server {
	return &Server{
		products:     products,
		carts:        carts,
		orders:       orders,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Routes registers all API routes on mux under /api.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", s.handleListProducts)
	mux.HandleFunc("GET /api/products/{id}", s.handleGetProduct)

	mux.HandleFunc("GET /api/cart", s.withUser(s.handleGetCart))
	mux.HandleFunc("POST /api/cart", s.withUser(s.handleAddItem))
	mux.HandleFunc("DELETE /api/cart", s.withUser(s.handleClearCart))
	mux.HandleFunc("PATCH /api/cart/items/{itemID}", s.withUser(s.handleUpdateItemQuantity))
	mux.HandleFunc("DELETE /api/cart/items/{itemID}", s.withUser(s.handleRemoveItem))
	mux.HandleFunc("PUT /api/cart/coupon", s.withUser(s.handleApplyCoupon))

	mux.HandleFunc("POST /api/orders", s.withUser(s.handlePlaceCashOrder))
	mux.HandleFunc("GET /api/orders", s.withUser(s.handleListOrders))
	mux.HandleFunc("GET /api/orders/{id}", s.withUser(s.handleGetOrder))
	mux.HandleFunc("PATCH /api/orders/{id}", s.withStaff(s.handleUpdateOrderStatus))
	mux.HandleFunc("DELETE /api/orders/{id}", s.withUser(s.handleCancelOrder))

	mux.HandleFunc("POST /api/checkout/completed", s.handleCheckoutCompleted)
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

// withUser extracts the authenticated user forwarded by the gateway.
func (s *Server) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		next(w, r, userID)
	}
}

// withStaff additionally requires the admin role.
func (s *Server) withStaff(next userHandler) http.HandlerFunc {
	return s.withUser(func(w http.ResponseWriter, r *http.Request, userID string) {
		if r.Header.Get("X-User-Role") != "admin" {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next(w, r, userID)
	})
}
