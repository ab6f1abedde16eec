// Package handler exposes the order and settlement operations over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/payment"
)

// OrderBuilder creates orders.
type OrderBuilder interface {
	CreateOrder(ctx context.Context, req order.CreateRequest) (*order.CreateResult, error)
}

// Settler settles orders.
type Settler interface {
	Settle(ctx context.Context, orderID, userID string, details payment.Details) (*order.Order, error)
}

// HistoryReader reads persisted orders.
type HistoryReader interface {
	GetOrderByID(ctx context.Context, id, userID string) (*order.Order, error)
	ListUserOrders(ctx context.Context, userID string) ([]order.Order, error)
	ListAllOrders(ctx context.Context, id auth.Identity) ([]order.Order, error)
}

// Handler serves the order API.
type Handler struct {
	builder OrderBuilder
	settler Settler
	history HistoryReader
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(builder OrderBuilder, settler Settler, history HistoryReader) *Handler {
	return &Handler{
		builder: builder,
		settler: settler,
		history: history,
	}
}

// NewRouter returns the API routes, all authenticated by sec. Paths are
// relative to the mount point.
func NewRouter(h *Handler, sec *SecurityHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(sec.Authenticate)

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.ListOrders)
		r.Post("/", h.CreateOrder)
		r.Get("/{orderID}", h.GetOrder)
		r.Post("/{orderID}/pay", h.PayOrder)
	})
	r.Route("/admin", func(r chi.Router) {
		r.Get("/orders", h.ListAllOrders)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
