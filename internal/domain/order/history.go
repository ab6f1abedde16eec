package order

import (
	"context"

	"github.com/xenking/kart-orders/internal/domain/auth"
)

// History serves read access to persisted orders.
type History struct {
	reader Reader
}

// NewHistory creates a History over reader.
func NewHistory(reader Reader) *History {
	return &History{reader: reader}
}

// GetOrderByID returns the caller's order. Orders of other users are
// reported as ErrNotFound.
func (h *History) GetOrderByID(ctx context.Context, id, userID string) (*Order, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	return h.reader.GetByID(ctx, id, userID)
}

// ListUserOrders returns the caller's orders, newest first.
func (h *History) ListUserOrders(ctx context.Context, userID string) ([]Order, error) {
	return h.reader.ListByUser(ctx, userID)
}

// ListAllOrders returns every order, newest first. The identity must hold
// the orders:admin scope.
func (h *History) ListAllOrders(ctx context.Context, id auth.Identity) ([]Order, error) {
	if !id.HasScope(auth.ScopeOrdersAdmin) {
		return nil, ErrForbidden
	}
	return h.reader.ListAll(ctx)
}
