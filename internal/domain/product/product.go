package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase. Price is the
// authoritative unit price at the time it is read.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Image string
}

// Repository resolves product ids to catalog entries. Ids with no matching
// product are absent from the result rather than reported as errors.
type Repository interface {
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
