package order

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ValidationError reports malformed input that the client can fix.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Sentinel errors for order operations.
var (
	ErrEmptyLines = &ValidationError{Message: "order must contain at least one line"}

	// ErrNotFound is returned for unknown orders and for orders owned by
	// another user.
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyPaid is returned when settling an order that is already PAID_SUCCESS.
	ErrAlreadyPaid = errors.New("order already paid")
	// ErrForbidden is returned when the caller lacks the scope for an operation.
	ErrForbidden = errors.New("forbidden")
)

// ProductNotFoundError indicates a line references a product missing from the catalog.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// PriceMismatchError indicates the client's asserted price or total differs
// from the value computed from catalog prices.
type PriceMismatchError struct {
	// ProductID is empty when the order total is mismatched.
	ProductID string
	Asserted  decimal.Decimal
	Actual    decimal.Decimal
}

func (e *PriceMismatchError) Error() string {
	if e.ProductID == "" {
		return fmt.Sprintf("total %s does not match current prices (%s)", e.Asserted, e.Actual)
	}
	return fmt.Sprintf("price %s for product %s does not match current price %s", e.Asserted, e.ProductID, e.Actual)
}

// StorageError wraps a persistence failure. The unit of work it belongs to
// has been rolled back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
