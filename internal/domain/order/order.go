package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the payment state of an order.
type Status string

const (
	// StatusPending is the initial state of every order.
	StatusPending Status = "PENDING"
	// StatusPaidSuccess is terminal: the payment was authorized.
	StatusPaidSuccess Status = "PAID_SUCCESS"
	// StatusPaidFailed records a declined attempt. The order may be settled again.
	StatusPaidFailed Status = "PAID_FAILED"
)

// Order is a persisted order header with its line items.
type Order struct {
	ID               string
	UserID           string
	Total            decimal.Decimal
	Discount         decimal.Decimal
	CouponCode       string
	Status           Status
	Paid             bool
	PaymentReference string
	FailureReason    string
	Attempts         int
	CreatedAt        time.Time
	PaidAt           *time.Time
	Items            []LineItem
}

// LineItem is one product line of an order. UnitPrice is the catalog price
// captured when the order was created.
type LineItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	// Product holds current catalog display data. It is nil when the product
	// has been removed from the catalog since purchase.
	Product *ProductInfo
}

// ProductInfo is the display metadata joined from the catalog.
type ProductInfo struct {
	Name  string
	Image string
}

// Validate checks the paid-state invariant: an order is PAID_SUCCESS exactly
// when it is flagged paid and has a paid timestamp.
func (o *Order) Validate() error {
	settled := o.Paid && o.PaidAt != nil
	if (o.Status == StatusPaidSuccess) != settled {
		return errors.Errorf("order %s: status %s inconsistent with paid=%t", o.ID, o.Status, o.Paid)
	}
	return nil
}

// Transition is a settlement outcome to be applied to an order.
type Transition struct {
	Status        Status
	Reference     string
	FailureReason string
	PaidAt        *time.Time
}

// PaidTransition moves an order to PAID_SUCCESS.
func PaidTransition(reference string, at time.Time) Transition {
	return Transition{
		Status:    StatusPaidSuccess,
		Reference: reference,
		PaidAt:    &at,
	}
}

// FailedTransition moves an order to PAID_FAILED with the decline reason.
func FailedTransition(reason string) Transition {
	return Transition{
		Status:        StatusPaidFailed,
		FailureReason: reason,
	}
}

// Apply mutates o according to t and counts the settlement attempt.
func (o *Order) Apply(t Transition) {
	o.Status = t.Status
	o.Paid = t.Status == StatusPaidSuccess
	o.PaidAt = t.PaidAt
	o.PaymentReference = t.Reference
	o.FailureReason = t.FailureReason
	o.Attempts++
}

// Next returns a copy of o with t applied, rejecting results that break the
// paid-status invariant.
func (o Order) Next(t Transition) (Order, error) {
	o.Apply(t)
	if err := o.Validate(); err != nil {
		return Order{}, err
	}
	return o, nil
}

// Store persists new orders.
type Store interface {
	// CreateForUser runs build inside one unit of work that is serialized
	// with every other CreateForUser call for the same user. build receives
	// the number of orders the user already has and returns the order to
	// insert; the header and all items are committed together or not at all.
	CreateForUser(ctx context.Context, userID string, build func(priorOrders int) (*Order, error)) error
}

// Reader loads orders with their line items joined to current catalog data.
type Reader interface {
	// GetByID returns ErrNotFound unless the order exists and belongs to userID.
	GetByID(ctx context.Context, id, userID string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
}
