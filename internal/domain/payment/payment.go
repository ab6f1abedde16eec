// Package payment defines the authorization boundary between settlement and
// a payment provider.
//
// Only an opaque provider-issued token crosses this boundary. Raw card data
// is never accepted, forwarded or stored.
package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Decline reasons reported by TestGateway.
const (
	ReasonInsufficientFunds = "insufficient funds"
	ReasonDeclined          = "declined"
)

// ErrRawCardData is returned when a token looks like a primary account number.
var ErrRawCardData = errors.New("payment token looks like raw card data")

// Details are the client-supplied payment instrument details.
type Details struct {
	Token string
}

// Request is a single authorization attempt. OrderID doubles as the
// idempotency key towards the provider.
type Request struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	Details  Details
}

// Outcome is the provider's answer to an authorization.
type Outcome struct {
	Success bool
	// Reference is the provider handle of a successful authorization.
	Reference string
	// Reason is the decline reason of a failed authorization.
	Reason string
}

// Approved returns a successful Outcome.
func Approved(reference string) Outcome {
	return Outcome{Success: true, Reference: reference}
}

// Declined returns a failed Outcome.
func Declined(reason string) Outcome {
	return Outcome{Reason: reason}
}

// Gateway authorizes payments. A decline is a normal Outcome; err is non-nil
// only when no answer was obtained from the provider.
type Gateway interface {
	Authorize(ctx context.Context, req Request) (Outcome, error)
}

// DeclinedError reports that the provider refused the payment.
type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string {
	return "payment declined: " + e.Reason
}

// TransportError reports that the provider could not be reached or did not
// answer in time. The settlement state is unchanged.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}
