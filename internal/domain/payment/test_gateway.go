package payment

import (
	"context"
	"strings"
)

// TestGateway is a deterministic Gateway for development and tests.
//
//	4242... approved, reference sim_tx_<order id>
//	5100... declined with "insufficient funds"
//	other   declined
type TestGateway struct{}

var _ Gateway = TestGateway{}

// Authorize implements Gateway.
func (TestGateway) Authorize(ctx context.Context, req Request) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, &TransportError{Op: "authorize", Err: err}
	}
	switch token := req.Details.Token; {
	case strings.HasPrefix(token, "4242"):
		return Approved("sim_tx_" + req.OrderID), nil
	case strings.HasPrefix(token, "5100"):
		return Declined(ReasonInsufficientFunds), nil
	default:
		return Declined(ReasonDeclined), nil
	}
}
