// Package settlement moves orders through the payment state machine.
//
//	PENDING     --approved--> PAID_SUCCESS (terminal)
//	PENDING     --declined--> PAID_FAILED
//	PAID_FAILED --approved--> PAID_SUCCESS
//	PAID_FAILED --declined--> PAID_FAILED
//
// Every settlement attempt runs while holding an exclusive lock on the order,
// so the paid flag flips at most once no matter how many callers race.
package settlement

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/payment"
)

const instrumentationName = "github.com/xenking/kart-orders/internal/domain/settlement"

// Store provides exclusive access to a single order.
type Store interface {
	// WithLockedOrder loads the order owned by userID and holds an exclusive
	// lock on it while fn runs. When fn returns a non-nil Transition it is
	// applied and committed only if the order is still unpaid; otherwise
	// ErrAlreadyPaid is returned. When fn returns an error nothing changes.
	// Unknown or foreign orders yield order.ErrNotFound.
	WithLockedOrder(ctx context.Context, orderID, userID string,
		fn func(ctx context.Context, o *order.Order) (*order.Transition, error),
	) (*order.Order, error)
}

// Config configures the Engine.
type Config struct {
	// Timeout bounds a single gateway authorization.
	Timeout  time.Duration
	Currency string

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Engine settles orders against a payment gateway.
type Engine struct {
	store   Store
	gateway payment.Gateway
	cfg     Config
	now     func() time.Time

	tracer   trace.Tracer
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

// NewEngine creates a settlement Engine.
func NewEngine(store Store, gateway payment.Gateway, cfg Config) (*Engine, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = metricnoop.NewMeterProvider()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = tracenoop.NewTracerProvider()
	}

	meter := cfg.MeterProvider.Meter(instrumentationName)
	attempts, err := meter.Int64Counter("kart.settlement.attempts",
		metric.WithDescription("Settlement attempts by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "attempts counter")
	}
	duration, err := meter.Float64Histogram("kart.settlement.gateway.duration",
		metric.WithDescription("Payment gateway authorization latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "duration histogram")
	}

	return &Engine{
		store:    store,
		gateway:  gateway,
		cfg:      cfg,
		now:      time.Now,
		tracer:   cfg.TracerProvider.Tracer(instrumentationName),
		attempts: attempts,
		duration: duration,
	}, nil
}

// Settle attempts to pay the caller's order with details.
//
// On approval the paid order is returned. On decline the order is committed
// as PAID_FAILED and returned together with a *payment.DeclinedError.
// Transport failures return *payment.TransportError and leave the order
// unchanged.
func (e *Engine) Settle(ctx context.Context, orderID, userID string, details payment.Details) (*order.Order, error) {
	if details.Token == "" {
		return nil, &order.ValidationError{Message: "payment token required"}
	}

	ctx, span := e.tracer.Start(ctx, "settlement.Settle",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)
	defer span.End()

	lg := zctx.From(ctx).With(zap.String("order_id", orderID))

	var declined *payment.DeclinedError
	updated, err := e.store.WithLockedOrder(ctx, orderID, userID,
		func(ctx context.Context, o *order.Order) (*order.Transition, error) {
			if o.Paid {
				return nil, order.ErrAlreadyPaid
			}
			outcome, err := e.authorize(ctx, o, details)
			if err != nil {
				return nil, err
			}
			t := order.PaidTransition(outcome.Reference, e.now().UTC())
			if !outcome.Success {
				declined = &payment.DeclinedError{Reason: outcome.Reason}
				t = order.FailedTransition(outcome.Reason)
			}
			if _, err := o.Next(t); err != nil {
				return nil, errors.Wrap(err, "apply transition")
			}
			return &t, nil
		},
	)
	if err != nil {
		e.record(ctx, resultOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "settle")
		switch {
		case errors.Is(err, order.ErrNotFound), errors.Is(err, order.ErrAlreadyPaid):
			lg.Info("Settlement rejected", zap.Error(err))
		default:
			lg.Error("Settlement failed", zap.Error(err))
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("order.status", string(updated.Status)),
		attribute.Int("order.attempts", updated.Attempts),
	)
	if declined != nil {
		e.record(ctx, "declined")
		lg.Info("Payment declined",
			zap.String("reason", declined.Reason),
			zap.Int("attempt", updated.Attempts),
		)
		return updated, declined
	}

	e.record(ctx, "paid")
	lg.Info("Order paid",
		zap.String("reference", updated.PaymentReference),
		zap.Int("attempt", updated.Attempts),
	)
	return updated, nil
}

func (e *Engine) authorize(ctx context.Context, o *order.Order, details payment.Details) (payment.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	outcome, err := e.gateway.Authorize(ctx, payment.Request{
		OrderID:  o.ID,
		Amount:   o.Total,
		Currency: e.cfg.Currency,
		Details:  details,
	})
	e.duration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		var te *payment.TransportError
		if errors.As(err, &te) {
			return payment.Outcome{}, err
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return payment.Outcome{}, &payment.TransportError{Op: "authorize", Err: err}
		}
		return payment.Outcome{}, err
	}
	return outcome, nil
}

func (e *Engine) record(ctx context.Context, result string) {
	e.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func resultOf(err error) string {
	var te *payment.TransportError
	switch {
	case errors.Is(err, order.ErrNotFound):
		return "not_found"
	case errors.Is(err, order.ErrAlreadyPaid):
		return "already_paid"
	case errors.As(err, &te):
		return "transport_error"
	default:
		return "error"
	}
}
