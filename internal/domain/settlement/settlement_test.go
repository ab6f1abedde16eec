package settlement

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/payment"
)

// memStore is an in-memory Store with one mutex per order.
type memStore struct {
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	orders map[string]order.Order
}

func newMemStore(orders ...order.Order) *memStore {
	s := &memStore{
		locks:  make(map[string]*sync.Mutex),
		orders: make(map[string]order.Order),
	}
	for _, o := range orders {
		s.orders[o.ID] = o
		s.locks[o.ID] = &sync.Mutex{}
	}
	return s
}

func (s *memStore) get(id string) order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *memStore) WithLockedOrder(ctx context.Context, orderID, userID string,
	fn func(ctx context.Context, o *order.Order) (*order.Transition, error),
) (*order.Order, error) {
	s.mu.Lock()
	lock, ok := s.locks[orderID]
	s.mu.Unlock()
	if !ok {
		return nil, order.ErrNotFound
	}
	lock.Lock()
	defer lock.Unlock()

	o := s.get(orderID)
	if o.UserID != userID {
		return nil, order.ErrNotFound
	}
	t, err := fn(ctx, &o)
	if err != nil {
		return nil, err
	}
	if o.Paid {
		return nil, order.ErrAlreadyPaid
	}
	o.Apply(*t)

	s.mu.Lock()
	s.orders[orderID] = o
	s.mu.Unlock()
	return &o, nil
}

type gatewayFunc func(ctx context.Context, req payment.Request) (payment.Outcome, error)

func (f gatewayFunc) Authorize(ctx context.Context, req payment.Request) (payment.Outcome, error) {
	return f(ctx, req)
}

func pendingOrder(id, user string) order.Order {
	return order.Order{
		ID:     id,
		UserID: user,
		Total:  decimal.NewFromInt(1800),
		Status: order.StatusPending,
	}
}

func newTestEngine(t *testing.T, store Store, gw payment.Gateway) *Engine {
	t.Helper()
	e, err := NewEngine(store, gw, Config{Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	return e
}

func TestSettle_Success(t *testing.T) {
	store := newMemStore(pendingOrder("o1", "u1"))
	e := newTestEngine(t, store, payment.TestGateway{})

	o, err := e.Settle(context.Background(), "o1", "u1", payment.Details{Token: "4242424242424242"})
	require.NoError(t, err)

	assert.Equal(t, order.StatusPaidSuccess, o.Status)
	assert.True(t, o.Paid)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, "sim_tx_o1", o.PaymentReference)
	assert.Equal(t, 1, o.Attempts)
	require.NoError(t, o.Validate())
}

func TestSettle_DeclineThenRetry(t *testing.T) {
	store := newMemStore(pendingOrder("o1", "u1"))
	e := newTestEngine(t, store, payment.TestGateway{})
	ctx := context.Background()

	o, err := e.Settle(ctx, "o1", "u1", payment.Details{Token: "5100000000000000"})
	var de *payment.DeclinedError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, payment.ReasonInsufficientFunds, de.Reason)
	require.NotNil(t, o)
	assert.Equal(t, order.StatusPaidFailed, o.Status)
	assert.False(t, o.Paid)
	assert.Equal(t, payment.ReasonInsufficientFunds, store.get("o1").FailureReason)

	o, err = e.Settle(ctx, "o1", "u1", payment.Details{Token: "4000"})
	require.ErrorAs(t, err, &de)
	assert.Equal(t, payment.ReasonDeclined, de.Reason)
	assert.Equal(t, 2, o.Attempts)

	o, err = e.Settle(ctx, "o1", "u1", payment.Details{Token: "4242"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaidSuccess, o.Status)
	assert.Empty(t, o.FailureReason)
	assert.Equal(t, 3, o.Attempts)
}

func TestSettle_AlreadyPaid(t *testing.T) {
	store := newMemStore(pendingOrder("o1", "u1"))
	var calls atomic.Int32
	gw := gatewayFunc(func(ctx context.Context, req payment.Request) (payment.Outcome, error) {
		calls.Add(1)
		return payment.TestGateway{}.Authorize(ctx, req)
	})
	e := newTestEngine(t, store, gw)
	ctx := context.Background()

	_, err := e.Settle(ctx, "o1", "u1", payment.Details{Token: "4242"})
	require.NoError(t, err)

	_, err = e.Settle(ctx, "o1", "u1", payment.Details{Token: "4242"})
	require.ErrorIs(t, err, order.ErrAlreadyPaid)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSettle_NotFound(t *testing.T) {
	store := newMemStore(pendingOrder("o1", "u1"))
	e := newTestEngine(t, store, payment.TestGateway{})
	ctx := context.Background()

	_, err := e.Settle(ctx, "missing", "u1", payment.Details{Token: "4242"})
	require.ErrorIs(t, err, order.ErrNotFound)

	_, err = e.Settle(ctx, "o1", "intruder", payment.Details{Token: "4242"})
	require.ErrorIs(t, err, order.ErrNotFound)
	assert.Equal(t, order.StatusPending, store.get("o1").Status)
}

func TestSettle_EmptyToken(t *testing.T) {
	e := newTestEngine(t, newMemStore(pendingOrder("o1", "u1")), payment.TestGateway{})

	_, err := e.Settle(context.Background(), "o1", "u1", payment.Details{})
	var ve *order.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestSettle_GatewayTimeoutLeavesOrderUnchanged(t *testing.T) {
	store := newMemStore(pendingOrder("o1", "u1"))
	gw := gatewayFunc(func(ctx context.Context, _ payment.Request) (payment.Outcome, error) {
		<-ctx.Done()
		return payment.Outcome{}, ctx.Err()
	})
	e := newTestEngine(t, store, gw)

	_, err := e.Settle(context.Background(), "o1", "u1", payment.Details{Token: "4242"})
	var te *payment.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout())

	o := store.get("o1")
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Zero(t, o.Attempts)
}

func TestSettle_GatewayTransportError(t *testing.T) {
	store := newMemStore(pendingOrder("o1", "u1"))
	gw := gatewayFunc(func(context.Context, payment.Request) (payment.Outcome, error) {
		return payment.Outcome{}, &payment.TransportError{Op: "authorize", Err: errors.New("connection reset")}
	})
	e := newTestEngine(t, store, gw)

	_, err := e.Settle(context.Background(), "o1", "u1", payment.Details{Token: "4242"})
	var te *payment.TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Timeout())
	assert.Equal(t, order.StatusPending, store.get("o1").Status)
}

func TestSettle_ConcurrentCallsPayOnce(t *testing.T) {
	store := newMemStore(pendingOrder("o1", "u1"))
	var calls atomic.Int32
	gw := gatewayFunc(func(ctx context.Context, req payment.Request) (payment.Outcome, error) {
		calls.Add(1)
		time.Sleep(time.Millisecond)
		return payment.TestGateway{}.Authorize(ctx, req)
	})
	e := newTestEngine(t, store, gw)

	const n = 16
	var (
		wg       sync.WaitGroup
		paid     atomic.Int32
		conflict atomic.Int32
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Settle(context.Background(), "o1", "u1", payment.Details{Token: "4242"})
			switch {
			case err == nil:
				paid.Add(1)
			case errors.Is(err, order.ErrAlreadyPaid):
				conflict.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), paid.Load())
	assert.Equal(t, int32(n-1), conflict.Load())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, store.get("o1").Attempts)
}
