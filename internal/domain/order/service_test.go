package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/domain/coupon"
	"github.com/xenking/kart-orders/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]product.Product
	getErr error
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockStore struct {
	prior   map[string]int
	saved   []*Order
	saveErr error
}

func (m *mockStore) CreateForUser(_ context.Context, userID string, build func(int) (*Order, error)) error {
	o, err := build(m.prior[userID])
	if err != nil {
		return err
	}
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.prior == nil {
		m.prior = map[string]int{}
	}
	m.prior[userID]++
	m.saved = append(m.saved, o)
	return nil
}

// --- Helpers ---

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &mockProductRepo{byID: byID}
}

func newTestBuilder(products *mockProductRepo, store *mockStore) *Builder {
	b := NewBuilder(products, store)
	b.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	b.newID = func() string { return "order-1" }
	return b
}

var (
	widget = product.Product{ID: "1", Name: "Widget", Price: decimal.RequireFromString("1000.00")}
	gadget = product.Product{ID: "2", Name: "Gadget", Price: decimal.RequireFromString("12.50")}
)

// --- Tests ---

func TestCreateOrder_NewUserScenario(t *testing.T) {
	store := &mockStore{}
	b := newTestBuilder(newProductRepo(widget), store)

	res, err := b.CreateOrder(context.Background(), CreateRequest{
		UserID: "u1",
		Lines:  []Line{{ProductID: "1", Quantity: 2, UnitPrice: decimal.NewFromInt(1000)}},
		Total:  decimal.NewFromInt(2000),
	})
	require.NoError(t, err)

	assert.Equal(t, coupon.NewUserCode, res.CouponCode)
	assert.True(t, decimal.NewFromInt(200).Equal(res.Discount), "discount: %s", res.Discount)
	assert.True(t, decimal.NewFromInt(1800).Equal(res.Order.Total), "total: %s", res.Order.Total)
	assert.Equal(t, StatusPending, res.Order.Status)
	assert.False(t, res.Order.Paid)
	assert.Nil(t, res.Order.PaidAt)
	assert.Equal(t, "order-1", res.Order.ID)
	assert.Equal(t, "u1", res.Order.UserID)
	require.Len(t, res.Order.Items, 1)
	assert.Equal(t, 2, res.Order.Items[0].Quantity)
	require.NoError(t, res.Order.Validate())
	require.Len(t, store.saved, 1)
}

func TestCreateOrder_ReturningUserNoDiscount(t *testing.T) {
	store := &mockStore{prior: map[string]int{"u1": 3}}
	b := newTestBuilder(newProductRepo(widget, gadget), store)

	res, err := b.CreateOrder(context.Background(), CreateRequest{
		UserID: "u1",
		Lines: []Line{
			{ProductID: "1", Quantity: 1},
			{ProductID: "2", Quantity: 3},
		},
	})
	require.NoError(t, err)

	assert.Empty(t, res.CouponCode)
	assert.True(t, res.Discount.IsZero())
	assert.Equal(t, "1037.5", res.Order.Total.String())
}

func TestCreateOrder_SecondOrderLosesDiscount(t *testing.T) {
	store := &mockStore{}
	b := newTestBuilder(newProductRepo(gadget), store)
	req := CreateRequest{UserID: "u1", Lines: []Line{{ProductID: "2", Quantity: 1}}}

	first, err := b.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	second, err := b.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, coupon.NewUserCode, first.CouponCode)
	assert.Equal(t, "1.25", first.Discount.String())
	assert.Empty(t, second.CouponCode)
	assert.True(t, second.Order.Total.Equal(gadget.Price))
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   CreateRequest
		check func(t *testing.T, err error)
	}{
		{
			name: "empty lines",
			req:  CreateRequest{UserID: "u1"},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrEmptyLines)
			},
		},
		{
			name: "zero quantity",
			req:  CreateRequest{UserID: "u1", Lines: []Line{{ProductID: "1", Quantity: 0}}},
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Contains(t, ve.Message, "quantity")
			},
		},
		{
			name: "quantity above limit",
			req: CreateRequest{UserID: "u1", Lines: []Line{{ProductID: "1", Quantity: func() int {
				q := MaxQuantity
				return q + 1
			}()}}},
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Contains(t, ve.Message, "quantity")
			},
		},
		{
			name: "blank product id",
			req:  CreateRequest{UserID: "u1", Lines: []Line{{Quantity: 1}}},
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
			},
		},
		{
			name: "missing user",
			req:  CreateRequest{Lines: []Line{{ProductID: "1", Quantity: 1}}},
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
			},
		},
		{
			name: "unknown product",
			req:  CreateRequest{UserID: "u1", Lines: []Line{{ProductID: "missing", Quantity: 1}}},
			check: func(t *testing.T, err error) {
				var pnf *ProductNotFoundError
				require.ErrorAs(t, err, &pnf)
				assert.Equal(t, "missing", pnf.ProductID)
			},
		},
		{
			name: "unit price mismatch",
			req: CreateRequest{UserID: "u1", Lines: []Line{
				{ProductID: "1", Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
			}},
			check: func(t *testing.T, err error) {
				var pm *PriceMismatchError
				require.ErrorAs(t, err, &pm)
				assert.Equal(t, "1", pm.ProductID)
			},
		},
		{
			name: "total mismatch",
			req: CreateRequest{
				UserID: "u1",
				Lines:  []Line{{ProductID: "1", Quantity: 2}},
				Total:  decimal.NewFromInt(1999),
			},
			check: func(t *testing.T, err error) {
				var pm *PriceMismatchError
				require.ErrorAs(t, err, &pm)
				assert.Empty(t, pm.ProductID)
				assert.True(t, decimal.NewFromInt(2000).Equal(pm.Actual))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{}
			b := newTestBuilder(newProductRepo(widget), store)

			_, err := b.CreateOrder(context.Background(), tt.req)
			require.Error(t, err)
			tt.check(t, err)
			assert.Empty(t, store.saved)
		})
	}
}

func TestCreateOrder_CatalogFailure(t *testing.T) {
	repo := newProductRepo(widget)
	repo.getErr = errors.New("connection refused")
	b := newTestBuilder(repo, &mockStore{})

	_, err := b.CreateOrder(context.Background(), CreateRequest{
		UserID: "u1",
		Lines:  []Line{{ProductID: "1", Quantity: 1}},
	})
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "get products", se.Op)
}

func TestCreateOrder_StoreFailure(t *testing.T) {
	store := &mockStore{saveErr: &StorageError{Op: "insert order", Err: errors.New("boom")}}
	b := newTestBuilder(newProductRepo(widget), store)

	_, err := b.CreateOrder(context.Background(), CreateRequest{
		UserID: "u1",
		Lines:  []Line{{ProductID: "1", Quantity: 1}},
	})
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "insert order", se.Op)
	assert.Empty(t, store.saved)
}

func TestOrderValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		order   Order
		wantErr bool
	}{
		{name: "pending", order: Order{Status: StatusPending}},
		{name: "failed", order: Order{Status: StatusPaidFailed, FailureReason: "declined"}},
		{name: "paid", order: Order{Status: StatusPaidSuccess, Paid: true, PaidAt: &now}},
		{name: "paid without timestamp", order: Order{Status: StatusPaidSuccess, Paid: true}, wantErr: true},
		{name: "pending flagged paid", order: Order{Status: StatusPending, Paid: true, PaidAt: &now}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.order.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestOrderApply(t *testing.T) {
	o := &Order{Status: StatusPending}

	o.Apply(FailedTransition("insufficient funds"))
	assert.Equal(t, StatusPaidFailed, o.Status)
	assert.Equal(t, "insufficient funds", o.FailureReason)
	assert.Equal(t, 1, o.Attempts)
	require.NoError(t, o.Validate())

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o.Apply(PaidTransition("sim_tx_1", at))
	assert.Equal(t, StatusPaidSuccess, o.Status)
	assert.True(t, o.Paid)
	assert.Equal(t, "sim_tx_1", o.PaymentReference)
	assert.Empty(t, o.FailureReason)
	assert.Equal(t, 2, o.Attempts)
	require.NoError(t, o.Validate())
}

func TestOrderNext(t *testing.T) {
	o := Order{ID: "o1", Status: StatusPaidFailed, Attempts: 1}

	next, err := o.Next(PaidTransition("sim_tx_o1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, StatusPaidSuccess, next.Status)
	assert.Equal(t, 2, next.Attempts)
	assert.Equal(t, StatusPaidFailed, o.Status, "receiver must stay unchanged")
	assert.Equal(t, 1, o.Attempts)

	_, err = o.Next(Transition{Status: StatusPaidSuccess, Reference: "sim_tx_o1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inconsistent")
}
