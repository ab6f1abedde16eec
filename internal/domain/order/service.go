package order

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/coupon"
	"github.com/xenking/kart-orders/internal/domain/product"
)

// MaxQuantity is the largest quantity a single line may carry.
const MaxQuantity = math.MaxInt32

// Line is one cart line submitted by the client. UnitPrice is the price the
// client displayed; zero means not asserted.
type Line struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	UserID string
	Lines  []Line
	// Total is the client-asserted cart total; zero means not asserted.
	Total decimal.Decimal
}

// CreateResult holds the persisted order and the discount decision.
type CreateResult struct {
	Order      *Order
	Discount   decimal.Decimal
	CouponCode string
}

// Builder turns a cart into a persisted PENDING order.
type Builder struct {
	products product.Repository
	store    Store

	now   func() time.Time
	newID func() string
}

// NewBuilder creates an order Builder.
func NewBuilder(products product.Repository, store Store) *Builder {
	return &Builder{
		products: products,
		store:    store,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// CreateOrder validates the cart against current catalog prices, decides the
// new-customer discount from the caller's prior-order count and persists the
// order header with all lines as one unit of work.
func (b *Builder) CreateOrder(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.UserID == "" {
		return nil, &ValidationError{Message: "user id required"}
	}
	if len(req.Lines) == 0 {
		return nil, ErrEmptyLines
	}

	ids := make([]string, 0, len(req.Lines))
	for i, l := range req.Lines {
		if l.ProductID == "" {
			return nil, &ValidationError{Message: fmt.Sprintf("line %d: product id required", i)}
		}
		if l.Quantity <= 0 {
			return nil, &ValidationError{Message: fmt.Sprintf("line %d: quantity must be greater than 0", i)}
		}
		if l.Quantity > MaxQuantity {
			return nil, &ValidationError{Message: fmt.Sprintf("line %d: quantity must not exceed %d", i, MaxQuantity)}
		}
		ids = append(ids, l.ProductID)
	}

	fetched, err := b.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, &StorageError{Op: "get products", Err: err}
	}
	prices := make(map[string]decimal.Decimal, len(fetched))
	for _, p := range fetched {
		prices[p.ID] = p.Price
	}

	items := make([]LineItem, len(req.Lines))
	subtotal := decimal.Zero
	for i, l := range req.Lines {
		price, ok := prices[l.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		if !l.UnitPrice.IsZero() && !l.UnitPrice.Equal(price) {
			return nil, &PriceMismatchError{ProductID: l.ProductID, Asserted: l.UnitPrice, Actual: price}
		}
		items[i] = LineItem{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: price,
		}
		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	subtotal = subtotal.Round(2)
	if !req.Total.IsZero() && !req.Total.Equal(subtotal) {
		return nil, &PriceMismatchError{Asserted: req.Total, Actual: subtotal}
	}

	var created *Order
	var decision coupon.Decision
	err = b.store.CreateForUser(ctx, req.UserID, func(priorOrders int) (*Order, error) {
		decision = coupon.Decide(priorOrders, subtotal)
		total := subtotal.Sub(decision.Amount)
		if total.IsNegative() {
			total = decimal.Zero
		}
		created = &Order{
			ID:        b.newID(),
			UserID:    req.UserID,
			Total:     total.Round(2),
			Discount:  decimal.Zero,
			Status:    StatusPending,
			CreatedAt: b.now().UTC(),
			Items:     items,
		}
		if decision.Applied() {
			created.Discount = decision.Amount
			created.CouponCode = decision.Code
		}
		return created, nil
	})
	if err != nil {
		var se *StorageError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create order")
	}

	return &CreateResult{
		Order:      created,
		Discount:   decision.Amount,
		CouponCode: decision.Code,
	}, nil
}
