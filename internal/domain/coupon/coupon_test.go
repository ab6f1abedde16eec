package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name        string
		priorOrders int
		subtotal    string
		wantCode    string
		wantAmount  string
	}{
		{
			name:        "first order gets 10 percent",
			priorOrders: 0,
			subtotal:    "2000",
			wantCode:    NewUserCode,
			wantAmount:  "200",
		},
		{
			name:        "returning customer gets nothing",
			priorOrders: 1,
			subtotal:    "2000",
			wantAmount:  "0",
		},
		{
			name:        "many prior orders",
			priorOrders: 42,
			subtotal:    "15.50",
			wantAmount:  "0",
		},
		{
			name:        "rounds to cents",
			priorOrders: 0,
			subtotal:    "10.05",
			wantCode:    NewUserCode,
			wantAmount:  "1.01",
		},
		{
			name:        "zero subtotal",
			priorOrders: 0,
			subtotal:    "0",
			wantCode:    NewUserCode,
			wantAmount:  "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.priorOrders, decimal.RequireFromString(tt.subtotal))

			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantCode != "", got.Applied())
			assert.True(t, decimal.RequireFromString(tt.wantAmount).Equal(got.Amount),
				"expected amount %s, got %s", tt.wantAmount, got.Amount)
		})
	}
}

func TestRuleDiscount_NeverExceedsSubtotal(t *testing.T) {
	r := Rule{Code: "ALL", Percent: decimal.NewFromInt(150)}

	got := r.Discount(decimal.NewFromInt(20))
	assert.True(t, decimal.NewFromInt(20).Equal(got), "got %s", got)
}

func TestRuleDiscount_NegativeSubtotal(t *testing.T) {
	got := NewUser.Discount(decimal.NewFromInt(-5))
	assert.True(t, got.IsZero())
}
