// Package coupon decides which discount, if any, applies to a new order.
//
// Coupons are not stored entities: the decision is derived once at order
// creation from the customer's purchase history and saved on the order row.
package coupon

import (
	"github.com/shopspring/decimal"
)

// NewUserCode is the coupon code recorded on a customer's first order.
const NewUserCode = "NEWUSER10"

var hundred = decimal.NewFromInt(100)

// Rule is a percentage discount applied to the whole order subtotal.
type Rule struct {
	Code    string
	Percent decimal.Decimal
}

// NewUser is the first-order discount: 10% off the subtotal.
var NewUser = Rule{
	Code:    NewUserCode,
	Percent: decimal.NewFromInt(10),
}

// Discount returns the rule's discount for subtotal, rounded to 2 decimal
// places and never negative or larger than the subtotal.
func (r Rule) Discount(subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	amount := subtotal.Mul(r.Percent).Div(hundred).Round(2)
	if amount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(amount, subtotal)
}

// Decision is the outcome of coupon eligibility for one order. An empty Code
// means no coupon applies and Amount is zero.
type Decision struct {
	Code   string
	Amount decimal.Decimal
}

// Applied reports whether a coupon was granted.
func (d Decision) Applied() bool {
	return d.Code != ""
}

// Decide returns the coupon decision for a customer who already placed
// priorOrders orders. Only customers without prior orders get NEWUSER10.
func Decide(priorOrders int, subtotal decimal.Decimal) Decision {
	if priorOrders > 0 {
		return Decision{Amount: decimal.Zero}
	}
	return Decision{
		Code:   NewUser.Code,
		Amount: NewUser.Discount(subtotal),
	}
}
