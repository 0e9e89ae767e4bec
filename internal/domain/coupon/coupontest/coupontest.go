// Package coupontest builds deterministic coupon fixtures for tests and
// local seeding.
package coupontest

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
)

// Epoch is the fixed reference time fixtures are built around.
var Epoch = time.Date(2025, time.March, 12, 14, 30, 0, 0, time.UTC)

// D parses a decimal literal and panics on malformed input.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Option mutates a definition under construction.
type Option func(*coupon.Definition)

// Definition returns an active, permanent, allow_all definition with the
// given discount. The code is the upper-cased id.
func Definition(id string, disc coupon.Discount, opts ...Option) *coupon.Definition {
	d := &coupon.Definition{
		ID:        id,
		Code:      strings.ToUpper(id),
		Name:      id,
		Type:      disc.Type(),
		Discount:  disc,
		Validity:  coupon.Validity{Kind: coupon.ValidityPermanent},
		Stacking:  coupon.StackingRule{Type: coupon.StackAllowAll},
		Status:    coupon.StatusActive,
		CreatedAt: Epoch.AddDate(0, -1, 0),
		UpdatedAt: Epoch.AddDate(0, -1, 0),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Priority sets the stacking priority.
func Priority(p int) Option {
	return func(d *coupon.Definition) { d.Stacking.Priority = p }
}

// Stacking sets the stacking type and its compatible list.
func Stacking(t coupon.StackingType, compatible ...coupon.DiscountType) Option {
	return func(d *coupon.Definition) {
		d.Stacking.Type = t
		d.Stacking.CompatibleTypes = compatible
	}
}

// Incompatible sets the incompatible list.
func Incompatible(types ...coupon.DiscountType) Option {
	return func(d *coupon.Definition) { d.Stacking.IncompatibleTypes = types }
}

// MaxStack sets the per-definition stack bound.
func MaxStack(n int) Option {
	return func(d *coupon.Definition) { d.Stacking.MaxStackCount = n }
}

// Conditions replaces the eligibility conditions.
func Conditions(c ...coupon.Condition) Option {
	return func(d *coupon.Definition) { d.Conditions = c }
}

// Limits replaces the usage limits.
func Limits(total, perUser, daily int) Option {
	return func(d *coupon.Definition) {
		d.Limits = coupon.Limits{TotalUsage: total, PerUser: perUser, Daily: daily}
	}
}

// Window sets a fixed validity window.
func Window(start, end time.Time) Option {
	return func(d *coupon.Definition) {
		d.Validity = coupon.Validity{Kind: coupon.ValidityFixed, Start: start, End: end}
	}
}

// RelativeDays sets a per-instance lifetime.
func RelativeDays(days int) Option {
	return func(d *coupon.Definition) {
		d.Validity = coupon.Validity{Kind: coupon.ValidityRelativeDays, Days: days}
	}
}

// Status sets the definition status.
func Status(s coupon.Status) Option {
	return func(d *coupon.Definition) { d.Status = s }
}

// Percentage builds a percentage discount on the running subtotal.
func Percentage(percent, maxDiscount, minOrder string) coupon.Percentage {
	p := coupon.Percentage{Percent: D(percent), Base: coupon.BaseSubtotal}
	if maxDiscount != "" {
		p.MaxDiscount = D(maxDiscount)
	}
	if minOrder != "" {
		p.MinOrderAmount = D(minOrder)
	}
	return p
}

// Fixed builds a fixed-amount discount.
func Fixed(value string) coupon.FixedAmount {
	return coupon.FixedAmount{Value: D(value)}
}

// FreeShipping builds an uncapped free-shipping discount.
func FreeShipping() coupon.FreeShipping {
	return coupon.FreeShipping{}
}

// Cashback builds a percentage cashback credit.
func Cashback(percent string) coupon.Cashback {
	return coupon.Cashback{Amount: coupon.Amount{Percent: D(percent)}}
}

// MinOrder builds a min_order_amount condition.
func MinOrder(amount string) coupon.MinOrderAmount {
	return coupon.MinOrderAmount{Op: coupon.OpGTE, Amount: D(amount)}
}

// Instance issues an available wallet entry obtained at Epoch.
func Instance(id, userID string, def *coupon.Definition) coupon.UserCoupon {
	return coupon.UserCoupon{
		ID:         id,
		UserID:     userID,
		CouponID:   def.ID,
		Status:     coupon.InstanceAvailable,
		ObtainedAt: Epoch.AddDate(0, 0, -1),
		ExpiresAt:  def.Validity.ExpiresAt(Epoch.AddDate(0, 0, -1)),
		Source:     "fixture",
	}
}

// Used marks the instance as redeemed against orderID.
func Used(uc coupon.UserCoupon, orderID string) coupon.UserCoupon {
	at := Epoch.Add(-time.Hour)
	uc.Status = coupon.InstanceUsed
	uc.UsedAt = &at
	uc.OrderID = orderID
	return uc
}

// Item builds a cart item.
func Item(productID, category, price string, qty int) coupon.Item {
	return coupon.Item{ProductID: productID, Category: category, Price: D(price), Quantity: qty}
}

// Cart builds a cart with the given shipping cost and items.
func Cart(shipping string, items ...coupon.Item) coupon.Cart {
	return coupon.NewCart(items, D(shipping), coupon.Profile{Level: "silver"})
}
