package stacking

import (
	"fmt"
	"slices"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
)

var hundred = decimal.NewFromInt(100)

// Target is what a line's amount is netted against.
type Target string

const (
	TargetSubtotal Target = "subtotal"
	TargetShipping Target = "shipping"
	// TargetPostPurchase marks a credit granted after checkout. It never
	// reduces the amount due.
	TargetPostPurchase Target = "post_purchase"
)

// Line is the audit record of one coupon's effect.
type Line struct {
	UserCouponID string
	CouponID     string
	Code         string
	Type         coupon.DiscountType
	Target       Target
	Amount       decimal.Decimal
	BaseBefore   decimal.Decimal
	BaseAfter    decimal.Decimal
	// Clamped is set when the computed amount exceeded the remaining base.
	Clamped bool
}

// Scored is a combination with its calculated effect on a cart.
type Scored struct {
	Combination Combination
	Lines       []Line
	// TotalDiscount is the reduction of the amount due: subtotal plus
	// shipping reductions. Cashback is not included.
	TotalDiscount     decimal.Decimal
	SubtotalDiscount  decimal.Decimal
	ShippingDiscount  decimal.Decimal
	Cashback          decimal.Decimal
	ResultingSubtotal decimal.Decimal
	ResultingShipping decimal.Decimal
	// ResultingTotal is the amount due after discounts, never negative.
	ResultingTotal decimal.Decimal
	Warnings       []string
}

// Benefit is the customer value of the combination, cashback included.
func (s Scored) Benefit() decimal.Decimal {
	return s.TotalDiscount.Add(s.Cashback)
}

// Calculate applies the combination's coupons to the cart in order. Each
// subtotal coupon works on the subtotal left by the ones before it; shipping
// coupons only touch shipping; cashback only accrues.
func Calculate(c Combination, cart coupon.Cart) Scored {
	sub := cart.Subtotal.Round(2)
	ship := cart.ShippingCost.Round(2)
	s := Scored{
		Combination:      c,
		TotalDiscount:    decimal.Zero,
		SubtotalDiscount: decimal.Zero,
		ShippingDiscount: decimal.Zero,
		Cashback:         decimal.Zero,
	}

	for _, m := range c.Members {
		def := m.Definition
		line := Line{
			UserCouponID: m.Instance.ID,
			CouponID:     def.ID,
			Code:         def.Code,
			Type:         def.Type,
			Target:       TargetSubtotal,
		}

		var want decimal.Decimal
		switch v := def.Discount.(type) {
		case coupon.FixedAmount:
			want = v.Value
		case coupon.Percentage:
			switch v.Base {
			case coupon.BaseShipping:
				line.Target = TargetShipping
				want = percentOf(ship, v.Percent, v.MaxDiscount)
			case coupon.BaseTotal:
				want = percentOf(sub.Add(ship), v.Percent, v.MaxDiscount)
			case coupon.BaseOnCheapest:
				want = percentOf(cheapestUnit(cart.Items), v.Percent, v.MaxDiscount)
			default:
				want = percentOf(sub, v.Percent, v.MaxDiscount)
			}
		case coupon.FreeShipping:
			line.Target = TargetShipping
			want = ship
			if v.MaxAmount.IsPositive() && v.MaxAmount.LessThan(want) {
				want = v.MaxAmount
			}
		case coupon.BuyOneGetOne:
			want = bogoAmount(v, cart.Items)
		case coupon.BundleDiscount:
			want = bundleAmount(v, cart.Items)
		case coupon.MemberExclusive:
			want = v.Amount.Of(sub)
		case coupon.NewUserBonus:
			want = v.Amount.Of(sub)
		case coupon.BirthdayGift:
			want = v.Amount.Of(sub)
		case coupon.Cashback:
			line.Target = TargetPostPurchase
			want = v.Amount.Of(sub)
		}
		want = floorAtZero(want).Round(2)

		switch line.Target {
		case TargetShipping:
			line.BaseBefore = ship
			line.Amount, line.Clamped = clamp(want, ship)
			ship = ship.Sub(line.Amount)
			line.BaseAfter = ship
			s.ShippingDiscount = s.ShippingDiscount.Add(line.Amount)
		case TargetPostPurchase:
			line.BaseBefore = sub
			line.Amount = want
			line.BaseAfter = sub
			s.Cashback = s.Cashback.Add(line.Amount)
		default:
			line.BaseBefore = sub
			line.Amount, line.Clamped = clamp(want, sub)
			sub = sub.Sub(line.Amount)
			line.BaseAfter = sub
			s.SubtotalDiscount = s.SubtotalDiscount.Add(line.Amount)
		}
		if line.Clamped {
			s.Warnings = append(s.Warnings, fmt.Sprintf(
				"coupon %s: discount %s clamped to remaining %s %s",
				def.Code, want.StringFixed(2), line.Target, line.Amount.StringFixed(2),
			))
		}
		s.Lines = append(s.Lines, line)
	}

	s.TotalDiscount = s.SubtotalDiscount.Add(s.ShippingDiscount)
	s.ResultingSubtotal = sub
	s.ResultingShipping = ship
	s.ResultingTotal = floorAtZero(sub.Add(ship))
	return s
}

func percentOf(base, percent, limit decimal.Decimal) decimal.Decimal {
	v := base.Mul(percent).Div(hundred)
	if limit.IsPositive() && v.GreaterThan(limit) {
		v = limit
	}
	return v
}

func clamp(want, remaining decimal.Decimal) (decimal.Decimal, bool) {
	if want.GreaterThan(remaining) {
		return floorAtZero(remaining), true
	}
	return want, false
}

func floorAtZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

func cheapestUnit(items []coupon.Item) decimal.Decimal {
	var cheapest decimal.Decimal
	found := false
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		if !found || it.Price.LessThan(cheapest) {
			cheapest = it.Price
			found = true
		}
	}
	return cheapest
}

// qualifyingUnits expands matching items into unit prices, cheapest first.
// With no product or category filter every item qualifies.
func qualifyingUnits(v coupon.BuyOneGetOne, items []coupon.Item) []decimal.Decimal {
	var units []decimal.Decimal
	for _, it := range items {
		if len(v.Products)+len(v.Categories) > 0 &&
			!slices.Contains(v.Products, it.ProductID) && !slices.Contains(v.Categories, it.Category) {
			continue
		}
		for range it.Quantity {
			units = append(units, it.Price)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].LessThan(units[j]) })
	return units
}

// bogoAmount gives away Get units per Buy+Get qualifying units, always the
// cheapest ones.
func bogoAmount(v coupon.BuyOneGetOne, items []coupon.Item) decimal.Decimal {
	if v.Buy+v.Get <= 0 {
		return decimal.Zero
	}
	units := qualifyingUnits(v, items)
	free := len(units) / (v.Buy + v.Get) * v.Get
	total := decimal.Zero
	for _, p := range units[:free] {
		total = total.Add(p)
	}
	return total
}

// bundleCount is how many complete bundles the cart holds.
func bundleCount(products []string, items []coupon.Item) int {
	if len(products) == 0 {
		return 0
	}
	qty := make(map[string]int, len(items))
	for _, it := range items {
		qty[it.ProductID] += it.Quantity
	}
	count := -1
	for _, p := range products {
		if count == -1 || qty[p] < count {
			count = qty[p]
		}
	}
	return count
}

func bundleAmount(v coupon.BundleDiscount, items []coupon.Item) decimal.Decimal {
	count := bundleCount(v.Products, items)
	if count <= 0 {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(count))
	if v.Amount.Fixed.IsPositive() {
		return v.Amount.Fixed.Mul(n)
	}
	base := decimal.Zero
	for _, p := range v.Products {
		for _, it := range items {
			if it.ProductID == p {
				base = base.Add(it.Price)
				break
			}
		}
	}
	return v.Amount.Of(base.Mul(n))
}
