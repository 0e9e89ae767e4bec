package stacking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
	ct "github.com/xenking/oolio-coupon-engine/internal/domain/coupon/coupontest"
)

func filterOne(t *testing.T, def *coupon.Definition, uc coupon.UserCoupon, cart coupon.Cart, usage coupon.Usage) FilterResult {
	t.Helper()
	defs := map[string]*coupon.Definition{}
	if def != nil {
		defs[def.ID] = def
	}
	return Filter(FilterInput{
		Wallet:      []coupon.UserCoupon{uc},
		Definitions: defs,
		Usage:       map[string]coupon.Usage{uc.CouponID: usage},
		Cart:        cart,
		Now:         ct.Epoch,
	})
}

func TestFilter_Reasons(t *testing.T) {
	cart := ct.Cart("50", ct.Item("p1", "books", "600", 2))

	expired := func(uc coupon.UserCoupon) coupon.UserCoupon {
		uc.ExpiresAt = ct.Epoch.Add(-time.Minute)
		return uc
	}
	birthday := ct.Epoch.AddDate(-30, -1, 0)

	tests := []struct {
		name   string
		def    *coupon.Definition
		mutate func(coupon.UserCoupon) coupon.UserCoupon
		cart   coupon.Cart
		usage  coupon.Usage
		want   Reason
	}{
		{
			name: "eligible",
			def:  ct.Definition("fixed", ct.Fixed("10")),
		},
		{
			name: "definition inactive",
			def:  ct.Definition("paused", ct.Fixed("10"), ct.Status(coupon.StatusPaused)),
			want: ReasonDefinitionInactive,
		},
		{
			name:   "instance already used",
			def:    ct.Definition("fixed", ct.Fixed("10")),
			mutate: func(uc coupon.UserCoupon) coupon.UserCoupon { return ct.Used(uc, "o-1") },
			want:   ReasonNotAvailable,
		},
		{
			name:   "instance expired lazily",
			def:    ct.Definition("fixed", ct.Fixed("10")),
			mutate: expired,
			want:   ReasonExpired,
		},
		{
			name: "validity window not started",
			def:  ct.Definition("future", ct.Fixed("10"), ct.Window(ct.Epoch.Add(time.Hour), time.Time{})),
			mutate: func(uc coupon.UserCoupon) coupon.UserCoupon {
				uc.ExpiresAt = time.Time{}
				return uc
			},
			want: ReasonOutsideValidity,
		},
		{
			name: "min order condition",
			def:  ct.Definition("big", ct.Fixed("10"), ct.Conditions(ct.MinOrder("5000"))),
			want: ConditionFailed(coupon.ConditionMinOrderAmount),
		},
		{
			name: "weekday condition",
			def: ct.Definition("monday", ct.Fixed("10"), ct.Conditions(
				coupon.DayOfWeek{Days: []time.Weekday{time.Monday}},
			)),
			want: ConditionFailed(coupon.ConditionDayOfWeek),
		},
		{
			name: "excluded category",
			def: ct.Definition("nobooks", ct.Fixed("10"), ct.Conditions(
				coupon.ProductCategory{Op: coupon.OpNotIn, Categories: []string{"books"}},
			)),
			want: ConditionFailed(coupon.ConditionProductCategory),
		},
		{
			name: "percentage payload minimum",
			def:  ct.Definition("p", ct.Percentage("10", "", "2000")),
			want: ConditionFailed(coupon.ConditionMinOrderAmount),
		},
		{
			name: "member level mismatch",
			def: ct.Definition("gold", coupon.MemberExclusive{
				Levels: []string{"gold"}, Amount: coupon.Amount{Percent: ct.D("5")},
			}),
			want: ReasonAudienceMismatch,
		},
		{
			name: "new user bonus for returning customer",
			def:  ct.Definition("welcome", coupon.NewUserBonus{Amount: coupon.Amount{Fixed: ct.D("5")}}),
			want: ReasonAudienceMismatch,
		},
		{
			name: "birthday in another month",
			def:  ct.Definition("bday", coupon.BirthdayGift{Amount: coupon.Amount{Fixed: ct.D("5")}}),
			cart: func() coupon.Cart {
				c := ct.Cart("0", ct.Item("p1", "books", "10", 1))
				c.Profile.Birthday = &birthday
				return c
			}(),
			want: ReasonAudienceMismatch,
		},
		{
			name: "bundle missing a product",
			def: ct.Definition("bundle", coupon.BundleDiscount{
				Products: []string{"p1", "p9"}, Amount: coupon.Amount{Fixed: ct.D("5")},
			}),
			want: ReasonBundleIncomplete,
		},
		{
			name:  "total limit reached",
			def:   ct.Definition("scarce", ct.Fixed("10"), ct.Limits(5, 0, 0)),
			usage: coupon.Usage{Total: 5},
			want:  ReasonTotalLimit,
		},
		{
			name:  "daily limit reached",
			def:   ct.Definition("daily", ct.Fixed("10"), ct.Limits(0, 0, 2)),
			usage: coupon.Usage{Total: 9, Daily: 2},
			want:  ReasonDailyLimit,
		},
		{
			name:  "per user limit reached",
			def:   ct.Definition("once", ct.Fixed("10"), ct.Limits(0, 1, 0)),
			usage: coupon.Usage{Total: 1, User: 1},
			want:  ReasonPerUserLimit,
		},
		{
			name: "invalid configuration",
			def:  ct.Definition("broken", ct.Fixed("0")),
			want: ReasonInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := ct.Instance("uc-1", "u1", tt.def)
			if tt.mutate != nil {
				uc = tt.mutate(uc)
			}
			c := cart
			if tt.cart.Items != nil {
				c = tt.cart
			}

			res := filterOne(t, tt.def, uc, c, tt.usage)
			if tt.want == "" {
				require.Len(t, res.Eligible, 1)
				assert.Empty(t, res.Rejections)
				return
			}
			assert.Empty(t, res.Eligible)
			assert.Equal(t, tt.want, res.Rejections["uc-1"])
		})
	}
}

func TestFilter_DefinitionNotFound(t *testing.T) {
	def := ct.Definition("ghost", ct.Fixed("10"))
	res := filterOne(t, nil, ct.Instance("uc-1", "u1", def), ct.Cart("0", ct.Item("p1", "x", "10", 1)), coupon.Usage{})
	assert.Equal(t, ReasonDefinitionNotFound, res.Rejections["uc-1"])
}

func TestFilter_InvalidConfigIsIsolated(t *testing.T) {
	broken := ct.Definition("broken", ct.Fixed("0"))
	good := ct.Definition("good", ct.Fixed("10"))

	res := Filter(FilterInput{
		Wallet: []coupon.UserCoupon{
			ct.Instance("uc-2", "u1", broken),
			ct.Instance("uc-1", "u1", good),
		},
		Definitions: map[string]*coupon.Definition{broken.ID: broken, good.ID: good},
		Cart:        ct.Cart("0", ct.Item("p1", "x", "100", 1)),
		Now:         ct.Epoch,
	})

	require.Len(t, res.Eligible, 1)
	assert.Equal(t, "uc-1", res.Eligible[0].ID())
	assert.Equal(t, ReasonInvalidConfig, res.Rejections["uc-2"])
	require.Contains(t, res.Invalid, "broken")
	assert.ErrorIs(t, res.Invalid["broken"], coupon.ErrInvalidDefinition)
}

func TestFilter_UnknownConditionPasses(t *testing.T) {
	def := ct.Definition("future", ct.Fixed("10"), ct.Conditions(
		ct.MinOrder("50"),
		coupon.UnknownCondition{Kind: "weather", Op: "eq", Raw: []byte(`"sunny"`)},
	))
	res := filterOne(t, def, ct.Instance("uc-1", "u1", def), ct.Cart("0", ct.Item("p1", "x", "100", 1)), coupon.Usage{})

	require.Len(t, res.Eligible, 1)
	require.Len(t, res.Unknown, 1)
	assert.Equal(t, UnknownHit{UserCouponID: "uc-1", CouponID: "future", Kind: "weather"}, res.Unknown[0])
}

func TestFilter_PerUserLimitAppliesToSecondInstance(t *testing.T) {
	def := ct.Definition("once", ct.Fixed("10"), ct.Limits(0, 1, 0))
	used := ct.Used(ct.Instance("uc-1", "u1", def), "o-1")
	fresh := ct.Instance("uc-2", "u1", def)

	res := Filter(FilterInput{
		Wallet:      []coupon.UserCoupon{used, fresh},
		Definitions: map[string]*coupon.Definition{def.ID: def},
		Usage:       map[string]coupon.Usage{def.ID: {Total: 1, Daily: 1, User: 1}},
		Cart:        ct.Cart("0", ct.Item("p1", "x", "100", 1)),
		Now:         ct.Epoch,
	})

	assert.Empty(t, res.Eligible)
	assert.Equal(t, ReasonNotAvailable, res.Rejections["uc-1"])
	assert.Equal(t, ReasonPerUserLimit, res.Rejections["uc-2"])
}

func TestEvaluateCondition(t *testing.T) {
	cart := ct.Cart("0",
		ct.Item("p1", "books", "10", 2),
		coupon.Item{ProductID: "p2", Category: "games", Brand: "acme", Price: ct.D("30"), Quantity: 1},
	)
	cart.PaymentMethod = "card"
	cart.Location = "berlin"
	cart.Profile.IsNewCustomer = true

	tests := []struct {
		name string
		cond coupon.Condition
		want bool
	}{
		{"subtotal gte", coupon.MinOrderAmount{Amount: ct.D("50")}, true},
		{"subtotal gt", coupon.MinOrderAmount{Op: coupon.OpGT, Amount: ct.D("50")}, false},
		{"quantity lt", coupon.MinQuantity{Op: coupon.OpLT, Quantity: 4}, true},
		{"quantity eq", coupon.MinQuantity{Op: coupon.OpEQ, Quantity: 4}, false},
		{"level in", coupon.MemberLevel{Levels: []string{"silver", "gold"}}, true},
		{"level not in", coupon.MemberLevel{Op: coupon.OpNotIn, Levels: []string{"silver"}}, false},
		{"first order", coupon.FirstOrder{Required: true}, true},
		{"brand", coupon.Brand{Brands: []string{"acme"}}, true},
		{"time range", coupon.TimeRange{Start: 14 * 60, End: 15 * 60}, true},
		{"time range outside", coupon.TimeRange{Start: 9 * 60, End: 12 * 60}, false},
		{"wednesday", coupon.DayOfWeek{Days: []time.Weekday{time.Wednesday}}, true},
		{"location", coupon.Location{Regions: []string{"paris"}}, false},
		{"payment", coupon.PaymentMethod{Methods: []string{"card"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, known := EvaluateCondition(tt.cond, cart, ct.Epoch)
			assert.True(t, known)
			assert.Equal(t, tt.want, ok)
		})
	}
}
