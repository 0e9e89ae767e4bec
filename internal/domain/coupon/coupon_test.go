package coupon_test

import (
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
	ct "github.com/xenking/oolio-coupon-engine/internal/domain/coupon/coupontest"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDefinitionValidate(t *testing.T) {
	tests := []struct {
		name    string
		def     *coupon.Definition
		wantErr bool
	}{
		{
			name: "valid percentage",
			def:  ct.Definition("p20", ct.Percentage("20", "500", "1000")),
		},
		{
			name:    "percentage over 100",
			def:     ct.Definition("p120", ct.Percentage("120", "", "")),
			wantErr: true,
		},
		{
			name: "payload does not match type",
			def: func() *coupon.Definition {
				def := ct.Definition("mismatch", ct.Fixed("10"))
				def.Type = coupon.DiscountPercentage
				return def
			}(),
			wantErr: true,
		},
		{
			name: "missing payload",
			def: func() *coupon.Definition {
				def := ct.Definition("empty", ct.Fixed("10"))
				def.Discount = nil
				return def
			}(),
			wantErr: true,
		},
		{
			name:    "zero fixed amount",
			def:     ct.Definition("zero", ct.Fixed("0")),
			wantErr: true,
		},
		{
			name:    "bundle needs two products",
			def:     ct.Definition("bundle", coupon.BundleDiscount{Products: []string{"a"}, Amount: coupon.Amount{Fixed: d("5")}}),
			wantErr: true,
		},
		{
			name: "amount with both fixed and percent",
			def: ct.Definition("both", coupon.NewUserBonus{
				Amount: coupon.Amount{Fixed: d("5"), Percent: d("10")},
			}),
			wantErr: true,
		},
		{
			name:    "bad condition operator",
			def:     ct.Definition("op", ct.Fixed("10"), ct.Conditions(coupon.MinOrderAmount{Op: coupon.OpIn, Amount: d("1")})),
			wantErr: true,
		},
		{
			name:    "relative validity without days",
			def:     ct.Definition("rel", ct.Fixed("10"), ct.RelativeDays(0)),
			wantErr: true,
		},
		{
			name:    "unknown stacking type",
			def:     ct.Definition("stack", ct.Fixed("10"), ct.Stacking("sometimes")),
			wantErr: true,
		},
		{
			name: "unknown condition is accepted",
			def: ct.Definition("future", ct.Fixed("10"), ct.Conditions(coupon.UnknownCondition{
				Kind: "weather", Op: "eq", Raw: []byte(`"sunny"`),
			})),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, coupon.ErrInvalidDefinition))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidity(t *testing.T) {
	start := ct.Epoch.AddDate(0, 0, -1)
	end := ct.Epoch.AddDate(0, 0, 1)

	fixed := coupon.Validity{Kind: coupon.ValidityFixed, Start: start, End: end}
	assert.True(t, fixed.Contains(ct.Epoch))
	assert.False(t, fixed.Contains(start.Add(-time.Second)))
	assert.False(t, fixed.Contains(end))
	assert.Equal(t, end, fixed.ExpiresAt(ct.Epoch))

	rel := coupon.Validity{Kind: coupon.ValidityRelativeDays, Days: 7}
	assert.True(t, rel.Contains(ct.Epoch))
	assert.Equal(t, ct.Epoch.AddDate(0, 0, 7), rel.ExpiresAt(ct.Epoch))

	perm := coupon.Validity{Kind: coupon.ValidityPermanent}
	assert.True(t, perm.ExpiresAt(ct.Epoch).IsZero())
}

func TestUserCouponExpired(t *testing.T) {
	uc := coupon.UserCoupon{ExpiresAt: ct.Epoch}
	assert.False(t, uc.Expired(ct.Epoch.Add(-time.Second)))
	assert.True(t, uc.Expired(ct.Epoch))

	forever := coupon.UserCoupon{}
	assert.False(t, forever.Expired(ct.Epoch.AddDate(100, 0, 0)))
}

func TestAmountOf(t *testing.T) {
	tests := []struct {
		name   string
		amount coupon.Amount
		base   string
		want   string
	}{
		{"fixed ignores base", coupon.Amount{Fixed: d("15")}, "100", "15"},
		{"percent of base", coupon.Amount{Percent: d("12.5")}, "80", "10"},
		{"percent capped", coupon.Amount{Percent: d("50"), Max: d("20")}, "100", "20"},
		{"rounded to cents", coupon.Amount{Percent: d("33")}, "10.01", "3.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.amount.Of(d(tt.base))
			assert.True(t, d(tt.want).Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestNewCart(t *testing.T) {
	cart := ct.Cart("9.99",
		ct.Item("p1", "books", "10.50", 2),
		ct.Item("p2", "games", "4.00", 3),
	)
	assert.True(t, d("33").Equal(cart.Subtotal))
	assert.Equal(t, 5, cart.TotalQuantity)
	assert.True(t, d("9.99").Equal(cart.ShippingCost))
}

func TestStackingPermits(t *testing.T) {
	tests := []struct {
		name  string
		rule  coupon.StackingRule
		other coupon.DiscountType
		want  bool
	}{
		{"allow all", coupon.StackingRule{Type: coupon.StackAllowAll}, coupon.DiscountCashback, true},
		{
			"allow all with incompatible",
			coupon.StackingRule{Type: coupon.StackAllowAll, IncompatibleTypes: []coupon.DiscountType{coupon.DiscountCashback}},
			coupon.DiscountCashback, false,
		},
		{
			"selective listed",
			coupon.StackingRule{Type: coupon.StackSelective, CompatibleTypes: []coupon.DiscountType{coupon.DiscountFreeShipping}},
			coupon.DiscountFreeShipping, true,
		},
		{
			"selective unlisted",
			coupon.StackingRule{Type: coupon.StackSelective, CompatibleTypes: []coupon.DiscountType{coupon.DiscountFreeShipping}},
			coupon.DiscountPercentage, false,
		},
		{"exclusive", coupon.StackingRule{Type: coupon.StackExclusive}, coupon.DiscountFreeShipping, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Permits(tt.other))
		})
	}
}

func TestRegistryRuleGoverns(t *testing.T) {
	r := coupon.RegistryRule{
		Name:      "cashback is standalone",
		AppliesTo: []coupon.DiscountType{coupon.DiscountCashback},
		Type:      coupon.StackExclusive,
		Active:    true,
	}
	require.NoError(t, r.Validate())
	assert.True(t, r.Governs(coupon.DiscountCashback))
	assert.False(t, r.Governs(coupon.DiscountPercentage))

	r.Active = false
	assert.False(t, r.Governs(coupon.DiscountCashback))
}

func TestTimeRangeContains(t *testing.T) {
	day := coupon.TimeRange{Start: 9 * 60, End: 17 * 60}
	assert.True(t, day.Contains(9*60))
	assert.False(t, day.Contains(17*60))

	night := coupon.TimeRange{Start: 22 * 60, End: 6 * 60}
	assert.True(t, night.Contains(23*60))
	assert.True(t, night.Contains(60))
	assert.False(t, night.Contains(12*60))
}
