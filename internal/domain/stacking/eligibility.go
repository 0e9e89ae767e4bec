// Package stacking decides which of a user's wallet coupons apply to a cart:
// eligibility filtering, pairwise compatibility, combination enumeration,
// discount calculation and best-combination selection.
package stacking

import (
	"cmp"
	"slices"
	"sort"
	"time"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
)

// Reason is a machine-readable rejection code.
type Reason string

const (
	ReasonDefinitionNotFound Reason = "definition_not_found"
	ReasonInvalidConfig      Reason = "invalid_configuration"
	ReasonDefinitionInactive Reason = "definition_inactive"
	ReasonNotAvailable       Reason = "coupon_not_available"
	ReasonExpired            Reason = "coupon_expired"
	ReasonOutsideValidity    Reason = "outside_validity"
	ReasonAudienceMismatch   Reason = "audience_mismatch"
	ReasonBundleIncomplete   Reason = "bundle_incomplete"
	ReasonNoQualifyingItems  Reason = "no_qualifying_items"
	ReasonTotalLimit         Reason = "total_limit_reached"
	ReasonDailyLimit         Reason = "daily_limit_reached"
	ReasonPerUserLimit       Reason = "per_user_limit_reached"
)

// ConditionFailed is the rejection code for a failed condition of type t.
func ConditionFailed(t coupon.ConditionType) Reason {
	return Reason("condition_failed:" + string(t))
}

// Candidate is an eligible wallet entry paired with its definition.
type Candidate struct {
	Instance   coupon.UserCoupon
	Definition *coupon.Definition
}

// ID returns the wallet entry id.
func (c Candidate) ID() string { return c.Instance.ID }

// FilterInput is everything the filter needs; it performs no I/O.
type FilterInput struct {
	Wallet      []coupon.UserCoupon
	Definitions map[string]*coupon.Definition
	// Usage holds ledger counters keyed by definition id.
	Usage map[string]coupon.Usage
	Cart  coupon.Cart
	Now   time.Time
}

// UnknownHit records an unrecognised condition that was treated as passing.
type UnknownHit struct {
	UserCouponID string
	CouponID     string
	Kind         string
}

// FilterResult splits the wallet into eligible candidates and rejections.
type FilterResult struct {
	// Eligible is ordered by wallet entry id.
	Eligible   []Candidate
	Rejections map[string]Reason
	Unknown    []UnknownHit
	// Invalid holds configuration errors keyed by definition id.
	Invalid map[string]error
}

// Filter applies definition status, instance status, validity, conditions and
// usage limits to every wallet entry. All conditions must pass.
func Filter(in FilterInput) FilterResult {
	res := FilterResult{
		Rejections: make(map[string]Reason),
		Invalid:    make(map[string]error),
	}

	wallet := slices.Clone(in.Wallet)
	sort.Slice(wallet, func(i, j int) bool { return wallet[i].ID < wallet[j].ID })

	checked := make(map[string]bool)
	for _, uc := range wallet {
		def, ok := in.Definitions[uc.CouponID]
		if !ok || def == nil {
			res.Rejections[uc.ID] = ReasonDefinitionNotFound
			continue
		}
		if !checked[def.ID] {
			checked[def.ID] = true
			if err := def.Validate(); err != nil {
				res.Invalid[def.ID] = err
			}
		}
		if _, bad := res.Invalid[def.ID]; bad {
			res.Rejections[uc.ID] = ReasonInvalidConfig
			continue
		}

		reason, unknown := check(uc, def, in)
		for _, kind := range unknown {
			res.Unknown = append(res.Unknown, UnknownHit{UserCouponID: uc.ID, CouponID: def.ID, Kind: kind})
		}
		if reason != "" {
			res.Rejections[uc.ID] = reason
			continue
		}
		res.Eligible = append(res.Eligible, Candidate{Instance: uc, Definition: def})
	}
	return res
}

func check(uc coupon.UserCoupon, def *coupon.Definition, in FilterInput) (Reason, []string) {
	switch {
	case def.Status != coupon.StatusActive:
		return ReasonDefinitionInactive, nil
	case uc.Status != coupon.InstanceAvailable:
		return ReasonNotAvailable, nil
	case uc.Expired(in.Now):
		return ReasonExpired, nil
	case !def.Validity.Contains(in.Now):
		return ReasonOutsideValidity, nil
	}

	var unknown []string
	for _, c := range def.Conditions {
		ok, known := EvaluateCondition(c, in.Cart, in.Now)
		if !known {
			unknown = append(unknown, string(c.Type()))
			continue
		}
		if !ok {
			return ConditionFailed(c.Type()), unknown
		}
	}
	if r := audience(def.Discount, in.Cart, in.Now); r != "" {
		return r, unknown
	}
	return limitReason(def.Limits, in.Usage[def.ID]), unknown
}

// limitReason reports which limit has no headroom left for one more use.
func limitReason(l coupon.Limits, u coupon.Usage) Reason {
	switch {
	case l.TotalUsage > 0 && u.Total >= l.TotalUsage:
		return ReasonTotalLimit
	case l.Daily > 0 && u.Daily >= l.Daily:
		return ReasonDailyLimit
	case l.PerUser > 0 && u.User >= l.PerUser:
		return ReasonPerUserLimit
	}
	return ""
}

// audience applies the restrictions carried by the discount payload itself.
func audience(disc coupon.Discount, cart coupon.Cart, now time.Time) Reason {
	switch v := disc.(type) {
	case coupon.Percentage:
		if v.MinOrderAmount.IsPositive() && cart.Subtotal.LessThan(v.MinOrderAmount) {
			return ConditionFailed(coupon.ConditionMinOrderAmount)
		}
	case coupon.MemberExclusive:
		if !slices.Contains(v.Levels, cart.Profile.Level) {
			return ReasonAudienceMismatch
		}
	case coupon.NewUserBonus:
		if !cart.Profile.IsNewCustomer {
			return ReasonAudienceMismatch
		}
	case coupon.BirthdayGift:
		if cart.Profile.Birthday == nil || cart.Profile.Birthday.Month() != now.Month() {
			return ReasonAudienceMismatch
		}
	case coupon.BundleDiscount:
		if bundleCount(v.Products, cart.Items) == 0 {
			return ReasonBundleIncomplete
		}
	case coupon.BuyOneGetOne:
		if len(qualifyingUnits(v, cart.Items)) < v.Buy+v.Get {
			return ReasonNoQualifyingItems
		}
	}
	return ""
}

// EvaluateCondition reports whether c holds for the cart at now. known is
// false for condition kinds this build does not recognise; those pass.
func EvaluateCondition(c coupon.Condition, cart coupon.Cart, now time.Time) (ok, known bool) {
	switch v := c.(type) {
	case coupon.MinOrderAmount:
		return v.Op.Compare(cart.Subtotal.Cmp(v.Amount)), true
	case coupon.MinQuantity:
		return v.Op.Compare(cmp.Compare(cart.TotalQuantity, v.Quantity)), true
	case coupon.MemberLevel:
		return v.Op.Member(slices.Contains(v.Levels, cart.Profile.Level)), true
	case coupon.FirstOrder:
		return cart.Profile.IsNewCustomer == v.Required, true
	case coupon.ProductCategory:
		return v.Op.Member(anyItem(cart.Items, func(it coupon.Item) bool {
			return slices.Contains(v.Categories, it.Category)
		})), true
	case coupon.Brand:
		return v.Op.Member(anyItem(cart.Items, func(it coupon.Item) bool {
			return slices.Contains(v.Brands, it.Brand)
		})), true
	case coupon.DayOfWeek:
		return v.Op.Member(slices.Contains(v.Days, now.Weekday())), true
	case coupon.TimeRange:
		return v.Contains(now.Hour()*60 + now.Minute()), true
	case coupon.Location:
		return v.Op.Member(slices.Contains(v.Regions, cart.Location)), true
	case coupon.PaymentMethod:
		return v.Op.Member(slices.Contains(v.Methods, cart.PaymentMethod)), true
	default:
		return true, false
	}
}

func anyItem(items []coupon.Item, f func(coupon.Item) bool) bool {
	for _, it := range items {
		if it.Quantity > 0 && f(it) {
			return true
		}
	}
	return false
}
