package coupon

import (
	"context"
	"time"
)

// Repository provides read and admin write access to coupon definitions.
type Repository interface {
	FindCouponByID(ctx context.Context, id string) (*Definition, error)
	FindCouponByCode(ctx context.Context, code string) (*Definition, error)
	// FindCouponsByIDs returns the definitions that exist; missing ids are skipped.
	FindCouponsByIDs(ctx context.Context, ids []string) ([]Definition, error)
	ListCoupons(ctx context.Context) ([]Definition, error)
	SaveCoupon(ctx context.Context, d *Definition) error
}

// WalletRepository provides access to issued wallet entries.
type WalletRepository interface {
	FindUserCoupons(ctx context.Context, userID string) ([]UserCoupon, error)
	SaveUserCoupon(ctx context.Context, uc *UserCoupon) error
	// CountByCoupon returns how many instances of a definition were issued
	// and how many of them were used.
	CountByCoupon(ctx context.Context, couponID string) (issued, used int, err error)
}

// StackingRuleRepository stores the cross-coupon stacking registry.
type StackingRuleRepository interface {
	ListStackingRules(ctx context.Context) ([]RegistryRule, error)
	SaveStackingRule(ctx context.Context, r *RegistryRule) error
}

// UsageRepository reads redemption-ledger counters. Daily counts are taken
// for the UTC calendar day containing day.
type UsageRepository interface {
	Usage(ctx context.Context, userID string, couponIDs []string, day time.Time) (map[string]Usage, error)
}

// ProfileRepository stores the user attributes conditions match on. An
// unknown user has the zero Profile.
type ProfileRepository interface {
	FindProfile(ctx context.Context, userID string) (Profile, error)
	SaveProfile(ctx context.Context, userID string, p Profile) error
}
