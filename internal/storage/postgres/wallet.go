package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
)

const (
	userCouponColumns = `id, user_id, coupon_id, status, obtained_at, expires_at, used_at, order_id, discount_amount, source`

	listUserCouponsSQL = `SELECT ` + userCouponColumns + ` FROM user_coupons
		WHERE user_id = $1 ORDER BY obtained_at, id`

	lockUserCouponsSQL = `SELECT ` + userCouponColumns + ` FROM user_coupons
		WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	saveUserCouponSQL = `INSERT INTO user_coupons (` + userCouponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, expires_at = EXCLUDED.expires_at, used_at = EXCLUDED.used_at,
			order_id = EXCLUDED.order_id, discount_amount = EXCLUDED.discount_amount`

	countByCouponSQL = `SELECT count(*), count(*) FILTER (WHERE status = 'used')
		FROM user_coupons WHERE coupon_id = $1`

	listRulesSQL = `SELECT id, name, applies_to, stacking_type, compatible_types, incompatible_types,
		max_stack_count, priority, active
		FROM stacking_rules ORDER BY priority, id`

	saveRuleSQL = `INSERT INTO stacking_rules (id, name, applies_to, stacking_type, compatible_types,
		incompatible_types, max_stack_count, priority, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, applies_to = EXCLUDED.applies_to, stacking_type = EXCLUDED.stacking_type,
			compatible_types = EXCLUDED.compatible_types, incompatible_types = EXCLUDED.incompatible_types,
			max_stack_count = EXCLUDED.max_stack_count, priority = EXCLUDED.priority, active = EXCLUDED.active`
)

var (
	_ coupon.WalletRepository       = (*WalletRepository)(nil)
	_ coupon.StackingRuleRepository = (*WalletRepository)(nil)
)

// WalletRepository stores issued wallet entries and the stacking registry.
type WalletRepository struct {
	pool *pgxpool.Pool
}

// NewWalletRepository returns a WalletRepository that uses the given pool.
func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

// FindUserCoupons returns the user's wallet ordered by obtain time.
func (r *WalletRepository) FindUserCoupons(ctx context.Context, userID string) ([]coupon.UserCoupon, error) {
	rows, err := r.pool.Query(ctx, listUserCouponsSQL, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "list wallet of %q", userID)
	}
	return pgx.CollectRows(rows, scanUserCoupon)
}

// SaveUserCoupon inserts or updates a wallet entry.
func (r *WalletRepository) SaveUserCoupon(ctx context.Context, uc *coupon.UserCoupon) error {
	return saveUserCoupon(ctx, r.pool, uc)
}

// CountByCoupon counts issued and used instances of a definition.
func (r *WalletRepository) CountByCoupon(ctx context.Context, couponID string) (issued, used int, err error) {
	rows, err := r.pool.Query(ctx, countByCouponSQL, couponID)
	if err != nil {
		return 0, 0, errors.Wrap(err, "count wallet entries")
	}
	type counts struct{ issued, used int }
	c, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (counts, error) {
		var c counts
		return c, row.Scan(&c.issued, &c.used)
	})
	if err != nil {
		return 0, 0, errors.Wrap(err, "count wallet entries")
	}
	return c.issued, c.used, nil
}

// ListStackingRules returns the registry ordered by priority.
func (r *WalletRepository) ListStackingRules(ctx context.Context) ([]coupon.RegistryRule, error) {
	rows, err := r.pool.Query(ctx, listRulesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list stacking rules")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (coupon.RegistryRule, error) {
		var (
			rule                                coupon.RegistryRule
			stackType                           string
			appliesTo, compatible, incompatible []string
		)
		err := row.Scan(&rule.ID, &rule.Name, &appliesTo, &stackType, &compatible, &incompatible,
			&rule.MaxStackCount, &rule.Priority, &rule.Active)
		rule.Type = coupon.StackingType(stackType)
		rule.AppliesTo = discountTypes(appliesTo)
		rule.CompatibleTypes = discountTypes(compatible)
		rule.IncompatibleTypes = discountTypes(incompatible)
		return rule, err
	})
}

// SaveStackingRule inserts or replaces a registry rule.
func (r *WalletRepository) SaveStackingRule(ctx context.Context, rule *coupon.RegistryRule) error {
	_, err := r.pool.Exec(ctx, saveRuleSQL,
		rule.ID, rule.Name, typeStrings(rule.AppliesTo), string(rule.Type),
		typeStrings(rule.CompatibleTypes), typeStrings(rule.IncompatibleTypes),
		rule.MaxStackCount, rule.Priority, rule.Active,
	)
	if err != nil {
		return errors.Wrapf(err, "save stacking rule %q", rule.ID)
	}
	return nil
}

func saveUserCoupon(ctx context.Context, q querier, uc *coupon.UserCoupon) error {
	_, err := q.Exec(ctx, saveUserCouponSQL,
		uc.ID, uc.UserID, uc.CouponID, string(uc.Status), uc.ObtainedAt, nullTime(uc.ExpiresAt),
		uc.UsedAt, uc.OrderID, uc.DiscountAmount, uc.Source,
	)
	if err != nil {
		return errors.Wrapf(err, "save wallet entry %q", uc.ID)
	}
	return nil
}

func scanUserCoupon(row pgx.CollectableRow) (coupon.UserCoupon, error) {
	var (
		uc      coupon.UserCoupon
		status  string
		expires *time.Time
	)
	err := row.Scan(&uc.ID, &uc.UserID, &uc.CouponID, &status, &uc.ObtainedAt, &expires,
		&uc.UsedAt, &uc.OrderID, &uc.DiscountAmount, &uc.Source)
	uc.Status = coupon.InstanceStatus(status)
	uc.ObtainedAt = uc.ObtainedAt.UTC()
	uc.ExpiresAt = fromNullTime(expires)
	return uc, err
}
