package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
)

const (
	couponColumns = `id, code, name, description, discount_type, discount_config, conditions,
		total_usage_limit, per_user_limit, daily_limit, validity_type, start_date, end_date, validity_days,
		priority, stacking_type, compatible_types, incompatible_types, max_stack_count,
		status, created_at, updated_at`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE UPPER(code) = UPPER($1)`

	getCouponsByIDsSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = ANY($1) ORDER BY id`

	lockCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons ORDER BY id`

	saveCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code, name = EXCLUDED.name, description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type, discount_config = EXCLUDED.discount_config,
			conditions = EXCLUDED.conditions, total_usage_limit = EXCLUDED.total_usage_limit,
			per_user_limit = EXCLUDED.per_user_limit, daily_limit = EXCLUDED.daily_limit,
			validity_type = EXCLUDED.validity_type, start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date, validity_days = EXCLUDED.validity_days,
			priority = EXCLUDED.priority, stacking_type = EXCLUDED.stacking_type,
			compatible_types = EXCLUDED.compatible_types, incompatible_types = EXCLUDED.incompatible_types,
			max_stack_count = EXCLUDED.max_stack_count, status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	usageSQL = `SELECT c.id, c.total_used, COALESCE(d.used, 0), COALESCE(u.used, 0)
		FROM coupons c
		LEFT JOIN coupon_daily_usage d ON d.coupon_id = c.id AND d.day = $3
		LEFT JOIN coupon_user_usage u ON u.coupon_id = c.id AND u.user_id = $2
		WHERE c.id = ANY($1)`
)

var (
	_ coupon.Repository      = (*CouponRepository)(nil)
	_ coupon.UsageRepository = (*CouponRepository)(nil)
)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
// Discount configuration and conditions live in JSONB columns.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindCouponByID returns the definition with the given id.
func (r *CouponRepository) FindCouponByID(ctx context.Context, id string) (*coupon.Definition, error) {
	return findOneCoupon(ctx, r.pool, getCouponByIDSQL, id)
}

// FindCouponByCode looks a definition up by code, ignoring case.
func (r *CouponRepository) FindCouponByCode(ctx context.Context, code string) (*coupon.Definition, error) {
	return findOneCoupon(ctx, r.pool, getCouponByCodeSQL, code)
}

// FindCouponsByIDs returns the existing definitions among ids.
func (r *CouponRepository) FindCouponsByIDs(ctx context.Context, ids []string) ([]coupon.Definition, error) {
	rows, err := r.pool.Query(ctx, getCouponsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "find coupons")
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// ListCoupons returns every definition ordered by id.
func (r *CouponRepository) ListCoupons(ctx context.Context) ([]coupon.Definition, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// SaveCoupon inserts or replaces a definition.
func (r *CouponRepository) SaveCoupon(ctx context.Context, d *coupon.Definition) error {
	_, err := r.pool.Exec(ctx, saveCouponSQL, couponArgs(d)...)
	if err != nil {
		if isUniqueViolation(err, "coupons_code_key") {
			return coupon.ErrDuplicateCode
		}
		return errors.Wrapf(err, "save coupon %q", d.ID)
	}
	return nil
}

// Usage returns ledger counters for the given definitions.
func (r *CouponRepository) Usage(ctx context.Context, userID string, couponIDs []string, at time.Time) (map[string]coupon.Usage, error) {
	return queryUsage(ctx, r.pool, userID, couponIDs, at)
}

func queryUsage(ctx context.Context, q querier, userID string, couponIDs []string, at time.Time) (map[string]coupon.Usage, error) {
	rows, err := q.Query(ctx, usageSQL, couponIDs, userID, day(at))
	if err != nil {
		return nil, errors.Wrap(err, "query usage")
	}
	defer rows.Close()

	out := make(map[string]coupon.Usage, len(couponIDs))
	for rows.Next() {
		var (
			id string
			u  coupon.Usage
		)
		if err := rows.Scan(&id, &u.Total, &u.Daily, &u.User); err != nil {
			return nil, errors.Wrap(err, "scan usage")
		}
		out[id] = u
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "query usage")
	}
	return out, nil
}

func findOneCoupon(ctx context.Context, q querier, sql string, arg string) (*coupon.Definition, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", arg)
	}
	d, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", arg)
	}
	return &d, nil
}

func couponArgs(d *coupon.Definition) []any {
	de := &jx.Encoder{}
	if d.Discount != nil {
		coupon.EncodeDiscount(de, d.Discount)
	} else {
		de.ObjStart()
		de.ObjEnd()
	}
	ce := &jx.Encoder{}
	coupon.EncodeConditions(ce, d.Conditions)

	return []any{
		d.ID, d.Code, d.Name, d.Description, string(d.Type), de.Bytes(), ce.Bytes(),
		d.Limits.TotalUsage, d.Limits.PerUser, d.Limits.Daily,
		string(d.Validity.Kind), nullTime(d.Validity.Start), nullTime(d.Validity.End), d.Validity.Days,
		d.Stacking.Priority, string(d.Stacking.Type),
		typeStrings(d.Stacking.CompatibleTypes), typeStrings(d.Stacking.IncompatibleTypes),
		d.Stacking.MaxStackCount, string(d.Status), d.CreatedAt, d.UpdatedAt,
	}
}

// scanCoupon maps a row to a definition. A payload that fails to decode
// leaves Discount nil so validation excludes the definition instead of
// failing the whole query.
func scanCoupon(row pgx.CollectableRow) (coupon.Definition, error) {
	var (
		d                        coupon.Definition
		discountType, status     string
		validityKind, stackType  string
		discountRaw, condRaw     []byte
		start, end               *time.Time
		compatible, incompatible []string
	)
	err := row.Scan(
		&d.ID, &d.Code, &d.Name, &d.Description, &discountType, &discountRaw, &condRaw,
		&d.Limits.TotalUsage, &d.Limits.PerUser, &d.Limits.Daily,
		&validityKind, &start, &end, &d.Validity.Days,
		&d.Stacking.Priority, &stackType, &compatible, &incompatible, &d.Stacking.MaxStackCount,
		&status, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return d, err
	}

	d.Type = coupon.DiscountType(discountType)
	d.Status = coupon.Status(status)
	d.Validity.Kind = coupon.ValidityKind(validityKind)
	d.Validity.Start = fromNullTime(start)
	d.Validity.End = fromNullTime(end)
	d.Stacking.Type = coupon.StackingType(stackType)
	d.Stacking.CompatibleTypes = discountTypes(compatible)
	d.Stacking.IncompatibleTypes = discountTypes(incompatible)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()

	if disc, err := coupon.DecodeDiscount(d.Type, jx.DecodeBytes(discountRaw)); err == nil {
		d.Discount = disc
	}
	conds, err := coupon.DecodeConditions(jx.DecodeBytes(condRaw))
	if err != nil {
		d.Discount = nil
	} else {
		d.Conditions = conds
	}
	return d, nil
}

func typeStrings(ts []coupon.DiscountType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

func discountTypes(ss []string) []coupon.DiscountType {
	if len(ss) == 0 {
		return nil
	}
	out := make([]coupon.DiscountType, len(ss))
	for i, s := range ss {
		out[i] = coupon.DiscountType(s)
	}
	return out
}
