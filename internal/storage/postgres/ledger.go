package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
	"github.com/xenking/oolio-coupon-engine/internal/domain/redemption"
)

const (
	getReceiptSQL = `SELECT id, order_id, user_id, combination_id, members, total_discount, cashback, committed_at
		FROM redemption_receipts WHERE order_id = $1`

	saveReceiptSQL = `INSERT INTO redemption_receipts
		(id, order_id, user_id, combination_id, members, total_discount, cashback, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	incrementTotalSQL = `UPDATE coupons SET total_used = total_used + 1 WHERE id = $1`

	incrementDailySQL = `INSERT INTO coupon_daily_usage (coupon_id, day, used) VALUES ($1, $2, 1)
		ON CONFLICT (coupon_id, day) DO UPDATE SET used = coupon_daily_usage.used + 1`

	incrementUserSQL = `INSERT INTO coupon_user_usage (coupon_id, user_id, used) VALUES ($1, $2, 1)
		ON CONFLICT (coupon_id, user_id) DO UPDATE SET used = coupon_user_usage.used + 1`
)

var _ redemption.Store = (*LedgerStore)(nil)

// LedgerStore runs redemption commits in PostgreSQL transactions. Rows are
// locked with SELECT ... FOR UPDATE in id order.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore returns a LedgerStore that uses the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// InTx runs fn in a transaction that commits only when fn returns nil.
func (s *LedgerStore) InTx(ctx context.Context, fn func(ctx context.Context, tx redemption.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &ledgerTx{tx: tx})
	})
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) ReceiptByOrder(ctx context.Context, orderID string) (*redemption.Receipt, error) {
	rows, err := t.tx.Query(ctx, getReceiptSQL, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "query receipt")
	}
	r, err := pgx.CollectExactlyOneRow(rows, scanReceipt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, redemption.ErrReceiptNotFound
		}
		return nil, errors.Wrap(err, "query receipt")
	}
	return &r, nil
}

func (t *ledgerTx) LockDefinitions(ctx context.Context, ids []string) (map[string]*coupon.Definition, error) {
	rows, err := t.tx.Query(ctx, lockCouponsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock coupons")
	}
	defs, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, errors.Wrap(err, "lock coupons")
	}
	out := make(map[string]*coupon.Definition, len(defs))
	for i := range defs {
		out[defs[i].ID] = &defs[i]
	}
	return out, nil
}

func (t *ledgerTx) LockUserCoupons(ctx context.Context, ids []string) (map[string]*coupon.UserCoupon, error) {
	rows, err := t.tx.Query(ctx, lockUserCouponsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock wallet entries")
	}
	ucs, err := pgx.CollectRows(rows, scanUserCoupon)
	if err != nil {
		return nil, errors.Wrap(err, "lock wallet entries")
	}
	out := make(map[string]*coupon.UserCoupon, len(ucs))
	for i := range ucs {
		out[ucs[i].ID] = &ucs[i]
	}
	return out, nil
}

func (t *ledgerTx) Usage(ctx context.Context, userID string, couponIDs []string, at time.Time) (map[string]coupon.Usage, error) {
	return queryUsage(ctx, t.tx, userID, couponIDs, at)
}

func (t *ledgerTx) MarkUsed(ctx context.Context, uc *coupon.UserCoupon) error {
	return saveUserCoupon(ctx, t.tx, uc)
}

func (t *ledgerTx) IncrementUsage(ctx context.Context, userID, couponID string, at time.Time) error {
	if _, err := t.tx.Exec(ctx, incrementTotalSQL, couponID); err != nil {
		return errors.Wrap(err, "increment total usage")
	}
	if _, err := t.tx.Exec(ctx, incrementDailySQL, couponID, day(at)); err != nil {
		return errors.Wrap(err, "increment daily usage")
	}
	if _, err := t.tx.Exec(ctx, incrementUserSQL, couponID, userID); err != nil {
		return errors.Wrap(err, "increment user usage")
	}
	return nil
}

// SaveReceipt inserts the receipt. A concurrent commit of the same order
// surfaces as a unique violation and is reported as a conflict.
func (t *ledgerTx) SaveReceipt(ctx context.Context, r *redemption.Receipt) error {
	_, err := t.tx.Exec(ctx, saveReceiptSQL,
		r.ID, r.OrderID, r.UserID, r.CombinationID, encodeMembers(r.Members),
		r.TotalDiscount, r.Cashback, r.CommittedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return &redemption.ConflictError{OrderID: r.OrderID, Reason: redemption.ConflictOrderCommitted}
		}
		return errors.Wrap(err, "insert receipt")
	}
	return nil
}

func scanReceipt(row pgx.CollectableRow) (redemption.Receipt, error) {
	var (
		r       redemption.Receipt
		members []byte
	)
	if err := row.Scan(&r.ID, &r.OrderID, &r.UserID, &r.CombinationID, &members,
		&r.TotalDiscount, &r.Cashback, &r.CommittedAt); err != nil {
		return r, err
	}
	r.CommittedAt = r.CommittedAt.UTC()
	m, err := decodeMembers(members)
	if err != nil {
		return r, errors.Wrap(err, "decode receipt members")
	}
	r.Members = m
	return r, nil
}

func encodeMembers(members []redemption.Member) []byte {
	e := &jx.Encoder{}
	e.ArrStart()
	for _, m := range members {
		e.ObjStart()
		e.FieldStart("userCouponId")
		e.Str(m.UserCouponID)
		e.FieldStart("couponId")
		e.Str(m.CouponID)
		e.FieldStart("amount")
		e.Str(m.Amount.String())
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

func decodeMembers(raw []byte) ([]redemption.Member, error) {
	var out []redemption.Member
	err := jx.DecodeBytes(raw).Arr(func(d *jx.Decoder) error {
		var m redemption.Member
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "userCouponId":
				v, err := d.Str()
				m.UserCouponID = v
				return err
			case "couponId":
				v, err := d.Str()
				m.CouponID = v
				return err
			case "amount":
				s, err := d.Str()
				if err != nil {
					return err
				}
				m.Amount, err = decimal.NewFromString(s)
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}
