package redemption

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
)

const instrumentationName = "github.com/xenking/oolio-coupon-engine/internal/domain/redemption"

// DefaultLockTTL bounds how long an order lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// Ledger commits combinations atomically.
type Ledger struct {
	store   Store
	locker  Locker
	lockTTL time.Duration
	now     func() time.Time
	tracer  trace.Tracer
	meter   metric.MeterProvider
	commits metric.Int64Counter
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLocker guards commits of one order across processes.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(led *Ledger) {
		led.locker = l
		if ttl > 0 {
			led.lockTTL = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(led *Ledger) { led.now = now }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(led *Ledger) { led.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(led *Ledger) { led.meter = mp }
}

// NewLedger creates a Ledger over store.
func NewLedger(store Store, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:   store,
		lockTTL: DefaultLockTTL,
		now:     time.Now,
		tracer:  tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:   noop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(l)
	}
	var err error
	l.commits, err = l.meter.Meter(instrumentationName).Int64Counter("coupon.ledger.commits",
		metric.WithDescription("Commit attempts by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "commits counter")
	}
	return l, nil
}

// Commit re-validates every member against current state and, only if all
// pass, marks them used and increments usage counters in one transaction.
//
// Committing the same order twice with the same combination returns the
// original receipt without touching counters. A different combination for
// an already committed order is a conflict.
func (l *Ledger) Commit(ctx context.Context, req CommitRequest) (_ *Receipt, rerr error) {
	ctx, span := l.tracer.Start(ctx, "redemption.Commit", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("coupon.combination", req.CombinationID),
		attribute.Int("coupon.members", len(req.Members)),
	))
	defer func() {
		result := "committed"
		switch {
		case errors.Is(rerr, ErrConflict):
			result = "conflict"
		case rerr != nil:
			result = "error"
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		l.commits.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
		span.End()
	}()

	if req.UserID == "" || req.OrderID == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "user and order id are required")
	}
	lg := zctx.From(ctx).With(
		zap.String("order_id", req.OrderID),
		zap.String("user_id", req.UserID),
		zap.String("combination_id", req.CombinationID),
	)

	if l.locker != nil {
		key := "commit:" + req.OrderID
		ok, err := l.locker.Lock(ctx, key, l.lockTTL)
		if err != nil {
			return nil, errors.Wrap(err, "acquire order lock")
		}
		if !ok {
			lg.Info("Commit rejected: order locked")
			return nil, &ConflictError{OrderID: req.OrderID, Reason: ConflictInProgress}
		}
		defer func() {
			if err := l.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
				lg.Warn("Release order lock", zap.Error(err))
			}
		}()
	}

	var (
		receipt *Receipt
		replay  bool
	)
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		existing, err := tx.ReceiptByOrder(ctx, req.OrderID)
		switch {
		case err == nil:
			if existing.UserID != req.UserID || existing.CombinationID != req.CombinationID {
				return &ConflictError{OrderID: req.OrderID, Reason: ConflictOrderCommitted}
			}
			receipt, replay = existing, true
			return nil
		case !errors.Is(err, ErrReceiptNotFound):
			return errors.Wrap(err, "find receipt")
		}

		r, err := l.apply(ctx, tx, req)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			lg.Info("Commit conflict",
				zap.String("user_coupon_id", conflict.UserCouponID),
				zap.String("reason", conflict.Reason),
			)
			return nil, err
		}
		return nil, errors.Wrap(err, "commit")
	}

	if replay {
		lg.Info("Commit replayed", zap.String("receipt_id", receipt.ID))
	} else {
		lg.Info("Commit succeeded",
			zap.String("receipt_id", receipt.ID),
			zap.Int("members", len(receipt.Members)),
			zap.String("discount", receipt.TotalDiscount.StringFixed(2)),
		)
	}
	return receipt, nil
}

// Receipt returns the receipt committed for orderID, or ErrReceiptNotFound.
func (l *Ledger) Receipt(ctx context.Context, orderID string) (*Receipt, error) {
	var receipt *Receipt
	if err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.ReceiptByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	}); err != nil {
		if errors.Is(err, ErrReceiptNotFound) {
			return nil, ErrReceiptNotFound
		}
		return nil, errors.Wrap(err, "find receipt")
	}
	return receipt, nil
}

func (l *Ledger) apply(ctx context.Context, tx Tx, req CommitRequest) (*Receipt, error) {
	now := l.now().UTC()

	members := slices.Clone(req.Members)
	sort.Slice(members, func(i, j int) bool { return members[i].UserCouponID < members[j].UserCouponID })

	var (
		ucIDs  []string
		defIDs []string
		seen   = map[string]bool{}
	)
	for _, m := range members {
		if seen["uc:"+m.UserCouponID] || seen["def:"+m.CouponID] {
			return nil, &ConflictError{OrderID: req.OrderID, UserCouponID: m.UserCouponID, Reason: ConflictDuplicateMember}
		}
		seen["uc:"+m.UserCouponID] = true
		seen["def:"+m.CouponID] = true
		ucIDs = append(ucIDs, m.UserCouponID)
		defIDs = append(defIDs, m.CouponID)
	}
	sort.Strings(defIDs)

	// Definitions first, in id order, so concurrent commits lock in the same order.
	defs, err := tx.LockDefinitions(ctx, defIDs)
	if err != nil {
		return nil, errors.Wrap(err, "lock definitions")
	}
	ucs, err := tx.LockUserCoupons(ctx, ucIDs)
	if err != nil {
		return nil, errors.Wrap(err, "lock wallet entries")
	}
	usage, err := tx.Usage(ctx, req.UserID, defIDs, now)
	if err != nil {
		return nil, errors.Wrap(err, "read usage")
	}

	for _, m := range members {
		if reason := revalidate(req.UserID, ucs[m.UserCouponID], defs[m.CouponID], usage[m.CouponID], now); reason != "" {
			return nil, &ConflictError{OrderID: req.OrderID, UserCouponID: m.UserCouponID, Reason: reason}
		}
	}

	for _, m := range members {
		uc := ucs[m.UserCouponID]
		usedAt := now
		uc.Status = coupon.InstanceUsed
		uc.UsedAt = &usedAt
		uc.OrderID = req.OrderID
		uc.DiscountAmount = m.Amount.Round(2)
		if err := tx.MarkUsed(ctx, uc); err != nil {
			return nil, errors.Wrapf(err, "mark %s used", uc.ID)
		}
		if err := tx.IncrementUsage(ctx, req.UserID, m.CouponID, now); err != nil {
			return nil, errors.Wrapf(err, "increment usage of %s", m.CouponID)
		}
	}

	r := &Receipt{
		ID:            uuid.NewString(),
		OrderID:       req.OrderID,
		UserID:        req.UserID,
		CombinationID: req.CombinationID,
		Members:       members,
		TotalDiscount: req.TotalDiscount.Round(2),
		Cashback:      req.Cashback.Round(2),
		CommittedAt:   now,
	}
	if r.TotalDiscount.IsNegative() {
		r.TotalDiscount = decimal.Zero
	}
	if err := tx.SaveReceipt(ctx, r); err != nil {
		return nil, errors.Wrap(err, "save receipt")
	}
	return r, nil
}

// revalidate repeats the eligibility checks that depend on mutable state.
func revalidate(userID string, uc *coupon.UserCoupon, def *coupon.Definition, u coupon.Usage, now time.Time) string {
	switch {
	case uc == nil || def == nil || uc.CouponID != def.ID:
		return ConflictCouponNotFound
	case uc.UserID != userID:
		return ConflictNotOwner
	case uc.Status != coupon.InstanceAvailable:
		return ConflictNotAvailable
	case uc.Expired(now):
		return ConflictExpired
	case def.Status != coupon.StatusActive:
		return ConflictDefinitionInactive
	case !def.Validity.Contains(now):
		return ConflictOutsideValidity
	case def.Limits.TotalUsage > 0 && u.Total >= def.Limits.TotalUsage:
		return ConflictTotalLimit
	case def.Limits.Daily > 0 && u.Daily >= def.Limits.Daily:
		return ConflictDailyLimit
	case def.Limits.PerUser > 0 && u.User >= def.Limits.PerUser:
		return ConflictPerUserLimit
	}
	return ""
}
