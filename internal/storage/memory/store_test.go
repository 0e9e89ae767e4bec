package memory

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-coupon-engine/internal/domain/checkout"
	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
	ct "github.com/xenking/oolio-coupon-engine/internal/domain/coupon/coupontest"
	"github.com/xenking/oolio-coupon-engine/internal/domain/redemption"
)

func TestStore_SaveCouponCodeUnique(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.SaveCoupon(ctx, ct.Definition("a", ct.Fixed("5"))))
	dup := ct.Definition("b", ct.Fixed("5"))
	dup.Code = "a"
	require.ErrorIs(t, s.SaveCoupon(ctx, dup), coupon.ErrDuplicateCode)

	got, err := s.FindCouponByCode(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	_, err = s.FindCouponByID(ctx, "b")
	require.ErrorIs(t, err, coupon.ErrNotFound)
}

func TestStore_WalletAndCounts(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	def := ct.Definition("a", ct.Fixed("5"))
	require.NoError(t, s.SaveCoupon(ctx, def))

	late := ct.Instance("uc2", "u1", def)
	early := ct.Instance("uc1", "u1", def)
	early.ObtainedAt = early.ObtainedAt.Add(-time.Hour)
	used := ct.Used(ct.Instance("uc3", "u2", def), "o1")
	for _, uc := range []coupon.UserCoupon{late, early, used} {
		require.NoError(t, s.SaveUserCoupon(ctx, &uc))
	}

	wallet, err := s.FindUserCoupons(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, wallet, 2)
	assert.Equal(t, "uc1", wallet[0].ID)

	issued, usedN, err := s.CountByCoupon(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 3, issued)
	assert.Equal(t, 1, usedN)
}

func TestStore_InTxRollback(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	def := ct.Definition("a", ct.Fixed("5"))
	require.NoError(t, s.SaveCoupon(ctx, def))
	uc := ct.Instance("uc1", "u1", def)
	require.NoError(t, s.SaveUserCoupon(ctx, &uc))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx redemption.Tx) error {
		ucs, err := tx.LockUserCoupons(ctx, []string{"uc1"})
		require.NoError(t, err)
		u := ucs["uc1"]
		u.Status = coupon.InstanceUsed
		require.NoError(t, tx.MarkUsed(ctx, u))
		require.NoError(t, tx.IncrementUsage(ctx, "u1", "a", ct.Epoch))

		usage, err := tx.Usage(ctx, "u1", []string{"a"}, ct.Epoch)
		require.NoError(t, err)
		assert.Equal(t, 1, usage["a"].Total, "tx sees its own writes")
		return boom
	})
	require.ErrorIs(t, err, boom)

	wallet, err := s.FindUserCoupons(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, coupon.InstanceAvailable, wallet[0].Status)
	usage, err := s.Usage(ctx, "u1", []string{"a"}, ct.Epoch)
	require.NoError(t, err)
	assert.Equal(t, coupon.Usage{}, usage["a"])
}

func TestStore_DailyUsageIsPerDay(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx redemption.Tx) error {
		return tx.IncrementUsage(ctx, "u1", "a", ct.Epoch)
	}))

	today, err := s.Usage(ctx, "u2", []string{"a"}, ct.Epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, coupon.Usage{Total: 1, Daily: 1}, today["a"])

	tomorrow, err := s.Usage(ctx, "u1", []string{"a"}, ct.Epoch.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, coupon.Usage{Total: 1, User: 1}, tomorrow["a"])
}

func TestQuoteStore_TTL(t *testing.T) {
	s := NewQuoteStore()
	now := ct.Epoch
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.SaveQuotes(ctx, []checkout.Quote{{UserID: "u1", CombinationID: "c1"}}, time.Minute))

	q, err := s.GetQuote(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", q.CombinationID)

	_, err = s.GetQuote(ctx, "u2", "c1")
	require.ErrorIs(t, err, checkout.ErrQuoteNotFound)

	now = now.Add(time.Minute)
	_, err = s.GetQuote(ctx, "u1", "c1")
	require.ErrorIs(t, err, checkout.ErrQuoteNotFound)
}

func TestLocker(t *testing.T) {
	l := NewLocker()
	now := ct.Epoch
	l.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := l.Lock(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Lock(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(time.Second)
	ok, err = l.Lock(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock can be taken")

	require.NoError(t, l.Unlock(ctx, "k"))
	ok, err = l.Lock(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
