package memory

import (
	"context"
	"time"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
	"github.com/xenking/oolio-coupon-engine/internal/domain/redemption"
)

// InTx runs fn holding the store's write lock. Writes are buffered and
// applied only when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx redemption.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &ledgerTx{
		s:     s,
		used:  map[string]coupon.UserCoupon{},
		usage: map[string]int{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

type increment struct {
	userID   string
	couponID string
	day      time.Time
}

type ledgerTx struct {
	s       *Store
	used    map[string]coupon.UserCoupon
	incs    []increment
	usage   map[string]int
	receipt *redemption.Receipt
}

var _ redemption.Tx = (*ledgerTx)(nil)

func (tx *ledgerTx) ReceiptByOrder(_ context.Context, orderID string) (*redemption.Receipt, error) {
	r, ok := tx.s.receipts[orderID]
	if !ok {
		return nil, redemption.ErrReceiptNotFound
	}
	return &r, nil
}

func (tx *ledgerTx) LockDefinitions(_ context.Context, ids []string) (map[string]*coupon.Definition, error) {
	out := make(map[string]*coupon.Definition, len(ids))
	for _, id := range ids {
		if d, ok := tx.s.coupons[id]; ok {
			out[id] = &d
		}
	}
	return out, nil
}

func (tx *ledgerTx) LockUserCoupons(_ context.Context, ids []string) (map[string]*coupon.UserCoupon, error) {
	out := make(map[string]*coupon.UserCoupon, len(ids))
	for _, id := range ids {
		uc, ok := tx.used[id]
		if !ok {
			uc, ok = tx.s.wallet[id]
		}
		if ok {
			out[id] = &uc
		}
	}
	return out, nil
}

func (tx *ledgerTx) Usage(_ context.Context, userID string, couponIDs []string, day time.Time) (map[string]coupon.Usage, error) {
	out := tx.s.usage(userID, couponIDs, day)
	for id, u := range out {
		u.Total += tx.usage[id]
		u.Daily += tx.usage[dayKey(id, day)]
		u.User += tx.usage[userKey(userID, id)]
		out[id] = u
	}
	return out, nil
}

func (tx *ledgerTx) MarkUsed(_ context.Context, uc *coupon.UserCoupon) error {
	if _, ok := tx.s.wallet[uc.ID]; !ok {
		return coupon.ErrNotFound
	}
	tx.used[uc.ID] = *uc
	return nil
}

func (tx *ledgerTx) IncrementUsage(_ context.Context, userID, couponID string, day time.Time) error {
	tx.incs = append(tx.incs, increment{userID: userID, couponID: couponID, day: day})
	tx.usage[couponID]++
	tx.usage[dayKey(couponID, day)]++
	tx.usage[userKey(userID, couponID)]++
	return nil
}

func (tx *ledgerTx) SaveReceipt(_ context.Context, r *redemption.Receipt) error {
	if _, ok := tx.s.receipts[r.OrderID]; ok {
		return &redemption.ConflictError{OrderID: r.OrderID, Reason: redemption.ConflictOrderCommitted}
	}
	tx.receipt = r
	return nil
}

func (tx *ledgerTx) apply() {
	s := tx.s
	for id, uc := range tx.used {
		s.wallet[id] = uc
	}
	for _, inc := range tx.incs {
		s.total[inc.couponID]++
		s.daily[dayKey(inc.couponID, inc.day)]++
		s.perUser[userKey(inc.userID, inc.couponID)]++
	}
	if tx.receipt != nil {
		s.receipts[tx.receipt.OrderID] = *tx.receipt
	}
}
