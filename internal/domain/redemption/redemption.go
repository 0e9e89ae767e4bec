// Package redemption commits an evaluated coupon combination against an
// order. It is the only place wallet entries and usage counters change.
package redemption

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
)

var (
	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("redemption conflict")
	// ErrReceiptNotFound is returned by Tx.ReceiptByOrder for unknown orders.
	ErrReceiptNotFound = errors.New("receipt not found")
	// ErrInvalidRequest is returned for requests missing user or order id.
	ErrInvalidRequest = errors.New("invalid commit request")
)

// Conflict reasons.
const (
	ConflictCouponNotFound     = "coupon_not_found"
	ConflictNotOwner           = "not_owner"
	ConflictNotAvailable       = "coupon_not_available"
	ConflictExpired            = "coupon_expired"
	ConflictDefinitionInactive = "definition_inactive"
	ConflictOutsideValidity    = "outside_validity"
	ConflictTotalLimit         = "total_limit_reached"
	ConflictDailyLimit         = "daily_limit_reached"
	ConflictPerUserLimit       = "per_user_limit_reached"
	ConflictOrderCommitted     = "order_already_committed"
	ConflictInProgress         = "commit_in_progress"
	ConflictDuplicateMember    = "duplicate_member"
)

// ConflictError reports that state changed between evaluation and commit.
// Callers should evaluate again and retry.
type ConflictError struct {
	OrderID      string
	UserCouponID string
	Reason       string
}

func (e *ConflictError) Error() string {
	if e.UserCouponID == "" {
		return fmt.Sprintf("redemption conflict for order %s: %s", e.OrderID, e.Reason)
	}
	return fmt.Sprintf("redemption conflict for order %s: coupon %s: %s", e.OrderID, e.UserCouponID, e.Reason)
}

// Is makes errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Member is one wallet entry of a committed combination.
type Member struct {
	UserCouponID string
	CouponID     string
	Amount       decimal.Decimal
}

// CommitRequest is the combination chosen at evaluation time.
type CommitRequest struct {
	UserID        string
	OrderID       string
	CombinationID string
	Members       []Member
	TotalDiscount decimal.Decimal
	Cashback      decimal.Decimal
}

// Receipt is the persisted proof of a commit. OrderID is unique.
type Receipt struct {
	ID            string
	OrderID       string
	UserID        string
	CombinationID string
	Members       []Member
	TotalDiscount decimal.Decimal
	Cashback      decimal.Decimal
	CommittedAt   time.Time
}

// Store runs fn in a single transaction. A non-nil error from fn rolls back
// every change made through tx.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional view of wallet, catalog and counters. Lock methods
// must hold their rows until the transaction ends.
type Tx interface {
	ReceiptByOrder(ctx context.Context, orderID string) (*Receipt, error)
	LockDefinitions(ctx context.Context, ids []string) (map[string]*coupon.Definition, error)
	LockUserCoupons(ctx context.Context, ids []string) (map[string]*coupon.UserCoupon, error)
	Usage(ctx context.Context, userID string, couponIDs []string, day time.Time) (map[string]coupon.Usage, error)
	MarkUsed(ctx context.Context, uc *coupon.UserCoupon) error
	IncrementUsage(ctx context.Context, userID, couponID string, day time.Time) error
	SaveReceipt(ctx context.Context, r *Receipt) error
}

// Locker is an optional cross-process guard taken per order before the
// transaction starts.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}
