// Package memory provides in-process implementations of the storage
// interfaces. It backs local runs without a database and the tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
	"github.com/xenking/oolio-coupon-engine/internal/domain/redemption"
)

var (
	_ coupon.Repository             = (*Store)(nil)
	_ coupon.WalletRepository       = (*Store)(nil)
	_ coupon.StackingRuleRepository = (*Store)(nil)
	_ coupon.UsageRepository        = (*Store)(nil)
	_ coupon.ProfileRepository      = (*Store)(nil)
	_ redemption.Store              = (*Store)(nil)
)

// Store keeps coupon definitions, wallets, registry rules, usage counters
// receipts and user profiles in maps guarded by one mutex.
type Store struct {
	mu       sync.RWMutex
	coupons  map[string]coupon.Definition
	wallet   map[string]coupon.UserCoupon
	rules    map[string]coupon.RegistryRule
	total    map[string]int
	daily    map[string]int
	perUser  map[string]int
	receipts map[string]redemption.Receipt
	profiles map[string]coupon.Profile
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		coupons:  map[string]coupon.Definition{},
		wallet:   map[string]coupon.UserCoupon{},
		rules:    map[string]coupon.RegistryRule{},
		total:    map[string]int{},
		daily:    map[string]int{},
		perUser:  map[string]int{},
		receipts: map[string]redemption.Receipt{},
		profiles: map[string]coupon.Profile{},
	}
}

func dayKey(couponID string, day time.Time) string {
	return couponID + "|" + day.UTC().Format(time.DateOnly)
}

func userKey(userID, couponID string) string {
	return userID + "|" + couponID
}

// FindCouponByID returns the definition with the given id.
func (s *Store) FindCouponByID(_ context.Context, id string) (*coupon.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.coupons[id]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return &d, nil
}

// FindCouponByCode returns the definition with the given code, ignoring case.
func (s *Store) FindCouponByCode(_ context.Context, code string) (*coupon.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.coupons {
		if strings.EqualFold(d.Code, code) {
			return &d, nil
		}
	}
	return nil, coupon.ErrNotFound
}

// FindCouponsByIDs returns the existing definitions among ids.
func (s *Store) FindCouponsByIDs(_ context.Context, ids []string) ([]coupon.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]coupon.Definition, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.coupons[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// ListCoupons returns every definition ordered by id.
func (s *Store) ListCoupons(_ context.Context) ([]coupon.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]coupon.Definition, 0, len(s.coupons))
	for _, d := range s.coupons {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b coupon.Definition) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// SaveCoupon inserts or replaces a definition. Codes are unique ignoring case.
func (s *Store) SaveCoupon(_ context.Context, d *coupon.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.coupons {
		if id != d.ID && strings.EqualFold(existing.Code, d.Code) {
			return coupon.ErrDuplicateCode
		}
	}
	s.coupons[d.ID] = *d
	return nil
}

// FindUserCoupons returns the user's wallet ordered by obtain time and id.
func (s *Store) FindUserCoupons(_ context.Context, userID string) ([]coupon.UserCoupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []coupon.UserCoupon
	for _, uc := range s.wallet {
		if uc.UserID == userID {
			out = append(out, uc)
		}
	}
	slices.SortFunc(out, func(a, b coupon.UserCoupon) int {
		if c := a.ObtainedAt.Compare(b.ObtainedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// SaveUserCoupon inserts or replaces a wallet entry.
func (s *Store) SaveUserCoupon(_ context.Context, uc *coupon.UserCoupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wallet[uc.ID] = *uc
	return nil
}

// CountByCoupon counts issued and used instances of a definition.
func (s *Store) CountByCoupon(_ context.Context, couponID string) (issued, used int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, uc := range s.wallet {
		if uc.CouponID != couponID {
			continue
		}
		issued++
		if uc.Status == coupon.InstanceUsed {
			used++
		}
	}
	return issued, used, nil
}

// ListStackingRules returns registry rules ordered by priority and id.
func (s *Store) ListStackingRules(_ context.Context) ([]coupon.RegistryRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]coupon.RegistryRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b coupon.RegistryRule) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// SaveStackingRule inserts or replaces a registry rule.
func (s *Store) SaveStackingRule(_ context.Context, r *coupon.RegistryRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules[r.ID] = *r
	return nil
}

// Usage returns ledger counters for the given definitions.
func (s *Store) Usage(_ context.Context, userID string, couponIDs []string, day time.Time) (map[string]coupon.Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.usage(userID, couponIDs, day), nil
}

func (s *Store) usage(userID string, couponIDs []string, day time.Time) map[string]coupon.Usage {
	out := make(map[string]coupon.Usage, len(couponIDs))
	for _, id := range couponIDs {
		out[id] = coupon.Usage{
			Total: s.total[id],
			Daily: s.daily[dayKey(id, day)],
			User:  s.perUser[userKey(userID, id)],
		}
	}
	return out
}

// FindProfile returns the stored profile, or the zero Profile for unknown users.
func (s *Store) FindProfile(_ context.Context, userID string) (coupon.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[userID], nil
}

// SaveProfile stores a profile, replacing any previous one.
func (s *Store) SaveProfile(_ context.Context, userID string, p coupon.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = p
	return nil
}
