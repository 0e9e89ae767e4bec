package stacking

import (
	"cmp"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
)

// Policy ranks scored combinations. Compare returns a negative number when a
// should be preferred over b. Implementations must be total so that the
// ranking is deterministic.
type Policy interface {
	Name() string
	Compare(a, b *Scored) int
}

// Policy names accepted by ParsePolicy.
const (
	PolicyMaxDiscount      = "max_discount"
	PolicyMaxConsumption   = "max_consumption"
	PolicyProtectHighValue = "protect_high_value"
)

// ParsePolicy resolves a policy by name. protected is only used by
// protect_high_value.
func ParsePolicy(name string, protected []string) (Policy, error) {
	switch name {
	case "", PolicyMaxDiscount:
		return MaxDiscount{}, nil
	case PolicyMaxConsumption:
		return MaxConsumption{}, nil
	case PolicyProtectHighValue:
		return NewProtectHighValue(protected...), nil
	default:
		return nil, errors.Errorf("unknown selection policy %q", name)
	}
}

// MaxDiscount prefers the largest reduction of the amount due, then the
// largest cashback, then fewer coupons, then the lowest priority sum, then
// the combination id.
type MaxDiscount struct{}

func (MaxDiscount) Name() string { return PolicyMaxDiscount }

func (MaxDiscount) Compare(a, b *Scored) int {
	if c := b.TotalDiscount.Cmp(a.TotalDiscount); c != 0 {
		return c
	}
	if c := b.Cashback.Cmp(a.Cashback); c != 0 {
		return c
	}
	return tiebreak(a, b)
}

// MaxConsumption prefers combinations that use more coupons, falling back
// to MaxDiscount.
type MaxConsumption struct{}

func (MaxConsumption) Name() string { return PolicyMaxConsumption }

func (MaxConsumption) Compare(a, b *Scored) int {
	if c := cmp.Compare(b.Combination.Size(), a.Combination.Size()); c != 0 {
		return c
	}
	return MaxDiscount{}.Compare(a, b)
}

// ProtectHighValue never auto-selects a combination containing a protected
// definition over one without: protected coupons stay in the wallet unless
// the caller commits an alternative explicitly.
type ProtectHighValue struct {
	protected map[string]struct{}
}

// NewProtectHighValue protects the given definition ids.
func NewProtectHighValue(couponIDs ...string) ProtectHighValue {
	p := ProtectHighValue{protected: make(map[string]struct{}, len(couponIDs))}
	for _, id := range couponIDs {
		p.protected[id] = struct{}{}
	}
	return p
}

func (ProtectHighValue) Name() string { return PolicyProtectHighValue }

func (p ProtectHighValue) Compare(a, b *Scored) int {
	if c := cmp.Compare(p.count(a), p.count(b)); c != 0 {
		return c
	}
	return MaxDiscount{}.Compare(a, b)
}

func (p ProtectHighValue) count(s *Scored) int {
	n := 0
	for _, m := range s.Combination.Members {
		if _, ok := p.protected[m.Definition.ID]; ok {
			n++
		}
	}
	return n
}

func tiebreak(a, b *Scored) int {
	if c := cmp.Compare(a.Combination.Size(), b.Combination.Size()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Combination.PrioritySum(), b.Combination.PrioritySum()); c != 0 {
		return c
	}
	return cmp.Compare(a.Combination.ID, b.Combination.ID)
}

// Selection is the outcome of ranking.
type Selection struct {
	Accepted     Scored
	Alternatives []Scored
}

// Select ranks the scored combinations by policy and keeps up to
// maxAlternatives runners-up. The input must contain at least the empty
// combination.
func Select(scored []Scored, policy Policy, maxAlternatives int) Selection {
	if policy == nil {
		policy = MaxDiscount{}
	}
	if len(scored) == 0 {
		return Selection{Accepted: Calculate(NewCombination(nil), coupon.Cart{})}
	}
	ranked := slices.Clone(scored)
	slices.SortStableFunc(ranked, func(a, b Scored) int {
		return policy.Compare(&a, &b)
	})
	alts := ranked[1:]
	if maxAlternatives >= 0 && len(alts) > maxAlternatives {
		alts = alts[:maxAlternatives]
	}
	return Selection{Accepted: ranked[0], Alternatives: alts}
}
