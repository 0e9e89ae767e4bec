package stacking

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
)

// Defaults for Limits.
const (
	DefaultMaxCandidates   = 64
	DefaultMaxStack        = 3
	DefaultMaxCombinations = 4096
)

// combinationNamespace seeds deterministic combination ids.
var combinationNamespace = uuid.MustParse("6f1d2c1e-9a3b-4c55-8e0f-2b7d9c4a1e60")

// Limits bounds enumeration cost.
type Limits struct {
	// MaxCandidates is the number of eligible coupons considered, chosen by
	// descending single-coupon benefit. Wallets larger than this are not
	// searched exhaustively.
	MaxCandidates int
	// DefaultMaxStack applies when neither a member nor a registry rule sets
	// a MaxStackCount.
	DefaultMaxStack int
	// MaxCombinations caps the generated set, empty combination included.
	// Single-coupon combinations are always generated, even past the cap.
	MaxCombinations int
}

func (l Limits) withDefaults() Limits {
	if l.MaxCandidates <= 0 {
		l.MaxCandidates = DefaultMaxCandidates
	}
	if l.DefaultMaxStack <= 0 {
		l.DefaultMaxStack = DefaultMaxStack
	}
	if l.MaxCombinations <= 0 {
		l.MaxCombinations = DefaultMaxCombinations
	}
	return l
}

// Combination is a set of mutually compatible candidates in application
// order: ascending priority, then definition id, then wallet entry id.
type Combination struct {
	ID      string
	Members []Candidate
}

// NewCombination orders members for application and derives the id from
// the sorted wallet entry ids.
func NewCombination(members []Candidate) Combination {
	ordered := make([]Candidate, len(members))
	copy(ordered, members)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if pa, pb := a.Definition.Stacking.Priority, b.Definition.Stacking.Priority; pa != pb {
			return pa < pb
		}
		if a.Definition.ID != b.Definition.ID {
			return a.Definition.ID < b.Definition.ID
		}
		return a.Instance.ID < b.Instance.ID
	})
	return Combination{ID: CombinationID(members), Members: ordered}
}

// CombinationID is the deterministic id of a set of wallet entries.
func CombinationID(members []Candidate) string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.Instance.ID
	}
	sort.Strings(ids)
	return uuid.NewSHA1(combinationNamespace, []byte(strings.Join(ids, ","))).String()
}

// Size returns the number of coupons in the combination.
func (c Combination) Size() int { return len(c.Members) }

// PrioritySum is the sum of member priorities.
func (c Combination) PrioritySum() int {
	sum := 0
	for _, m := range c.Members {
		sum += m.Definition.Stacking.Priority
	}
	return sum
}

// Contains reports whether any member references the definition id.
func (c Combination) Contains(couponID string) bool {
	for _, m := range c.Members {
		if m.Definition.ID == couponID {
			return true
		}
	}
	return false
}

// Shortlist orders candidates by descending single-coupon benefit against
// cart and keeps at most limit of them. Ties are broken by wallet entry id.
func Shortlist(candidates []Candidate, cart coupon.Cart, limit int) []Candidate {
	scores := make(map[string]Scored, len(candidates))
	for _, c := range candidates {
		scores[c.ID()] = Calculate(NewCombination([]Candidate{c}), cart)
	}
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := scores[out[i].ID()], scores[out[j].ID()]
		if c := a.Benefit().Cmp(b.Benefit()); c != 0 {
			return c > 0
		}
		return out[i].ID() < out[j].ID()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Generate enumerates every clique of the graph whose size is within its
// members' stack bound and which satisfies the hierarchical chain
// constraint. The empty combination comes first, then every single
// coupon in node order, then larger cliques depth-first. Only the larger
// cliques stop at MaxCombinations; truncated reports whether that happened.
func Generate(g *Graph, limits Limits) (combos []Combination, truncated bool) {
	limits = limits.withDefaults()
	combos = make([]Combination, 0, len(g.Nodes)+1)
	combos = append(combos, NewCombination(nil))
	for _, n := range g.Nodes {
		combos = append(combos, NewCombination([]Candidate{n}))
	}

	var (
		current []int
		walk    func(start int) bool
	)
	walk = func(start int) bool {
		for i := start; i < len(g.Nodes); i++ {
			if !fits(g, current, i) {
				continue
			}
			next := append(current, i)
			if len(next) > g.MaxStack(next, limits.DefaultMaxStack) || !g.ChainValid(next) {
				continue
			}
			if len(combos) >= limits.MaxCombinations {
				return false
			}
			members := make([]Candidate, len(next))
			for k, n := range next {
				members[k] = g.Nodes[n]
			}
			combos = append(combos, NewCombination(members))

			current = next
			ok := walk(i + 1)
			current = current[:len(current)-1]
			if !ok {
				return false
			}
		}
		return true
	}
	for root := range g.Nodes {
		current = []int{root}
		if !walk(root + 1) {
			return combos, true
		}
	}
	return combos, false
}

func fits(g *Graph, current []int, n int) bool {
	for _, m := range current {
		if !g.Compatible(m, n) {
			return false
		}
	}
	return true
}
