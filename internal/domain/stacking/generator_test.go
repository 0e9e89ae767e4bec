package stacking

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
	ct "github.com/xenking/oolio-coupon-engine/internal/domain/coupon/coupontest"
)

func candidates(defs ...*coupon.Definition) []Candidate {
	out := make([]Candidate, len(defs))
	for i, def := range defs {
		out[i] = cand(def)
	}
	return out
}

func memberIDs(c Combination) []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.Definition.ID
	}
	return ids
}

func TestResolve_PairRules(t *testing.T) {
	tests := []struct {
		name     string
		a, b     *coupon.Definition
		registry []coupon.RegistryRule
		want     bool
	}{
		{
			name: "both allow all",
			a:    ct.Definition("a", ct.Fixed("1")),
			b:    ct.Definition("b", ct.FreeShipping()),
			want: true,
		},
		{
			name: "exclusive never stacks",
			a:    ct.Definition("a", ct.Fixed("1"), ct.Stacking(coupon.StackExclusive)),
			b:    ct.Definition("b", ct.FreeShipping()),
		},
		{
			name: "one sided allowance",
			a:    ct.Definition("a", ct.Fixed("1"), ct.Stacking(coupon.StackSelective, coupon.DiscountFreeShipping)),
			b:    ct.Definition("b", ct.FreeShipping(), ct.Stacking(coupon.StackSelective, coupon.DiscountPercentage)),
		},
		{
			name: "mutually listed",
			a:    ct.Definition("a", ct.Fixed("1"), ct.Stacking(coupon.StackSelective, coupon.DiscountFreeShipping)),
			b:    ct.Definition("b", ct.FreeShipping(), ct.Stacking(coupon.StackSelective, coupon.DiscountFixedAmount)),
			want: true,
		},
		{
			name: "incompatible list wins over allow all",
			a:    ct.Definition("a", ct.Fixed("1"), ct.Incompatible(coupon.DiscountFreeShipping)),
			b:    ct.Definition("b", ct.FreeShipping()),
		},
		{
			name: "same definition",
			a:    ct.Definition("a", ct.Fixed("1")),
			b:    ct.Definition("a", ct.Fixed("1")),
		},
		{
			name: "registry incompatibility",
			a:    ct.Definition("a", ct.Cashback("5")),
			b:    ct.Definition("b", ct.Percentage("10", "", "")),
			registry: []coupon.RegistryRule{{
				Name:              "no cashback on percentage",
				AppliesTo:         []coupon.DiscountType{coupon.DiscountCashback},
				Type:              coupon.StackAllowAll,
				IncompatibleTypes: []coupon.DiscountType{coupon.DiscountPercentage},
				Active:            true,
			}},
		},
		{
			name: "inactive registry rule ignored",
			a:    ct.Definition("a", ct.Cashback("5")),
			b:    ct.Definition("b", ct.Percentage("10", "", "")),
			registry: []coupon.RegistryRule{{
				Name:      "cashback standalone",
				AppliesTo: []coupon.DiscountType{coupon.DiscountCashback},
				Type:      coupon.StackExclusive,
			}},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := cand(tt.a), cand(tt.b)
			b.Instance.ID = "uc-other"
			g := Resolve([]Candidate{a, b}, tt.registry)
			assert.Equal(t, tt.want, g.Compatible(0, 1))
			assert.Equal(t, g.Compatible(0, 1), g.Compatible(1, 0))
		})
	}
}

func TestGenerate_CliquesOnly(t *testing.T) {
	// a-b and b-c are compatible, a-c is not: {a,b,c} is connected but not a clique.
	a := ct.Definition("a", ct.Fixed("1"), ct.Incompatible(coupon.DiscountFreeShipping))
	b := ct.Definition("b", ct.Percentage("10", "", ""))
	c := ct.Definition("c", ct.FreeShipping())

	combos, truncated := Generate(Resolve(candidates(a, b, c), nil), Limits{})
	require.False(t, truncated)

	var got [][]string
	for _, cb := range combos {
		got = append(got, memberIDs(cb))
	}
	assert.Equal(t, [][]string{
		{},
		{"a"},
		{"b"},
		{"c"},
		{"a", "b"},
		{"b", "c"},
	}, got)
}

func TestGenerate_MaxStack(t *testing.T) {
	defs := make([]*coupon.Definition, 4)
	for i := range defs {
		defs[i] = ct.Definition(fmt.Sprintf("c%d", i), ct.Fixed("1"))
	}

	t.Run("default bound", func(t *testing.T) {
		combos, _ := Generate(Resolve(candidates(defs...), nil), Limits{DefaultMaxStack: 2})
		// 1 empty + 4 singles + 6 pairs
		assert.Len(t, combos, 11)
	})

	t.Run("member bound is the minimum", func(t *testing.T) {
		limited := ct.Definition("c0", ct.Fixed("1"), ct.MaxStack(1))
		combos, _ := Generate(Resolve(candidates(limited, defs[1], defs[2]), nil), Limits{DefaultMaxStack: 3})
		for _, cb := range combos {
			if cb.Size() > 1 {
				assert.NotContains(t, memberIDs(cb), "c0")
			}
		}
		// empty, 3 singles, {c1,c2}
		assert.Len(t, combos, 5)
	})

	t.Run("registry bound", func(t *testing.T) {
		rule := coupon.RegistryRule{
			Name:          "fixed pairs only",
			AppliesTo:     []coupon.DiscountType{coupon.DiscountFixedAmount},
			Type:          coupon.StackAllowAll,
			MaxStackCount: 2,
			Active:        true,
		}
		combos, _ := Generate(Resolve(candidates(defs...), []coupon.RegistryRule{rule}), Limits{DefaultMaxStack: 4})
		for _, cb := range combos {
			assert.LessOrEqual(t, cb.Size(), 2)
		}
	})
}

func TestGenerate_Hierarchical(t *testing.T) {
	a := ct.Definition("a", ct.Fixed("1"), ct.Priority(1), ct.Stacking(coupon.StackHierarchical, coupon.DiscountPercentage, coupon.DiscountFreeShipping))
	b := ct.Definition("b", ct.Percentage("10", "", ""), ct.Priority(1))
	c := ct.Definition("c", ct.FreeShipping(), ct.Priority(2))

	combos, _ := Generate(Resolve(candidates(a, b, c), nil), Limits{})
	for _, cb := range combos {
		ids := memberIDs(cb)
		if len(ids) > 1 && contains(ids, "a") {
			assert.NotContains(t, ids, "b", "equal priorities cannot form a chain")
		}
	}

	ids := make([][]string, 0, len(combos))
	for _, cb := range combos {
		ids = append(ids, memberIDs(cb))
	}
	assert.Contains(t, ids, []string{"a", "c"})
	assert.Contains(t, ids, []string{"b", "c"})
}

func TestGenerate_Truncates(t *testing.T) {
	defs := make([]*coupon.Definition, 6)
	for i := range defs {
		defs[i] = ct.Definition(fmt.Sprintf("c%d", i), ct.Fixed("1"))
	}
	combos, truncated := Generate(Resolve(candidates(defs...), nil), Limits{MaxCombinations: 9})
	assert.True(t, truncated)
	assert.Len(t, combos, 9)
	assert.Empty(t, combos[0].Members)
	for i, cb := range combos[1:7] {
		assert.Equal(t, []string{defs[i].ID}, memberIDs(cb))
	}
	for _, cb := range combos[7:] {
		assert.Equal(t, 2, cb.Size())
	}
}

func TestGenerate_SinglesSurviveCap(t *testing.T) {
	defs := make([]*coupon.Definition, 10)
	for i := range defs {
		defs[i] = ct.Definition(fmt.Sprintf("c%d", i), ct.Fixed("1"))
	}
	combos, truncated := Generate(Resolve(candidates(defs...), nil), Limits{MaxCombinations: 4})
	assert.True(t, truncated)
	// empty plus every single, no pairs fit under the cap
	require.Len(t, combos, 11)
	assert.Equal(t, []string{"c9"}, memberIDs(combos[10]))
}

func TestCombinationID_OrderIndependent(t *testing.T) {
	a := cand(ct.Definition("a", ct.Fixed("1")))
	b := cand(ct.Definition("b", ct.Fixed("1")))

	assert.Equal(t, CombinationID([]Candidate{a, b}), CombinationID([]Candidate{b, a}))
	assert.NotEqual(t, CombinationID([]Candidate{a}), CombinationID([]Candidate{b}))
}

func TestShortlist(t *testing.T) {
	small := ct.Definition("small", ct.Fixed("1"))
	big := ct.Definition("big", ct.Fixed("50"))
	mid := ct.Definition("mid", ct.Fixed("10"))
	cart := ct.Cart("0", ct.Item("p1", "x", "100", 1))

	got := Shortlist(candidates(small, big, mid), cart, 2)

	require.Len(t, got, 2)
	assert.Equal(t, "big", got[0].Definition.ID)
	assert.Equal(t, "mid", got[1].Definition.ID)

	t.Run("below limit still ordered", func(t *testing.T) {
		got := Shortlist(candidates(small, big, mid), cart, 64)
		var ids []string
		for _, c := range got {
			ids = append(ids, c.Definition.ID)
		}
		assert.Equal(t, []string{"big", "mid", "small"}, ids)
	})
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
