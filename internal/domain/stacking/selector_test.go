package stacking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
	ct "github.com/xenking/oolio-coupon-engine/internal/domain/coupon/coupontest"
)

func scoreAll(cart coupon.Cart, combos ...Combination) []Scored {
	out := make([]Scored, len(combos))
	for i, c := range combos {
		out[i] = Calculate(c, cart)
	}
	return out
}

func TestSelect_MaxDiscount(t *testing.T) {
	cart := ct.Cart("0", ct.Item("p1", "x", "100", 1))
	ten := ct.Definition("ten", ct.Fixed("10"))
	twenty := ct.Definition("twenty", ct.Fixed("20"))
	alsoTwenty := ct.Definition("also", ct.Fixed("20"), ct.Priority(3))
	cash := ct.Definition("cash", ct.Cashback("1"))

	t.Run("largest discount wins", func(t *testing.T) {
		sel := Select(scoreAll(cart, NewCombination(nil), combo(ten), combo(twenty)), MaxDiscount{}, 10)
		assert.Equal(t, []string{"twenty"}, memberIDs(sel.Accepted.Combination))
		require.Len(t, sel.Alternatives, 2)
		assert.Equal(t, []string{"ten"}, memberIDs(sel.Alternatives[0].Combination))
	})

	t.Run("fewer coupons on equal discount", func(t *testing.T) {
		sel := Select(scoreAll(cart, combo(ten, ten2()), combo(twenty)), MaxDiscount{}, 10)
		assert.Equal(t, []string{"twenty"}, memberIDs(sel.Accepted.Combination))
	})

	t.Run("lower priority sum on equal size", func(t *testing.T) {
		sel := Select(scoreAll(cart, combo(alsoTwenty), combo(twenty)), MaxDiscount{}, 10)
		assert.Equal(t, []string{"twenty"}, memberIDs(sel.Accepted.Combination))
	})

	t.Run("cashback breaks discount ties", func(t *testing.T) {
		sel := Select(scoreAll(cart, combo(twenty), combo(twenty, cash)), MaxDiscount{}, 10)
		assert.Equal(t, []string{"cash", "twenty"}, memberIDs(sel.Accepted.Combination))
	})

	t.Run("alternatives truncated", func(t *testing.T) {
		sel := Select(scoreAll(cart, NewCombination(nil), combo(ten), combo(twenty)), MaxDiscount{}, 1)
		assert.Len(t, sel.Alternatives, 1)
	})
}

func ten2() *coupon.Definition {
	return ct.Definition("ten2", ct.Fixed("10"))
}

func TestSelect_MaxConsumption(t *testing.T) {
	cart := ct.Cart("0", ct.Item("p1", "x", "100", 1))
	big := ct.Definition("big", ct.Fixed("50"))
	a := ct.Definition("a", ct.Fixed("5"))
	b := ct.Definition("b", ct.Fixed("5"))

	sel := Select(scoreAll(cart, combo(big), combo(a, b)), MaxConsumption{}, 10)
	assert.Equal(t, []string{"a", "b"}, memberIDs(sel.Accepted.Combination))
}

func TestSelect_ProtectHighValue(t *testing.T) {
	cart := ct.Cart("0", ct.Item("p1", "x", "100", 1))
	vip := ct.Definition("vip", ct.Fixed("80"))
	small := ct.Definition("small", ct.Fixed("5"))

	policy, err := ParsePolicy(PolicyProtectHighValue, []string{"vip"})
	require.NoError(t, err)

	sel := Select(scoreAll(cart, NewCombination(nil), combo(vip), combo(small), combo(vip, small)), policy, 10)
	assert.Equal(t, []string{"small"}, memberIDs(sel.Accepted.Combination))
	assert.Equal(t, []string{}, memberIDs(sel.Alternatives[0].Combination))
}

func TestSelect_DeterministicForEqualScores(t *testing.T) {
	cart := ct.Cart("0", ct.Item("p1", "x", "100", 1))
	x := ct.Definition("x", ct.Fixed("10"))
	y := ct.Definition("y", ct.Fixed("10"))

	first := Select(scoreAll(cart, combo(x), combo(y)), MaxDiscount{}, 10)
	second := Select(scoreAll(cart, combo(y), combo(x)), MaxDiscount{}, 10)
	assert.Equal(t, first.Accepted.Combination.ID, second.Accepted.Combination.ID)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("", nil)
	require.NoError(t, err)
	assert.Equal(t, PolicyMaxDiscount, p.Name())

	_, err = ParsePolicy("cheapest", nil)
	require.Error(t, err)
}
