package demo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-coupon-engine/internal/domain/catalog"
	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
	"github.com/xenking/oolio-coupon-engine/internal/storage/memory"
)

func TestDefinitions_CoverEveryType(t *testing.T) {
	seen := map[coupon.DiscountType]bool{}
	codes := map[string]bool{}
	for _, in := range Definitions() {
		assert.Equal(t, in.Type, in.Discount.Type(), in.Code)
		assert.False(t, codes[in.Code], "duplicate code %s", in.Code)
		codes[in.Code] = true
		seen[in.Type] = true
	}
	for _, typ := range coupon.DiscountTypes {
		assert.True(t, seen[typ], "no demo coupon of type %s", typ)
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	cat := catalog.NewService(store, store, store, catalog.WithProfiles(store))
	products := memory.NewProductRepository()

	res, err := Seed(ctx, cat, products, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, len(Products()), res.Products)
	assert.Equal(t, len(Definitions()), res.Coupons)
	assert.Equal(t, len(Rules()), res.Rules)
	assert.Equal(t, 2*len(Definitions()), res.Issued)
	assert.Equal(t, 2, res.Profiles)

	profile, err := cat.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "gold", profile.Level)
	assert.True(t, profile.IsNewCustomer)

	listed, err := products.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, len(Products()))

	wallet, err := cat.Wallet(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, wallet, len(Definitions()))
	for _, e := range wallet {
		assert.Equal(t, Source, e.Coupon.Source)
		require.NotNil(t, e.Definition)
		assert.Equal(t, coupon.StatusActive, e.Definition.Status)
	}

	t.Run("Idempotent", func(t *testing.T) {
		res, err := Seed(ctx, cat, products, "alice", "carol")
		require.NoError(t, err)
		assert.Zero(t, res.Coupons)
		assert.Zero(t, res.Rules)
		assert.Equal(t, len(Definitions()), res.Issued)
		assert.Equal(t, 1, res.Profiles)

		wallet, err := cat.Wallet(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, wallet, len(Definitions()))

		rules, err := cat.ListStackingRules(ctx)
		require.NoError(t, err)
		assert.Len(t, rules, len(Rules()))
	})
}
