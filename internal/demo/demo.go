// Package demo holds the demo menu, coupons and stacking rules loaded by
// seed-db and by in-memory runs.
package demo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-coupon-engine/internal/domain/catalog"
	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
	"github.com/xenking/oolio-coupon-engine/internal/domain/product"
)

// Source is the wallet source recorded on seeded instances.
const Source = "seed"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func item(id, name, price, category, image string) product.Product {
	return product.Product{
		ID:       id,
		Name:     name,
		Price:    d(price),
		Category: category,
		Brand:    "Oolio Bakery",
		Image: product.Image{
			Thumbnail: "/images/image-" + image + "-thumbnail.jpg",
			Mobile:    "/images/image-" + image + "-mobile.jpg",
			Tablet:    "/images/image-" + image + "-tablet.jpg",
			Desktop:   "/images/image-" + image + "-desktop.jpg",
		},
	}
}

// Products returns the dessert menu.
func Products() []product.Product {
	return []product.Product{
		item("1", "Waffle with Berries", "6.50", "Waffle", "waffle"),
		item("2", "Vanilla Bean Crème Brûlée", "7.00", "Crème Brûlée", "creme-brulee"),
		item("3", "Macaron Mix of Five", "8.00", "Macaron", "macaron"),
		item("4", "Classic Tiramisu", "5.50", "Tiramisu", "tiramisu"),
		item("5", "Pistachio Baklava", "4.00", "Baklava", "baklava"),
		item("6", "Lemon Meringue Pie", "5.00", "Pie", "meringue"),
		item("7", "Red Velvet Cake", "4.50", "Cake", "cake"),
		item("8", "Salted Caramel Brownie", "4.50", "Brownie", "brownie"),
		item("9", "Vanilla Panna Cotta", "6.50", "Panna Cotta", "panna-cotta"),
	}
}

// Definitions returns one active coupon per discount type. Ids are stable so
// seeding can run repeatedly.
func Definitions() []catalog.DefinitionInput {
	active := coupon.StatusActive
	return []catalog.DefinitionInput{
		{
			ID: "demo-save10", Code: "SAVE10", Name: "10% off your order",
			Type:         coupon.DiscountPercentage,
			Discount:     coupon.Percentage{Percent: d("10"), MaxDiscount: d("15"), Base: coupon.BaseSubtotal},
			Priority:     10,
			StackingType: coupon.StackAllowAll,
			Status:       active,
		},
		{
			ID: "demo-fiveoff", Code: "FIVEOFF", Name: "$5 off orders over $25",
			Type:            coupon.DiscountFixedAmount,
			Discount:        coupon.FixedAmount{Value: d("5")},
			Conditions:      []coupon.Condition{coupon.MinOrderAmount{Op: coupon.OpGTE, Amount: d("25")}},
			PerUserLimit:    1,
			Priority:        20,
			StackingType:    coupon.StackSelective,
			CompatibleTypes: []coupon.DiscountType{coupon.DiscountFreeShipping, coupon.DiscountCashback},
			Status:          active,
		},
		{
			ID: "demo-freeship", Code: "FREESHIP", Name: "Free delivery",
			Type:         coupon.DiscountFreeShipping,
			Discount:     coupon.FreeShipping{},
			Conditions:   []coupon.Condition{coupon.MinQuantity{Op: coupon.OpGTE, Quantity: 3}},
			Priority:     90,
			StackingType: coupon.StackAllowAll,
			Status:       active,
		},
		{
			ID: "demo-waffle-bogo", Code: "WAFFLEBOGO", Name: "Buy one waffle, get one free",
			Type:         coupon.DiscountBuyOneGetOne,
			Discount:     coupon.BuyOneGetOne{Buy: 1, Get: 1, Categories: []string{"Waffle"}},
			Priority:     5,
			StackingType: coupon.StackExclusive,
			Status:       active,
		},
		{
			ID: "demo-pairing", Code: "PAIRING", Name: "Macaron and tiramisu pairing",
			Type:         coupon.DiscountBundle,
			Discount:     coupon.BundleDiscount{Products: []string{"3", "4"}, Amount: coupon.Amount{Fixed: d("3")}},
			Priority:     25,
			StackingType: coupon.StackAllowAll,
			Status:       active,
		},
		{
			ID: "demo-gold15", Code: "GOLD15", Name: "Gold members save 15%",
			Type:         coupon.DiscountMemberExclusive,
			Discount:     coupon.MemberExclusive{Levels: []string{"gold", "platinum"}, Amount: coupon.Amount{Percent: d("15"), Max: d("20")}},
			Priority:     15,
			StackingType: coupon.StackHierarchical,
			Status:       active,
		},
		{
			ID: "demo-welcome", Code: "WELCOME", Name: "Welcome gift",
			Type:              coupon.DiscountNewUserBonus,
			Discount:          coupon.NewUserBonus{Amount: coupon.Amount{Fixed: d("8")}},
			Conditions:        []coupon.Condition{coupon.FirstOrder{Required: true}},
			Validity:          coupon.Validity{Kind: coupon.ValidityRelativeDays, Days: 30},
			Priority:          12,
			StackingType:      coupon.StackAllowAll,
			IncompatibleTypes: []coupon.DiscountType{coupon.DiscountMemberExclusive},
			Status:            active,
		},
		{
			ID: "demo-birthday", Code: "BIRTHDAY", Name: "Birthday treat",
			Type:         coupon.DiscountBirthdayGift,
			Discount:     coupon.BirthdayGift{Amount: coupon.Amount{Percent: d("20"), Max: d("10")}},
			Priority:     14,
			StackingType: coupon.StackAllowAll,
			Status:       active,
		},
		{
			ID: "demo-weekend", Code: "WEEKEND12", Name: "Weekend 12% off",
			Type:     coupon.DiscountPercentage,
			Discount: coupon.Percentage{Percent: d("12"), Base: coupon.BaseSubtotal},
			Conditions: []coupon.Condition{coupon.DayOfWeek{
				Op:   coupon.OpIn,
				Days: []time.Weekday{time.Saturday, time.Sunday},
			}},
			DailyLimit:   500,
			Priority:     30,
			StackingType: coupon.StackHierarchical,
			Status:       active,
		},
		{
			ID: "demo-cash5", Code: "CASH5", Name: "5% back as credit",
			Type:         coupon.DiscountCashback,
			Discount:     coupon.Cashback{Amount: coupon.Amount{Percent: d("5")}},
			Priority:     100,
			StackingType: coupon.StackAllowAll,
			Status:       active,
		},
	}
}

// Rules returns the demo stacking registry.
func Rules() []catalog.RuleInput {
	return []catalog.RuleInput{
		{
			Name:      "Free shipping stacks with at most one other coupon",
			AppliesTo: []coupon.DiscountType{coupon.DiscountFreeShipping},
			Type:      coupon.StackAllowAll,
			// Two members including the free shipping coupon itself.
			MaxStackCount: 2,
			Priority:      1,
		},
		{
			Name:              "Bundles never combine with BOGO",
			AppliesTo:         []coupon.DiscountType{coupon.DiscountBundle},
			Type:              coupon.StackSelective,
			IncompatibleTypes: []coupon.DiscountType{coupon.DiscountBuyOneGetOne},
			Priority:          2,
		},
	}
}

// Profile is the profile demo users are created with: a gold member on a
// first order, so member and welcome coupons apply.
func Profile(userID string) catalog.ProfileInput {
	return catalog.ProfileInput{UserID: userID, Level: "gold", IsNewCustomer: true}
}

// Result counts what Seed wrote.
type Result struct {
	Products int
	Coupons  int
	Rules    int
	Issued   int
	Profiles int
}

// Seed writes the demo data. Existing coupons and a non-empty registry are
// left alone, and users that already hold coupons are skipped. New users get
// Profile as their profile.
func Seed(ctx context.Context, cat *catalog.Service, products product.Writer, users ...string) (*Result, error) {
	lg := zctx.From(ctx)
	var res Result

	for _, p := range Products() {
		if err := products.Save(ctx, &p); err != nil {
			return nil, errors.Wrapf(err, "save product %s", p.ID)
		}
		res.Products++
	}

	defs := Definitions()
	for _, in := range defs {
		_, err := cat.CreateDefinition(ctx, in)
		switch {
		case errors.Is(err, coupon.ErrDuplicateCode):
			lg.Debug("Coupon already seeded", zap.String("code", in.Code))
		case err != nil:
			return nil, errors.Wrapf(err, "create coupon %s", in.Code)
		default:
			res.Coupons++
		}
	}

	existing, err := cat.ListStackingRules(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list stacking rules")
	}
	if len(existing) == 0 {
		for _, in := range Rules() {
			if _, err := cat.CreateStackingRule(ctx, in); err != nil {
				return nil, errors.Wrapf(err, "create stacking rule %q", in.Name)
			}
			res.Rules++
		}
	}

	for _, user := range users {
		wallet, err := cat.Wallet(ctx, user)
		if err != nil {
			return nil, errors.Wrapf(err, "wallet of %s", user)
		}
		if len(wallet) > 0 {
			continue
		}
		if _, err := cat.SetProfile(ctx, Profile(user)); err != nil {
			return nil, errors.Wrapf(err, "profile of %s", user)
		}
		res.Profiles++
		for _, in := range defs {
			if _, err := cat.Issue(ctx, in.ID, user, Source); err != nil {
				return nil, errors.Wrapf(err, "issue %s to %s", in.Code, user)
			}
			res.Issued++
		}
	}

	lg.Info("Demo data seeded",
		zap.Int("products", res.Products),
		zap.Int("coupons", res.Coupons),
		zap.Int("rules", res.Rules),
		zap.Int("issued", res.Issued),
		zap.Int("profiles", res.Profiles),
	)
	return &res, nil
}
