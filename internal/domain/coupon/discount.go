package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Discount is the discount configuration of a definition. Exactly one variant
// exists per DiscountType; the set is closed by the unexported marker method.
type Discount interface {
	Type() DiscountType
	Validate() error
	discount()
}

// CalculationBase selects what a percentage discount is computed against.
type CalculationBase string

const (
	BaseBeforeTax  CalculationBase = "before_tax"
	BaseSubtotal   CalculationBase = "on_subtotal"
	BaseShipping   CalculationBase = "on_shipping"
	BaseTotal      CalculationBase = "on_total"
	BaseOnCheapest CalculationBase = "on_cheapest"
)

func (b CalculationBase) valid() bool {
	switch b {
	case "", BaseBeforeTax, BaseSubtotal, BaseShipping, BaseTotal, BaseOnCheapest:
		return true
	}
	return false
}

// Amount is either a fixed value or a percentage of a base, optionally capped.
type Amount struct {
	Fixed   decimal.Decimal
	Percent decimal.Decimal
	// Max caps a percentage amount. Zero means no cap.
	Max decimal.Decimal
}

// Validate checks that exactly one of Fixed or Percent is set.
func (a Amount) Validate() error {
	hasFixed := a.Fixed.IsPositive()
	hasPercent := a.Percent.IsPositive()
	switch {
	case hasFixed == hasPercent:
		return errors.New("exactly one of fixed or percent must be positive")
	case a.Percent.GreaterThan(hundred):
		return errors.Errorf("percent %s exceeds 100", a.Percent)
	case a.Fixed.IsNegative(), a.Max.IsNegative():
		return errors.New("amounts must not be negative")
	}
	return nil
}

// Of computes the amount against base, rounded to cents.
func (a Amount) Of(base decimal.Decimal) decimal.Decimal {
	if a.Fixed.IsPositive() {
		return a.Fixed.Round(2)
	}
	v := base.Mul(a.Percent).Div(hundred)
	if a.Max.IsPositive() && v.GreaterThan(a.Max) {
		v = a.Max
	}
	return v.Round(2)
}

// FixedAmount subtracts a fixed value from the running subtotal.
type FixedAmount struct {
	Value decimal.Decimal
}

// Percentage subtracts a share of the selected base.
type Percentage struct {
	Percent decimal.Decimal
	// MaxDiscount caps the amount. Zero means no cap.
	MaxDiscount decimal.Decimal
	// MinOrderAmount is the subtotal required to apply the coupon at all.
	MinOrderAmount decimal.Decimal
	Base           CalculationBase
}

// FreeShipping nets against the shipping cost only.
type FreeShipping struct {
	// MaxAmount caps the shipping reduction. Zero waives shipping entirely.
	MaxAmount decimal.Decimal
}

// BuyOneGetOne discounts the cheapest qualifying unit once per satisfied group.
type BuyOneGetOne struct {
	Buy        int
	Get        int
	Products   []string
	Categories []string
}

// BundleDiscount applies when every listed product is in the cart.
type BundleDiscount struct {
	Products []string
	Amount   Amount
}

// MemberExclusive is restricted to the listed membership levels.
type MemberExclusive struct {
	Levels []string
	Amount Amount
}

// NewUserBonus is restricted to new customers.
type NewUserBonus struct {
	Amount Amount
}

// BirthdayGift is restricted to the customer's birthday month.
type BirthdayGift struct {
	Amount Amount
}

// Cashback is credited after purchase and never reduces the checkout total.
type Cashback struct {
	Amount Amount
}

func (FixedAmount) Type() DiscountType     { return DiscountFixedAmount }
func (Percentage) Type() DiscountType      { return DiscountPercentage }
func (FreeShipping) Type() DiscountType    { return DiscountFreeShipping }
func (BuyOneGetOne) Type() DiscountType    { return DiscountBuyOneGetOne }
func (BundleDiscount) Type() DiscountType  { return DiscountBundle }
func (MemberExclusive) Type() DiscountType { return DiscountMemberExclusive }
func (NewUserBonus) Type() DiscountType    { return DiscountNewUserBonus }
func (BirthdayGift) Type() DiscountType    { return DiscountBirthdayGift }
func (Cashback) Type() DiscountType        { return DiscountCashback }

func (FixedAmount) discount()     {}
func (Percentage) discount()      {}
func (FreeShipping) discount()    {}
func (BuyOneGetOne) discount()    {}
func (BundleDiscount) discount()  {}
func (MemberExclusive) discount() {}
func (NewUserBonus) discount()    {}
func (BirthdayGift) discount()    {}
func (Cashback) discount()        {}

func (d FixedAmount) Validate() error {
	if !d.Value.IsPositive() {
		return errors.New("fixed amount value must be positive")
	}
	return nil
}

func (d Percentage) Validate() error {
	if !d.Percent.IsPositive() || d.Percent.GreaterThan(hundred) {
		return errors.Errorf("percentage %s out of range (0, 100]", d.Percent)
	}
	if d.MaxDiscount.IsNegative() || d.MinOrderAmount.IsNegative() {
		return errors.New("percentage cap and minimum must not be negative")
	}
	if !d.Base.valid() {
		return errors.Errorf("unknown calculation base %q", d.Base)
	}
	return nil
}

func (d FreeShipping) Validate() error {
	if d.MaxAmount.IsNegative() {
		return errors.New("free shipping cap must not be negative")
	}
	return nil
}

func (d BuyOneGetOne) Validate() error {
	if d.Buy < 1 || d.Get < 1 {
		return errors.Errorf("buy %d get %d: both must be at least 1", d.Buy, d.Get)
	}
	return nil
}

func (d BundleDiscount) Validate() error {
	if len(d.Products) < 2 {
		return errors.New("bundle needs at least two products")
	}
	if err := d.Amount.Validate(); err != nil {
		return errors.Wrap(err, "bundle amount")
	}
	return nil
}

func (d MemberExclusive) Validate() error {
	if len(d.Levels) == 0 {
		return errors.New("member exclusive needs at least one level")
	}
	if err := d.Amount.Validate(); err != nil {
		return errors.Wrap(err, "member amount")
	}
	return nil
}

func (d NewUserBonus) Validate() error { return d.Amount.Validate() }
func (d BirthdayGift) Validate() error { return d.Amount.Validate() }
func (d Cashback) Validate() error     { return d.Amount.Validate() }

// Validate checks the definition for structural errors. A definition that
// fails validation is excluded from evaluation.
func (d *Definition) Validate() error {
	if err := d.validate(); err != nil {
		return errors.Wrapf(ErrInvalidDefinition, "%s: %s", d.Code, err)
	}
	return nil
}

func (d *Definition) validate() error {
	if d.Code == "" {
		return errors.New("code is required")
	}
	if !d.Type.Valid() {
		return errors.Errorf("unknown discount type %q", d.Type)
	}
	if d.Discount == nil {
		return errors.New("discount configuration is missing")
	}
	if d.Discount.Type() != d.Type {
		return errors.Errorf("discount configuration is %q, definition is %q", d.Discount.Type(), d.Type)
	}
	if err := d.Discount.Validate(); err != nil {
		return err
	}
	for i, c := range d.Conditions {
		if err := c.Validate(); err != nil {
			return errors.Wrapf(err, "condition %d", i)
		}
	}
	if d.Limits.TotalUsage < 0 || d.Limits.PerUser < 0 || d.Limits.Daily < 0 {
		return errors.New("limits must not be negative")
	}
	switch d.Validity.Kind {
	case ValidityPermanent:
	case ValidityFixed:
		if !d.Validity.End.IsZero() && !d.Validity.End.After(d.Validity.Start) {
			return errors.New("validity end must be after start")
		}
	case ValidityRelativeDays:
		if d.Validity.Days <= 0 {
			return errors.New("relative validity needs positive days")
		}
	default:
		return errors.Errorf("unknown validity kind %q", d.Validity.Kind)
	}
	return d.Stacking.Validate()
}
