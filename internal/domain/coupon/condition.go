package coupon

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ConditionType identifies an eligibility condition kind.
type ConditionType string

const (
	ConditionMinOrderAmount  ConditionType = "min_order_amount"
	ConditionMinQuantity     ConditionType = "min_quantity"
	ConditionMemberLevel     ConditionType = "member_level"
	ConditionFirstOrder      ConditionType = "first_order"
	ConditionProductCategory ConditionType = "product_category"
	ConditionBrand           ConditionType = "brand"
	ConditionDayOfWeek       ConditionType = "day_of_week"
	ConditionTimeRange       ConditionType = "time_range"
	ConditionLocation        ConditionType = "location"
	ConditionPaymentMethod   ConditionType = "payment_method"
)

// Operator is the comparison a condition applies.
type Operator string

const (
	OpGTE   Operator = "gte"
	OpGT    Operator = "gt"
	OpEQ    Operator = "eq"
	OpLTE   Operator = "lte"
	OpLT    Operator = "lt"
	OpIn    Operator = "in"
	OpNotIn Operator = "not_in"
)

// Compare applies a numeric operator to the result of a.Cmp(b).
// The empty operator behaves as OpGTE.
func (o Operator) Compare(cmp int) bool {
	switch o {
	case "", OpGTE:
		return cmp >= 0
	case OpGT:
		return cmp > 0
	case OpEQ:
		return cmp == 0
	case OpLTE:
		return cmp <= 0
	case OpLT:
		return cmp < 0
	}
	return false
}

// Member applies a set operator to a membership result.
// The empty operator behaves as OpIn.
func (o Operator) Member(found bool) bool {
	if o == OpNotIn {
		return !found
	}
	return found
}

func (o Operator) numeric() bool {
	switch o {
	case "", OpGTE, OpGT, OpEQ, OpLTE, OpLT:
		return true
	}
	return false
}

func (o Operator) set() bool {
	return o == "" || o == OpIn || o == OpNotIn
}

// Condition is one eligibility predicate of a definition. The variant set is
// closed; storage decodes unrecognised kinds into UnknownCondition.
type Condition interface {
	Type() ConditionType
	Validate() error
	condition()
}

// MinOrderAmount compares the cart subtotal to Amount.
type MinOrderAmount struct {
	Op     Operator
	Amount decimal.Decimal
}

// MinQuantity compares the cart's total quantity to Quantity.
type MinQuantity struct {
	Op       Operator
	Quantity int
}

// MemberLevel matches the user's membership level.
type MemberLevel struct {
	Op     Operator
	Levels []string
}

// FirstOrder matches the user's new-customer flag.
type FirstOrder struct {
	Required bool
}

// ProductCategory passes when any cart item's category is in the set.
type ProductCategory struct {
	Op         Operator
	Categories []string
}

// Brand passes when any cart item's brand is in the set.
type Brand struct {
	Op     Operator
	Brands []string
}

// DayOfWeek matches the evaluation weekday.
type DayOfWeek struct {
	Op   Operator
	Days []time.Weekday
}

// TimeRange matches the evaluation clock time in minutes after midnight.
// A range whose End is before Start wraps past midnight.
type TimeRange struct {
	Start int
	End   int
}

// Location matches the cart's delivery location.
type Location struct {
	Op      Operator
	Regions []string
}

// PaymentMethod matches the cart's payment method.
type PaymentMethod struct {
	Op      Operator
	Methods []string
}

// UnknownCondition is a condition whose kind this build does not recognise.
// It always passes so new kinds never break existing coupons.
type UnknownCondition struct {
	Kind string
	Op   string
	Raw  []byte
}

func (MinOrderAmount) Type() ConditionType  { return ConditionMinOrderAmount }
func (MinQuantity) Type() ConditionType     { return ConditionMinQuantity }
func (MemberLevel) Type() ConditionType     { return ConditionMemberLevel }
func (FirstOrder) Type() ConditionType      { return ConditionFirstOrder }
func (ProductCategory) Type() ConditionType { return ConditionProductCategory }
func (Brand) Type() ConditionType           { return ConditionBrand }
func (DayOfWeek) Type() ConditionType       { return ConditionDayOfWeek }
func (TimeRange) Type() ConditionType       { return ConditionTimeRange }
func (Location) Type() ConditionType        { return ConditionLocation }
func (PaymentMethod) Type() ConditionType   { return ConditionPaymentMethod }
func (c UnknownCondition) Type() ConditionType {
	return ConditionType(c.Kind)
}

func (MinOrderAmount) condition()   {}
func (MinQuantity) condition()      {}
func (MemberLevel) condition()      {}
func (FirstOrder) condition()       {}
func (ProductCategory) condition()  {}
func (Brand) condition()            {}
func (DayOfWeek) condition()        {}
func (TimeRange) condition()        {}
func (Location) condition()         {}
func (PaymentMethod) condition()    {}
func (UnknownCondition) condition() {}

func (c MinOrderAmount) Validate() error {
	if !c.Op.numeric() {
		return errors.Errorf("operator %q not numeric", c.Op)
	}
	if c.Amount.IsNegative() {
		return errors.New("amount must not be negative")
	}
	return nil
}

func (c MinQuantity) Validate() error {
	if !c.Op.numeric() {
		return errors.Errorf("operator %q not numeric", c.Op)
	}
	if c.Quantity < 0 {
		return errors.New("quantity must not be negative")
	}
	return nil
}

func (c MemberLevel) Validate() error     { return validateSet(c.Op, len(c.Levels)) }
func (FirstOrder) Validate() error        { return nil }
func (c ProductCategory) Validate() error { return validateSet(c.Op, len(c.Categories)) }
func (c Brand) Validate() error           { return validateSet(c.Op, len(c.Brands)) }
func (c Location) Validate() error        { return validateSet(c.Op, len(c.Regions)) }
func (c PaymentMethod) Validate() error   { return validateSet(c.Op, len(c.Methods)) }
func (UnknownCondition) Validate() error  { return nil }

func (c DayOfWeek) Validate() error {
	if err := validateSet(c.Op, len(c.Days)); err != nil {
		return err
	}
	for _, d := range c.Days {
		if d < time.Sunday || d > time.Saturday {
			return errors.Errorf("invalid weekday %d", d)
		}
	}
	return nil
}

const minutesPerDay = 24 * 60

func (c TimeRange) Validate() error {
	if c.Start < 0 || c.Start >= minutesPerDay || c.End < 0 || c.End > minutesPerDay {
		return errors.Errorf("time range %d-%d out of bounds", c.Start, c.End)
	}
	if c.Start == c.End {
		return errors.New("time range is empty")
	}
	return nil
}

// Contains reports whether the minute of day m lies in [Start, End).
func (c TimeRange) Contains(m int) bool {
	if c.Start < c.End {
		return m >= c.Start && m < c.End
	}
	return m >= c.Start || m < c.End
}

func validateSet(op Operator, n int) error {
	if !op.set() {
		return errors.Errorf("operator %q not a set operator", op)
	}
	if n == 0 {
		return errors.New("value set is empty")
	}
	return nil
}
