// Package coupon holds the coupon data model: immutable definitions, wallet
// instances issued to users, the stacking-rule registry and the cart snapshot
// the engine evaluates against.
package coupon

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	DiscountFixedAmount     DiscountType = "fixed_amount"
	DiscountPercentage      DiscountType = "percentage"
	DiscountFreeShipping    DiscountType = "free_shipping"
	DiscountBuyOneGetOne    DiscountType = "buy_one_get_one"
	DiscountBundle          DiscountType = "bundle_discount"
	DiscountMemberExclusive DiscountType = "member_exclusive"
	DiscountNewUserBonus    DiscountType = "new_user_bonus"
	DiscountBirthdayGift    DiscountType = "birthday_gift"
	DiscountCashback        DiscountType = "cashback"
)

// DiscountTypes lists every discount type in declaration order.
var DiscountTypes = []DiscountType{
	DiscountFixedAmount,
	DiscountPercentage,
	DiscountFreeShipping,
	DiscountBuyOneGetOne,
	DiscountBundle,
	DiscountMemberExclusive,
	DiscountNewUserBonus,
	DiscountBirthdayGift,
	DiscountCashback,
}

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	for _, v := range DiscountTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a coupon definition.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusExpired   Status = "expired"
	StatusDepleted  Status = "depleted"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known definition status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusPaused, StatusExpired, StatusDepleted, StatusCancelled:
		return true
	}
	return false
}

// InstanceStatus is the lifecycle state of a wallet entry.
type InstanceStatus string

const (
	InstanceAvailable InstanceStatus = "available"
	InstanceUsed      InstanceStatus = "used"
	InstanceExpired   InstanceStatus = "expired"
	InstanceReserved  InstanceStatus = "reserved"
	InstanceCancelled InstanceStatus = "cancelled"
)

var (
	// ErrNotFound is returned by repositories when a definition or wallet
	// entry does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrDuplicateCode is returned when a definition code is already taken.
	ErrDuplicateCode = errors.New("coupon code already exists")
	// ErrInvalidDefinition wraps every structural validation failure.
	ErrInvalidDefinition = errors.New("invalid coupon definition")
)

// Limits bounds how often a definition may be redeemed. Zero means unbounded.
type Limits struct {
	TotalUsage int
	PerUser    int
	Daily      int
}

// ValidityKind selects how a definition's validity window is expressed.
type ValidityKind string

const (
	ValidityFixed        ValidityKind = "fixed"
	ValidityPermanent    ValidityKind = "permanent"
	ValidityRelativeDays ValidityKind = "relative_days"
)

// Validity describes when a definition may be used.
type Validity struct {
	Kind  ValidityKind
	Start time.Time
	End   time.Time
	// Days is the lifetime of an issued instance for ValidityRelativeDays.
	Days int
}

// Contains reports whether now falls inside the definition-level window.
// Relative validity is enforced per instance through UserCoupon.ExpiresAt.
func (v Validity) Contains(now time.Time) bool {
	if v.Kind != ValidityFixed {
		return true
	}
	if !v.Start.IsZero() && now.Before(v.Start) {
		return false
	}
	if !v.End.IsZero() && !now.Before(v.End) {
		return false
	}
	return true
}

// ExpiresAt computes the expiry of an instance obtained at the given time.
// The zero time means the instance never expires on its own.
func (v Validity) ExpiresAt(obtained time.Time) time.Time {
	switch v.Kind {
	case ValidityFixed:
		return v.End
	case ValidityRelativeDays:
		return obtained.AddDate(0, 0, v.Days)
	default:
		return time.Time{}
	}
}

// Definition is the immutable coupon template configured by an admin.
type Definition struct {
	ID          string
	Code        string
	Name        string
	Description string
	Type        DiscountType
	Discount    Discount
	Conditions  []Condition
	Limits      Limits
	Validity    Validity
	Stacking    StackingRule
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserCoupon is a definition instance held in one user's wallet.
type UserCoupon struct {
	ID         string
	UserID     string
	CouponID   string
	Status     InstanceStatus
	ObtainedAt time.Time
	// ExpiresAt is zero for instances that never expire.
	ExpiresAt      time.Time
	UsedAt         *time.Time
	OrderID        string
	DiscountAmount decimal.Decimal
	Source         string
}

// Expired reports whether the instance has passed its expiry at now.
func (u *UserCoupon) Expired(now time.Time) bool {
	return !u.ExpiresAt.IsZero() && !now.Before(u.ExpiresAt)
}

// Usage holds redemption-ledger counters for one definition.
type Usage struct {
	Total int
	Daily int
	User  int
}

// Item is a cart line for discount evaluation.
type Item struct {
	ProductID string
	Category  string
	Brand     string
	Price     decimal.Decimal
	Quantity  int
}

// Profile carries the user attributes conditions can match on.
type Profile struct {
	Level         string
	IsNewCustomer bool
	Birthday      *time.Time
}

// Cart is the checkout snapshot the engine evaluates. It is never persisted.
type Cart struct {
	Subtotal      decimal.Decimal
	TotalQuantity int
	ShippingCost  decimal.Decimal
	Items         []Item
	Profile       Profile
	PaymentMethod string
	Location      string
}

// NewCart builds a cart from its items, deriving subtotal and quantity.
func NewCart(items []Item, shipping decimal.Decimal, profile Profile) Cart {
	c := Cart{
		Items:        items,
		ShippingCost: shipping,
		Profile:      profile,
		Subtotal:     decimal.Zero,
	}
	for _, it := range items {
		c.Subtotal = c.Subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		c.TotalQuantity += it.Quantity
	}
	return c
}
