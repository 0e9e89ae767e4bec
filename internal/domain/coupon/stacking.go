package coupon

import (
	"slices"

	"github.com/go-faster/errors"
)

// StackingType controls which other coupons a coupon may be combined with.
type StackingType string

const (
	// StackAllowAll combines with every type not listed as incompatible.
	StackAllowAll StackingType = "allow_all"
	// StackSelective combines only with the listed compatible types.
	StackSelective StackingType = "selective"
	// StackExclusive never combines with any other coupon.
	StackExclusive StackingType = "exclusive"
	// StackHierarchical combines like selective, and every combination it
	// joins must have strictly ascending distinct priorities.
	StackHierarchical StackingType = "hierarchical"
)

func (t StackingType) valid() bool {
	switch t {
	case StackAllowAll, StackSelective, StackExclusive, StackHierarchical:
		return true
	}
	return false
}

// StackingRule is the per-definition stacking metadata.
type StackingRule struct {
	// Priority orders application; lower values apply first.
	Priority          int
	Type              StackingType
	CompatibleTypes   []DiscountType
	IncompatibleTypes []DiscountType
	// MaxStackCount bounds combinations containing this coupon.
	// Zero defers to the engine default.
	MaxStackCount int
}

// Validate checks the rule's enum values and bounds.
func (r StackingRule) Validate() error {
	if !r.Type.valid() {
		return errors.Errorf("unknown stacking type %q", r.Type)
	}
	if r.MaxStackCount < 0 {
		return errors.New("max stack count must not be negative")
	}
	for _, t := range append(slices.Clone(r.CompatibleTypes), r.IncompatibleTypes...) {
		if !t.Valid() {
			return errors.Errorf("unknown discount type %q in stacking lists", t)
		}
	}
	return nil
}

// Permits reports whether this rule, taken alone, allows stacking with a
// coupon of the other type.
func (r StackingRule) Permits(other DiscountType) bool {
	return permits(r.Type, r.CompatibleTypes, r.IncompatibleTypes, other)
}

// RegistryRule is a cross-coupon stacking rule that applies to groups of
// discount types independently of each definition's own StackingRule.
type RegistryRule struct {
	ID   string
	Name string
	// AppliesTo lists the discount types this rule governs.
	AppliesTo         []DiscountType
	Type              StackingType
	CompatibleTypes   []DiscountType
	IncompatibleTypes []DiscountType
	MaxStackCount     int
	Priority          int
	Active            bool
}

// Validate checks the registry rule.
func (r RegistryRule) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if len(r.AppliesTo) == 0 {
		return errors.New("rule must apply to at least one discount type")
	}
	return StackingRule{
		Type:              r.Type,
		CompatibleTypes:   append(slices.Clone(r.AppliesTo), r.CompatibleTypes...),
		IncompatibleTypes: r.IncompatibleTypes,
		MaxStackCount:     r.MaxStackCount,
	}.Validate()
}

// Governs reports whether the rule applies to coupons of type t.
func (r RegistryRule) Governs(t DiscountType) bool {
	return r.Active && slices.Contains(r.AppliesTo, t)
}

// Permits reports whether the rule allows a governed type to stack with other.
func (r RegistryRule) Permits(other DiscountType) bool {
	return permits(r.Type, r.CompatibleTypes, r.IncompatibleTypes, other)
}

func permits(t StackingType, compatible, incompatible []DiscountType, other DiscountType) bool {
	if slices.Contains(incompatible, other) {
		return false
	}
	switch t {
	case StackAllowAll:
		return true
	case StackSelective, StackHierarchical:
		return slices.Contains(compatible, other)
	default:
		return false
	}
}
