// Package catalog is the admin boundary over coupon definitions, the
// stacking registry and wallet issuance.
package catalog

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
)

var (
	// ErrNotIssuable is returned when issuing an instance of a definition
	// that is not active or whose window has closed.
	ErrNotIssuable = errors.New("coupon cannot be issued")
	// ErrInvalidRule wraps registry rule validation failures.
	ErrInvalidRule = errors.New("invalid stacking rule")
	// ErrNoProfiles is returned by profile operations when the service has
	// no profile store.
	ErrNoProfiles = errors.New("profile store not configured")
)

// ValidationError lists input fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msg := range e.Fields {
		parts = append(parts, f+" "+msg)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// InvalidTransitionError reports a status change the lifecycle forbids.
type InvalidTransitionError struct {
	From, To coupon.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot change coupon status from %s to %s", e.From, e.To)
}

// transitions lists the allowed targets per status. Expired, depleted and
// cancelled are terminal.
var transitions = map[coupon.Status][]coupon.Status{
	coupon.StatusDraft:  {coupon.StatusActive, coupon.StatusCancelled},
	coupon.StatusActive: {coupon.StatusPaused, coupon.StatusExpired, coupon.StatusDepleted, coupon.StatusCancelled},
	coupon.StatusPaused: {coupon.StatusActive, coupon.StatusExpired, coupon.StatusCancelled},
}

// DefinitionInput is the admin payload for a new coupon definition.
type DefinitionInput struct {
	ID                string                `json:"id" validate:"omitempty,max=64"`
	Code              string                `json:"code" validate:"required,max=64,excludesall= "`
	Name              string                `json:"name" validate:"required,max=200"`
	Description       string                `json:"description" validate:"max=2000"`
	Type              coupon.DiscountType   `json:"discountType" validate:"required"`
	Discount          coupon.Discount       `json:"discountConfig" validate:"required"`
	Conditions        []coupon.Condition    `json:"conditions"`
	TotalUsageLimit   int                   `json:"totalUsageLimit" validate:"gte=0"`
	PerUserLimit      int                   `json:"perUserLimit" validate:"gte=0"`
	DailyLimit        int                   `json:"dailyLimit" validate:"gte=0"`
	Validity          coupon.Validity       `json:"validity"`
	Priority          int                   `json:"priority" validate:"gte=0"`
	StackingType      coupon.StackingType   `json:"stackingType" validate:"required"`
	CompatibleTypes   []coupon.DiscountType `json:"compatibleTypes"`
	IncompatibleTypes []coupon.DiscountType `json:"incompatibleTypes"`
	MaxStackCount     int                   `json:"maxStackCount" validate:"gte=0"`
	Status            coupon.Status         `json:"status" validate:"omitempty,oneof=draft active"`
}

// RuleInput is the admin payload for a registry rule.
type RuleInput struct {
	Name              string                `json:"name" validate:"required,max=200"`
	AppliesTo         []coupon.DiscountType `json:"appliesTo" validate:"required,min=1"`
	Type              coupon.StackingType   `json:"stackingType" validate:"required"`
	CompatibleTypes   []coupon.DiscountType `json:"compatibleTypes"`
	IncompatibleTypes []coupon.DiscountType `json:"incompatibleTypes"`
	MaxStackCount     int                   `json:"maxStackCount" validate:"gte=0"`
	Priority          int                   `json:"priority"`
	Active            *bool                 `json:"active"`
}

// WalletEntry is a wallet instance with its definition.
type WalletEntry struct {
	Coupon     coupon.UserCoupon
	Definition *coupon.Definition
}

// Stats summarises issuance and redemption of one definition.
type Stats struct {
	CouponID    string
	TotalIssued int
	TotalUsed   int
	// UsageRate is TotalUsed / TotalIssued, zero when nothing was issued.
	UsageRate decimal.Decimal
}

// Service implements the admin operations.
type Service struct {
	coupons  coupon.Repository
	wallet   coupon.WalletRepository
	rules    coupon.StackingRuleRepository
	profiles coupon.ProfileRepository
	validate *validator.Validate
	now      func() time.Time
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithProfiles enables the profile operations.
func WithProfiles(p coupon.ProfileRepository) Option {
	return func(s *Service) { s.profiles = p }
}

// NewService creates a catalog Service.
func NewService(
	coupons coupon.Repository,
	wallet coupon.WalletRepository,
	rules coupon.StackingRuleRepository,
	opts ...Option,
) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]; tag != "" {
			return tag
		}
		return f.Name
	})
	s := &Service{
		coupons:  coupons,
		wallet:   wallet,
		rules:    rules,
		validate: v,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Wrap(err, "validate")
	}
	ve := &ValidationError{Fields: map[string]string{}}
	for _, fe := range fieldErrs {
		ve.Fields[fe.Field()] = validationMessage(fe)
	}
	return ve
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "excludesall":
		return "must not contain spaces"
	}
	return "is invalid"
}

// CreateDefinition validates and stores a new definition. Codes are stored
// upper-cased and must be unique.
func (s *Service) CreateDefinition(ctx context.Context, in DefinitionInput) (*coupon.Definition, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	def := &coupon.Definition{
		ID:          in.ID,
		Code:        strings.ToUpper(in.Code),
		Name:        in.Name,
		Description: in.Description,
		Type:        in.Type,
		Discount:    in.Discount,
		Conditions:  in.Conditions,
		Limits: coupon.Limits{
			TotalUsage: in.TotalUsageLimit,
			PerUser:    in.PerUserLimit,
			Daily:      in.DailyLimit,
		},
		Validity: in.Validity,
		Stacking: coupon.StackingRule{
			Priority:          in.Priority,
			Type:              in.StackingType,
			CompatibleTypes:   in.CompatibleTypes,
			IncompatibleTypes: in.IncompatibleTypes,
			MaxStackCount:     in.MaxStackCount,
		},
		Status:    in.Status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if def.ID == "" {
		def.ID = s.newID()
	}
	if def.Status == "" {
		def.Status = coupon.StatusDraft
	}
	if def.Validity.Kind == "" {
		def.Validity.Kind = coupon.ValidityPermanent
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.coupons.FindCouponByCode(ctx, def.Code); err == nil {
		return nil, coupon.ErrDuplicateCode
	} else if !errors.Is(err, coupon.ErrNotFound) {
		return nil, errors.Wrap(err, "find coupon by code")
	}
	if _, err := s.coupons.FindCouponByID(ctx, def.ID); err == nil {
		return nil, &ValidationError{Fields: map[string]string{"id": "is already taken"}}
	} else if !errors.Is(err, coupon.ErrNotFound) {
		return nil, errors.Wrap(err, "find coupon")
	}

	if err := s.coupons.SaveCoupon(ctx, def); err != nil {
		if errors.Is(err, coupon.ErrDuplicateCode) {
			return nil, err
		}
		return nil, errors.Wrap(err, "save coupon")
	}
	zctx.From(ctx).Info("Coupon created",
		zap.String("coupon_id", def.ID),
		zap.String("code", def.Code),
		zap.String("type", string(def.Type)),
	)
	return def, nil
}

// Get returns a definition by id.
func (s *Service) Get(ctx context.Context, id string) (*coupon.Definition, error) {
	return s.coupons.FindCouponByID(ctx, id)
}

// List returns every definition.
func (s *Service) List(ctx context.Context) ([]coupon.Definition, error) {
	return s.coupons.ListCoupons(ctx)
}

// UpdateStatus moves a definition through its lifecycle. Activation
// re-runs structural validation.
func (s *Service) UpdateStatus(ctx context.Context, id string, to coupon.Status) (*coupon.Definition, error) {
	if !to.Valid() {
		return nil, &ValidationError{Fields: map[string]string{"status": "is invalid"}}
	}
	def, err := s.coupons.FindCouponByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if def.Status == to {
		return def, nil
	}
	allowed := false
	for _, st := range transitions[def.Status] {
		if st == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, &InvalidTransitionError{From: def.Status, To: to}
	}
	if to == coupon.StatusActive {
		if err := def.Validate(); err != nil {
			return nil, err
		}
	}

	from := def.Status
	def.Status = to
	def.UpdatedAt = s.now().UTC()
	if err := s.coupons.SaveCoupon(ctx, def); err != nil {
		return nil, errors.Wrap(err, "save coupon")
	}
	zctx.From(ctx).Info("Coupon status changed",
		zap.String("coupon_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return def, nil
}

// CreateStackingRule validates and stores a registry rule. Active defaults
// to true.
func (s *Service) CreateStackingRule(ctx context.Context, in RuleInput) (*coupon.RegistryRule, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	r := &coupon.RegistryRule{
		ID:                s.newID(),
		Name:              in.Name,
		AppliesTo:         in.AppliesTo,
		Type:              in.Type,
		CompatibleTypes:   in.CompatibleTypes,
		IncompatibleTypes: in.IncompatibleTypes,
		MaxStackCount:     in.MaxStackCount,
		Priority:          in.Priority,
		Active:            in.Active == nil || *in.Active,
	}
	if err := r.Validate(); err != nil {
		return nil, errors.Wrapf(ErrInvalidRule, "%s", err)
	}
	if err := s.rules.SaveStackingRule(ctx, r); err != nil {
		return nil, errors.Wrap(err, "save stacking rule")
	}
	return r, nil
}

// ListStackingRules returns the registry.
func (s *Service) ListStackingRules(ctx context.Context) ([]coupon.RegistryRule, error) {
	return s.rules.ListStackingRules(ctx)
}

// Issue adds an instance of an active definition to a user's wallet. The
// expiry is derived from the definition's validity at issue time.
func (s *Service) Issue(ctx context.Context, couponID, userID, source string) (*coupon.UserCoupon, error) {
	if userID == "" {
		return nil, &ValidationError{Fields: map[string]string{"userId": "is required"}}
	}
	def, err := s.coupons.FindCouponByID(ctx, couponID)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, def, userID, source)
}

// IssueByCode is Issue addressed by coupon code.
func (s *Service) IssueByCode(ctx context.Context, code, userID, source string) (*coupon.UserCoupon, error) {
	def, err := s.coupons.FindCouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, def, userID, source)
}

func (s *Service) issue(ctx context.Context, def *coupon.Definition, userID, source string) (*coupon.UserCoupon, error) {
	now := s.now().UTC()
	if def.Status != coupon.StatusActive {
		return nil, errors.Wrapf(ErrNotIssuable, "coupon %s is %s", def.Code, def.Status)
	}
	if def.Validity.Kind == coupon.ValidityFixed && !def.Validity.End.IsZero() && !now.Before(def.Validity.End) {
		return nil, errors.Wrapf(ErrNotIssuable, "coupon %s window has closed", def.Code)
	}

	uc := &coupon.UserCoupon{
		ID:         s.newID(),
		UserID:     userID,
		CouponID:   def.ID,
		Status:     coupon.InstanceAvailable,
		ObtainedAt: now,
		ExpiresAt:  def.Validity.ExpiresAt(now),
		Source:     source,
	}
	if err := s.wallet.SaveUserCoupon(ctx, uc); err != nil {
		return nil, errors.Wrap(err, "save wallet entry")
	}
	return uc, nil
}

// Wallet lists a user's instances with their definitions. Available
// instances past their expiry are reported as expired.
func (s *Service) Wallet(ctx context.Context, userID string) ([]WalletEntry, error) {
	ucs, err := s.wallet.FindUserCoupons(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "find wallet")
	}
	ids := make([]string, 0, len(ucs))
	for _, uc := range ucs {
		ids = append(ids, uc.CouponID)
	}
	defs, err := s.coupons.FindCouponsByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "find coupons")
	}
	byID := make(map[string]*coupon.Definition, len(defs))
	for i := range defs {
		byID[defs[i].ID] = &defs[i]
	}

	now := s.now()
	out := make([]WalletEntry, 0, len(ucs))
	for _, uc := range ucs {
		if uc.Status == coupon.InstanceAvailable && uc.Expired(now) {
			uc.Status = coupon.InstanceExpired
		}
		out = append(out, WalletEntry{Coupon: uc, Definition: byID[uc.CouponID]})
	}
	return out, nil
}

// Stats reports issuance and redemption counts of a definition.
func (s *Service) Stats(ctx context.Context, couponID string) (*Stats, error) {
	if _, err := s.coupons.FindCouponByID(ctx, couponID); err != nil {
		return nil, err
	}
	issued, used, err := s.wallet.CountByCoupon(ctx, couponID)
	if err != nil {
		return nil, errors.Wrap(err, "count wallet entries")
	}
	st := &Stats{CouponID: couponID, TotalIssued: issued, TotalUsed: used, UsageRate: decimal.Zero}
	if issued > 0 {
		st.UsageRate = decimal.NewFromInt(int64(used)).Div(decimal.NewFromInt(int64(issued))).Round(4)
	}
	return st, nil
}

// ProfileInput is the admin payload for a user profile.
type ProfileInput struct {
	UserID        string     `json:"userId" validate:"required,max=128"`
	Level         string     `json:"level" validate:"max=32"`
	IsNewCustomer bool       `json:"isNewCustomer"`
	Birthday      *time.Time `json:"birthday"`
}

// Profile returns the profile conditions are matched against for userID.
func (s *Service) Profile(ctx context.Context, userID string) (coupon.Profile, error) {
	if s.profiles == nil {
		return coupon.Profile{}, ErrNoProfiles
	}
	return s.profiles.FindProfile(ctx, userID)
}

// SetProfile replaces a user's profile.
func (s *Service) SetProfile(ctx context.Context, in ProfileInput) (coupon.Profile, error) {
	if s.profiles == nil {
		return coupon.Profile{}, ErrNoProfiles
	}
	if err := s.check(in); err != nil {
		return coupon.Profile{}, err
	}
	p := coupon.Profile{Level: in.Level, IsNewCustomer: in.IsNewCustomer}
	if in.Birthday != nil {
		y, m, d := in.Birthday.Date()
		b := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		p.Birthday = &b
	}
	if err := s.profiles.SaveProfile(ctx, in.UserID, p); err != nil {
		return coupon.Profile{}, errors.Wrap(err, "save profile")
	}
	zctx.From(ctx).Info("Profile updated", zap.String("user_id", in.UserID), zap.String("level", p.Level))
	return p, nil
}
