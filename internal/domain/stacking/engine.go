package stacking

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
)

const instrumentationName = "github.com/xenking/oolio-coupon-engine/internal/domain/stacking"

// DefaultMaxAlternatives bounds Evaluation.Alternatives.
const DefaultMaxAlternatives = 10

// Config tunes the pipeline.
type Config struct {
	Limits          Limits
	MaxAlternatives int
	Policy          Policy
}

func (c Config) withDefaults() Config {
	c.Limits = c.Limits.withDefaults()
	if c.MaxAlternatives <= 0 {
		c.MaxAlternatives = DefaultMaxAlternatives
	}
	if c.Policy == nil {
		c.Policy = MaxDiscount{}
	}
	return c
}

// Snapshot is the state one evaluation runs against.
type Snapshot struct {
	FilterInput
	Registry []coupon.RegistryRule
}

// Evaluation is the read-only preview returned to checkout.
type Evaluation struct {
	UserID       string
	EvaluatedAt  time.Time
	Accepted     Scored
	Alternatives []Scored
	Rejections   map[string]Reason
	Unknown      []UnknownHit
	// Invalid holds definitions excluded for configuration errors.
	Invalid map[string]error
	// Candidates is the number of eligible coupons searched.
	Candidates int
	// Combinations is the number of combinations scored.
	Combinations int
	// Truncated is set when the combination cap stopped enumeration.
	Truncated bool
}

// Breakdown returns the accepted combination's lines.
func (e *Evaluation) Breakdown() []Line {
	if e == nil {
		return nil
	}
	return e.Accepted.Lines
}

// Run executes filter, resolve, generate, calculate and select over a
// snapshot. It is pure and safe for concurrent use.
func Run(s Snapshot, cfg Config) *Evaluation {
	cfg = cfg.withDefaults()

	filtered := Filter(s.FilterInput)
	candidates := Shortlist(filtered.Eligible, s.Cart, cfg.Limits.MaxCandidates)
	graph := Resolve(candidates, s.Registry)
	combos, truncated := Generate(graph, cfg.Limits)

	scored := make([]Scored, len(combos))
	for i, c := range combos {
		scored[i] = Calculate(c, s.Cart)
	}
	sel := Select(scored, cfg.Policy, cfg.MaxAlternatives)

	return &Evaluation{
		EvaluatedAt:  s.Now,
		Accepted:     sel.Accepted,
		Alternatives: sel.Alternatives,
		Rejections:   filtered.Rejections,
		Unknown:      filtered.Unknown,
		Invalid:      filtered.Invalid,
		Candidates:   len(candidates),
		Combinations: len(combos),
		Truncated:    truncated,
	}
}

// Engine loads wallet, catalog, registry and ledger counters and runs the
// pipeline. It holds no state between calls.
type Engine struct {
	coupons coupon.Repository
	wallet  coupon.WalletRepository
	rules   coupon.StackingRuleRepository
	usage   coupon.UsageRepository
	cfg     Config

	now     func() time.Time
	tracer  trace.Tracer
	meter   metric.MeterProvider
	metrics engineMetrics
}

type engineMetrics struct {
	evaluations  metric.Int64Counter
	rejections   metric.Int64Counter
	combinations metric.Int64Histogram
	unknown      metric.Int64Counter
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meter = mp }
}

// NewEngine creates an Engine over the given repositories.
func NewEngine(
	coupons coupon.Repository,
	wallet coupon.WalletRepository,
	rules coupon.StackingRuleRepository,
	usage coupon.UsageRepository,
	cfg Config,
	opts ...Option,
) (*Engine, error) {
	e := &Engine{
		coupons: coupons,
		wallet:  wallet,
		rules:   rules,
		usage:   usage,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		tracer:  tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:   noop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(e)
	}

	m := e.meter.Meter(instrumentationName)
	var err error
	if e.metrics.evaluations, err = m.Int64Counter("coupon.engine.evaluations",
		metric.WithDescription("Number of wallet evaluations"),
	); err != nil {
		return nil, errors.Wrap(err, "evaluations counter")
	}
	if e.metrics.rejections, err = m.Int64Counter("coupon.engine.rejections",
		metric.WithDescription("Wallet entries rejected by eligibility, by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "rejections counter")
	}
	if e.metrics.combinations, err = m.Int64Histogram("coupon.engine.combinations",
		metric.WithDescription("Combinations scored per evaluation"),
	); err != nil {
		return nil, errors.Wrap(err, "combinations histogram")
	}
	if e.metrics.unknown, err = m.Int64Counter("coupon.engine.unknown_conditions",
		metric.WithDescription("Unrecognised condition kinds treated as passing"),
	); err != nil {
		return nil, errors.Wrap(err, "unknown conditions counter")
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Evaluate previews the best coupon combination for the user's cart. Only
// repository failures produce an error; ineligible or misconfigured coupons
// are reported in the result.
func (e *Engine) Evaluate(ctx context.Context, userID string, cart coupon.Cart) (*Evaluation, error) {
	ctx, span := e.tracer.Start(ctx, "stacking.Evaluate",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	snap, err := e.Load(ctx, userID, cart)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ev := Run(*snap, e.cfg)
	ev.UserID = userID
	e.observe(ctx, ev)

	span.SetAttributes(
		attribute.Int("coupon.candidates", ev.Candidates),
		attribute.Int("coupon.combinations", ev.Combinations),
		attribute.String("coupon.accepted", ev.Accepted.Combination.ID),
	)
	return ev, nil
}

// Load reads everything one evaluation needs.
func (e *Engine) Load(ctx context.Context, userID string, cart coupon.Cart) (*Snapshot, error) {
	now := e.now().UTC()

	wallet, err := e.wallet.FindUserCoupons(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load wallet")
	}

	seen := make(map[string]struct{}, len(wallet))
	var ids []string
	for _, uc := range wallet {
		if _, ok := seen[uc.CouponID]; !ok {
			seen[uc.CouponID] = struct{}{}
			ids = append(ids, uc.CouponID)
		}
	}
	sort.Strings(ids)

	defs := make(map[string]*coupon.Definition, len(ids))
	usage := map[string]coupon.Usage{}
	if len(ids) > 0 {
		found, err := e.coupons.FindCouponsByIDs(ctx, ids)
		if err != nil {
			return nil, errors.Wrap(err, "load definitions")
		}
		for i := range found {
			defs[found[i].ID] = &found[i]
		}
		if usage, err = e.usage.Usage(ctx, userID, ids, now); err != nil {
			return nil, errors.Wrap(err, "load usage")
		}
	}

	registry, err := e.rules.ListStackingRules(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load stacking rules")
	}

	return &Snapshot{
		FilterInput: FilterInput{
			Wallet:      wallet,
			Definitions: defs,
			Usage:       usage,
			Cart:        cart,
			Now:         now,
		},
		Registry: registry,
	}, nil
}

func (e *Engine) observe(ctx context.Context, ev *Evaluation) {
	lg := zctx.From(ctx)
	for id, err := range ev.Invalid {
		lg.Warn("Coupon excluded: invalid configuration",
			zap.String("coupon_id", id),
			zap.Error(err),
		)
	}
	for _, hit := range ev.Unknown {
		lg.Debug("Unknown condition treated as passing",
			zap.String("coupon_id", hit.CouponID),
			zap.String("user_coupon_id", hit.UserCouponID),
			zap.String("condition", hit.Kind),
		)
		e.metrics.unknown.Add(ctx, 1, metric.WithAttributes(attribute.String("condition", hit.Kind)))
	}
	if ev.Truncated {
		lg.Warn("Combination enumeration truncated",
			zap.String("user_id", ev.UserID),
			zap.Int("combinations", ev.Combinations),
		)
	}

	e.metrics.evaluations.Add(ctx, 1)
	for _, reason := range ev.Rejections {
		e.metrics.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
	}
	e.metrics.combinations.Record(ctx, int64(ev.Combinations))
}
