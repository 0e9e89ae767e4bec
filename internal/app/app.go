package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-coupon-engine/internal/demo"
	"github.com/xenking/oolio-coupon-engine/internal/domain/auth"
	"github.com/xenking/oolio-coupon-engine/internal/domain/catalog"
	"github.com/xenking/oolio-coupon-engine/internal/domain/checkout"
	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
	"github.com/xenking/oolio-coupon-engine/internal/domain/product"
	"github.com/xenking/oolio-coupon-engine/internal/domain/redemption"
	"github.com/xenking/oolio-coupon-engine/internal/domain/stacking"
	"github.com/xenking/oolio-coupon-engine/internal/handler"
	"github.com/xenking/oolio-coupon-engine/internal/storage/memory"
	"github.com/xenking/oolio-coupon-engine/internal/storage/postgres"
	"github.com/xenking/oolio-coupon-engine/internal/storage/redis"
	"github.com/xenking/oolio-coupon-engine/pkg/health"
	"github.com/xenking/oolio-coupon-engine/pkg/httpmiddleware"
)

// stores is the persistence the services run on.
type stores struct {
	coupons  coupon.Repository
	wallet   coupon.WalletRepository
	rules    coupon.StackingRuleRepository
	usage    coupon.UsageRepository
	profiles coupon.ProfileRepository
	ledger   redemption.Store
	products interface {
		product.Repository
		product.Writer
	}
	orders  checkout.OrderRepository
	quotes  checkout.QuoteStore
	locker  redemption.Locker
	apikeys auth.Repository
}

// openStores connects to postgres and redis when configured and falls back
// to in-process stores otherwise. The returned func releases connections.
func openStores(ctx context.Context, lg *zap.Logger, cfg *Config, hs *health.Health) (*stores, func(), error) {
	var (
		s       stores
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pepper := []byte(cfg.Admin.Pepper)
	static := auth.NewStaticKeys(pepper, cfg.Admin.APIKeys...)

	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "create db pool")
		}
		closers = append(closers, pool.Close)
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			closeAll()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		hs.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))

		couponRepo := postgres.NewCouponRepository(pool)
		walletRepo := postgres.NewWalletRepository(pool)
		s.coupons, s.usage = couponRepo, couponRepo
		s.wallet, s.rules = walletRepo, walletRepo
		s.ledger = postgres.NewLedgerStore(pool)
		s.profiles = postgres.NewProfileRepository(pool)
		s.products = postgres.NewProductRepository(pool)
		s.orders = postgres.NewOrderRepository(pool)
		s.apikeys = keyChain{static, postgres.NewAPIKeyRepository(pool)}
		lg.Info("Using PostgreSQL storage")
	} else {
		mem := memory.NewStore()
		s.coupons, s.wallet, s.rules, s.usage, s.ledger = mem, mem, mem, mem, mem
		s.profiles = mem
		s.products = memory.NewProductRepository()
		s.orders = memory.NewOrderRepository()
		s.apikeys = static
		lg.Warn("No database configured, using in-memory storage")
	}

	if cfg.RedisURL != "" {
		rc, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, errors.Wrap(err, "connect redis")
		}
		closers = append(closers, func() {
			if err := rc.Close(); err != nil {
				lg.Warn("Close redis", zap.Error(err))
			}
		})
		hs.AddReadinessCheck("redis", 2*time.Second, health.PingCheck("redis", rc))
		s.quotes, s.locker = rc, rc
	} else {
		s.quotes, s.locker = memory.NewQuoteStore(), memory.NewLocker()
	}
	return &s, closeAll, nil
}

// keyChain looks a hash up in each repository in turn.
type keyChain []auth.Repository

func (c keyChain) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	for _, r := range c {
		info, err := r.FindByHash(ctx, hash)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, auth.ErrKeyNotFound) {
			return nil, err
		}
	}
	return nil, auth.ErrKeyNotFound
}

// service is the wired HTTP surface with its health checks.
type service struct {
	handler http.Handler
	health  *health.Health
	close   func()
}

// build creates all dependencies and the middleware-wrapped router.
func build(ctx context.Context, lg *zap.Logger, t httpmiddleware.Telemetry, cfg *Config) (*service, error) {
	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	st, closeStores, err := openStores(ctx, lg, cfg, healthSvc)
	if err != nil {
		return nil, err
	}

	engineCfg, err := cfg.stackingConfig()
	if err != nil {
		closeStores()
		return nil, errors.Wrap(err, "engine config")
	}
	engine, err := stacking.NewEngine(st.coupons, st.wallet, st.rules, st.usage, engineCfg,
		stacking.WithTracerProvider(t.TracerProvider()),
		stacking.WithMeterProvider(t.MeterProvider()),
	)
	if err != nil {
		closeStores()
		return nil, errors.Wrap(err, "create engine")
	}
	ledger, err := redemption.NewLedger(st.ledger,
		redemption.WithLocker(st.locker, cfg.Checkout.LockTTL),
		redemption.WithTracerProvider(t.TracerProvider()),
		redemption.WithMeterProvider(t.MeterProvider()),
	)
	if err != nil {
		closeStores()
		return nil, errors.Wrap(err, "create ledger")
	}

	checkoutSvc := checkout.NewService(st.products, engine, ledger, st.quotes, st.orders, checkout.Config{
		QuoteTTL:    cfg.Checkout.QuoteTTL,
		MaxAttempts: cfg.Checkout.MaxAttempts,
	}, checkout.WithProfiles(st.profiles))
	catalogSvc := catalog.NewService(st.coupons, st.wallet, st.rules, catalog.WithProfiles(st.profiles))

	if cfg.Demo.Seed {
		if _, err := demo.Seed(zctx.Base(ctx, lg), catalogSvc, st.products, cfg.Demo.Users...); err != nil {
			closeStores()
			return nil, errors.Wrap(err, "seed demo data")
		}
	}

	h := handler.NewHandler(
		handler.HandlerConfig{ImageBaseURL: cfg.ImageBaseURL},
		checkoutSvc,
		catalogSvc,
		st.products,
		auth.NewAuthenticator(st.apikeys, []byte(cfg.Admin.Pepper)),
	)

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Routes(router)

	return &service{
		health: healthSvc,
		close:  closeStores,
		handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "api_key", "X-API-Key", "X-User-ID"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.UserOrIPKey,
				Skip:    isHealthCheck,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument("coupon-api", t),
			httpmiddleware.LogRequests(),
		),
	}, nil
}

func isHealthCheck(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz"
}

// Run starts the HTTP server and handles graceful shutdown. It is the single
// wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	svc, err := build(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		svc.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		svc.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
