package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-coupon-engine/internal/demo"
	"github.com/xenking/oolio-coupon-engine/internal/domain/auth"
	"github.com/xenking/oolio-coupon-engine/internal/domain/catalog"
	"github.com/xenking/oolio-coupon-engine/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		users        string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&users, "users", "", "comma separated users that receive every demo coupon")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or COUPON_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or COUPON_ADMIN_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if apiKey == "" {
		apiKey = os.Getenv("COUPON_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("COUPON_ADMIN_PEPPER")
	}
	if apiKey != "" && apiKeyPepper == "" {
		lg.Fatal("API key pepper is required with --api-key")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, lg, databaseURL, splitUsers(users), apiKey, apiKeyPepper); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func splitUsers(s string) []string {
	var out []string
	for _, u := range strings.Split(s, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, users []string, apiKey, pepper string) error {
	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	wallet := postgres.NewWalletRepository(pool)
	cat := catalog.NewService(postgres.NewCouponRepository(pool), wallet, wallet,
		catalog.WithProfiles(postgres.NewProfileRepository(pool)))
	if _, err := demo.Seed(ctx, cat, postgres.NewProductRepository(pool), users...); err != nil {
		return errors.Wrap(err, "seed demo data")
	}

	if apiKey == "" {
		return nil
	}
	hash := auth.HashKey([]byte(pepper), apiKey)
	info := &auth.APIKeyInfo{
		ID:      "admin-" + hash[:12],
		KeyHash: hash,
		Name:    "Default admin key",
		Scopes:  []string{auth.ScopeAdmin},
	}
	if err := postgres.NewAPIKeyRepository(pool).Save(ctx, info); err != nil {
		return errors.Wrap(err, "save admin API key")
	}
	lg.Info("Upserted API key", zap.String("id", info.ID), zap.String("name", info.Name))
	return nil
}
