// Command wallet-issue bulk-issues coupons to user wallets from gzip files of
// "user,code" lines. Grants repeated across files are issued once.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-coupon-engine/internal/domain/catalog"
	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
	"github.com/xenking/oolio-coupon-engine/internal/storage/postgres"
)

// source is recorded on every instance issued by this tool.
const source = "bulk"

// issuer issues one coupon by code.
type issuer interface {
	IssueByCode(ctx context.Context, code, userID, source string) (*coupon.UserCoupon, error)
}

func main() {
	var (
		pattern     string
		databaseURL string
		capacity    uint
		workers     int
		dryRun      bool
	)

	flag.StringVar(&pattern, "files", "data/grants*.gz", "glob of gzip grant files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&capacity, "capacity", 10_000_000, "expected grants per file, sizes the bloom filters")
	flag.IntVar(&workers, "workers", 8, "concurrent issue calls")
	flag.BoolVar(&dryRun, "dry-run", false, "dedupe only, issue nothing")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, lg, pattern, databaseURL, capacity, workers, dryRun); err != nil {
		lg.Fatal("Wallet issue failed", zap.Error(err))
	}
	lg.Info("Wallet issue completed")
}

func run(ctx context.Context, lg *zap.Logger, pattern, databaseURL string, capacity uint, workers int, dryRun bool) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrap(err, "glob files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", pattern)
	}

	grants, _, err := dedupe(ctx, lg, files, capacity)
	if err != nil {
		return err
	}
	if dryRun || len(grants) == 0 {
		return nil
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	wallet := postgres.NewWalletRepository(pool)
	cat := catalog.NewService(postgres.NewCouponRepository(pool), wallet, wallet)
	_, err = issueAll(ctx, lg, cat, grants, workers)
	return err
}

// issueResult counts the outcome of issueAll.
type issueResult struct {
	Issued  int64
	Skipped int64
}

// issueAll issues grants with bounded concurrency. Unknown and inactive codes
// are skipped; any other error stops the run.
func issueAll(ctx context.Context, lg *zap.Logger, cat issuer, grants []grant, workers int) (issueResult, error) {
	var issued, skipped atomic.Int64
	total := len(grants)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, gr := range grants {
		g.Go(func() error {
			_, err := cat.IssueByCode(ctx, gr.code, gr.user, source)
			switch {
			case errors.Is(err, coupon.ErrNotFound), errors.Is(err, catalog.ErrNotIssuable):
				skipped.Add(1)
				lg.Debug("Skipping grant", zap.String("user", gr.user), zap.String("code", gr.code), zap.Error(err))
				return nil
			case err != nil:
				return errors.Wrapf(err, "issue %s to %s", gr.code, gr.user)
			}
			if n := issued.Add(1); n%progressEvery == 0 {
				lg.Info("Issue progress", zap.Int64("issued", n), zap.Int("total", total))
			}
			return nil
		})
	}
	err := g.Wait()

	res := issueResult{Issued: issued.Load(), Skipped: skipped.Load()}
	lg.Info("Issue complete", zap.Int64("issued", res.Issued), zap.Int64("skipped", res.Skipped))
	return res, err
}
