// Binary coupon-ingest bulk-loads coupon batches exported by marketing
// as gzip-compressed CSV files (name,discount,expires_at per line).
// Files are streamed concurrently; a bloom filter drops names already
// ingested in this run so re-exported batches do not hammer the
// database with redundant upserts.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/veskor/bazaar/internal/domain/coupon"
	"github.com/veskor/bazaar/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
)

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing coupon batch *.csv.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
	if err != nil {
		return errors.Wrap(err, "list batch files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.csv.gz files in %s", dataDir)
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewCouponRepository(pool)

	// The filter and its mutex are shared across file readers; a false
	// positive only skips an upsert that already happened.
	var (
		mu   sync.Mutex
		seen = bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	)

	coupons := make(chan coupon.Coupon, 1024)

	g, ctx := errgroup.WithContext(ctx)

	readers, readerCtx := errgroup.WithContext(ctx)
	for _, f := range files {
		readers.Go(streamBatchFile(readerCtx, f, coupons, func(name string) bool {
			mu.Lock()
			defer mu.Unlock()
			return seen.TestOrAddString(name)
		}))
	}
	g.Go(func() error {
		defer close(coupons)
		return readers.Wait()
	})
	g.Go(func() error {
		return writeCoupons(ctx, repo, coupons)
	})

	return g.Wait()
}

// streamBatchFile parses one gz CSV batch and sends unseen coupons
// downstream. Malformed lines are logged and skipped.
func streamBatchFile(ctx context.Context, path string, out chan<- coupon.Coupon, alreadySeen func(string) bool) func() error {
	return func() error {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "open %s", path)
		}
		defer func() { _ = f.Close() }()

		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()

		var count uint64
		scanner := bufio.NewScanner(gz)
		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				return err
			}

			c, err := parseLine(scanner.Text())
			if err != nil {
				slog.Warn("skipping malformed line",
					slog.String("file", filepath.Base(path)),
					slog.String("error", err.Error()),
				)
				continue
			}
			if alreadySeen(c.Name) {
				continue
			}

			select {
			case out <- c:
			case <-ctx.Done():
				return ctx.Err()
			}

			count++
			if count%progressEvery == 0 {
				slog.Info("ingest progress",
					slog.String("file", filepath.Base(path)),
					slog.Uint64("coupons", count),
				)
			}
		}
		if err := scanner.Err(); err != nil {
			return errors.Wrapf(err, "scan %s", path)
		}

		slog.Info("batch complete",
			slog.String("file", filepath.Base(path)),
			slog.Uint64("coupons", count),
		)
		return nil
	}
}

func parseLine(line string) (coupon.Coupon, error) {
	parts := strings.SplitN(strings.TrimSpace(line), ",", 3)
	if len(parts) != 3 {
		return coupon.Coupon{}, errors.Errorf("expected 3 fields, got %d", len(parts))
	}

	name := coupon.Normalize(parts[0])
	if name == "" {
		return coupon.Coupon{}, errors.New("empty coupon name")
	}

	discount, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "parse discount")
	}
	if discount.IsNegative() || discount.GreaterThan(decimal.NewFromInt(100)) {
		return coupon.Coupon{}, errors.Errorf("discount %s out of range", discount)
	}

	expiresAt, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[2]))
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "parse expiry")
	}

	return coupon.Coupon{Name: name, Discount: discount, ExpiresAt: expiresAt}, nil
}

func writeCoupons(ctx context.Context, repo *postgres.CouponRepository, coupons <-chan coupon.Coupon) error {
	var written int
	for c := range coupons {
		if err := repo.Upsert(ctx, &c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Name)
		}
		written++
		if written%1000 == 0 {
			slog.Info("write progress", slog.Int("written", written))
		}
	}
	slog.Info("coupons written", slog.Int("total", written))
	return nil
}
