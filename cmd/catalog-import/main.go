package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/dyson-admin/internal/domain/product"
	"github.com/xenking/dyson-admin/internal/storage/postgres"
)

const (
	// minFilterCapacity sizes the filter for small catalogs.
	minFilterCapacity = 10_000
	progressEvery     = 10_000
	recordBuffer      = 1024
)

func main() {
	var (
		pattern     string
		databaseURL string
		fpr         float64
		headroom    uint
	)

	flag.StringVar(&pattern, "files", "data/*.jsonl.gz", "glob of gzip-compressed JSON lines product feeds")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Float64Var(&fpr, "bloom-fpr", 0.001, "false positive rate of the known-name filter")
	flag.UintVar(&headroom, "expected-new", 100_000, "expected number of new products, used to size the filter")
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

	if err := run(ctx, pattern, databaseURL, fpr, headroom); err != nil {
		slog.Error("catalog import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog import completed successfully")
}

func run(ctx context.Context, pattern, databaseURL string, fpr float64, headroom uint) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrapf(err, "glob %q", pattern)
	}
	if len(files) == 0 {
		return errors.Errorf("no feed files match %q", pattern)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	catalog := postgres.NewCatalogRepository(pool)

	existing, err := catalog.ListProducts(ctx, product.ListParams{Page: 1, Limit: 1})
	if err != nil {
		return errors.Wrap(err, "count products")
	}

	// Pass 1: load the names already in the catalog into the filter.
	slog.Info("pass 1: loading known names", slog.Int("products", existing.Count))

	filter := bloom.NewWithEstimates(max(uint(existing.Count)+headroom, minFilterCapacity), fpr)
	if err := catalog.EachProductName(ctx, func(name string) {
		filter.AddString(nameKey(name))
	}); err != nil {
		return errors.Wrap(err, "load known names")
	}

	// Pass 2: stream the feeds concurrently into a single writer.
	slog.Info("pass 2: importing feeds", slog.Int("files", len(files)))

	imp := newImporter(catalog, filter)
	records := make(chan product.Input, recordBuffer)

	g, gctx := errgroup.WithContext(ctx)
	readers, rctx := errgroup.WithContext(gctx)
	for _, f := range files {
		readers.Go(func() error {
			return readFeed(rctx, f, func(in product.Input) error {
				select {
				case records <- in:
					return nil
				case <-rctx.Done():
					return rctx.Err()
				}
			})
		})
	}
	g.Go(func() error {
		defer close(records)
		return readers.Wait()
	})
	g.Go(func() error {
		for in := range records {
			if err := imp.add(gctx, in); err != nil {
				return err
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "import feeds")
	}

	s := imp.stats
	slog.Info("pass 2 complete",
		slog.Uint64("records", s.records),
		slog.Uint64("inserted", s.inserted),
		slog.Uint64("duplicates", s.duplicates),
		slog.Uint64("invalid", s.invalid),
		slog.Uint64("exact_checks", s.checks),
		slog.Uint64("false_positives", s.falsePositives),
	)
	return nil
}
