package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"

	"github.com/xenking/dyson-admin/internal/domain/product"
	"github.com/xenking/dyson-admin/internal/dysonapi"
)

// maxLine bounds a single feed record.
const maxLine = 1 << 20

// store is the part of the catalog repository the importer writes to.
type store interface {
	CreateProduct(ctx context.Context, in product.Input) (*product.Product, error)
	ProductExists(ctx context.Context, name string) (bool, error)
}

type importStats struct {
	records        uint64
	inserted       uint64
	duplicates     uint64
	invalid        uint64
	checks         uint64
	falsePositives uint64
}

// importer inserts feed records whose name is not in the catalog yet.
// The bloom filter holds every known name: a miss means the product is new
// and needs no database lookup, a hit is confirmed with an exact query.
type importer struct {
	store  store
	filter *bloom.BloomFilter
	stats  importStats
}

func newImporter(s store, filter *bloom.BloomFilter) *importer {
	return &importer{store: s, filter: filter}
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// add is called from a single goroutine.
func (im *importer) add(ctx context.Context, in product.Input) error {
	im.stats.records++
	if im.stats.records%progressEvery == 0 {
		slog.Info("pass 2 progress", slog.Uint64("records", im.stats.records), slog.Uint64("inserted", im.stats.inserted))
	}

	if err := in.Validate(); err != nil {
		im.stats.invalid++
		slog.Warn("skipping invalid record", slog.String("name", in.Name), slog.String("error", err.Error()))
		return nil
	}

	key := nameKey(in.Name)
	if im.filter.TestString(key) {
		im.stats.checks++
		exists, err := im.store.ProductExists(ctx, in.Name)
		if err != nil {
			return err
		}
		if exists {
			im.stats.duplicates++
			return nil
		}
		im.stats.falsePositives++
	}

	if _, err := im.store.CreateProduct(ctx, in); err != nil {
		return errors.Wrapf(err, "insert %q", in.Name)
	}
	im.filter.AddString(key)
	im.stats.inserted++
	return nil
}

// readFeed streams a gzip-compressed JSON lines file and calls fn for each
// record. Blank lines are ignored.
func readFeed(ctx context.Context, path string, fn func(product.Input) error) error {
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

	return scanFeed(ctx, path, gz, fn)
}

func scanFeed(ctx context.Context, name string, r io.Reader, fn func(product.Input) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxLine)

	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		data := scanner.Bytes()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		p, err := dysonapi.DecodeProduct(data)
		if err != nil {
			return errors.Wrapf(err, "%s:%d", name, line)
		}
		if err := fn(p.Input()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", name)
	}
	return nil
}
