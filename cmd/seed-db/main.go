package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/dyson-admin/db"
	"github.com/xenking/dyson-admin/internal/domain/product"
	"github.com/xenking/dyson-admin/internal/storage/postgres"
)

type productJSON struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Discount    decimal.Decimal `json:"discount"`
	Quantity    int             `json:"quantity"`
	Images      []string        `json:"images"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		reset        bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "", "path to products JSON file (defaults to the embedded demo catalog)")
	flag.BoolVar(&reset, "reset", false, "delete all products and categories before seeding")
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

	if err := run(ctx, databaseURL, productsFile, reset); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string, reset bool) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if reset {
		slog.Warn("truncating catalog")
		if _, err := pool.Exec(ctx, `TRUNCATE products, categories`); err != nil {
			return errors.Wrap(err, "truncate catalog")
		}
	}

	catalog := postgres.NewCatalogRepository(pool)

	existing, err := catalog.ListProducts(ctx, product.ListParams{Page: 1, Limit: 1})
	if err != nil {
		return errors.Wrap(err, "count products")
	}
	if existing.Count > 0 {
		slog.Info("catalog already seeded, skipping", slog.Int("count", existing.Count))
		return nil
	}

	products, err := loadProducts(productsFile)
	if err != nil {
		return err
	}
	return seedProducts(ctx, catalog, products)
}

func loadProducts(path string) ([]productJSON, error) {
	data := db.SeedProducts
	if path != "" {
		slog.Info("reading products file", slog.String("path", path))

		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, errors.Wrap(err, "read products file")
		}
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}
	return products, nil
}

func seedProducts(ctx context.Context, catalog product.Catalog, products []productJSON) error {
	slog.Info("inserting products", slog.Int("count", len(products)))

	for _, p := range products {
		created, err := catalog.CreateProduct(ctx, product.Input{
			Name:        p.Name,
			Description: p.Description,
			Category:    p.Category,
			Price:       p.Price,
			Discount:    p.Discount,
			Quantity:    p.Quantity,
			Images:      p.Images,
		})
		if err != nil {
			return errors.Wrapf(err, "insert product %q", p.Name)
		}

		slog.Info("inserted product", slog.String("id", created.ID), slog.String("name", created.Name))
	}

	return nil
}
