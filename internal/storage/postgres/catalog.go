package postgres

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/dyson-admin/internal/domain/product"
)

const (
	productColumns = `id, name, description, category, price, discount, quantity, images, created_at`

	// currentPrice mirrors product.Product.CurrentPrice.
	currentPrice = `round(price * (100 - discount) / 100, 2)`

	listCategoriesSQL = `SELECT id, name FROM categories ORDER BY name`

	countProductsSQL = `SELECT count(*) FROM products
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' ESCAPE '\')
		  AND ($2::text IS NULL OR category = $2)`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' ESCAPE '\')
		  AND ($2::text IS NULL OR category = $2)
		ORDER BY %s
		LIMIT $3 OFFSET $4`

	ensureCategorySQL = `INSERT INTO categories (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`

	createProductSQL = `INSERT INTO products (name, description, category, price, discount, quantity, images)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + productColumns

	updateProductSQL = `UPDATE products
		SET name = $2, description = $3, category = $4, price = $5, discount = $6, quantity = $7, images = $8
		WHERE id = $1
		RETURNING ` + productColumns

	deleteProductSQL = `DELETE FROM products WHERE id = $1`

	productNamesSQL  = `SELECT name FROM products`
	productExistsSQL = `SELECT EXISTS (SELECT 1 FROM products WHERE lower(name) = lower($1))`
)

// orderBy maps each listing order to its ORDER BY clause. Ties are broken by
// id so pages are stable.
var orderBy = map[product.Sort]string{
	product.SortNewest:    `created_at DESC, id DESC`,
	product.SortOldest:    `created_at ASC, id ASC`,
	product.SortPriceDesc: currentPrice + ` DESC, id DESC`,
	product.SortPriceAsc:  currentPrice + ` ASC, id ASC`,
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

var _ product.Catalog = (*CatalogRepository)(nil)

// CatalogRepository implements product.Catalog backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// ListCategories returns every category ordered by name.
func (r *CatalogRepository) ListCategories(ctx context.Context) ([]product.Category, error) {
	rows, err := r.pool.Query(ctx, listCategoriesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Category, error) {
		var c product.Category
		err := row.Scan(&c.ID, &c.Name)
		return c, err
	})
}

// ListProducts returns one page of products and the number of products
// matching the filter. The count and the page are read in a single batch.
func (r *CatalogRepository) ListProducts(ctx context.Context, params product.ListParams) (*product.Page, error) {
	order, ok := orderBy[params.Sort]
	if !ok {
		order = orderBy[product.SortNewest]
	}
	name := likeEscaper.Replace(strings.TrimSpace(params.Name))

	batch := &pgx.Batch{}
	batch.Queue(countProductsSQL, name, params.Category)
	batch.Queue(strings.Replace(listProductsSQL, "%s", order, 1), name, params.Category, params.Limit, params.Offset())

	br := r.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	var page product.Page
	if err := br.QueryRow().Scan(&page.Count); err != nil {
		return nil, errors.Wrap(err, "count products")
	}

	rows, err := br.Query()
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	items, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, errors.Wrap(err, "scan products")
	}
	page.Items = items
	return &page, nil
}

// DeleteProduct removes a product. Unknown ids yield product.ErrNotFound.
func (r *CatalogRepository) DeleteProduct(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteProductSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete product %q", id)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// CreateProduct inserts a product, registering its category if it is new.
func (r *CatalogRepository) CreateProduct(ctx context.Context, in product.Input) (*product.Product, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var p product.Product
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ensureCategorySQL, in.Category); err != nil {
			return errors.Wrap(err, "ensure category")
		}
		rows, err := tx.Query(ctx, createProductSQL,
			in.Name, in.Description, in.Category, in.Price, in.Discount, in.Quantity, images(in.Images),
		)
		if err != nil {
			return errors.Wrap(err, "insert product")
		}
		p, err = pgx.CollectExactlyOneRow(rows, scanProduct)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(mapError(err), "create product")
	}
	return &p, nil
}

// UpdateProduct replaces the editable fields of a product.
func (r *CatalogRepository) UpdateProduct(ctx context.Context, id string, in product.Input) (*product.Product, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var p product.Product
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ensureCategorySQL, in.Category); err != nil {
			return errors.Wrap(err, "ensure category")
		}
		rows, err := tx.Query(ctx, updateProductSQL,
			id, in.Name, in.Description, in.Category, in.Price, in.Discount, in.Quantity, images(in.Images),
		)
		if err != nil {
			return errors.Wrap(err, "update product")
		}
		p, err = pgx.CollectExactlyOneRow(rows, scanProduct)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(mapError(err), "update product %q", id)
	}
	return &p, nil
}

// EachProductName calls fn with the name of every product.
func (r *CatalogRepository) EachProductName(ctx context.Context, fn func(name string)) error {
	rows, err := r.pool.Query(ctx, productNamesSQL)
	if err != nil {
		return errors.Wrap(err, "query product names")
	}
	var name string
	if _, err := pgx.ForEachRow(rows, []any{&name}, func() error {
		fn(name)
		return nil
	}); err != nil {
		return errors.Wrap(err, "scan product names")
	}
	return nil
}

// ProductExists reports whether a product with the given name exists,
// ignoring case.
func (r *CatalogRepository) ProductExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, productExistsSQL, name).Scan(&exists); err != nil {
		return false, errors.Wrapf(err, "check product %q", name)
	}
	return exists, nil
}

// mapError turns check constraint violations into product.ErrInvalidInput.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23514" {
		return errors.Wrap(product.ErrInvalidInput, pgErr.ConstraintName)
	}
	return err
}

// images keeps NOT NULL columns happy for products without images.
func images(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Category,
		&p.Price, &p.Discount, &p.Quantity, &p.Images, &p.CreatedAt,
	)
	return p, err
}
