package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors shared by every catalog backend.
var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInvalidInput is returned when a create/update payload is rejected.
	ErrInvalidInput = errors.New("invalid product input")
)

// Product is a catalog record as returned by the remote catalog.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	Price       decimal.Decimal
	// Discount is a percentage in the [0, 100] range.
	Discount  decimal.Decimal
	Quantity  int
	Images    []string
	CreatedAt time.Time
}

// Category is a product category used to populate the filter selector.
type Category struct {
	ID   string
	Name string
}

// Page is a single page of a product listing together with the total number
// of products matching the filter.
type Page struct {
	Items []Product
	Count int
}

// ListParams selects a page of products.
type ListParams struct {
	Page  int
	Limit int
	Sort  Sort
	// Category filters by category name. Nil means all categories.
	Category *string
	// Name is a case-insensitive substring filter. Empty means no filter.
	Name string
}

// Offset returns the number of records to skip for the requested page.
func (p ListParams) Offset() int {
	if p.Page <= 1 || p.Limit <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// Catalog is the remote data client consumed by the admin screen.
type Catalog interface {
	ListCategories(ctx context.Context) ([]Category, error)
	ListProducts(ctx context.Context, params ListParams) (*Page, error)
	DeleteProduct(ctx context.Context, id string) error
	CreateProduct(ctx context.Context, in Input) (*Product, error)
	UpdateProduct(ctx context.Context, id string, in Input) (*Product, error)
}
