package producttable

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/dyson-admin/internal/domain/product"
)

// maxDescription is the number of characters shown before truncation.
const maxDescription = 100

// Row is the display projection of a product.
type Row struct {
	Key         string
	Images      []string
	Name        string
	Category    string
	Description string
	Price       decimal.Decimal
	Quantity    int
	Discount    decimal.Decimal
	CreatedAt   time.Time

	loc *time.Location
}

// RowFromProduct flattens a catalog record into a table row.
func RowFromProduct(p product.Product) Row {
	return Row{
		Key:         p.ID,
		Images:      p.Images,
		Name:        p.Name,
		Category:    p.Category,
		Description: p.Description,
		Price:       p.Price,
		Quantity:    p.Quantity,
		Discount:    p.Discount,
		CreatedAt:   p.CreatedAt,
	}
}

// Rows maps a page of products to rows.
func Rows(items []product.Product) []Row {
	rows := make([]Row, len(items))
	for i, p := range items {
		rows[i] = RowFromProduct(p)
	}
	return rows
}

// Input returns the fields used to seed the edit dialog.
func (r Row) Input() product.Input {
	return product.Input{
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		Price:       r.Price,
		Discount:    r.Discount,
		Quantity:    r.Quantity,
		Images:      append([]string(nil), r.Images...),
	}
}

// ShortDescription is the truncated description shown in the table.
func (r Row) ShortDescription() string { return TruncateDescription(r.Description) }

// PriceText renders the price column.
func (r Row) PriceText() string { return FormatPrice(r.Price) }

// DiscountText renders the discount column.
func (r Row) DiscountText() string { return FormatDiscount(r.Discount) }

// CreatedAtText renders the creation date column.
func (r Row) CreatedAtText() string { return FormatDate(r.CreatedAt, r.loc) }

// QuantityText renders the quantity column.
func (r Row) QuantityText() string { return strconv.Itoa(r.Quantity) }

// TruncateDescription keeps descriptions up to 100 characters intact and
// cuts longer ones to 100 characters followed by " ...".
func TruncateDescription(s string) string {
	runes := []rune(s)
	if len(runes) <= maxDescription {
		return s
	}
	return string(runes[:maxDescription]) + " ..."
}

// FormatPrice renders N as "N$".
func FormatPrice(d decimal.Decimal) string { return d.String() + "$" }

// FormatDiscount renders N as "N%".
func FormatDiscount(d decimal.Decimal) string { return d.String() + "%" }

// FormatDate renders t as DD/MM/YYYY in loc (UTC when nil). The zero time
// renders as an empty string.
func FormatDate(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02/01/2006")
}
