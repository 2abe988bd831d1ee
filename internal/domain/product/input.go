package product

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Input is the payload of the add and edit dialogs.
type Input struct {
	Name        string
	Description string
	Category    string
	Price       decimal.Decimal
	Discount    decimal.Decimal
	Quantity    int
	Images      []string
}

// Validate checks the payload before it is sent to the catalog. Returned
// errors wrap ErrInvalidInput.
func (in Input) Validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return errors.Wrap(ErrInvalidInput, "name is required")
	case in.Price.IsNegative():
		return errors.Wrap(ErrInvalidInput, "price must not be negative")
	case in.Discount.IsNegative() || in.Discount.GreaterThan(hundred):
		return errors.Wrap(ErrInvalidInput, "discount must be between 0 and 100")
	case in.Quantity < 0:
		return errors.Wrap(ErrInvalidInput, "quantity must not be negative")
	}
	return nil
}

// CurrentPrice is the price after discount, rounded to cents.
func (p Product) CurrentPrice() decimal.Decimal {
	return p.Price.Mul(hundred.Sub(p.Discount)).Div(hundred).Round(2)
}

// Input returns the editable fields of p.
func (p Product) Input() Input {
	return Input{
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Price:       p.Price,
		Discount:    p.Discount,
		Quantity:    p.Quantity,
		Images:      append([]string(nil), p.Images...),
	}
}
