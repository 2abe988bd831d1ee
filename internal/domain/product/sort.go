package product

import "github.com/go-faster/errors"

// Sort is the listing order understood by the catalog.
type Sort string

const (
	SortNewest    Sort = "newest"
	SortOldest    Sort = "oldest"
	SortPriceDesc Sort = "price_desc"
	SortPriceAsc  Sort = "price_asc"
)

// Sorts lists every supported order in selector order.
var Sorts = []Sort{SortNewest, SortOldest, SortPriceDesc, SortPriceAsc}

var sortWire = map[Sort]string{
	SortNewest:    "-createdAt",
	SortOldest:    "createdAt",
	SortPriceDesc: "-currentPrice",
	SortPriceAsc:  "currentPrice",
}

var sortLabels = map[Sort]string{
	SortNewest:    "Newest",
	SortOldest:    "Oldest",
	SortPriceDesc: "Price: High to Low",
	SortPriceAsc:  "Price: Low to High",
}

// Wire returns the value transmitted to the catalog API.
func (s Sort) Wire() string {
	if v, ok := sortWire[s]; ok {
		return v
	}
	return sortWire[SortNewest]
}

// Label returns the human readable selector label.
func (s Sort) Label() string {
	return sortLabels[s]
}

// Valid reports whether s is a known order.
func (s Sort) Valid() bool {
	_, ok := sortWire[s]
	return ok
}

// ParseSort accepts either the enum name ("price_asc") or the wire value
// ("currentPrice").
func ParseSort(v string) (Sort, error) {
	if s := Sort(v); s.Valid() {
		return s, nil
	}
	for s, w := range sortWire {
		if w == v {
			return s, nil
		}
	}
	return "", errors.Errorf("unknown sort %q", v)
}
