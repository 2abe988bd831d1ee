package producttable

import (
	"net/url"
	"strconv"

	"github.com/xenking/dyson-admin/internal/domain/product"
	"github.com/xenking/dyson-admin/internal/query"
)

// DefaultLimit is the page size used when none (or a non-positive one) is
// requested.
const DefaultLimit = 10

// listProductsOp names the product listing query.
const listProductsOp = "getAllProduct"

// State is the filter state driving the product query. It is a value type:
// every transition produces a new State.
type State struct {
	Page  int
	Limit int
	Sort  product.Sort
	// Category is nil when "All" is selected.
	Category *string
	Name     string
}

// DefaultState is the state of a freshly opened screen.
func DefaultState() State {
	return State{
		Page:  1,
		Limit: DefaultLimit,
		Sort:  product.SortNewest,
	}
}

// Params converts the state to catalog list parameters.
func (s State) Params() product.ListParams {
	return product.ListParams{
		Page:     s.Page,
		Limit:    s.Limit,
		Sort:     s.Sort,
		Category: s.Category,
		Name:     s.Name,
	}
}

// Key derives the query key. Two states have equal keys iff they request the
// same page.
func (s State) Key() query.Key {
	params := []string{
		"page=" + strconv.Itoa(s.Page),
		"limit=" + strconv.Itoa(s.Limit),
		"sort=" + url.QueryEscape(s.Sort.Wire()),
	}
	if s.Category != nil {
		params = append(params, "category="+url.QueryEscape(*s.Category))
	}
	params = append(params, "name="+url.QueryEscape(s.Name))
	return query.NewKey(listProductsOp, params...)
}

// CategoryName returns the selected category or "" for all.
func (s State) CategoryName() string {
	if s.Category == nil {
		return ""
	}
	return *s.Category
}

// Action is a filter state transition.
type Action interface {
	apply(State) State
	// filter reports whether the action narrows the result set (as opposed
	// to paging through it).
	filter() bool
}

// SetName replaces the name search.
type SetName struct{ Name string }

// SetCategory selects a category; nil selects all.
type SetCategory struct{ Category *string }

// SetSort changes the order. Unknown orders leave the state unchanged.
type SetSort struct{ Sort product.Sort }

// SetPage moves to a page. A non-positive Limit falls back to DefaultLimit.
type SetPage struct {
	Page  int
	Limit int
}

func (a SetName) apply(s State) State {
	s.Name = a.Name
	return s
}

func (a SetCategory) apply(s State) State {
	if a.Category == nil {
		s.Category = nil
		return s
	}
	c := *a.Category
	s.Category = &c
	return s
}

func (a SetSort) apply(s State) State {
	if !a.Sort.Valid() {
		return s
	}
	s.Sort = a.Sort
	return s
}

func (a SetPage) apply(s State) State {
	s.Page = max(a.Page, 1)
	s.Limit = a.Limit
	if s.Limit <= 0 {
		s.Limit = DefaultLimit
	}
	return s
}

func (SetName) filter() bool     { return true }
func (SetCategory) filter() bool { return true }
func (SetSort) filter() bool     { return true }
func (SetPage) filter() bool     { return false }

// Reduce returns the state after applying a. The page is kept as is on
// filter changes.
func Reduce(s State, a Action) State {
	return a.apply(s)
}
