package producttable

import (
	"context"
	"sync"

	"github.com/xenking/dyson-admin/internal/domain/product"
)

// SortOption is an entry of the sort selector.
type SortOption struct {
	Value    product.Sort
	Label    string
	Selected bool
}

// CategoryOption is an entry of the category selector.
type CategoryOption struct {
	ID       string
	Name     string
	Selected bool
}

// View is everything needed to render the screen once.
type View struct {
	State      State
	Sorts      []SortOption
	Categories []CategoryOption
	// AllCategories is true when no category filter is set.
	AllCategories bool

	Rows  []Row
	Total int
	Pages int

	// Loading is set while the product query for the current state is in
	// flight. Rows then hold cached data for the same state, if any.
	Loading bool
	// Failed replaces the whole screen with an error placeholder.
	Failed bool

	Modal  Modal
	Toasts []Toast
}

// View waits up to RenderWait for in-flight queries and returns the render
// model. Pending toasts are consumed.
func (s *Screen) View(ctx context.Context) View {
	if s.opts.RenderWait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, s.opts.RenderWait)
		defer cancel()

		var wg sync.WaitGroup
		wg.Go(func() { s.products.Wait(waitCtx) })
		wg.Go(func() { s.categories.Wait(waitCtx) })
		wg.Wait()
	}

	products := s.products.Snapshot()
	categories := s.categories.Snapshot()

	s.mu.Lock()
	v := View{
		State:         s.state,
		AllCategories: s.state.Category == nil,
		Modal:         s.modal,
		Toasts:        s.toasts.drain(s.now()),
	}
	s.mu.Unlock()

	if products.Err != nil || categories.Err != nil {
		v.Failed = true
		return v
	}

	v.Loading = products.Loading()
	// Results for an older key are never shown for the current state.
	if products.HasData && products.Data != nil && products.Key == v.State.Key() {
		v.Rows = Rows(products.Data.Items)
		for i := range v.Rows {
			v.Rows[i].loc = s.opts.Location
		}
		v.Total = products.Data.Count
		if v.State.Limit > 0 {
			v.Pages = (v.Total + v.State.Limit - 1) / v.State.Limit
		}
	}

	for _, srt := range product.Sorts {
		v.Sorts = append(v.Sorts, SortOption{
			Value:    srt,
			Label:    srt.Label(),
			Selected: srt == v.State.Sort,
		})
	}
	for _, c := range categories.Data {
		v.Categories = append(v.Categories, CategoryOption{
			ID:       c.ID,
			Name:     c.Name,
			Selected: v.State.Category != nil && *v.State.Category == c.Name,
		})
	}
	return v
}
