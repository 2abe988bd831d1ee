package producttable

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/dyson-admin/internal/domain/product"
	"github.com/xenking/dyson-admin/internal/query"
)

// --- Mock implementations ---

type fakeCatalog struct {
	mu sync.Mutex

	categories []product.Category
	page       product.Page
	listErr    error
	catErr     error
	deleteErr  error
	saveErr    error

	listCalls   []product.ListParams
	deleted     []string
	created     []product.Input
	updated     map[string]product.Input
	deleteBlock chan struct{}
	listBlock   chan struct{}
}

func newFakeCatalog(items ...product.Product) *fakeCatalog {
	return &fakeCatalog{
		categories: []product.Category{{ID: "c1", Name: "Vacuums"}, {ID: "c2", Name: "Fans"}},
		page:       product.Page{Items: items, Count: len(items)},
		updated:    make(map[string]product.Input),
	}
}

func (f *fakeCatalog) ListCategories(context.Context) ([]product.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.categories, f.catErr
}

func (f *fakeCatalog) ListProducts(_ context.Context, params product.ListParams) (*product.Page, error) {
	if f.listBlock != nil {
		<-f.listBlock
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, params)
	if f.listErr != nil {
		return nil, f.listErr
	}
	page := f.page
	return &page, nil
}

func (f *fakeCatalog) DeleteProduct(_ context.Context, id string) error {
	if f.deleteBlock != nil {
		<-f.deleteBlock
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeCatalog) CreateProduct(_ context.Context, in product.Input) (*product.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.created = append(f.created, in)
	return &product.Product{ID: "new", Name: in.Name}, nil
}

func (f *fakeCatalog) UpdateProduct(_ context.Context, id string, in product.Input) (*product.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.updated[id] = in
	return &product.Product{ID: id, Name: in.Name}, nil
}

func (f *fakeCatalog) calls() []product.ListParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]product.ListParams(nil), f.listCalls...)
}

// --- Helpers ---

func testProduct(id, name string) product.Product {
	return product.Product{
		ID:          id,
		Name:        name,
		Description: "desc " + name,
		Category:    "Vacuums",
		Price:       decimal.NewFromInt(100),
		Discount:    decimal.NewFromInt(5),
		Quantity:    2,
		Images:      []string{id + ".png"},
		CreatedAt:   time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestScreen(t *testing.T, cat *fakeCatalog, opts Options) *Screen {
	t.Helper()
	if opts.RenderWait == 0 {
		opts.RenderWait = 5 * time.Second
	}
	s := New(context.Background(), cat, opts)
	t.Cleanup(s.Close)
	// Settle the initial load.
	s.View(context.Background())
	return s
}

func validInput(name string) product.Input {
	return product.Input{
		Name:     name,
		Category: "Fans",
		Price:    decimal.NewFromInt(10),
		Discount: decimal.Zero,
		Quantity: 1,
	}
}

// --- Tests ---

func TestScreen_InitialLoad(t *testing.T) {
	cat := newFakeCatalog(testProduct("p1", "V15"), testProduct("p2", "Airwrap"))
	s := newTestScreen(t, cat, Options{})

	calls := cat.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, product.ListParams{Page: 1, Limit: 10, Sort: product.SortNewest}, calls[0])

	v := s.View(context.Background())
	assert.False(t, v.Failed)
	assert.False(t, v.Loading)
	require.Len(t, v.Rows, 2)
	assert.Equal(t, "p1", v.Rows[0].Key)
	assert.Equal(t, "100$", v.Rows[0].PriceText())
	assert.Equal(t, "5%", v.Rows[0].DiscountText())
	assert.Equal(t, "01/05/2023", v.Rows[0].CreatedAtText())
	assert.Equal(t, 2, v.Total)
	assert.Equal(t, 1, v.Pages)
	assert.True(t, v.AllCategories)
	require.Len(t, v.Categories, 2)
	require.Len(t, v.Sorts, 4)
	assert.True(t, v.Sorts[0].Selected)
}

func TestScreen_FilterChangeIssuesOneRequest(t *testing.T) {
	cat := newFakeCatalog(testProduct("p1", "V15"))
	s := newTestScreen(t, cat, Options{})

	s.OnFilterChange(SetName{Name: "v1"})
	s.View(context.Background())
	s.OnFilterChange(SetCategory{Category: strPtr("Vacuums")})
	s.View(context.Background())
	s.OnFilterChange(SetSort{Sort: product.SortPriceAsc})
	v := s.View(context.Background())

	calls := cat.calls()
	require.Len(t, calls, 4)
	last := calls[3]
	assert.Equal(t, "v1", last.Name)
	require.NotNil(t, last.Category)
	assert.Equal(t, "Vacuums", *last.Category)
	assert.Equal(t, "currentPrice", last.Sort.Wire())
	assert.Equal(t, 1, last.Page)

	assert.False(t, v.AllCategories)
	assert.True(t, v.Categories[0].Selected)

	// Re-applying the same value does not fetch again.
	s.OnFilterChange(SetName{Name: "v1"})
	s.View(context.Background())
	assert.Len(t, cat.calls(), 4)
}

func TestScreen_FilterKeepsPageByDefault(t *testing.T) {
	cat := newFakeCatalog(testProduct("p1", "V15"))
	s := newTestScreen(t, cat, Options{})

	s.OnPageChange(3, 10)
	s.OnFilterChange(SetName{Name: "fan"})
	assert.Equal(t, 3, s.State().Page)
}

func TestScreen_ResetPageOnFilter(t *testing.T) {
	cat := newFakeCatalog(testProduct("p1", "V15"))
	s := newTestScreen(t, cat, Options{ResetPageOnFilter: true})

	s.OnPageChange(3, 10)
	s.OnFilterChange(SetName{Name: "fan"})
	assert.Equal(t, 1, s.State().Page)

	s.OnPageChange(2, 10)
	s.OnFilterChange(SetName{Name: "fan"})
	assert.Equal(t, 2, s.State().Page, "unchanged filter must not reset the page")
}

func TestScreen_PageChange(t *testing.T) {
	cat := newFakeCatalog(testProduct("p1", "V15"))
	s := newTestScreen(t, cat, Options{})

	s.OnPageChange(2, 0)
	s.View(context.Background())

	calls := cat.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 2, calls[1].Page)
	assert.Equal(t, 10, calls[1].Limit)

	s.OnPageChange(2, 25)
	s.View(context.Background())
	calls = cat.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, 25, calls[2].Limit)
}

func TestScreen_ListErrorFailsScreen(t *testing.T) {
	cat := newFakeCatalog()
	cat.listErr = errors.New("api down")
	s := newTestScreen(t, cat, Options{})

	v := s.View(context.Background())
	assert.True(t, v.Failed)
	assert.Empty(t, v.Rows)

	// No automatic retry on render.
	s.View(context.Background())
	assert.Len(t, cat.calls(), 1)
}

func TestScreen_CategoryErrorFailsScreen(t *testing.T) {
	cat := newFakeCatalog(testProduct("p1", "V15"))
	cat.catErr = errors.New("api down")
	s := newTestScreen(t, cat, Options{})

	assert.True(t, s.View(context.Background()).Failed)
}

func TestScreen_DeleteSuccess(t *testing.T) {
	cat := newFakeCatalog(testProduct("p1", "V15"))
	s := newTestScreen(t, cat, Options{})

	require.NoError(t, s.OnDeleteConfirmed(context.Background(), "p1"))

	assert.Equal(t, []string{"p1"}, cat.deleted)
	assert.Len(t, cat.calls(), 2, "list must be re-fetched after delete")

	v := s.View(context.Background())
	require.Len(t, v.Toasts, 1)
	assert.Equal(t, LevelSuccess, v.Toasts[0].Level)
	assert.Equal(t, "Delete product successfully", v.Toasts[0].Message)

	assert.Empty(t, s.View(context.Background()).Toasts, "toasts are shown once")
}

func TestScreen_DeleteFailure(t *testing.T) {
	cat := newFakeCatalog(testProduct("p1", "V15"))
	cat.deleteErr = errors.New("forbidden")
	s := newTestScreen(t, cat, Options{})
	before := s.State()

	err := s.OnDeleteConfirmed(context.Background(), "p1")
	require.Error(t, err)

	assert.Len(t, cat.calls(), 1, "no re-fetch after failed delete")
	assert.Equal(t, before, s.State())

	v := s.View(context.Background())
	assert.False(t, v.Failed)
	require.Len(t, v.Toasts, 1)
	assert.Equal(t, LevelError, v.Toasts[0].Level)
	assert.Equal(t, "Delete product failed", v.Toasts[0].Message)
	assert.Len(t, v.Rows, 1)
}

func TestScreen_DuplicateDeleteRejected(t *testing.T) {
	cat := newFakeCatalog(testProduct("p1", "V15"))
	cat.deleteBlock = make(chan struct{})
	s := newTestScreen(t, cat, Options{})

	first := make(chan error, 1)
	go func() { first <- s.OnDeleteConfirmed(context.Background(), "p1") }()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.deleting["p1"]
		return ok
	}, 5*time.Second, 5*time.Millisecond)

	err := s.OnDeleteConfirmed(context.Background(), "p1")
	require.ErrorIs(t, err, ErrDeleteInFlight)

	close(cat.deleteBlock)
	require.NoError(t, <-first)
	assert.Equal(t, []string{"p1"}, cat.deleted)
}

func TestScreen_ModalTransitions(t *testing.T) {
	cat := newFakeCatalog(testProduct("p1", "V15"))
	s := newTestScreen(t, cat, Options{})

	assert.Equal(t, ModalClosed, s.Modal().Kind())

	require.NoError(t, s.OpenEdit("p1"))
	row, ok := s.Modal().Editing()
	require.True(t, ok)
	assert.Equal(t, "V15", row.Name)
	assert.Equal(t, []string{"p1.png"}, row.Images)

	s.OpenAdd()
	assert.Equal(t, ModalAdding, s.Modal().Kind())
	_, ok = s.Modal().Editing()
	assert.False(t, ok, "opening add replaces edit")

	s.CloseModal()
	assert.Equal(t, ModalClosed, s.Modal().Kind())

	require.ErrorIs(t, s.OpenEdit("missing"), ErrRowNotFound)
	assert.Equal(t, ModalClosed, s.Modal().Kind())
}

func TestScreen_SaveEdit(t *testing.T) {
	cat := newFakeCatalog(testProduct("p1", "V15"))
	s := newTestScreen(t, cat, Options{})

	require.ErrorIs(t, s.SaveEdit(context.Background(), validInput("x")), ErrNoDialog)

	require.NoError(t, s.OpenEdit("p1"))
	require.NoError(t, s.SaveEdit(context.Background(), validInput("V15 Detect")))

	assert.Equal(t, "V15 Detect", cat.updated["p1"].Name)
	assert.Equal(t, ModalClosed, s.Modal().Kind())
	assert.Len(t, cat.calls(), 2)

	v := s.View(context.Background())
	require.Len(t, v.Toasts, 1)
	assert.Equal(t, LevelSuccess, v.Toasts[0].Level)
}

func TestScreen_SaveAddFailureKeepsDialog(t *testing.T) {
	cat := newFakeCatalog()
	cat.saveErr = errors.New("conflict")
	s := newTestScreen(t, cat, Options{})

	s.OpenAdd()
	require.Error(t, s.SaveAdd(context.Background(), validInput("Pure Cool")))
	assert.Equal(t, ModalAdding, s.Modal().Kind())
	assert.Len(t, cat.calls(), 1)

	assert.Equal(t, "Pure Cool", s.Modal().Form().Name)

	v := s.View(context.Background())
	require.Len(t, v.Toasts, 1)
	assert.Equal(t, LevelError, v.Toasts[0].Level)
}

func TestScreen_SaveEditFailureKeepsTypedValues(t *testing.T) {
	cat := newFakeCatalog(testProduct("p1", "V15"))
	cat.saveErr = errors.New("upstream down")
	s := newTestScreen(t, cat, Options{})

	require.NoError(t, s.OpenEdit("p1"))
	assert.Equal(t, "V15", s.Modal().Form().Name)

	in := validInput("V15 Detect Absolute")
	in.Quantity = 7
	require.Error(t, s.SaveEdit(context.Background(), in))

	m := s.Modal()
	require.Equal(t, ModalEditing, m.Kind())
	assert.Equal(t, "p1", m.Row().Key)
	assert.Equal(t, in, m.Form())

	// Reopening the dialog starts from the row again.
	s.CloseModal()
	require.NoError(t, s.OpenEdit("p1"))
	assert.Equal(t, "V15", s.Modal().Form().Name)
}

func TestScreen_SharedFlights(t *testing.T) {
	cat := newFakeCatalog(testProduct("p1", "V15"))
	cat.listBlock = make(chan struct{})
	flights := query.NewGroup()

	first := New(context.Background(), cat, Options{Flights: flights, RenderWait: 5 * time.Second})
	t.Cleanup(first.Close)
	second := New(context.Background(), cat, Options{Flights: flights, RenderWait: 5 * time.Second})
	t.Cleanup(second.Close)

	key := DefaultState().Key().String()
	require.Eventually(t, func() bool { return flights.Waiting(key) == 2 }, 5*time.Second, time.Millisecond)
	close(cat.listBlock)

	assert.Len(t, first.View(context.Background()).Rows, 1)
	assert.Len(t, second.View(context.Background()).Rows, 1)
	assert.Len(t, cat.calls(), 1)
}

func TestScreen_SaveAddValidates(t *testing.T) {
	cat := newFakeCatalog()
	s := newTestScreen(t, cat, Options{})

	s.OpenAdd()
	err := s.SaveAdd(context.Background(), product.Input{})
	require.ErrorIs(t, err, product.ErrInvalidInput)
	assert.Empty(t, cat.created)
}

func TestScreen_SaveAdd(t *testing.T) {
	cat := newFakeCatalog()
	s := newTestScreen(t, cat, Options{})

	s.OpenAdd()
	require.NoError(t, s.SaveAdd(context.Background(), validInput("Pure Cool")))
	require.Len(t, cat.created, 1)
	assert.Equal(t, ModalClosed, s.Modal().Kind())
	assert.Len(t, cat.calls(), 2)
}

func TestToastsCapAndExpire(t *testing.T) {
	now := time.Now()
	q := toasts{ttl: time.Minute}
	for i := range maxToasts + 2 {
		q.push(LevelSuccess, string(rune('a'+i)), now)
	}
	q.push(LevelError, "old", now.Add(-2*time.Minute))

	got := q.drain(now)
	require.Len(t, got, maxToasts-1)
	assert.Equal(t, "d", got[0].Message)
	assert.Empty(t, q.drain(now))
}
