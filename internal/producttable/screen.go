// Package producttable implements the admin product table screen: filter
// state and its reducer, row formatting, dialog state and the delete/save
// flows against a product.Catalog.
package producttable

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/dyson-admin/internal/domain/product"
	"github.com/xenking/dyson-admin/internal/query"
)

const listCategoriesOp = "getAllCategory"

var (
	// ErrRowNotFound is returned by OpenEdit for ids not on the current page.
	ErrRowNotFound = errors.New("row not on current page")
	// ErrDeleteInFlight is returned when a delete for the same id is
	// already running.
	ErrDeleteInFlight = errors.New("delete already in progress")
	// ErrNoDialog is returned by the save methods when the matching dialog
	// is not open.
	ErrNoDialog = errors.New("dialog is not open")
)

// Options configures a Screen.
type Options struct {
	// ResetPageOnFilter moves back to page 1 whenever name, category or
	// sort changes.
	ResetPageOnFilter bool
	// RenderWait bounds how long View waits for in-flight queries before
	// rendering the loading state.
	RenderWait time.Duration
	// FetchTimeout bounds each remote read.
	FetchTimeout time.Duration
	// ToastTTL drops notifications older than this on render.
	ToastTTL time.Duration
	// Location is used to render dates. Nil means UTC.
	Location *time.Location
	// Flights shares remote reads between screens. Nil keeps them private
	// to the screen.
	Flights *query.Group

	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Screen is the product table of a single admin. It is safe for concurrent
// use.
type Screen struct {
	catalog product.Catalog
	opts    Options
	lg      *zap.Logger
	now     func() time.Time

	products   *query.Query[*product.Page]
	categories *query.Query[[]product.Category]
	cancel     context.CancelFunc

	mu       sync.Mutex
	state    State
	modal    Modal
	toasts   toasts
	deleting map[string]struct{}
}

// New opens a screen in its default state and starts loading categories and
// the first page of products. The screen lives until ctx is done or Close
// is called.
func New(ctx context.Context, catalog product.Catalog, opts Options) *Screen {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)

	qopts := query.Options{
		Timeout:        opts.FetchTimeout,
		Group:          opts.Flights,
		Logger:         opts.Logger,
		TracerProvider: opts.TracerProvider,
		MeterProvider:  opts.MeterProvider,
	}
	s := &Screen{
		catalog:    catalog,
		opts:       opts,
		lg:         opts.Logger,
		now:        time.Now,
		products:   query.New[*product.Page](ctx, listProductsOp, qopts),
		categories: query.New[[]product.Category](ctx, listCategoriesOp, qopts),
		cancel:     cancel,
		state:      DefaultState(),
		toasts:     toasts{ttl: opts.ToastTTL},
		deleting:   make(map[string]struct{}),
	}

	// The category key never changes, so categories are fetched once.
	s.categories.Set(query.NewKey(listCategoriesOp), catalog.ListCategories)
	s.setProductsKey(s.state)
	return s
}

// Close cancels all in-flight reads.
func (s *Screen) Close() {
	s.products.Close()
	s.categories.Close()
	s.cancel()
}

// State returns the current filter state.
func (s *Screen) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies a filter action and, when the state changes, fetches the
// matching page.
func (s *Screen) Dispatch(a Action) State {
	s.mu.Lock()
	prev := s.state.Key()
	next := Reduce(s.state, a)
	if s.opts.ResetPageOnFilter && a.filter() && next.Key() != prev {
		next.Page = 1
	}
	changed := next.Key() != prev
	s.state = next
	s.mu.Unlock()

	if changed {
		s.lg.Debug("Filter changed", zap.Stringer("key", next.Key()))
		s.setProductsKey(next)
	}
	return next
}

// OnFilterChange merges a name, category or sort change into the state.
func (s *Screen) OnFilterChange(a Action) State { return s.Dispatch(a) }

// OnPageChange moves to page with the given page size.
func (s *Screen) OnPageChange(page, pageSize int) State {
	return s.Dispatch(SetPage{Page: page, Limit: pageSize})
}

func (s *Screen) setProductsKey(st State) {
	params := st.Params()
	s.products.Set(st.Key(), func(ctx context.Context) (*product.Page, error) {
		return s.catalog.ListProducts(ctx, params)
	})
}

// Refresh re-fetches the current page. It is the callback handed to the
// add and edit dialogs.
func (s *Screen) Refresh(ctx context.Context) error {
	_, err := s.products.Refetch(ctx)
	return err
}

// OnDeleteConfirmed deletes a product. On success a success toast is queued
// and the current page is re-fetched; on failure an error toast is queued
// and nothing else changes.
func (s *Screen) OnDeleteConfirmed(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, busy := s.deleting[id]; busy {
		s.mu.Unlock()
		return ErrDeleteInFlight
	}
	s.deleting[id] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.deleting, id)
		s.mu.Unlock()
	}()

	lg := s.lg.With(zap.String("product_id", id))
	if err := s.catalog.DeleteProduct(ctx, id); err != nil {
		lg.Warn("Delete failed", zap.Error(err))
		s.notify(LevelError, msgDeleteFail)
		return errors.Wrap(err, "delete")
	}

	lg.Info("Product deleted")
	s.notify(LevelSuccess, msgDeleteOK)
	if err := s.Refresh(ctx); err != nil {
		lg.Warn("Refetch after delete failed", zap.Error(err))
	}
	return nil
}

// OpenEdit opens the edit dialog seeded with the row of the current page
// whose key is id.
func (s *Screen) OpenEdit(id string) error {
	res := s.products.Snapshot()
	if !res.HasData || res.Data == nil {
		return ErrRowNotFound
	}
	for _, p := range res.Data.Items {
		if p.ID != id {
			continue
		}
		s.mu.Lock()
		s.modal = editing(RowFromProduct(p))
		s.mu.Unlock()
		return nil
	}
	return ErrRowNotFound
}

// OpenAdd opens the add dialog.
func (s *Screen) OpenAdd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modal = adding()
}

// CloseModal closes whichever dialog is open.
func (s *Screen) CloseModal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modal = Modal{}
}

// Modal returns the dialog state.
func (s *Screen) Modal() Modal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modal
}

// SaveEdit submits the edit dialog. On success the dialog closes and the
// page is re-fetched; on failure the dialog stays open.
func (s *Screen) SaveEdit(ctx context.Context, in product.Input) error {
	row, ok := s.Modal().Editing()
	if !ok {
		return ErrNoDialog
	}
	return s.save(ctx, ModalEditing, in, msgUpdateOK, msgUpdateFail, func(ctx context.Context) error {
		_, err := s.catalog.UpdateProduct(ctx, row.Key, in)
		return err
	})
}

// SaveAdd submits the add dialog.
func (s *Screen) SaveAdd(ctx context.Context, in product.Input) error {
	if s.Modal().Kind() != ModalAdding {
		return ErrNoDialog
	}
	return s.save(ctx, ModalAdding, in, msgCreateOK, msgCreateFail, func(ctx context.Context) error {
		_, err := s.catalog.CreateProduct(ctx, in)
		return err
	})
}

func (s *Screen) save(ctx context.Context, kind ModalKind, in product.Input, okMsg, failMsg string, write func(context.Context) error) error {
	if err := in.Validate(); err != nil {
		s.keepDraft(kind, in)
		s.notify(LevelError, failMsg+": "+err.Error())
		return err
	}
	if err := write(ctx); err != nil {
		s.lg.Warn("Save failed", zap.Error(err))
		s.keepDraft(kind, in)
		s.notify(LevelError, failMsg)
		return errors.Wrap(err, "save")
	}

	s.CloseModal()
	s.notify(LevelSuccess, okMsg)
	if err := s.Refresh(ctx); err != nil {
		s.lg.Warn("Refetch after save failed", zap.Error(err))
	}
	return nil
}

// keepDraft stores a rejected submission in the dialog it came from so the
// next render shows what the admin typed.
func (s *Screen) keepDraft(kind ModalKind, in product.Input) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modal.kind == kind {
		s.modal = s.modal.withDraft(in)
	}
}

func (s *Screen) notify(level Level, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toasts.push(level, msg, s.now())
}
