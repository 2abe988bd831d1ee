package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/dyson-admin/internal/domain/product"
	"github.com/xenking/dyson-admin/internal/producttable"
)

type emptyCatalog struct{}

func (emptyCatalog) ListCategories(context.Context) ([]product.Category, error) { return nil, nil }

func (emptyCatalog) ListProducts(context.Context, product.ListParams) (*product.Page, error) {
	return &product.Page{}, nil
}

func (emptyCatalog) DeleteProduct(context.Context, string) error { return nil }

func (emptyCatalog) CreateProduct(context.Context, product.Input) (*product.Product, error) {
	return &product.Product{}, nil
}

func (emptyCatalog) UpdateProduct(context.Context, string, product.Input) (*product.Product, error) {
	return &product.Product{}, nil
}

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *int) {
	t.Helper()
	return newTestStoreWithConfig(t, Config{IdleTTL: ttl})
}

func newTestStoreWithConfig(t *testing.T, cfg Config) (*Store, *int) {
	t.Helper()
	opened := 0
	s := NewStore(context.Background(), zap.NewNop(), cfg, func(ctx context.Context) *producttable.Screen {
		opened++
		return producttable.New(ctx, emptyCatalog{}, producttable.Options{})
	})
	t.Cleanup(s.Close)
	return s, &opened
}

func TestStore_NewSessionSetsCookie(t *testing.T) {
	s, opened := newTestStore(t, time.Minute)

	w := httptest.NewRecorder()
	screen, id := s.Screen(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotNil(t, screen)
	assert.Equal(t, 1, *opened)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, id, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestStore_ReusesSession(t *testing.T) {
	s, opened := newTestStore(t, time.Minute)

	first, id := s.Screen(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: id})
	w := httptest.NewRecorder()
	second, id2 := s.Screen(w, req)

	assert.Same(t, first, second)
	assert.Equal(t, id, id2)
	assert.Equal(t, 1, *opened)
	assert.Empty(t, w.Result().Cookies())
}

func TestStore_InvalidCookieStartsNewSession(t *testing.T) {
	s, opened := newTestStore(t, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "not-a-uuid"})
	_, id := s.Screen(httptest.NewRecorder(), req)

	assert.NotEqual(t, "not-a-uuid", id)
	assert.Equal(t, 1, *opened)
}

func TestStore_Sweep(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	s.Screen(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	s.Screen(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, 2, s.Len())

	assert.Equal(t, 0, s.Sweep(time.Now()))
	assert.Equal(t, 2, s.Sweep(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, s.Len())
}

func TestStore_MaxSessions(t *testing.T) {
	s, opened := newTestStoreWithConfig(t, Config{IdleTTL: time.Hour, MaxSessions: 3})

	var ids []string
	for range 1000 {
		_, id := s.Screen(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		ids = append(ids, id)
	}
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 1000, *opened)

	// The most recent session survives.
	last := ids[len(ids)-1]
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: last})
	_, id := s.Screen(httptest.NewRecorder(), req)
	assert.Equal(t, last, id)
	assert.Equal(t, 1000, *opened)
}

func TestStore_EvictsLeastRecentlyUsed(t *testing.T) {
	s, opened := newTestStoreWithConfig(t, Config{IdleTTL: time.Hour, MaxSessions: 2})

	open := func(id string) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if id != "" {
			req.AddCookie(&http.Cookie{Name: CookieName, Value: id})
		}
		s.Screen(httptest.NewRecorder(), req)
	}

	_, first := s.Screen(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	_, second := s.Screen(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	time.Sleep(time.Millisecond)
	open(first)
	open("")
	require.Equal(t, 3, *opened)

	// second was idle the longest and had to go; first is still served.
	open(first)
	assert.Equal(t, 3, *opened)
	open(second)
	assert.Equal(t, 4, *opened)
}
