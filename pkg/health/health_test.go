package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

type statusBody struct {
	Status string
	Checks map[string]string
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) statusBody {
	t.Helper()
	body := statusBody{Checks: map[string]string{}}
	err := jx.DecodeBytes(w.Body.Bytes()).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "status":
			v, err := d.Str()
			body.Status = v
			return err
		case "checks":
			return d.ObjBytes(func(d *jx.Decoder, name []byte) error {
				v, err := d.Str()
				body.Checks[string(name)] = v
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return body
}

func get(h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestLiveEndpoint_AllPassing(t *testing.T) {
	h := New(nil)
	h.AddLiveness(Check{Name: "goroutines", Func: passing})
	h.AddLiveness(Check{Name: "gc", Func: passing})

	w := get(h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestLiveEndpoint_FailingCheck(t *testing.T) {
	h := New(nil)
	h.AddLiveness(Check{Name: "catalog", Func: failing("connection refused")})

	// Checks start healthy and flip after three consecutive failures.
	ctx := context.Background()
	for range 3 {
		h.liveness[0].run(ctx)
	}

	w := get(h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	body := decodeStatus(t, w)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "connection refused", body.Checks["catalog"])
}

func TestLiveEndpoint_FailureBelowThreshold(t *testing.T) {
	h := New(nil)
	h.AddLiveness(Check{Name: "flaky", Func: failing("temporary")})

	ctx := context.Background()
	h.liveness[0].run(ctx)
	h.liveness[0].run(ctx)

	assert.Equal(t, http.StatusOK, get(h.LiveEndpoint, "/livez").Code)
}

func TestCustomThresholds(t *testing.T) {
	down := true
	h := New(nil)
	h.AddReadiness(Check{
		Name: "catalog",
		Func: func(context.Context) error {
			if down {
				return errors.New("down")
			}
			return nil
		},
		FailureThreshold: 1,
		SuccessThreshold: 2,
	})
	h.SetReady(true)
	p := h.readiness[0]
	ctx := context.Background()

	p.run(ctx)
	assert.False(t, h.IsReady())

	down = false
	p.run(ctx)
	assert.False(t, h.IsReady(), "one success is below the threshold")
	p.run(ctx)
	assert.True(t, h.IsReady())
}

func TestReadyEndpoint(t *testing.T) {
	h := New(nil)
	h.AddReadiness(Check{Name: "catalog", Func: passing})

	w := get(h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "service is not ready", decodeStatus(t, w).Checks["_readiness"])

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, get(h.ReadyEndpoint, "/readyz").Code)

	h.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, get(h.ReadyEndpoint, "/readyz").Code)
}

func TestReadyEndpoint_MultipleChecksOneFailing(t *testing.T) {
	h := New(nil)
	h.AddReadiness(Check{Name: "postgres", Func: passing})
	h.AddReadiness(Check{Name: "catalog-api", Func: failing("503 Service Unavailable")})
	h.SetReady(true)

	ctx := context.Background()
	for _, p := range h.readiness {
		for range 3 {
			p.run(ctx)
		}
	}

	w := get(h.ReadyEndpoint, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeStatus(t, w)
	assert.Len(t, body.Checks, 1)
	assert.Equal(t, "503 Service Unavailable", body.Checks["catalog-api"])
}

func TestTransitionsAreLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := New(zap.New(core))
	down := true
	h.AddLiveness(Check{Name: "catalog", FailureThreshold: 1, Func: func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	}})
	p := h.liveness[0]
	ctx := context.Background()

	p.run(ctx)
	p.run(ctx)
	down = false
	p.run(ctx)

	assert.Equal(t, 1, logs.FilterMessage("Check became unhealthy").Len())
	assert.Equal(t, 1, logs.FilterMessage("Check recovered").Len())
}

func TestMount(t *testing.T) {
	h := New(nil)
	h.SetReady(true)
	r := chi.NewRouter()
	h.Mount(r)

	for _, target := range []string{"/livez", "/readyz"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusOK, w.Code, target)
	}
}

func TestStartStop(t *testing.T) {
	h := New(nil)
	h.AddLiveness(Check{Name: "goroutines", Func: GoroutineCountCheck(100000)})

	h.Start(context.Background(), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	h.Stop()
	h.Stop()
}

func TestCheckLastErrorStored(t *testing.T) {
	h := New(nil)
	h.AddLiveness(Check{Name: "catalog", Func: failing("timeout")})
	p := h.liveness[0]

	assert.Nil(t, p.lastError())
	p.run(context.Background())
	assert.EqualError(t, p.lastError(), "timeout")
}

func TestConcurrentAccess(t *testing.T) {
	h := New(nil)
	h.AddLiveness(Check{Name: "concurrent", Func: failing("err")})
	h.AddReadiness(Check{Name: "concurrent", Func: passing})
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, time.Millisecond)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				h.IsReady()
				get(h.LiveEndpoint, "/livez")
				get(h.ReadyEndpoint, "/readyz")
			}
		}()
	}
	wg.Wait()
	h.Stop()
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingCheck(t *testing.T) {
	assert.NoError(t, PingCheck(pingerFunc(passing))(context.Background()))

	err := PingCheck(pingerFunc(failing("refused")))(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))

	err := GoroutineCountCheck(0)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")
}

func TestGCMaxPauseCheck(t *testing.T) {
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}
