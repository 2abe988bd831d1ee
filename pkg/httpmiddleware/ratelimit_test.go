package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusSeeOther)
	})
}

// post sends a form post from addr through h. Extra headers are given as
// key/value pairs.
func post(h http.Handler, addr string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/filter", nil)
	req.RemoteAddr = addr
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 3, Window: time.Minute})(okHandler())

	for i, want := range []string{"2", "1", "0"} {
		w := post(h, "192.168.1.1:12345")
		require.Equal(t, http.StatusSeeOther, w.Code, "post %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, want, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := post(h, "192.168.1.1:23456")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "Too many requests")

	// Other clients keep their own budget.
	assert.Equal(t, http.StatusSeeOther, post(h, "192.168.1.2:12345").Code)
}

func TestRateLimit_ForwardedClient(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())
	const xff = "203.0.113.50, 70.41.3.18"

	assert.Equal(t, http.StatusSeeOther, post(h, "10.0.0.1:4444", "X-Forwarded-For", xff).Code)
	// The first forwarded address identifies the client, not the proxy.
	assert.Equal(t, http.StatusTooManyRequests, post(h, "10.0.0.2:5555", "X-Forwarded-For", xff).Code)
	assert.Equal(t, http.StatusSeeOther, post(h, "10.0.0.2:5555").Code)
}

func TestRateLimit_CookieKey(t *testing.T) {
	cfg := RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		KeyFunc: CookieKey("sid"),
	}
	handler := RateLimit(cfg)(okHandler())

	send := func(sid, addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = addr
		if sid != "" {
			req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	// Sessions behind the same address are limited independently.
	assert.Equal(t, http.StatusOK, send("a", "10.0.0.1:1"))
	assert.Equal(t, http.StatusOK, send("b", "10.0.0.1:1"))
	assert.Equal(t, http.StatusTooManyRequests, send("a", "10.0.0.1:2"))

	// Without the cookie the client address is used.
	assert.Equal(t, http.StatusOK, send("", "10.0.0.1:1"))
	assert.Equal(t, http.StatusTooManyRequests, send("", "10.0.0.1:3"))
}

func TestRateLimit_SlidingWindow(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 2, Window: time.Minute})
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	_, _, ok := rl.allow("k", start)
	require.True(t, ok)
	_, _, ok = rl.allow("k", start.Add(time.Second))
	require.True(t, ok)
	_, _, ok = rl.allow("k", start.Add(2*time.Second))
	require.False(t, ok)

	// Right after the window rolls over the previous window still weighs in.
	_, _, ok = rl.allow("k", start.Add(time.Minute))
	assert.False(t, ok)

	// Half a window later only one of the two old requests counts.
	remaining, _, ok := rl.allow("k", start.Add(90*time.Second))
	assert.True(t, ok)
	assert.Equal(t, 0, remaining)

	assert.Equal(t, 0, rl.cleanup(start.Add(2*time.Minute)))
	assert.Equal(t, 1, rl.cleanup(start.Add(4*time.Minute)))
}
