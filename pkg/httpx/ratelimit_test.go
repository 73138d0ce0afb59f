package httpx

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitByIP(t *testing.T) {
	t.Parallel()

	limited := Chain(okHandler(), RateLimitByIP(RateLimitConfig{
		RequestsPerWindow: 3,
		Window:            time.Minute,
		Burst:             3,
	}))

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("burst then 429", func(t *testing.T) {
		for range 3 {
			require.Equal(t, http.StatusOK, send("198.51.100.1:4000"))
		}

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.1:4000"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)

		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.NotEmpty(t, rec.Header().Get("Retry-After"))
		require.Contains(t, rec.Body.String(), "rate_limit_exceeded")
	})

	t.Run("other clients are unaffected", func(t *testing.T) {
		require.Equal(t, http.StatusOK, send("203.0.113.9:4000"))
	})
}

func TestIPKeyExtractor(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	require.Equal(t, "192.0.2.10", IPKeyExtractor(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", IPKeyExtractor(req))
}

func TestJSONFieldKeyExtractor(t *testing.T) {
	t.Parallel()

	extract := JSONFieldKeyExtractor("email")

	t.Run("pulls the field and restores the body", func(t *testing.T) {
		body := `{"email":"alice@example.com","password":"secret"}`
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

		require.Equal(t, "alice@example.com", extract(req))

		// The handler downstream must still see the full body.
		restored, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.JSONEq(t, body, string(restored))
	})

	t.Run("non-JSON bodies yield no key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json"))
		require.Empty(t, extract(req))
	})

	t.Run("missing field yields no key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"other":1}`))
		require.Empty(t, extract(req))
	})
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := &rateLimiter{
		rate:    rate.Limit(1),
		burst:   2,
		idleTTL: time.Minute,
	}

	active := rl.getLimiter("active")
	_ = rl.getLimiter("idle")

	// Drain the active bucket so a wrongful eviction would be visible as a
	// refilled replacement.
	require.True(t, active.Allow())
	require.True(t, active.Allow())

	v, ok := rl.limiters.Load("idle")
	require.True(t, ok)
	v.(*bucket).lastSeen.Store(time.Now().Add(-2 * time.Minute).UnixNano())

	rl.lastCleanup = time.Now().Add(-10 * time.Minute)
	rl.maybeCleanup(time.Now())

	_, ok = rl.limiters.Load("idle")
	require.False(t, ok, "idle bucket survives cleanup")

	// The recently seen key keeps its drained bucket.
	require.Same(t, active, rl.getLimiter("active"))
	require.False(t, active.Allow())
}
