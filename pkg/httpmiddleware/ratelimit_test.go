package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// limited wraps a trivial 200 handler with a limiter.
func limited(cfg RateLimitConfig) http.Handler {
	return RateLimit(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

// hit sends one request from addr and returns the recorder.
func hit(h http.Handler, addr string, decorate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = addr
	if decorate != nil {
		decorate(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	t.Run("QuotaHeadersOnEveryResponse", func(t *testing.T) {
		h := limited(RateLimitConfig{Max: 10, Window: time.Minute})

		w := hit(h, "192.168.1.1:4444", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("FullQuotaPasses", func(t *testing.T) {
		h := limited(RateLimitConfig{Max: 5, Window: time.Minute})

		for i := range 5 {
			w := hit(h, "192.168.1.1:12345", nil)
			assert.Equal(t, http.StatusOK, w.Code, "request %d within quota", i+1)
		}
	})

	t.Run("OverQuotaGets429", func(t *testing.T) {
		h := limited(RateLimitConfig{Max: 2, Window: time.Minute})

		for range 2 {
			w := hit(h, "10.0.0.1:9999", nil)
			require.Equal(t, http.StatusOK, w.Code)
		}

		w := hit(h, "10.0.0.1:9999", nil)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("Retry-After"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, float64(429), body["code"])
		assert.Equal(t, "rate_limited", body["reason"])
		assert.Equal(t, "rate limit exceeded", body["message"])
	})

	t.Run("QuotaIsPerClient", func(t *testing.T) {
		h := limited(RateLimitConfig{Max: 1, Window: time.Minute})

		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1234", nil).Code)
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1234", nil).Code)

		// Same client IP on a new connection still shares the quota.
		assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:5678", nil).Code)
	})

	t.Run("CustomKeyFunc", func(t *testing.T) {
		h := limited(RateLimitConfig{
			Max:    1,
			Window: time.Minute,
			KeyFunc: func(r *http.Request) string {
				return r.Header.Get("X-Api-Key")
			},
		})
		withKey := func(key string) func(*http.Request) {
			return func(r *http.Request) { r.Header.Set("X-Api-Key", key) }
		}

		assert.Equal(t, http.StatusOK, hit(h, "1.1.1.1:1", withKey("key-a")).Code)
		assert.Equal(t, http.StatusTooManyRequests, hit(h, "1.1.1.1:1", withKey("key-a")).Code)
		assert.Equal(t, http.StatusOK, hit(h, "1.1.1.1:1", withKey("key-b")).Code)
	})

	t.Run("KeyedByForwardedFor", func(t *testing.T) {
		h := limited(RateLimitConfig{Max: 1, Window: time.Minute})
		forwarded := func(r *http.Request) {
			r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
		}

		assert.Equal(t, http.StatusOK, hit(h, "192.168.1.1:4444", forwarded).Code)

		// Different proxy connection, same original client.
		assert.Equal(t, http.StatusTooManyRequests, hit(h, "192.168.1.2:5555", forwarded).Code)
	})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:4242"
	assert.Equal(t, "198.51.100.7", clientIP(req))

	req.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientIP(req))

	req.Header.Set("X-Forwarded-For", "192.0.2.1, 203.0.113.9")
	assert.Equal(t, "192.0.2.1", clientIP(req))
}
