package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
)

// RateLimitConfig configures the per-client request limiter.
type RateLimitConfig struct {
	// Max is the number of requests permitted per Window.
	Max int
	// Window is the length of the sliding window.
	Window time.Duration
	// KeyFunc derives the limiter key from a request. Nil means key by
	// client IP.
	KeyFunc func(*http.Request) string
}

// client holds the two-bucket counters for one limiter key. The sliding
// window weighs the previous bucket by its remaining overlap, which smooths
// the burst a plain fixed window allows at the boundary.
type client struct {
	prev      float64
	prevSince time.Time
	curr      float64
	currSince time.Time
}

type limiter struct {
	max     int
	window  time.Duration
	keyFn   func(*http.Request) string
	mu      sync.Mutex
	clients map[string]*client
}

func newLimiter(cfg RateLimitConfig) *limiter {
	keyFn := cfg.KeyFunc
	if keyFn == nil {
		keyFn = clientIP
	}
	return &limiter{
		max:     cfg.Max,
		window:  cfg.Window,
		keyFn:   keyFn,
		clients: make(map[string]*client),
	}
}

// take records one request for key and reports whether it fits the limit,
// along with the remaining quota and when the current window rolls over.
func (l *limiter) take(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.clients[key]
	if c == nil {
		c = &client{currSince: now}
		l.clients[key] = c
	}

	if now.Sub(c.currSince) >= l.window {
		c.prev, c.prevSince = c.curr, c.currSince
		c.curr = 0
		c.currSince = now.Truncate(l.window)
		if now.Sub(c.prevSince) >= 2*l.window {
			c.prev = 0
		}
	}

	overlap := 1 - now.Sub(c.currSince).Seconds()/l.window.Seconds()
	if overlap < 0 {
		overlap = 0
	}
	weighted := c.prev*overlap + c.curr
	resetAt = c.currSince.Add(l.window)

	if weighted >= float64(l.max) {
		return 0, resetAt, false
	}

	c.curr++
	remaining = int(float64(l.max) - weighted - 1)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, resetAt, true
}

// sweep drops clients whose buckets have both aged out.
func (l *limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.clients {
		if now.Sub(c.currSince) >= 2*l.window {
			delete(l.clients, key)
		}
	}
}

// RateLimit enforces a sliding window limit per client. Every response gets
// X-RateLimit-Limit, X-RateLimit-Remaining, and X-RateLimit-Reset headers;
// requests past the limit get a 429 with a JSON body and Retry-After.
//
// Stale per-client state is never evicted here; long-lived servers should
// use RateLimitWithCleanup instead.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newLimiter(cfg).middleware()
}

// RateLimitWithCleanup is RateLimit plus a background sweep that drops idle
// client state every two windows, until ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go func() {
		ticker := time.NewTicker(2 * l.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.sweep(now)
			}
		}
	}()
	return l.middleware()
}

func (l *limiter) middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, resetAt, ok := l.take(l.keyFn(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if ok {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := math.Ceil(math.Max(0, time.Until(resetAt).Seconds()))
			h.Set("Retry-After", strconv.Itoa(int(retryAfter)))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)

			var e jx.Encoder
			e.ObjStart()
			e.FieldStart("code")
			e.Int(http.StatusTooManyRequests)
			e.FieldStart("reason")
			e.Str("rate_limited")
			e.FieldStart("message")
			e.Str("rate limit exceeded")
			e.ObjEnd()
			_, _ = w.Write(e.Bytes())
		})
	}
}

// clientIP is the default limiter key: the first X-Forwarded-For hop, then
// X-Real-IP, then the connection's remote host.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
