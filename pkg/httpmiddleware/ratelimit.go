package httpmiddleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per Window.
	Max    int
	Window time.Duration
	// KeyFunc identifies the client. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
}

// counter approximates a sliding window from two aligned fixed windows.
type counter struct {
	start      time.Time
	curr, prev float64
}

type limiter struct {
	max    float64
	window time.Duration

	mu       sync.Mutex
	counters map[string]*counter
}

// take records one request for key at now. It reports whether the request
// is allowed, how many remain and when the current window ends.
func (l *limiter) take(key string, now time.Time) (allowed bool, remaining int, reset time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now.Truncate(l.window)
	c, ok := l.counters[key]
	switch {
	case !ok:
		c = &counter{start: start}
		l.counters[key] = c
	case !c.start.Equal(start):
		if start.Sub(c.start) == l.window {
			c.prev = c.curr
		} else {
			c.prev = 0
		}
		c.curr = 0
		c.start = start
	}

	weight := 1 - float64(now.Sub(start))/float64(l.window)
	used := c.prev*weight + c.curr
	reset = start.Add(l.window)
	if used >= l.max {
		return false, 0, reset
	}
	c.curr++
	return true, max(int(l.max-used-1), 0), reset
}

// evict drops counters idle for more than two windows.
func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, c := range l.counters {
		if now.Sub(c.start) >= 2*l.window {
			delete(l.counters, k)
		}
	}
}

// RateLimit limits each client to cfg.Max requests per sliding cfg.Window
// and answers excess requests with 429. Idle counters are evicted in the
// background until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = ClientIP
	}
	l := &limiter{
		max:      float64(cfg.Max),
		window:   cfg.Window,
		counters: make(map[string]*counter),
	}
	go func() {
		t := time.NewTicker(2 * cfg.Window)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				l.evict(now)
			}
		}
	}()

	limit := strconv.Itoa(cfg.Max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, reset := l.take(keyFunc(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !allowed {
				wait := max(time.Until(reset), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP or the remote
// address host, in that order of preference.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// KeyOrIP keys clients by the credential returned by credential, falling
// back to ClientIP for anonymous requests. Credentials are hashed so raw
// keys are not retained.
func KeyOrIP(credential func(*http.Request) string) func(*http.Request) string {
	return func(r *http.Request) string {
		if c := credential(r); c != "" {
			sum := sha256.Sum256([]byte(c))
			return "key:" + hex.EncodeToString(sum[:8])
		}
		return "ip:" + ClientIP(r)
	}
}
