package httpmiddleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-key token bucket limiter.
type RateLimitConfig struct {
	// Max is the bucket capacity and the number of requests refilled per
	// Window.
	Max int
	// Window is the refill period for a full bucket.
	Window time.Duration
	// KeyFunc derives the limit key from a request. Nil means client IP.
	KeyFunc func(*http.Request) string
}

// bucket holds the remaining tokens for one key. Tokens refill continuously
// at Max per Window rather than in window steps.
type bucket struct {
	tokens   float64
	refilled time.Time
}

type limiter struct {
	cfg     RateLimitConfig
	rate    float64 // tokens per second
	mu      sync.Mutex
	buckets map[string]*bucket
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	return &limiter{
		cfg:     cfg,
		rate:    float64(cfg.Max) / cfg.Window.Seconds(),
		buckets: make(map[string]*bucket),
	}
}

// take attempts to consume one token for key. It reports whether the request
// may proceed and, if not, how long until a token is available.
func (l *limiter) take(key string, now time.Time) (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{tokens: float64(l.cfg.Max), refilled: now}
		l.buckets[key] = b
	}

	b.tokens += now.Sub(b.refilled).Seconds() * l.rate
	if b.tokens > float64(l.cfg.Max) {
		b.tokens = float64(l.cfg.Max)
	}
	b.refilled = now

	if b.tokens < 1 {
		deficit := (1 - b.tokens) / l.rate
		return false, time.Duration(deficit * float64(time.Second))
	}
	b.tokens--
	return true, 0
}

// sweep drops buckets that have been idle long enough to be full again.
func (l *limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if now.Sub(b.refilled) >= l.cfg.Window {
			delete(l.buckets, key)
		}
	}
}

// RateLimit enforces a per-key token bucket. Over-limit requests get 429 with
// a Retry-After header.
func RateLimit(cfg RateLimitConfig) Middleware {
	return limitMiddleware(newLimiter(cfg))
}

// RateLimitWithCleanup is RateLimit plus a background sweeper that evicts
// idle buckets until ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go func() {
		ticker := time.NewTicker(cfg.Window)
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
	return limitMiddleware(l)
}

func limitMiddleware(l *limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter := l.take(l.cfg.KeyFunc(r), time.Now())
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			if !ok {
				secs := int(retryAfter.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the sender address, honoring X-Forwarded-For from a
// fronting proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
