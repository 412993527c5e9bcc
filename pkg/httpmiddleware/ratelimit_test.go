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
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/orders/update", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_AllowsUpToMax(t *testing.T) {
	h := Wrap(okHandler(), RateLimit(RateLimitConfig{Max: 3, Window: time.Minute}))

	for i := 0; i < 3; i++ {
		rec := doRequest(h, "10.0.0.1:1234")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := doRequest(h, "10.0.0.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	h := Wrap(okHandler(), RateLimit(RateLimitConfig{Max: 1, Window: time.Minute}))

	require.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, "10.0.0.1:5678").Code,
		"same IP on a different port shares one bucket")
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.2:1234").Code)
}

func TestRateLimit_TokensRefill(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 2, Window: time.Second})
	now := time.Now()

	ok, _ := l.take("k", now)
	require.True(t, ok)
	ok, _ = l.take("k", now)
	require.True(t, ok)
	ok, retry := l.take("k", now)
	require.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))

	// Half a window restores one token.
	ok, _ = l.take("k", now.Add(500*time.Millisecond))
	assert.True(t, ok)
}

func TestRateLimit_XForwardedForWins(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	assert.Equal(t, "203.0.113.9", clientIP(req))
}

func TestLimiter_SweepDropsIdleBuckets(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 1, Window: time.Second})
	now := time.Now()

	l.take("k", now)
	require.Len(t, l.buckets, 1)

	l.sweep(now.Add(2 * time.Second))
	assert.Empty(t, l.buckets)
}
