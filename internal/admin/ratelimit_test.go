package admin

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newTestLimiter(t *testing.T) *RateLimitMiddleware {
	t.Helper()
	return NewRateLimitMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRateLimitMiddleware_AllowsNormalRequests(t *testing.T) {
	rl := newTestLimiter(t)

	rec := httptest.NewRecorder()
	rl.Wrap(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_BlocksExcessiveRequests(t *testing.T) {
	rl := newTestLimiter(t)
	handler := rl.Wrap(okHandler())

	// PUT /admin/v1/wallets allows a burst of 3.
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/v1/wallets", nil))
		assert.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/v1/wallets", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimitMiddleware_DifferentEndpointsIndependent(t *testing.T) {
	rl := newTestLimiter(t)
	handler := rl.Wrap(okHandler())

	for i := 0; i < 4; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/admin/v1/wallets", nil))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/wallets/0xabc/refresh", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_PerClientIP(t *testing.T) {
	rl := newTestLimiter(t)
	handler := rl.Wrap(okHandler())

	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPut, "/admin/v1/wallets", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodPut, "/admin/v1/wallets", nil)
	req.Header.Set("X-Real-IP", "10.0.0.9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_RetryAfterFollowsRule(t *testing.T) {
	rl := newTestLimiter(t)
	now := time.Unix(1_700_000_000, 0)
	rl.nowFunc = func() time.Time { return now }
	handler := rl.Wrap(okHandler())

	var rec *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/wallets/0xabc/refresh", nil))
	}
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	now = now.Add(2 * time.Second)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/wallets/0xabc/refresh", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "one token refilled")
}

func TestRateLimitMiddleware_StaleClientStartsFresh(t *testing.T) {
	rl := newTestLimiter(t)
	now := time.Unix(1_700_000_000, 0)
	rl.nowFunc = func() time.Time { return now }

	lim := rl.limiter(rl.ruleFor(http.MethodGet, "/admin/v1/health"), "10.0.0.1")
	assert.Same(t, lim, rl.limiter(rl.ruleFor(http.MethodGet, "/admin/v1/health"), "10.0.0.1"))

	now = now.Add(staleLimiterTTL)
	assert.NotSame(t, lim, rl.limiter(rl.ruleFor(http.MethodGet, "/admin/v1/health"), "10.0.0.1"))
}

func TestRateLimitMiddleware_BoundsTrackedClients(t *testing.T) {
	rl := newTestLimiter(t)
	handler := rl.Wrap(okHandler())

	for i := 0; i < maxTrackedClients+10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/admin/v1/health", nil)
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.%d.%d.%d", i>>16&0xff, i>>8&0xff, i&0xff))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, maxTrackedClients, rl.LimiterCount())
}
