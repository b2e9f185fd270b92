package admin

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/emperorhan/wallet-inventory/internal/cache"
	"github.com/emperorhan/wallet-inventory/internal/metrics"
)

const (
	// staleLimiterTTL is how long a client's limiter survives without traffic.
	staleLimiterTTL = 10 * time.Minute

	maxTrackedClients = 4096
)

// limitRule grants one request per interval to each client, with burst
// requests allowed up front.
type limitRule struct {
	name     string
	method   string // empty matches any method
	prefix   string // empty matches any path
	interval time.Duration
	burst    int
}

func (r limitRule) matches(method, path string) bool {
	if r.method != "" && !strings.EqualFold(r.method, method) {
		return false
	}
	return r.prefix == "" || strings.HasPrefix(path, r.prefix)
}

// retryAfter is the wait, in whole seconds, until the next token.
func (r limitRule) retryAfter() string {
	return strconv.Itoa(int(math.Ceil(r.interval.Seconds())))
}

var adminRules = []limitRule{
	{name: "set_wallets", method: http.MethodPut, prefix: "/admin/v1/wallets", interval: 6 * time.Second, burst: 3},
	{name: "refresh", method: http.MethodPost, prefix: "/admin/v1/wallets/", interval: 2 * time.Second, burst: 5},
	{name: "default", interval: time.Second, burst: 5},
}

// RateLimitMiddleware limits admin requests per rule and client IP.
type RateLimitMiddleware struct {
	rules   []limitRule
	clients *cache.LRU[string, *rate.Limiter]
	logger  *slog.Logger
	nowFunc func() time.Time
}

func NewRateLimitMiddleware(logger *slog.Logger) *RateLimitMiddleware {
	rl := &RateLimitMiddleware{
		rules:   adminRules,
		logger:  logger.With("component", "admin_ratelimit"),
		nowFunc: time.Now,
	}
	rl.clients = cache.NewLRU[string, *rate.Limiter](maxTrackedClients, staleLimiterTTL).
		WithClock(func() time.Time { return rl.nowFunc() })
	return rl
}

// LimiterCount returns the number of tracked client limiters.
func (rl *RateLimitMiddleware) LimiterCount() int {
	return rl.clients.Len()
}

func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule := rl.ruleFor(r.Method, r.URL.Path)
		clientIP := extractClientIP(r)

		if !rl.limiter(rule, clientIP).AllowN(rl.nowFunc(), 1) {
			metrics.AdminRequestsThrottled.WithLabelValues(rule.name).Inc()
			rl.logger.Warn("admin API rate limit exceeded",
				"rule", rule.name,
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", clientIP,
			)
			w.Header().Set("Retry-After", rule.retryAfter())
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimitMiddleware) ruleFor(method, path string) limitRule {
	for _, rule := range rl.rules {
		if rule.matches(method, path) {
			return rule
		}
	}
	return rl.rules[len(rl.rules)-1]
}

// limiter returns the client's limiter for rule. Every hit restarts the
// entry's idle lifetime.
func (rl *RateLimitMiddleware) limiter(rule limitRule, clientIP string) *rate.Limiter {
	key := rule.name + "|" + clientIP
	lim, ok := rl.clients.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Every(rule.interval), rule.burst)
	}
	rl.clients.Put(key, lim)
	return lim
}

// extractClientIP prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the connection's remote host.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
