package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/failure"
	"github.com/emperorhan/wallet-inventory/internal/metrics"
	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket rate limiter for outbound calls to one target
// (an RPC node, the NFT indexer, the secondary provider).
type Limiter struct {
	limiter *rate.Limiter
	target  string
}

// NewLimiter creates a rate limiter that allows rps requests per second
// with a burst capacity of burst tokens. rps <= 0 disables limiting.
func NewLimiter(rps float64, burst int, target string) *Limiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(limit, burst),
		target:  target,
	}
}

// Wait blocks until the limiter allows one event, or ctx is done.
// Uses Reserve() to guarantee exactly one token is consumed per call.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	r := l.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := r.Delay()
	if delay > 0 {
		metrics.RPCRateLimitWaits.WithLabelValues(l.target).Inc()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
	}
	return nil
}

// RecordRPCCall records an RPC call metric with its failure classification.
func RecordRPCCall(chain, method string, err error) {
	status := "ok"
	if err != nil {
		status = string(failure.KindOf(err))
	}
	metrics.RPCCallsTotal.WithLabelValues(chain, method, status).Inc()
}
