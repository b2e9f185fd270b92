package wallets

import (
	"sort"
	"sync"
	"time"
)

type HealthStatus string

const (
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"

	// DefaultUnhealthyThreshold is the number of consecutive failed
	// refreshes before a wallet is reported unhealthy.
	DefaultUnhealthyThreshold = 5

	// DefaultDegradedLatencyThreshold is the P95 refresh latency above
	// which a wallet is reported degraded.
	DefaultDegradedLatencyThreshold = 10 * time.Second

	latencyWindowSize = 10
)

// Transition is the alert-worthy change caused by one recorded refresh.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionUnhealthy
	TransitionRecovered
)

// Health tracks the refresh outcomes of one wallet instance.
type Health struct {
	mu                       sync.RWMutex
	wallet                   string
	status                   HealthStatus
	consecutiveFailures      int
	lastSuccessAt            *time.Time
	lastFailureAt            *time.Time
	unhealthyThreshold       int
	recentLatencies          []time.Duration
	degradedLatencyThreshold time.Duration
	nowFn                    func() time.Time
}

func NewHealth(wallet string) *Health {
	return &Health{
		wallet:                   wallet,
		status:                   HealthStatusUnknown,
		unhealthyThreshold:       DefaultUnhealthyThreshold,
		recentLatencies:          make([]time.Duration, 0, latencyWindowSize),
		degradedLatencyThreshold: DefaultDegradedLatencyThreshold,
		nowFn:                    time.Now,
	}
}

// RecordRefresh records one refresh and reports whether it crossed into or
// out of the unhealthy state.
func (h *Health) RecordRefresh(latency time.Duration, err error) Transition {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.nowFn()

	if len(h.recentLatencies) >= latencyWindowSize {
		h.recentLatencies = h.recentLatencies[1:]
	}
	h.recentLatencies = append(h.recentLatencies, latency)

	if err != nil {
		h.consecutiveFailures++
		h.lastFailureAt = &now
		if h.consecutiveFailures >= h.unhealthyThreshold && h.status != HealthStatusUnhealthy {
			h.status = HealthStatusUnhealthy
			return TransitionUnhealthy
		}
		return TransitionNone
	}

	recovered := h.status == HealthStatusUnhealthy
	h.consecutiveFailures = 0
	h.lastSuccessAt = &now
	if h.p95() > h.degradedLatencyThreshold {
		h.status = HealthStatusDegraded
	} else {
		h.status = HealthStatusHealthy
	}
	if recovered {
		return TransitionRecovered
	}
	return TransitionNone
}

// p95 must be called with mu held.
func (h *Health) p95() time.Duration {
	n := len(h.recentLatencies)
	if n < 2 {
		return 0
	}
	sorted := append([]time.Duration(nil), h.recentLatencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (95*n - 1) / 100
	return sorted[min(max(idx, 0), n-1)]
}

func (h *Health) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthSnapshot{
		Wallet:              h.wallet,
		Status:              string(h.status),
		ConsecutiveFailures: h.consecutiveFailures,
		LastSuccessAt:       h.lastSuccessAt,
		LastFailureAt:       h.lastFailureAt,
	}
}

// HealthSnapshot is a point-in-time view of wallet health (JSON-safe).
type HealthSnapshot struct {
	Wallet              string     `json:"wallet"`
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}
