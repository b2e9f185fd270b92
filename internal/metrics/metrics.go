package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Balance and inventory pipeline counters and histograms, partitioned by chain.

var (
	// Scanner
	ScanRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "scanner",
		Name:      "runs_total",
		Help:      "Total ERC-1155 transfer-log scans",
	}, []string{"chain"})

	ScanErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "scanner",
		Name:      "errors_total",
		Help:      "Total scans aborted because a log query failed",
	}, []string{"chain"})

	ScanEventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "scanner",
		Name:      "events_applied_total",
		Help:      "Total per-token transfer records applied to cursors",
	}, []string{"chain"})

	ScanLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "inventory",
		Subsystem: "scanner",
		Name:      "scan_duration_seconds",
		Help:      "Scan duration including the four parallel log queries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"chain"})

	ScanLastBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "inventory",
		Subsystem: "scanner",
		Name:      "last_scanned_block",
		Help:      "Last scanned block of the most recent successful scan",
	}, []string{"chain"})

	CursorPersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "scanner",
		Name:      "cursor_persist_failures_total",
		Help:      "Cursor writes that failed and were swallowed",
	}, []string{"chain"})

	// Reconciler
	ReconcilerActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "reconciler",
		Name:      "actions_total",
		Help:      "Token store actions produced by the reconciler",
	}, []string{"chain", "path"})

	BatchBalanceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "reconciler",
		Name:      "batch_balance_failures_total",
		Help:      "balanceOfBatch calls that failed and fell back to known quantities",
	}, []string{"chain"})

	MetadataFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "reconciler",
		Name:      "metadata_failures_total",
		Help:      "Per-token metadata fetches that failed",
	}, []string{"chain", "kind"})

	// Providers
	IndexerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "indexer",
		Name:      "requests_total",
		Help:      "NFT indexer HTTP requests by outcome",
	}, []string{"chain", "status"})

	IndexerCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "indexer",
		Name:      "cache_hits_total",
		Help:      "Inventory requests served from the cool-down cache",
	}, []string{"chain"})

	IndexerCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "indexer",
		Name:      "cache_misses_total",
		Help:      "Inventory requests that went to the network",
	}, []string{"chain"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "inventory",
		Subsystem: "indexer",
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	SecondaryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "secondary",
		Name:      "requests_total",
		Help:      "Secondary metadata provider requests by outcome",
	}, []string{"chain", "status"})

	// RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "JSON-RPC calls by method and outcome",
	}, []string{"chain", "method", "status"})

	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Calls that had to wait for a rate limiter token",
	}, []string{"target"})

	// Orchestrator and wallets
	RefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "orchestrator",
		Name:      "refreshes_total",
		Help:      "Balance refreshes by policy",
	}, []string{"chain", "policy"})

	RefreshLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "inventory",
		Subsystem: "orchestrator",
		Name:      "refresh_duration_seconds",
		Help:      "Balance refresh duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"chain"})

	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "orchestrator",
		Name:      "fetch_failures_total",
		Help:      "Per-token balance fetches that failed and were skipped",
	}, []string{"chain", "token_type", "kind"})

	StaleResultsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "orchestrator",
		Name:      "stale_results_dropped_total",
		Help:      "Action batches discarded because their fetch generation was superseded",
	}, []string{"chain"})

	ActiveWallets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "inventory",
		Subsystem: "wallets",
		Name:      "active",
		Help:      "Wallet instances currently owned by the multi-wallet service",
	})

	// Cursor database pool, sampled only for the postgres cursor backend
	DBPoolOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "inventory",
		Subsystem: "db_pool",
		Name:      "open_connections",
		Help:      "Open connections in the cursor database pool",
	}, []string{"store"})

	DBPoolInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "inventory",
		Subsystem: "db_pool",
		Name:      "in_use",
		Help:      "Connections currently in use",
	}, []string{"store"})

	DBPoolIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "inventory",
		Subsystem: "db_pool",
		Name:      "idle",
		Help:      "Idle connections",
	}, []string{"store"})

	DBPoolWaitCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "inventory",
		Subsystem: "db_pool",
		Name:      "wait_count",
		Help:      "Total connections waited for",
	}, []string{"store"})

	DBPoolWaitDurationSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "inventory",
		Subsystem: "db_pool",
		Name:      "wait_duration_seconds",
		Help:      "Total time blocked waiting for a connection",
	}, []string{"store"})

	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Alerts delivered per channel and type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "alerts",
		Name:      "cooldown_skipped_total",
		Help:      "Alerts suppressed by the per-wallet cooldown",
	}, []string{"channel", "type"})

	AdminRequestsThrottled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "admin",
		Name:      "requests_throttled_total",
		Help:      "Admin API requests rejected by the per-client rate limit",
	}, []string{"rule"})
)
