package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/wallet-inventory/internal/admin"
	"github.com/emperorhan/wallet-inventory/internal/aggregation"
	"github.com/emperorhan/wallet-inventory/internal/alert"
	"github.com/emperorhan/wallet-inventory/internal/chain/evm/contract"
	"github.com/emperorhan/wallet-inventory/internal/chain/evm/rpc"
	"github.com/emperorhan/wallet-inventory/internal/chain/ratelimit"
	"github.com/emperorhan/wallet-inventory/internal/config"
	"github.com/emperorhan/wallet-inventory/internal/metrics"
	"github.com/emperorhan/wallet-inventory/internal/provider/indexer"
	"github.com/emperorhan/wallet-inventory/internal/provider/metadata"
	"github.com/emperorhan/wallet-inventory/internal/provider/secondary"
	"github.com/emperorhan/wallet-inventory/internal/reconciler"
	"github.com/emperorhan/wallet-inventory/internal/retry"
	"github.com/emperorhan/wallet-inventory/internal/scanner"
	"github.com/emperorhan/wallet-inventory/internal/store"
	"github.com/emperorhan/wallet-inventory/internal/store/memory"
	"github.com/emperorhan/wallet-inventory/internal/store/postgres"
	redispkg "github.com/emperorhan/wallet-inventory/internal/store/redis"
	"github.com/emperorhan/wallet-inventory/internal/tracing"
	"github.com/emperorhan/wallet-inventory/internal/wallets"
)

const serviceName = "wallet-inventory"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	chainNames := make([]string, 0, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		chainNames = append(chainNames, ch.String())
	}
	logger.Info("starting wallet-inventory",
		"chains", chainNames,
		"wallets", len(cfg.Wallets),
		"cursor_backend", cfg.Cursor.Backend,
		"indexer_configured", cfg.Indexer.URL != "",
		"secondary_configured", cfg.Secondary.URL != "",
	)
	if cfg.Indexer.URL == "" {
		logger.Warn("INDEXER_URL not set, every refresh will use on-chain fallback discovery")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(ctx, serviceName, tracingEndpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	cursors, db, closeCursors, err := openCursorStore(ctx, cfg.Cursor, logger)
	if err != nil {
		logger.Error("failed to open cursor store", "backend", cfg.Cursor.Backend, "error", err)
		os.Exit(1)
	}
	defer closeCursors()

	sources := aggregation.Sources{
		Tickers:   aggregation.NewMemoryTickers(),
		Overrides: aggregation.NewMemoryOverrides(),
		Activity:  aggregation.NewMemoryActivity(),
	}
	svc := wallets.NewService(wallets.Config{
		RefreshInterval: cfg.Refresh.Interval,
		RefreshTimeout:  cfg.Refresh.Timeout,
		QueueSize:       cfg.Refresh.QueueSize,
		Alerter:         alert.FromConfig(cfg.Alert.SlackWebhookURL, cfg.Alert.WebhookURL, cfg.Alert.Cooldown, logger),
	}, buildChainBackends(cfg, cursors, logger), sources, cursors, logger)

	if err := svc.SetWallets(ctx, cfg.Wallets); err != nil {
		logger.Error("failed to activate wallets", "error", err)
		os.Exit(1)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHTTPServer(gCtx, "health", cfg.Server.HealthPort, healthMux(svc, logger), logger)
	})

	if cfg.Server.AdminPort > 0 {
		limiter := admin.NewRateLimitMiddleware(logger)
		handler := admin.AuditMiddleware(logger, limiter.Wrap(admin.NewServer(svc, logger).Handler()))
		g.Go(func() error {
			return runHTTPServer(gCtx, "admin", cfg.Server.AdminPort, handler, logger)
		})
	}

	g.Go(func() error {
		return svc.Run(gCtx)
	})

	g.Go(func() error {
		logSummaries(gCtx, svc.Summaries(gCtx), logger)
		return nil
	})

	if db != nil {
		startDBPoolStatsPump(gCtx, db.DB, cfg.Cursor.PoolStatsInterval, logger)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("wallet-inventory exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("wallet-inventory shut down gracefully")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// openCursorStore returns the configured cursor backend. db is non-nil only
// for the postgres backend.
func openCursorStore(ctx context.Context, cfg config.CursorConfig, logger *slog.Logger) (store.CursorStore, *postgres.DB, func(), error) {
	switch cfg.Backend {
	case config.CursorBackendRedis:
		s, err := redispkg.NewCursorStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("connected to redis cursor store")
		return s, nil, func() { closeQuietly(s, logger) }, nil

	case config.CursorBackendPostgres:
		db, err := postgres.New(ctx, postgres.Config{
			URL:                cfg.DBURL,
			MaxOpenConns:       cfg.MaxOpenConns,
			MaxIdleConns:       cfg.MaxIdleConns,
			ConnMaxLifetime:    cfg.ConnMaxLifetime,
			StatementTimeoutMS: int(postgres.DefaultQueryTimeout / time.Millisecond),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.RunMigrations(ctx, postgres.Migrations); err != nil {
			closeQuietly(db, logger)
			return nil, nil, nil, err
		}
		logger.Info("connected to postgres cursor store")
		return postgres.NewCursorRepo(db), db, func() { closeQuietly(db, logger) }, nil
	}
	return memory.NewCursorStore(), nil, func() {}, nil
}

func closeQuietly(c io.Closer, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("close cursor store", "error", err)
	}
}

// buildChainBackends wires the per-chain readers, scanner and reconciler.
// The indexer and secondary clients are shared across chains.
func buildChainBackends(cfg *config.Config, cursors store.CursorStore, logger *slog.Logger) []wallets.ChainBackend {
	nftIndexer := indexer.NewCachingClient(
		indexer.NewClient(indexer.Config{
			BaseURL: cfg.Indexer.URL,
			APIKey:  cfg.Indexer.APIKey,
			Timeout: cfg.Indexer.Timeout,
			RPS:     cfg.Indexer.RPS,
			Burst:   cfg.Indexer.Burst,
		}, logger),
		cfg.Indexer.LargeInventoryThreshold,
		cfg.Indexer.Cooldown,
		logger,
	)
	secondaryProvider := secondary.NewClient(secondary.Config{
		BaseURL:   cfg.Secondary.URL,
		APIKey:    cfg.Secondary.APIKey,
		ChunkSize: cfg.Secondary.ChunkSize,
	}, logger)

	backends := make([]wallets.ChainBackend, 0, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		limiter := ratelimit.NewLimiter(cfg.RPC.RPS, cfg.RPC.Burst, "rpc:"+ch.String())
		client := rpc.NewClient(ch.RPCURL, ch.String(), limiter, logger).WithRetry(retry.Policy{
			Attempts:  cfg.RPC.MaxAttempts,
			BaseDelay: cfg.RPC.RetryBackoff,
			MaxDelay:  5 * time.Second,
		})
		reader := contract.NewReader(client)
		sc := scanner.New(ch, client, cursors, logger)
		fetcher := metadata.NewFetcher(reader, metadata.Config{
			IPFSGateway: cfg.Metadata.IPFSGateway,
			Timeout:     cfg.Metadata.Timeout,
			RPS:         cfg.Metadata.RPS,
			Burst:       cfg.Metadata.Burst,
		}, logger)

		backends = append(backends, wallets.ChainBackend{
			Chain:    ch,
			Native:   client,
			Balances: reader,
			Indexer:  nftIndexer,
			Scanner:  sc,
			Reconciler: reconciler.New(ch, reconciler.Deps{
				Discoverer: sc,
				Metadata:   fetcher,
				Chain:      reader,
				Secondary:  secondaryProvider,
			}, logger),
		})
	}
	return backends
}

type healthReporter interface {
	Health() []wallets.HealthSnapshot
}

type healthResponse struct {
	Status  string                   `json:"status"`
	Wallets []wallets.HealthSnapshot `json:"wallets"`
}

// healthMux serves /healthz and /metrics. /healthz answers 503 only when
// every active wallet is unhealthy.
func healthMux(svc healthReporter, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snapshots := svc.Health()
		resp := healthResponse{Status: "ok", Wallets: snapshots}
		status := http.StatusOK
		if allUnhealthy(snapshots) {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func allUnhealthy(snapshots []wallets.HealthSnapshot) bool {
	if len(snapshots) == 0 {
		return false
	}
	for _, s := range snapshots {
		if s.Status != string(wallets.HealthStatusUnhealthy) {
			return false
		}
	}
	return true
}

func runHTTPServer(ctx context.Context, name string, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("http server shutdown error", "server", name, "error", err)
		}
	}()

	logger.Info("http server started", "server", name, "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func logSummaries(ctx context.Context, summaries <-chan wallets.Summary, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-summaries:
			if !ok {
				return
			}
			for wallet, ws := range s.Wallets {
				logger.Debug("wallet summary",
					"wallet", wallet,
					"total_fiat", ws.TotalFiat.StringFixed(2),
					"fungible", ws.FungibleCount,
					"nfts", ws.NFTCount,
				)
			}
		}
	}
}

type dbStatsProvider interface {
	Stats() sql.DBStats
}

type dbPoolStatsGauges struct {
	open         *prometheus.GaugeVec
	inUse        *prometheus.GaugeVec
	idle         *prometheus.GaugeVec
	waitCount    *prometheus.GaugeVec
	waitDuration *prometheus.GaugeVec
}

const cursorPoolLabel = "cursors"

func collectDBPoolStats(db dbStatsProvider, gauges dbPoolStatsGauges) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("db pool stats collection panicked: %v", r)
		}
	}()
	if db == nil {
		return fmt.Errorf("db stats provider is nil")
	}

	stats := db.Stats()
	gauges.open.WithLabelValues(cursorPoolLabel).Set(float64(stats.OpenConnections))
	gauges.inUse.WithLabelValues(cursorPoolLabel).Set(float64(stats.InUse))
	gauges.idle.WithLabelValues(cursorPoolLabel).Set(float64(stats.Idle))
	gauges.waitCount.WithLabelValues(cursorPoolLabel).Set(float64(stats.WaitCount))
	gauges.waitDuration.WithLabelValues(cursorPoolLabel).Set(stats.WaitDuration.Seconds())
	return nil
}

func startDBPoolStatsPump(ctx context.Context, db dbStatsProvider, interval time.Duration, logger *slog.Logger) {
	if db == nil || interval <= 0 {
		return
	}

	gauges := dbPoolStatsGauges{
		open:         metrics.DBPoolOpen,
		inUse:        metrics.DBPoolInUse,
		idle:         metrics.DBPoolIdle,
		waitCount:    metrics.DBPoolWaitCount,
		waitDuration: metrics.DBPoolWaitDurationSeconds,
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()

		if err := collectDBPoolStats(db, gauges); err != nil {
			logger.Warn("failed to collect initial db pool stats", "error", err)
		}

		for {
			select {
			case <-ctx.Done():
				logger.Info("db pool stats sampler stopped", "cause", "context_done")
				return
			case <-ticker.C:
				if err := collectDBPoolStats(db, gauges); err != nil {
					logger.Warn("failed to collect db pool stats", "error", err)
				}
			}
		}
	}()
}
