package indexer

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/cache"
	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/metrics"
)

const (
	DefaultLargeInventoryThreshold = 25
	DefaultCooldown                = 60 * time.Second
	defaultCacheCapacity           = 1024
)

// CachingClient serves repeated fetches for wallets with large inventories
// from memory for a cool-down period, keeping heavy wallets inside the
// indexer's quota. Small inventories are never cached.
type CachingClient struct {
	next      Fetcher
	cache     *cache.LRU[string, Inventory]
	threshold int
	logger    *slog.Logger
}

var _ Fetcher = (*CachingClient)(nil)

func NewCachingClient(next Fetcher, threshold int, cooldown time.Duration, logger *slog.Logger) *CachingClient {
	if threshold <= 0 {
		threshold = DefaultLargeInventoryThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &CachingClient{
		next:      next,
		cache:     cache.NewLRU[string, Inventory](defaultCacheCapacity, cooldown),
		threshold: threshold,
		logger:    logger.With("component", "indexer_cache"),
	}
}

func cacheKey(wallet string, chainID int64) string {
	return strconv.FormatInt(chainID, 10) + ":" + model.NormalizeAddress(wallet)
}

func (c *CachingClient) FetchInventory(ctx context.Context, wallet string, chainID int64) (Inventory, error) {
	chainLabel := strconv.FormatInt(chainID, 10)
	key := cacheKey(wallet, chainID)

	if inv, ok := c.cache.Get(key); ok {
		metrics.IndexerCacheHits.WithLabelValues(chainLabel).Inc()
		return inv.Clone(), nil
	}
	metrics.IndexerCacheMisses.WithLabelValues(chainLabel).Inc()

	inv, err := c.next.FetchInventory(ctx, wallet, chainID)
	if err != nil {
		return nil, err
	}
	if count := inv.TokenIDCount(); count >= c.threshold {
		c.cache.Put(key, inv.Clone())
		c.logger.Debug("large inventory cached", "wallet", wallet, "chain_id", chainID, "token_ids", count)
	}
	return inv, nil
}

// Invalidate drops every cached inventory of wallet.
func (c *CachingClient) Invalidate(wallet string) {
	suffix := ":" + model.NormalizeAddress(wallet)
	c.cache.DeleteFunc(func(key string) bool { return strings.HasSuffix(key, suffix) })
}
