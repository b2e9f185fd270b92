package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/chain/ratelimit"
	"github.com/emperorhan/wallet-inventory/internal/circuitbreaker"
	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/failure"
	"github.com/emperorhan/wallet-inventory/internal/metrics"
)

const (
	defaultPageSize = 200
	defaultMaxPages = 50
	maxBodyBytes    = 8 << 20
)

// Fetcher returns a wallet's whole NFT inventory on one chain.
type Fetcher interface {
	FetchInventory(ctx context.Context, wallet string, chainID int64) (Inventory, error)
}

type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
	MaxPages int
	Timeout  time.Duration
	RPS      float64
	Burst    int
}

// Client talks to the third-party NFT indexer HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	pageSize   int
	maxPages   int
	limiter    *ratelimit.Limiter
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger
}

var _ Fetcher = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		pageSize:   cfg.PageSize,
		maxPages:   cfg.MaxPages,
		limiter:    ratelimit.NewLimiter(cfg.RPS, cfg.Burst, "indexer"),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			Trips:            tripsBreaker,
			OnStateChange: func(_, to circuitbreaker.State) {
				metrics.BreakerState.WithLabelValues("indexer").Set(float64(to))
			},
		}),
		logger: logger.With("component", "indexer_client"),
	}
}

func tripsBreaker(err error) bool {
	switch failure.KindOf(err) {
	case failure.KindNotFound, failure.KindCanceled, failure.KindDecode:
		return false
	}
	return true
}

// FetchInventory follows the next cursor until the wallet's inventory is
// exhausted or MaxPages was read.
func (c *Client) FetchInventory(ctx context.Context, wallet string, chainID int64) (Inventory, error) {
	wallet = model.NormalizeAddress(wallet)
	chainLabel := strconv.FormatInt(chainID, 10)

	inv := make(Inventory)
	next := ""
	for page := 0; page < c.maxPages; page++ {
		var resp assetsPage
		err := c.breaker.Do(func() error {
			var err error
			resp, err = c.fetchPage(ctx, wallet, chainID, next)
			return err
		})
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			err = failure.Network(fmt.Errorf("indexer: %w", err))
		}
		metrics.IndexerRequests.WithLabelValues(chainLabel, statusLabel(err)).Inc()
		if err != nil {
			return nil, err
		}

		for _, a := range resp.Assets {
			addAsset(inv, a)
		}
		if resp.Next == "" {
			return inv, nil
		}
		next = resp.Next
	}

	c.logger.Warn("inventory truncated at page limit", "wallet", wallet, "chain_id", chainID, "pages", c.maxPages)
	return inv, nil
}

func (c *Client) fetchPage(ctx context.Context, wallet string, chainID int64, cursor string) (assetsPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return assetsPage{}, err
	}

	q := url.Values{}
	q.Set("chain_id", strconv.FormatInt(chainID, 10))
	q.Set("limit", strconv.Itoa(c.pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := fmt.Sprintf("%s/v1/wallets/%s/nfts?%s", c.baseURL, url.PathEscape(wallet), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return assetsPage{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return assetsPage{}, failure.Network(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return assetsPage{}, failure.Network(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return assetsPage{}, failure.RateLimited(fmt.Errorf("indexer http status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return assetsPage{}, failure.NotFound(fmt.Errorf("indexer http status %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return assetsPage{}, failure.Network(fmt.Errorf("indexer http status %d: %s", resp.StatusCode, truncate(body, 256)))
	}

	var page assetsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return assetsPage{}, failure.Decode(fmt.Errorf("unmarshal indexer page: %w", err))
	}
	return page, nil
}

func addAsset(inv Inventory, a assetJSON) {
	contract := model.NormalizeAddress(a.Contract)
	if contract == "" || a.TokenID == "" {
		return
	}
	entry, ok := inv[contract]
	if !ok {
		entry = ContractInventory{Contract: contract, Schema: parseSchema(a.TokenStandard)}
	}
	if entry.Name == "" {
		entry.Name = a.CollectionName
	}
	switch schema := parseSchema(a.TokenStandard); {
	case schema == SchemaERC1155:
		entry.Schema = SchemaERC1155
	case entry.Schema.Ambiguous():
		entry.Schema = schema
	}

	record := model.NftAssetRecord{
		TokenID:    a.TokenID,
		Provenance: model.ProvenanceIndexerPrimary,
	}
	if len(a.Metadata) > 0 && string(a.Metadata) != "null" {
		record.RawMetadata = append([]byte(nil), a.Metadata...)
	}
	if q, ok := new(big.Int).SetString(strings.TrimSpace(a.Quantity), 10); ok {
		record.Quantity = q
	}
	entry.Assets = append(entry.Assets, record)
	inv[contract] = entry
}

func parseSchema(standard string) Schema {
	switch strings.ToUpper(strings.ReplaceAll(standard, "-", "")) {
	case "ERC1155":
		return SchemaERC1155
	case "ERC721":
		return SchemaERC721
	}
	return ""
}

func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(failure.KindOf(err))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
