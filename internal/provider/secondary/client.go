package secondary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/chain/ratelimit"
	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/failure"
	"github.com/emperorhan/wallet-inventory/internal/metrics"
)

const (
	defaultChunkSize = 50
	maxBodyBytes     = 4 << 20
)

// Provider looks up per-token metadata records keyed by token-id.
type Provider interface {
	Lookup(ctx context.Context, chainID int64, contract string, tokenIDs []string) (map[string]json.RawMessage, error)
}

type Config struct {
	BaseURL   string
	APIKey    string
	ChunkSize int
	Timeout   time.Duration
	RPS       float64
	Burst     int
}

// Client is the HTTP client of the secondary metadata provider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	chunkSize  int
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
}

var _ Provider = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		chunkSize:  cfg.ChunkSize,
		limiter:    ratelimit.NewLimiter(cfg.RPS, cfg.Burst, "secondary"),
		logger:     logger.With("component", "secondary_client"),
	}
}

type lookupRequest struct {
	ChainID  int64    `json:"chain_id"`
	Contract string   `json:"contract"`
	TokenIDs []string `json:"token_ids"`
}

type lookupResponse struct {
	Tokens []struct {
		TokenID  string          `json:"token_id"`
		Metadata json.RawMessage `json:"metadata"`
	} `json:"tokens"`
}

// Lookup fetches records for tokenIDs in chunks. A failed chunk is logged
// and skipped; the records of every other chunk are still returned together
// with the joined chunk errors.
func (c *Client) Lookup(ctx context.Context, chainID int64, contract string, tokenIDs []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(tokenIDs))
	if len(tokenIDs) == 0 || c.baseURL == "" {
		return out, nil
	}
	contract = model.NormalizeAddress(contract)
	chainLabel := strconv.FormatInt(chainID, 10)

	var errs []error
	for start := 0; start < len(tokenIDs); start += c.chunkSize {
		end := min(start+c.chunkSize, len(tokenIDs))
		records, err := c.lookupChunk(ctx, chainID, contract, tokenIDs[start:end])
		metrics.SecondaryRequests.WithLabelValues(chainLabel, statusLabel(err)).Inc()
		if err != nil {
			if ctx.Err() != nil {
				return out, errors.Join(append(errs, err)...)
			}
			c.logger.Warn("secondary lookup chunk failed",
				"chain_id", chainID,
				"contract", contract,
				"token_ids", end-start,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		for id, raw := range records {
			out[id] = raw
		}
	}
	return out, errors.Join(errs...)
}

func (c *Client) lookupChunk(ctx context.Context, chainID int64, contract string, ids []string) (map[string]json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(lookupRequest{ChainID: chainID, Contract: contract, TokenIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("marshal lookup: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/metadata", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, failure.Network(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, failure.Network(fmt.Errorf("read response: %w", err))
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, failure.RateLimited(fmt.Errorf("secondary http status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return nil, failure.NotFound(fmt.Errorf("secondary http status %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, failure.Network(fmt.Errorf("secondary http status %d", resp.StatusCode))
	}

	var parsed lookupResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, failure.Decode(fmt.Errorf("unmarshal lookup response: %w", err))
	}

	records := make(map[string]json.RawMessage, len(parsed.Tokens))
	for _, t := range parsed.Tokens {
		if t.TokenID == "" || len(t.Metadata) == 0 || string(t.Metadata) == "null" {
			continue
		}
		records[t.TokenID] = append(json.RawMessage(nil), t.Metadata...)
	}
	return records, nil
}

func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(failure.KindOf(err))
}
