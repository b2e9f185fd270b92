package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/chain/ratelimit"
	"github.com/emperorhan/wallet-inventory/internal/failure"
	"github.com/emperorhan/wallet-inventory/internal/retry"
)

// RPCClient is the subset of the EVM JSON-RPC surface the balance pipeline uses.
type RPCClient interface {
	GetBlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, filter LogFilter) ([]*Log, error)
	Call(ctx context.Context, msg CallMsg) ([]byte, error)
	GetBalance(ctx context.Context, address string) (*big.Int, error)
}

type Client struct {
	httpClient *http.Client
	rpcURL     string
	chain      string
	limiter    *ratelimit.Limiter
	retry      retry.Policy
	requestID  atomic.Int64
	logger     *slog.Logger
}

var _ RPCClient = (*Client)(nil)

// NewClient creates a client for one chain's node. limiter may be nil.
func NewClient(rpcURL, chain string, limiter *ratelimit.Limiter, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		rpcURL:     rpcURL,
		chain:      chain,
		limiter:    limiter,
		logger:     logger.With("component", "rpc", "chain", chain),
	}
}

func (c *Client) newRequest(method string, params []interface{}) Request {
	if params == nil {
		params = []interface{}{}
	}
	return Request{
		JSONRPC: "2.0",
		ID:      int(c.requestID.Add(1)),
		Method:  method,
		Params:  params,
	}
}

// WithRetry makes every call retry transient failures under p.
func (c *Client) WithRetry(p retry.Policy) *Client {
	c.retry = p
	return c
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (result json.RawMessage, err error) {
	defer func() { ratelimit.RecordRPCCall(c.chain, method, err) }()

	req := c.newRequest(method, params)
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = c.callOnce(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) callOnce(ctx context.Context, req Request) (json.RawMessage, error) {
	respBody, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, failure.Decode(fmt.Errorf("unmarshal response: %w", err))
	}

	if rpcResp.Error != nil {
		return nil, classifyRPCError(rpcResp.Error)
	}

	return rpcResp.Result, nil
}

// callBatch sends requests as one JSON-RPC batch and returns responses in
// request order, matched by id.
func (c *Client) callBatch(ctx context.Context, requests []Request) (responses []Response, err error) {
	if len(requests) == 0 {
		return []Response{}, nil
	}
	defer func() { ratelimit.RecordRPCCall(c.chain, requests[0].Method+"_batch", err) }()

	var respBody []byte
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		var postErr error
		respBody, postErr = c.post(ctx, requests)
		return postErr
	})
	if err != nil {
		return nil, err
	}

	var raw []Response
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, failure.Decode(fmt.Errorf("unmarshal batch response: %w", err))
	}

	byID := make(map[int]Response, len(raw))
	for _, r := range raw {
		byID[r.ID] = r
	}
	ordered := make([]Response, len(requests))
	for i, req := range requests {
		r, ok := byID[req.ID]
		if !ok {
			return nil, failure.Decode(fmt.Errorf("batch response missing id %d", req.ID))
		}
		ordered[i] = r
	}
	return ordered, nil
}

func (c *Client) post(ctx context.Context, payload interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, failure.Network(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.Network(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, failure.RateLimited(fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody)))
	case resp.StatusCode != http.StatusOK:
		return nil, failure.Network(fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody)))
	}
	return respBody, nil
}

func classifyRPCError(e *RPCError) error {
	lower := strings.ToLower(e.Message)
	switch {
	case e.Code == -32005 || strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many"):
		return failure.RateLimited(e)
	case strings.Contains(lower, "block range") || strings.Contains(lower, "query returned more than"):
		return failure.Network(e)
	}
	return e
}
