package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/emperorhan/wallet-inventory/internal/failure"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func (c *Client) GetBlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "eth_blockNumber", []interface{}{})
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}

	var hexNum string
	if err := json.Unmarshal(result, &hexNum); err != nil {
		return 0, failure.Decode(fmt.Errorf("unmarshal block number: %w", err))
	}

	blockNumber, err := ParseHexUint64(hexNum)
	if err != nil {
		return 0, failure.Decode(fmt.Errorf("parse block number: %w", err))
	}
	return blockNumber, nil
}

func (c *Client) GetLogs(ctx context.Context, filter LogFilter) ([]*Log, error) {
	result, err := c.call(ctx, "eth_getLogs", []interface{}{filter})
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs: %w", err)
	}

	var logs []*Log
	if err := json.Unmarshal(result, &logs); err != nil {
		return nil, failure.Decode(fmt.Errorf("unmarshal logs: %w", err))
	}
	return logs, nil
}

// Call executes eth_call against the latest block and returns the raw return data.
func (c *Client) Call(ctx context.Context, msg CallMsg) ([]byte, error) {
	result, err := c.call(ctx, "eth_call", []interface{}{msg, "latest"})
	if err != nil {
		return nil, fmt.Errorf("eth_call(%s): %w", msg.To, err)
	}
	return decodeHexBytes(result)
}

// CallResult is one entry of a BatchCall; Err is set when that call failed
// while the batch itself succeeded.
type CallResult struct {
	Data []byte
	Err  error
}

// BatchCall executes several eth_call requests in one round trip. Results
// are returned in msgs order.
func (c *Client) BatchCall(ctx context.Context, msgs []CallMsg) ([]CallResult, error) {
	requests := make([]Request, len(msgs))
	for i, msg := range msgs {
		requests[i] = c.newRequest("eth_call", []interface{}{msg, "latest"})
	}
	responses, err := c.callBatch(ctx, requests)
	if err != nil {
		return nil, fmt.Errorf("eth_call batch: %w", err)
	}

	out := make([]CallResult, len(responses))
	for i, resp := range responses {
		if resp.Error != nil {
			out[i].Err = classifyRPCError(resp.Error)
			continue
		}
		out[i].Data, out[i].Err = decodeHexBytes(resp.Result)
	}
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	result, err := c.call(ctx, "eth_getBalance", []interface{}{address, "latest"})
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance(%s): %w", address, err)
	}

	var hexBal string
	if err := json.Unmarshal(result, &hexBal); err != nil {
		return nil, failure.Decode(fmt.Errorf("unmarshal balance: %w", err))
	}
	bal, err := hexutil.DecodeBig(normalizeQuantity(hexBal))
	if err != nil {
		return nil, failure.Decode(fmt.Errorf("parse hex balance %q: %w", hexBal, err))
	}
	return bal, nil
}

func decodeHexBytes(result json.RawMessage) ([]byte, error) {
	var hexData string
	if err := json.Unmarshal(result, &hexData); err != nil {
		return nil, failure.Decode(fmt.Errorf("unmarshal call result: %w", err))
	}
	if hexData == "" || hexData == "0x" {
		return []byte{}, nil
	}
	data, err := hexutil.Decode(hexData)
	if err != nil {
		return nil, failure.Decode(fmt.Errorf("parse hex call result: %w", err))
	}
	return data, nil
}

// normalizeQuantity strips leading zeros some nodes emit, which hexutil rejects.
func normalizeQuantity(s string) string {
	trimmed := strings.TrimLeft(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"), "0")
	if trimmed == "" {
		return "0x0"
	}
	return "0x" + trimmed
}

// ParseHexUint64 parses a hex quantity such as a block number or log index.
func ParseHexUint64(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 16, 64)
}

// FormatBlock renders a block number as a JSON-RPC hex quantity.
func FormatBlock(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}
