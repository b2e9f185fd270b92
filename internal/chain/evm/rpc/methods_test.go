package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rpcResult(t *testing.T, r *http.Request, result string) *http.Response {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var req Request
	require.NoError(t, json.Unmarshal(body, &req))
	raw, err := json.Marshal(Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(result)})
	require.NoError(t, err)
	return jsonHTTPResponse(http.StatusOK, string(raw))
}

func TestGetBlockNumber(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return rpcResult(t, r, `"0x1a2b"`), nil
	})
	n, err := client.GetBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1a2b), n)
}

func TestGetLogs_SendsFilter(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req struct {
			ID     int         `json:"id"`
			Method string      `json:"method"`
			Params []LogFilter `json:"params"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "eth_getLogs", req.Method)
		require.Len(t, req.Params, 1)
		assert.Equal(t, "0x10", req.Params[0].FromBlock)
		assert.Equal(t, "0x11", req.Params[0].ToBlock)
		require.Len(t, req.Params[0].Topics, 2)
		assert.Nil(t, req.Params[0].Topics[0])

		logs := `[{"address":"0xabc","topics":["0xt0"],"data":"0x","blockNumber":"0x10","transactionHash":"0xtx","transactionIndex":"0x2","logIndex":"0x5"}]`
		raw, err := json.Marshal(Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(logs)})
		require.NoError(t, err)
		return jsonHTTPResponse(http.StatusOK, string(raw)), nil
	})

	logs, err := client.GetLogs(context.Background(), LogFilter{
		FromBlock: "0x10",
		ToBlock:   "0x11",
		Topics:    []interface{}{nil, "0xtopic"},
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "0x5", logs[0].LogIndex)
	assert.Equal(t, "0x2", logs[0].TransactionIndex)
}

func TestCall_DecodesHexResult(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return rpcResult(t, r, `"0x0102ff"`), nil
	})
	data, err := client.Call(context.Background(), CallMsg{To: "0xabc", Data: "0x70a08231"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0xff}, data)
}

func TestCall_EmptyResult(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return rpcResult(t, r, `"0x"`), nil
	})
	data, err := client.Call(context.Background(), CallMsg{To: "0xabc", Data: "0x"})
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestBatchCall_PerItemErrors(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var reqs []Request
		require.NoError(t, json.Unmarshal(body, &reqs))
		require.Len(t, reqs, 2)
		resps := []Response{
			{JSONRPC: "2.0", ID: reqs[0].ID, Result: json.RawMessage(`"0x01"`)},
			{JSONRPC: "2.0", ID: reqs[1].ID, Error: &RPCError{Code: 3, Message: "execution reverted"}},
		}
		raw, err := json.Marshal(resps)
		require.NoError(t, err)
		return jsonHTTPResponse(http.StatusOK, string(raw)), nil
	})

	results, err := client.BatchCall(context.Background(), []CallMsg{{To: "0xa"}, {To: "0xb"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, []byte{0x01}, results[0].Data)
	assert.Error(t, results[1].Err)
}

func TestGetBalance(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return rpcResult(t, r, `"0x0de0b6b3a7640000"`), nil
	})
	bal, err := client.GetBalance(context.Background(), "0xwallet")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", bal.String())
}

func TestParseHexUint64(t *testing.T) {
	n, err := ParseHexUint64("0xff")
	require.NoError(t, err)
	assert.Equal(t, uint64(255), n)

	n, err = ParseHexUint64("")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	_, err = ParseHexUint64("0xzz")
	assert.Error(t, err)

	assert.Equal(t, "0x1004", FormatBlock(4100))
}
