package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchInventoryFollowsPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/wallets/0xabc/nfts", r.URL.Path)
		assert.Equal(t, "137", r.URL.Query().Get("chain_id"))
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprint(w, `{"assets":[
				{"contract":"0xAAA","token_id":"1","token_standard":"erc721","collection_name":"Apes","metadata":{"name":"Ape #1"}},
				{"contract":"0xbbb","token_id":"7","token_standard":"erc1155","quantity":"3"}
			],"next":"page2"}`)
		case "page2":
			fmt.Fprint(w, `{"assets":[{"contract":"0xaaa","token_id":"2","token_standard":"ERC721","metadata":null}]}`)
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "secret"}, slog.Default())
	inv, err := c.FetchInventory(context.Background(), "0xABC", 137)
	require.NoError(t, err)

	require.Len(t, inv, 2)
	apes := inv["0xaaa"]
	assert.Equal(t, "Apes", apes.Name)
	assert.Equal(t, SchemaERC721, apes.Schema)
	require.Len(t, apes.Assets, 2)
	assert.Equal(t, model.ProvenanceIndexerPrimary, apes.Assets[0].Provenance)
	assert.JSONEq(t, `{"name":"Ape #1"}`, string(apes.Assets[0].RawMetadata))
	assert.Nil(t, apes.Assets[1].RawMetadata)

	semi := inv["0xbbb"]
	assert.Equal(t, SchemaERC1155, semi.Schema)
	assert.Equal(t, int64(3), semi.Assets[0].Quantity.Int64())
	assert.Equal(t, 3, inv.TokenIDCount())
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   failure.Kind
	}{
		{http.StatusTooManyRequests, failure.KindRateLimited},
		{http.StatusNotFound, failure.KindNotFound},
		{http.StatusServiceUnavailable, failure.KindNetwork},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewClient(Config{BaseURL: srv.URL}, slog.Default()).FetchInventory(context.Background(), "0xabc", 1)
			require.Error(t, err)
			assert.Equal(t, tt.want, failure.KindOf(err))
		})
	}
}

func TestClient_MalformedBodyIsDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"assets":[`)
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}, slog.Default()).FetchInventory(context.Background(), "0xabc", 1)
	require.Error(t, err)
	assert.Equal(t, failure.KindDecode, failure.KindOf(err))
}

func TestClient_BreakerOpensWithoutFurtherIO(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, slog.Default())
	for i := 0; i < 5; i++ {
		_, err := c.FetchInventory(context.Background(), "0xabc", 1)
		require.Error(t, err)
	}
	require.Equal(t, int32(5), hits.Load())

	_, err := c.FetchInventory(context.Background(), "0xabc", 1)
	require.Error(t, err)
	assert.Equal(t, failure.KindNetwork, failure.KindOf(err))
	assert.Equal(t, int32(5), hits.Load(), "open breaker must not reach the server")
}

func TestParseSchema(t *testing.T) {
	assert.Equal(t, SchemaERC721, parseSchema("erc-721"))
	assert.Equal(t, SchemaERC1155, parseSchema("ERC1155"))
	assert.True(t, parseSchema("cryptopunks").Ambiguous())
	assert.Equal(t, model.TokenTypeERC721, parseSchema("").TokenType())
}
