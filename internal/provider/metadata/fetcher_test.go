package metadata

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/emperorhan/wallet-inventory/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeURIReader struct {
	uri string
	err error
	ids []*big.Int
}

func (f *fakeURIReader) ERC721TokenURI(_ context.Context, _ string, id *big.Int) (string, error) {
	f.ids = append(f.ids, id)
	return f.uri, f.err
}

func (f *fakeURIReader) ERC1155URI(_ context.Context, _ string, id *big.Int) (string, error) {
	f.ids = append(f.ids, id)
	return f.uri, f.err
}

func TestResolveURI(t *testing.T) {
	id := big.NewInt(255)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"http untouched", "https://example.com/1.json", "https://example.com/1.json"},
		{"ipfs", "ipfs://Qm123/1.json", "https://gw.local/ipfs/Qm123/1.json"},
		{"ipfs with path prefix", "ipfs://ipfs/Qm123", "https://gw.local/ipfs/Qm123"},
		{"arweave", "ar://abc", "https://arweave.net/abc"},
		{"id placeholder", "https://example.com/{id}.json", "https://example.com/00000000000000000000000000000000000000000000000000000000000000ff.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveURI(tt.in, id, "https://gw.local/ipfs/"))
		})
	}
}

func TestFetcher_HTTPDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok/7":
			fmt.Fprint(w, `{"name":"Seven"}`)
		case "/bad/7":
			fmt.Fprint(w, `{"name":`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	reader := &fakeURIReader{uri: srv.URL + "/ok/7"}
	f := NewFetcher(reader, Config{}, slog.Default())

	doc, err := f.ERC721Metadata(context.Background(), "0xabc", "7")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Seven"}`, string(doc))
	require.Len(t, reader.ids, 1)
	assert.Equal(t, int64(7), reader.ids[0].Int64())

	reader.uri = srv.URL + "/bad/7"
	_, err = f.ERC721Metadata(context.Background(), "0xabc", "7")
	assert.Equal(t, failure.KindDecode, failure.KindOf(err))

	reader.uri = srv.URL + "/missing"
	_, err = f.ERC1155Metadata(context.Background(), "0xabc", "7")
	assert.Equal(t, failure.KindNotFound, failure.KindOf(err))
}

func TestFetcher_DataURIs(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(`{"name":"inline"}`))
	reader := &fakeURIReader{uri: "data:application/json;base64," + encoded}
	f := NewFetcher(reader, Config{}, slog.Default())

	doc, err := f.ERC721Metadata(context.Background(), "0xabc", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"inline"}`, string(doc))

	reader.uri = `data:application/json;utf8,{"name":"plain"}`
	doc, err = f.ERC721Metadata(context.Background(), "0xabc", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"plain"}`, string(doc))

	reader.uri = "data:application/json;base64,!!!"
	_, err = f.ERC721Metadata(context.Background(), "0xabc", "1")
	assert.Equal(t, failure.KindDecode, failure.KindOf(err))
}

func TestFetcher_Failures(t *testing.T) {
	f := NewFetcher(&fakeURIReader{}, Config{}, slog.Default())
	_, err := f.ERC721Metadata(context.Background(), "0xabc", "1")
	assert.Equal(t, failure.KindNotFound, failure.KindOf(err), "empty uri")

	_, err = f.ERC721Metadata(context.Background(), "0xabc", "not-a-number")
	assert.Equal(t, failure.KindDecode, failure.KindOf(err))

	callErr := failure.Network(errors.New("rpc down"))
	f = NewFetcher(&fakeURIReader{err: callErr}, Config{}, slog.Default())
	_, err = f.ERC1155Metadata(context.Background(), "0xabc", "1")
	assert.ErrorIs(t, err, callErr)

	f = NewFetcher(&fakeURIReader{uri: "ftp://example.com/1"}, Config{}, slog.Default())
	_, err = f.ERC721Metadata(context.Background(), "0xabc", "1")
	assert.Equal(t, failure.KindDecode, failure.KindOf(err))
}
