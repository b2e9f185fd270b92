package metadata

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/chain/ratelimit"
	"github.com/emperorhan/wallet-inventory/internal/failure"
)

const (
	DefaultIPFSGateway = "https://ipfs.io/ipfs/"
	arweaveGateway     = "https://arweave.net/"
	maxDocumentBytes   = 2 << 20
)

// URIReader resolves the metadata URI of a token on chain.
type URIReader interface {
	ERC721TokenURI(ctx context.Context, contract string, id *big.Int) (string, error)
	ERC1155URI(ctx context.Context, contract string, id *big.Int) (string, error)
}

type Config struct {
	IPFSGateway string
	Timeout     time.Duration
	RPS         float64
	Burst       int
}

// Fetcher loads token metadata documents referenced by on-chain URIs.
type Fetcher struct {
	reader     URIReader
	httpClient *http.Client
	gateway    string
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
}

func NewFetcher(reader URIReader, cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.IPFSGateway == "" {
		cfg.IPFSGateway = DefaultIPFSGateway
	}
	if !strings.HasSuffix(cfg.IPFSGateway, "/") {
		cfg.IPFSGateway += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Fetcher{
		reader:     reader,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		gateway:    cfg.IPFSGateway,
		limiter:    ratelimit.NewLimiter(cfg.RPS, cfg.Burst, "metadata"),
		logger:     logger.With("component", "metadata_fetcher"),
	}
}

func (f *Fetcher) ERC721Metadata(ctx context.Context, contract, tokenID string) (json.RawMessage, error) {
	id, err := parseTokenID(tokenID)
	if err != nil {
		return nil, err
	}
	uri, err := f.reader.ERC721TokenURI(ctx, contract, id)
	if err != nil {
		return nil, err
	}
	return f.load(ctx, uri, id)
}

func (f *Fetcher) ERC1155Metadata(ctx context.Context, contract, tokenID string) (json.RawMessage, error) {
	id, err := parseTokenID(tokenID)
	if err != nil {
		return nil, err
	}
	uri, err := f.reader.ERC1155URI(ctx, contract, id)
	if err != nil {
		return nil, err
	}
	return f.load(ctx, uri, id)
}

func (f *Fetcher) load(ctx context.Context, uri string, id *big.Int) (json.RawMessage, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, failure.NotFound(fmt.Errorf("token %s has no metadata uri", id))
	}

	if strings.HasPrefix(uri, "data:") {
		doc, err := decodeDataURI(uri)
		if err != nil {
			return nil, err
		}
		return validJSON(doc)
	}

	target := ResolveURI(uri, id, f.gateway)
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, failure.Decode(fmt.Errorf("unsupported metadata uri %q", uri))
	}
	return f.get(ctx, target)
}

func (f *Fetcher) get(ctx context.Context, target string) (json.RawMessage, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, failure.Network(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, failure.NotFound(fmt.Errorf("metadata http status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, failure.RateLimited(fmt.Errorf("metadata http status %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, failure.Network(fmt.Errorf("metadata http status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, failure.Network(fmt.Errorf("read metadata: %w", err))
	}
	return validJSON(body)
}

// ResolveURI substitutes the ERC-1155 {id} placeholder and rewrites ipfs://
// and ar:// URIs onto HTTP gateways.
func ResolveURI(uri string, id *big.Int, ipfsGateway string) string {
	if id != nil && strings.Contains(uri, "{id}") {
		uri = strings.ReplaceAll(uri, "{id}", fmt.Sprintf("%064x", id))
	}
	switch {
	case strings.HasPrefix(uri, "ipfs://"):
		path := strings.TrimPrefix(uri, "ipfs://")
		path = strings.TrimPrefix(path, "ipfs/")
		return ipfsGateway + path
	case strings.HasPrefix(uri, "ar://"):
		return arweaveGateway + strings.TrimPrefix(uri, "ar://")
	}
	return uri
}

func decodeDataURI(uri string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, failure.Decode(fmt.Errorf("malformed data uri"))
	}
	if strings.HasSuffix(header, ";base64") {
		doc, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			doc, err = base64.RawStdEncoding.DecodeString(payload)
		}
		if err != nil {
			return nil, failure.Decode(fmt.Errorf("decode base64 data uri: %w", err))
		}
		return doc, nil
	}
	doc, err := url.PathUnescape(payload)
	if err != nil {
		return nil, failure.Decode(fmt.Errorf("unescape data uri: %w", err))
	}
	return []byte(doc), nil
}

func validJSON(doc []byte) (json.RawMessage, error) {
	if !json.Valid(doc) {
		return nil, failure.Decode(fmt.Errorf("malformed metadata json"))
	}
	return json.RawMessage(doc), nil
}

func parseTokenID(tokenID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(tokenID), 10)
	if !ok || id.Sign() < 0 {
		return nil, failure.Decode(fmt.Errorf("token id %q is not a decimal integer", tokenID))
	}
	return id, nil
}
