package reconciler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/failure"
	"github.com/emperorhan/wallet-inventory/internal/metrics"
	"github.com/emperorhan/wallet-inventory/internal/provider/indexer"
	"github.com/emperorhan/wallet-inventory/internal/provider/secondary"
	"github.com/emperorhan/wallet-inventory/internal/tracing"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

const (
	pathIndexer      = "indexer"
	pathFallback721  = "fallback_erc721"
	pathFallback1155 = "fallback_erc1155"
)

// TokenIDDiscoverer lists the ERC-721 token-ids a wallet owns in one contract.
type TokenIDDiscoverer interface {
	OwnedERC721TokenIDs(ctx context.Context, wallet, contract string) ([]string, error)
}

// MetadataFetcher loads the metadata document of a single token-id.
type MetadataFetcher interface {
	ERC721Metadata(ctx context.Context, contract, tokenID string) (json.RawMessage, error)
	ERC1155Metadata(ctx context.Context, contract, tokenID string) (json.RawMessage, error)
}

// ChainReader is the on-chain view surface the fallback paths use.
type ChainReader interface {
	ERC1155BalanceOfBatch(ctx context.Context, contract, owner string, ids []*big.Int) ([]*big.Int, error)
	Name(ctx context.Context, contract string) (string, error)
}

type Deps struct {
	Discoverer  TokenIDDiscoverer
	Metadata    MetadataFetcher
	Chain       ChainReader
	Secondary   secondary.Provider
	Concurrency int
}

// Input is one wallet's reconciliation request on the reconciler's chain.
// Inventory may be empty when the indexer failed. Cursor is nil when the
// scan did not succeed, which disables the ERC-1155 fallback.
type Input struct {
	Wallet    string
	Inventory indexer.Inventory
	Known     []model.Token
	Cursor    *model.ScanCursor
}

// Reconciler merges the indexer inventory with on-chain fallback discovery
// into token store actions for one chain.
type Reconciler struct {
	chain       model.Chain
	discoverer  TokenIDDiscoverer
	metadata    MetadataFetcher
	reader      ChainReader
	secondary   secondary.Provider
	concurrency int
	logger      *slog.Logger

	mu        sync.Mutex
	known1155 map[string]struct{}
}

func New(chain model.Chain, deps Deps, logger *slog.Logger) *Reconciler {
	if deps.Concurrency <= 0 {
		deps.Concurrency = defaultConcurrency
	}
	return &Reconciler{
		chain:       chain,
		discoverer:  deps.Discoverer,
		metadata:    deps.Metadata,
		reader:      deps.Chain,
		secondary:   deps.Secondary,
		concurrency: deps.Concurrency,
		logger:      logger.With("component", "reconciler", "chain", chain.String()),
		known1155:   make(map[string]struct{}),
	}
}

// contractResult is the reconciled state of one contract before it is
// turned into actions.
type contractResult struct {
	contract  string
	tokenType model.TokenType
	ambiguous bool
	name      string
	assets    []model.NftAssetRecord
	path      string
}

// Reconcile never fails: every provider or chain failure degrades to "no
// update" for the contract or token it concerns.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) []model.Action {
	wallet := model.NormalizeAddress(in.Wallet)
	ctx, span := tracing.Start(ctx, "reconciler", "reconciler.Reconcile", wallet, r.chain.ID)
	defer span.End()

	known := make(map[string]model.Token, len(in.Known))
	for _, t := range in.Known {
		if t.Identity.ChainID == r.chain.ID {
			known[t.Identity.Contract] = t
		}
	}
	r.rememberERC1155(in, known)

	var results []contractResult
	for contract, inv := range in.Inventory {
		if skipContract(known, contract) {
			continue
		}
		assets := make([]model.NftAssetRecord, len(inv.Assets))
		for i, a := range inv.Assets {
			assets[i] = a.Clone()
			assets[i].Provenance = model.ProvenanceIndexerPrimary
		}
		results = append(results, contractResult{
			contract:  contract,
			tokenType: inv.Schema.TokenType(),
			ambiguous: inv.Schema.Ambiguous(),
			name:      inv.Name,
			assets:    assets,
			path:      pathIndexer,
		})
	}

	fallback := r.runFallbacks(ctx, wallet, in, known)
	for _, res := range fallback {
		// The indexer is authoritative for every contract it reported.
		if in.Inventory.Has(res.contract) {
			continue
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].contract < results[j].contract })

	var actions []model.Action
	for _, res := range results {
		built := r.buildActions(res, known)
		metrics.ReconcilerActions.WithLabelValues(r.chain.String(), res.path).Add(float64(len(built)))
		actions = append(actions, built...)
	}
	r.logger.Debug("reconciled",
		"wallet", wallet,
		"indexer_contracts", len(in.Inventory),
		"fallback_contracts", len(fallback),
		"actions", len(actions),
	)
	return actions
}

// rememberERC1155 grows the cached set of contracts known to be ERC-1155.
func (r *Reconciler) rememberERC1155(in Input, known map[string]model.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for contract, t := range known {
		if t.Type == model.TokenTypeERC1155 {
			r.known1155[contract] = struct{}{}
		}
	}
	for contract, inv := range in.Inventory {
		if inv.Schema == indexer.SchemaERC1155 {
			r.known1155[contract] = struct{}{}
		}
	}
	if in.Cursor != nil {
		for _, contract := range in.Cursor.Contracts() {
			r.known1155[model.NormalizeAddress(contract)] = struct{}{}
		}
	}
}

func (r *Reconciler) isKnownERC1155(contract string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.known1155[contract]
	return ok
}

// skipContract reports contracts whose balances are owned by the simple
// fetchers and must never be touched here.
func skipContract(known map[string]model.Token, contract string) bool {
	t, ok := known[contract]
	return ok && (t.Type == model.TokenTypeERC875 || t.Type == model.TokenTypeERC721ForTickets)
}

func (r *Reconciler) runFallbacks(ctx context.Context, wallet string, in Input, known map[string]model.Token) []contractResult {
	type job struct {
		contract string
		erc1155  bool
	}
	var jobs []job
	for contract, t := range known {
		if t.Type != model.TokenTypeERC721 || in.Inventory.Has(contract) || r.isKnownERC1155(contract) {
			continue
		}
		jobs = append(jobs, job{contract: contract})
	}
	if in.Cursor != nil {
		for _, contract := range in.Cursor.Contracts() {
			contract = model.NormalizeAddress(contract)
			if in.Inventory.Has(contract) || skipContract(known, contract) {
				continue
			}
			jobs = append(jobs, job{contract: contract, erc1155: true})
		}
	}

	results := make([]*contractResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			if j.erc1155 {
				results[i] = r.fallbackERC1155(gctx, wallet, j.contract, *in.Cursor, known)
			} else {
				results[i] = r.fallbackERC721(gctx, wallet, j.contract, known)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]contractResult, 0, len(results))
	for _, res := range results {
		if res != nil {
			out = append(out, *res)
		}
	}
	return out
}

func (r *Reconciler) fallbackERC721(ctx context.Context, wallet, contract string, known map[string]model.Token) *contractResult {
	ids, err := r.discoverer.OwnedERC721TokenIDs(ctx, wallet, contract)
	if err != nil {
		r.logger.Warn("erc721 token-id discovery failed", "wallet", wallet, "contract", contract, "error", err)
		return nil
	}
	assets := r.collectMetadata(ctx, contract, ids, r.metadata.ERC721Metadata)
	return &contractResult{
		contract:  contract,
		tokenType: model.TokenTypeERC721,
		name:      r.discoverName(ctx, contract, known),
		assets:    assets,
		path:      pathFallback721,
	}
}

func (r *Reconciler) fallbackERC1155(ctx context.Context, wallet, contract string, cursor model.ScanCursor, known map[string]model.Token) *contractResult {
	var ids []string
	var numeric []*big.Int
	for tokenID, qty := range cursor.CumulativeBalances[contract] {
		if qty == nil || qty.Sign() <= 0 {
			continue
		}
		ids = append(ids, tokenID)
	}
	if len(ids) == 0 {
		if _, ok := known[contract]; !ok {
			return nil
		}
		// Everything was transferred out.
		return &contractResult{contract: contract, tokenType: model.TokenTypeERC1155, path: pathFallback1155}
	}
	sortTokenIDs(ids)

	assets := r.collectMetadata(ctx, contract, ids, r.metadata.ERC1155Metadata)
	for i := range assets {
		assets[i].Quantity = cursor.Quantity(contract, assets[i].TokenID)
		if id, ok := new(big.Int).SetString(assets[i].TokenID, 10); ok {
			numeric = append(numeric, id)
		}
	}

	balances := map[string]*big.Int{}
	onChain, err := r.reader.ERC1155BalanceOfBatch(ctx, contract, wallet, numeric)
	if err != nil {
		metrics.BatchBalanceFailures.WithLabelValues(r.chain.String()).Inc()
		r.logger.Warn("balanceOfBatch failed, keeping known quantities", "wallet", wallet, "contract", contract, "error", err)
	} else {
		for i, id := range numeric {
			balances[id.String()] = onChain[i]
		}
	}

	filled := FillERC1155Balances(assets, balances)
	held := filled[:0]
	for _, a := range filled {
		if a.Quantity != nil && a.Quantity.Sign() == 0 {
			continue
		}
		held = append(held, a)
	}
	return &contractResult{
		contract:  contract,
		tokenType: model.TokenTypeERC1155,
		name:      r.discoverName(ctx, contract, known),
		assets:    held,
		path:      pathFallback1155,
	}
}

// collectMetadata fetches per-token metadata concurrently and augments it
// with the secondary provider's records.
func (r *Reconciler) collectMetadata(
	ctx context.Context,
	contract string,
	ids []string,
	fetch func(ctx context.Context, contract, tokenID string) (json.RawMessage, error),
) []model.NftAssetRecord {
	onChain := make([]json.RawMessage, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			doc, err := fetch(gctx, contract, id)
			if err != nil {
				metrics.MetadataFailures.WithLabelValues(r.chain.String(), string(failure.KindOf(err))).Inc()
				r.logger.Debug("token metadata fetch failed", "contract", contract, "token_id", id, "error", err)
				return nil
			}
			onChain[i] = doc
			return nil
		})
	}
	_ = g.Wait()

	var extra map[string]json.RawMessage
	if r.secondary != nil && len(ids) > 0 {
		var err error
		extra, err = r.secondary.Lookup(ctx, r.chain.ID, contract, ids)
		if err != nil {
			r.logger.Warn("secondary provider lookup degraded", "contract", contract, "error", err)
		}
	}

	assets := make([]model.NftAssetRecord, len(ids))
	for i, id := range ids {
		asset := model.NftAssetRecord{TokenID: id, Provenance: model.ProvenanceOnChainFallback}
		sec, hasSec := extra[id]
		switch {
		case onChain[i] != nil:
			asset.RawMetadata = MergeMetadata(onChain[i], sec)
		case hasSec:
			asset.RawMetadata = append(json.RawMessage(nil), sec...)
			asset.Provenance = model.ProvenanceSecondaryProvider
		}
		assets[i] = asset
	}
	return assets
}

// discoverName reads the contract name on chain when the store has none.
func (r *Reconciler) discoverName(ctx context.Context, contract string, known map[string]model.Token) string {
	if t, ok := known[contract]; ok && t.Name != "" {
		return ""
	}
	if r.reader == nil {
		return ""
	}
	name, err := r.reader.Name(ctx, contract)
	if err != nil {
		return ""
	}
	return name
}

func (r *Reconciler) buildActions(res contractResult, known map[string]model.Token) []model.Action {
	id := model.TokenIdentity{Contract: res.contract, ChainID: r.chain.ID}
	balance := model.AssetBalance(res.assets)

	existing, ok := known[res.contract]
	if !ok {
		t := model.Token{
			Identity: id,
			Name:     res.name,
			Type:     res.tokenType,
			Balance:  balance,
		}
		return []model.Action{model.AddToken(t, res.ambiguous || res.tokenType.NeedsStandaloneBalanceFetch())}
	}

	actions := []model.Action{model.UpdateBalance(id, balance)}
	if !res.ambiguous && existing.Type != res.tokenType {
		actions = append(actions, model.UpdateType(id, res.tokenType))
	}
	if res.name != "" && res.name != existing.Name {
		actions = append(actions, model.UpdateDisplayName(id, res.name))
	}
	return actions
}

// FillERC1155Balances overwrites the quantity of every asset whose token-id
// parses as a base-10 integer present in balances. All other assets,
// including those with non-numeric ids, are returned unchanged.
func FillERC1155Balances(assets []model.NftAssetRecord, balances map[string]*big.Int) []model.NftAssetRecord {
	out := make([]model.NftAssetRecord, len(assets))
	for i, a := range assets {
		out[i] = a.Clone()
		id, ok := new(big.Int).SetString(a.TokenID, 10)
		if !ok {
			continue
		}
		if qty, ok := balances[id.String()]; ok && qty != nil {
			out[i].Quantity = new(big.Int).Set(qty)
		}
	}
	return out
}

// MergeMetadata returns primary with every top-level key of augment that
// primary lacks. Non-object documents are returned as primary.
func MergeMetadata(primary, augment json.RawMessage) json.RawMessage {
	if len(augment) == 0 {
		return primary
	}
	var base, extra map[string]json.RawMessage
	if json.Unmarshal(primary, &base) != nil || base == nil || json.Unmarshal(augment, &extra) != nil {
		return primary
	}
	added := false
	for k, v := range extra {
		if _, ok := base[k]; !ok {
			base[k] = v
			added = true
		}
	}
	if !added {
		return primary
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return primary
	}
	return merged
}

func sortTokenIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, aok := new(big.Int).SetString(ids[i], 10)
		b, bok := new(big.Int).SetString(ids[j], 10)
		if aok && bok {
			return a.Cmp(b) < 0
		}
		if aok != bok {
			return aok
		}
		return ids[i] < ids[j]
	})
}
