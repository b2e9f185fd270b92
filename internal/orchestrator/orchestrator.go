package orchestrator

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/failure"
	"github.com/emperorhan/wallet-inventory/internal/metrics"
	"github.com/emperorhan/wallet-inventory/internal/provider/indexer"
	"github.com/emperorhan/wallet-inventory/internal/reconciler"
	"github.com/emperorhan/wallet-inventory/internal/tracing"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

type NativeReader interface {
	GetBalance(ctx context.Context, address string) (*big.Int, error)
}

// BalanceReader fetches balances of token types without a per-item inventory.
type BalanceReader interface {
	ERC20Balance(ctx context.Context, contract, owner string) (*big.Int, error)
	ERC875Balance(ctx context.Context, contract, owner string) ([]string, error)
	ERC721ForTicketsBalances(ctx context.Context, contract, owner string) ([]string, error)
}

type CursorScanner interface {
	Scan(ctx context.Context, wallet string) (model.ScanCursor, error)
}

type InventoryReconciler interface {
	Reconcile(ctx context.Context, in reconciler.Input) []model.Action
}

// TokenSource provides the wallet's current token records.
type TokenSource interface {
	TokensOnChain(chainID int64) []model.Token
}

// Sink receives every action batch. It is the only writer of the token store.
type Sink func(actions []model.Action)

type Deps struct {
	Native      NativeReader
	Balances    BalanceReader
	Indexer     indexer.Fetcher
	Scanner     CursorScanner
	Reconciler  InventoryReconciler
	Tokens      TokenSource
	Sink        Sink
	Concurrency int
}

// Orchestrator refreshes one wallet's balances on one chain.
type Orchestrator struct {
	wallet      string
	chain       model.Chain
	native      NativeReader
	balances    BalanceReader
	indexer     indexer.Fetcher
	scanner     CursorScanner
	reconciler  InventoryReconciler
	tokens      TokenSource
	sink        Sink
	concurrency int
	guard       Guard
	logger      *slog.Logger
}

func New(wallet string, chain model.Chain, deps Deps, logger *slog.Logger) *Orchestrator {
	if deps.Concurrency <= 0 {
		deps.Concurrency = defaultConcurrency
	}
	wallet = model.NormalizeAddress(wallet)
	return &Orchestrator{
		wallet:      wallet,
		chain:       chain,
		native:      deps.Native,
		balances:    deps.Balances,
		indexer:     deps.Indexer,
		scanner:     deps.Scanner,
		reconciler:  deps.Reconciler,
		tokens:      deps.Tokens,
		sink:        deps.Sink,
		concurrency: deps.Concurrency,
		logger:      logger.With("component", "orchestrator", "wallet", wallet, "chain", chain.String()),
	}
}

func (o *Orchestrator) Chain() model.Chain { return o.chain }

// Close retires in-flight refreshes; their results are dropped.
func (o *Orchestrator) Close() {
	o.guard.Invalidate()
}

// plan is the partition of a refresh.
type plan struct {
	native    bool
	simple    []model.Token
	inventory bool
}

func (o *Orchestrator) plan(policy model.RefreshPolicy, tokens []model.Token) plan {
	var p plan
	p.native = policy.Includes(o.chain.NativeIdentity(), model.TokenTypeNative)
	p.inventory = policy.WalletWide()

	stored := make(map[model.TokenIdentity]bool, len(tokens))
	for _, t := range tokens {
		stored[t.Identity] = true
		if !policy.Includes(t.Identity, t.Type) {
			continue
		}
		switch t.Type {
		case model.TokenTypeERC20, model.TokenTypeERC875, model.TokenTypeERC721ForTickets:
			p.simple = append(p.simple, t)
		case model.TokenTypeERC721, model.TokenTypeERC1155:
			p.inventory = true
		}
	}
	// Requested identities the store does not know yet can only be found
	// through the inventory path.
	for _, id := range policy.Tokens {
		if id.ChainID == o.chain.ID && !stored[id] && id != o.chain.NativeIdentity() {
			p.inventory = true
		}
	}
	return p
}

// Refresh runs every fetch the policy needs. Failures of individual fetches
// are logged and skipped; the returned error is only the context's.
func (o *Orchestrator) Refresh(ctx context.Context, policy model.RefreshPolicy) (err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "orchestrator", "orchestrator.Refresh", o.wallet, o.chain.ID)
	defer func() {
		tracing.End(span, err)
		metrics.RefreshLatency.WithLabelValues(o.chain.String()).Observe(time.Since(start).Seconds())
	}()
	metrics.RefreshesTotal.WithLabelValues(o.chain.String(), policy.String()).Inc()

	policy = normalizePolicy(policy)
	ticket := o.guard.Begin()
	tokens := o.tokens.TokensOnChain(o.chain.ID)
	p := o.plan(policy, tokens)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	if p.native {
		g.Go(func() error {
			o.refreshNative(gctx, ticket, tokens)
			return nil
		})
	}
	for _, t := range p.simple {
		g.Go(func() error {
			o.refreshSimple(gctx, ticket, t)
			return nil
		})
	}
	if p.inventory {
		g.Go(func() error {
			o.refreshInventory(gctx, ticket, policy, tokens)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (o *Orchestrator) deliver(ticket Ticket, actions []model.Action) {
	if len(actions) == 0 {
		return
	}
	if !ticket.Do(func() { o.sink(actions) }) {
		metrics.StaleResultsDropped.WithLabelValues(o.chain.String()).Inc()
		o.logger.Debug("stale results dropped", "actions", len(actions))
	}
}

func (o *Orchestrator) fetchFailed(t model.TokenType, contract string, err error) {
	metrics.FetchFailures.WithLabelValues(o.chain.String(), string(t), string(failure.KindOf(err))).Inc()
	o.logger.Warn("balance fetch failed", "contract", contract, "token_type", string(t), "error", err)
}

func (o *Orchestrator) refreshNative(ctx context.Context, ticket Ticket, tokens []model.Token) {
	id := o.chain.NativeIdentity()
	amount, err := o.native.GetBalance(ctx, o.wallet)
	if err != nil {
		o.fetchFailed(model.TokenTypeNative, id.Contract, err)
		return
	}
	balance := model.FungibleBalance(amount)
	for _, t := range tokens {
		if t.Identity == id {
			o.deliver(ticket, []model.Action{model.UpdateBalance(id, balance)})
			return
		}
	}
	native := model.Token{
		Identity: id,
		Name:     o.chain.NativeSymbol,
		Symbol:   o.chain.NativeSymbol,
		Decimals: o.chain.NativeDecimals,
		Type:     model.TokenTypeNative,
		Balance:  balance,
	}
	o.deliver(ticket, []model.Action{model.AddToken(native, false)})
}

func (o *Orchestrator) refreshSimple(ctx context.Context, ticket Ticket, t model.Token) {
	balance, err := o.fetchSimpleBalance(ctx, t)
	if err != nil {
		o.fetchFailed(t.Type, t.Identity.Contract, err)
		return
	}
	o.deliver(ticket, []model.Action{model.UpdateBalance(t.Identity, balance)})
}

func (o *Orchestrator) fetchSimpleBalance(ctx context.Context, t model.Token) (model.Balance, error) {
	contract := t.Identity.Contract
	switch t.Type {
	case model.TokenTypeERC875:
		values, err := o.balances.ERC875Balance(ctx, contract, o.wallet)
		if err != nil {
			return model.Balance{}, err
		}
		return model.ERC875Balance(values), nil
	case model.TokenTypeERC721ForTickets:
		values, err := o.balances.ERC721ForTicketsBalances(ctx, contract, o.wallet)
		if err != nil {
			return model.Balance{}, err
		}
		return model.ERC721ForTicketsBalance(values), nil
	default:
		amount, err := o.balances.ERC20Balance(ctx, contract, o.wallet)
		if err != nil {
			return model.Balance{}, err
		}
		return model.FungibleBalance(amount), nil
	}
}

// refreshInventory runs the wallet-wide indexer call and the scan, then
// reconciles. Its actions are emitted as one batch.
func (o *Orchestrator) refreshInventory(ctx context.Context, ticket Ticket, policy model.RefreshPolicy, tokens []model.Token) {
	var (
		inv    indexer.Inventory
		cursor *model.ScanCursor
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fetched, err := o.indexer.FetchInventory(gctx, o.wallet, o.chain.ID)
		if err != nil {
			o.logger.Warn("indexer fetch failed, reconciling without it", "error", err)
			return nil
		}
		inv = fetched
		return nil
	})
	g.Go(func() error {
		scanned, err := o.scanner.Scan(gctx, o.wallet)
		if err != nil {
			o.logger.Warn("transfer scan failed, skipping erc1155 fallback", "error", err)
			return nil
		}
		cursor = &scanned
		return nil
	})
	_ = g.Wait()
	if ctx.Err() != nil {
		return
	}

	actions := o.reconciler.Reconcile(ctx, reconciler.Input{
		Wallet:    o.wallet,
		Inventory: inv,
		Known:     tokens,
		Cursor:    cursor,
	})
	if !policy.WalletWide() {
		actions = filterActions(actions, policy)
	}
	actions = append(actions, o.followUps(ctx, actions)...)
	o.deliver(ticket, actions)
}

// followUps fetches the standalone balance of newly added tokens that asked
// for it and whose type has one.
func (o *Orchestrator) followUps(ctx context.Context, actions []model.Action) []model.Action {
	var out []model.Action
	for _, a := range actions {
		if a.Kind != model.ActionAddToken || !a.ShouldRefreshBalanceImmediately {
			continue
		}
		switch a.Token.Type {
		case model.TokenTypeERC20, model.TokenTypeERC875, model.TokenTypeERC721ForTickets:
		default:
			continue
		}
		balance, err := o.fetchSimpleBalance(ctx, a.Token)
		if err != nil {
			o.fetchFailed(a.Token.Type, a.Token.Identity.Contract, err)
			continue
		}
		out = append(out, model.UpdateBalance(a.Token.Identity, balance))
	}
	return out
}

func normalizePolicy(policy model.RefreshPolicy) model.RefreshPolicy {
	ids := make([]model.TokenIdentity, len(policy.Tokens))
	for i, id := range policy.Tokens {
		ids[i] = model.NewTokenIdentity(id.Contract, id.ChainID)
	}
	policy.Tokens = ids
	return policy
}

func filterActions(actions []model.Action, policy model.RefreshPolicy) []model.Action {
	wanted := make(map[model.TokenIdentity]struct{}, len(policy.Tokens))
	for _, id := range policy.Tokens {
		wanted[id] = struct{}{}
	}
	out := actions[:0:0]
	for _, a := range actions {
		if _, ok := wanted[a.Target()]; ok {
			out = append(out, a)
		}
	}
	return out
}
