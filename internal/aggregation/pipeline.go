package aggregation

import (
	"context"
	"log/slog"

	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/pubsub"
	"github.com/emperorhan/wallet-inventory/internal/tokenstore"
)

type Sources struct {
	Tickers   TickerSource
	Overrides OverrideSource
	Activity  ActivitySource
}

// Pipeline turns one wallet's token store plus the external streams into
// view-model streams.
type Pipeline struct {
	store     *tokenstore.Store
	tickers   TickerSource
	overrides OverrideSource
	activity  ActivitySource
	logger    *slog.Logger
}

func NewPipeline(store *tokenstore.Store, sources Sources, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		tickers:   sources.Tickers,
		overrides: sources.Overrides,
		activity:  sources.Activity,
		logger:    logger.With("component", "aggregation", "wallet", store.Wallet()),
	}
}

func (p *Pipeline) build(t model.Token) TokenViewModel {
	var ticker *Ticker
	if p.tickers != nil {
		if v, ok := p.tickers.Ticker(t.Identity); ok {
			ticker = &v
		}
	}
	var override *Override
	if p.overrides != nil {
		if v, ok := p.overrides.Override(t.Identity); ok {
			override = &v
		}
	}
	return Build(t, ticker, override)
}

// ViewModel builds the current view model of one token.
func (p *Pipeline) ViewModel(id model.TokenIdentity) (TokenViewModel, bool) {
	t, ok := p.store.Token(id)
	if !ok {
		return TokenViewModel{}, false
	}
	return p.build(t), true
}

// Collection builds view models of every token in store order.
func (p *Pipeline) Collection() []TokenViewModel {
	tokens := p.store.Tokens()
	out := make([]TokenViewModel, len(tokens))
	for i, t := range tokens {
		out[i] = p.build(t)
	}
	return out
}

// signals fans the four change sources into one stream of affected ids.
type signals struct {
	store     <-chan tokenstore.ChangeSet
	tickers   <-chan []model.TokenIdentity
	overrides <-chan []model.TokenIdentity
	activity  <-chan []model.TokenIdentity
}

func (p *Pipeline) subscribeAll(ctx context.Context) signals {
	s := signals{store: p.store.Subscribe(ctx)}
	if p.tickers != nil {
		s.tickers = p.tickers.Changes(ctx)
	}
	if p.overrides != nil {
		s.overrides = p.overrides.Changes(ctx)
	}
	if p.activity != nil {
		s.activity = p.activity.Changes(ctx)
	}
	return s
}

// next blocks until a source fires and returns the ids it reported. ok is
// false when ctx is done or the store closed.
func (s *signals) next(ctx context.Context) (ids []model.TokenIdentity, ok bool) {
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case cs, open := <-s.store:
			if !open {
				return nil, false
			}
			return cs.Changed, true
		case v, open := <-s.tickers:
			if !open {
				s.tickers = nil
				continue
			}
			return v, true
		case v, open := <-s.overrides:
			if !open {
				s.overrides = nil
				continue
			}
			return v, true
		case v, open := <-s.activity:
			if !open {
				s.activity = nil
				continue
			}
			return v, true
		}
	}
}

func containsID(ids []model.TokenIdentity, id model.TokenIdentity) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// SubscribeToken streams the view model of id, rebuilt whenever the store,
// a ticker, an override or activity reports that id. The current view model
// is delivered first when the token exists.
func (p *Pipeline) SubscribeToken(ctx context.Context, id model.TokenIdentity) <-chan TokenViewModel {
	id = model.NewTokenIdentity(id.Contract, id.ChainID)
	feed := pubsub.NewFeed[TokenViewModel]()
	sig := p.subscribeAll(ctx)
	if vm, ok := p.ViewModel(id); ok {
		feed.Publish(vm)
	}
	out := feed.Subscribe(ctx)

	go func() {
		defer feed.Close()
		for {
			ids, ok := sig.next(ctx)
			if !ok {
				return
			}
			if !containsID(ids, id) {
				continue
			}
			if vm, ok := p.ViewModel(id); ok {
				feed.Publish(vm)
			}
		}
	}()
	return out
}

// SubscribeCollection streams the whole view-model list. It recomputes only
// when a signal names a token of this wallet and suppresses lists whose
// content hash equals the previous emission.
func (p *Pipeline) SubscribeCollection(ctx context.Context) <-chan []TokenViewModel {
	feed := pubsub.NewFeed[[]TokenViewModel]()
	sig := p.subscribeAll(ctx)

	current := p.Collection()
	lastHash := ContentHash(current)
	feed.Publish(current)
	out := feed.Subscribe(ctx)

	go func() {
		defer feed.Close()
		for {
			ids, ok := sig.next(ctx)
			if !ok {
				return
			}
			if len(ids) == 0 || !p.affectsWallet(ids) {
				continue
			}
			vms := p.Collection()
			hash := ContentHash(vms)
			if hash == lastHash {
				continue
			}
			lastHash = hash
			feed.Publish(vms)
		}
	}()
	return out
}

func (p *Pipeline) affectsWallet(ids []model.TokenIdentity) bool {
	for _, id := range ids {
		if _, ok := p.store.Token(id); ok {
			return true
		}
	}
	return false
}
