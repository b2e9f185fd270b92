// Package tokenstore holds one wallet's token records. Every mutation goes
// through Apply.
package tokenstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/pubsub"
)

// ChangeSet lists the identities an Apply call actually changed.
type ChangeSet struct {
	Changed []model.TokenIdentity
}

func (c ChangeSet) Empty() bool { return len(c.Changed) == 0 }

// Contains reports whether id is part of the change set.
func (c ChangeSet) Contains(id model.TokenIdentity) bool {
	for _, changed := range c.Changed {
		if changed == id {
			return true
		}
	}
	return false
}

func mergeChangeSets(a, b ChangeSet) ChangeSet {
	seen := make(map[model.TokenIdentity]struct{}, len(a.Changed)+len(b.Changed))
	out := ChangeSet{Changed: make([]model.TokenIdentity, 0, len(a.Changed)+len(b.Changed))}
	for _, id := range append(append([]model.TokenIdentity(nil), a.Changed...), b.Changed...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out.Changed = append(out.Changed, id)
	}
	return out
}

// Store is the token store of a single wallet.
type Store struct {
	wallet string

	mu     sync.RWMutex
	tokens map[model.TokenIdentity]model.Token

	changes *pubsub.Feed[ChangeSet]
	nowFn   func() time.Time
	logger  *slog.Logger
}

func New(wallet string, logger *slog.Logger) *Store {
	wallet = model.NormalizeAddress(wallet)
	return &Store{
		wallet:  wallet,
		tokens:  make(map[model.TokenIdentity]model.Token),
		changes: pubsub.NewMergingFeed(mergeChangeSets),
		nowFn:   time.Now,
		logger:  logger.With("component", "tokenstore", "wallet", wallet),
	}
}

func (s *Store) Wallet() string { return s.wallet }

// Apply executes actions in order and publishes the identities whose record
// changed. An AddToken for an existing identity updates its balance, type
// and name. Updates for unknown identities are ignored.
func (s *Store) Apply(actions []model.Action) ChangeSet {
	s.mu.Lock()
	now := s.nowFn()
	changed := make(map[model.TokenIdentity]struct{})
	for _, a := range actions {
		if s.applyLocked(a, now) {
			changed[a.Target()] = struct{}{}
		}
	}
	s.mu.Unlock()

	cs := ChangeSet{Changed: make([]model.TokenIdentity, 0, len(changed))}
	for id := range changed {
		cs.Changed = append(cs.Changed, id)
	}
	sort.Slice(cs.Changed, func(i, j int) bool { return lessIdentity(cs.Changed[i], cs.Changed[j]) })

	if !cs.Empty() {
		s.changes.Publish(cs)
	}
	return cs
}

func (s *Store) applyLocked(a model.Action, now time.Time) bool {
	switch a.Kind {
	case model.ActionAddToken:
		incoming := a.Token.Clone()
		incoming.Identity = model.NewTokenIdentity(incoming.Identity.Contract, incoming.Identity.ChainID)
		current, ok := s.tokens[incoming.Identity]
		if !ok {
			incoming.UpdatedAt = now
			s.tokens[incoming.Identity] = incoming
			return true
		}
		next := current.Clone()
		if incoming.Balance.Kind != model.BalanceNone {
			next.Balance = incoming.Balance
		}
		if incoming.Type != "" {
			next.Type = incoming.Type
		}
		if incoming.Name != "" {
			next.Name = incoming.Name
		}
		return s.replaceLocked(current, next, now)

	case model.ActionUpdateField:
		id := model.NewTokenIdentity(a.Identity.Contract, a.Identity.ChainID)
		current, ok := s.tokens[id]
		if !ok {
			s.logger.Debug("update for unknown token ignored", "token", id.Key(), "field", string(a.Field))
			return false
		}
		next := current.Clone()
		switch a.Field {
		case model.FieldBalance:
			next.Balance = a.Balance.Clone()
		case model.FieldType:
			next.Type = a.Type
		case model.FieldDisplayName:
			next.Name = a.DisplayName
		default:
			return false
		}
		return s.replaceLocked(current, next, now)
	}
	return false
}

func (s *Store) replaceLocked(current, next model.Token, now time.Time) bool {
	if current.Type == next.Type && current.Name == next.Name && current.Balance.Equal(next.Balance) {
		return false
	}
	next.UpdatedAt = now
	s.tokens[next.Identity] = next
	return true
}

// Token returns a snapshot of one record.
func (s *Store) Token(id model.TokenIdentity) (model.Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[model.NewTokenIdentity(id.Contract, id.ChainID)]
	if !ok {
		return model.Token{}, false
	}
	return t.Clone(), true
}

// Tokens returns snapshots of every record ordered by chain then contract.
func (s *Store) Tokens() []model.Token {
	s.mu.RLock()
	out := make([]model.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return lessIdentity(out[i].Identity, out[j].Identity) })
	return out
}

// TokensOnChain returns the records of one chain.
func (s *Store) TokensOnChain(chainID int64) []model.Token {
	var out []model.Token
	for _, t := range s.Tokens() {
		if t.Identity.ChainID == chainID {
			out = append(out, t)
		}
	}
	return out
}

// Subscribe delivers every non-empty change set applied after the call.
// Change sets a slow reader has not consumed yet are merged.
func (s *Store) Subscribe(ctx context.Context) <-chan ChangeSet {
	return s.changes.Subscribe(ctx)
}

// Close ends every subscription.
func (s *Store) Close() {
	s.changes.Close()
}

func lessIdentity(a, b model.TokenIdentity) bool {
	if a.ChainID != b.ChainID {
		return a.ChainID < b.ChainID
	}
	return a.Contract < b.Contract
}
