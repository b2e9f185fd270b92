package aggregation

import (
	"context"
	"sync"

	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/pubsub"
)

// TickerSource is the external price stream.
type TickerSource interface {
	Ticker(id model.TokenIdentity) (Ticker, bool)
	Changes(ctx context.Context) <-chan []model.TokenIdentity
}

// OverrideSource is the external script-override stream.
type OverrideSource interface {
	Override(id model.TokenIdentity) (Override, bool)
	Changes(ctx context.Context) <-chan []model.TokenIdentity
}

// ActivitySource signals activity-event changes for tokens.
type ActivitySource interface {
	Changes(ctx context.Context) <-chan []model.TokenIdentity
}

func mergeIDs(pending, next []model.TokenIdentity) []model.TokenIdentity {
	out := append([]model.TokenIdentity(nil), pending...)
	for _, id := range next {
		seen := false
		for _, p := range out {
			if p == id {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, id)
		}
	}
	return out
}

// memorySource is an in-process keyed table with a change feed.
type memorySource[T any] struct {
	mu      sync.RWMutex
	values  map[model.TokenIdentity]T
	changes *pubsub.Feed[[]model.TokenIdentity]
}

func newMemorySource[T any]() *memorySource[T] {
	return &memorySource[T]{
		values:  make(map[model.TokenIdentity]T),
		changes: pubsub.NewMergingFeed(mergeIDs),
	}
}

func (s *memorySource[T]) get(id model.TokenIdentity) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[id]
	return v, ok
}

func (s *memorySource[T]) set(id model.TokenIdentity, v T) {
	s.mu.Lock()
	s.values[id] = v
	s.mu.Unlock()
	s.changes.Publish([]model.TokenIdentity{id})
}

func (s *memorySource[T]) Changes(ctx context.Context) <-chan []model.TokenIdentity {
	return s.changes.Subscribe(ctx)
}

// MemoryTickers is a TickerSource fed by Set.
type MemoryTickers struct{ *memorySource[Ticker] }

func NewMemoryTickers() *MemoryTickers { return &MemoryTickers{newMemorySource[Ticker]()} }

func (m *MemoryTickers) Ticker(id model.TokenIdentity) (Ticker, bool) { return m.get(id) }

func (m *MemoryTickers) Set(id model.TokenIdentity, t Ticker) { m.set(id, t) }

// MemoryOverrides is an OverrideSource fed by Set.
type MemoryOverrides struct{ *memorySource[Override] }

func NewMemoryOverrides() *MemoryOverrides { return &MemoryOverrides{newMemorySource[Override]()} }

func (m *MemoryOverrides) Override(id model.TokenIdentity) (Override, bool) { return m.get(id) }

func (m *MemoryOverrides) Set(id model.TokenIdentity, o Override) { m.set(id, o) }

// MemoryActivity is an ActivitySource fed by Touch.
type MemoryActivity struct{ *memorySource[struct{}] }

func NewMemoryActivity() *MemoryActivity { return &MemoryActivity{newMemorySource[struct{}]()} }

func (m *MemoryActivity) Touch(id model.TokenIdentity) { m.set(id, struct{}{}) }
