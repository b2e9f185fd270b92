package memory

import (
	"context"
	"sync"

	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/store"
)

type cursorKey struct {
	wallet  string
	chainID int64
}

// CursorStore keeps cursors in process memory. Stored values are deep
// copies; callers never share maps with the store.
type CursorStore struct {
	mu      sync.RWMutex
	cursors map[cursorKey]model.ScanCursor
}

var _ store.CursorStore = (*CursorStore)(nil)

func NewCursorStore() *CursorStore {
	return &CursorStore{cursors: make(map[cursorKey]model.ScanCursor)}
}

func (s *CursorStore) Load(_ context.Context, wallet string, chainID int64) (*model.ScanCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[cursorKey{model.NormalizeAddress(wallet), chainID}]
	if !ok {
		return nil, nil
	}
	clone := c.Clone()
	return &clone, nil
}

// Save stores cursor unless a cursor further along is already stored.
func (s *CursorStore) Save(_ context.Context, cursor model.ScanCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cursorKey{model.NormalizeAddress(cursor.Wallet), cursor.ChainID}
	if existing, ok := s.cursors[key]; ok && existing.LastScannedBlock > cursor.LastScannedBlock {
		return nil
	}
	s.cursors[key] = cursor.Clone()
	return nil
}

func (s *CursorStore) Delete(_ context.Context, wallet string, chainID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, cursorKey{model.NormalizeAddress(wallet), chainID})
	return nil
}
