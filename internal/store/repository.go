package store

import (
	"context"

	"github.com/emperorhan/wallet-inventory/internal/domain/model"
)

//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

// CursorStore persists ERC-1155 scan cursors keyed by (wallet, chain).
// Load returns (nil, nil) when no cursor exists.
type CursorStore interface {
	Load(ctx context.Context, wallet string, chainID int64) (*model.ScanCursor, error)
	Save(ctx context.Context, cursor model.ScanCursor) error
	Delete(ctx context.Context, wallet string, chainID int64) error
}
