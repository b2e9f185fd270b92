package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/failure"
	"github.com/emperorhan/wallet-inventory/internal/store"
)

// CursorRepo stores scan cursors in the scan_cursors table.
type CursorRepo struct {
	db *DB
}

var _ store.CursorStore = (*CursorRepo)(nil)

func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

func (r *CursorRepo) Load(ctx context.Context, wallet string, chainID int64) (*model.ScanCursor, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var (
		lastBlock int64
		raw       []byte
		cursor    = model.NewScanCursor(wallet, chainID)
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT last_scanned_block, cumulative_balances, updated_at
		FROM scan_cursors
		WHERE wallet = $1 AND chain_id = $2
	`, cursor.Wallet, chainID).Scan(&lastBlock, &raw, &cursor.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, failure.Persistence(fmt.Errorf("get cursor: %w", err))
	}

	balances, err := store.DecodeBalances(raw)
	if err != nil {
		return nil, failure.Persistence(err)
	}
	cursor.LastScannedBlock = uint64(lastBlock)
	cursor.CumulativeBalances = balances
	return &cursor, nil
}

// Save upserts cursor. A stored row with a higher last_scanned_block is left
// untouched.
func (r *CursorRepo) Save(ctx context.Context, cursor model.ScanCursor) error {
	raw, err := store.EncodeBalances(cursor.CumulativeBalances)
	if err != nil {
		return failure.Persistence(err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scan_cursors (wallet, chain_id, last_scanned_block, cumulative_balances, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (wallet, chain_id) DO UPDATE SET
			last_scanned_block = EXCLUDED.last_scanned_block,
			cumulative_balances = EXCLUDED.cumulative_balances,
			updated_at = now()
		WHERE scan_cursors.last_scanned_block <= EXCLUDED.last_scanned_block
	`, model.NormalizeAddress(cursor.Wallet), cursor.ChainID, int64(cursor.LastScannedBlock), raw)
	if err != nil {
		return failure.Persistence(fmt.Errorf("upsert cursor: %w", err))
	}
	return nil
}

func (r *CursorRepo) Delete(ctx context.Context, wallet string, chainID int64) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM scan_cursors WHERE wallet = $1 AND chain_id = $2",
		model.NormalizeAddress(wallet), chainID,
	); err != nil {
		return failure.Persistence(fmt.Errorf("delete cursor: %w", err))
	}
	return nil
}
