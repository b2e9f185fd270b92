package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/failure"
	"github.com/emperorhan/wallet-inventory/internal/store"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "inventory:cursor:"
	maxSaveAttempts  = 3
)

// CursorStore keeps one JSON document per (chain, wallet) cursor.
type CursorStore struct {
	client *redis.Client
	prefix string
}

var _ store.CursorStore = (*CursorStore)(nil)

// NewCursorStore connects to url and verifies the connection.
func NewCursorStore(ctx context.Context, url string) (*CursorStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewCursorStoreFromClient(client), nil
}

func NewCursorStoreFromClient(client *redis.Client) *CursorStore {
	return &CursorStore{client: client, prefix: defaultKeyPrefix}
}

func (s *CursorStore) Close() error {
	return s.client.Close()
}

func (s *CursorStore) key(wallet string, chainID int64) string {
	return s.prefix + strconv.FormatInt(chainID, 10) + ":" + model.NormalizeAddress(wallet)
}

func (s *CursorStore) Load(ctx context.Context, wallet string, chainID int64) (*model.ScanCursor, error) {
	raw, err := s.client.Get(ctx, s.key(wallet, chainID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, failure.Persistence(fmt.Errorf("get cursor: %w", err))
	}
	cursor, err := store.DecodeCursor(raw)
	if err != nil {
		return nil, failure.Persistence(err)
	}
	return cursor, nil
}

// Save writes cursor with optimistic locking so a slower writer holding an
// older block never overwrites a newer cursor.
func (s *CursorStore) Save(ctx context.Context, cursor model.ScanCursor) error {
	raw, err := store.EncodeCursor(cursor)
	if err != nil {
		return failure.Persistence(err)
	}
	key := s.key(cursor.Wallet, cursor.ChainID)

	txf := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			current, err := store.DecodeCursor(existing)
			if err == nil && current.LastScannedBlock > cursor.LastScannedBlock {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return failure.Persistence(fmt.Errorf("save cursor: %w", err))
	}
	return nil
}

func (s *CursorStore) Delete(ctx context.Context, wallet string, chainID int64) error {
	if err := s.client.Del(ctx, s.key(wallet, chainID)).Err(); err != nil {
		return failure.Persistence(fmt.Errorf("delete cursor: %w", err))
	}
	return nil
}
