//go:build integration

package postgres_test

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/store/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *postgres.DB {
	t.Helper()
	if url := os.Getenv("TEST_DB_URL"); url != "" {
		db, err := postgres.New(context.Background(), postgres.Config{
			URL:             url,
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Minute,
		})
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		require.NoError(t, db.RunMigrations(context.Background(), postgres.Migrations))
		return db
	}
	return setupTestContainer(t)
}

func TestCursorRepo_RoundTrip(t *testing.T) {
	repo := postgres.NewCursorRepo(testDB(t))
	ctx := context.Background()

	missing, err := repo.Load(ctx, "0xabc", 1)
	require.NoError(t, err)
	assert.Nil(t, missing)

	c := model.NewScanCursor("0xABC", 1)
	c.LastScannedBlock = 4100
	c.CumulativeBalances = map[string]map[string]*big.Int{
		"0xaaa": {"1": big.NewInt(3), "2": big.NewInt(-1)},
	}
	require.NoError(t, repo.Save(ctx, c))

	loaded, err := repo.Load(ctx, "0xabc", 1)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, uint64(4100), loaded.LastScannedBlock)
	assert.Equal(t, int64(3), loaded.Quantity("0xaaa", "1").Int64())
	assert.Equal(t, int64(-1), loaded.Quantity("0xaaa", "2").Int64())
}

func TestCursorRepo_BlockNeverDecreases(t *testing.T) {
	repo := postgres.NewCursorRepo(testDB(t))
	ctx := context.Background()

	ahead := model.NewScanCursor("0xdef", 137)
	ahead.LastScannedBlock = 900
	require.NoError(t, repo.Save(ctx, ahead))

	behind := model.NewScanCursor("0xdef", 137)
	behind.LastScannedBlock = 10
	require.NoError(t, repo.Save(ctx, behind))

	loaded, err := repo.Load(ctx, "0xdef", 137)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), loaded.LastScannedBlock)

	require.NoError(t, repo.Delete(ctx, "0xdef", 137))
	loaded, err = repo.Load(ctx, "0xdef", 137)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.RunMigrations(context.Background(), postgres.Migrations))
}
