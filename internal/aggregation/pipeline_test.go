package aggregation

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/tokenstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPipeline struct {
	store     *tokenstore.Store
	tickers   *MemoryTickers
	overrides *MemoryOverrides
	activity  *MemoryActivity
	pipeline  *Pipeline
}

func newTestPipeline(tokens ...model.Token) *testPipeline {
	tp := &testPipeline{
		store:     tokenstore.New("0xwallet", slog.Default()),
		tickers:   NewMemoryTickers(),
		overrides: NewMemoryOverrides(),
		activity:  NewMemoryActivity(),
	}
	var actions []model.Action
	for _, t := range tokens {
		actions = append(actions, model.AddToken(t, false))
	}
	tp.store.Apply(actions)
	tp.pipeline = NewPipeline(tp.store, Sources{Tickers: tp.tickers, Overrides: tp.overrides, Activity: tp.activity}, slog.Default())
	return tp
}

func next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "stream closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for emission")
	}
	var zero T
	return zero
}

func quiet[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected emission %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPipeline_SubscribeTokenRebuildsOnEverySource(t *testing.T) {
	tp := newTestPipeline(ethToken("1000000000000000000"), apesToken("1"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := tp.pipeline.SubscribeToken(ctx, eth)
	assert.Equal(t, "1 ETH", next(t, ch).DisplayValue)

	tp.store.Apply([]model.Action{model.UpdateBalance(eth, model.FungibleBalance(big.NewInt(2e18)))})
	assert.Equal(t, "2 ETH", next(t, ch).DisplayValue)

	tp.tickers.Set(eth, Ticker{Price: decimal.NewFromInt(10), Currency: "USD"})
	assert.Equal(t, "20", next(t, ch).FiatValue.String())

	tp.overrides.Set(eth, Override{DisplayName: "Gas"})
	assert.Equal(t, "Gas", next(t, ch).DisplayName)

	tp.activity.Touch(eth)
	assert.Equal(t, "Gas", next(t, ch).DisplayName)

	tp.tickers.Set(apes, Ticker{Price: decimal.NewFromInt(1)})
	quiet(t, ch)
}

func TestPipeline_SubscribeTokenClosesWithContext(t *testing.T) {
	tp := newTestPipeline(ethToken("1"))
	ctx, cancel := context.WithCancel(context.Background())
	ch := tp.pipeline.SubscribeToken(ctx, eth)
	next(t, ch)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
}

func TestPipeline_CollectionSuppressesUnchangedContent(t *testing.T) {
	tp := newTestPipeline(ethToken("1000000000000000000"), apesToken("1"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := tp.pipeline.SubscribeCollection(ctx)
	first := next(t, ch)
	require.Len(t, first, 2)

	tp.activity.Touch(eth)
	quiet(t, ch)

	unknown := model.TokenIdentity{Contract: "0xdead", ChainID: 1}
	tp.tickers.Set(unknown, Ticker{Price: decimal.NewFromInt(1)})
	quiet(t, ch)

	tp.store.Apply([]model.Action{model.UpdateBalance(apes, apesToken("1", "2").Balance)})
	updated := next(t, ch)
	require.Len(t, updated, 2)
	assert.Equal(t, 2, updated[1].Count)
}

func TestPipeline_ViewModel(t *testing.T) {
	tp := newTestPipeline(apesToken("1"))
	_, ok := tp.pipeline.ViewModel(eth)
	assert.False(t, ok)

	vm, ok := tp.pipeline.ViewModel(model.TokenIdentity{Contract: "0xBC4C", ChainID: 1})
	require.True(t, ok)
	assert.Equal(t, "Apes", vm.DisplayName)
}
