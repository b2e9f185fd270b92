package wallets

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/aggregation"
	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/provider/indexer"
	"github.com/emperorhan/wallet-inventory/internal/reconciler"
	"github.com/emperorhan/wallet-inventory/internal/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	walletA = "0x00000000000000000000000000000000000000aa"
	walletB = "0x00000000000000000000000000000000000000bb"
)

var testChain = model.Chain{ID: 1, Name: "ethereum", NativeSymbol: "ETH", NativeDecimals: 18}

type fakeNative struct {
	mu      sync.Mutex
	release chan struct{}
	started chan struct{}
}

func (f *fakeNative) GetBalance(_ context.Context, address string) (*big.Int, error) {
	f.mu.Lock()
	release, started := f.release, f.started
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if release != nil {
		<-release
	}
	if address == walletB {
		return big.NewInt(2e18), nil
	}
	return big.NewInt(1e18), nil
}

type noBalances struct{}

func (noBalances) ERC20Balance(context.Context, string, string) (*big.Int, error) { return nil, nil }
func (noBalances) ERC875Balance(context.Context, string, string) ([]string, error) {
	return nil, nil
}
func (noBalances) ERC721ForTicketsBalances(context.Context, string, string) ([]string, error) {
	return nil, nil
}

type emptyIndexer struct{}

func (emptyIndexer) FetchInventory(context.Context, string, int64) (indexer.Inventory, error) {
	return nil, nil
}

type emptyScanner struct{}

func (emptyScanner) Scan(_ context.Context, wallet string) (model.ScanCursor, error) {
	return model.NewScanCursor(wallet, 1), nil
}

type emptyReconciler struct{}

func (emptyReconciler) Reconcile(context.Context, reconciler.Input) []model.Action { return nil }

func newTestService(t *testing.T, native *fakeNative, cursors *mocks.MockCursorStore) (*Service, *aggregation.MemoryTickers) {
	t.Helper()
	tickers := aggregation.NewMemoryTickers()
	backend := ChainBackend{
		Chain:      testChain,
		Native:     native,
		Balances:   noBalances{},
		Indexer:    emptyIndexer{},
		Scanner:    emptyScanner{},
		Reconciler: emptyReconciler{},
	}
	s := NewService(Config{RefreshTimeout: time.Second}, []ChainBackend{backend},
		aggregation.Sources{Tickers: tickers}, cursors, slog.Default())
	t.Cleanup(s.Close)
	return s, tickers
}

func waitSummary(t *testing.T, ch <-chan Summary, ok func(Summary) bool) Summary {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if ok(s) {
				return s
			}
		case <-deadline:
			t.Fatal("summary condition not reached")
			return Summary{}
		}
	}
}

func TestService_SetWalletsBuildsOneInstancePerWallet(t *testing.T) {
	ctrl := gomock.NewController(t)
	s, tickers := newTestService(t, &fakeNative{}, mocks.NewMockCursorStore(ctrl))
	tickers.Set(testChain.NativeIdentity(), aggregation.Ticker{Price: decimal.NewFromInt(1000), Currency: "USD"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	summaries := s.Summaries(ctx)

	require.NoError(t, s.SetWallets(ctx, []string{walletA, "0x00000000000000000000000000000000000000BB", walletA}))
	assert.Equal(t, []string{walletA, walletB}, s.Wallets())

	got := waitSummary(t, summaries, func(sum Summary) bool {
		return sum.Wallets[walletA].FungibleCount == 1 && sum.Wallets[walletB].FungibleCount == 1
	})
	assert.Equal(t, "1000", got.Wallets[walletA].TotalFiat.String())
	assert.Equal(t, "2000", got.Wallets[walletB].TotalFiat.String())

	p, ok := s.Pipeline(walletA)
	require.True(t, ok)
	vm, ok := p.ViewModel(testChain.NativeIdentity())
	require.True(t, ok)
	assert.Equal(t, "1 ETH", vm.DisplayValue)
}

func TestService_RemovedWalletIsTornDown(t *testing.T) {
	ctrl := gomock.NewController(t)
	cursors := mocks.NewMockCursorStore(ctrl)
	cursors.EXPECT().Delete(gomock.Any(), walletB, int64(1)).Return(nil).Times(1)

	s, _ := newTestService(t, &fakeNative{}, cursors)
	ctx := context.Background()
	summaries := s.Summaries(ctx)
	require.NoError(t, s.SetWallets(ctx, []string{walletA, walletB}))
	waitSummary(t, summaries, func(sum Summary) bool { return len(sum.Wallets) == 2 })

	require.NoError(t, s.SetWallets(ctx, []string{walletA}))
	assert.Equal(t, []string{walletA}, s.Wallets())
	got := waitSummary(t, summaries, func(sum Summary) bool { return len(sum.Wallets) == 1 })
	assert.Contains(t, got.Wallets, walletA)

	assert.ErrorIs(t, s.Refresh(walletB, model.RefreshAll()), ErrUnknownWallet)
	assert.NoError(t, s.Refresh(walletA, model.RefreshNativeOnly()))
}

func TestService_TeardownDiscardsInFlightResults(t *testing.T) {
	native := &fakeNative{release: make(chan struct{}), started: make(chan struct{}, 1)}
	ctrl := gomock.NewController(t)
	cursors := mocks.NewMockCursorStore(ctrl)
	cursors.EXPECT().Delete(gomock.Any(), walletA, int64(1)).Return(nil)

	s, _ := newTestService(t, native, cursors)
	ctx := context.Background()
	require.NoError(t, s.SetWallets(ctx, []string{walletA}))

	inst, ok := s.instance(walletA)
	require.True(t, ok)
	select {
	case <-native.started:
	case <-time.After(time.Second):
		t.Fatal("refresh never started")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(native.release)
	}()
	require.NoError(t, s.SetWallets(ctx, nil))

	assert.Empty(t, inst.Store.Tokens(), "a torn-down wallet never receives late results")
	assert.Empty(t, s.Wallets())
}

func TestSummarize(t *testing.T) {
	eth := model.Token{Identity: testChain.NativeIdentity(), Symbol: "ETH", Decimals: 18, Type: model.TokenTypeNative,
		Balance: model.FungibleBalance(big.NewInt(3e18))}
	empty := model.Token{Identity: model.TokenIdentity{Contract: "0x01", ChainID: 1}, Type: model.TokenTypeERC20,
		Balance: model.FungibleBalance(big.NewInt(0))}
	apes := model.Token{Identity: model.TokenIdentity{Contract: "0x02", ChainID: 1}, Type: model.TokenTypeERC721,
		Balance: model.AssetBalance([]model.NftAssetRecord{{TokenID: "1"}, {TokenID: "2"}})}

	got := Summarize([]aggregation.TokenViewModel{
		aggregation.Build(eth, &aggregation.Ticker{Price: decimal.RequireFromString("1.5")}, nil),
		aggregation.Build(empty, nil, nil),
		aggregation.Build(apes, nil, nil),
	})
	assert.Equal(t, "4.5", got.TotalFiat.String())
	assert.Equal(t, 1, got.FungibleCount)
	assert.Equal(t, 2, got.NFTCount)
}
