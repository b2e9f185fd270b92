package wallets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/aggregation"
	"github.com/emperorhan/wallet-inventory/internal/alert"
	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/metrics"
	"github.com/emperorhan/wallet-inventory/internal/orchestrator"
	"github.com/emperorhan/wallet-inventory/internal/provider/indexer"
	"github.com/emperorhan/wallet-inventory/internal/pubsub"
	"github.com/emperorhan/wallet-inventory/internal/store"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownWallet = errors.New("wallet not active")
	ErrQueueFull     = errors.New("refresh queue full")
)

// ChainBackend is the chain access shared by every wallet on one chain.
type ChainBackend struct {
	Chain      model.Chain
	Native     orchestrator.NativeReader
	Balances   orchestrator.BalanceReader
	Indexer    indexer.Fetcher
	Scanner    orchestrator.CursorScanner
	Reconciler orchestrator.InventoryReconciler
}

type Config struct {
	RefreshInterval time.Duration
	RefreshTimeout  time.Duration
	QueueSize       int

	// Alerter receives unhealthy and recovery transitions. Nil disables alerts.
	Alerter alert.Alerter
}

// WalletSummary is the headline balance of one wallet.
type WalletSummary struct {
	TotalFiat     decimal.Decimal
	FungibleCount int
	NFTCount      int
	UpdatedAt     time.Time
}

type Summary struct {
	Wallets map[string]WalletSummary
}

// Service owns one instance per active wallet. Nothing else holds instances.
type Service struct {
	cfg     Config
	chains  []ChainBackend
	sources aggregation.Sources
	cursors store.CursorStore
	alerter alert.Alerter
	logger  *slog.Logger

	mu        sync.Mutex
	instances map[string]*Instance
	latest    map[string]WalletSummary
	summaries *pubsub.Feed[Summary]
	closed    bool
}

func NewService(cfg Config, chains []ChainBackend, sources aggregation.Sources, cursors store.CursorStore, logger *slog.Logger) *Service {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 2 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	alerter := cfg.Alerter
	if alerter == nil {
		alerter = alert.NoopAlerter{}
	}
	return &Service{
		cfg:       cfg,
		alerter:   alerter,
		chains:    chains,
		sources:   sources,
		cursors:   cursors,
		logger:    logger.With("component", "wallet_service"),
		instances: make(map[string]*Instance),
		latest:    make(map[string]WalletSummary),
		summaries: pubsub.NewFeed[Summary](),
	}
}

// SetWallets makes wallets the active set: instances are created for new
// wallets and torn down for removed ones. New instances get an initial
// full refresh.
func (s *Service) SetWallets(ctx context.Context, wallets []string) error {
	wanted := make(map[string]struct{}, len(wallets))
	for _, w := range wallets {
		if w = model.NormalizeAddress(w); w != "" {
			wanted[w] = struct{}{}
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("wallet service closed")
	}
	var removed []*Instance
	for wallet, inst := range s.instances {
		if _, ok := wanted[wallet]; !ok {
			removed = append(removed, inst)
			delete(s.instances, wallet)
			delete(s.latest, wallet)
		}
	}
	var added []*Instance
	for wallet := range wanted {
		if _, ok := s.instances[wallet]; ok {
			continue
		}
		inst := newInstance(wallet, s)
		s.instances[wallet] = inst
		added = append(added, inst)
	}
	metrics.ActiveWallets.Set(float64(len(s.instances)))
	s.mu.Unlock()

	var errs []error
	for _, inst := range removed {
		inst.close()
		if err := s.forgetCursors(ctx, inst.Wallet); err != nil {
			errs = append(errs, err)
		}
		s.logger.Info("wallet removed", "wallet", inst.Wallet, "instance_id", inst.ID)
	}
	for _, inst := range added {
		inst.start()
		_ = inst.enqueue(model.RefreshAll())
		s.logger.Info("wallet added", "wallet", inst.Wallet, "instance_id", inst.ID)
	}
	if len(removed) > 0 {
		s.publishSummary()
	}
	return errors.Join(errs...)
}

func (s *Service) forgetCursors(ctx context.Context, wallet string) error {
	if s.cursors == nil {
		return nil
	}
	var errs []error
	for _, c := range s.chains {
		if err := s.cursors.Delete(ctx, wallet, c.Chain.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete cursor %s on %s: %w", wallet, c.Chain, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) instance(wallet string) (*Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[model.NormalizeAddress(wallet)]
	return inst, ok
}

// Wallets lists the active wallets in order.
func (s *Service) Wallets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.instances))
	for w := range s.instances {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Refresh queues a refresh of one wallet on its serial worker.
func (s *Service) Refresh(wallet string, policy model.RefreshPolicy) error {
	inst, ok := s.instance(wallet)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWallet, wallet)
	}
	return inst.enqueue(policy)
}

// RefreshAll queues policy for every active wallet.
func (s *Service) RefreshAll(policy model.RefreshPolicy) {
	s.mu.Lock()
	instances := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		instances = append(instances, inst)
	}
	s.mu.Unlock()

	for _, inst := range instances {
		if err := inst.enqueue(policy); err != nil {
			s.logger.Debug("refresh skipped", "wallet", inst.Wallet, "error", err)
		}
	}
}

// Pipeline returns the view-model pipeline of an active wallet.
func (s *Service) Pipeline(wallet string) (*aggregation.Pipeline, bool) {
	inst, ok := s.instance(wallet)
	if !ok {
		return nil, false
	}
	return inst.Pipeline, true
}

// ViewModels returns the current view models of an active wallet.
func (s *Service) ViewModels(wallet string) ([]aggregation.TokenViewModel, bool) {
	inst, ok := s.instance(wallet)
	if !ok {
		return nil, false
	}
	return inst.Pipeline.Collection(), true
}

// Health returns the health of every active wallet.
func (s *Service) Health() []HealthSnapshot {
	s.mu.Lock()
	out := make([]HealthSnapshot, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst.Health.Snapshot())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out
}

// Summaries streams the combined summary of every active wallet.
func (s *Service) Summaries(ctx context.Context) <-chan Summary {
	return s.summaries.Subscribe(ctx)
}

func (s *Service) updateSummary(wallet string, summary WalletSummary) {
	s.mu.Lock()
	if _, active := s.instances[wallet]; !active {
		s.mu.Unlock()
		return
	}
	s.latest[wallet] = summary
	s.mu.Unlock()
	s.publishSummary()
}

func (s *Service) publishSummary() {
	s.mu.Lock()
	snapshot := Summary{Wallets: make(map[string]WalletSummary, len(s.latest))}
	for w, summary := range s.latest {
		snapshot.Wallets[w] = summary
	}
	s.mu.Unlock()
	s.summaries.Publish(snapshot)
}

// Run refreshes every wallet on the configured interval until ctx is done,
// then tears every instance down.
func (s *Service) Run(ctx context.Context) error {
	defer s.Close()
	if s.cfg.RefreshInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.RefreshAll(model.RefreshAll())
		}
	}
}

// Close tears down every instance and ends the summary stream.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	instances := s.instances
	s.instances = make(map[string]*Instance)
	s.mu.Unlock()

	g := new(errgroup.Group)
	for _, inst := range instances {
		g.Go(func() error {
			inst.close()
			return nil
		})
	}
	_ = g.Wait()
	metrics.ActiveWallets.Set(0)
	s.summaries.Close()
}

// Summarize folds a wallet's view models into its summary.
func Summarize(vms []aggregation.TokenViewModel) WalletSummary {
	var out WalletSummary
	for _, vm := range vms {
		switch vm.Presentation {
		case aggregation.PresentationScalar:
			if vm.Amount != nil && vm.Amount.Sign() > 0 {
				out.FungibleCount++
			}
			if vm.Priced {
				out.TotalFiat = out.TotalFiat.Add(vm.FiatValue)
			}
		case aggregation.PresentationCollection:
			out.NFTCount += vm.Count
		}
		if vm.UpdatedAt.After(out.UpdatedAt) {
			out.UpdatedAt = vm.UpdatedAt
		}
	}
	return out
}
