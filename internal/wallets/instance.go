package wallets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/aggregation"
	"github.com/emperorhan/wallet-inventory/internal/alert"
	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/orchestrator"
	"github.com/emperorhan/wallet-inventory/internal/tokenstore"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Instance is everything one active wallet owns: its token store, one
// orchestrator per chain, the aggregation pipeline and a serial worker.
type Instance struct {
	ID       string
	Wallet   string
	Store    *tokenstore.Store
	Pipeline *aggregation.Pipeline
	Health   *Health

	orchestrators []*orchestrator.Orchestrator
	queue         chan model.RefreshPolicy
	timeout       time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	done          chan struct{}
	startOnce     sync.Once
	service       *Service
	logger        *slog.Logger
}

const alertTimeout = 10 * time.Second

func newInstance(wallet string, s *Service) *Instance {
	id := uuid.New().String()
	logger := s.logger.With("wallet", wallet, "instance_id", id)
	st := tokenstore.New(wallet, logger)
	ctx, cancel := context.WithCancel(context.Background())

	inst := &Instance{
		ID:       id,
		Wallet:   wallet,
		Store:    st,
		Pipeline: aggregation.NewPipeline(st, s.sources, logger),
		Health:   NewHealth(wallet),
		queue:    make(chan model.RefreshPolicy, s.cfg.QueueSize),
		timeout:  s.cfg.RefreshTimeout,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		service:  s,
		logger:   logger,
	}
	for _, c := range s.chains {
		inst.orchestrators = append(inst.orchestrators, orchestrator.New(wallet, c.Chain, orchestrator.Deps{
			Native:     c.Native,
			Balances:   c.Balances,
			Indexer:    c.Indexer,
			Scanner:    c.Scanner,
			Reconciler: c.Reconciler,
			Tokens:     st,
			Sink:       func(actions []model.Action) { st.Apply(actions) },
		}, logger))
	}
	return inst
}

func (i *Instance) start() {
	i.startOnce.Do(func() {
		summaries := i.Pipeline.SubscribeCollection(i.ctx)
		go func() {
			for vms := range summaries {
				i.service.updateSummary(i.Wallet, Summarize(vms))
			}
		}()
		go i.work()
	})
}

func (i *Instance) enqueue(policy model.RefreshPolicy) error {
	if i.ctx.Err() != nil {
		return fmt.Errorf("%w: %s", ErrUnknownWallet, i.Wallet)
	}
	select {
	case i.queue <- policy:
		return nil
	default:
		return ErrQueueFull
	}
}

// work runs refreshes one at a time; chains of one refresh run concurrently.
func (i *Instance) work() {
	defer close(i.done)
	for {
		select {
		case <-i.ctx.Done():
			return
		case policy := <-i.queue:
			i.refresh(policy)
		}
	}
}

func (i *Instance) refresh(policy model.RefreshPolicy) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(i.ctx, i.timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, o := range i.orchestrators {
		g.Go(func() error {
			return o.Refresh(gctx, policy)
		})
	}
	err := g.Wait()
	if i.ctx.Err() != nil {
		return
	}
	transition := i.Health.RecordRefresh(time.Since(start), err)
	if err != nil {
		i.logger.Warn("wallet refresh incomplete", "policy", policy.String(), "error", err)
	}
	i.notify(transition, err)
}

func (i *Instance) notify(transition Transition, err error) {
	var a alert.Alert
	switch transition {
	case TransitionUnhealthy:
		snap := i.Health.Snapshot()
		a = alert.Alert{
			Type:    alert.AlertTypeUnhealthy,
			Wallet:  i.Wallet,
			Title:   "Wallet refresh failing",
			Message: fmt.Sprintf("%d consecutive refreshes failed", snap.ConsecutiveFailures),
			Fields:  map[string]string{"instance_id": i.ID},
		}
		if err != nil {
			a.Fields["last_error"] = err.Error()
		}
	case TransitionRecovered:
		i.logger.Info("wallet refresh recovered")
		a = alert.Alert{
			Type:    alert.AlertTypeRecovery,
			Wallet:  i.Wallet,
			Title:   "Wallet refresh recovered",
			Message: "refresh succeeded after an unhealthy streak",
			Fields:  map[string]string{"instance_id": i.ID},
		}
	default:
		return
	}

	ctx, cancel := context.WithTimeout(i.ctx, alertTimeout)
	defer cancel()
	if err := i.service.alerter.Send(ctx, a); err != nil {
		i.logger.Warn("wallet alert not delivered", "type", a.Type, "error", err)
	}
}

// close cancels in-flight work, retires every orchestrator's results and
// waits for the worker to exit.
func (i *Instance) close() {
	for _, o := range i.orchestrators {
		o.Close()
	}
	i.cancel()
	i.startOnce.Do(func() { close(i.done) })
	<-i.done
	i.Store.Close()
}
