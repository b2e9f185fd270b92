package wallets

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/emperorhan/wallet-inventory/internal/aggregation"
	"github.com/emperorhan/wallet-inventory/internal/alert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth_UnhealthyAfterThresholdAndRecovery(t *testing.T) {
	h := NewHealth("0xabc")
	assert.Equal(t, string(HealthStatusUnknown), h.Snapshot().Status)

	for i := 0; i < DefaultUnhealthyThreshold-1; i++ {
		assert.Equal(t, TransitionNone, h.RecordRefresh(time.Millisecond, context.DeadlineExceeded))
	}
	assert.NotEqual(t, string(HealthStatusUnhealthy), h.Snapshot().Status)

	assert.Equal(t, TransitionUnhealthy, h.RecordRefresh(time.Millisecond, context.DeadlineExceeded))
	assert.Equal(t, TransitionNone, h.RecordRefresh(time.Millisecond, context.DeadlineExceeded), "already unhealthy")
	snap := h.Snapshot()
	assert.Equal(t, string(HealthStatusUnhealthy), snap.Status)
	assert.Equal(t, DefaultUnhealthyThreshold+1, snap.ConsecutiveFailures)
	assert.NotNil(t, snap.LastFailureAt)

	assert.Equal(t, TransitionRecovered, h.RecordRefresh(time.Millisecond, nil))
	assert.Equal(t, string(HealthStatusHealthy), h.Snapshot().Status)
	assert.Equal(t, TransitionNone, h.RecordRefresh(time.Millisecond, nil))
}

func TestHealth_DegradedOnSlowRefreshes(t *testing.T) {
	h := NewHealth("0xabc")
	for i := 0; i < latencyWindowSize; i++ {
		h.RecordRefresh(DefaultDegradedLatencyThreshold+time.Second, nil)
	}
	assert.Equal(t, string(HealthStatusDegraded), h.Snapshot().Status)

	for i := 0; i < latencyWindowSize; i++ {
		h.RecordRefresh(time.Millisecond, nil)
	}
	assert.Equal(t, string(HealthStatusHealthy), h.Snapshot().Status)
}

type recordingAlerter struct {
	mu   sync.Mutex
	sent []alert.Alert
}

func (r *recordingAlerter) Send(_ context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, a)
	return nil
}

func TestInstance_NotifiesHealthTransitions(t *testing.T) {
	rec := &recordingAlerter{}
	s := NewService(Config{Alerter: rec}, nil,
		aggregation.Sources{Tickers: aggregation.NewMemoryTickers()}, nil, slog.Default())
	inst := newInstance(walletA, s)
	defer inst.close()

	inst.notify(TransitionNone, nil)
	inst.notify(TransitionUnhealthy, errors.New("rpc down"))
	inst.notify(TransitionRecovered, nil)

	require.Len(t, rec.sent, 2)
	assert.Equal(t, alert.AlertTypeUnhealthy, rec.sent[0].Type)
	assert.Equal(t, walletA, rec.sent[0].Wallet)
	assert.Equal(t, "rpc down", rec.sent[0].Fields["last_error"])
	assert.Equal(t, inst.ID, rec.sent[0].Fields["instance_id"])
	assert.Equal(t, alert.AlertTypeRecovery, rec.sent[1].Type)
}
