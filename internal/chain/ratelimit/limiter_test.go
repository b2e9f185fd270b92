package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/wallet-inventory/internal/failure"
	"github.com/emperorhan/wallet-inventory/internal/metrics"
)

func TestNewLimiter_Settings(t *testing.T) {
	tests := []struct {
		name      string
		rps       float64
		burst     int
		wantBurst int
		unlimited bool
	}{
		{name: "configured", rps: 10, burst: 5, wantBurst: 5},
		{name: "burst floor", rps: 10, burst: 0, wantBurst: 1},
		{name: "zero rps", rps: 0, burst: 3, wantBurst: 3, unlimited: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLimiter(tt.rps, tt.burst, "rpc:1")
			require.NotNil(t, l)
			assert.Equal(t, tt.wantBurst, l.limiter.Burst())
			if tt.unlimited {
				assert.True(t, l.limiter.Limit() > 1e300, "expected rate.Inf")
			} else {
				assert.InDelta(t, tt.rps, float64(l.limiter.Limit()), 1e-9)
			}
		})
	}
}

func TestLimiter_BurstIsImmediate(t *testing.T) {
	l := NewLimiter(1, 4, "rpc:burst")
	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_ExhaustedBucketWaitsAndCounts(t *testing.T) {
	const target = "rpc:waits"
	l := NewLimiter(20, 1, target)
	before := testutil.ToFloat64(metrics.RPCRateLimitWaits.WithLabelValues(target))

	require.NoError(t, l.Wait(context.Background()))
	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))

	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RPCRateLimitWaits.WithLabelValues(target)))
}

func TestLimiter_CanceledWaitReturnsToken(t *testing.T) {
	l := NewLimiter(1, 1, "rpc:cancel")
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
}

func TestLimiter_NonPositiveRPSIsUnlimited(t *testing.T) {
	l := NewLimiter(0, 0, "indexer")

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_NilIsNoop(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background()))
}

func TestRecordRPCCall_LabelsByFailureKind(t *testing.T) {
	const chain = "record-test"
	RecordRPCCall(chain, "eth_call", nil)
	RecordRPCCall(chain, "eth_call", failure.RateLimited(errors.New("slow down")))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RPCCallsTotal.WithLabelValues(chain, "eth_call", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RPCCallsTotal.WithLabelValues(chain, "eth_call", string(failure.KindRateLimited))))
}
