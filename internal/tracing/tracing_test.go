package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_EmptyEndpoint_ReturnsNoOpProvider(t *testing.T) {
	shutdown, err := Init(context.Background(), "wallet-inventory", "", true, 0.1)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(context.Background()))
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartEnd_NoOpProvider(t *testing.T) {
	shutdown, err := Init(context.Background(), "wallet-inventory", "", true, 1)
	require.NoError(t, err)
	defer shutdown(context.Background())

	ctx, span := Start(context.Background(), "orchestrator", "refresh", "0xabc", 1)
	require.NotNil(t, ctx)
	assert.NotPanics(t, func() { End(span, errors.New("boom")) })
	assert.NotNil(t, Tracer("scanner"))
}
