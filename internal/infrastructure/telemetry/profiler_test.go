package telemetry

import (
	"context"
	"runtime/pprof"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProfiler(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		p, err := NewProfiler(ProfilerConfig{}, zap.NewNop())
		require.NoError(t, err)

		assert.False(t, p.IsEnabled())
		assert.NoError(t, p.Stop())
		assert.NoError(t, p.Stop())
	})

	t.Run("requires server address", func(t *testing.T) {
		_, err := NewProfiler(ProfilerConfig{Enabled: true, ApplicationName: "billing-core"}, zap.NewNop())
		assert.ErrorContains(t, err, "server address")
	})

	t.Run("requires application name", func(t *testing.T) {
		_, err := NewProfiler(ProfilerConfig{Enabled: true, ServerAddress: "http://localhost:4040"}, zap.NewNop())
		assert.ErrorContains(t, err, "application name")
	})
}

func TestProfilingLabelPairs(t *testing.T) {
	pairs := profilingLabelPairs(map[string]string{
		"job":        "reconciliation",
		"tenant_id":  "t-1",
		"payment_id": "p-1",
		"empty":      "",
	})

	assert.Equal(t, []string{"job", "reconciliation", "tenant_id", "t-1"}, pairs)
	assert.Empty(t, profilingLabelPairs(nil))
}

func TestWithProfilingLabels(t *testing.T) {
	var got string
	WithProfilingLabels(context.Background(), map[string]string{"job": "reconciliation"}, func(ctx context.Context) {
		got, _ = pprof.Label(ctx, "job")
	})
	assert.Equal(t, "reconciliation", got)

	called := false
	WithProfilingLabels(context.Background(), map[string]string{"payment_id": "p-1"}, func(ctx context.Context) {
		called = true
		_, ok := pprof.Label(ctx, "payment_id")
		assert.False(t, ok)
	})
	assert.True(t, called)
}
