package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/humanitarian-data-etl/internal/config"
)

func TestNewLogger_RespectsLevelAndSetsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := NewLogger(&config.Config{LogLevel: "warn", LogFormat: "json"})

	ctx := context.Background()
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))
	assert.Same(t, logger, slog.Default())
}

func TestNewLogger_DebugText(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := NewLogger(&config.Config{LogLevel: "debug", LogFormat: "text"})
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewMetricsForTesting_RegistersCleanly(t *testing.T) {
	reg := prometheus.NewRegistry()
	for _, c := range NewMetricsForTesting().collectors() {
		require.NoError(t, reg.Register(c))
	}
	// A second set must also build without touching the default registry.
	assert.NotNil(t, NewMetricsForTesting())
}
