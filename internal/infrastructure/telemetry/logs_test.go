package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerProvider_Disabled(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{Enabled: false, ServiceName: "ordersync"}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, lp.IsEnabled())
	assert.NoError(t, lp.Shutdown(context.Background()))
	assert.NoError(t, lp.Shutdown(context.Background()))
}

func TestNewZapOTELCore_DisabledIsNop(t *testing.T) {
	assert.False(t, NewZapOTELCore("ordersync", nil, zapcore.InfoLevel).Enabled(zapcore.ErrorLevel))

	lp, err := NewLoggerProvider(context.Background(), LogsConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, NewZapOTELCore("ordersync", lp, zapcore.InfoLevel).Enabled(zapcore.ErrorLevel))
}

func TestBridgeLogger_DisabledReturnsBase(t *testing.T) {
	base := zap.NewExample()
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{}, zap.NewNop())
	require.NoError(t, err)

	assert.Same(t, base, BridgeLogger(base, "ordersync", lp))
	assert.Same(t, base, BridgeLogger(base, "ordersync", nil))
}

func TestLevelFilterCore(t *testing.T) {
	observed, logs := observer.New(zapcore.DebugLevel)
	filtered := &levelFilterCore{Core: observed, minLevel: zapcore.WarnLevel}

	assert.True(t, filtered.Enabled(zapcore.WarnLevel))
	assert.False(t, filtered.Enabled(zapcore.InfoLevel))

	logger := zap.New(filtered)
	logger.Info("sync started")
	logger.Warn("platform rate limited")
	logger.Error("sync failed")

	all := logs.All()
	require.Len(t, all, 2)
	assert.Equal(t, "platform rate limited", all[0].Message)
	assert.Equal(t, "sync failed", all[1].Message)
}

func TestLevelFilterCore_With(t *testing.T) {
	observed, logs := observer.New(zapcore.DebugLevel)
	filtered := &levelFilterCore{Core: observed, minLevel: zapcore.WarnLevel}

	child := filtered.With([]zapcore.Field{zap.String("platform", "JD")})
	lf, ok := child.(*levelFilterCore)
	require.True(t, ok)
	assert.Equal(t, zapcore.WarnLevel, lf.minLevel)

	zap.New(child).Warn("circuit opened")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "JD", logs.All()[0].ContextMap()["platform"])
}
