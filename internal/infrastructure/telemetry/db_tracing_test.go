package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type tracedOrder struct {
	ID         uint   `gorm:"primaryKey"`
	ExternalID string `gorm:"size:64"`
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&tracedOrder{}))
	return db
}

func setupRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, sr
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestDefaultDBTracingConfig(t *testing.T) {
	cfg := DefaultDBTracingConfig()

	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.LogFullSQL)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThresh)
	assert.Equal(t, "postgresql", cfg.DBSystem)
}

func TestDBTracingPlugin_RegisterOtelGorm(t *testing.T) {
	t.Run("disabled registers nothing", func(t *testing.T) {
		db := setupTestDB(t)
		plugin := NewDBTracingPlugin(DefaultDBTracingConfig(), zap.NewNop())

		require.NoError(t, plugin.RegisterOtelGorm(db))
		assert.Nil(t, db.Callback().Query().Get("otel_timing:after_query"))
	})

	t.Run("enabled registers timing callbacks", func(t *testing.T) {
		db := setupTestDB(t)
		cfg := DefaultDBTracingConfig()
		cfg.Enabled = true
		cfg.DBSystem = "sqlite"
		plugin := NewDBTracingPlugin(cfg, nil)

		require.NoError(t, plugin.RegisterOtelGorm(db))
		assert.NotNil(t, db.Callback().Query().Get("otel_timing:before_query"))
		assert.NotNil(t, db.Callback().Create().Get("otel_timing:after_create"))

		// queries keep working with the plugin in place
		require.NoError(t, db.Create(&tracedOrder{ExternalID: "T1"}).Error)
		var got tracedOrder
		require.NoError(t, db.First(&got).Error)
		assert.Equal(t, "T1", got.ExternalID)
	})
}

func TestDBTracingPlugin_AfterQueryMarksSlowQueries(t *testing.T) {
	db := setupTestDB(t)
	tp, sr := setupRecorder(t)
	core, logs := observer.New(zap.WarnLevel)
	plugin := NewDBTracingPlugin(DBTracingConfig{Enabled: true, SlowQueryThresh: time.Nanosecond}, zap.New(core))

	ctx, span := tp.Tracer("test").Start(context.Background(), "slow")
	ctx = context.WithValue(ctx, queryStartKey{}, time.Now().Add(-time.Second))

	tx := db.WithContext(ctx).Find(&[]tracedOrder{})
	plugin.afterQuery(tx)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	slow, ok := attrValue(spans[0].Attributes(), "db.slow_query")
	require.True(t, ok)
	assert.True(t, slow.AsBool())
	table, ok := attrValue(spans[0].Attributes(), "db.sql.table")
	require.True(t, ok)
	assert.Equal(t, "traced_orders", table.AsString())

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Slow database query", logs.All()[0].Message)
}

func TestDBTracingPlugin_AfterQueryErrors(t *testing.T) {
	db := setupTestDB(t)
	tp, sr := setupRecorder(t)
	plugin := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, zap.NewNop())

	t.Run("record not found is not an error", func(t *testing.T) {
		ctx, span := tp.Tracer("test").Start(context.Background(), "not-found")
		tx := db.WithContext(ctx).First(&tracedOrder{}, 99999)
		plugin.afterQuery(tx)
		span.End()

		spans := sr.Ended()
		assert.NotEqual(t, codes.Error, spans[len(spans)-1].Status().Code)
	})

	t.Run("query failure marks the span", func(t *testing.T) {
		ctx, span := tp.Tracer("test").Start(context.Background(), "broken")
		tx := db.WithContext(ctx).Table("missing_table").Find(&[]tracedOrder{})
		require.Error(t, tx.Error)
		plugin.afterQuery(tx)
		span.End()

		spans := sr.Ended()
		assert.Equal(t, codes.Error, spans[len(spans)-1].Status().Code)
	})

	t.Run("non recording span is ignored", func(t *testing.T) {
		tx := db.WithContext(context.Background()).Find(&[]tracedOrder{})
		assert.NotPanics(t, func() { plugin.afterQuery(tx) })
	})
}
