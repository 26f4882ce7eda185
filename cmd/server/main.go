package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appintegration "github.com/ordersync/backend/internal/application/integration"
	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/infrastructure/cache"
	"github.com/ordersync/backend/internal/infrastructure/config"
	"github.com/ordersync/backend/internal/infrastructure/ecommerce"
	"github.com/ordersync/backend/internal/infrastructure/logger"
	"github.com/ordersync/backend/internal/infrastructure/migration"
	"github.com/ordersync/backend/internal/infrastructure/persistence"
	"github.com/ordersync/backend/internal/infrastructure/resilience"
	"github.com/ordersync/backend/internal/infrastructure/scheduler"
	"github.com/ordersync/backend/internal/infrastructure/security"
	"github.com/ordersync/backend/internal/infrastructure/storage"
	"github.com/ordersync/backend/internal/infrastructure/telemetry"
	"github.com/ordersync/backend/internal/interfaces/http/handler"
	"github.com/ordersync/backend/internal/interfaces/http/middleware"
	"github.com/ordersync/backend/internal/interfaces/http/router"
)

//	@title			OrderSync API
//	@version		1.0
//	@description	Order reconciliation across Taobao, JD, Douyin and PDD
//	@host			localhost:8080
//	@BasePath		/api/v1

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	baseLog, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()

	// Telemetry: traces, metrics, log bridge, profiles
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize logger provider", zap.Error(err))
	}

	log := telemetry.BridgeLogger(baseLog, cfg.Telemetry.ServiceName, lp)
	defer func() {
		_ = logger.Sync(log)
	}()

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Profiling.Enabled,
		ServerAddress:     cfg.Profiling.ServerAddress,
		ApplicationName:   cfg.Profiling.ApplicationName,
		BasicAuthUser:     cfg.Profiling.BasicAuthUser,
		BasicAuthPassword: cfg.Profiling.BasicAuthPassword,
		ProfileMemory:     cfg.Profiling.ProfileMemory,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if cfg.Profiling.Enabled && cfg.Profiling.SpanProfiles {
		if err := tp.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to enable span profiles", zap.Error(err))
		}
	}

	log.Info("Starting OrderSync",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Database
	dbOpts := []persistence.DatabaseOption{
		persistence.WithGormLogger(logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
			logger.WithParameterizedQueries(cfg.App.Env == "production"),
		)),
	}
	if cfg.Telemetry.DBTraceEnabled {
		tracingCfg := telemetry.DefaultDBTracingConfig()
		tracingCfg.Enabled = true
		tracingCfg.LogFullSQL = cfg.App.Env == "development"
		dbOpts = append(dbOpts, persistence.WithPlugins(telemetry.NewDBTracingPlugin(tracingCfg, log)))
	}
	db, err := persistence.NewDatabase(&cfg.Database, dbOpts...)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if err := runMigrations(db, cfg.Database.MigrationsPath, log); err != nil {
		log.Fatal("Failed to apply migrations", zap.Error(err))
	}

	// Shared store for sync locks, breaker state and the credential cache
	store, err := cache.NewStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).CreateStore()
	if err != nil {
		log.Fatal("Failed to create cache store", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing cache store", zap.Error(err))
		}
	}()

	meter := mp.Meter("ordersync")
	syncMetrics, err := telemetry.NewSyncMetrics(meter, log)
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}

	breakers, err := resilience.NewRegistry(resilience.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
	}, store, log, resilience.WithStateListener(syncMetrics.BreakerTransition))
	if err != nil {
		log.Fatal("Failed to create circuit breaker registry", zap.Error(err))
	}

	var apiLimiter resilience.RateLimiter = resilience.NewMemoryRateLimiter()
	redisStore, sharedStore := store.(*cache.RedisStore)
	if sharedStore {
		apiLimiter = resilience.NewRedisRateLimiter(redisStore.Client(), cfg.Redis.KeyPrefix)
	}

	// Credentials and connectors
	cipher, err := security.NewCipher(cfg.Security.CredentialKey)
	if err != nil {
		log.Fatal("Failed to create credential cipher", zap.Error(err))
	}

	configRepo := persistence.NewGormPlatformConfigRepository(db.DB)
	orderRepo := persistence.NewGormOrderRepository(db.DB)

	var connectors *ecommerce.ConnectorFactory
	credentials := appintegration.NewCredentialStore(configRepo, store, cipher, log,
		appintegration.WithCredentialTTLs(cfg.Security.CredentialCacheTTL, cfg.Security.CredentialBackupTTL),
		appintegration.WithChangeListener(func(p integration.PlatformCode) {
			connectors.Invalidate(p)
		}),
	)
	connectors = ecommerce.NewConnectorFactory(
		credentials,
		platformSettings(cfg.Platforms),
		security.NewGuard(security.WithGuardLogger(log)),
		apiLimiter,
		breakers,
		log,
	)

	// Sync pipeline
	policy, err := appintegration.ParseSameSitePolicy(cfg.Sync.SameSitePolicy)
	if err != nil {
		log.Fatal("Invalid same-site policy", zap.Error(err))
	}
	normalizer := appintegration.NewOrderNormalizer(cfg.Sync.NormalizeWorkers, log)
	aggregator := appintegration.NewOrderAggregator(configRepo, connectors, credentials, normalizer, log)
	dedup := appintegration.NewDeduplicationEngine(appintegration.NewConflictResolver(log), policy, log)

	syncOpts := []appintegration.SyncManagerOption{appintegration.WithSyncObserver(syncMetrics)}
	if cfg.Archive.Enabled {
		archiver, err := storage.NewS3ReportArchiver(&cfg.Archive, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to create report archiver", zap.Error(err))
		}
		if err := archiver.EnsureBucket(ctx); err != nil {
			log.Fatal("Failed to prepare archive bucket", zap.Error(err))
		}
		syncOpts = append(syncOpts, appintegration.WithReportArchiver(archiver))
	}
	syncs := appintegration.NewSyncManager(configRepo, orderRepo, aggregator, dedup, store,
		appintegration.SyncManagerConfig{
			LockTTL:          cfg.Sync.LockTTL,
			Overlap:          cfg.Sync.Overlap,
			FirstRunLookback: cfg.Sync.FirstRunLookback,
		},
		log,
		syncOpts...,
	)

	var trigger *scheduler.SyncTrigger
	if cfg.Sync.TriggerEnabled {
		triggerCfg := scheduler.DefaultSyncTriggerConfig()
		triggerCfg.CheckInterval = cfg.Sync.CheckInterval
		trigger, err = scheduler.NewSyncTrigger(triggerCfg, syncs, log)
		if err != nil {
			log.Fatal("Failed to create sync trigger", zap.Error(err))
		}
		if err := trigger.Start(ctx); err != nil {
			log.Fatal("Failed to start sync trigger", zap.Error(err))
		}
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	checks := map[string]handler.Pinger{"database": db}
	if sharedStore {
		checks["cache"] = redisStore
	}
	webhookHandler := handler.NewWebhookHandler(connectors, credentials, syncs, log,
		handler.WithWebhookRecorder(syncMetrics),
	)

	limiterCtx, stopLimiter := context.WithCancel(ctx)
	defer stopLimiter()
	var webhookLimiter *middleware.RateLimiter
	if cfg.HTTP.WebhookRateLimit > 0 {
		webhookLimiter = middleware.NewRateLimiter(cfg.HTTP.WebhookRateLimit, cfg.HTTP.WebhookRateWindow)
		go webhookLimiter.RunCleanup(limiterCtx)
	}

	var httpMeter = meter
	if !mp.IsEnabled() {
		httpMeter = nil
	}
	engine := router.NewEngine(router.Config{
		Logger: log,
		Meter:  httpMeter,
		Tracing: middleware.TracingConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			Enabled:        cfg.Telemetry.Enabled,
			TracerProvider: tp.Provider(),
		},
		Profiling: middleware.ProfilingConfig{
			Enabled:   cfg.Profiling.Enabled,
			SkipPaths: middleware.DefaultProfilingConfig().SkipPaths,
		},
		MaxBodyBytes:   cfg.HTTP.MaxBodySize,
		WebhookLimiter: webhookLimiter,
	}, router.Handlers{
		Health:  handler.NewHealthHandler(checks),
		Sync:    handler.NewSyncHandler(syncs),
		Webhook: webhookHandler,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := webhookHandler.Wait(shutdownCtx); err != nil {
		log.Warn("Webhook syncs still running at shutdown", zap.Error(err))
	}
	if trigger != nil {
		if err := trigger.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping sync trigger", zap.Error(err))
		}
	}
	stopLimiter()

	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}
	if err := mp.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")

	// The bridged logger writes to lp, so it goes last.
	_ = logger.Sync(log)
	if err := lp.Shutdown(shutdownCtx); err != nil {
		baseLog.Error("Error shutting down logger provider", zap.Error(err))
	}
}

func runMigrations(db *persistence.Database, path string, log *zap.Logger) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}

	opts := []migration.Option{migration.WithLogger(log)}
	if path != "" {
		opts = append(opts, migration.WithPath(path))
	}
	m, err := migration.New(sqlDB, opts...)
	if err != nil {
		return err
	}
	// Close would also close sqlDB, which the server keeps using.
	return m.Up()
}

func platformSettings(p config.PlatformsConfig) map[integration.PlatformCode]ecommerce.PlatformSettings {
	return map[integration.PlatformCode]ecommerce.PlatformSettings{
		integration.PlatformCodeTaobao: ecommerce.SettingsFromConfig(p.Taobao),
		integration.PlatformCodeJD:     ecommerce.SettingsFromConfig(p.JD),
		integration.PlatformCodeDouyin: ecommerce.SettingsFromConfig(p.Douyin),
		integration.PlatformCodePDD:    ecommerce.SettingsFromConfig(p.PDD),
	}
}
