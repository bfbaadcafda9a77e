// cmd/notification-hub/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"notification-hub/internal/api"
	"notification-hub/internal/common/camunda"
	"notification-hub/internal/common/config"
	"notification-hub/internal/common/database"
	"notification-hub/internal/common/logger"
	"notification-hub/internal/common/observability"
	"notification-hub/internal/dispatch"
	"notification-hub/internal/events"
	"notification-hub/internal/inbox"
	"notification-hub/internal/preferences"
	"notification-hub/internal/store"

	sbn "notification-hub/internal/workers/notifications/send-bulk-notification"
	sn "notification-hub/internal/workers/notifications/send-notification"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}).With(zap.String("service", cfg.App.Name), zap.String("environment", cfg.App.Environment))
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)
	zapLog.Info("Starting notification hub...", zap.String("version", cfg.App.Version))

	ctx := context.Background()

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Warn("otel exporter unavailable, dispatch metrics disabled", zap.Error(err))
	}
	defer obs.Shutdown(ctx)

	// --- Init SQL database with retry ---
	var sqlClient *database.SQLClient
	err = retryWithBackoff(func() error {
		var err error
		sqlClient, err = database.NewSQL(cfg.Database)
		if err != nil {
			return err
		}
		if err := sqlClient.Ping(ctx); err != nil {
			sqlClient.Close()
			return err
		}
		return nil
	}, 15, 2*time.Second, zapLog, "Database connection")
	if err != nil {
		zapLog.Fatal("database failed after retries", zap.Error(err))
	}
	defer sqlClient.Close()
	zapLog.Info("Database connected successfully", zap.String("driver", cfg.Database.Driver))

	if err := store.Migrate(ctx, sqlClient.DB); err != nil {
		zapLog.Fatal("database migration failed", zap.Error(err))
	}

	checks := map[string]api.HealthCheck{"database": sqlClient.Ping}

	// --- Init Redis with retry (only when something uses it) ---
	var redisClient *database.RedisClient
	if cfg.Events.Backend == config.EventsRedis || cfg.Preferences.CacheEnabled {
		err = retryWithBackoff(func() error {
			redisClient = database.NewRedis(cfg.Database.Redis)
			if err := redisClient.Ping(ctx); err != nil {
				redisClient.Close()
				return err
			}
			return nil
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redisClient.Close()
		checks["redis"] = redisClient.Ping
		zapLog.Info("Redis connected successfully")
	}

	// --- Event bus ---
	var bus events.Bus
	switch cfg.Events.Backend {
	case config.EventsRedis:
		bus = events.NewRedisBus(redisClient.Client, cfg.Events.ChannelPrefix, log)
	default:
		bus = events.NewLocalBus(cfg.Events.BufferSize, log)
	}
	defer bus.Close()

	// --- Core services ---
	notifications := store.NewNotificationStore(sqlClient.DB, log, store.Options{
		DefaultLimit: cfg.Sync.PageLimit,
		MaxLimit:     cfg.Sync.MaxPageLimit,
	})
	inboxService := inbox.NewService(notifications, bus, log)

	var prefStore preferences.Store = store.NewPreferenceStore(sqlClient.DB, nil)
	if cfg.Preferences.CacheEnabled {
		prefStore = preferences.NewCachedStore(prefStore, redisClient.Client, config.GetDuration(cfg.Preferences.CacheTTL), log)
	}

	keys, err := preferences.NewKeyTable(cfg.Preferences.KeyMap)
	if err != nil {
		zapLog.Fatal("invalid preference key table", zap.Error(err))
	}
	gate := preferences.NewGate(prefStore, keys, log)

	dispatcher := dispatch.New(dispatch.Config{
		BulkConcurrency: cfg.Dispatch.BulkConcurrency,
		Timeout:         config.GetDuration(cfg.Dispatch.Timeout),
	}, inboxService, gate, obs, log)

	// --- Zeebe workers ---
	var workers *camunda.Workers
	if cfg.Camunda.Enabled {
		zeebe, err := camunda.NewClient(ctx, &camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      config.GetDuration(cfg.Camunda.Timeout),
		}, log)
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zeebe.Close()
		checks["zeebe"] = zeebe.HealthCheck
		zapLog.Info("Zeebe client connected successfully")

		workers = camunda.NewWorkers(zeebe, log)

		snCfg := config.GetWorkerConfig(cfg, sn.TaskType)
		single := sn.NewHandler(sn.NewConfig(config.GetDuration(snCfg.Timeout)), dispatcher, log)
		workers.Start(sn.TaskType, snCfg, single.Handle)

		sbnCfg := config.GetWorkerConfig(cfg, sbn.TaskType)
		bulk := sbn.NewHandler(sbn.NewConfig(config.GetDuration(sbnCfg.Timeout)), dispatcher, log)
		workers.Start(sbn.TaskType, sbnCfg, bulk.Handle)
	}

	// --- HTTP API ---
	server := api.NewServer(api.Config{
		Address:         cfg.HTTP.Address,
		ShutdownTimeout: config.GetDuration(cfg.HTTP.ShutdownTimeout),
		PageLimit:       cfg.Sync.PageLimit,
		ResyncBaseWait:  config.GetDuration(cfg.Sync.ResyncBaseWait),
		ResyncMaxWait:   config.GetDuration(cfg.Sync.ResyncMaxWait),
	}, api.Deps{
		Inbox:       inboxService,
		Preferences: prefStore,
		Dispatcher:  dispatcher,
		Events:      bus,
		Checks:      checks,
	}, log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		zapLog.Info("Shutdown signal received, stopping...")
	case err := <-serverErr:
		if err != nil {
			zapLog.Error("HTTP server failed", zap.Error(err))
		}
	}

	if workers != nil {
		workers.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}

	zapLog.Info("Notification hub stopped gracefully")
}
