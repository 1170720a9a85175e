package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smarthospital/vitals/pkg/common/config"
	"github.com/smarthospital/vitals/pkg/common/database"
	"github.com/smarthospital/vitals/pkg/common/kafka"
	"github.com/smarthospital/vitals/pkg/common/logger"
	"github.com/smarthospital/vitals/pkg/devices"
	"github.com/smarthospital/vitals/pkg/gateway/routes"
	"github.com/smarthospital/vitals/pkg/observability/metrics"
	"github.com/smarthospital/vitals/pkg/validation"
	"github.com/smarthospital/vitals/pkg/vitals"
)

// publisher satisfies both the device and vital event interfaces.
type publisher interface {
	devices.EventPublisher
	vitals.EventPublisher
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load configuration")
	}
	logger.Init(cfg.LogLevel)

	if cfg.DeviceMasterKey == "" {
		logger.Log.Warn("DEVICE_MASTER_KEY is empty; only issued device credentials are accepted")
	}

	db, err := database.OpenPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres(db)

	deviceRepo := devices.NewRepository(db)
	if err := deviceRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate device tables")
	}

	redisClient, err := database.OpenRedis(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to redis")
	}
	defer database.CloseRedis(redisClient)

	var cache *vitals.LatestCache
	if redisClient != nil {
		cache = vitals.NewLatestCache(redisClient, cfg.LatestCacheTTL)
	}
	store := vitals.NewStore(db, cache)
	if err := store.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate vital tables")
	}

	var ledger vitals.Ledger
	var gormLedger *vitals.GormLedger
	switch cfg.IdempotencyBackend {
	case config.IdempotencyBackendRedis:
		ledger = vitals.NewRedisLedger(redisClient, cfg.IdempotencyTTL)
	default:
		gormLedger = vitals.NewGormLedger(db)
		if err := gormLedger.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("failed to migrate idempotency table")
		}
		ledger = gormLedger
	}

	// Left as a nil interface when Kafka is off so both services skip publishing.
	var events publisher
	if cfg.KafkaEnabled {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaVitalsTopic)
		defer producer.Close()
		events = producer
	}

	validator, err := validation.NewValidator()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to compile validation schemas")
	}

	m := metrics.New()
	registry := devices.NewRegistry(deviceRepo, events, m)
	service := vitals.NewService(store, ledger, registry, events, m)

	router := routes.NewRouter(routes.RouterConfig{
		Health:         routes.NewHealthHandler(db, redisClient),
		Devices:        routes.NewDeviceHandler(validator, registry, m),
		Vitals:         routes.NewVitalHandler(validator, service, m),
		Guard:          devices.NewGuard(cfg.DeviceMasterKey, deviceRepo),
		Metrics:        m,
		MaxRequestBody: cfg.MaxRequestBody,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":                cfg.ServerHost,
			"port":                cfg.ServerPort,
			"idempotency_backend": cfg.IdempotencyBackend,
			"redis":               redisClient != nil,
			"kafka":               cfg.KafkaEnabled,
		}).Info("Vitals Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	if gormLedger != nil {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					removed, err := gormLedger.CleanupExpired(ctx, cfg.IdempotencyTTL)
					if err != nil {
						logger.Log.WithError(err).Warn("idempotency cleanup failed")
						continue
					}
					if removed > 0 {
						logger.Log.WithField("removed", removed).Info("expired idempotency keys removed")
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Vitals Service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Vitals Service stopped")
}
