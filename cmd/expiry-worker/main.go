package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prohmpiriya/purchase-saga/internal/metrics"
	"github.com/prohmpiriya/purchase-saga/internal/repository"
	"github.com/prohmpiriya/purchase-saga/internal/worker"
	"github.com/prohmpiriya/purchase-saga/pkg/config"
	"github.com/prohmpiriya/purchase-saga/pkg/database"
	"github.com/prohmpiriya/purchase-saga/pkg/logger"
	"github.com/prohmpiriya/purchase-saga/pkg/telemetry"
)

// The expiry worker runs the reservation sweeper as its own process, so a
// deployment can keep reclaiming stranded stock while API nodes restart. It
// needs PostgreSQL only; expiry never publishes events.
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: "expiry-worker",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Reservation Expiry Worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry tracing
	if cfg.OTel.Enabled {
		_, err := telemetry.Init(ctx, &telemetry.Config{
			Enabled:        true,
			ServiceName:    "expiry-worker",
			ServiceVersion: cfg.App.Version,
			Environment:    cfg.App.Environment,
			CollectorAddr:  cfg.OTel.CollectorAddr,
		})
		if err != nil {
			appLog.Warn(fmt.Sprintf("Failed to initialize tracer (continuing without tracing): %v", err))
		} else {
			defer telemetry.Shutdown(context.Background())
			appLog.Info("OpenTelemetry tracing initialized")
		}
	}
	if err := metrics.Init(); err != nil {
		appLog.Warn(fmt.Sprintf("Failed to initialize metrics (continuing without): %v", err))
	}

	// Initialize PostgreSQL connection
	dbCfg := &database.PostgresConfig{
		Host:          cfg.Database.Host,
		Port:          cfg.Database.Port,
		User:          cfg.Database.User,
		Password:      cfg.Database.Password,
		Database:      cfg.Database.DBName,
		SSLMode:       cfg.Database.SSLMode,
		MaxConns:      20,
		MinConns:      5,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	}
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	defer db.Close()
	appLog.Info("PostgreSQL connected")

	// Create and start the sweeper
	sweeper := worker.NewReservationExpiryWorker(
		repository.NewPostgresItemReservationRepository(db.Pool()),
		repository.NewPostgresItemRepository(db.Pool()),
		&worker.ExpiryWorkerConfig{
			ScanInterval: cfg.Saga.SweepInterval,
			BatchSize:    cfg.Saga.SweepBatchSize,
		},
	)
	if err := sweeper.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start expiry worker: %v", err))
	}
	appLog.Info(fmt.Sprintf("Expiry worker started (interval: %s, batch: %d)",
		cfg.Saga.SweepInterval, cfg.Saga.SweepBatchSize))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down worker...")
	sweeper.Stop()
	cancel()

	appLog.Info("Worker exited gracefully")
}
