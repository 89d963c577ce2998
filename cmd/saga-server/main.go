package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/purchase-saga/internal/bus"
	"github.com/prohmpiriya/purchase-saga/internal/di"
	"github.com/prohmpiriya/purchase-saga/internal/gateway"
	"github.com/prohmpiriya/purchase-saga/internal/metrics"
	"github.com/prohmpiriya/purchase-saga/internal/saga"
	"github.com/prohmpiriya/purchase-saga/internal/service"
	"github.com/prohmpiriya/purchase-saga/pkg/config"
	"github.com/prohmpiriya/purchase-saga/pkg/database"
	"github.com/prohmpiriya/purchase-saga/pkg/logger"
	"github.com/prohmpiriya/purchase-saga/pkg/middleware"
	pkgredis "github.com/prohmpiriya/purchase-saga/pkg/redis"
	"github.com/prohmpiriya/purchase-saga/pkg/retry"
	"github.com/prohmpiriya/purchase-saga/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: "saga-server",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Purchase Saga Server...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry tracing
	if cfg.OTel.Enabled {
		_, err := telemetry.Init(ctx, &telemetry.Config{
			Enabled:        true,
			ServiceName:    cfg.OTel.ServiceName,
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

	// Initialize database connection
	dbCfg := &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MinIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  5 * time.Second,
		MaxRetries:      3,
		RetryInterval:   time.Second,
	}
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Database connection failed: %v", err))
	}
	defer db.Close()
	appLog.Info(fmt.Sprintf("Database connected (pool: min=%d, max=%d)", dbCfg.MinConns, dbCfg.MaxConns))

	// Initialize Redis connection
	redisCfg := &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		MaxRetries:    3,
		RetryInterval: 100 * time.Millisecond,
	}
	redisClient, err := pkgredis.NewClient(ctx, redisCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Redis connection failed: %v", err))
	}
	defer redisClient.Close()
	appLog.Info(fmt.Sprintf("Redis connected (pool: %d, minIdle: %d)", redisCfg.PoolSize, redisCfg.MinIdleConns))

	// Event bus: Kafka when reachable, in-process otherwise. The in-process
	// fallback keeps a single node serviceable but spans one process only.
	var eventBus bus.EventBus
	kafkaBus, err := bus.NewKafkaBus(ctx, &bus.KafkaBusConfig{
		Brokers:  cfg.Kafka.Brokers,
		GroupID:  cfg.Kafka.ConsumerGroup,
		ClientID: cfg.Kafka.ClientID,
		DLQTopic: cfg.Kafka.DLQTopic,
		Source:   "saga-server",
		RetryConfig: &retry.Config{
			MaxRetries:      cfg.Saga.HandlerMaxRetries,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
	})
	if err != nil {
		appLog.Warn(fmt.Sprintf("Kafka connection failed, using in-process bus: %v", err))
		eventBus = bus.NewMemoryBus(nil)
	} else {
		eventBus = kafkaBus
		appLog.Info(fmt.Sprintf("Kafka event bus connected (brokers: %v)", cfg.Kafka.Brokers))
	}

	// Payment gateway
	var paymentGateway gateway.PaymentGateway
	if cfg.Payment.Gateway == string(gateway.TypeStripe) {
		paymentGateway, err = gateway.New(cfg.Payment.Gateway, &gateway.Config{
			SecretKey:   cfg.Payment.StripeSecretKey,
			Environment: cfg.App.Environment,
		})
		if err != nil {
			appLog.Fatal(fmt.Sprintf("Payment gateway init failed: %v", err))
		}
		appLog.Info("Stripe payment gateway connected")
	} else {
		paymentGateway = gateway.NewMockGateway(&gateway.MockGatewayConfig{
			SuccessRate: cfg.Payment.MockSuccessRate,
			Delay:       time.Duration(cfg.Payment.MockDelayMs) * time.Millisecond,
		})
		appLog.Info(fmt.Sprintf("Mock payment gateway ready (success rate: %.2f)", cfg.Payment.MockSuccessRate))
	}

	// Build dependency injection container
	container := di.NewContainer(&di.ContainerConfig{
		DB:       db,
		Redis:    redisClient,
		Bus:      eventBus,
		Gateway:  paymentGateway,
		Saga:     &cfg.Saga,
		Outbox:   &cfg.Outbox,
		Currency: cfg.Payment.Currency,
		ServiceConfig: &service.OrderServiceConfig{
			MaxQuantity: 10,
		},
	})

	// Pre-load Lua scripts into Redis
	if err := container.CouponUsage.LoadScripts(ctx); err != nil {
		appLog.Warn(fmt.Sprintf("Failed to pre-load Lua scripts: %v", err))
	} else {
		appLog.Info("Lua scripts pre-loaded into Redis")
	}

	// Subscribe every participant, then start delivery
	if err := saga.Register(eventBus, container.Participants()...); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to register saga participants: %v", err))
	}
	if err := eventBus.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start event bus: %v", err))
	}
	appLog.Info("Saga participants registered, event bus started")

	// Start background workers
	container.AuditConsumer.Start(ctx)
	if err := container.OutboxWorker.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start outbox worker: %v", err))
	}
	if err := container.ExpiryWorker.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start expiry worker: %v", err))
	}
	appLog.Info("Outbox worker and expiry sweeper started")

	// Setup Gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
		gin.DisableConsoleColor()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	// Health check endpoints
	router.GET("/health", container.HealthHandler.Health)
	router.GET("/health/ready", container.HealthHandler.Ready)

	// API routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"version": cfg.App.Version,
				"service": "saga-server",
			})
		})

		orders := v1.Group("/orders")
		orders.Use(userIDMiddleware())

		idempotencyConfig := middleware.DefaultIdempotencyConfig(redisClient.Client())
		idempotencyConfig.SkipPaths = []string{"/health", "/health/ready"}

		{
			orders.POST("", middleware.IdempotencyMiddleware(idempotencyConfig), container.OrderHandler.CreateOrder)
			orders.GET("", container.OrderHandler.GetUserOrders)
			orders.GET("/:id", container.OrderHandler.GetOrder)
			orders.GET("/:id/timeline", container.OrderHandler.GetOrderTimeline)
		}
	}

	// Operational endpoints
	admin := router.Group("/admin")
	{
		admin.GET("/saga/stats", container.AdminHandler.GetSagaStats)
		admin.GET("/saga/stuck", container.AdminHandler.GetStuckOrders)
		admin.POST("/saga/sweep", container.AdminHandler.RunSweep)
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	// Start server in goroutine
	go func() {
		appLog.Info(fmt.Sprintf("Purchase Saga Server listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	// Stop admitting requests first, then drain the pipeline back to front:
	// workers stop feeding the bus, the audit consumer flushes, the bus closes.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(fmt.Sprintf("HTTP server forced to shutdown: %v", err))
	}

	container.OutboxWorker.Stop()
	container.ExpiryWorker.Stop()
	container.AuditConsumer.Stop()

	if err := eventBus.Close(); err != nil {
		appLog.Error(fmt.Sprintf("Event bus close failed: %v", err))
	}

	appLog.Info("Server exited gracefully")
}

// userIDMiddleware extracts user_id from the X-User-ID header. Requests
// without one are rejected by the handlers.
func userIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := c.GetHeader("X-User-ID"); userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	}
}
