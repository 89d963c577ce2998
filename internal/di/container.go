package di

import (
	"github.com/prohmpiriya/purchase-saga/internal/bus"
	"github.com/prohmpiriya/purchase-saga/internal/gateway"
	"github.com/prohmpiriya/purchase-saga/internal/handler"
	"github.com/prohmpiriya/purchase-saga/internal/repository"
	"github.com/prohmpiriya/purchase-saga/internal/saga"
	"github.com/prohmpiriya/purchase-saga/internal/service"
	"github.com/prohmpiriya/purchase-saga/internal/worker"
	"github.com/prohmpiriya/purchase-saga/pkg/config"
	"github.com/prohmpiriya/purchase-saga/pkg/database"
	"github.com/prohmpiriya/purchase-saga/pkg/redis"
)

// Container holds all dependencies for the saga service
type Container struct {
	// Infrastructure
	DB      *database.PostgresDB
	Redis   *redis.Client
	Bus     bus.EventBus
	Gateway gateway.PaymentGateway

	// Repositories. CouponUsage stays concrete so callers can pre-load its
	// Lua scripts.
	OrderRepo           repository.OrderRepository
	UserRepo            repository.UserRepository
	ItemRepo            repository.ItemRepository
	ItemReservationRepo repository.ItemReservationRepository
	CouponRepo          repository.CouponRepository
	OutboxRepo          repository.OutboxRepository
	AuditRepo           repository.AuditRepository
	ReservationStore    repository.ReservationStore
	CouponUsage         *repository.RedisCouponUsageStore
	LockRepo            repository.LockRepository

	// Saga participants
	OrderParticipant        *saga.OrderParticipant
	UserParticipant         *saga.UserParticipant
	InventoryParticipant    *saga.InventoryParticipant
	ItemParticipant         *saga.ItemParticipant
	PaymentParticipant      *saga.PaymentParticipant
	CouponParticipant       *saga.CouponParticipant
	NotificationParticipant *saga.NotificationParticipant
	AuditConsumer           *saga.AuditConsumer

	// Workers
	OutboxWorker *worker.OutboxWorker
	ExpiryWorker *worker.ReservationExpiryWorker

	// Services
	OrderService service.OrderService

	// Handlers
	OrderHandler  *handler.OrderHandler
	HealthHandler *handler.HealthHandler
	AdminHandler  *handler.AdminHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	DB      *database.PostgresDB
	Redis   *redis.Client
	Bus     bus.EventBus
	Gateway gateway.PaymentGateway

	Saga     *config.SagaConfig
	Outbox   *config.OutboxConfig
	Currency string

	ServiceConfig *service.OrderServiceConfig
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		DB:      cfg.DB,
		Redis:   cfg.Redis,
		Bus:     cfg.Bus,
		Gateway: cfg.Gateway,
	}

	// Initialize repositories
	pool := cfg.DB.Pool()
	c.OrderRepo = repository.NewPostgresOrderRepository(pool)
	c.UserRepo = repository.NewPostgresUserRepository(pool)
	c.ItemRepo = repository.NewPostgresItemRepository(pool)
	c.ItemReservationRepo = repository.NewPostgresItemReservationRepository(pool)
	c.CouponRepo = repository.NewPostgresCouponRepository(pool)
	c.OutboxRepo = repository.NewPostgresOutboxRepository(pool)
	c.AuditRepo = repository.NewPostgresAuditRepository(pool)
	c.ReservationStore = repository.NewRedisReservationStore(cfg.Redis)
	c.CouponUsage = repository.NewRedisCouponUsageStore(cfg.Redis)
	c.LockRepo = repository.NewRedisLockRepository(cfg.Redis)

	// Initialize saga participants
	c.OrderParticipant = saga.NewOrderParticipant(c.OrderRepo, c.UserRepo, c.ItemRepo)
	c.UserParticipant = saga.NewUserParticipant(c.UserRepo, c.ReservationStore, cfg.Bus)
	c.InventoryParticipant = saga.NewInventoryParticipant(c.UserRepo, c.ReservationStore, c.LockRepo, cfg.Bus)
	c.ItemParticipant = saga.NewItemParticipant(c.ItemRepo, c.ItemReservationRepo, cfg.Bus)
	c.PaymentParticipant = saga.NewPaymentParticipant(c.ReservationStore, cfg.Gateway, cfg.Bus)
	c.CouponParticipant = saga.NewCouponParticipant(c.CouponRepo, c.CouponUsage, cfg.Bus)
	c.NotificationParticipant = saga.NewNotificationParticipant(cfg.Bus)
	c.AuditConsumer = saga.NewAuditConsumer(c.AuditRepo, 0, 0)

	if cfg.Saga != nil {
		c.UserParticipant.SetReservationTTL(cfg.Saga.ReservationTTL)
		c.InventoryParticipant.SetReservationTTL(cfg.Saga.ReservationTTL)
		c.InventoryParticipant.SetLockTTL(cfg.Saga.LockTTL)
		c.ItemParticipant.SetReservationTTL(cfg.Saga.ItemReservationTTL)
		c.CouponParticipant.SetReservationTTL(cfg.Saga.ReservationTTL)
	}
	c.PaymentParticipant.SetCurrency(cfg.Currency)

	// Initialize workers
	c.OutboxWorker = worker.NewOutboxWorker(c.OutboxRepo, cfg.Bus, outboxWorkerConfig(cfg.Outbox))
	c.ExpiryWorker = worker.NewReservationExpiryWorker(
		c.ItemReservationRepo,
		c.ItemRepo,
		expiryWorkerConfig(cfg.Saga),
	)

	// Initialize services
	c.OrderService = service.NewOrderService(
		c.OrderParticipant,
		c.OrderRepo,
		c.AuditRepo,
		cfg.ServiceConfig,
	)

	// Initialize handlers
	var pinger handler.BusPinger
	if p, ok := cfg.Bus.(handler.BusPinger); ok {
		pinger = p
	}
	c.OrderHandler = handler.NewOrderHandler(c.OrderService)
	c.HealthHandler = handler.NewHealthHandler(cfg.DB, cfg.Redis, pinger)
	c.AdminHandler = handler.NewAdminHandler(cfg.DB, c.OrderRepo, c.OutboxWorker, c.ExpiryWorker, c.AuditConsumer)

	return c
}

// Participants returns every saga member for bus registration, the audit
// consumer included.
func (c *Container) Participants() []saga.Participant {
	return []saga.Participant{
		c.OrderParticipant,
		c.UserParticipant,
		c.InventoryParticipant,
		c.ItemParticipant,
		c.PaymentParticipant,
		c.CouponParticipant,
		c.NotificationParticipant,
		c.AuditConsumer,
	}
}

// Config translation only; the worker constructors backfill zero fields.
func outboxWorkerConfig(cfg *config.OutboxConfig) *worker.OutboxWorkerConfig {
	if cfg == nil {
		return nil
	}
	return &worker.OutboxWorkerConfig{
		PollInterval:         cfg.PollInterval,
		BatchSize:            cfg.BatchSize,
		RetryInterval:        cfg.RetryInterval,
		CleanupInterval:      cfg.CleanupInterval,
		CleanupRetentionDays: cfg.CleanupRetentionDays,
	}
}

func expiryWorkerConfig(cfg *config.SagaConfig) *worker.ExpiryWorkerConfig {
	if cfg == nil {
		return nil
	}
	return &worker.ExpiryWorkerConfig{
		ScanInterval: cfg.SweepInterval,
		BatchSize:    cfg.SweepBatchSize,
	}
}
