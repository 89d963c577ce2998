package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prohmpiriya/purchase-saga/internal/bus"
	"github.com/prohmpiriya/purchase-saga/internal/di"
	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/internal/gateway"
	"github.com/prohmpiriya/purchase-saga/internal/saga"
	"github.com/prohmpiriya/purchase-saga/pkg/config"
	"github.com/prohmpiriya/purchase-saga/pkg/database"
	"github.com/prohmpiriya/purchase-saga/pkg/logger"
	pkgredis "github.com/prohmpiriya/purchase-saga/pkg/redis"
)

// saga-demo runs a handful of purchases end to end on the in-process bus and
// prints the event chain each one produced. It needs PostgreSQL and Redis
// with the schema from scripts/init-db.sql already applied; seeded rows are
// left in place so the orders can be inspected over the API afterwards.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Participants log at info; warn keeps the narrative readable
	if err := logger.Init(&logger.Config{
		Level:       "warn",
		ServiceName: "saga-demo",
		Development: true,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		User:           cfg.Database.User,
		Password:       cfg.Database.Password,
		Database:       cfg.Database.DBName,
		SSLMode:        cfg.Database.SSLMode,
		MaxConns:       10,
		MinConns:       2,
		ConnectTimeout: 5 * time.Second,
		MaxRetries:     3,
		RetryInterval:  time.Second,
	})
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer db.Close()

	if _, err := db.Pool().Exec(ctx, "SELECT 1 FROM orders LIMIT 1"); err != nil {
		log.Fatalf("Schema not found; apply scripts/init-db.sql first: %v", err)
	}

	redisClient, err := pkgredis.NewClient(ctx, &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxRetries:    3,
		RetryInterval: time.Second,
	})
	if err != nil {
		log.Fatalf("Redis connection failed: %v", err)
	}
	defer redisClient.Close()

	demo := newDemo(ctx, cfg, db, redisClient)
	defer demo.shutdown()

	demo.scenarioPurchaseCompletes(ctx)
	demo.scenarioCouponDiscount(ctx)
	demo.scenarioInsufficientBalance(ctx)
	demo.scenarioPaymentDeclined(ctx)
	demo.scenarioRushNeverOversells(ctx)

	fmt.Println("\nDone. Orders survive in the database; query them over the API.")
}

// demo bundles the running saga plus an event tap that records, per order,
// the chain of events the bus delivered.
type demo struct {
	run       string
	container *di.Container
	bus       *bus.MemoryBus
	gateway   *gateway.MockGateway

	mu     sync.Mutex
	chains map[string][]string
}

func newDemo(ctx context.Context, cfg *config.Config, db *database.PostgresDB, redisClient *pkgredis.Client) *demo {
	memBus := bus.NewMemoryBus(&bus.MemoryBusConfig{QueueSize: 4096})
	mockGw := gateway.NewMockGateway(&gateway.MockGatewayConfig{SuccessRate: 1.0})

	container := di.NewContainer(&di.ContainerConfig{
		DB:      db,
		Redis:   redisClient,
		Bus:     memBus,
		Gateway: mockGw,
		Saga:    &cfg.Saga,
		Outbox: &config.OutboxConfig{
			PollInterval:         25 * time.Millisecond,
			BatchSize:            100,
			RetryInterval:        250 * time.Millisecond,
			CleanupInterval:      time.Hour,
			CleanupRetentionDays: 7,
		},
		Currency: cfg.Payment.Currency,
	})

	d := &demo{
		run:       fmt.Sprintf("demo-%d", time.Now().Unix()),
		container: container,
		bus:       memBus,
		gateway:   mockGw,
		chains:    make(map[string][]string),
	}

	if err := saga.Register(memBus, container.Participants()...); err != nil {
		log.Fatalf("Failed to register participants: %v", err)
	}
	for _, eventType := range domain.AllEventTypes() {
		if err := memBus.Subscribe(eventType, d.record); err != nil {
			log.Fatalf("Failed to subscribe event tap: %v", err)
		}
	}

	if err := memBus.Start(ctx); err != nil {
		log.Fatalf("Failed to start bus: %v", err)
	}
	container.AuditConsumer.Start(ctx)
	if err := container.OutboxWorker.Start(ctx); err != nil {
		log.Fatalf("Failed to start outbox worker: %v", err)
	}

	return d
}

func (d *demo) shutdown() {
	d.container.OutboxWorker.Stop()
	d.bus.Wait()
	d.container.AuditConsumer.Stop()
	d.bus.Close()
}

func (d *demo) record(ctx context.Context, event *domain.Event) error {
	orderID := bus.PartitionKey(event)
	if orderID == "" {
		return nil
	}
	d.mu.Lock()
	d.chains[orderID] = append(d.chains[orderID], event.EventType)
	d.mu.Unlock()
	return nil
}

func (d *demo) chain(orderID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.Join(d.chains[orderID], " -> ")
}

// id namespaces seeded rows per run so reruns never collide
func (d *demo) id(suffix string) string {
	return d.run + "-" + suffix
}

func (d *demo) seedUser(ctx context.Context, suffix string, balance float64) string {
	id := d.id(suffix)
	now := time.Now().UTC()
	err := d.container.UserRepo.Create(ctx, &domain.User{
		ID:                id,
		Username:          "buyer-" + suffix,
		Balance:           balance,
		IsActive:          true,
		MaxInventorySlots: 5,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		log.Fatalf("Failed to seed user %s: %v", id, err)
	}
	return id
}

func (d *demo) seedItem(ctx context.Context, suffix string, price float64, stock int) string {
	id := d.id(suffix)
	now := time.Now().UTC()
	err := d.container.ItemRepo.Create(ctx, &domain.Item{
		ID:        id,
		Name:      "Festival Ticket " + suffix,
		Price:     price,
		Stock:     stock,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		log.Fatalf("Failed to seed item %s: %v", id, err)
	}
	return id
}

func (d *demo) seedCoupon(ctx context.Context, suffix, userID string) string {
	now := time.Now().UTC()
	couponID := d.id("cpn-" + suffix)
	err := d.container.CouponRepo.CreateCoupon(ctx, &domain.Coupon{
		ID:             couponID,
		Code:           strings.ToUpper(d.run) + "-" + suffix,
		DiscountType:   domain.DiscountTypePercentage,
		DiscountValue:  10,
		MinOrderAmount: 50,
		UsageLimit:     100,
		IsActive:       true,
		ValidFrom:      now.Add(-time.Hour),
		ValidUntil:     now.Add(time.Hour),
		CreatedAt:      now,
	})
	if err != nil {
		log.Fatalf("Failed to seed coupon: %v", err)
	}
	userCouponID := d.id("uc-" + suffix)
	err = d.container.CouponRepo.CreateUserCoupon(ctx, &domain.UserCoupon{
		ID:         userCouponID,
		UserID:     userID,
		CouponID:   couponID,
		Status:     domain.UserCouponStatusActive,
		AssignedAt: now,
		UpdatedAt:  now,
	})
	if err != nil {
		log.Fatalf("Failed to seed user coupon: %v", err)
	}
	return userCouponID
}

func (d *demo) createOrder(ctx context.Context, userID, itemID string, quantity int, userCouponID string) *domain.Order {
	order, err := d.container.OrderParticipant.CreateOrder(ctx, userID, itemID, quantity, userCouponID)
	if err != nil {
		log.Fatalf("Failed to create order: %v", err)
	}
	return order
}

func (d *demo) waitSettled(ctx context.Context, orderID string) *domain.Order {
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		order, err := d.container.OrderRepo.GetByID(ctx, orderID)
		if err == nil && order.Status.IsTerminal() {
			// Compensations ride sibling handlers of the terminal event
			time.Sleep(200 * time.Millisecond)
			return order
		}
		time.Sleep(25 * time.Millisecond)
	}
	fmt.Printf("  order %s never settled\n", orderID)
	os.Exit(1)
	return nil
}

func (d *demo) balance(ctx context.Context, userID string) float64 {
	user, err := d.container.UserRepo.GetByID(ctx, userID)
	if err != nil {
		log.Fatalf("Failed to get user: %v", err)
	}
	return user.Balance
}

func (d *demo) stock(ctx context.Context, itemID string) int {
	item, err := d.container.ItemRepo.GetByID(ctx, itemID)
	if err != nil {
		log.Fatalf("Failed to get item: %v", err)
	}
	return item.Stock
}

func (d *demo) scenarioPurchaseCompletes(ctx context.Context) {
	fmt.Println("=== Purchase completes ===")
	userID := d.seedUser(ctx, "u-happy", 1000)
	itemID := d.seedItem(ctx, "i-happy", 100, 10)

	order := d.createOrder(ctx, userID, itemID, 2, "")
	settled := d.waitSettled(ctx, order.ID)

	fmt.Printf("  order %s: %s, paid %.2f\n", settled.ID, settled.Status, settled.FinalAmount)
	fmt.Printf("  balance %.2f (was 1000.00), stock %d (was 10)\n",
		d.balance(ctx, userID), d.stock(ctx, itemID))
	fmt.Printf("  chain: %s\n\n", d.chain(order.ID))
}

func (d *demo) scenarioCouponDiscount(ctx context.Context) {
	fmt.Println("=== Coupon takes 10% off ===")
	userID := d.seedUser(ctx, "u-coupon", 1000)
	itemID := d.seedItem(ctx, "i-coupon", 100, 10)
	userCouponID := d.seedCoupon(ctx, "ten", userID)

	order := d.createOrder(ctx, userID, itemID, 2, userCouponID)
	settled := d.waitSettled(ctx, order.ID)

	fmt.Printf("  order %s: %s, total %.2f, discount %.2f, paid %.2f\n",
		settled.ID, settled.Status, settled.TotalAmount, settled.DiscountAmount, settled.FinalAmount)
	fmt.Printf("  balance %.2f (was 1000.00)\n", d.balance(ctx, userID))
	fmt.Printf("  chain: %s\n\n", d.chain(order.ID))
}

func (d *demo) scenarioInsufficientBalance(ctx context.Context) {
	fmt.Println("=== Insufficient balance fails before anything is held ===")
	userID := d.seedUser(ctx, "u-poor", 50)
	itemID := d.seedItem(ctx, "i-poor", 100, 10)

	order := d.createOrder(ctx, userID, itemID, 2, "")
	settled := d.waitSettled(ctx, order.ID)

	fmt.Printf("  order %s: %s at %s (%s)\n",
		settled.ID, settled.Status, settled.FailedStep, settled.FailureReason)
	fmt.Printf("  balance %.2f (untouched), stock %d (untouched)\n",
		d.balance(ctx, userID), d.stock(ctx, itemID))
	fmt.Printf("  chain: %s\n\n", d.chain(order.ID))
}

func (d *demo) scenarioPaymentDeclined(ctx context.Context) {
	fmt.Println("=== Payment declined, everything compensates ===")
	userID := d.seedUser(ctx, "u-declined", 1000)
	itemID := d.seedItem(ctx, "i-declined", 100, 10)

	d.gateway.SetSuccessRate(0)
	defer d.gateway.SetSuccessRate(1.0)

	order := d.createOrder(ctx, userID, itemID, 2, "")
	settled := d.waitSettled(ctx, order.ID)

	fmt.Printf("  order %s: %s at %s (%s)\n",
		settled.ID, settled.Status, settled.FailedStep, settled.FailureReason)
	fmt.Printf("  balance %.2f (restored), stock %d (restored)\n",
		d.balance(ctx, userID), d.stock(ctx, itemID))
	fmt.Printf("  chain: %s\n\n", d.chain(order.ID))
}

func (d *demo) scenarioRushNeverOversells(ctx context.Context) {
	const buyers = 6
	const stock = 3

	fmt.Printf("=== %d buyers rush %d tickets ===\n", buyers, stock)
	itemID := d.seedItem(ctx, "i-rush", 100, stock)

	userIDs := make([]string, buyers)
	for i := range userIDs {
		userIDs[i] = d.seedUser(ctx, fmt.Sprintf("u-rush-%d", i), 1000)
	}

	var wg sync.WaitGroup
	orders := make([]*domain.Order, buyers)
	for i, userID := range userIDs {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			orders[i] = d.createOrder(ctx, userID, itemID, 1, "")
		}(i, userID)
	}
	wg.Wait()

	completed, failed := 0, 0
	for _, order := range orders {
		settled := d.waitSettled(ctx, order.ID)
		if settled.Status == domain.OrderStatusCompleted {
			completed++
		} else {
			failed++
		}
	}

	fmt.Printf("  %d completed, %d failed on stock, %d tickets left\n",
		completed, failed, d.stock(ctx, itemID))
}
