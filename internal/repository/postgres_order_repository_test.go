package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/pkg/database"
)

func skipIfNoIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run.")
	}
}

func setupTestDB(t *testing.T) *database.PostgresDB {
	ctx := context.Background()

	cfg := &database.PostgresConfig{
		Host:            getEnv("POSTGRES_HOST", "localhost"),
		Port:            5432,
		User:            getEnv("POSTGRES_USER", "postgres"),
		Password:        getEnv("POSTGRES_PASSWORD", ""),
		Database:        getEnv("POSTGRES_DB", "purchase_saga"),
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 1 * time.Minute,
		ConnectTimeout:  5 * time.Second,
		MaxRetries:      3,
		RetryInterval:   1 * time.Second,
	}

	db, err := database.NewPostgres(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	// Create tables if not exists
	_, err = db.Pool().Exec(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			item_id VARCHAR(64) NOT NULL,
			quantity INT NOT NULL,
			total_amount DECIMAL(12,2) NOT NULL,
			discount_amount DECIMAL(12,2) NOT NULL DEFAULT 0,
			final_amount DECIMAL(12,2) NOT NULL,
			user_coupon_id VARCHAR(64),
			status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			failure_reason TEXT,
			failed_step VARCHAR(40),
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMP WITH TIME ZONE,
			failed_at TIMESTAMP WITH TIME ZONE
		);

		CREATE TABLE IF NOT EXISTS outbox (
			id VARCHAR(36) PRIMARY KEY,
			aggregate_type VARCHAR(50) NOT NULL,
			aggregate_id VARCHAR(64) NOT NULL,
			event_type VARCHAR(100) NOT NULL,
			payload JSONB NOT NULL,
			topic VARCHAR(200) NOT NULL,
			partition_key VARCHAR(100),
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			retry_count INT NOT NULL DEFAULT 0,
			max_retries INT NOT NULL DEFAULT 5,
			last_error TEXT,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			processed_at TIMESTAMP WITH TIME ZONE,
			published_at TIMESTAMP WITH TIME ZONE
		);

		CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(100) NOT NULL,
			balance DECIMAL(12,2) NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			max_inventory_slots INT NOT NULL DEFAULT 10,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS user_inventory (
			id VARCHAR(36) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			item_id VARCHAR(64) NOT NULL,
			quantity INT NOT NULL,
			acquired_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, item_id)
		);

		CREATE TABLE IF NOT EXISTS items (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(200) NOT NULL,
			price DECIMAL(12,2) NOT NULL,
			stock INT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS item_reservations (
			id VARCHAR(36) PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL,
			item_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			reserved_quantity INT NOT NULL,
			original_stock INT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'RESERVED',
			cancel_reason TEXT,
			reserved_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS coupons (
			id VARCHAR(64) PRIMARY KEY,
			code VARCHAR(64) NOT NULL UNIQUE,
			discount_type VARCHAR(20) NOT NULL,
			discount_value DECIMAL(12,2) NOT NULL,
			max_discount DECIMAL(12,2) NOT NULL DEFAULT 0,
			min_order_amount DECIMAL(12,2) NOT NULL DEFAULT 0,
			usage_limit INT NOT NULL DEFAULT 0,
			used_count INT NOT NULL DEFAULT 0,
			applicable_items TEXT[],
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			valid_from TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			valid_until TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS user_coupons (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			coupon_id VARCHAR(64) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
			order_id VARCHAR(64),
			assigned_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			used_at TIMESTAMP WITH TIME ZONE,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS saga_audit_log (
			id VARCHAR(36) PRIMARY KEY,
			event_type VARCHAR(100) NOT NULL,
			order_id VARCHAR(64) NOT NULL,
			payload JSONB NOT NULL,
			occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
			recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
		)
	`)
	if err != nil {
		t.Fatalf("Failed to create tables: %v", err)
	}

	return db
}

func cleanupTestData(t *testing.T, db *database.PostgresDB) {
	ctx := context.Background()
	statements := []string{
		"DELETE FROM outbox WHERE aggregate_id LIKE 'test-%'",
		"DELETE FROM saga_audit_log WHERE order_id LIKE 'test-%'",
		"DELETE FROM item_reservations WHERE order_id LIKE 'test-%'",
		"DELETE FROM user_coupons WHERE id LIKE 'test-%'",
		"DELETE FROM coupons WHERE id LIKE 'test-%'",
		"DELETE FROM user_inventory WHERE user_id LIKE 'test-%'",
		"DELETE FROM items WHERE id LIKE 'test-%'",
		"DELETE FROM users WHERE id LIKE 'test-%'",
		"DELETE FROM orders WHERE id LIKE 'test-%'",
	}
	for _, stmt := range statements {
		if _, err := db.Pool().Exec(ctx, stmt); err != nil {
			t.Logf("Warning: failed to cleanup test data: %v", err)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustOutboxMessage(t *testing.T, orderID, eventType string, payload interface{}) *domain.OutboxMessage {
	t.Helper()
	msg, err := domain.NewOutboxMessage("order", orderID, eventType, eventType, payload)
	if err != nil {
		t.Fatalf("Failed to build outbox message: %v", err)
	}
	return msg
}

func countOutboxRows(t *testing.T, db *database.PostgresDB, aggregateID string) int {
	t.Helper()
	var count int
	err := db.Pool().QueryRow(context.Background(),
		"SELECT COUNT(*) FROM outbox WHERE aggregate_id = $1", aggregateID).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to count outbox rows: %v", err)
	}
	return count
}

func TestPostgresOrderRepository_CreateWithEvent(t *testing.T) {
	skipIfNoIntegration(t)

	db := setupTestDB(t)
	defer db.Close()
	defer cleanupTestData(t, db)

	repo := NewPostgresOrderRepository(db.Pool())
	ctx := context.Background()

	order := domain.NewOrder("test-order-create", "test-user-1", "test-item-1", 2, 500.00, "")
	msg := mustOutboxMessage(t, order.ID, domain.EventOrderCreated, domain.OrderCreatedPayload{
		OrderID:     order.ID,
		UserID:      order.UserID,
		ItemID:      order.ItemID,
		Quantity:    order.Quantity,
		TotalAmount: order.TotalAmount,
		FinalAmount: order.FinalAmount,
	})

	if err := repo.CreateWithEvent(ctx, order, msg); err != nil {
		t.Fatalf("Failed to create order: %v", err)
	}

	found, err := repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("Failed to get order: %v", err)
	}

	if found.ID != order.ID {
		t.Errorf("Expected ID %s, got %s", order.ID, found.ID)
	}
	if found.Status != domain.OrderStatusPending {
		t.Errorf("Expected status PENDING, got %s", found.Status)
	}
	if found.TotalAmount != 500.00 {
		t.Errorf("Expected TotalAmount 500.00, got %f", found.TotalAmount)
	}
	if found.FinalAmount != 500.00 {
		t.Errorf("Expected FinalAmount 500.00, got %f", found.FinalAmount)
	}

	// The kickoff event must land in the same transaction
	if count := countOutboxRows(t, db, order.ID); count != 1 {
		t.Errorf("Expected 1 outbox row, got %d", count)
	}
}

func TestPostgresOrderRepository_ApplyDiscountWithEvent(t *testing.T) {
	skipIfNoIntegration(t)

	db := setupTestDB(t)
	defer db.Close()
	defer cleanupTestData(t, db)

	repo := NewPostgresOrderRepository(db.Pool())
	ctx := context.Background()

	order := domain.NewOrder("test-order-discount", "test-user-1", "test-item-1", 1, 1000.00, "test-coupon-1")
	createMsg := mustOutboxMessage(t, order.ID, domain.EventCouponValidationRequested, domain.CouponValidationRequestedPayload{
		OrderID: order.ID,
	})
	if err := repo.CreateWithEvent(ctx, order, createMsg); err != nil {
		t.Fatalf("Failed to create order: %v", err)
	}

	if err := order.ApplyDiscount("test-coupon-1", 100.00, 900.00); err != nil {
		t.Fatalf("Failed to apply discount: %v", err)
	}
	discountMsg := mustOutboxMessage(t, order.ID, domain.EventOrderCreated, domain.OrderCreatedPayload{
		OrderID:     order.ID,
		TotalAmount: order.FinalAmount,
	})
	if err := repo.ApplyDiscountWithEvent(ctx, order, discountMsg); err != nil {
		t.Fatalf("Failed to persist discount: %v", err)
	}

	found, err := repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("Failed to get order: %v", err)
	}

	if found.Status != domain.OrderStatusProcessing {
		t.Errorf("Expected status PROCESSING, got %s", found.Status)
	}
	if found.DiscountAmount != 100.00 {
		t.Errorf("Expected DiscountAmount 100.00, got %f", found.DiscountAmount)
	}
	if found.FinalAmount != 900.00 {
		t.Errorf("Expected FinalAmount 900.00, got %f", found.FinalAmount)
	}

	// A redelivered validation lands on a PROCESSING order: no error, no
	// second outbox row
	repeatMsg := mustOutboxMessage(t, order.ID, domain.EventOrderCreated, domain.OrderCreatedPayload{OrderID: order.ID})
	if err := repo.ApplyDiscountWithEvent(ctx, order, repeatMsg); err != nil {
		t.Errorf("Expected repeat discount to be a no-op, got %v", err)
	}
	if count := countOutboxRows(t, db, order.ID); count != 2 {
		t.Errorf("Expected 2 outbox rows, got %d", count)
	}
}

func TestPostgresOrderRepository_CompleteWithEvent(t *testing.T) {
	skipIfNoIntegration(t)

	db := setupTestDB(t)
	defer db.Close()
	defer cleanupTestData(t, db)

	repo := NewPostgresOrderRepository(db.Pool())
	ctx := context.Background()

	order := domain.NewOrder("test-order-complete", "test-user-1", "test-item-1", 1, 300.00, "")
	createMsg := mustOutboxMessage(t, order.ID, domain.EventOrderCreated, domain.OrderCreatedPayload{OrderID: order.ID})
	if err := repo.CreateWithEvent(ctx, order, createMsg); err != nil {
		t.Fatalf("Failed to create order: %v", err)
	}

	completeMsg := mustOutboxMessage(t, order.ID, domain.EventOrderCompleted, domain.OrderCompletedPayload{
		OrderID:     order.ID,
		ItemName:    "Test Item",
		TotalAmount: 300.00,
	})
	if err := repo.CompleteWithEvent(ctx, order, completeMsg); err != nil {
		t.Fatalf("Failed to complete order: %v", err)
	}

	found, err := repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("Failed to get order: %v", err)
	}

	if found.Status != domain.OrderStatusCompleted {
		t.Errorf("Expected status COMPLETED, got %s", found.Status)
	}
	if found.CompletedAt == nil {
		t.Error("Expected CompletedAt to be set")
	}

	// Redelivered completion is a no-op without a second outbox row
	repeatMsg := mustOutboxMessage(t, order.ID, domain.EventOrderCompleted, domain.OrderCompletedPayload{OrderID: order.ID})
	if err := repo.CompleteWithEvent(ctx, order, repeatMsg); err != nil {
		t.Errorf("Expected repeat completion to be a no-op, got %v", err)
	}
	if count := countOutboxRows(t, db, order.ID); count != 2 {
		t.Errorf("Expected 2 outbox rows, got %d", count)
	}
}

func TestPostgresOrderRepository_FailWithEvent(t *testing.T) {
	skipIfNoIntegration(t)

	db := setupTestDB(t)
	defer db.Close()
	defer cleanupTestData(t, db)

	repo := NewPostgresOrderRepository(db.Pool())
	ctx := context.Background()

	order := domain.NewOrder("test-order-fail", "test-user-1", "test-item-1", 1, 300.00, "")
	createMsg := mustOutboxMessage(t, order.ID, domain.EventOrderCreated, domain.OrderCreatedPayload{OrderID: order.ID})
	if err := repo.CreateWithEvent(ctx, order, createMsg); err != nil {
		t.Fatalf("Failed to create order: %v", err)
	}

	if err := order.Fail(domain.ReasonInsufficientFunds, domain.StepUserValidation); err != nil {
		t.Fatalf("Failed to fail order: %v", err)
	}
	failMsg := mustOutboxMessage(t, order.ID, domain.EventOrderFailed, domain.OrderFailedPayload{
		OrderID:    order.ID,
		Reason:     domain.ReasonInsufficientFunds,
		FailedStep: domain.StepUserValidation,
	})
	if err := repo.FailWithEvent(ctx, order, failMsg); err != nil {
		t.Fatalf("Failed to persist failure: %v", err)
	}

	found, err := repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("Failed to get order: %v", err)
	}

	if found.Status != domain.OrderStatusFailed {
		t.Errorf("Expected status FAILED, got %s", found.Status)
	}
	if found.FailureReason != domain.ReasonInsufficientFunds {
		t.Errorf("Expected reason %s, got %s", domain.ReasonInsufficientFunds, found.FailureReason)
	}
	if found.FailedStep != domain.StepUserValidation {
		t.Errorf("Expected failed step %s, got %s", domain.StepUserValidation, found.FailedStep)
	}
	if found.FailedAt == nil {
		t.Error("Expected FailedAt to be set")
	}
}

func TestPostgresOrderRepository_FailAfterComplete(t *testing.T) {
	skipIfNoIntegration(t)

	db := setupTestDB(t)
	defer db.Close()
	defer cleanupTestData(t, db)

	repo := NewPostgresOrderRepository(db.Pool())
	ctx := context.Background()

	order := domain.NewOrder("test-order-terminal", "test-user-1", "test-item-1", 1, 300.00, "")
	createMsg := mustOutboxMessage(t, order.ID, domain.EventOrderCreated, domain.OrderCreatedPayload{OrderID: order.ID})
	if err := repo.CreateWithEvent(ctx, order, createMsg); err != nil {
		t.Fatalf("Failed to create order: %v", err)
	}

	completeMsg := mustOutboxMessage(t, order.ID, domain.EventOrderCompleted, domain.OrderCompletedPayload{OrderID: order.ID})
	if err := repo.CompleteWithEvent(ctx, order, completeMsg); err != nil {
		t.Fatalf("Failed to complete order: %v", err)
	}

	failMsg := mustOutboxMessage(t, order.ID, domain.EventOrderFailed, domain.OrderFailedPayload{OrderID: order.ID})
	err := repo.FailWithEvent(ctx, order, failMsg)
	if err != domain.ErrOrderAlreadyTerminal {
		t.Errorf("Expected ErrOrderAlreadyTerminal, got %v", err)
	}
}

func TestPostgresOrderRepository_GetByUserID(t *testing.T) {
	skipIfNoIntegration(t)

	db := setupTestDB(t)
	defer db.Close()
	defer cleanupTestData(t, db)

	repo := NewPostgresOrderRepository(db.Pool())
	ctx := context.Background()

	testUserID := "test-user-list"
	for i := 0; i < 3; i++ {
		order := domain.NewOrder(
			"test-order-list-"+string(rune('a'+i)),
			testUserID,
			"test-item-1",
			1,
			float64(100*(i+1)),
			"",
		)
		msg := mustOutboxMessage(t, order.ID, domain.EventOrderCreated, domain.OrderCreatedPayload{OrderID: order.ID})
		if err := repo.CreateWithEvent(ctx, order, msg); err != nil {
			t.Fatalf("Failed to create order: %v", err)
		}
	}

	orders, err := repo.GetByUserID(ctx, testUserID, 10, 0)
	if err != nil {
		t.Fatalf("Failed to get orders by user ID: %v", err)
	}

	if len(orders) != 3 {
		t.Errorf("Expected 3 orders, got %d", len(orders))
	}
}

func TestPostgresOrderRepository_NotFound(t *testing.T) {
	skipIfNoIntegration(t)

	db := setupTestDB(t)
	defer db.Close()

	repo := NewPostgresOrderRepository(db.Pool())
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "non-existent-order")
	if err != domain.ErrOrderNotFound {
		t.Errorf("Expected ErrOrderNotFound, got %v", err)
	}
}

func TestPostgresOutboxRepository_PendingLifecycle(t *testing.T) {
	skipIfNoIntegration(t)

	db := setupTestDB(t)
	defer db.Close()
	defer cleanupTestData(t, db)

	repo := NewPostgresOutboxRepository(db.Pool())
	ctx := context.Background()

	msg := mustOutboxMessage(t, "test-outbox-lifecycle", domain.EventOrderCreated, domain.OrderCreatedPayload{
		OrderID: "test-outbox-lifecycle",
	})
	if err := repo.Create(ctx, msg); err != nil {
		t.Fatalf("Failed to create outbox message: %v", err)
	}

	pending, err := repo.GetPendingMessages(ctx, 100)
	if err != nil {
		t.Fatalf("Failed to get pending messages: %v", err)
	}

	var found *domain.OutboxMessage
	for _, m := range pending {
		if m.ID == msg.ID {
			found = m
			break
		}
	}
	if found == nil {
		t.Fatal("Expected created message in pending set")
	}
	if found.Topic != domain.EventOrderCreated {
		t.Errorf("Expected topic %s, got %s", domain.EventOrderCreated, found.Topic)
	}

	if err := repo.MarkAsPublished(ctx, msg.ID); err != nil {
		t.Fatalf("Failed to mark message published: %v", err)
	}

	pending, err = repo.GetPendingMessages(ctx, 100)
	if err != nil {
		t.Fatalf("Failed to get pending messages: %v", err)
	}
	for _, m := range pending {
		if m.ID == msg.ID {
			t.Error("Published message must leave the pending set")
		}
	}
}

func TestPostgresOutboxRepository_RetryLifecycle(t *testing.T) {
	skipIfNoIntegration(t)

	db := setupTestDB(t)
	defer db.Close()
	defer cleanupTestData(t, db)

	repo := NewPostgresOutboxRepository(db.Pool())
	ctx := context.Background()

	msg := mustOutboxMessage(t, "test-outbox-retry", domain.EventOrderCreated, domain.OrderCreatedPayload{
		OrderID: "test-outbox-retry",
	})
	if err := repo.Create(ctx, msg); err != nil {
		t.Fatalf("Failed to create outbox message: %v", err)
	}

	if err := repo.MarkAsFailed(ctx, msg.ID, "broker unreachable"); err != nil {
		t.Fatalf("Failed to mark message failed: %v", err)
	}

	failed, err := repo.GetFailedMessages(ctx, 100)
	if err != nil {
		t.Fatalf("Failed to get failed messages: %v", err)
	}

	var found *domain.OutboxMessage
	for _, m := range failed {
		if m.ID == msg.ID {
			found = m
			break
		}
	}
	if found == nil {
		t.Fatal("Expected failed message in retryable set")
	}
	if found.RetryCount != 1 {
		t.Errorf("Expected RetryCount 1, got %d", found.RetryCount)
	}
	if found.LastError != "broker unreachable" {
		t.Errorf("Expected LastError 'broker unreachable', got %q", found.LastError)
	}
}
