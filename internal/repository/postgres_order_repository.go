package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/pkg/telemetry"
)

// PostgresOrderRepository implements OrderRepository using PostgreSQL with
// pgxpool. Transition methods pair the order mutation with an outbox insert
// in one transaction.
type PostgresOrderRepository struct {
	pool       *pgxpool.Pool
	outboxRepo *PostgresOutboxRepository
}

// NewPostgresOrderRepository creates a new PostgresOrderRepository
func NewPostgresOrderRepository(pool *pgxpool.Pool) *PostgresOrderRepository {
	return &PostgresOrderRepository{
		pool:       pool,
		outboxRepo: NewPostgresOutboxRepository(pool),
	}
}

// CreateWithEvent inserts the order and its kickoff event atomically
func (r *PostgresOrderRepository) CreateWithEvent(ctx context.Context, order *domain.Order, event *domain.OutboxMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.order.create_with_event")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.String("user_id", order.UserID),
		attribute.String("event_type", event.EventType),
	)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO orders (
			id, user_id, item_id, quantity,
			total_amount, discount_amount, final_amount, user_coupon_id,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err = tx.Exec(ctx, query,
		order.ID,
		order.UserID,
		order.ItemID,
		order.Quantity,
		order.TotalAmount,
		order.DiscountAmount,
		order.FinalAmount,
		nullString(order.UserCouponID),
		order.Status.String(),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create order: %w", err)
	}

	if err := r.outboxRepo.CreateTx(ctx, tx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetByID retrieves an order by its ID
func (r *PostgresOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.order.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", id))

	query := `
		SELECT
			id, user_id, item_id, quantity,
			total_amount, discount_amount, final_amount, user_coupon_id,
			status, failure_reason, failed_step,
			created_at, updated_at, completed_at, failed_at
		FROM orders
		WHERE id = $1
	`

	order, err := scanOrderRow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrOrderNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return order, nil
}

// GetByUserID retrieves orders for a user, newest first
func (r *PostgresOrderRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.order.get_by_user_id")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)

	query := `
		SELECT
			id, user_id, item_id, quantity,
			total_amount, discount_amount, final_amount, user_coupon_id,
			status, failure_reason, failed_step,
			created_at, updated_at, completed_at, failed_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get orders by user ID: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(orders)))
	span.SetStatus(codes.Ok, "")
	return orders, nil
}

// ApplyDiscountWithEvent records the validated coupon discount and queues the
// follow-up event
func (r *PostgresOrderRepository) ApplyDiscountWithEvent(ctx context.Context, order *domain.Order, event *domain.OutboxMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.order.apply_discount")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.Float64("discount_amount", order.DiscountAmount),
		attribute.Float64("final_amount", order.FinalAmount),
	)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE orders SET
			discount_amount = $2,
			final_amount = $3,
			user_coupon_id = $4,
			status = $5,
			updated_at = $6
		WHERE id = $1 AND status = 'PENDING'
	`

	result, err := tx.Exec(ctx, query,
		order.ID,
		order.DiscountAmount,
		order.FinalAmount,
		nullString(order.UserCouponID),
		domain.OrderStatusProcessing.String(),
		time.Now(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to apply discount: %w", err)
	}

	if result.RowsAffected() == 0 {
		return classifyMissedTransition(ctx, tx, span, order.ID, domain.OrderStatusProcessing)
	}

	if err := r.outboxRepo.CreateTx(ctx, tx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CompleteWithEvent transitions the order to COMPLETED and queues the
// completion event
func (r *PostgresOrderRepository) CompleteWithEvent(ctx context.Context, order *domain.Order, event *domain.OutboxMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.order.complete")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", order.ID))

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE orders SET
			status = $2,
			completed_at = $3,
			updated_at = $3
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
	`

	now := time.Now()
	result, err := tx.Exec(ctx, query, order.ID, domain.OrderStatusCompleted.String(), now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to complete order: %w", err)
	}

	if result.RowsAffected() == 0 {
		return classifyMissedTransition(ctx, tx, span, order.ID, domain.OrderStatusCompleted)
	}

	if err := r.outboxRepo.CreateTx(ctx, tx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// FailWithEvent transitions the order to FAILED with reason and step and
// queues the failure event
func (r *PostgresOrderRepository) FailWithEvent(ctx context.Context, order *domain.Order, event *domain.OutboxMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.order.fail")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.String("reason", order.FailureReason),
		attribute.String("failed_step", order.FailedStep.String()),
	)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE orders SET
			status = $2,
			failure_reason = $3,
			failed_step = $4,
			failed_at = $5,
			updated_at = $5
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
	`

	now := time.Now()
	result, err := tx.Exec(ctx, query,
		order.ID,
		domain.OrderStatusFailed.String(),
		order.FailureReason,
		nullString(order.FailedStep.String()),
		now,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to fail order: %w", err)
	}

	if result.RowsAffected() == 0 {
		return classifyMissedTransition(ctx, tx, span, order.ID, domain.OrderStatusFailed)
	}

	if err := r.outboxRepo.CreateTx(ctx, tx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CountByStatus returns order counts grouped by status
func (r *PostgresOrderRepository) CountByStatus(ctx context.Context) (map[domain.OrderStatus]int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.order.count_by_status")
	defer span.End()

	query := `SELECT status, COUNT(*) FROM orders GROUP BY status`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.OrderStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan order count: %w", err)
		}
		counts[domain.OrderStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("error iterating order counts: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return counts, nil
}

// classifyMissedTransition resolves a guarded UPDATE that matched no row.
// Duplicate deliveries find the order in the wanted state already and are
// silent no-ops; anything else is a real conflict.
func classifyMissedTransition(ctx context.Context, tx pgx.Tx, span trace.Span, id string, wanted domain.OrderStatus) error {
	var status string
	err := tx.QueryRow(ctx, "SELECT status FROM orders WHERE id = $1", id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return domain.ErrOrderNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to check order status: %w", err)
	}

	if domain.OrderStatus(status) == wanted {
		span.SetStatus(codes.Ok, "duplicate delivery")
		return nil
	}

	span.SetStatus(codes.Error, "already terminal")
	return domain.ErrOrderAlreadyTerminal
}

// scanOrderRow scans a single order row
func scanOrderRow(row pgx.Row) (*domain.Order, error) {
	order := &domain.Order{}
	var (
		status        string
		userCouponID  *string
		failureReason *string
		failedStep    *string
		completedAt   *time.Time
		failedAt      *time.Time
	)

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.ItemID,
		&order.Quantity,
		&order.TotalAmount,
		&order.DiscountAmount,
		&order.FinalAmount,
		&userCouponID,
		&status,
		&failureReason,
		&failedStep,
		&order.CreatedAt,
		&order.UpdatedAt,
		&completedAt,
		&failedAt,
	)
	if err != nil {
		return nil, err
	}

	order.Status = domain.OrderStatus(status)
	if userCouponID != nil {
		order.UserCouponID = *userCouponID
	}
	if failureReason != nil {
		order.FailureReason = *failureReason
	}
	if failedStep != nil {
		order.FailedStep = domain.SagaStep(*failedStep)
	}
	order.CompletedAt = completedAt
	order.FailedAt = failedAt

	return order, nil
}

// nullString converts empty string to nil pointer
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Ensure PostgresOrderRepository implements OrderRepository
var _ OrderRepository = (*PostgresOrderRepository)(nil)
