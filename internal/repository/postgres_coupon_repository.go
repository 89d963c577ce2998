package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/pkg/telemetry"
)

// PostgresCouponRepository implements CouponRepository using PostgreSQL
type PostgresCouponRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresCouponRepository creates a new PostgreSQL coupon repository
func NewPostgresCouponRepository(pool *pgxpool.Pool) *PostgresCouponRepository {
	return &PostgresCouponRepository{pool: pool}
}

const userCouponSelectColumns = `
	id, user_id, coupon_id, status, order_id, assigned_at, used_at, updated_at
`

// CreateCoupon inserts a coupon definition
func (r *PostgresCouponRepository) CreateCoupon(ctx context.Context, coupon *domain.Coupon) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.coupon.create_coupon")
	defer span.End()

	if coupon.ID == "" {
		coupon.ID = uuid.New().String()
	}

	span.SetAttributes(attribute.String("coupon.id", coupon.ID))

	query := `
		INSERT INTO coupons (
			id, code, discount_type, discount_value, max_discount,
			min_order_amount, usage_limit, used_count, applicable_items,
			is_active, valid_from, valid_until, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	var validUntil *time.Time
	if !coupon.ValidUntil.IsZero() {
		validUntil = &coupon.ValidUntil
	}

	_, err := r.pool.Exec(ctx, query,
		coupon.ID,
		coupon.Code,
		coupon.DiscountType,
		coupon.DiscountValue,
		coupon.MaxDiscount,
		coupon.MinOrderAmount,
		coupon.UsageLimit,
		coupon.UsedCount,
		coupon.ApplicableItems,
		coupon.IsActive,
		coupon.ValidFrom,
		validUntil,
		coupon.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create coupon: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetCouponByID retrieves a coupon definition by ID
func (r *PostgresCouponRepository) GetCouponByID(ctx context.Context, id string) (*domain.Coupon, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.coupon.get_coupon_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("coupon.id", id))

	query := `
		SELECT id, code, discount_type, discount_value, max_discount,
			min_order_amount, usage_limit, used_count, applicable_items,
			is_active, valid_from, valid_until, created_at
		FROM coupons
		WHERE id = $1
	`

	var (
		coupon     domain.Coupon
		validUntil *time.Time
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&coupon.ID,
		&coupon.Code,
		&coupon.DiscountType,
		&coupon.DiscountValue,
		&coupon.MaxDiscount,
		&coupon.MinOrderAmount,
		&coupon.UsageLimit,
		&coupon.UsedCount,
		&coupon.ApplicableItems,
		&coupon.IsActive,
		&coupon.ValidFrom,
		&validUntil,
		&coupon.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "coupon not found")
			return nil, domain.ErrCouponNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	if validUntil != nil {
		coupon.ValidUntil = *validUntil
	}

	span.SetStatus(codes.Ok, "")
	return &coupon, nil
}

// CreateUserCoupon inserts a coupon instance owned by a user
func (r *PostgresCouponRepository) CreateUserCoupon(ctx context.Context, userCoupon *domain.UserCoupon) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.coupon.create_user_coupon")
	defer span.End()

	if userCoupon.ID == "" {
		userCoupon.ID = uuid.New().String()
	}

	span.SetAttributes(
		attribute.String("user_coupon.id", userCoupon.ID),
		attribute.String("user.id", userCoupon.UserID),
	)

	query := `
		INSERT INTO user_coupons (
			id, user_id, coupon_id, status, order_id, assigned_at, used_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		userCoupon.ID,
		userCoupon.UserID,
		userCoupon.CouponID,
		userCoupon.Status,
		nullString(userCoupon.OrderID),
		userCoupon.AssignedAt,
		userCoupon.UsedAt,
		userCoupon.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create user coupon: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetUserCoupon retrieves a user coupon by ID
func (r *PostgresCouponRepository) GetUserCoupon(ctx context.Context, id string) (*domain.UserCoupon, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.coupon.get_user_coupon")
	defer span.End()

	span.SetAttributes(attribute.String("user_coupon.id", id))

	query := `SELECT` + userCouponSelectColumns + `FROM user_coupons WHERE id = $1`

	userCoupon, err := scanUserCouponRow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "user coupon not found")
			return nil, domain.ErrUserCouponNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get user coupon: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return userCoupon, nil
}

// GetUserCouponForUpdate retrieves a user coupon holding an exclusive row
// lock until the transaction ends
func (r *PostgresCouponRepository) GetUserCouponForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.UserCoupon, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.coupon.get_user_coupon_for_update")
	defer span.End()

	span.SetAttributes(attribute.String("user_coupon.id", id))

	query := `SELECT` + userCouponSelectColumns + `FROM user_coupons WHERE id = $1 FOR UPDATE`

	userCoupon, err := scanUserCouponRow(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "user coupon not found")
			return nil, domain.ErrUserCouponNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get user coupon for update: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return userCoupon, nil
}

// GetUserCouponsByUserID retrieves all coupon instances owned by a user
func (r *PostgresCouponRepository) GetUserCouponsByUserID(ctx context.Context, userID string) ([]*domain.UserCoupon, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.coupon.get_user_coupons_by_user_id")
	defer span.End()

	span.SetAttributes(attribute.String("user.id", userID))

	query := `SELECT` + userCouponSelectColumns + `
		FROM user_coupons
		WHERE user_id = $1
		ORDER BY assigned_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get user coupons: %w", err)
	}
	defer rows.Close()

	var userCoupons []*domain.UserCoupon
	for rows.Next() {
		userCoupon, err := scanUserCouponRow(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan user coupon: %w", err)
		}
		userCoupons = append(userCoupons, userCoupon)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate user coupons: %w", err)
	}

	span.SetAttributes(attribute.Int("user_coupon.count", len(userCoupons)))
	span.SetStatus(codes.Ok, "")
	return userCoupons, nil
}

// ReserveUsageTx transitions an ACTIVE user coupon to RESERVED for an order
func (r *PostgresCouponRepository) ReserveUsageTx(ctx context.Context, tx pgx.Tx, id, orderID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.coupon.reserve_usage")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_coupon.id", id),
		attribute.String("order.id", orderID),
	)

	query := `
		UPDATE user_coupons
		SET status = 'RESERVED', order_id = $2, updated_at = NOW()
		WHERE id = $1 AND (status = 'ACTIVE' OR (status = 'RESERVED' AND order_id = $2))
	`

	result, err := tx.Exec(ctx, query, id, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to reserve coupon usage: %w", err)
	}

	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "coupon not usable")
		return domain.ErrCouponNotUsable
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ConfirmUsageTx transitions a user coupon RESERVED by an order to USED and
// increments the coupon's used count
func (r *PostgresCouponRepository) ConfirmUsageTx(ctx context.Context, tx pgx.Tx, id, orderID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.coupon.confirm_usage")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_coupon.id", id),
		attribute.String("order.id", orderID),
	)

	query := `
		UPDATE user_coupons
		SET status = 'USED', used_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'RESERVED' AND order_id = $2
	`

	result, err := tx.Exec(ctx, query, id, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to confirm coupon usage: %w", err)
	}

	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Ok, "coupon usage already settled")
		return false, nil
	}

	incrementQuery := `
		UPDATE coupons
		SET used_count = used_count + 1
		WHERE id = (SELECT coupon_id FROM user_coupons WHERE id = $1)
	`

	if _, err := tx.Exec(ctx, incrementQuery, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to increment coupon used count: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return true, nil
}

// CancelUsageTx releases a user coupon RESERVED by an order back to ACTIVE
func (r *PostgresCouponRepository) CancelUsageTx(ctx context.Context, tx pgx.Tx, id, orderID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.coupon.cancel_usage")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_coupon.id", id),
		attribute.String("order.id", orderID),
	)

	query := `
		UPDATE user_coupons
		SET status = 'ACTIVE', order_id = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'RESERVED' AND order_id = $2
	`

	result, err := tx.Exec(ctx, query, id, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to cancel coupon usage: %w", err)
	}

	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Ok, "coupon usage already settled")
		return false, nil
	}

	span.SetStatus(codes.Ok, "")
	return true, nil
}

// BeginTx starts a transaction on the underlying pool
func (r *PostgresCouponRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func scanUserCouponRow(row pgx.Row) (*domain.UserCoupon, error) {
	var (
		userCoupon domain.UserCoupon
		orderID    *string
	)
	err := row.Scan(
		&userCoupon.ID,
		&userCoupon.UserID,
		&userCoupon.CouponID,
		&userCoupon.Status,
		&orderID,
		&userCoupon.AssignedAt,
		&userCoupon.UsedAt,
		&userCoupon.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if orderID != nil {
		userCoupon.OrderID = *orderID
	}
	return &userCoupon, nil
}

var _ CouponRepository = (*PostgresCouponRepository)(nil)
