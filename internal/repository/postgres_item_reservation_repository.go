package repository

import (
	"context"
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

// PostgresItemReservationRepository implements ItemReservationRepository
// using PostgreSQL
type PostgresItemReservationRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresItemReservationRepository creates a new PostgreSQL item
// reservation repository
func NewPostgresItemReservationRepository(pool *pgxpool.Pool) *PostgresItemReservationRepository {
	return &PostgresItemReservationRepository{pool: pool}
}

const reservationSelectColumns = `
	id, order_id, item_id, user_id, reserved_quantity, original_stock,
	status, cancel_reason, reserved_at, expires_at, updated_at
`

const reservationInsertQuery = `
	INSERT INTO item_reservations (
		id, order_id, item_id, user_id, reserved_quantity, original_stock,
		status, cancel_reason, reserved_at, expires_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

// Create inserts a reservation
func (r *PostgresItemReservationRepository) Create(ctx context.Context, reservation *domain.ItemReservation) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.item_reservation.create")
	defer span.End()

	if reservation.ID == "" {
		reservation.ID = uuid.New().String()
	}

	span.SetAttributes(
		attribute.String("reservation.id", reservation.ID),
		attribute.String("order.id", reservation.OrderID),
	)

	_, err := r.pool.Exec(ctx, reservationInsertQuery, reservationInsertArgs(reservation)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create item reservation: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CreateTx inserts a reservation within an existing transaction
func (r *PostgresItemReservationRepository) CreateTx(ctx context.Context, tx pgx.Tx, reservation *domain.ItemReservation) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.item_reservation.create_tx")
	defer span.End()

	if reservation.ID == "" {
		reservation.ID = uuid.New().String()
	}

	span.SetAttributes(
		attribute.String("reservation.id", reservation.ID),
		attribute.String("order.id", reservation.OrderID),
	)

	_, err := tx.Exec(ctx, reservationInsertQuery, reservationInsertArgs(reservation)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create item reservation: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetByOrderID retrieves all reservations for an order
func (r *PostgresItemReservationRepository) GetByOrderID(ctx context.Context, orderID string) ([]*domain.ItemReservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.item_reservation.get_by_order_id")
	defer span.End()

	span.SetAttributes(attribute.String("order.id", orderID))

	query := `SELECT` + reservationSelectColumns + `
		FROM item_reservations
		WHERE order_id = $1
		ORDER BY reserved_at ASC`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get reservations: %w", err)
	}
	defer rows.Close()

	reservations, err := scanReservations(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("reservation.count", len(reservations)))
	span.SetStatus(codes.Ok, "")
	return reservations, nil
}

// FindActiveByOrderID retrieves RESERVED reservations for an order
func (r *PostgresItemReservationRepository) FindActiveByOrderID(ctx context.Context, orderID string) ([]*domain.ItemReservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.item_reservation.find_active_by_order_id")
	defer span.End()

	span.SetAttributes(attribute.String("order.id", orderID))

	query := `SELECT` + reservationSelectColumns + `
		FROM item_reservations
		WHERE order_id = $1 AND status = 'RESERVED'
		ORDER BY reserved_at ASC`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to find active reservations: %w", err)
	}
	defer rows.Close()

	reservations, err := scanReservations(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("reservation.count", len(reservations)))
	span.SetStatus(codes.Ok, "")
	return reservations, nil
}

// ConfirmByOrderID transitions all RESERVED reservations of an order to
// CONFIRMED. Reservations already settled by a rollback or expiry sweep are
// left untouched.
func (r *PostgresItemReservationRepository) ConfirmByOrderID(ctx context.Context, orderID string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.item_reservation.confirm_by_order_id")
	defer span.End()

	span.SetAttributes(attribute.String("order.id", orderID))

	query := `
		UPDATE item_reservations
		SET status = 'CONFIRMED', updated_at = NOW()
		WHERE order_id = $1 AND status = 'RESERVED'
	`

	result, err := r.pool.Exec(ctx, query, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to confirm reservations: %w", err)
	}

	confirmed := result.RowsAffected()
	span.SetAttributes(attribute.Int64("reservation.confirmed", confirmed))
	span.SetStatus(codes.Ok, "")
	return confirmed, nil
}

// CancelTx transitions a single reservation to CANCELLED with a reason
func (r *PostgresItemReservationRepository) CancelTx(ctx context.Context, tx pgx.Tx, id, reason string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.item_reservation.cancel_tx")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation.id", id),
		attribute.String("reservation.cancel_reason", reason),
	)

	query := `
		UPDATE item_reservations
		SET status = 'CANCELLED', cancel_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'RESERVED'
	`

	result, err := tx.Exec(ctx, query, id, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to cancel reservation: %w", err)
	}

	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Ok, "reservation already settled")
		return false, nil
	}

	span.SetStatus(codes.Ok, "")
	return true, nil
}

// ExpireTx transitions a single reservation to EXPIRED
func (r *PostgresItemReservationRepository) ExpireTx(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.item_reservation.expire_tx")
	defer span.End()

	span.SetAttributes(attribute.String("reservation.id", id))

	query := `
		UPDATE item_reservations
		SET status = 'EXPIRED', cancel_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'RESERVED'
	`

	result, err := tx.Exec(ctx, query, id, domain.ReasonReservationExpired)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to expire reservation: %w", err)
	}

	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Ok, "reservation already settled")
		return false, nil
	}

	span.SetStatus(codes.Ok, "")
	return true, nil
}

// FindExpired retrieves RESERVED reservations whose TTL elapsed. Callers
// re-check the status with a guarded update, so no lock is taken here.
func (r *PostgresItemReservationRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.ItemReservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.item_reservation.find_expired")
	defer span.End()

	query := `SELECT` + reservationSelectColumns + `
		FROM item_reservations
		WHERE status = 'RESERVED' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to find expired reservations: %w", err)
	}
	defer rows.Close()

	reservations, err := scanReservations(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("reservation.count", len(reservations)))
	span.SetStatus(codes.Ok, "")
	return reservations, nil
}

// BeginTx starts a transaction on the underlying pool
func (r *PostgresItemReservationRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func reservationInsertArgs(reservation *domain.ItemReservation) []interface{} {
	return []interface{}{
		reservation.ID,
		reservation.OrderID,
		reservation.ItemID,
		reservation.UserID,
		reservation.ReservedQuantity,
		reservation.OriginalStock,
		reservation.Status,
		nullString(reservation.CancelReason),
		reservation.ReservedAt,
		reservation.ExpiresAt,
		reservation.UpdatedAt,
	}
}

func scanReservations(rows pgx.Rows) ([]*domain.ItemReservation, error) {
	var reservations []*domain.ItemReservation
	for rows.Next() {
		var (
			reservation  domain.ItemReservation
			cancelReason *string
		)
		err := rows.Scan(
			&reservation.ID,
			&reservation.OrderID,
			&reservation.ItemID,
			&reservation.UserID,
			&reservation.ReservedQuantity,
			&reservation.OriginalStock,
			&reservation.Status,
			&cancelReason,
			&reservation.ReservedAt,
			&reservation.ExpiresAt,
			&reservation.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		if cancelReason != nil {
			reservation.CancelReason = *cancelReason
		}
		reservations = append(reservations, &reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reservations: %w", err)
	}
	return reservations, nil
}

var _ ItemReservationRepository = (*PostgresItemReservationRepository)(nil)
