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

// PostgresUserRepository implements UserRepository using PostgreSQL with pgxpool
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresUserRepository creates a new PostgresUserRepository
func NewPostgresUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create inserts a user
func (r *PostgresUserRepository) Create(ctx context.Context, user *domain.User) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.user.create")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", user.ID))

	query := `
		INSERT INTO users (
			id, username, balance, is_active, max_inventory_slots,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Username,
		user.Balance,
		user.IsActive,
		user.MaxInventorySlots,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create user: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

const userSelectColumns = `
	id, username, balance, is_active, max_inventory_slots,
	created_at, updated_at
`

// GetByID retrieves a user by ID
func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.user.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", id))

	query := `SELECT` + userSelectColumns + `FROM users WHERE id = $1`

	user, err := scanUserRow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrUserNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return user, nil
}

// GetForUpdate retrieves a user with an exclusive row lock
func (r *PostgresUserRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.User, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.user.get_for_update")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", id))

	query := `SELECT` + userSelectColumns + `FROM users WHERE id = $1 FOR UPDATE`

	user, err := scanUserRow(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrUserNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get user for update: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return user, nil
}

// SetBalanceTx writes an absolute balance within a transaction
func (r *PostgresUserRepository) SetBalanceTx(ctx context.Context, tx pgx.Tx, id string, balance float64) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.user.set_balance")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", id),
		attribute.Float64("balance", balance),
	)

	query := `UPDATE users SET balance = $2, updated_at = $3 WHERE id = $1`

	result, err := tx.Exec(ctx, query, id, balance, time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to set user balance: %w", err)
	}

	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrUserNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CountInventory returns the number of distinct inventory rows a user holds
func (r *PostgresUserRepository) CountInventory(ctx context.Context, userID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.user.count_inventory")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_inventory WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to count inventory: %w", err)
	}

	span.SetAttributes(attribute.Int("count", count))
	span.SetStatus(codes.Ok, "")
	return count, nil
}

// CountInventoryTx is CountInventory within a transaction
func (r *PostgresUserRepository) CountInventoryTx(ctx context.Context, tx pgx.Tx, userID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.user.count_inventory_tx")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	var count int
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM user_inventory WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to count inventory: %w", err)
	}

	span.SetAttributes(attribute.Int("count", count))
	span.SetStatus(codes.Ok, "")
	return count, nil
}

// UpsertInventory adds quantity to the user's row for an item, inserting the
// row if it does not exist yet
func (r *PostgresUserRepository) UpsertInventory(ctx context.Context, inv *domain.UserInventory) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.user.upsert_inventory")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", inv.UserID),
		attribute.String("item_id", inv.ItemID),
		attribute.Int("quantity", inv.Quantity),
	)

	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}

	query := `
		INSERT INTO user_inventory (
			id, user_id, item_id, quantity, acquired_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		ON CONFLICT (user_id, item_id) DO UPDATE SET
			quantity = user_inventory.quantity + EXCLUDED.quantity,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now()
	_, err := r.pool.Exec(ctx, query,
		inv.ID,
		inv.UserID,
		inv.ItemID,
		inv.Quantity,
		now,
		now,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to upsert inventory: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetInventory returns all inventory rows for a user
func (r *PostgresUserRepository) GetInventory(ctx context.Context, userID string) ([]*domain.UserInventory, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.user.get_inventory")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	query := `
		SELECT id, user_id, item_id, quantity, acquired_at, updated_at
		FROM user_inventory
		WHERE user_id = $1
		ORDER BY acquired_at ASC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get inventory: %w", err)
	}
	defer rows.Close()

	var items []*domain.UserInventory
	for rows.Next() {
		inv := &domain.UserInventory{}
		if err := rows.Scan(&inv.ID, &inv.UserID, &inv.ItemID, &inv.Quantity, &inv.AcquiredAt, &inv.UpdatedAt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan inventory row: %w", err)
		}
		items = append(items, inv)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("error iterating inventory: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(items)))
	span.SetStatus(codes.Ok, "")
	return items, nil
}

// BeginTx starts a transaction on the underlying pool
func (r *PostgresUserRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// scanUserRow scans a single user row
func scanUserRow(row pgx.Row) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Balance,
		&user.IsActive,
		&user.MaxInventorySlots,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Ensure PostgresUserRepository implements UserRepository
var _ UserRepository = (*PostgresUserRepository)(nil)
