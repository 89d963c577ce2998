package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/pkg/telemetry"
)

// PostgresItemRepository implements ItemRepository using PostgreSQL
type PostgresItemRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresItemRepository creates a new PostgreSQL item repository
func NewPostgresItemRepository(pool *pgxpool.Pool) *PostgresItemRepository {
	return &PostgresItemRepository{pool: pool}
}

const itemSelectColumns = `
	id, name, price, stock, is_active, created_at, updated_at
`

// Create inserts an item
func (r *PostgresItemRepository) Create(ctx context.Context, item *domain.Item) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.item.create")
	defer span.End()

	span.SetAttributes(attribute.String("item.id", item.ID))

	query := `
		INSERT INTO items (id, name, price, stock, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		item.ID,
		item.Name,
		item.Price,
		item.Stock,
		item.IsActive,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create item: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetByID retrieves an item by ID
func (r *PostgresItemRepository) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.item.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("item.id", id))

	query := `SELECT` + itemSelectColumns + `FROM items WHERE id = $1`

	item, err := scanItemRow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "item not found")
			return nil, domain.ErrItemNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return item, nil
}

// GetForUpdate retrieves an item holding an exclusive row lock until the
// transaction ends
func (r *PostgresItemRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.Item, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.item.get_for_update")
	defer span.End()

	span.SetAttributes(attribute.String("item.id", id))

	query := `SELECT` + itemSelectColumns + `FROM items WHERE id = $1 FOR UPDATE`

	item, err := scanItemRow(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "item not found")
			return nil, domain.ErrItemNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get item for update: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return item, nil
}

// DecrementStockTx subtracts quantity from stock. The guard rejects the
// update when remaining stock is below the requested quantity.
func (r *PostgresItemRepository) DecrementStockTx(ctx context.Context, tx pgx.Tx, id string, quantity int) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.item.decrement_stock")
	defer span.End()

	span.SetAttributes(
		attribute.String("item.id", id),
		attribute.Int("item.quantity", quantity),
	)

	query := `
		UPDATE items
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock >= $2
	`

	result, err := tx.Exec(ctx, query, id, quantity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to decrement stock: %w", err)
	}

	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "insufficient stock")
		return domain.ErrInsufficientStock
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// IncrementStockTx adds quantity back to stock
func (r *PostgresItemRepository) IncrementStockTx(ctx context.Context, tx pgx.Tx, id string, quantity int) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.item.increment_stock")
	defer span.End()

	span.SetAttributes(
		attribute.String("item.id", id),
		attribute.Int("item.quantity", quantity),
	)

	query := `
		UPDATE items
		SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1
	`

	result, err := tx.Exec(ctx, query, id, quantity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to increment stock: %w", err)
	}

	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "item not found")
		return domain.ErrItemNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// BeginTx starts a transaction on the underlying pool
func (r *PostgresItemRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func scanItemRow(row pgx.Row) (*domain.Item, error) {
	var item domain.Item
	err := row.Scan(
		&item.ID,
		&item.Name,
		&item.Price,
		&item.Stock,
		&item.IsActive,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

var _ ItemRepository = (*PostgresItemRepository)(nil)
