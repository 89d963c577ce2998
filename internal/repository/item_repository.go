package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
)

// ItemRepository defines the interface for item data access. Stock moves only
// inside caller-owned transactions so the decrement or restore commits
// together with the reservation row it belongs to.
type ItemRepository interface {
	// Create inserts an item
	Create(ctx context.Context, item *domain.Item) error

	// GetByID retrieves an item by ID
	GetByID(ctx context.Context, id string) (*domain.Item, error)

	// GetForUpdate retrieves an item with an exclusive row lock held for the
	// duration of the transaction
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.Item, error)

	// DecrementStockTx subtracts quantity from stock, guarded so stock never
	// goes negative. Returns ErrInsufficientStock when the guard rejects.
	DecrementStockTx(ctx context.Context, tx pgx.Tx, id string, quantity int) error

	// IncrementStockTx adds quantity back to stock
	IncrementStockTx(ctx context.Context, tx pgx.Tx, id string, quantity int) error

	// BeginTx starts a transaction on the underlying pool
	BeginTx(ctx context.Context) (pgx.Tx, error)
}
