package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
)

// UserRepository defines the interface for user and inventory data access.
// Balance mutations run inside caller-owned transactions so the reservation
// bookkeeping and the balance write land atomically; the Tx variants exist
// for that purpose.
type UserRepository interface {
	// Create inserts a user
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetForUpdate retrieves a user with an exclusive row lock held for the
	// duration of the transaction
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.User, error)

	// SetBalanceTx writes an absolute balance within a transaction
	SetBalanceTx(ctx context.Context, tx pgx.Tx, id string, balance float64) error

	// CountInventory returns the number of distinct inventory rows a user holds
	CountInventory(ctx context.Context, userID string) (int, error)

	// CountInventoryTx is CountInventory within a transaction
	CountInventoryTx(ctx context.Context, tx pgx.Tx, userID string) (int, error)

	// UpsertInventory adds quantity to the user's row for an item, inserting
	// the row if it does not exist yet
	UpsertInventory(ctx context.Context, inv *domain.UserInventory) error

	// GetInventory returns all inventory rows for a user
	GetInventory(ctx context.Context, userID string) ([]*domain.UserInventory, error)

	// BeginTx starts a transaction on the underlying pool
	BeginTx(ctx context.Context) (pgx.Tx, error)
}
