package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
)

// ItemReservationRepository defines the interface for item reservation data
// access. Transitions out of RESERVED are guarded updates so concurrent
// confirm, rollback and expiry sweeps settle on exactly one outcome per
// reservation. The Tx variants exist so callers can restore item stock in
// the same transaction as the status change.
type ItemReservationRepository interface {
	// Create inserts a reservation
	Create(ctx context.Context, reservation *domain.ItemReservation) error

	// CreateTx inserts a reservation within an existing transaction
	CreateTx(ctx context.Context, tx pgx.Tx, reservation *domain.ItemReservation) error

	// GetByOrderID retrieves all reservations for an order regardless of status
	GetByOrderID(ctx context.Context, orderID string) ([]*domain.ItemReservation, error)

	// FindActiveByOrderID retrieves RESERVED reservations for an order
	FindActiveByOrderID(ctx context.Context, orderID string) ([]*domain.ItemReservation, error)

	// ConfirmByOrderID transitions all RESERVED reservations of an order to
	// CONFIRMED. Returns the number of rows transitioned; zero means every
	// reservation was already settled.
	ConfirmByOrderID(ctx context.Context, orderID string) (int64, error)

	// CancelTx transitions a single reservation to CANCELLED with a reason.
	// Returns false when the reservation was no longer RESERVED.
	CancelTx(ctx context.Context, tx pgx.Tx, id, reason string) (bool, error)

	// ExpireTx transitions a single reservation to EXPIRED. Returns false
	// when the reservation was no longer RESERVED.
	ExpireTx(ctx context.Context, tx pgx.Tx, id string) (bool, error)

	// FindExpired retrieves RESERVED reservations whose TTL elapsed at or
	// before the given time
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.ItemReservation, error)

	// BeginTx starts a transaction on the underlying pool
	BeginTx(ctx context.Context) (pgx.Tx, error)
}
