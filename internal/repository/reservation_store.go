package repository

import (
	"context"
	"time"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
)

// ReservationStore defines the interface for ephemeral reservation records
// kept in the KV store while a purchase is in flight. Records carry a TTL so
// holds left behind by a dead participant drain on their own. Get methods
// return nil without error when no record exists, since an absent record is
// a normal condition the saga handles, not a fault.
type ReservationStore interface {
	// SaveBalanceReservation stores a balance hold for a user and order
	SaveBalanceReservation(ctx context.Context, reservation *domain.BalanceReservation, ttl time.Duration) error

	// GetBalanceReservation retrieves a balance hold, nil when absent
	GetBalanceReservation(ctx context.Context, userID, orderID string) (*domain.BalanceReservation, error)

	// DeleteBalanceReservation removes a balance hold
	DeleteBalanceReservation(ctx context.Context, userID, orderID string) error

	// SaveSlotReservation stores an inventory slot hold for a user and order
	SaveSlotReservation(ctx context.Context, reservation *domain.SlotReservation, ttl time.Duration) error

	// GetSlotReservation retrieves an inventory slot hold, nil when absent
	GetSlotReservation(ctx context.Context, userID, orderID string) (*domain.SlotReservation, error)

	// DeleteSlotReservation removes an inventory slot hold
	DeleteSlotReservation(ctx context.Context, userID, orderID string) error
}
