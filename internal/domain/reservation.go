package domain

import (
	"time"
)

// ReservationStatus represents the status of an item reservation
type ReservationStatus string

const (
	ReservationStatusReserved  ReservationStatus = "RESERVED"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

// IsValid checks if the status is a valid ReservationStatus
func (s ReservationStatus) IsValid() bool {
	switch s {
	case ReservationStatusReserved, ReservationStatusConfirmed,
		ReservationStatusCancelled, ReservationStatusExpired:
		return true
	}
	return false
}

// IsTerminal checks if the status is terminal
func (s ReservationStatus) IsTerminal() bool {
	return s != ReservationStatusReserved
}

// String returns the string representation of ReservationStatus
func (s ReservationStatus) String() string {
	return string(s)
}

// ItemReservation is the durable record of a stock hold. Exactly one
// transition out of RESERVED ever happens; CANCELLED and EXPIRED must be
// accompanied by a stock restoration of ReservedQuantity in the same
// local transaction.
type ItemReservation struct {
	ID               string            `json:"id"`
	OrderID          string            `json:"order_id"`
	ItemID           string            `json:"item_id"`
	UserID           string            `json:"user_id"`
	ReservedQuantity int               `json:"reserved_quantity"`
	OriginalStock    int               `json:"original_stock"`
	Status           ReservationStatus `json:"status"`
	CancelReason     string            `json:"cancel_reason,omitempty"`
	ReservedAt       time.Time         `json:"reserved_at"`
	ExpiresAt        time.Time         `json:"expires_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewItemReservation creates a new RESERVED item reservation
func NewItemReservation(id, orderID, itemID, userID string, quantity, originalStock int, ttl time.Duration) *ItemReservation {
	now := time.Now()
	return &ItemReservation{
		ID:               id,
		OrderID:          orderID,
		ItemID:           itemID,
		UserID:           userID,
		ReservedQuantity: quantity,
		OriginalStock:    originalStock,
		Status:           ReservationStatusReserved,
		ReservedAt:       now,
		ExpiresAt:        now.Add(ttl),
		UpdatedAt:        now,
	}
}

// IsExpired checks if the reservation TTL has elapsed
func (r *ItemReservation) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}

// IsExpiredAt checks if the reservation is expired at a specific time
func (r *ItemReservation) IsExpiredAt(t time.Time) bool {
	return t.After(r.ExpiresAt)
}

// Confirm transitions the reservation to CONFIRMED. An already confirmed
// reservation is a no-op; other terminal states are errors.
func (r *ItemReservation) Confirm() error {
	if r.Status == ReservationStatusConfirmed {
		return nil
	}
	if r.Status != ReservationStatusReserved {
		return ErrReservationAlreadyTerminal
	}
	r.Status = ReservationStatusConfirmed
	r.UpdatedAt = time.Now()
	return nil
}

// Cancel transitions the reservation to CANCELLED with a reason
func (r *ItemReservation) Cancel(reason string) error {
	if r.Status == ReservationStatusCancelled {
		return nil
	}
	if r.Status != ReservationStatusReserved {
		return ErrReservationAlreadyTerminal
	}
	r.Status = ReservationStatusCancelled
	r.CancelReason = reason
	r.UpdatedAt = time.Now()
	return nil
}

// Expire transitions the reservation to EXPIRED
func (r *ItemReservation) Expire() error {
	if r.Status == ReservationStatusExpired {
		return nil
	}
	if r.Status != ReservationStatusReserved {
		return ErrReservationAlreadyTerminal
	}
	r.Status = ReservationStatusExpired
	r.CancelReason = ReasonReservationExpired
	r.UpdatedAt = time.Now()
	return nil
}

// BalanceReservation is the ephemeral record of a balance hold, stored
// in the KV store under balance_reserve:{userId}:{orderId} with a TTL
type BalanceReservation struct {
	UserID          string    `json:"user_id"`
	OrderID         string    `json:"order_id"`
	Amount          float64   `json:"amount"`
	OriginalBalance float64   `json:"original_balance"`
	ReservedAt      time.Time `json:"reserved_at"`
}

// SlotReservation is the ephemeral record of an inventory slot hold,
// stored in the KV store under inventory_reserve:{userId}:{orderId}
// with a TTL
type SlotReservation struct {
	UserID     string    `json:"user_id"`
	OrderID    string    `json:"order_id"`
	ItemID     string    `json:"item_id"`
	Quantity   int       `json:"quantity"`
	ReservedAt time.Time `json:"reserved_at"`
}
