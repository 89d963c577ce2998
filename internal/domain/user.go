package domain

import (
	"strings"
	"time"
)

// User represents a purchasing user
type User struct {
	ID                string    `json:"id"`
	Username          string    `json:"username"`
	Balance           float64   `json:"balance"`
	IsActive          bool      `json:"is_active"`
	MaxInventorySlots int       `json:"max_inventory_slots"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Validate validates all user fields
func (u *User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return ErrInvalidUserID
	}
	if strings.TrimSpace(u.Username) == "" {
		return ErrInvalidUsername
	}
	if u.Balance < 0 {
		return ErrInvalidAmount
	}
	if u.MaxInventorySlots <= 0 {
		return ErrInvalidInventorySlots
	}
	return nil
}

// CanAfford checks if the user's balance covers the given amount
func (u *User) CanAfford(amount float64) bool {
	return u.Balance >= amount
}

// UserInventory is one item slot owned by a user
type UserInventory struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ItemID     string    `json:"item_id"`
	Quantity   int       `json:"quantity"`
	AcquiredAt time.Time `json:"acquired_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
