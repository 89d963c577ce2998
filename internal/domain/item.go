package domain

import (
	"strings"
	"time"
)

// Item represents a purchasable item with limited stock
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Stock     int       `json:"stock"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate validates all item fields
func (i *Item) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return ErrInvalidItemID
	}
	if strings.TrimSpace(i.Name) == "" {
		return ErrInvalidItemName
	}
	if i.Price <= 0 {
		return ErrInvalidAmount
	}
	if i.Stock < 0 {
		return ErrInvalidStock
	}
	return nil
}

// HasStock checks if the item has at least the given quantity in stock
func (i *Item) HasStock(quantity int) bool {
	return i.Stock >= quantity
}
