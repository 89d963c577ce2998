package domain

import (
	"strings"
	"time"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusFailed     OrderStatus = "FAILED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// IsValid checks if the status is a valid OrderStatus
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusConfirmed,
		OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminal checks if the status is terminal
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of OrderStatus
func (s OrderStatus) String() string {
	return string(s)
}

// Order represents a purchase order driving one saga
type Order struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	ItemID         string      `json:"item_id"`
	Quantity       int         `json:"quantity"`
	TotalAmount    float64     `json:"total_amount"`
	DiscountAmount float64     `json:"discount_amount"`
	FinalAmount    float64     `json:"final_amount"`
	UserCouponID   string      `json:"user_coupon_id,omitempty"`
	Status         OrderStatus `json:"status"`
	FailureReason  string      `json:"failure_reason,omitempty"`
	FailedStep     SagaStep    `json:"failed_step,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	FailedAt       *time.Time  `json:"failed_at,omitempty"`
}

// NewOrder creates a new pending order
func NewOrder(id, userID, itemID string, quantity int, totalAmount float64, userCouponID string) *Order {
	now := time.Now()
	return &Order{
		ID:           id,
		UserID:       userID,
		ItemID:       itemID,
		Quantity:     quantity,
		TotalAmount:  totalAmount,
		FinalAmount:  totalAmount,
		UserCouponID: userCouponID,
		Status:       OrderStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Validate validates all order fields
func (o *Order) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return ErrInvalidOrderID
	}
	if strings.TrimSpace(o.UserID) == "" {
		return ErrInvalidUserID
	}
	if strings.TrimSpace(o.ItemID) == "" {
		return ErrInvalidItemID
	}
	if o.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if o.TotalAmount < 0 {
		return ErrInvalidAmount
	}
	if o.DiscountAmount < 0 {
		return ErrInvalidAmount
	}
	if !o.Status.IsValid() {
		return ErrInvalidOrderStatus
	}
	if amountsDiffer(o.FinalAmount, o.TotalAmount-o.DiscountAmount) {
		return ErrAmountMismatch
	}
	return nil
}

// ApplyDiscount applies a validated coupon discount to the order
func (o *Order) ApplyDiscount(userCouponID string, discountAmount, finalAmount float64) error {
	if o.Status != OrderStatusPending {
		return ErrInvalidOrderStatus
	}
	if discountAmount < 0 || finalAmount < 0 {
		return ErrInvalidAmount
	}
	if amountsDiffer(finalAmount, o.TotalAmount-discountAmount) {
		return ErrAmountMismatch
	}
	o.UserCouponID = userCouponID
	o.DiscountAmount = discountAmount
	o.FinalAmount = finalAmount
	o.UpdatedAt = time.Now()
	return nil
}

// StartProcessing transitions the order from PENDING to PROCESSING
func (o *Order) StartProcessing() error {
	if o.Status != OrderStatusPending {
		return ErrInvalidOrderStatus
	}
	o.Status = OrderStatusProcessing
	o.UpdatedAt = time.Now()
	return nil
}

// Complete transitions the order to COMPLETED
func (o *Order) Complete() error {
	if o.Status.IsTerminal() {
		if o.Status == OrderStatusCompleted {
			return nil
		}
		return ErrOrderAlreadyTerminal
	}
	now := time.Now()
	o.Status = OrderStatusCompleted
	o.CompletedAt = &now
	o.UpdatedAt = now
	return nil
}

// Fail transitions the order to FAILED with the given reason. Terminal
// states are sticky: failing an already-failed order is a no-op, failing
// a completed order is an error.
func (o *Order) Fail(reason string, step SagaStep) error {
	if o.Status.IsTerminal() {
		if o.Status == OrderStatusFailed {
			return nil
		}
		return ErrOrderAlreadyTerminal
	}
	now := time.Now()
	o.Status = OrderStatusFailed
	o.FailureReason = reason
	o.FailedStep = step
	o.FailedAt = &now
	o.UpdatedAt = now
	return nil
}

// IsCompleted checks if the order is completed
func (o *Order) IsCompleted() bool {
	return o.Status == OrderStatusCompleted
}

// IsFailed checks if the order is failed
func (o *Order) IsFailed() bool {
	return o.Status == OrderStatusFailed
}

// HasCoupon checks if the order carries a coupon
func (o *Order) HasCoupon() bool {
	return o.UserCouponID != ""
}

// amountsDiffer compares two monetary values with a small tolerance for
// float rounding
func amountsDiffer(a, b float64) bool {
	const epsilon = 0.001
	diff := a - b
	return diff > epsilon || diff < -epsilon
}
