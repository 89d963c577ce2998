package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types. The channel name on the bus is the event type string.
const (
	EventOrderCreated   = "order.created"
	EventOrderCompleted = "order.completed"
	EventOrderFailed    = "order.failed"

	EventCouponValidationRequested = "coupon.validation.requested"
	EventCouponValidated           = "coupon.validated"
	EventCouponValidationFailed    = "coupon.validation.failed"

	EventUserValidated        = "user.validated"
	EventUserValidationFailed = "user.validation.failed"

	EventPaymentReserved  = "payment.reserved"
	EventPaymentRollback  = "payment.rollback"
	EventPaymentProcessed = "payment.processed"
	EventPaymentSuccess   = "payment.success"
	EventPaymentFailed    = "payment.failed"

	EventInventoryReserved          = "inventory.reserved"
	EventInventoryConfirmed         = "inventory.confirmed"
	EventInventoryRollback          = "inventory.rollback"
	EventInventoryReservationFailed = "inventory.reservation.failed"

	EventItemReserved          = "item.reserved"
	EventItemReservationFailed = "item.reservation.failed"
	EventItemRestored          = "item.restored"

	EventNotificationSent = "notification.sent"
)

// AllEventTypes returns every saga event type, in no particular order
func AllEventTypes() []string {
	return []string{
		EventOrderCreated,
		EventOrderCompleted,
		EventOrderFailed,
		EventCouponValidationRequested,
		EventCouponValidated,
		EventCouponValidationFailed,
		EventUserValidated,
		EventUserValidationFailed,
		EventPaymentReserved,
		EventPaymentRollback,
		EventPaymentProcessed,
		EventPaymentSuccess,
		EventPaymentFailed,
		EventInventoryReserved,
		EventInventoryConfirmed,
		EventInventoryRollback,
		EventInventoryReservationFailed,
		EventItemReserved,
		EventItemReservationFailed,
		EventItemRestored,
		EventNotificationSent,
	}
}

// SagaStep identifies the saga step a failure originated from
type SagaStep string

const (
	StepCouponValidation     SagaStep = "coupon-validation"
	StepUserValidation       SagaStep = "user-validation"
	StepInventoryReservation SagaStep = "inventory-reservation"
	StepItemReservation      SagaStep = "item-reservation"
	StepPayment              SagaStep = "payment"
)

// String returns the string representation of SagaStep
func (s SagaStep) String() string {
	return string(s)
}

// IsValid checks if the step is a known SagaStep
func (s SagaStep) IsValid() bool {
	switch s {
	case StepCouponValidation, StepUserValidation, StepInventoryReservation,
		StepItemReservation, StepPayment:
		return true
	}
	return false
}

// Event is the wire envelope for all saga events
type Event struct {
	EventType string          `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent creates an event envelope wrapping the given payload
func NewEvent(eventType string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Event{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// Decode unmarshals the event payload into v
func (e *Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// OrderCreatedPayload starts the saga chain. TotalAmount is the amount
// downstream participants charge; when a coupon applied, it already
// equals the discounted final amount.
type OrderCreatedPayload struct {
	OrderID        string  `json:"orderId"`
	UserID         string  `json:"userId"`
	ItemID         string  `json:"itemId"`
	Quantity       int     `json:"quantity"`
	TotalAmount    float64 `json:"totalAmount"`
	DiscountAmount float64 `json:"discountAmount"`
	FinalAmount    float64 `json:"finalAmount"`
	UserCouponID   string  `json:"userCouponId,omitempty"`
}

// OrderCompletedPayload announces a fully completed saga
type OrderCompletedPayload struct {
	OrderID      string  `json:"orderId"`
	UserID       string  `json:"userId"`
	ItemName     string  `json:"itemName"`
	TotalAmount  float64 `json:"totalAmount"`
	UserCouponID string  `json:"userCouponId,omitempty"`
}

// OrderFailedPayload announces a terminally failed saga
type OrderFailedPayload struct {
	OrderID        string   `json:"orderId"`
	UserID         string   `json:"userId"`
	Reason         string   `json:"reason"`
	FailedStep     SagaStep `json:"failedStep"`
	UserCouponID   string   `json:"userCouponId,omitempty"`
	DiscountAmount float64  `json:"discountAmount,omitempty"`
}

// CouponValidationRequestedPayload asks the coupon validator to price an order
type CouponValidationRequestedPayload struct {
	OrderID      string  `json:"orderId"`
	UserID       string  `json:"userId"`
	ItemID       string  `json:"itemId"`
	Quantity     int     `json:"quantity"`
	TotalAmount  float64 `json:"totalAmount"`
	UserCouponID string  `json:"userCouponId"`
}

// CouponInfo describes the coupon that was applied
type CouponInfo struct {
	CouponID     string  `json:"couponId"`
	Code         string  `json:"code"`
	DiscountType string  `json:"discountType"`
	Value        float64 `json:"value"`
}

// CouponValidatedPayload carries the discounted pricing back to the order
type CouponValidatedPayload struct {
	OrderID        string      `json:"orderId"`
	UserID         string      `json:"userId"`
	UserCouponID   string      `json:"userCouponId"`
	DiscountAmount float64     `json:"discountAmount"`
	FinalAmount    float64     `json:"finalAmount"`
	OriginalAmount float64     `json:"originalAmount"`
	CouponInfo     *CouponInfo `json:"couponInfo,omitempty"`
}

// CouponValidationFailedPayload rejects the coupon and fails the order
type CouponValidationFailedPayload struct {
	OrderID      string   `json:"orderId"`
	UserID       string   `json:"userId"`
	UserCouponID string   `json:"userCouponId"`
	Errors       []string `json:"errors"`
	Reason       string   `json:"reason"`
	FailedStep   SagaStep `json:"failedStep"`
}

// UserValidatedPayload confirms the user passed validation and balance reservation
type UserValidatedPayload struct {
	OrderID        string  `json:"orderId"`
	UserID         string  `json:"userId"`
	UserBalance    float64 `json:"userBalance"`
	RequiredAmount float64 `json:"requiredAmount"`
}

// UserValidationFailedPayload rejects the user step
type UserValidationFailedPayload struct {
	OrderID    string   `json:"orderId"`
	UserID     string   `json:"userId"`
	Reason     string   `json:"reason"`
	FailedStep SagaStep `json:"failedStep"`
}

// PaymentReservedPayload announces a balance hold. ItemID and Quantity are
// carried through so the inventory participant does not depend on reading
// the order row.
type PaymentReservedPayload struct {
	OrderID          string  `json:"orderId"`
	UserID           string  `json:"userId"`
	ItemID           string  `json:"itemId"`
	Quantity         int     `json:"quantity"`
	ReservedAmount   float64 `json:"reservedAmount"`
	RemainingBalance float64 `json:"remainingBalance"`
}

// PaymentRollbackPayload announces a released balance hold
type PaymentRollbackPayload struct {
	OrderID        string  `json:"orderId"`
	UserID         string  `json:"userId"`
	RollbackAmount float64 `json:"rollbackAmount"`
	Reason         string  `json:"reason"`
}

// InventoryReservedPayload announces a held inventory slot. Quantity is the
// ordered item count carried through for the item step; ReservedSlots is the
// slot count and is always 1.
type InventoryReservedPayload struct {
	OrderID        string `json:"orderId"`
	UserID         string `json:"userId"`
	ItemID         string `json:"itemId"`
	Quantity       int    `json:"quantity"`
	ReservedSlots  int    `json:"reservedSlots"`
	AvailableSlots int    `json:"availableSlots"`
}

// InventoryConfirmedPayload announces the item was added to the user's inventory
type InventoryConfirmedPayload struct {
	OrderID  string `json:"orderId"`
	UserID   string `json:"userId"`
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// InventoryRollbackPayload announces a released inventory slot
type InventoryRollbackPayload struct {
	OrderID       string `json:"orderId"`
	UserID        string `json:"userId"`
	ItemID        string `json:"itemId"`
	ReleasedSlots int    `json:"releasedSlots"`
	Reason        string `json:"reason"`
}

// InventoryReservationFailedPayload rejects the inventory step
type InventoryReservationFailedPayload struct {
	OrderID    string   `json:"orderId"`
	UserID     string   `json:"userId"`
	ItemID     string   `json:"itemId"`
	Reason     string   `json:"reason"`
	FailedStep SagaStep `json:"failedStep"`
}

// ItemReservedPayload announces a durable stock reservation
type ItemReservedPayload struct {
	OrderID          string `json:"orderId"`
	UserID           string `json:"userId"`
	ItemID           string `json:"itemId"`
	ReservedQuantity int    `json:"reservedQuantity"`
	RemainingStock   int    `json:"remainingStock"`
}

// ItemReservationFailedPayload rejects the item step
type ItemReservationFailedPayload struct {
	OrderID    string   `json:"orderId"`
	UserID     string   `json:"userId"`
	ItemID     string   `json:"itemId"`
	Reason     string   `json:"reason"`
	FailedStep SagaStep `json:"failedStep"`
}

// RestoredItem is one stock restoration within an item rollback
type RestoredItem struct {
	ItemID           string `json:"itemId"`
	RestoredQuantity int    `json:"restoredQuantity"`
}

// ItemRestoredPayload announces compensated stock reservations
type ItemRestoredPayload struct {
	OrderID       string         `json:"orderId"`
	UserID        string         `json:"userId"`
	RestoredItems []RestoredItem `json:"restoredItems"`
	Reason        string         `json:"reason"`
}

// PaymentProcessedPayload announces a successful charge. Published as both
// payment.processed and payment.success with an identical payload.
type PaymentProcessedPayload struct {
	OrderID       string  `json:"orderId"`
	UserID        string  `json:"userId"`
	PaymentAmount float64 `json:"paymentAmount"`
	PaymentMethod string  `json:"paymentMethod"`
}

// PaymentFailedPayload rejects the payment step and triggers compensation
type PaymentFailedPayload struct {
	OrderID         string   `json:"orderId"`
	UserID          string   `json:"userId"`
	Reason          string   `json:"reason"`
	AttemptedAmount float64  `json:"attemptedAmount"`
	FailedStep      SagaStep `json:"failedStep"`
}

// NotificationSentPayload records a user-facing notification
type NotificationSentPayload struct {
	OrderID string    `json:"orderId"`
	UserID  string    `json:"userId"`
	Message string    `json:"message"`
	Type    string    `json:"type"`
	SentAt  time.Time `json:"sentAt"`
}
