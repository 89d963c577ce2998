package dto

import (
	"encoding/json"
	"time"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
)

// CreateOrderRequest represents a request to start a purchase
type CreateOrderRequest struct {
	ItemID       string `json:"item_id" binding:"required"`
	Quantity     int    `json:"quantity" binding:"required,min=1,max=10"`
	UserCouponID string `json:"user_coupon_id,omitempty"`
}

// CreateOrderResponse represents the accepted order. The saga settles
// asynchronously; poll GET /orders/:id for the outcome.
type CreateOrderResponse struct {
	OrderID     string    `json:"order_id"`
	Status      string    `json:"status"`
	TotalAmount float64   `json:"total_amount"`
	FinalAmount float64   `json:"final_amount"`
	CreatedAt   time.Time `json:"created_at"`
}

// OrderResponse represents an order in API responses
type OrderResponse struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	ItemID         string     `json:"item_id"`
	Quantity       int        `json:"quantity"`
	Status         string     `json:"status"`
	TotalAmount    float64    `json:"total_amount"`
	DiscountAmount float64    `json:"discount_amount,omitempty"`
	FinalAmount    float64    `json:"final_amount"`
	UserCouponID   string     `json:"user_coupon_id,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	FailedStep     string     `json:"failed_step,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	FailedAt       *time.Time `json:"failed_at,omitempty"`
}

// OrderTimelineEntry represents one recorded saga event for an order
type OrderTimelineEntry struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// OrderTimelineResponse represents the recorded event history of an order
type OrderTimelineResponse struct {
	OrderID string                `json:"order_id"`
	Events  []*OrderTimelineEntry `json:"events"`
}

// FromDomain converts a domain Order to OrderResponse
func FromDomain(o *domain.Order) *OrderResponse {
	return &OrderResponse{
		ID:             o.ID,
		UserID:         o.UserID,
		ItemID:         o.ItemID,
		Quantity:       o.Quantity,
		Status:         string(o.Status),
		TotalAmount:    o.TotalAmount,
		DiscountAmount: o.DiscountAmount,
		FinalAmount:    o.FinalAmount,
		UserCouponID:   o.UserCouponID,
		FailureReason:  o.FailureReason,
		FailedStep:     string(o.FailedStep),
		CreatedAt:      o.CreatedAt,
		CompletedAt:    o.CompletedAt,
		FailedAt:       o.FailedAt,
	}
}

// TimelineFromDomain converts recorded audit entries to a timeline response
func TimelineFromDomain(orderID string, entries []*domain.AuditEntry) *OrderTimelineResponse {
	events := make([]*OrderTimelineEntry, 0, len(entries))
	for _, e := range entries {
		events = append(events, &OrderTimelineEntry{
			EventID:    e.ID,
			EventType:  e.EventType,
			Payload:    e.Payload,
			OccurredAt: e.OccurredAt,
		})
	}
	return &OrderTimelineResponse{
		OrderID: orderID,
		Events:  events,
	}
}
