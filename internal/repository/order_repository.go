package repository

import (
	"context"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
)

// OrderRepository defines the interface for order data access. Every state
// transition writes the matching saga event into the outbox in the same
// transaction, so a committed order row always has its announcement queued.
type OrderRepository interface {
	// CreateWithEvent inserts the order and its kickoff event atomically
	CreateWithEvent(ctx context.Context, order *domain.Order, event *domain.OutboxMessage) error

	// GetByID retrieves an order by its ID
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// GetByUserID retrieves orders for a user, newest first
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error)

	// ApplyDiscountWithEvent records the validated coupon discount and queues
	// the follow-up event. Only PENDING orders accept a discount; a repeat
	// delivery finds the order PROCESSING and is a no-op without a second
	// outbox row.
	ApplyDiscountWithEvent(ctx context.Context, order *domain.Order, event *domain.OutboxMessage) error

	// CompleteWithEvent transitions the order to COMPLETED and queues the
	// completion event. Re-completing a COMPLETED order is a no-op.
	CompleteWithEvent(ctx context.Context, order *domain.Order, event *domain.OutboxMessage) error

	// FailWithEvent transitions the order to FAILED with reason and step and
	// queues the failure event. Re-failing a FAILED order is a no-op.
	FailWithEvent(ctx context.Context, order *domain.Order, event *domain.OutboxMessage) error

	// CountByStatus returns order counts grouped by status
	CountByStatus(ctx context.Context) (map[domain.OrderStatus]int64, error)
}
