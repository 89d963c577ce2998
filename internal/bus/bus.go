package bus

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
)

// ErrBusClosed is returned when publishing on a bus that has been closed.
var ErrBusClosed = errors.New("event bus is closed")

// HandlerFunc processes one event delivery. Delivery is at-least-once, so
// handlers must tolerate seeing the same event again. A non-nil error tells
// the bus the delivery failed; the Kafka bus retries and eventually moves the
// event to the dead letter topic.
type HandlerFunc func(ctx context.Context, event *domain.Event) error

// EventBus is the choreography backbone. Participants subscribe to the event
// types they react to and publish follow-up events; nobody holds the whole
// flow. Subscriptions must be registered before Start.
type EventBus interface {
	// Publish emits an event to all subscribers of its type.
	Publish(ctx context.Context, event *domain.Event) error

	// Subscribe registers a handler for one event type. Multiple handlers
	// per type are allowed and run in registration order.
	Subscribe(eventType string, handler HandlerFunc) error

	// Start begins delivering events. Subscriptions are frozen at this point.
	Start(ctx context.Context) error

	// Close stops delivery and releases underlying resources.
	Close() error
}

// PartitionKey returns the ordering key for an event. Every saga payload
// carries an orderId, so deliveries for one order stay in sequence while
// different orders proceed independently.
func PartitionKey(event *domain.Event) string {
	var key struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(event.Data, &key); err != nil {
		return ""
	}
	return key.OrderID
}
