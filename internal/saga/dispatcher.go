// Package saga implements the purchase saga as choreography: each participant
// owns one slice of the purchase (order lifecycle, balance, slot capacity,
// stock, payment, coupon) and reacts to bus events by committing its local
// step and publishing the next one. There is no orchestrator; saga progress
// lives in the durable artifacts plus the event chain, joinable by orderId.
//
// Delivery is at-least-once, so every handler tolerates replays: forward
// steps are guarded updates or presence checks, rollback handlers treat a
// missing reservation as already compensated, and confirmation handlers treat
// an already-terminal row as done.
package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/prohmpiriya/purchase-saga/internal/bus"
	"github.com/prohmpiriya/purchase-saga/internal/domain"
)

// Participant is one autonomous saga member. Handlers returns a static map
// from event type to handler, fixed at construction; registration is a plain
// lookup table, never reflection.
type Participant interface {
	// Name identifies the participant in logs and registration errors
	Name() string

	// Handlers returns the event types the participant reacts to
	Handlers() map[string]bus.HandlerFunc
}

// Register subscribes every handler of every participant on the bus. Must be
// called before the bus starts.
func Register(eventBus bus.EventBus, participants ...Participant) error {
	for _, p := range participants {
		for eventType, handler := range p.Handlers() {
			if err := eventBus.Subscribe(eventType, handler); err != nil {
				return fmt.Errorf("failed to register %s on %s: %w", p.Name(), eventType, err)
			}
		}
	}
	return nil
}

// publish builds and emits one event. Payload marshal failures and bus errors
// both surface to the caller; a handler that cannot announce its outcome must
// not swallow that.
func publish(ctx context.Context, eventBus bus.EventBus, eventType string, payload interface{}) error {
	event, err := domain.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	if err := eventBus.Publish(ctx, event); err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	return nil
}

// failureEvent is the shared shape of every *_FAILED payload. Decoding drops
// whatever extra fields a particular failure carries.
type failureEvent struct {
	OrderID    string          `json:"orderId"`
	UserID     string          `json:"userId"`
	Reason     string          `json:"reason"`
	FailedStep domain.SagaStep `json:"failedStep"`
}

// Reservation and lock lifetimes, overridable per participant config.
const (
	defaultReservationTTL     = 300 * time.Second
	defaultItemReservationTTL = 5 * time.Minute
	defaultLockTTL            = 5 * time.Second
)
