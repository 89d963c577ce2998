package saga

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/purchase-saga/internal/bus"
	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/pkg/logger"
)

// NotificationParticipant composes user-facing messages from the saga's
// terminal events and announces them as notification.sent. Delivery is a log
// line; the event gives a real transport something to hook onto.
type NotificationParticipant struct {
	bus bus.EventBus
	log *logger.Logger
}

// NewNotificationParticipant creates the notification participant
func NewNotificationParticipant(eventBus bus.EventBus) *NotificationParticipant {
	return &NotificationParticipant{
		bus: eventBus,
		log: logger.Get(),
	}
}

// Name identifies the participant
func (p *NotificationParticipant) Name() string {
	return "notification"
}

// Handlers returns the event handlers of the notification participant
func (p *NotificationParticipant) Handlers() map[string]bus.HandlerFunc {
	return map[string]bus.HandlerFunc{
		domain.EventOrderCompleted: p.HandleOrderCompleted,
		domain.EventOrderFailed:    p.HandleOrderFailed,
	}
}

// HandleOrderCompleted notifies the buyer of a successful purchase
func (p *NotificationParticipant) HandleOrderCompleted(ctx context.Context, event *domain.Event) error {
	var payload domain.OrderCompletedPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}

	message := fmt.Sprintf("Your purchase of %s is complete. %.2f was charged.",
		payload.ItemName, payload.TotalAmount)
	return p.send(ctx, payload.OrderID, payload.UserID, message, "order_completed")
}

// HandleOrderFailed notifies the buyer that the purchase did not go through
func (p *NotificationParticipant) HandleOrderFailed(ctx context.Context, event *domain.Event) error {
	var payload domain.OrderFailedPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}

	message := fmt.Sprintf("Your order could not be completed (%s). Any held funds have been returned.",
		payload.Reason)
	return p.send(ctx, payload.OrderID, payload.UserID, message, "order_failed")
}

func (p *NotificationParticipant) send(ctx context.Context, orderID, userID, message, notificationType string) error {
	p.log.Info("notification sent",
		zap.String("order_id", orderID),
		zap.String("user_id", userID),
		zap.String("type", notificationType),
		zap.String("message", message))

	return publish(ctx, p.bus, domain.EventNotificationSent, &domain.NotificationSentPayload{
		OrderID: orderID,
		UserID:  userID,
		Message: message,
		Type:    notificationType,
		SentAt:  time.Now().UTC(),
	})
}

var _ Participant = (*NotificationParticipant)(nil)
