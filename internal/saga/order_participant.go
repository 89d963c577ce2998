package saga

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prohmpiriya/purchase-saga/internal/bus"
	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/internal/metrics"
	"github.com/prohmpiriya/purchase-saga/internal/repository"
	"github.com/prohmpiriya/purchase-saga/pkg/logger"
)

// failureSteps maps each upstream failure event to the step it reports on,
// used when a payload arrives without failedStep set.
var failureSteps = map[string]domain.SagaStep{
	domain.EventCouponValidationFailed:     domain.StepCouponValidation,
	domain.EventUserValidationFailed:       domain.StepUserValidation,
	domain.EventInventoryReservationFailed: domain.StepInventoryReservation,
	domain.EventItemReservationFailed:      domain.StepItemReservation,
	domain.EventPaymentFailed:              domain.StepPayment,
}

// OrderParticipant creates orders, starts sagas and records their terminal
// outcome. Unlike the other participants it never publishes directly: every
// announcement is written to the outbox in the same transaction as the order
// row, and the outbox worker carries it to the bus. A crash between commit
// and publish therefore cannot strand a saga at its first step.
type OrderParticipant struct {
	orders repository.OrderRepository
	users  repository.UserRepository
	items  repository.ItemRepository
	log    *logger.Logger
}

// NewOrderParticipant creates the order participant
func NewOrderParticipant(orders repository.OrderRepository, users repository.UserRepository, items repository.ItemRepository) *OrderParticipant {
	return &OrderParticipant{
		orders: orders,
		users:  users,
		items:  items,
		log:    logger.Get(),
	}
}

// Name identifies the participant
func (p *OrderParticipant) Name() string {
	return "order"
}

// Handlers returns the event handlers of the order participant
func (p *OrderParticipant) Handlers() map[string]bus.HandlerFunc {
	return map[string]bus.HandlerFunc{
		domain.EventCouponValidated:            p.HandleCouponValidated,
		domain.EventCouponValidationFailed:     p.HandleStepFailed,
		domain.EventUserValidationFailed:       p.HandleStepFailed,
		domain.EventInventoryReservationFailed: p.HandleStepFailed,
		domain.EventItemReservationFailed:      p.HandleStepFailed,
		domain.EventPaymentFailed:              p.HandleStepFailed,
		domain.EventPaymentProcessed:           p.HandlePaymentProcessed,
	}
}

// CreateOrder validates the references, persists a PENDING order and queues
// the kickoff event: coupon validation when a coupon rides along, otherwise
// order.created directly. Lookup failures surface synchronously to the
// caller; nothing is published for them.
func (p *OrderParticipant) CreateOrder(ctx context.Context, userID, itemID string, quantity int, userCouponID string) (*domain.Order, error) {
	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	item, err := p.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	totalAmount := item.Price * float64(quantity)
	order := domain.NewOrder(uuid.New().String(), user.ID, item.ID, quantity, totalAmount, userCouponID)
	if err := order.Validate(); err != nil {
		return nil, err
	}

	var msg *domain.OutboxMessage
	if order.HasCoupon() {
		msg, err = domain.OrderOutboxEvent(domain.EventCouponValidationRequested, order.ID, &domain.CouponValidationRequestedPayload{
			OrderID:      order.ID,
			UserID:       order.UserID,
			ItemID:       order.ItemID,
			Quantity:     order.Quantity,
			TotalAmount:  order.TotalAmount,
			UserCouponID: order.UserCouponID,
		})
	} else {
		msg, err = domain.OrderOutboxEvent(domain.EventOrderCreated, order.ID, orderCreatedPayload(order))
	}
	if err != nil {
		return nil, err
	}

	if err := p.orders.CreateWithEvent(ctx, order, msg); err != nil {
		return nil, err
	}

	metrics.RecordOrderCreated(ctx, order.ItemID, order.Quantity, order.HasCoupon())
	p.log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("item_id", order.ItemID),
		zap.Int("quantity", order.Quantity),
		zap.Float64("total_amount", order.TotalAmount),
		zap.Bool("has_coupon", order.HasCoupon()))
	return order, nil
}

// HandleCouponValidated applies the validated discount and releases the order
// into the chain with the discounted amount as the amount to charge.
func (p *OrderParticipant) HandleCouponValidated(ctx context.Context, event *domain.Event) error {
	var payload domain.CouponValidatedPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}

	order, err := p.orders.GetByID(ctx, payload.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			p.log.Warn("coupon validated for unknown order", zap.String("order_id", payload.OrderID))
			return nil
		}
		return err
	}

	if err := order.ApplyDiscount(payload.UserCouponID, payload.DiscountAmount, payload.FinalAmount); err != nil {
		if errors.Is(err, domain.ErrInvalidOrderStatus) {
			p.log.Info("discount already applied",
				zap.String("order_id", order.ID),
				zap.String("status", order.Status.String()))
			return nil
		}
		// The validator priced against a different total; nothing was
		// reserved yet, so failing the order terminally is safe.
		p.log.Error("coupon pricing does not match order",
			zap.String("order_id", order.ID),
			zap.Float64("discount_amount", payload.DiscountAmount),
			zap.Float64("final_amount", payload.FinalAmount),
			zap.Error(err))
		return p.failOrder(ctx, order, domain.ReasonSystemError, domain.StepCouponValidation)
	}

	msg, err := domain.OrderOutboxEvent(domain.EventOrderCreated, order.ID, orderCreatedPayload(order))
	if err != nil {
		return err
	}

	if err := p.orders.ApplyDiscountWithEvent(ctx, order, msg); err != nil {
		if errors.Is(err, domain.ErrOrderAlreadyTerminal) {
			p.log.Warn("coupon validated for terminal order",
				zap.String("order_id", order.ID),
				zap.String("status", order.Status.String()))
			return nil
		}
		return err
	}

	p.log.Info("discount applied",
		zap.String("order_id", order.ID),
		zap.String("user_coupon_id", payload.UserCouponID),
		zap.Float64("discount_amount", order.DiscountAmount),
		zap.Float64("final_amount", order.FinalAmount))
	return nil
}

// HandlePaymentProcessed closes the saga: the order transitions to COMPLETED
// and order.completed is queued. Re-deliveries find the order completed and
// do nothing.
func (p *OrderParticipant) HandlePaymentProcessed(ctx context.Context, event *domain.Event) error {
	var payload domain.PaymentProcessedPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}

	order, err := p.orders.GetByID(ctx, payload.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			p.log.Warn("payment processed for unknown order", zap.String("order_id", payload.OrderID))
			return nil
		}
		return err
	}

	if order.Status == domain.OrderStatusCompleted {
		p.log.Info("order already completed", zap.String("order_id", order.ID))
		return nil
	}

	itemName := order.ItemID
	if item, err := p.items.GetByID(ctx, order.ItemID); err == nil {
		itemName = item.Name
	} else {
		p.log.Warn("failed to resolve item name for completion",
			zap.String("order_id", order.ID),
			zap.String("item_id", order.ItemID),
			zap.Error(err))
	}

	msg, err := domain.OrderOutboxEvent(domain.EventOrderCompleted, order.ID, &domain.OrderCompletedPayload{
		OrderID:      order.ID,
		UserID:       order.UserID,
		ItemName:     itemName,
		TotalAmount:  order.FinalAmount,
		UserCouponID: order.UserCouponID,
	})
	if err != nil {
		return err
	}

	if err := p.orders.CompleteWithEvent(ctx, order, msg); err != nil {
		if errors.Is(err, domain.ErrOrderAlreadyTerminal) {
			// The charge landed after compensation already failed the order.
			// Nothing to unwind here; flag it for the operator.
			p.log.Error("payment processed for failed order",
				zap.String("order_id", order.ID),
				zap.String("failure_reason", order.FailureReason))
			return nil
		}
		return err
	}

	metrics.RecordOrderCompleted(ctx, time.Since(order.CreatedAt).Seconds())
	p.log.Info("order completed",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.Float64("total_amount", order.FinalAmount))
	return nil
}

// HandleStepFailed records a terminal failure reported by any step and queues
// order.failed, which drives the compensation handlers. The step comes from
// the payload; events predating the failedStep field fall back to a per-type
// mapping, never to parsing reason text.
func (p *OrderParticipant) HandleStepFailed(ctx context.Context, event *domain.Event) error {
	var payload failureEvent
	if err := event.Decode(&payload); err != nil {
		return err
	}

	step := payload.FailedStep
	if !step.IsValid() {
		step = failureSteps[event.EventType]
	}
	reason := payload.Reason
	if reason == "" {
		reason = domain.ReasonSystemError
	}

	order, err := p.orders.GetByID(ctx, payload.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			p.log.Warn("step failed for unknown order",
				zap.String("order_id", payload.OrderID),
				zap.String("event_type", event.EventType))
			return nil
		}
		return err
	}

	if err := p.failOrder(ctx, order, reason, step); err != nil {
		return err
	}

	p.log.Info("order failed",
		zap.String("order_id", order.ID),
		zap.String("reason", reason),
		zap.String("failed_step", step.String()))
	return nil
}

// failOrder transitions the order to FAILED and queues order.failed carrying
// the coupon bookkeeping the validator needs to release its reservation.
func (p *OrderParticipant) failOrder(ctx context.Context, order *domain.Order, reason string, step domain.SagaStep) error {
	if err := order.Fail(reason, step); err != nil {
		p.log.Warn("cannot fail terminal order",
			zap.String("order_id", order.ID),
			zap.String("status", order.Status.String()),
			zap.String("reason", reason))
		return nil
	}

	msg, err := domain.OrderOutboxEvent(domain.EventOrderFailed, order.ID, &domain.OrderFailedPayload{
		OrderID:        order.ID,
		UserID:         order.UserID,
		Reason:         reason,
		FailedStep:     step,
		UserCouponID:   order.UserCouponID,
		DiscountAmount: order.DiscountAmount,
	})
	if err != nil {
		return err
	}

	if err := p.orders.FailWithEvent(ctx, order, msg); err != nil {
		if errors.Is(err, domain.ErrOrderAlreadyTerminal) {
			p.log.Warn("order already terminal",
				zap.String("order_id", order.ID),
				zap.String("reason", reason))
			return nil
		}
		return err
	}

	metrics.RecordOrderFailed(ctx, reason, step.String(), time.Since(order.CreatedAt).Seconds())
	return nil
}

// orderCreatedPayload builds the order.created payload. TotalAmount on the
// wire is the amount downstream steps charge, so after a discount it equals
// FinalAmount rather than the undiscounted total.
func orderCreatedPayload(order *domain.Order) *domain.OrderCreatedPayload {
	return &domain.OrderCreatedPayload{
		OrderID:        order.ID,
		UserID:         order.UserID,
		ItemID:         order.ItemID,
		Quantity:       order.Quantity,
		TotalAmount:    order.FinalAmount,
		DiscountAmount: order.DiscountAmount,
		FinalAmount:    order.FinalAmount,
		UserCouponID:   order.UserCouponID,
	}
}

var _ Participant = (*OrderParticipant)(nil)
