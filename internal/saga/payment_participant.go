package saga

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/prohmpiriya/purchase-saga/internal/bus"
	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/internal/gateway"
	"github.com/prohmpiriya/purchase-saga/internal/repository"
	"github.com/prohmpiriya/purchase-saga/pkg/logger"
)

// PaymentParticipant executes the charge once every reservation upstream is
// in place. The amount comes from the balance hold, never from the event, so
// a forged or stale payload cannot charge more than was reserved. The
// participant holds no state of its own; idempotency lives downstream, where
// order completion, inventory confirm and item confirm all tolerate
// redelivery.
type PaymentParticipant struct {
	store   repository.ReservationStore
	gateway gateway.PaymentGateway
	bus     bus.EventBus
	log     *logger.Logger

	currency string
	method   string
}

// NewPaymentParticipant creates the payment participant
func NewPaymentParticipant(store repository.ReservationStore, gw gateway.PaymentGateway, eventBus bus.EventBus) *PaymentParticipant {
	return &PaymentParticipant{
		store:    store,
		gateway:  gw,
		bus:      eventBus,
		log:      logger.Get(),
		currency: "THB",
		method:   "balance",
	}
}

// SetCurrency overrides the charge currency
func (p *PaymentParticipant) SetCurrency(currency string) {
	if currency != "" {
		p.currency = currency
	}
}

// Name identifies the participant
func (p *PaymentParticipant) Name() string {
	return "payment"
}

// Handlers returns the event handlers of the payment participant
func (p *PaymentParticipant) Handlers() map[string]bus.HandlerFunc {
	return map[string]bus.HandlerFunc{
		domain.EventItemReserved: p.HandleItemReserved,
	}
}

// HandleItemReserved charges the held amount through the gateway. A declined
// charge and a missing hold are both normal saga failures; only transport
// trouble with the provider is reported as system-error.
func (p *PaymentParticipant) HandleItemReserved(ctx context.Context, event *domain.Event) error {
	var payload domain.ItemReservedPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}

	reservation, err := p.store.GetBalanceReservation(ctx, payload.UserID, payload.OrderID)
	if err != nil {
		p.log.Error("failed to read balance reservation",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return p.publishFailed(ctx, payload.OrderID, payload.UserID, domain.ReasonSystemError, 0)
	}
	if reservation == nil {
		p.log.Warn("balance reservation missing at payment",
			zap.String("order_id", payload.OrderID),
			zap.String("user_id", payload.UserID))
		return p.publishFailed(ctx, payload.OrderID, payload.UserID, domain.ReasonReservationMissing, 0)
	}

	resp, err := p.gateway.Charge(ctx, &gateway.ChargeRequest{
		OrderID:     payload.OrderID,
		UserID:      payload.UserID,
		Amount:      reservation.Amount,
		Currency:    p.currency,
		Method:      p.method,
		Description: fmt.Sprintf("order %s", payload.OrderID),
	})
	if err != nil {
		p.log.Error("gateway charge errored",
			zap.String("order_id", payload.OrderID),
			zap.String("gateway", p.gateway.Name()),
			zap.Error(err))
		return p.publishFailed(ctx, payload.OrderID, payload.UserID, domain.ReasonSystemError, reservation.Amount)
	}

	if !resp.Success {
		p.log.Warn("payment declined",
			zap.String("order_id", payload.OrderID),
			zap.String("gateway", p.gateway.Name()),
			zap.String("failure_code", resp.FailureCode),
			zap.String("failure_reason", resp.FailureReason))
		return p.publishFailed(ctx, payload.OrderID, payload.UserID, domain.ReasonPaymentDeclined, reservation.Amount)
	}

	p.log.Info("payment processed",
		zap.String("order_id", payload.OrderID),
		zap.String("user_id", payload.UserID),
		zap.String("transaction_id", resp.TransactionID),
		zap.Float64("amount", reservation.Amount))

	processed := &domain.PaymentProcessedPayload{
		OrderID:       payload.OrderID,
		UserID:        payload.UserID,
		PaymentAmount: reservation.Amount,
		PaymentMethod: p.method,
	}
	if err := publish(ctx, p.bus, domain.EventPaymentProcessed, processed); err != nil {
		return err
	}
	return publish(ctx, p.bus, domain.EventPaymentSuccess, processed)
}

func (p *PaymentParticipant) publishFailed(ctx context.Context, orderID, userID, reason string, attemptedAmount float64) error {
	return publish(ctx, p.bus, domain.EventPaymentFailed, &domain.PaymentFailedPayload{
		OrderID:         orderID,
		UserID:          userID,
		Reason:          reason,
		AttemptedAmount: attemptedAmount,
		FailedStep:      domain.StepPayment,
	})
}

var _ Participant = (*PaymentParticipant)(nil)
