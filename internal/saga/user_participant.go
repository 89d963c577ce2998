package saga

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/purchase-saga/internal/bus"
	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/internal/repository"
	"github.com/prohmpiriya/purchase-saga/pkg/logger"
)

// UserParticipant validates the buyer and holds the purchase amount on their
// balance. The hold is a KV entry plus a balance decrement committed in one
// row-locked transaction; the KV entry doubles as the idempotency marker, so
// a redelivered order.created re-announces the existing hold instead of
// reserving twice.
type UserParticipant struct {
	users repository.UserRepository
	store repository.ReservationStore
	bus   bus.EventBus
	log   *logger.Logger

	reservationTTL time.Duration
}

// NewUserParticipant creates the user participant
func NewUserParticipant(users repository.UserRepository, store repository.ReservationStore, eventBus bus.EventBus) *UserParticipant {
	return &UserParticipant{
		users:          users,
		store:          store,
		bus:            eventBus,
		log:            logger.Get(),
		reservationTTL: defaultReservationTTL,
	}
}

// SetReservationTTL overrides the balance reservation lifetime
func (p *UserParticipant) SetReservationTTL(ttl time.Duration) {
	if ttl > 0 {
		p.reservationTTL = ttl
	}
}

// Name identifies the participant
func (p *UserParticipant) Name() string {
	return "user"
}

// Handlers returns the event handlers of the user participant
func (p *UserParticipant) Handlers() map[string]bus.HandlerFunc {
	return map[string]bus.HandlerFunc{
		domain.EventOrderCreated:               p.HandleOrderCreated,
		domain.EventPaymentFailed:              p.HandleRollback,
		domain.EventInventoryReservationFailed: p.HandleRollback,
		domain.EventItemReservationFailed:      p.HandleRollback,
	}
}

// HandleOrderCreated validates the user and reserves the order amount. The
// row lock, the KV write and the balance decrement happen inside one
// transaction window; the events go out only after commit, so downstream
// steps never observe a stale balance.
func (p *UserParticipant) HandleOrderCreated(ctx context.Context, event *domain.Event) error {
	var payload domain.OrderCreatedPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}

	tx, err := p.users.BeginTx(ctx)
	if err != nil {
		p.log.Error("failed to begin balance transaction",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return p.publishValidationFailed(ctx, payload.OrderID, payload.UserID, domain.ReasonSystemError)
	}
	defer tx.Rollback(ctx)

	user, err := p.users.GetForUpdate(ctx, tx, payload.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return p.publishValidationFailed(ctx, payload.OrderID, payload.UserID, domain.ReasonUserNotFound)
		}
		p.log.Error("failed to load user for update",
			zap.String("order_id", payload.OrderID),
			zap.String("user_id", payload.UserID),
			zap.Error(err))
		return p.publishValidationFailed(ctx, payload.OrderID, payload.UserID, domain.ReasonSystemError)
	}

	// Checked under the row lock so a concurrent delivery of the same order
	// cannot slip past between check and write.
	existing, err := p.store.GetBalanceReservation(ctx, payload.UserID, payload.OrderID)
	if err != nil {
		p.log.Error("failed to check balance reservation",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return p.publishValidationFailed(ctx, payload.OrderID, payload.UserID, domain.ReasonSystemError)
	}
	if existing != nil {
		p.log.Info("balance already reserved, re-announcing",
			zap.String("order_id", payload.OrderID),
			zap.String("user_id", payload.UserID),
			zap.Float64("amount", existing.Amount))
		return p.publishReserved(ctx, &payload, existing.OriginalBalance, existing.Amount)
	}

	if !user.IsActive {
		return p.publishValidationFailed(ctx, payload.OrderID, payload.UserID, domain.ReasonUserInactive)
	}
	if !user.CanAfford(payload.TotalAmount) {
		return p.publishValidationFailed(ctx, payload.OrderID, payload.UserID, domain.ReasonInsufficientFunds)
	}

	slots, err := p.users.CountInventoryTx(ctx, tx, user.ID)
	if err != nil {
		p.log.Error("failed to count inventory slots",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return p.publishValidationFailed(ctx, payload.OrderID, payload.UserID, domain.ReasonSystemError)
	}
	if slots >= user.MaxInventorySlots {
		return p.publishValidationFailed(ctx, payload.OrderID, payload.UserID, domain.ReasonInsufficientSlots)
	}

	reservation := &domain.BalanceReservation{
		UserID:          user.ID,
		OrderID:         payload.OrderID,
		Amount:          payload.TotalAmount,
		OriginalBalance: user.Balance,
		ReservedAt:      time.Now().UTC(),
	}
	if err := p.store.SaveBalanceReservation(ctx, reservation, p.reservationTTL); err != nil {
		p.log.Error("failed to save balance reservation",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return p.publishValidationFailed(ctx, payload.OrderID, payload.UserID, domain.ReasonSystemError)
	}

	if err := p.users.SetBalanceTx(ctx, tx, user.ID, user.Balance-payload.TotalAmount); err != nil {
		p.log.Error("failed to decrement balance",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		p.discardReservation(ctx, user.ID, payload.OrderID)
		return p.publishValidationFailed(ctx, payload.OrderID, payload.UserID, domain.ReasonSystemError)
	}

	if err := tx.Commit(ctx); err != nil {
		p.log.Error("failed to commit balance reservation",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		p.discardReservation(ctx, user.ID, payload.OrderID)
		return p.publishValidationFailed(ctx, payload.OrderID, payload.UserID, domain.ReasonSystemError)
	}

	p.log.Info("balance reserved",
		zap.String("order_id", payload.OrderID),
		zap.String("user_id", user.ID),
		zap.Float64("amount", payload.TotalAmount),
		zap.Float64("remaining_balance", user.Balance-payload.TotalAmount))
	return p.publishReserved(ctx, &payload, user.Balance, payload.TotalAmount)
}

// HandleRollback restores the balance held for a failed saga. The KV entry is
// the guard: absent means the hold was already released (or never taken) and
// the delivery is a no-op. Errors propagate so the bus retries; compensation
// must eventually land.
func (p *UserParticipant) HandleRollback(ctx context.Context, event *domain.Event) error {
	var payload failureEvent
	if err := event.Decode(&payload); err != nil {
		return err
	}

	reservation, err := p.store.GetBalanceReservation(ctx, payload.UserID, payload.OrderID)
	if err != nil {
		return err
	}
	if reservation == nil {
		p.log.Info("no balance reservation to roll back",
			zap.String("order_id", payload.OrderID),
			zap.String("user_id", payload.UserID),
			zap.String("trigger", event.EventType))
		return nil
	}

	tx, err := p.users.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := p.users.GetForUpdate(ctx, tx, payload.UserID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			p.log.Error("user missing during balance rollback",
				zap.String("order_id", payload.OrderID),
				zap.String("user_id", payload.UserID))
			return nil
		}
		return err
	}

	// Restores the snapshot taken at reservation time rather than adding the
	// amount back, so repeated rollbacks converge on the same value.
	if err := p.users.SetBalanceTx(ctx, tx, payload.UserID, reservation.OriginalBalance); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if err := p.store.DeleteBalanceReservation(ctx, payload.UserID, payload.OrderID); err != nil {
		return err
	}

	p.log.Info("balance restored",
		zap.String("order_id", payload.OrderID),
		zap.String("user_id", payload.UserID),
		zap.Float64("restored_balance", reservation.OriginalBalance),
		zap.String("trigger", event.EventType))

	return publish(ctx, p.bus, domain.EventPaymentRollback, &domain.PaymentRollbackPayload{
		OrderID:        payload.OrderID,
		UserID:         payload.UserID,
		RollbackAmount: reservation.Amount,
		Reason:         payload.Reason,
	})
}

// publishReserved announces a successful hold. userBalance is the balance at
// validation time, before the decrement.
func (p *UserParticipant) publishReserved(ctx context.Context, payload *domain.OrderCreatedPayload, userBalance, amount float64) error {
	if err := publish(ctx, p.bus, domain.EventUserValidated, &domain.UserValidatedPayload{
		OrderID:        payload.OrderID,
		UserID:         payload.UserID,
		UserBalance:    userBalance,
		RequiredAmount: amount,
	}); err != nil {
		return err
	}

	return publish(ctx, p.bus, domain.EventPaymentReserved, &domain.PaymentReservedPayload{
		OrderID:          payload.OrderID,
		UserID:           payload.UserID,
		ItemID:           payload.ItemID,
		Quantity:         payload.Quantity,
		ReservedAmount:   amount,
		RemainingBalance: userBalance - amount,
	})
}

func (p *UserParticipant) publishValidationFailed(ctx context.Context, orderID, userID, reason string) error {
	p.log.Warn("user validation failed",
		zap.String("order_id", orderID),
		zap.String("user_id", userID),
		zap.String("reason", reason))
	return publish(ctx, p.bus, domain.EventUserValidationFailed, &domain.UserValidationFailedPayload{
		OrderID:    orderID,
		UserID:     userID,
		Reason:     reason,
		FailedStep: domain.StepUserValidation,
	})
}

// discardReservation drops a KV hold whose transaction did not commit. The
// balance was never decremented, so the entry is stale; if the delete fails
// the TTL reclaims it.
func (p *UserParticipant) discardReservation(ctx context.Context, userID, orderID string) {
	if err := p.store.DeleteBalanceReservation(ctx, userID, orderID); err != nil {
		p.log.Warn("failed to discard stale balance reservation",
			zap.String("order_id", orderID),
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

var _ Participant = (*UserParticipant)(nil)
