package saga

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prohmpiriya/purchase-saga/internal/bus"
	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/internal/repository"
	"github.com/prohmpiriya/purchase-saga/pkg/logger"
)

// ItemParticipant owns item stock. The forward step decrements stock and
// records a durable reservation row in one row-locked transaction; the row is
// both the audit trail and the idempotency marker. Stock only moves together
// with a reservation status transition, so restores can never run twice.
type ItemParticipant struct {
	items        repository.ItemRepository
	reservations repository.ItemReservationRepository
	bus          bus.EventBus
	log          *logger.Logger

	reservationTTL time.Duration
}

// NewItemParticipant creates the item participant
func NewItemParticipant(items repository.ItemRepository, reservations repository.ItemReservationRepository, eventBus bus.EventBus) *ItemParticipant {
	return &ItemParticipant{
		items:          items,
		reservations:   reservations,
		bus:            eventBus,
		log:            logger.Get(),
		reservationTTL: defaultItemReservationTTL,
	}
}

// SetReservationTTL overrides the stock reservation lifetime
func (p *ItemParticipant) SetReservationTTL(ttl time.Duration) {
	if ttl > 0 {
		p.reservationTTL = ttl
	}
}

// Name identifies the participant
func (p *ItemParticipant) Name() string {
	return "item"
}

// Handlers returns the event handlers of the item participant
func (p *ItemParticipant) Handlers() map[string]bus.HandlerFunc {
	return map[string]bus.HandlerFunc{
		domain.EventInventoryReserved: p.HandleInventoryReserved,
		domain.EventPaymentSuccess:    p.HandleConfirm,
		domain.EventPaymentFailed:     p.HandleRollback,
	}
}

// HandleInventoryReserved decrements stock and records the reservation. A
// redelivery finds the existing row: live rows re-announce the original
// reservation, settled rows mean the saga already compensated and stay quiet.
func (p *ItemParticipant) HandleInventoryReserved(ctx context.Context, event *domain.Event) error {
	var payload domain.InventoryReservedPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}

	existing, err := p.reservations.GetByOrderID(ctx, payload.OrderID)
	if err != nil {
		p.log.Error("failed to check item reservations",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return p.publishReservationFailed(ctx, &payload, domain.ReasonSystemError)
	}
	if len(existing) > 0 {
		return p.reannounce(ctx, &payload, existing[0])
	}

	tx, err := p.items.BeginTx(ctx)
	if err != nil {
		p.log.Error("failed to begin stock transaction",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return p.publishReservationFailed(ctx, &payload, domain.ReasonSystemError)
	}
	defer tx.Rollback(ctx)

	item, err := p.items.GetForUpdate(ctx, tx, payload.ItemID)
	if err != nil {
		if errors.Is(err, domain.ErrItemNotFound) {
			return p.publishReservationFailed(ctx, &payload, domain.ReasonItemNotFound)
		}
		p.log.Error("failed to load item for update",
			zap.String("order_id", payload.OrderID),
			zap.String("item_id", payload.ItemID),
			zap.Error(err))
		return p.publishReservationFailed(ctx, &payload, domain.ReasonSystemError)
	}

	if !item.IsActive {
		return p.publishReservationFailed(ctx, &payload, domain.ReasonItemInactive)
	}
	if !item.HasStock(payload.Quantity) {
		p.log.Warn("insufficient stock",
			zap.String("order_id", payload.OrderID),
			zap.String("item_id", item.ID),
			zap.Int("stock", item.Stock),
			zap.Int("quantity", payload.Quantity))
		return p.publishReservationFailed(ctx, &payload, domain.ReasonInsufficientStock)
	}

	originalStock := item.Stock
	if err := p.items.DecrementStockTx(ctx, tx, item.ID, payload.Quantity); err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			return p.publishReservationFailed(ctx, &payload, domain.ReasonInsufficientStock)
		}
		p.log.Error("failed to decrement stock",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return p.publishReservationFailed(ctx, &payload, domain.ReasonSystemError)
	}

	reservation := domain.NewItemReservation(
		uuid.New().String(),
		payload.OrderID,
		item.ID,
		payload.UserID,
		payload.Quantity,
		originalStock,
		p.reservationTTL,
	)
	if err := p.reservations.CreateTx(ctx, tx, reservation); err != nil {
		p.log.Error("failed to create item reservation",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return p.publishReservationFailed(ctx, &payload, domain.ReasonSystemError)
	}

	if err := tx.Commit(ctx); err != nil {
		p.log.Error("failed to commit item reservation",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return p.publishReservationFailed(ctx, &payload, domain.ReasonSystemError)
	}

	p.log.Info("item reserved",
		zap.String("order_id", payload.OrderID),
		zap.String("item_id", item.ID),
		zap.Int("quantity", payload.Quantity),
		zap.Int("remaining_stock", originalStock-payload.Quantity))

	return publish(ctx, p.bus, domain.EventItemReserved, &domain.ItemReservedPayload{
		OrderID:          payload.OrderID,
		UserID:           payload.UserID,
		ItemID:           item.ID,
		ReservedQuantity: payload.Quantity,
		RemainingStock:   originalStock - payload.Quantity,
	})
}

// reannounce handles a redelivered inventory.reserved for an order that
// already holds a reservation row.
func (p *ItemParticipant) reannounce(ctx context.Context, payload *domain.InventoryReservedPayload, reservation *domain.ItemReservation) error {
	switch reservation.Status {
	case domain.ReservationStatusReserved, domain.ReservationStatusConfirmed:
		p.log.Info("item already reserved, re-announcing",
			zap.String("order_id", payload.OrderID),
			zap.String("item_id", reservation.ItemID),
			zap.String("status", reservation.Status.String()))
		return publish(ctx, p.bus, domain.EventItemReserved, &domain.ItemReservedPayload{
			OrderID:          payload.OrderID,
			UserID:           payload.UserID,
			ItemID:           reservation.ItemID,
			ReservedQuantity: reservation.ReservedQuantity,
			RemainingStock:   reservation.OriginalStock - reservation.ReservedQuantity,
		})
	default:
		// The reservation was cancelled or expired, so the saga is already
		// unwinding; announcing success here would charge a dead order.
		p.log.Warn("reservation already settled, dropping redelivery",
			zap.String("order_id", payload.OrderID),
			zap.String("status", reservation.Status.String()))
		return nil
	}
}

// HandleConfirm flips the order's RESERVED rows to CONFIRMED once payment
// landed. Stock does not move. Rows settled by a rollback or the sweeper are
// left alone, which also makes redeliveries no-ops.
func (p *ItemParticipant) HandleConfirm(ctx context.Context, event *domain.Event) error {
	var payload domain.PaymentProcessedPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}

	confirmed, err := p.reservations.ConfirmByOrderID(ctx, payload.OrderID)
	if err != nil {
		return err
	}

	if confirmed == 0 {
		p.log.Info("no reservations to confirm",
			zap.String("order_id", payload.OrderID))
		return nil
	}

	p.log.Info("item reservations confirmed",
		zap.String("order_id", payload.OrderID),
		zap.Int64("confirmed", confirmed))
	return nil
}

// HandleRollback restores stock for every live reservation of the failed
// order. Each restore pairs the stock increment with the guarded CANCELLED
// transition in its own transaction; rows the sweeper already expired fail
// the guard and are skipped without touching stock again.
func (p *ItemParticipant) HandleRollback(ctx context.Context, event *domain.Event) error {
	var payload failureEvent
	if err := event.Decode(&payload); err != nil {
		return err
	}

	active, err := p.reservations.FindActiveByOrderID(ctx, payload.OrderID)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		p.log.Info("no item reservations to restore",
			zap.String("order_id", payload.OrderID),
			zap.String("trigger", event.EventType))
		return nil
	}

	restored := make([]domain.RestoredItem, 0, len(active))
	for _, reservation := range active {
		ok, err := p.restoreReservation(ctx, reservation, payload.Reason)
		if err != nil {
			return err
		}
		if ok {
			restored = append(restored, domain.RestoredItem{
				ItemID:           reservation.ItemID,
				RestoredQuantity: reservation.ReservedQuantity,
			})
		}
	}

	if len(restored) == 0 {
		return nil
	}

	p.log.Info("item stock restored",
		zap.String("order_id", payload.OrderID),
		zap.Int("reservations", len(restored)),
		zap.String("reason", payload.Reason))

	return publish(ctx, p.bus, domain.EventItemRestored, &domain.ItemRestoredPayload{
		OrderID:       payload.OrderID,
		UserID:        payload.UserID,
		RestoredItems: restored,
		Reason:        payload.Reason,
	})
}

// restoreReservation cancels one reservation and returns the stock it held.
// Returns false when the row was already settled between the find and the
// guarded update.
func (p *ItemParticipant) restoreReservation(ctx context.Context, reservation *domain.ItemReservation, reason string) (bool, error) {
	tx, err := p.items.BeginTx(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	cancelled, err := p.reservations.CancelTx(ctx, tx, reservation.ID, reason)
	if err != nil {
		return false, err
	}
	if !cancelled {
		p.log.Info("reservation already settled, skipping restore",
			zap.String("order_id", reservation.OrderID),
			zap.String("reservation_id", reservation.ID))
		return false, nil
	}

	if err := p.items.IncrementStockTx(ctx, tx, reservation.ItemID, reservation.ReservedQuantity); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (p *ItemParticipant) publishReservationFailed(ctx context.Context, payload *domain.InventoryReservedPayload, reason string) error {
	p.log.Warn("item reservation failed",
		zap.String("order_id", payload.OrderID),
		zap.String("item_id", payload.ItemID),
		zap.String("reason", reason))
	return publish(ctx, p.bus, domain.EventItemReservationFailed, &domain.ItemReservationFailedPayload{
		OrderID:    payload.OrderID,
		UserID:     payload.UserID,
		ItemID:     payload.ItemID,
		Reason:     reason,
		FailedStep: domain.StepItemReservation,
	})
}

var _ Participant = (*ItemParticipant)(nil)
