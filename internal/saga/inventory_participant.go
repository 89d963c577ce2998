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
	"github.com/prohmpiriya/purchase-saga/pkg/retry"
)

// inventoryLockRetry bounds how long a handler waits on the per-user advisory
// lock before reporting contention.
var inventoryLockRetry = &retry.Config{
	MaxRetries:      4,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     400 * time.Millisecond,
	Multiplier:      2.0,
	JitterFactor:    0.2,
}

// InventoryParticipant guards per-user slot capacity. The slot hold is a KV
// entry only; durable inventory rows are written at confirmation time, after
// the payment landed. Serialization of the count-then-reserve window uses an
// advisory lock per userId, released before anything is published.
type InventoryParticipant struct {
	users repository.UserRepository
	store repository.ReservationStore
	locks repository.LockRepository
	bus   bus.EventBus
	log   *logger.Logger

	reservationTTL time.Duration
	lockTTL        time.Duration
}

// NewInventoryParticipant creates the inventory participant
func NewInventoryParticipant(users repository.UserRepository, store repository.ReservationStore, locks repository.LockRepository, eventBus bus.EventBus) *InventoryParticipant {
	return &InventoryParticipant{
		users:          users,
		store:          store,
		locks:          locks,
		bus:            eventBus,
		log:            logger.Get(),
		reservationTTL: defaultReservationTTL,
		lockTTL:        defaultLockTTL,
	}
}

// SetReservationTTL overrides the slot reservation lifetime
func (p *InventoryParticipant) SetReservationTTL(ttl time.Duration) {
	if ttl > 0 {
		p.reservationTTL = ttl
	}
}

// SetLockTTL overrides the per-slot lock lifetime
func (p *InventoryParticipant) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		p.lockTTL = ttl
	}
}

// Name identifies the participant
func (p *InventoryParticipant) Name() string {
	return "inventory"
}

// Handlers returns the event handlers of the inventory participant
func (p *InventoryParticipant) Handlers() map[string]bus.HandlerFunc {
	return map[string]bus.HandlerFunc{
		domain.EventPaymentReserved:       p.HandlePaymentReserved,
		domain.EventPaymentProcessed:      p.HandleConfirm,
		domain.EventItemReservationFailed: p.HandleRollback,
		domain.EventPaymentFailed:         p.HandleRollback,
	}
}

// HandlePaymentReserved checks slot capacity and writes the slot hold. The
// outcome event is computed under the lock but published after release, so a
// failure event cannot re-enter a still-held critical section.
func (p *InventoryParticipant) HandlePaymentReserved(ctx context.Context, event *domain.Event) error {
	var payload domain.PaymentReservedPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}

	resource := inventoryResource(payload.UserID)
	acquired, err := p.acquireLock(ctx, resource)
	if err != nil {
		p.log.Error("failed to acquire inventory lock",
			zap.String("order_id", payload.OrderID),
			zap.String("user_id", payload.UserID),
			zap.Error(err))
		return p.publishReservationFailed(ctx, &payload, domain.ReasonSystemError)
	}
	if !acquired {
		p.log.Warn("inventory lock contended",
			zap.String("order_id", payload.OrderID),
			zap.String("user_id", payload.UserID))
		return p.publishReservationFailed(ctx, &payload, domain.ReasonLockContention)
	}

	eventType, out := p.reserveSlot(ctx, &payload)
	p.releaseLock(ctx, resource)
	return publish(ctx, p.bus, eventType, out)
}

// reserveSlot runs the count-then-reserve critical section and returns the
// event to publish after the lock is released.
func (p *InventoryParticipant) reserveSlot(ctx context.Context, payload *domain.PaymentReservedPayload) (string, interface{}) {
	user, err := p.users.GetByID(ctx, payload.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return reservationFailed(payload, domain.ReasonUserNotFound)
		}
		p.log.Error("failed to load user for slot check",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return reservationFailed(payload, domain.ReasonSystemError)
	}

	count, err := p.users.CountInventory(ctx, payload.UserID)
	if err != nil {
		p.log.Error("failed to count inventory slots",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return reservationFailed(payload, domain.ReasonSystemError)
	}

	existing, err := p.store.GetSlotReservation(ctx, payload.UserID, payload.OrderID)
	if err != nil {
		p.log.Error("failed to check slot reservation",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return reservationFailed(payload, domain.ReasonSystemError)
	}
	if existing != nil {
		p.log.Info("slot already reserved, re-announcing",
			zap.String("order_id", payload.OrderID),
			zap.String("user_id", payload.UserID))
		return domain.EventInventoryReserved, &domain.InventoryReservedPayload{
			OrderID:        payload.OrderID,
			UserID:         payload.UserID,
			ItemID:         existing.ItemID,
			Quantity:       existing.Quantity,
			ReservedSlots:  1,
			AvailableSlots: availableSlots(user.MaxInventorySlots, count),
		}
	}

	if count >= user.MaxInventorySlots {
		p.log.Warn("inventory slots exhausted",
			zap.String("order_id", payload.OrderID),
			zap.String("user_id", payload.UserID),
			zap.Int("count", count),
			zap.Int("max_slots", user.MaxInventorySlots))
		return reservationFailed(payload, domain.ReasonInsufficientSlots)
	}

	reservation := &domain.SlotReservation{
		UserID:     payload.UserID,
		OrderID:    payload.OrderID,
		ItemID:     payload.ItemID,
		Quantity:   payload.Quantity,
		ReservedAt: time.Now().UTC(),
	}
	if err := p.store.SaveSlotReservation(ctx, reservation, p.reservationTTL); err != nil {
		p.log.Error("failed to save slot reservation",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return reservationFailed(payload, domain.ReasonSystemError)
	}

	p.log.Info("inventory slot reserved",
		zap.String("order_id", payload.OrderID),
		zap.String("user_id", payload.UserID),
		zap.String("item_id", payload.ItemID),
		zap.Int("available_slots", availableSlots(user.MaxInventorySlots, count+1)))

	return domain.EventInventoryReserved, &domain.InventoryReservedPayload{
		OrderID:        payload.OrderID,
		UserID:         payload.UserID,
		ItemID:         payload.ItemID,
		Quantity:       payload.Quantity,
		ReservedSlots:  1,
		AvailableSlots: availableSlots(user.MaxInventorySlots, count+1),
	}
}

// HandleConfirm turns the slot hold into a durable inventory row once payment
// landed. Errors before the upsert propagate so the bus retries; the KV entry
// is still present and the retry converges.
func (p *InventoryParticipant) HandleConfirm(ctx context.Context, event *domain.Event) error {
	var payload domain.PaymentProcessedPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}

	resource := inventoryResource(payload.UserID)
	acquired, err := p.acquireLock(ctx, resource)
	if err != nil {
		return err
	}
	if !acquired {
		return domain.ErrLockNotAcquired
	}
	defer p.releaseLock(ctx, resource)

	reservation, err := p.store.GetSlotReservation(ctx, payload.UserID, payload.OrderID)
	if err != nil {
		return err
	}
	if reservation == nil {
		p.log.Warn("inventory confirm without reservation",
			zap.String("order_id", payload.OrderID),
			zap.String("user_id", payload.UserID))
		return nil
	}

	if err := p.users.UpsertInventory(ctx, &domain.UserInventory{
		UserID:   reservation.UserID,
		ItemID:   reservation.ItemID,
		Quantity: reservation.Quantity,
	}); err != nil {
		return err
	}

	// The KV delete is what stops a redelivery from incrementing again; if it
	// fails the TTL removes the entry and the order partition has moved on.
	if err := p.store.DeleteSlotReservation(ctx, payload.UserID, payload.OrderID); err != nil {
		p.log.Error("failed to delete slot reservation after confirm",
			zap.String("order_id", payload.OrderID),
			zap.String("user_id", payload.UserID),
			zap.Error(err))
	}

	p.log.Info("inventory confirmed",
		zap.String("order_id", payload.OrderID),
		zap.String("user_id", payload.UserID),
		zap.String("item_id", reservation.ItemID),
		zap.Int("quantity", reservation.Quantity))

	return publish(ctx, p.bus, domain.EventInventoryConfirmed, &domain.InventoryConfirmedPayload{
		OrderID:  payload.OrderID,
		UserID:   payload.UserID,
		ItemID:   reservation.ItemID,
		Quantity: reservation.Quantity,
	})
}

// HandleRollback releases the slot hold of a failed saga. The hold is only a
// KV entry, so compensation is a delete; absence means it was already
// released or expired.
func (p *InventoryParticipant) HandleRollback(ctx context.Context, event *domain.Event) error {
	var payload failureEvent
	if err := event.Decode(&payload); err != nil {
		return err
	}

	reservation, err := p.store.GetSlotReservation(ctx, payload.UserID, payload.OrderID)
	if err != nil {
		return err
	}
	if reservation == nil {
		p.log.Info("no slot reservation to roll back",
			zap.String("order_id", payload.OrderID),
			zap.String("user_id", payload.UserID),
			zap.String("trigger", event.EventType))
		return nil
	}

	if err := p.store.DeleteSlotReservation(ctx, payload.UserID, payload.OrderID); err != nil {
		return err
	}

	p.log.Info("inventory slot released",
		zap.String("order_id", payload.OrderID),
		zap.String("user_id", payload.UserID),
		zap.String("item_id", reservation.ItemID),
		zap.String("trigger", event.EventType))

	return publish(ctx, p.bus, domain.EventInventoryRollback, &domain.InventoryRollbackPayload{
		OrderID:       payload.OrderID,
		UserID:        payload.UserID,
		ItemID:        reservation.ItemID,
		ReleasedSlots: 1,
		Reason:        payload.Reason,
	})
}

// acquireLock takes the per-user advisory lock with bounded backoff. It
// returns false without error when the lock stayed contended for the whole
// window.
func (p *InventoryParticipant) acquireLock(ctx context.Context, resource string) (bool, error) {
	result := retry.Do(ctx, inventoryLockRetry, func(ctx context.Context) error {
		acquired, err := p.locks.Acquire(ctx, resource, p.lockTTL)
		if err != nil {
			return retry.Permanent(err)
		}
		if !acquired {
			return domain.ErrLockNotAcquired
		}
		return nil
	})
	if result.Err == nil {
		return true, nil
	}
	if errors.Is(result.Err, retry.ErrMaxRetriesExceeded) && errors.Is(result.LastError, domain.ErrLockNotAcquired) {
		return false, nil
	}
	return false, result.Err
}

func (p *InventoryParticipant) releaseLock(ctx context.Context, resource string) {
	if err := p.locks.Release(ctx, resource); err != nil {
		p.log.Warn("failed to release inventory lock",
			zap.String("resource", resource), zap.Error(err))
	}
}

func (p *InventoryParticipant) publishReservationFailed(ctx context.Context, payload *domain.PaymentReservedPayload, reason string) error {
	eventType, out := reservationFailed(payload, reason)
	return publish(ctx, p.bus, eventType, out)
}

func reservationFailed(payload *domain.PaymentReservedPayload, reason string) (string, interface{}) {
	return domain.EventInventoryReservationFailed, &domain.InventoryReservationFailedPayload{
		OrderID:    payload.OrderID,
		UserID:     payload.UserID,
		ItemID:     payload.ItemID,
		Reason:     reason,
		FailedStep: domain.StepInventoryReservation,
	}
}

func inventoryResource(userID string) string {
	return "user_inventory:" + userID
}

// availableSlots reports remaining capacity, never negative.
func availableSlots(max, used int) int {
	if used >= max {
		return 0
	}
	return max - used
}

var _ Participant = (*InventoryParticipant)(nil)
