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

// CouponParticipant validates coupons ahead of the saga chain and settles
// their usage from the saga's terminal events. A validated coupon is held
// three ways at once: the user-coupon row goes RESERVED (authoritative), a
// KV marker pins it to the order, and a usage counter claims one use against
// the limit. order.completed converts the hold into a consumed use;
// order.failed returns all three.
type CouponParticipant struct {
	coupons repository.CouponRepository
	usage   repository.CouponUsageStore
	bus     bus.EventBus
	log     *logger.Logger

	reservationTTL time.Duration
}

// NewCouponParticipant creates the coupon participant
func NewCouponParticipant(coupons repository.CouponRepository, usage repository.CouponUsageStore, eventBus bus.EventBus) *CouponParticipant {
	return &CouponParticipant{
		coupons:        coupons,
		usage:          usage,
		bus:            eventBus,
		log:            logger.Get(),
		reservationTTL: defaultReservationTTL,
	}
}

// SetReservationTTL overrides the coupon hold lifetime
func (p *CouponParticipant) SetReservationTTL(ttl time.Duration) {
	if ttl > 0 {
		p.reservationTTL = ttl
	}
}

// Name identifies the participant
func (p *CouponParticipant) Name() string {
	return "coupon"
}

// Handlers returns the event handlers of the coupon participant
func (p *CouponParticipant) Handlers() map[string]bus.HandlerFunc {
	return map[string]bus.HandlerFunc{
		domain.EventCouponValidationRequested: p.HandleValidationRequested,
		domain.EventOrderCompleted:            p.HandleOrderCompleted,
		domain.EventOrderFailed:               p.HandleOrderFailed,
	}
}

// HandleValidationRequested checks every coupon rule, reserves the usage and
// answers with the priced discount. All rule violations are collected so the
// failure event reports the full list, with the first as the headline reason.
func (p *CouponParticipant) HandleValidationRequested(ctx context.Context, event *domain.Event) error {
	var payload domain.CouponValidationRequestedPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}

	tx, err := p.coupons.BeginTx(ctx)
	if err != nil {
		p.log.Error("failed to begin coupon transaction",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return p.publishValidationFailed(ctx, &payload, domain.ReasonSystemError)
	}
	defer tx.Rollback(ctx)

	userCoupon, err := p.coupons.GetUserCouponForUpdate(ctx, tx, payload.UserCouponID)
	if err != nil {
		if errors.Is(err, domain.ErrUserCouponNotFound) {
			return p.publishValidationFailed(ctx, &payload, domain.ReasonCouponNotFound)
		}
		p.log.Error("failed to load user coupon",
			zap.String("order_id", payload.OrderID),
			zap.String("user_coupon_id", payload.UserCouponID),
			zap.Error(err))
		return p.publishValidationFailed(ctx, &payload, domain.ReasonSystemError)
	}

	// A redelivery finds the row already held by this order; the discount is
	// recomputed from the same inputs, so the announcement is identical.
	if userCoupon.Status == domain.UserCouponStatusReserved && userCoupon.OrderID == payload.OrderID {
		coupon, err := p.coupons.GetCouponByID(ctx, userCoupon.CouponID)
		if err != nil {
			p.log.Error("failed to load coupon for re-announcement",
				zap.String("order_id", payload.OrderID), zap.Error(err))
			return p.publishValidationFailed(ctx, &payload, domain.ReasonSystemError)
		}
		p.log.Info("coupon already reserved, re-announcing",
			zap.String("order_id", payload.OrderID),
			zap.String("user_coupon_id", userCoupon.ID))
		return p.publishValidated(ctx, &payload, coupon)
	}

	var violations []string
	switch userCoupon.Status {
	case domain.UserCouponStatusActive:
	case domain.UserCouponStatusExpired:
		violations = append(violations, domain.ReasonCouponExpired)
	default:
		violations = append(violations, domain.ReasonCouponInUse)
	}
	if !userCoupon.BelongsTo(payload.UserID) {
		violations = append(violations, domain.ReasonCouponNotOwned)
	}

	coupon, err := p.coupons.GetCouponByID(ctx, userCoupon.CouponID)
	if err != nil {
		if errors.Is(err, domain.ErrCouponNotFound) {
			violations = append(violations, domain.ReasonCouponNotFound)
			return p.publishValidationFailedWith(ctx, &payload, violations)
		}
		p.log.Error("failed to load coupon",
			zap.String("order_id", payload.OrderID),
			zap.String("coupon_id", userCoupon.CouponID),
			zap.Error(err))
		return p.publishValidationFailed(ctx, &payload, domain.ReasonSystemError)
	}

	if !coupon.IsActive {
		violations = append(violations, domain.ReasonCouponInactive)
	}
	if !coupon.IsValidAt(time.Now()) {
		violations = append(violations, domain.ReasonCouponExpired)
	}
	if !coupon.HasStock() {
		violations = append(violations, domain.ReasonCouponOutOfStock)
	}
	if payload.TotalAmount < coupon.MinOrderAmount {
		violations = append(violations, domain.ReasonCouponMinOrder)
	}
	if !coupon.AppliesTo(payload.ItemID) {
		violations = append(violations, domain.ReasonCouponNotApplicable)
	}
	if len(violations) > 0 {
		return p.publishValidationFailedWith(ctx, &payload, violations)
	}

	marked, err := p.usage.MarkReserved(ctx, userCoupon.ID, payload.OrderID, p.reservationTTL)
	if err != nil {
		p.log.Error("failed to mark coupon reserved",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return p.publishValidationFailed(ctx, &payload, domain.ReasonSystemError)
	}
	if !marked {
		p.log.Warn("coupon pinned by another order",
			zap.String("order_id", payload.OrderID),
			zap.String("user_coupon_id", userCoupon.ID))
		return p.publishValidationFailed(ctx, &payload, domain.ReasonCouponInUse)
	}

	acquired, count, err := p.usage.AcquireUsage(ctx, coupon.ID, coupon.UsageLimit)
	if err != nil {
		p.clearMarker(ctx, userCoupon.ID)
		p.log.Error("failed to acquire coupon usage",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return p.publishValidationFailed(ctx, &payload, domain.ReasonSystemError)
	}
	if !acquired {
		p.clearMarker(ctx, userCoupon.ID)
		p.log.Warn("coupon usage limit reached",
			zap.String("order_id", payload.OrderID),
			zap.String("coupon_id", coupon.ID),
			zap.Int64("usage_count", count))
		return p.publishValidationFailed(ctx, &payload, domain.ReasonCouponOutOfStock)
	}

	if err := p.coupons.ReserveUsageTx(ctx, tx, userCoupon.ID, payload.OrderID); err != nil {
		p.releaseHold(ctx, coupon.ID, userCoupon.ID)
		if errors.Is(err, domain.ErrCouponNotUsable) {
			return p.publishValidationFailed(ctx, &payload, domain.ReasonCouponInUse)
		}
		p.log.Error("failed to reserve coupon usage",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return p.publishValidationFailed(ctx, &payload, domain.ReasonSystemError)
	}

	if err := tx.Commit(ctx); err != nil {
		p.releaseHold(ctx, coupon.ID, userCoupon.ID)
		p.log.Error("failed to commit coupon reservation",
			zap.String("order_id", payload.OrderID), zap.Error(err))
		return p.publishValidationFailed(ctx, &payload, domain.ReasonSystemError)
	}

	p.log.Info("coupon validated",
		zap.String("order_id", payload.OrderID),
		zap.String("user_coupon_id", userCoupon.ID),
		zap.String("coupon_code", coupon.Code),
		zap.Int64("usage_count", count))
	return p.publishValidated(ctx, &payload, coupon)
}

// HandleOrderCompleted settles the coupon hold as consumed. Errors propagate
// so the bus retries; the guarded update makes the retry a no-op once the
// transition landed.
func (p *CouponParticipant) HandleOrderCompleted(ctx context.Context, event *domain.Event) error {
	var payload domain.OrderCompletedPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}
	if payload.UserCouponID == "" {
		return nil
	}

	tx, err := p.coupons.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	confirmed, err := p.coupons.ConfirmUsageTx(ctx, tx, payload.UserCouponID, payload.OrderID)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	// The usage counter stays claimed; the marker is released either way so
	// a retry after a crashed clear still converges.
	if err := p.usage.ClearReserved(ctx, payload.UserCouponID); err != nil {
		return err
	}

	if confirmed {
		p.log.Info("coupon usage confirmed",
			zap.String("order_id", payload.OrderID),
			zap.String("user_coupon_id", payload.UserCouponID))
	}
	return nil
}

// HandleOrderFailed returns the coupon hold of a failed order. Nothing
// happens when the row was never reserved, which covers orders that failed
// at validation itself.
func (p *CouponParticipant) HandleOrderFailed(ctx context.Context, event *domain.Event) error {
	var payload domain.OrderFailedPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}
	if payload.UserCouponID == "" {
		return nil
	}

	userCoupon, err := p.coupons.GetUserCoupon(ctx, payload.UserCouponID)
	if err != nil {
		if errors.Is(err, domain.ErrUserCouponNotFound) {
			p.log.Warn("failed order references unknown user coupon",
				zap.String("order_id", payload.OrderID),
				zap.String("user_coupon_id", payload.UserCouponID))
			return nil
		}
		return err
	}

	tx, err := p.coupons.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cancelled, err := p.coupons.CancelUsageTx(ctx, tx, payload.UserCouponID, payload.OrderID)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if !cancelled {
		p.log.Info("no coupon hold to cancel",
			zap.String("order_id", payload.OrderID),
			zap.String("user_coupon_id", payload.UserCouponID))
		return nil
	}

	if err := p.usage.ReleaseUsage(ctx, userCoupon.CouponID); err != nil {
		return err
	}
	if err := p.usage.ClearReserved(ctx, payload.UserCouponID); err != nil {
		return err
	}

	p.log.Info("coupon usage cancelled",
		zap.String("order_id", payload.OrderID),
		zap.String("user_coupon_id", payload.UserCouponID),
		zap.String("failed_step", payload.FailedStep.String()))
	return nil
}

func (p *CouponParticipant) publishValidated(ctx context.Context, payload *domain.CouponValidationRequestedPayload, coupon *domain.Coupon) error {
	discount := coupon.ComputeDiscount(payload.TotalAmount)
	return publish(ctx, p.bus, domain.EventCouponValidated, &domain.CouponValidatedPayload{
		OrderID:        payload.OrderID,
		UserID:         payload.UserID,
		UserCouponID:   payload.UserCouponID,
		DiscountAmount: discount,
		FinalAmount:    payload.TotalAmount - discount,
		OriginalAmount: payload.TotalAmount,
		CouponInfo: &domain.CouponInfo{
			CouponID:     coupon.ID,
			Code:         coupon.Code,
			DiscountType: string(coupon.DiscountType),
			Value:        coupon.DiscountValue,
		},
	})
}

func (p *CouponParticipant) publishValidationFailed(ctx context.Context, payload *domain.CouponValidationRequestedPayload, reason string) error {
	return p.publishValidationFailedWith(ctx, payload, []string{reason})
}

func (p *CouponParticipant) publishValidationFailedWith(ctx context.Context, payload *domain.CouponValidationRequestedPayload, violations []string) error {
	p.log.Warn("coupon validation failed",
		zap.String("order_id", payload.OrderID),
		zap.String("user_coupon_id", payload.UserCouponID),
		zap.Strings("violations", violations))
	return publish(ctx, p.bus, domain.EventCouponValidationFailed, &domain.CouponValidationFailedPayload{
		OrderID:      payload.OrderID,
		UserID:       payload.UserID,
		UserCouponID: payload.UserCouponID,
		Errors:       violations,
		Reason:       violations[0],
		FailedStep:   domain.StepCouponValidation,
	})
}

// releaseHold undoes the counter claim and the order marker after the row
// reservation did not commit.
func (p *CouponParticipant) releaseHold(ctx context.Context, couponID, userCouponID string) {
	if err := p.usage.ReleaseUsage(ctx, couponID); err != nil {
		p.log.Warn("failed to release coupon usage",
			zap.String("coupon_id", couponID), zap.Error(err))
	}
	p.clearMarker(ctx, userCouponID)
}

func (p *CouponParticipant) clearMarker(ctx context.Context, userCouponID string) {
	if err := p.usage.ClearReserved(ctx, userCouponID); err != nil {
		p.log.Warn("failed to clear coupon marker",
			zap.String("user_coupon_id", userCouponID), zap.Error(err))
	}
}

var _ Participant = (*CouponParticipant)(nil)
