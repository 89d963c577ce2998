package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
)

func testCoupon() *domain.Coupon {
	now := time.Now().UTC()
	return &domain.Coupon{
		ID:             "cpn-1",
		Code:           "LAUNCH10",
		DiscountType:   domain.DiscountTypePercentage,
		DiscountValue:  10,
		MinOrderAmount: 50,
		UsageLimit:     100,
		IsActive:       true,
		ValidFrom:      now.Add(-time.Hour),
		ValidUntil:     now.Add(time.Hour),
	}
}

func testUserCoupon() *domain.UserCoupon {
	return &domain.UserCoupon{
		ID:       "uc-1",
		UserID:   "user-1",
		CouponID: "cpn-1",
		Status:   domain.UserCouponStatusActive,
	}
}

func validationRequestedEvent(t *testing.T, amount float64) *domain.Event {
	t.Helper()
	return mustEvent(t, domain.EventCouponValidationRequested, &domain.CouponValidationRequestedPayload{
		OrderID:      "ord-1",
		UserID:       "user-1",
		ItemID:       "item-1",
		Quantity:     2,
		TotalAmount:  amount,
		UserCouponID: "uc-1",
	})
}

func TestCouponParticipant_HandleValidationRequested_Valid(t *testing.T) {
	mockCoupons := new(MockCouponRepository)
	mockUsage := new(MockCouponUsageStore)
	rec := newRecordingBus()
	p := NewCouponParticipant(mockCoupons, mockUsage, rec)

	tx := &fakeTx{}
	mockCoupons.On("BeginTx", mock.Anything).Return(tx, nil)
	mockCoupons.On("GetUserCouponForUpdate", mock.Anything, tx, "uc-1").Return(testUserCoupon(), nil)
	mockCoupons.On("GetCouponByID", mock.Anything, "cpn-1").Return(testCoupon(), nil)
	mockUsage.On("MarkReserved", mock.Anything, "uc-1", "ord-1", mock.AnythingOfType("time.Duration")).Return(true, nil)
	mockUsage.On("AcquireUsage", mock.Anything, "cpn-1", 100).Return(true, int64(1), nil)
	mockCoupons.On("ReserveUsageTx", mock.Anything, tx, "uc-1", "ord-1").Return(nil)

	err := p.HandleValidationRequested(context.Background(), validationRequestedEvent(t, 200))

	assert.NoError(t, err)
	assert.True(t, tx.committed)

	var validated domain.CouponValidatedPayload
	rec.decodeSingle(t, domain.EventCouponValidated, &validated)
	assert.Equal(t, 20.0, validated.DiscountAmount)
	assert.Equal(t, 180.0, validated.FinalAmount)
	assert.Equal(t, 200.0, validated.OriginalAmount)
	assert.Equal(t, "LAUNCH10", validated.CouponInfo.Code)
	assert.Equal(t, "percentage", validated.CouponInfo.DiscountType)
	assert.Equal(t, 10.0, validated.CouponInfo.Value)

	mockCoupons.AssertExpectations(t)
	mockUsage.AssertExpectations(t)
}

func TestCouponParticipant_HandleValidationRequested_Expired(t *testing.T) {
	mockCoupons := new(MockCouponRepository)
	mockUsage := new(MockCouponUsageStore)
	rec := newRecordingBus()
	p := NewCouponParticipant(mockCoupons, mockUsage, rec)

	coupon := testCoupon()
	coupon.ValidUntil = time.Now().UTC().Add(-time.Minute)

	tx := &fakeTx{}
	mockCoupons.On("BeginTx", mock.Anything).Return(tx, nil)
	mockCoupons.On("GetUserCouponForUpdate", mock.Anything, tx, "uc-1").Return(testUserCoupon(), nil)
	mockCoupons.On("GetCouponByID", mock.Anything, "cpn-1").Return(coupon, nil)

	err := p.HandleValidationRequested(context.Background(), validationRequestedEvent(t, 200))

	assert.NoError(t, err)

	var failed domain.CouponValidationFailedPayload
	rec.decodeSingle(t, domain.EventCouponValidationFailed, &failed)
	assert.Equal(t, domain.ReasonCouponExpired, failed.Reason)
	assert.Equal(t, domain.StepCouponValidation, failed.FailedStep)

	mockUsage.AssertNotCalled(t, "MarkReserved", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCouponParticipant_HandleValidationRequested_BelowMinOrder(t *testing.T) {
	mockCoupons := new(MockCouponRepository)
	mockUsage := new(MockCouponUsageStore)
	rec := newRecordingBus()
	p := NewCouponParticipant(mockCoupons, mockUsage, rec)

	tx := &fakeTx{}
	mockCoupons.On("BeginTx", mock.Anything).Return(tx, nil)
	mockCoupons.On("GetUserCouponForUpdate", mock.Anything, tx, "uc-1").Return(testUserCoupon(), nil)
	mockCoupons.On("GetCouponByID", mock.Anything, "cpn-1").Return(testCoupon(), nil)

	err := p.HandleValidationRequested(context.Background(), validationRequestedEvent(t, 30))

	assert.NoError(t, err)

	var failed domain.CouponValidationFailedPayload
	rec.decodeSingle(t, domain.EventCouponValidationFailed, &failed)
	assert.Equal(t, domain.ReasonCouponMinOrder, failed.Reason)
}

func TestCouponParticipant_HandleValidationRequested_CollectsAllViolations(t *testing.T) {
	mockCoupons := new(MockCouponRepository)
	mockUsage := new(MockCouponUsageStore)
	rec := newRecordingBus()
	p := NewCouponParticipant(mockCoupons, mockUsage, rec)

	coupon := testCoupon()
	coupon.IsActive = false

	tx := &fakeTx{}
	mockCoupons.On("BeginTx", mock.Anything).Return(tx, nil)
	mockCoupons.On("GetUserCouponForUpdate", mock.Anything, tx, "uc-1").Return(testUserCoupon(), nil)
	mockCoupons.On("GetCouponByID", mock.Anything, "cpn-1").Return(coupon, nil)

	err := p.HandleValidationRequested(context.Background(), validationRequestedEvent(t, 30))

	assert.NoError(t, err)

	var failed domain.CouponValidationFailedPayload
	rec.decodeSingle(t, domain.EventCouponValidationFailed, &failed)
	assert.Len(t, failed.Errors, 2)
	assert.Contains(t, failed.Errors, domain.ReasonCouponInactive)
	assert.Contains(t, failed.Errors, domain.ReasonCouponMinOrder)
	assert.Equal(t, failed.Errors[0], failed.Reason)
}

func TestCouponParticipant_HandleValidationRequested_NotOwned(t *testing.T) {
	mockCoupons := new(MockCouponRepository)
	mockUsage := new(MockCouponUsageStore)
	rec := newRecordingBus()
	p := NewCouponParticipant(mockCoupons, mockUsage, rec)

	userCoupon := testUserCoupon()
	userCoupon.UserID = "someone-else"

	tx := &fakeTx{}
	mockCoupons.On("BeginTx", mock.Anything).Return(tx, nil)
	mockCoupons.On("GetUserCouponForUpdate", mock.Anything, tx, "uc-1").Return(userCoupon, nil)
	mockCoupons.On("GetCouponByID", mock.Anything, "cpn-1").Return(testCoupon(), nil)

	err := p.HandleValidationRequested(context.Background(), validationRequestedEvent(t, 200))

	assert.NoError(t, err)

	var failed domain.CouponValidationFailedPayload
	rec.decodeSingle(t, domain.EventCouponValidationFailed, &failed)
	assert.Contains(t, failed.Errors, domain.ReasonCouponNotOwned)
}

func TestCouponParticipant_HandleValidationRequested_NotFound(t *testing.T) {
	mockCoupons := new(MockCouponRepository)
	mockUsage := new(MockCouponUsageStore)
	rec := newRecordingBus()
	p := NewCouponParticipant(mockCoupons, mockUsage, rec)

	tx := &fakeTx{}
	mockCoupons.On("BeginTx", mock.Anything).Return(tx, nil)
	mockCoupons.On("GetUserCouponForUpdate", mock.Anything, tx, "uc-1").Return(nil, domain.ErrUserCouponNotFound)

	err := p.HandleValidationRequested(context.Background(), validationRequestedEvent(t, 200))

	assert.NoError(t, err)

	var failed domain.CouponValidationFailedPayload
	rec.decodeSingle(t, domain.EventCouponValidationFailed, &failed)
	assert.Equal(t, domain.ReasonCouponNotFound, failed.Reason)
}

func TestCouponParticipant_HandleValidationRequested_MarkerHeldByOtherOrder(t *testing.T) {
	mockCoupons := new(MockCouponRepository)
	mockUsage := new(MockCouponUsageStore)
	rec := newRecordingBus()
	p := NewCouponParticipant(mockCoupons, mockUsage, rec)

	tx := &fakeTx{}
	mockCoupons.On("BeginTx", mock.Anything).Return(tx, nil)
	mockCoupons.On("GetUserCouponForUpdate", mock.Anything, tx, "uc-1").Return(testUserCoupon(), nil)
	mockCoupons.On("GetCouponByID", mock.Anything, "cpn-1").Return(testCoupon(), nil)
	mockUsage.On("MarkReserved", mock.Anything, "uc-1", "ord-1", mock.AnythingOfType("time.Duration")).Return(false, nil)

	err := p.HandleValidationRequested(context.Background(), validationRequestedEvent(t, 200))

	assert.NoError(t, err)

	var failed domain.CouponValidationFailedPayload
	rec.decodeSingle(t, domain.EventCouponValidationFailed, &failed)
	assert.Equal(t, domain.ReasonCouponInUse, failed.Reason)

	mockUsage.AssertNotCalled(t, "AcquireUsage", mock.Anything, mock.Anything, mock.Anything)
}

func TestCouponParticipant_HandleValidationRequested_UsageLimitReached(t *testing.T) {
	mockCoupons := new(MockCouponRepository)
	mockUsage := new(MockCouponUsageStore)
	rec := newRecordingBus()
	p := NewCouponParticipant(mockCoupons, mockUsage, rec)

	tx := &fakeTx{}
	mockCoupons.On("BeginTx", mock.Anything).Return(tx, nil)
	mockCoupons.On("GetUserCouponForUpdate", mock.Anything, tx, "uc-1").Return(testUserCoupon(), nil)
	mockCoupons.On("GetCouponByID", mock.Anything, "cpn-1").Return(testCoupon(), nil)
	mockUsage.On("MarkReserved", mock.Anything, "uc-1", "ord-1", mock.AnythingOfType("time.Duration")).Return(true, nil)
	mockUsage.On("AcquireUsage", mock.Anything, "cpn-1", 100).Return(false, int64(100), nil)
	mockUsage.On("ClearReserved", mock.Anything, "uc-1").Return(nil)

	err := p.HandleValidationRequested(context.Background(), validationRequestedEvent(t, 200))

	assert.NoError(t, err)

	// The marker is released so the coupon is not pinned to a dead order
	mockUsage.AssertCalled(t, "ClearReserved", mock.Anything, "uc-1")

	var failed domain.CouponValidationFailedPayload
	rec.decodeSingle(t, domain.EventCouponValidationFailed, &failed)
	assert.Equal(t, domain.ReasonCouponOutOfStock, failed.Reason)
	mockCoupons.AssertNotCalled(t, "ReserveUsageTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCouponParticipant_HandleValidationRequested_Redelivery(t *testing.T) {
	mockCoupons := new(MockCouponRepository)
	mockUsage := new(MockCouponUsageStore)
	rec := newRecordingBus()
	p := NewCouponParticipant(mockCoupons, mockUsage, rec)

	userCoupon := testUserCoupon()
	userCoupon.Status = domain.UserCouponStatusReserved
	userCoupon.OrderID = "ord-1"

	tx := &fakeTx{}
	mockCoupons.On("BeginTx", mock.Anything).Return(tx, nil)
	mockCoupons.On("GetUserCouponForUpdate", mock.Anything, tx, "uc-1").Return(userCoupon, nil)
	mockCoupons.On("GetCouponByID", mock.Anything, "cpn-1").Return(testCoupon(), nil)

	err := p.HandleValidationRequested(context.Background(), validationRequestedEvent(t, 200))

	assert.NoError(t, err)

	var validated domain.CouponValidatedPayload
	rec.decodeSingle(t, domain.EventCouponValidated, &validated)
	assert.Equal(t, 20.0, validated.DiscountAmount)
	assert.Equal(t, 180.0, validated.FinalAmount)

	mockUsage.AssertNotCalled(t, "MarkReserved", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockUsage.AssertNotCalled(t, "AcquireUsage", mock.Anything, mock.Anything, mock.Anything)
}

func TestCouponParticipant_HandleValidationRequested_HeldByAnotherOrder(t *testing.T) {
	mockCoupons := new(MockCouponRepository)
	mockUsage := new(MockCouponUsageStore)
	rec := newRecordingBus()
	p := NewCouponParticipant(mockCoupons, mockUsage, rec)

	userCoupon := testUserCoupon()
	userCoupon.Status = domain.UserCouponStatusReserved
	userCoupon.OrderID = "ord-2"

	tx := &fakeTx{}
	mockCoupons.On("BeginTx", mock.Anything).Return(tx, nil)
	mockCoupons.On("GetUserCouponForUpdate", mock.Anything, tx, "uc-1").Return(userCoupon, nil)
	mockCoupons.On("GetCouponByID", mock.Anything, "cpn-1").Return(testCoupon(), nil)

	err := p.HandleValidationRequested(context.Background(), validationRequestedEvent(t, 200))

	assert.NoError(t, err)

	var failed domain.CouponValidationFailedPayload
	rec.decodeSingle(t, domain.EventCouponValidationFailed, &failed)
	assert.Equal(t, domain.ReasonCouponInUse, failed.Reason)
}

func TestCouponParticipant_HandleOrderCompleted_ConfirmsUsage(t *testing.T) {
	mockCoupons := new(MockCouponRepository)
	mockUsage := new(MockCouponUsageStore)
	rec := newRecordingBus()
	p := NewCouponParticipant(mockCoupons, mockUsage, rec)

	tx := &fakeTx{}
	mockCoupons.On("BeginTx", mock.Anything).Return(tx, nil)
	mockCoupons.On("ConfirmUsageTx", mock.Anything, tx, "uc-1", "ord-1").Return(true, nil)
	mockUsage.On("ClearReserved", mock.Anything, "uc-1").Return(nil)

	event := mustEvent(t, domain.EventOrderCompleted, &domain.OrderCompletedPayload{
		OrderID:      "ord-1",
		UserID:       "user-1",
		UserCouponID: "uc-1",
	})

	err := p.HandleOrderCompleted(context.Background(), event)

	assert.NoError(t, err)
	assert.True(t, tx.committed)

	// The counter claim is permanent on success
	mockUsage.AssertNotCalled(t, "ReleaseUsage", mock.Anything, mock.Anything)
	mockCoupons.AssertExpectations(t)
	mockUsage.AssertExpectations(t)
}

func TestCouponParticipant_HandleOrderCompleted_NoCoupon(t *testing.T) {
	mockCoupons := new(MockCouponRepository)
	mockUsage := new(MockCouponUsageStore)
	rec := newRecordingBus()
	p := NewCouponParticipant(mockCoupons, mockUsage, rec)

	event := mustEvent(t, domain.EventOrderCompleted, &domain.OrderCompletedPayload{
		OrderID: "ord-1",
		UserID:  "user-1",
	})

	err := p.HandleOrderCompleted(context.Background(), event)

	assert.NoError(t, err)
	mockCoupons.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestCouponParticipant_HandleOrderFailed_ReturnsHold(t *testing.T) {
	mockCoupons := new(MockCouponRepository)
	mockUsage := new(MockCouponUsageStore)
	rec := newRecordingBus()
	p := NewCouponParticipant(mockCoupons, mockUsage, rec)

	userCoupon := testUserCoupon()
	userCoupon.Status = domain.UserCouponStatusReserved
	userCoupon.OrderID = "ord-1"

	tx := &fakeTx{}
	mockCoupons.On("GetUserCoupon", mock.Anything, "uc-1").Return(userCoupon, nil)
	mockCoupons.On("BeginTx", mock.Anything).Return(tx, nil)
	mockCoupons.On("CancelUsageTx", mock.Anything, tx, "uc-1", "ord-1").Return(true, nil)
	mockUsage.On("ReleaseUsage", mock.Anything, "cpn-1").Return(nil)
	mockUsage.On("ClearReserved", mock.Anything, "uc-1").Return(nil)

	event := mustEvent(t, domain.EventOrderFailed, &domain.OrderFailedPayload{
		OrderID:      "ord-1",
		UserID:       "user-1",
		Reason:       domain.ReasonInsufficientStock,
		FailedStep:   domain.StepItemReservation,
		UserCouponID: "uc-1",
	})

	err := p.HandleOrderFailed(context.Background(), event)

	assert.NoError(t, err)
	assert.True(t, tx.committed)
	mockCoupons.AssertExpectations(t)
	mockUsage.AssertExpectations(t)
}

func TestCouponParticipant_HandleOrderFailed_NeverReserved(t *testing.T) {
	mockCoupons := new(MockCouponRepository)
	mockUsage := new(MockCouponUsageStore)
	rec := newRecordingBus()
	p := NewCouponParticipant(mockCoupons, mockUsage, rec)

	tx := &fakeTx{}
	mockCoupons.On("GetUserCoupon", mock.Anything, "uc-1").Return(testUserCoupon(), nil)
	mockCoupons.On("BeginTx", mock.Anything).Return(tx, nil)
	// Validation itself failed the order, so there is no hold to cancel
	mockCoupons.On("CancelUsageTx", mock.Anything, tx, "uc-1", "ord-1").Return(false, nil)

	event := mustEvent(t, domain.EventOrderFailed, &domain.OrderFailedPayload{
		OrderID:      "ord-1",
		UserID:       "user-1",
		Reason:       domain.ReasonCouponExpired,
		FailedStep:   domain.StepCouponValidation,
		UserCouponID: "uc-1",
	})

	err := p.HandleOrderFailed(context.Background(), event)

	assert.NoError(t, err)
	mockUsage.AssertNotCalled(t, "ReleaseUsage", mock.Anything, mock.Anything)
	mockUsage.AssertNotCalled(t, "ClearReserved", mock.Anything, mock.Anything)
}

func TestCouponParticipant_HandleOrderFailed_NoCoupon(t *testing.T) {
	mockCoupons := new(MockCouponRepository)
	mockUsage := new(MockCouponUsageStore)
	rec := newRecordingBus()
	p := NewCouponParticipant(mockCoupons, mockUsage, rec)

	event := mustEvent(t, domain.EventOrderFailed, &domain.OrderFailedPayload{
		OrderID: "ord-1",
		UserID:  "user-1",
		Reason:  domain.ReasonInsufficientFunds,
	})

	err := p.HandleOrderFailed(context.Background(), event)

	assert.NoError(t, err)
	mockCoupons.AssertNotCalled(t, "GetUserCoupon", mock.Anything, mock.Anything)
}
