package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
)

func staleReservation(id, orderID string) *domain.ItemReservation {
	now := time.Now().UTC()
	return &domain.ItemReservation{
		ID:               id,
		OrderID:          orderID,
		ItemID:           "item-1",
		UserID:           "user-1",
		ReservedQuantity: 2,
		OriginalStock:    10,
		Status:           domain.ReservationStatusReserved,
		ReservedAt:       now.Add(-10 * time.Minute),
		ExpiresAt:        now.Add(-5 * time.Minute),
	}
}

func TestDefaultExpiryWorkerConfig(t *testing.T) {
	config := DefaultExpiryWorkerConfig()

	assert.Equal(t, time.Minute, config.ScanInterval)
	assert.Equal(t, 100, config.BatchSize)
}

func TestReservationExpiryWorker_Sweep_ExpiresAndRestoresStock(t *testing.T) {
	mockReservations := new(MockItemReservationRepository)
	mockItems := new(MockItemRepository)
	w := NewReservationExpiryWorker(mockReservations, mockItems, nil)

	first := staleReservation("res-1", "ord-1")
	second := staleReservation("res-2", "ord-2")
	tx1 := &fakeTx{}
	tx2 := &fakeTx{}

	mockReservations.On("FindExpired", mock.Anything, mock.AnythingOfType("time.Time"), 100).
		Return([]*domain.ItemReservation{first, second}, nil)
	mockReservations.On("BeginTx", mock.Anything).Return(tx1, nil).Once()
	mockReservations.On("BeginTx", mock.Anything).Return(tx2, nil).Once()
	mockReservations.On("ExpireTx", mock.Anything, tx1, "res-1").Return(true, nil)
	mockReservations.On("ExpireTx", mock.Anything, tx2, "res-2").Return(true, nil)
	mockItems.On("IncrementStockTx", mock.Anything, tx1, "item-1", 2).Return(nil)
	mockItems.On("IncrementStockTx", mock.Anything, tx2, "item-1", 2).Return(nil)

	expired := w.Sweep(context.Background())

	assert.Equal(t, 2, expired)
	assert.True(t, tx1.committed)
	assert.True(t, tx2.committed)
	mockReservations.AssertExpectations(t)
	mockItems.AssertExpectations(t)

	stats := w.Stats()
	assert.Equal(t, int64(2), stats.TotalExpired)
	assert.Equal(t, int64(0), stats.TotalSkipped)
	assert.Equal(t, 2, stats.LastExpiredCount)
	assert.False(t, stats.LastScanTime.IsZero())
}

func TestReservationExpiryWorker_Sweep_SkipsSettledRows(t *testing.T) {
	mockReservations := new(MockItemReservationRepository)
	mockItems := new(MockItemRepository)
	w := NewReservationExpiryWorker(mockReservations, mockItems, nil)

	settled := staleReservation("res-1", "ord-1")
	live := staleReservation("res-2", "ord-2")
	tx1 := &fakeTx{}
	tx2 := &fakeTx{}

	mockReservations.On("FindExpired", mock.Anything, mock.AnythingOfType("time.Time"), 100).
		Return([]*domain.ItemReservation{settled, live}, nil)
	mockReservations.On("BeginTx", mock.Anything).Return(tx1, nil).Once()
	mockReservations.On("BeginTx", mock.Anything).Return(tx2, nil).Once()
	// A rollback or confirm already settled the first row
	mockReservations.On("ExpireTx", mock.Anything, tx1, "res-1").Return(false, nil)
	mockReservations.On("ExpireTx", mock.Anything, tx2, "res-2").Return(true, nil)
	mockItems.On("IncrementStockTx", mock.Anything, tx2, "item-1", 2).Return(nil)

	expired := w.Sweep(context.Background())

	assert.Equal(t, 1, expired)
	assert.False(t, tx1.committed)
	assert.True(t, tx1.rolledBack)
	assert.True(t, tx2.committed)
	mockItems.AssertNotCalled(t, "IncrementStockTx", mock.Anything, tx1, mock.Anything, mock.Anything)

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.TotalExpired)
	assert.Equal(t, int64(1), stats.TotalSkipped)
}

func TestReservationExpiryWorker_Sweep_EmptyBacklog(t *testing.T) {
	mockReservations := new(MockItemReservationRepository)
	mockItems := new(MockItemRepository)
	w := NewReservationExpiryWorker(mockReservations, mockItems, nil)

	mockReservations.On("FindExpired", mock.Anything, mock.AnythingOfType("time.Time"), 100).
		Return([]*domain.ItemReservation{}, nil)

	assert.Equal(t, 0, w.Sweep(context.Background()))
	mockReservations.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestReservationExpiryWorker_Sweep_FindError(t *testing.T) {
	mockReservations := new(MockItemReservationRepository)
	mockItems := new(MockItemRepository)
	w := NewReservationExpiryWorker(mockReservations, mockItems, nil)

	mockReservations.On("FindExpired", mock.Anything, mock.AnythingOfType("time.Time"), 100).
		Return(nil, assert.AnError)

	assert.Equal(t, 0, w.Sweep(context.Background()))
	mockReservations.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestReservationExpiryWorker_Sweep_CommitFailureLeavesRowAlone(t *testing.T) {
	mockReservations := new(MockItemReservationRepository)
	mockItems := new(MockItemRepository)
	w := NewReservationExpiryWorker(mockReservations, mockItems, nil)

	reservation := staleReservation("res-1", "ord-1")
	tx := &fakeTx{commitErr: assert.AnError}

	mockReservations.On("FindExpired", mock.Anything, mock.AnythingOfType("time.Time"), 100).
		Return([]*domain.ItemReservation{reservation}, nil)
	mockReservations.On("BeginTx", mock.Anything).Return(tx, nil)
	mockReservations.On("ExpireTx", mock.Anything, tx, "res-1").Return(true, nil)
	mockItems.On("IncrementStockTx", mock.Anything, tx, "item-1", 2).Return(nil)

	// The failed row stays RESERVED and the next scan picks it up again.
	assert.Equal(t, 0, w.Sweep(context.Background()))

	stats := w.Stats()
	assert.Equal(t, int64(0), stats.TotalExpired)
	assert.Equal(t, int64(0), stats.TotalSkipped)
}

func TestReservationExpiryWorker_StartSweepsImmediately(t *testing.T) {
	mockReservations := new(MockItemReservationRepository)
	mockItems := new(MockItemRepository)
	w := NewReservationExpiryWorker(mockReservations, mockItems, &ExpiryWorkerConfig{
		ScanInterval: time.Hour,
		BatchSize:    50,
	})

	found := make(chan struct{})
	mockReservations.On("FindExpired", mock.Anything, mock.AnythingOfType("time.Time"), 50).
		Return([]*domain.ItemReservation{}, nil).
		Run(func(mock.Arguments) { close(found) })

	assert.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	select {
	case <-found:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an immediate sweep on start")
	}

	w.Stop()
	w.Stop()
	assert.False(t, w.Stats().IsRunning)
}
