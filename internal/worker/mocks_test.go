package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"

	"github.com/prohmpiriya/purchase-saga/internal/bus"
	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/internal/repository"
)

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Create(ctx context.Context, msg *domain.OutboxMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockOutboxRepository) CreateTx(ctx context.Context, tx pgx.Tx, msg *domain.OutboxMessage) error {
	args := m.Called(ctx, tx, msg)
	return args.Error(0)
}

func (m *MockOutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.OutboxMessage), args.Error(1)
}

func (m *MockOutboxRepository) GetFailedMessages(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.OutboxMessage), args.Error(1)
}

func (m *MockOutboxRepository) MarkAsPublished(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkAsFailed(ctx context.Context, id string, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}

func (m *MockOutboxRepository) DeletePublished(ctx context.Context, olderThanDays int) (int64, error) {
	args := m.Called(ctx, olderThanDays)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOutboxRepository) CountByStatus(ctx context.Context) (map[domain.OutboxStatus]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.OutboxStatus]int64), args.Error(1)
}

var _ repository.OutboxRepository = (*MockOutboxRepository)(nil)

type MockItemRepository struct {
	mock.Mock
}

func (m *MockItemRepository) Create(ctx context.Context, item *domain.Item) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockItemRepository) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Item), args.Error(1)
}

func (m *MockItemRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.Item, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Item), args.Error(1)
}

func (m *MockItemRepository) DecrementStockTx(ctx context.Context, tx pgx.Tx, id string, quantity int) error {
	args := m.Called(ctx, tx, id, quantity)
	return args.Error(0)
}

func (m *MockItemRepository) IncrementStockTx(ctx context.Context, tx pgx.Tx, id string, quantity int) error {
	args := m.Called(ctx, tx, id, quantity)
	return args.Error(0)
}

func (m *MockItemRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Tx), args.Error(1)
}

var _ repository.ItemRepository = (*MockItemRepository)(nil)

type MockItemReservationRepository struct {
	mock.Mock
}

func (m *MockItemReservationRepository) Create(ctx context.Context, reservation *domain.ItemReservation) error {
	args := m.Called(ctx, reservation)
	return args.Error(0)
}

func (m *MockItemReservationRepository) CreateTx(ctx context.Context, tx pgx.Tx, reservation *domain.ItemReservation) error {
	args := m.Called(ctx, tx, reservation)
	return args.Error(0)
}

func (m *MockItemReservationRepository) GetByOrderID(ctx context.Context, orderID string) ([]*domain.ItemReservation, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ItemReservation), args.Error(1)
}

func (m *MockItemReservationRepository) FindActiveByOrderID(ctx context.Context, orderID string) ([]*domain.ItemReservation, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ItemReservation), args.Error(1)
}

func (m *MockItemReservationRepository) ConfirmByOrderID(ctx context.Context, orderID string) (int64, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockItemReservationRepository) CancelTx(ctx context.Context, tx pgx.Tx, id, reason string) (bool, error) {
	args := m.Called(ctx, tx, id, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockItemReservationRepository) ExpireTx(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	args := m.Called(ctx, tx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockItemReservationRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.ItemReservation, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ItemReservation), args.Error(1)
}

func (m *MockItemReservationRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Tx), args.Error(1)
}

var _ repository.ItemReservationRepository = (*MockItemReservationRepository)(nil)

// fakeTx satisfies pgx.Tx for handler-level tests. Only Commit and Rollback
// are exercised; statement-level calls go through the mocked repositories.
type fakeTx struct {
	pgx.Tx
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

// recordingBus captures published events without any delivery machinery.
type recordingBus struct {
	mu         sync.Mutex
	events     []*domain.Event
	publishErr error
}

func newRecordingBus() *recordingBus {
	return &recordingBus{}
}

func (b *recordingBus) Publish(ctx context.Context, event *domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) Subscribe(eventType string, handler bus.HandlerFunc) error { return nil }

func (b *recordingBus) Start(ctx context.Context) error { return nil }

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) published() []*domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*domain.Event(nil), b.events...)
}

var _ bus.EventBus = (*recordingBus)(nil)
