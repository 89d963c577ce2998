package saga

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"

	"github.com/prohmpiriya/purchase-saga/internal/bus"
	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/internal/repository"
)

// MockOrderRepository is a mock implementation of repository.OrderRepository
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) CreateWithEvent(ctx context.Context, order *domain.Order, event *domain.OutboxMessage) error {
	args := m.Called(ctx, order, event)
	return args.Error(0)
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) ApplyDiscountWithEvent(ctx context.Context, order *domain.Order, event *domain.OutboxMessage) error {
	args := m.Called(ctx, order, event)
	return args.Error(0)
}

func (m *MockOrderRepository) CompleteWithEvent(ctx context.Context, order *domain.Order, event *domain.OutboxMessage) error {
	args := m.Called(ctx, order, event)
	return args.Error(0)
}

func (m *MockOrderRepository) FailWithEvent(ctx context.Context, order *domain.Order, event *domain.OutboxMessage) error {
	args := m.Called(ctx, order, event)
	return args.Error(0)
}

func (m *MockOrderRepository) CountByStatus(ctx context.Context) (map[domain.OrderStatus]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.OrderStatus]int64), args.Error(1)
}

var _ repository.OrderRepository = (*MockOrderRepository)(nil)

// MockUserRepository is a mock implementation of repository.UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.User, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) SetBalanceTx(ctx context.Context, tx pgx.Tx, id string, balance float64) error {
	args := m.Called(ctx, tx, id, balance)
	return args.Error(0)
}

func (m *MockUserRepository) CountInventory(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockUserRepository) CountInventoryTx(ctx context.Context, tx pgx.Tx, userID string) (int, error) {
	args := m.Called(ctx, tx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockUserRepository) UpsertInventory(ctx context.Context, inv *domain.UserInventory) error {
	args := m.Called(ctx, inv)
	return args.Error(0)
}

func (m *MockUserRepository) GetInventory(ctx context.Context, userID string) ([]*domain.UserInventory, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.UserInventory), args.Error(1)
}

func (m *MockUserRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Tx), args.Error(1)
}

var _ repository.UserRepository = (*MockUserRepository)(nil)

// MockItemRepository is a mock implementation of repository.ItemRepository
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

// MockItemReservationRepository is a mock implementation of
// repository.ItemReservationRepository
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

// MockCouponRepository is a mock implementation of repository.CouponRepository
type MockCouponRepository struct {
	mock.Mock
}

func (m *MockCouponRepository) CreateCoupon(ctx context.Context, coupon *domain.Coupon) error {
	args := m.Called(ctx, coupon)
	return args.Error(0)
}

func (m *MockCouponRepository) GetCouponByID(ctx context.Context, id string) (*domain.Coupon, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Coupon), args.Error(1)
}

func (m *MockCouponRepository) CreateUserCoupon(ctx context.Context, userCoupon *domain.UserCoupon) error {
	args := m.Called(ctx, userCoupon)
	return args.Error(0)
}

func (m *MockCouponRepository) GetUserCoupon(ctx context.Context, id string) (*domain.UserCoupon, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UserCoupon), args.Error(1)
}

func (m *MockCouponRepository) GetUserCouponForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.UserCoupon, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UserCoupon), args.Error(1)
}

func (m *MockCouponRepository) GetUserCouponsByUserID(ctx context.Context, userID string) ([]*domain.UserCoupon, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.UserCoupon), args.Error(1)
}

func (m *MockCouponRepository) ReserveUsageTx(ctx context.Context, tx pgx.Tx, id, orderID string) error {
	args := m.Called(ctx, tx, id, orderID)
	return args.Error(0)
}

func (m *MockCouponRepository) ConfirmUsageTx(ctx context.Context, tx pgx.Tx, id, orderID string) (bool, error) {
	args := m.Called(ctx, tx, id, orderID)
	return args.Bool(0), args.Error(1)
}

func (m *MockCouponRepository) CancelUsageTx(ctx context.Context, tx pgx.Tx, id, orderID string) (bool, error) {
	args := m.Called(ctx, tx, id, orderID)
	return args.Bool(0), args.Error(1)
}

func (m *MockCouponRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Tx), args.Error(1)
}

var _ repository.CouponRepository = (*MockCouponRepository)(nil)

// MockReservationStore is a mock implementation of repository.ReservationStore
type MockReservationStore struct {
	mock.Mock
}

func (m *MockReservationStore) SaveBalanceReservation(ctx context.Context, reservation *domain.BalanceReservation, ttl time.Duration) error {
	args := m.Called(ctx, reservation, ttl)
	return args.Error(0)
}

func (m *MockReservationStore) GetBalanceReservation(ctx context.Context, userID, orderID string) (*domain.BalanceReservation, error) {
	args := m.Called(ctx, userID, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BalanceReservation), args.Error(1)
}

func (m *MockReservationStore) DeleteBalanceReservation(ctx context.Context, userID, orderID string) error {
	args := m.Called(ctx, userID, orderID)
	return args.Error(0)
}

func (m *MockReservationStore) SaveSlotReservation(ctx context.Context, reservation *domain.SlotReservation, ttl time.Duration) error {
	args := m.Called(ctx, reservation, ttl)
	return args.Error(0)
}

func (m *MockReservationStore) GetSlotReservation(ctx context.Context, userID, orderID string) (*domain.SlotReservation, error) {
	args := m.Called(ctx, userID, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SlotReservation), args.Error(1)
}

func (m *MockReservationStore) DeleteSlotReservation(ctx context.Context, userID, orderID string) error {
	args := m.Called(ctx, userID, orderID)
	return args.Error(0)
}

var _ repository.ReservationStore = (*MockReservationStore)(nil)

// MockLockRepository is a mock implementation of repository.LockRepository
type MockLockRepository struct {
	mock.Mock
}

func (m *MockLockRepository) Acquire(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, resource, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockLockRepository) Release(ctx context.Context, resource string) error {
	args := m.Called(ctx, resource)
	return args.Error(0)
}

var _ repository.LockRepository = (*MockLockRepository)(nil)

// MockCouponUsageStore is a mock implementation of repository.CouponUsageStore
type MockCouponUsageStore struct {
	mock.Mock
}

func (m *MockCouponUsageStore) AcquireUsage(ctx context.Context, couponID string, limit int) (bool, int64, error) {
	args := m.Called(ctx, couponID, limit)
	return args.Bool(0), args.Get(1).(int64), args.Error(2)
}

func (m *MockCouponUsageStore) ReleaseUsage(ctx context.Context, couponID string) error {
	args := m.Called(ctx, couponID)
	return args.Error(0)
}

func (m *MockCouponUsageStore) GetUsage(ctx context.Context, couponID string) (int64, error) {
	args := m.Called(ctx, couponID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCouponUsageStore) MarkReserved(ctx context.Context, userCouponID, orderID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, userCouponID, orderID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockCouponUsageStore) ClearReserved(ctx context.Context, userCouponID string) error {
	args := m.Called(ctx, userCouponID)
	return args.Error(0)
}

var _ repository.CouponUsageStore = (*MockCouponUsageStore)(nil)

// MockAuditRepository is a mock implementation of repository.AuditRepository
type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) Append(ctx context.Context, entries []*domain.AuditEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockAuditRepository) GetByOrderID(ctx context.Context, orderID string) ([]*domain.AuditEntry, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.AuditEntry), args.Error(1)
}

var _ repository.AuditRepository = (*MockAuditRepository)(nil)

// fakeTx stands in for pgx.Tx in handler tests. Only Commit and Rollback are
// implemented; all statements inside the transaction go through mocked
// repository methods, so the embedded interface is never reached.
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

// recordingBus captures published events so tests can assert on what a
// handler announced without running a dispatcher.
type recordingBus struct {
	mu         sync.Mutex
	events     []*domain.Event
	publishErr error
}

func newRecordingBus() *recordingBus {
	return &recordingBus{}
}

func (b *recordingBus) Publish(ctx context.Context, event *domain.Event) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) Subscribe(eventType string, handler bus.HandlerFunc) error {
	return nil
}

func (b *recordingBus) Start(ctx context.Context) error {
	return nil
}

func (b *recordingBus) Close() error {
	return nil
}

// published returns all captured events of the given type, in publish order
func (b *recordingBus) published(eventType string) []*domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*domain.Event
	for _, event := range b.events {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

// publishedTypes returns the event types of all captured events, in order
func (b *recordingBus) publishedTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, event := range b.events {
		out = append(out, event.EventType)
	}
	return out
}

// decodeSingle asserts exactly one event of the given type was published and
// decodes its payload into v
func (b *recordingBus) decodeSingle(t *testing.T, eventType string, v interface{}) {
	t.Helper()
	events := b.published(eventType)
	if len(events) != 1 {
		t.Fatalf("expected exactly one %s event, got %d (all: %v)", eventType, len(events), b.publishedTypes())
	}
	if err := events[0].Decode(v); err != nil {
		t.Fatalf("failed to decode %s payload: %v", eventType, err)
	}
}

var _ bus.EventBus = (*recordingBus)(nil)

// mustEvent builds an event envelope or fails the test
func mustEvent(t *testing.T, eventType string, payload interface{}) *domain.Event {
	t.Helper()
	event, err := domain.NewEvent(eventType, payload)
	if err != nil {
		t.Fatalf("failed to build %s event: %v", eventType, err)
	}
	return event
}

// decodeOutboxEvent unwraps the event envelope stored in an outbox message
// and decodes its payload into v
func decodeOutboxEvent(t *testing.T, msg *domain.OutboxMessage, v interface{}) {
	t.Helper()
	var event domain.Event
	if err := msg.GetPayload(&event); err != nil {
		t.Fatalf("failed to unwrap outbox payload: %v", err)
	}
	if err := event.Decode(v); err != nil {
		t.Fatalf("failed to decode %s payload: %v", event.EventType, err)
	}
}
