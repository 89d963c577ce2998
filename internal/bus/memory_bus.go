package bus

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/pkg/logger"
)

const defaultQueueSize = 1024

// MemoryBusConfig holds configuration for the in-process bus
type MemoryBusConfig struct {
	// QueueSize is the publish buffer capacity (default: 1024)
	QueueSize int
}

// MemoryBus delivers events inside a single process. A lone dispatcher
// goroutine drains a FIFO queue, so events are handled in publish order,
// which interleaves competing sagas the same way a shared broker partition
// would. Used by the demo binary and the end-to-end tests; production runs
// the Kafka bus.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
	queue    chan *domain.Event
	stopCh   chan struct{}
	wg       sync.WaitGroup
	inflight sync.WaitGroup
	running  bool
	closed   bool

	errMu sync.Mutex
	errs  []error

	log *logger.Logger
}

// NewMemoryBus creates an in-process event bus
func NewMemoryBus(cfg *MemoryBusConfig) *MemoryBus {
	size := defaultQueueSize
	if cfg != nil && cfg.QueueSize > 0 {
		size = cfg.QueueSize
	}

	return &MemoryBus{
		handlers: make(map[string][]HandlerFunc),
		queue:    make(chan *domain.Event, size),
		stopCh:   make(chan struct{}),
		log:      logger.Get(),
	}
}

// Publish enqueues an event for delivery. Safe to call from inside a handler;
// the event is processed after the current delivery finishes.
func (b *MemoryBus) Publish(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	b.inflight.Add(1)
	select {
	case b.queue <- event:
		return nil
	case <-ctx.Done():
		b.inflight.Done()
		return ctx.Err()
	}
}

// Subscribe registers a handler for an event type. Must be called before Start.
func (b *MemoryBus) Subscribe(eventType string, handler HandlerFunc) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("cannot subscribe after bus has started")
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// Start launches the dispatcher goroutine
func (b *MemoryBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if b.running {
		return fmt.Errorf("bus is already running")
	}
	b.running = true

	b.wg.Add(1)
	go b.dispatchLoop(ctx)
	return nil
}

// Close stops the dispatcher and discards anything still queued
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	running := b.running
	b.running = false
	b.mu.Unlock()

	if running {
		close(b.stopCh)
		b.wg.Wait()
	}

	// Release Wait callers blocked on events that will never be delivered
	for {
		select {
		case <-b.queue:
			b.inflight.Done()
		default:
			return nil
		}
	}
}

// Wait blocks until every published event, including events published while
// handling earlier ones, has been delivered. Test and demo helper.
func (b *MemoryBus) Wait() {
	b.inflight.Wait()
}

// DeliveryErrors returns handler errors observed so far
func (b *MemoryBus) DeliveryErrors() []error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	out := make([]error, len(b.errs))
	copy(out, b.errs)
	return out
}

func (b *MemoryBus) dispatchLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case event := <-b.queue:
			b.deliver(ctx, event)
			b.inflight.Done()
		}
	}
}

func (b *MemoryBus) deliver(ctx context.Context, event *domain.Event) {
	b.mu.RLock()
	handlers := b.handlers[event.EventType]
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			b.log.Error("event delivery failed",
				zap.String("event_type", event.EventType),
				zap.String("order_id", PartitionKey(event)),
				zap.Error(err))

			b.errMu.Lock()
			b.errs = append(b.errs, fmt.Errorf("%s: %w", event.EventType, err))
			b.errMu.Unlock()
		}
	}
}

var _ EventBus = (*MemoryBus)(nil)
