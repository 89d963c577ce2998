package saga

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/purchase-saga/internal/bus"
	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/internal/metrics"
	"github.com/prohmpiriya/purchase-saga/internal/repository"
	"github.com/prohmpiriya/purchase-saga/pkg/logger"
)

const (
	defaultAuditFlushInterval = 2 * time.Second
	defaultAuditMaxBatch      = 100

	// auditBacklogLimit caps retained entries when the sink is down; oldest
	// entries are dropped beyond it.
	auditBacklogLimit = 10000
)

// AuditConsumer records every saga event into the append-only audit log. It
// subscribes to all event types and never touches saga state; writes are
// batched and flushed by a background loop, so handler invocations stay
// cheap and never fail a delivery.
type AuditConsumer struct {
	audits repository.AuditRepository
	log    *logger.Logger

	flushInterval time.Duration
	maxBatch      int

	mu      sync.Mutex
	pending []*domain.AuditEntry

	kick     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAuditConsumer creates the audit consumer. Zero values fall back to a 2s
// flush interval and batches of 100.
func NewAuditConsumer(audits repository.AuditRepository, flushInterval time.Duration, maxBatch int) *AuditConsumer {
	if flushInterval <= 0 {
		flushInterval = defaultAuditFlushInterval
	}
	if maxBatch <= 0 {
		maxBatch = defaultAuditMaxBatch
	}
	return &AuditConsumer{
		audits:        audits,
		log:           logger.Get(),
		flushInterval: flushInterval,
		maxBatch:      maxBatch,
		kick:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
}

// Name identifies the consumer
func (c *AuditConsumer) Name() string {
	return "audit"
}

// Handlers subscribes the consumer to every saga event type
func (c *AuditConsumer) Handlers() map[string]bus.HandlerFunc {
	types := domain.AllEventTypes()
	handlers := make(map[string]bus.HandlerFunc, len(types))
	for _, eventType := range types {
		handlers[eventType] = c.Handle
	}
	return handlers
}

// Handle buffers one observed event. The write happens on the flush loop, so
// this returns nil even while the sink is unavailable.
func (c *AuditConsumer) Handle(ctx context.Context, event *domain.Event) error {
	metrics.RecordEventObserved(ctx, event.EventType)
	entry := domain.NewAuditEntry(event, bus.PartitionKey(event))

	c.mu.Lock()
	c.pending = append(c.pending, entry)
	full := len(c.pending) >= c.maxBatch
	c.mu.Unlock()

	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Start launches the flush loop
func (c *AuditConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop drains buffered entries and stops the flush loop
func (c *AuditConsumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

// Pending reports the number of buffered entries
func (c *AuditConsumer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *AuditConsumer) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			c.drain()
			return
		case <-ctx.Done():
			c.drain()
			return
		case <-ticker.C:
			c.flush(ctx)
		case <-c.kick:
			c.flush(ctx)
		}
	}
}

// drain performs the final flush on its own deadline; the caller's context
// is usually already cancelled at shutdown.
func (c *AuditConsumer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.flush(ctx)
}

func (c *AuditConsumer) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if err := c.audits.Append(ctx, batch); err != nil {
		c.log.Error("failed to append audit batch",
			zap.Int("entries", len(batch)),
			zap.Error(err))
		c.requeue(batch)
	}
}

// requeue puts a failed batch back at the front of the buffer so ordering
// survives a sink outage, dropping the oldest entries over the backlog cap.
func (c *AuditConsumer) requeue(batch []*domain.AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(batch, c.pending...)
	if over := len(c.pending) - auditBacklogLimit; over > 0 {
		c.log.Warn("audit backlog over limit, dropping oldest entries",
			zap.Int("dropped", over))
		c.pending = c.pending[over:]
	}
}

var _ Participant = (*AuditConsumer)(nil)
