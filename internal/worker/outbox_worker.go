// Package worker holds the background loops that keep the saga honest: the
// outbox dispatcher that carries committed order events to the bus, and the
// expiry sweeper that reconciles reservations left behind by crashed sagas.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/purchase-saga/internal/bus"
	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/internal/metrics"
	"github.com/prohmpiriya/purchase-saga/internal/repository"
	"github.com/prohmpiriya/purchase-saga/pkg/logger"
)

// OutboxWorkerConfig contains configuration for the outbox worker
type OutboxWorkerConfig struct {
	// PollInterval is the interval between polling for pending messages
	PollInterval time.Duration
	// BatchSize is the number of messages to fetch in each poll
	BatchSize int
	// RetryInterval is the interval between retrying failed messages
	RetryInterval time.Duration
	// CleanupInterval is the interval between cleanup of old published messages
	CleanupInterval time.Duration
	// CleanupRetentionDays is the number of days to retain published messages
	CleanupRetentionDays int
}

// DefaultOutboxWorkerConfig returns default configuration
func DefaultOutboxWorkerConfig() *OutboxWorkerConfig {
	return &OutboxWorkerConfig{
		PollInterval:         100 * time.Millisecond,
		BatchSize:            100,
		RetryInterval:        5 * time.Second,
		CleanupInterval:      1 * time.Hour,
		CleanupRetentionDays: 7,
	}
}

// OutboxWorker polls the outbox table and carries committed order events to
// the bus. Each outbox row holds a fully built saga event, so publishing is
// decode-and-forward; the row's status machine provides at-least-once
// delivery across crashes.
type OutboxWorker struct {
	outbox   repository.OutboxRepository
	eventBus bus.EventBus
	config   *OutboxWorkerConfig
	log      *logger.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool

	totalPublished int64
	totalFailed    int64
}

// NewOutboxWorker creates a new outbox worker. Zero config fields fall back
// to defaults; the poll loops need positive intervals.
func NewOutboxWorker(outbox repository.OutboxRepository, eventBus bus.EventBus, config *OutboxWorkerConfig) *OutboxWorker {
	def := DefaultOutboxWorkerConfig()
	if config == nil {
		config = def
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = def.RetryInterval
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.CleanupRetentionDays <= 0 {
		config.CleanupRetentionDays = def.CleanupRetentionDays
	}

	return &OutboxWorker{
		outbox:   outbox,
		eventBus: eventBus,
		config:   config,
		log:      logger.Get(),
		stopCh:   make(chan struct{}),
	}
}

// Start starts the outbox worker
func (w *OutboxWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("starting outbox worker",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize))

	w.wg.Add(1)
	go w.pollPendingMessages(ctx)

	w.wg.Add(1)
	go w.retryFailedMessages(ctx)

	w.wg.Add(1)
	go w.cleanupOldMessages(ctx)

	return nil
}

// Stop stops the outbox worker
func (w *OutboxWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("stopping outbox worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("outbox worker stopped")
}

func (w *OutboxWorker) pollPendingMessages(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.processBatch(ctx, w.outbox.GetPendingMessages)
		}
	}
}

func (w *OutboxWorker) retryFailedMessages(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.processBatch(ctx, w.outbox.GetFailedMessages)
		}
	}
}

// processBatch publishes one fetched batch, settling each row as published or
// failed. A row whose publish fails stays in the failed lane until its retry
// budget runs out; it is never lost.
func (w *OutboxWorker) processBatch(ctx context.Context, fetch func(context.Context, int) ([]*domain.OutboxMessage, error)) {
	messages, err := fetch(ctx, w.config.BatchSize)
	if err != nil {
		w.log.Error("failed to fetch outbox messages", zap.Error(err))
		return
	}

	for _, msg := range messages {
		if err := w.publishMessage(ctx, msg); err != nil {
			w.log.Error("failed to publish outbox message",
				zap.String("message_id", msg.ID),
				zap.String("event_type", msg.EventType),
				zap.Int("retry_count", msg.RetryCount),
				zap.Error(err))
			w.markFailed(ctx, msg, err)
			metrics.RecordOutboxFailed(ctx, msg.EventType)
			continue
		}
		if err := w.outbox.MarkAsPublished(ctx, msg.ID); err != nil {
			// The event is on the bus; the row will be re-published and
			// downstream idempotency absorbs the duplicate.
			w.log.Error("failed to mark outbox message published",
				zap.String("message_id", msg.ID), zap.Error(err))
			continue
		}
		w.mu.Lock()
		w.totalPublished++
		w.mu.Unlock()
		metrics.RecordOutboxPublished(ctx, 1)
	}
}

func (w *OutboxWorker) markFailed(ctx context.Context, msg *domain.OutboxMessage, cause error) {
	if err := w.outbox.MarkAsFailed(ctx, msg.ID, cause.Error()); err != nil {
		w.log.Error("failed to mark outbox message failed",
			zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	w.mu.Lock()
	w.totalFailed++
	w.mu.Unlock()
}

func (w *OutboxWorker) cleanupOldMessages(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			deleted, err := w.outbox.DeletePublished(ctx, w.config.CleanupRetentionDays)
			if err != nil {
				w.log.Error("failed to clean up published outbox messages", zap.Error(err))
			} else if deleted > 0 {
				w.log.Info("cleaned up published outbox messages", zap.Int64("deleted", deleted))
			}
		}
	}
}

// publishMessage forwards the stored event to the bus
func (w *OutboxWorker) publishMessage(ctx context.Context, msg *domain.OutboxMessage) error {
	var event domain.Event
	if err := msg.GetPayload(&event); err != nil {
		return fmt.Errorf("failed to decode outbox payload: %w", err)
	}
	return w.eventBus.Publish(ctx, &event)
}

// Stats returns a snapshot of worker counters plus outbox backlog by status
func (w *OutboxWorker) Stats(ctx context.Context) (*OutboxWorkerStats, error) {
	counts, err := w.outbox.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return &OutboxWorkerStats{
		IsRunning:      w.running,
		TotalPublished: w.totalPublished,
		TotalFailed:    w.totalFailed,
		Pending:        counts[domain.OutboxStatusPending],
		Failed:         counts[domain.OutboxStatusFailed],
		Published:      counts[domain.OutboxStatusPublished],
	}, nil
}

// OutboxWorkerStats contains worker statistics
type OutboxWorkerStats struct {
	IsRunning      bool  `json:"is_running"`
	TotalPublished int64 `json:"total_published"`
	TotalFailed    int64 `json:"total_failed"`
	Pending        int64 `json:"pending"`
	Failed         int64 `json:"failed"`
	Published      int64 `json:"published"`
}
