package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/internal/metrics"
	"github.com/prohmpiriya/purchase-saga/internal/repository"
	"github.com/prohmpiriya/purchase-saga/pkg/logger"
)

// ExpiryWorkerConfig contains configuration for the expiry sweeper
type ExpiryWorkerConfig struct {
	// ScanInterval is the interval between sweeps
	ScanInterval time.Duration
	// BatchSize is the number of reservations to expire per sweep
	BatchSize int
}

// DefaultExpiryWorkerConfig returns default configuration
func DefaultExpiryWorkerConfig() *ExpiryWorkerConfig {
	return &ExpiryWorkerConfig{
		ScanInterval: time.Minute,
		BatchSize:    100,
	}
}

// ReservationExpiryWorker reconciles item reservations left RESERVED past
// their expiry, which happens when a saga crashed between reserving stock and
// its terminal event. Each sweep transitions stale rows to EXPIRED and
// restores their stock in the same per-reservation transaction, so however
// the crash interleaved, stock moves exactly once. The sweep publishes
// nothing: the stranded order never sees a success event, and a late rollback
// finds no RESERVED rows to touch.
type ReservationExpiryWorker struct {
	reservations repository.ItemReservationRepository
	items        repository.ItemRepository
	config       *ExpiryWorkerConfig
	log          *logger.Logger
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool

	totalExpired     int64
	totalSkipped     int64
	lastScanTime     time.Time
	lastExpiredCount int
}

// NewReservationExpiryWorker creates the expiry sweeper. Zero config fields
// fall back to defaults; the scan loop needs a positive interval.
func NewReservationExpiryWorker(
	reservations repository.ItemReservationRepository,
	items repository.ItemRepository,
	config *ExpiryWorkerConfig,
) *ReservationExpiryWorker {
	def := DefaultExpiryWorkerConfig()
	if config == nil {
		config = def
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = def.ScanInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}

	return &ReservationExpiryWorker{
		reservations: reservations,
		items:        items,
		config:       config,
		log:          logger.Get(),
		stopCh:       make(chan struct{}),
	}
}

// Start starts the expiry sweeper
func (w *ReservationExpiryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("expiry worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("starting reservation expiry worker",
		zap.Duration("scan_interval", w.config.ScanInterval),
		zap.Int("batch_size", w.config.BatchSize))

	w.wg.Add(1)
	go w.loop(ctx)

	return nil
}

// Stop stops the expiry sweeper
func (w *ReservationExpiryWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("stopping reservation expiry worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("reservation expiry worker stopped")
}

func (w *ReservationExpiryWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	// Sweep immediately so a restart reconciles backlog without waiting a
	// full interval.
	w.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass and returns how many reservations it
// expired. Exported so tests and the demo binary can force a pass without
// waiting for the ticker.
func (w *ReservationExpiryWorker) Sweep(ctx context.Context) int {
	now := time.Now().UTC()

	w.mu.Lock()
	w.lastScanTime = now
	w.mu.Unlock()

	stale, err := w.reservations.FindExpired(ctx, now, w.config.BatchSize)
	if err != nil {
		w.log.Error("failed to find expired reservations", zap.Error(err))
		return 0
	}
	if len(stale) == 0 {
		w.mu.Lock()
		w.lastExpiredCount = 0
		w.mu.Unlock()
		return 0
	}

	w.log.Info("expiring stale reservations", zap.Int("count", len(stale)))

	expired := 0
	for _, reservation := range stale {
		ok, err := w.expireReservation(ctx, reservation)
		if err != nil {
			w.log.Error("failed to expire reservation",
				zap.String("reservation_id", reservation.ID),
				zap.String("order_id", reservation.OrderID),
				zap.Error(err))
			continue
		}
		w.mu.Lock()
		if ok {
			expired++
			w.totalExpired++
		} else {
			w.totalSkipped++
		}
		w.mu.Unlock()
	}

	w.mu.Lock()
	w.lastExpiredCount = expired
	w.mu.Unlock()

	if expired > 0 {
		metrics.RecordExpiration(ctx, int64(expired))
	}
	return expired
}

// expireReservation settles one reservation. The guarded EXPIRED transition
// and the stock restore commit together; losing the guard means a rollback or
// confirm got there first and stock must not move.
func (w *ReservationExpiryWorker) expireReservation(ctx context.Context, reservation *domain.ItemReservation) (bool, error) {
	tx, err := w.reservations.BeginTx(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	expired, err := w.reservations.ExpireTx(ctx, tx, reservation.ID)
	if err != nil {
		return false, err
	}
	if !expired {
		w.log.Info("reservation already settled, skipping expiry",
			zap.String("reservation_id", reservation.ID),
			zap.String("order_id", reservation.OrderID))
		return false, nil
	}

	if err := w.items.IncrementStockTx(ctx, tx, reservation.ItemID, reservation.ReservedQuantity); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}

	w.log.Info("reservation expired",
		zap.String("reservation_id", reservation.ID),
		zap.String("order_id", reservation.OrderID),
		zap.String("item_id", reservation.ItemID),
		zap.Int("restored_quantity", reservation.ReservedQuantity))
	return true, nil
}

// Stats returns sweeper statistics
func (w *ReservationExpiryWorker) Stats() *ExpiryWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &ExpiryWorkerStats{
		IsRunning:        w.running,
		TotalExpired:     w.totalExpired,
		TotalSkipped:     w.totalSkipped,
		LastScanTime:     w.lastScanTime,
		LastExpiredCount: w.lastExpiredCount,
	}
}

// ExpiryWorkerStats contains sweeper statistics
type ExpiryWorkerStats struct {
	IsRunning        bool      `json:"is_running"`
	TotalExpired     int64     `json:"total_expired"`
	TotalSkipped     int64     `json:"total_skipped"`
	LastScanTime     time.Time `json:"last_scan_time"`
	LastExpiredCount int       `json:"last_expired_count"`
}
