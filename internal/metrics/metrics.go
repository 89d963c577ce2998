package metrics

import (
	"context"
	"sync"

	"github.com/prohmpiriya/purchase-saga/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// Order counters
	OrdersCreated   *telemetry.Counter
	OrdersCompleted *telemetry.Counter
	OrdersFailed    *telemetry.Counter

	// Event flow counters
	EventsObserved  *telemetry.Counter
	OutboxPublished *telemetry.Counter
	OutboxFailed    *telemetry.Counter

	// Sweeper counters
	ReservationsExpired *telemetry.Counter

	// Histograms
	SagaDuration *telemetry.Histogram

	// Gauges
	ActiveSagas *telemetry.UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init initializes all saga metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	var err error

	OrdersCreated, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_orders_created_total",
		Description: "Total number of orders admitted into the saga",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	OrdersCompleted, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_orders_completed_total",
		Description: "Total number of orders completed",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	OrdersFailed, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_orders_failed_total",
		Description: "Total number of orders failed, by reason and step",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	EventsObserved, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_events_total",
		Description: "Total number of saga events observed, by type",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	OutboxPublished, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_outbox_published_total",
		Description: "Total number of outbox messages published to the bus",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	OutboxFailed, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_outbox_failed_total",
		Description: "Total number of outbox messages that failed to publish",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	ReservationsExpired, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_reservations_expired_total",
		Description: "Total number of reservations closed by the expiry sweeper",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	// Saga settle time from order creation to terminal state
	SagaDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "saga_duration_seconds",
		Description: "Duration from order creation to terminal state",
		Unit:        "s",
	}, []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}) // 10ms to 1min
	if err != nil {
		return err
	}

	ActiveSagas, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "saga_active_orders",
		Description: "Current number of orders with a saga in flight",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	return nil
}

// RecordOrderCreated records an order admitted into the saga
func RecordOrderCreated(ctx context.Context, itemID string, quantity int, hasCoupon bool) {
	if OrdersCreated != nil {
		OrdersCreated.Inc(ctx,
			attribute.String("item_id", itemID),
			attribute.Int("quantity", quantity),
			attribute.Bool("has_coupon", hasCoupon),
		)
	}
	if ActiveSagas != nil {
		ActiveSagas.Inc(ctx)
	}
}

// RecordOrderCompleted records a completed order and its settle time
func RecordOrderCompleted(ctx context.Context, durationSeconds float64) {
	if OrdersCompleted != nil {
		OrdersCompleted.Inc(ctx)
	}
	if SagaDuration != nil {
		SagaDuration.Record(ctx, durationSeconds,
			attribute.String("outcome", "completed"),
		)
	}
	if ActiveSagas != nil {
		ActiveSagas.Dec(ctx)
	}
}

// RecordOrderFailed records a failed order with its reason and failed step
func RecordOrderFailed(ctx context.Context, reason, step string, durationSeconds float64) {
	if OrdersFailed != nil {
		OrdersFailed.Inc(ctx,
			attribute.String("reason", reason),
			attribute.String("step", step),
		)
	}
	if SagaDuration != nil {
		SagaDuration.Record(ctx, durationSeconds,
			attribute.String("outcome", "failed"),
		)
	}
	if ActiveSagas != nil {
		ActiveSagas.Dec(ctx)
	}
}

// RecordEventObserved records one saga event passing through the audit sink
func RecordEventObserved(ctx context.Context, eventType string) {
	if EventsObserved != nil {
		EventsObserved.Inc(ctx,
			attribute.String("event_type", eventType),
		)
	}
}

// RecordOutboxPublished records outbox messages handed to the bus
func RecordOutboxPublished(ctx context.Context, count int64) {
	if OutboxPublished != nil {
		OutboxPublished.Add(ctx, count)
	}
}

// RecordOutboxFailed records an outbox message that could not be published
func RecordOutboxFailed(ctx context.Context, eventType string) {
	if OutboxFailed != nil {
		OutboxFailed.Inc(ctx,
			attribute.String("event_type", eventType),
		)
	}
}

// RecordExpiration records reservations closed by the sweeper
func RecordExpiration(ctx context.Context, count int64) {
	if ReservationsExpired != nil {
		ReservationsExpired.Add(ctx, count)
	}
}
