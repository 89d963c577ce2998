package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/pkg/kafka"
	"github.com/prohmpiriya/purchase-saga/pkg/logger"
	"github.com/prohmpiriya/purchase-saga/pkg/retry"
)

// DefaultDLQTopic is the single dead letter topic for the whole saga. Events
// that exhaust their delivery retries land here with the original topic and
// error recorded in headers.
const DefaultDLQTopic = "saga.dlq"

// KafkaBusConfig holds configuration for the Kafka-backed bus
type KafkaBusConfig struct {
	Brokers          []string
	GroupID          string
	ClientID         string
	SessionTimeout   time.Duration
	RebalanceTimeout time.Duration

	// DLQTopic overrides the dead letter topic (default: saga.dlq)
	DLQTopic string
	// RetryConfig controls per-delivery handler retries before dead-lettering
	RetryConfig *retry.Config
	// Source is the service name stamped on dead letters
	Source string
}

// KafkaBus routes events through Kafka. Each event type is its own topic and
// records are keyed by orderId, so one order's events stay on one partition
// and arrive in publish order. Offsets are committed after handling, giving
// at-least-once delivery; handlers that keep failing are retried with backoff
// and then dead-lettered so the partition is never blocked.
type KafkaBus struct {
	producer *kafka.Producer
	consumer *kafka.Consumer
	cfg      *KafkaBusConfig
	handlers map[string][]HandlerFunc
	dlq      *retry.DLQHandler
	log      *logger.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	closed  bool
}

// NewKafkaBus creates the bus and connects the producer. The consumer is
// created at Start, once the subscribed topics are known.
func NewKafkaBus(ctx context.Context, cfg *KafkaBusConfig) (*KafkaBus, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kafka bus config is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("consumer group ID is required")
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "purchase-saga-bus"
	}
	dlqTopic := cfg.DLQTopic
	if dlqTopic == "" {
		dlqTopic = DefaultDLQTopic
	}
	source := cfg.Source
	if source == "" {
		source = clientID
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:  cfg.Brokers,
		ClientID: clientID + "-producer",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	log := logger.Get()

	dlqPublisher := retry.NewKafkaDLQPublisher(
		&retry.KafkaProducerAdapter{Producer: producer},
		&retry.DLQConfig{FixedTopic: dlqTopic, Source: source},
	)
	dlqHandler := retry.NewDLQHandler(dlqPublisher, &retry.DLQHandlerConfig{
		RetryConfig: cfg.RetryConfig,
		Source:      source,
		OnDLQ: func(msg *retry.DLQMessage) {
			log.Warn("event moved to dead letter topic",
				zap.String("original_topic", msg.OriginalTopic),
				zap.String("key", msg.OriginalKey),
				zap.Int("attempts", msg.Attempts),
				zap.String("error", msg.Error))
		},
	})

	return &KafkaBus{
		producer: producer,
		cfg:      cfg,
		handlers: make(map[string][]HandlerFunc),
		dlq:      dlqHandler,
		log:      log,
		stopCh:   make(chan struct{}),
	}, nil
}

// Publish sends an event to the topic named after its type, keyed by orderId
func (b *KafkaBus) Publish(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return b.producer.Produce(ctx, &kafka.Message{
		Topic: event.EventType,
		Key:   []byte(PartitionKey(event)),
		Value: payload,
		Headers: map[string]string{
			"content_type": "application/json",
			"event_type":   event.EventType,
		},
	})
}

// Subscribe registers a handler for an event type. Must be called before
// Start; the consumer subscribes to exactly the registered types.
func (b *KafkaBus) Subscribe(eventType string, handler HandlerFunc) error {
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

// Start creates the consumer for the subscribed topics and begins polling
func (b *KafkaBus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bus is already running")
	}

	topics := make([]string, 0, len(b.handlers))
	for topic := range b.handlers {
		topics = append(topics, topic)
	}
	if len(topics) == 0 {
		b.mu.Unlock()
		return fmt.Errorf("no subscriptions registered")
	}
	sort.Strings(topics)

	consumer, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:          b.cfg.Brokers,
		GroupID:          b.cfg.GroupID,
		Topics:           topics,
		ClientID:         b.cfg.ClientID,
		SessionTimeout:   b.cfg.SessionTimeout,
		RebalanceTimeout: b.cfg.RebalanceTimeout,
	})
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	b.consumer = consumer
	b.running = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.consumeLoop(ctx)

	b.log.Info("kafka event bus started",
		zap.Strings("topics", topics),
		zap.String("group_id", b.cfg.GroupID))
	return nil
}

// Close stops polling, flushes the producer and releases both clients
func (b *KafkaBus) Close() error {
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
		b.consumer.Close()
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.producer.Flush(flushCtx); err != nil {
		b.log.Warn("failed to flush producer on close", zap.Error(err))
	}
	b.producer.Close()

	b.log.Info("kafka event bus stopped")
	return nil
}

// Ping verifies broker connectivity
func (b *KafkaBus) Ping(ctx context.Context) error {
	return b.producer.Ping(ctx)
}

func (b *KafkaBus) consumeLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		records, err := b.consumer.Poll(ctx)
		if err != nil {
			if err == kafka.ErrConsumerClosed || ctx.Err() != nil {
				return
			}
			b.log.Error("failed to poll records", zap.Error(err))
			continue
		}

		for _, record := range records {
			if err := b.handleRecord(ctx, record); err != nil {
				b.log.Error("failed to handle record",
					zap.String("topic", record.Topic),
					zap.Int64("offset", record.Offset),
					zap.Error(err))
			}
		}

		if len(records) > 0 {
			if err := b.consumer.CommitRecords(ctx, records); err != nil {
				b.log.Error("failed to commit records", zap.Error(err))
			}
		}
	}
}

// handleRecord decodes and dispatches one record. Decode failures are
// permanent and go straight to the dead letter topic; handler failures are
// retried first. Either way the record ends up committed so the partition
// keeps moving.
func (b *KafkaBus) handleRecord(ctx context.Context, record *kafka.Record) error {
	msgCtx := &retry.MessageContext{
		ID:      fmt.Sprintf("%s-%d-%d", record.Topic, record.Partition, record.Offset),
		Topic:   record.Topic,
		Key:     string(record.Key),
		Payload: record.Value,
		Headers: record.Headers,
	}

	return b.dlq.ProcessWithDLQ(ctx, msgCtx, func(ctx context.Context) error {
		var event domain.Event
		if err := json.Unmarshal(record.Value, &event); err != nil {
			return retry.Permanent(fmt.Errorf("failed to decode event: %w", err))
		}
		return b.dispatch(ctx, &event)
	})
}

func (b *KafkaBus) dispatch(ctx context.Context, event *domain.Event) error {
	b.mu.RLock()
	handlers := b.handlers[event.EventType]
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

var _ EventBus = (*KafkaBus)(nil)
