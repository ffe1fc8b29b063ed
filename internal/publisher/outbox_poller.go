package publisher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
)

const DefaultTopic = "storefront-events"

// EventSource is the outbox side of the store.
type EventSource interface {
	FetchPending(ctx context.Context, limit int) ([]*repository.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id int64) error
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers   []string
	Topic     string
	Interval  time.Duration
	BatchSize int
	Timeout   time.Duration
}

// OutboxPoller relays committed outbox events to Kafka. Delivery is at least once: an
// event is marked processed only after the broker accepted it.
type OutboxPoller struct {
	source    EventSource
	writer    MessageWriter
	breaker   *gobreaker.CircuitBreaker[struct{}]
	interval  time.Duration
	batchSize int
	timeout   time.Duration
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
}

func NewOutboxPoller(source EventSource, writer MessageWriter, cfg Config, m *metrics.Metrics, log *slog.Logger) *OutboxPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "kafka-outbox",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &OutboxPoller{
		source:    source,
		writer:    writer,
		breaker:   breaker,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		timeout:   cfg.Timeout,
		metrics:   m,
		log:       log,
	}
}

// Run polls until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processPending(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

// processPending publishes one batch in id order and stops at the first failure so
// events of one aggregate are never reordered.
func (p *OutboxPoller) processPending(ctx context.Context) {
	events, err := p.source.FetchPending(ctx, p.batchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return
	}
	p.metrics.OutboxBacklog(len(events))

	published := 0
	defer func() { p.metrics.OutboxPublished(true, published) }()

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.metrics.OutboxPublished(false, 1)
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				p.log.DebugContext(ctx, "broker circuit open, skipping batch")
				return
			}
			p.log.ErrorContext(ctx, "failed to publish outbox event", "event_id", event.ID, "error", err)
			return
		}
		published++

		if err := p.source.MarkProcessed(ctx, event.ID); err != nil {
			p.log.ErrorContext(ctx, "failed to mark outbox event processed", "event_id", event.ID, "error", err)
			return
		}
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event *repository.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
		Time: event.CreatedAt,
	}

	_, err := p.breaker.Execute(func() (struct{}, error) {
		writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return struct{}{}, p.writer.WriteMessages(writeCtx, msg)
	})
	return err
}
