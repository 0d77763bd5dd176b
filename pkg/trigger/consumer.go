// Package trigger consumes dataset-ready messages from Kafka and turns them
// into dataset_uploaded events.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ammar0144/recsync/pkg/events"
	"github.com/ammar0144/recsync/pkg/logging"
	"github.com/ammar0144/recsync/pkg/metrics"
)

// Config configures the dataset-ready consumer
type Config struct {
	Enabled bool          `json:"enabled" yaml:"enabled" koanf:"enabled"`
	Brokers []string      `json:"brokers" yaml:"brokers" koanf:"brokers"`
	GroupID string        `json:"group_id" yaml:"group_id" koanf:"group_id"`
	Topic   string        `json:"topic" yaml:"topic" koanf:"topic"`
	MaxWait time.Duration `json:"max_wait" yaml:"max_wait" koanf:"max_wait"`
}

// DefaultConfig returns the default consumer configuration
func DefaultConfig() Config {
	return Config{
		Brokers: []string{"localhost:9092"},
		GroupID: "recsync",
		Topic:   "dataset.ready",
		MaxWait: 500 * time.Millisecond,
	}
}

// Validate checks the configuration of an enabled consumer
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka consumer requires at least one broker")
	}
	if c.GroupID == "" {
		return fmt.Errorf("kafka consumer requires group id")
	}
	if c.Topic == "" {
		return fmt.Errorf("kafka consumer requires a topic")
	}
	return nil
}

// MessageReader is the part of *kafka.Reader the consumer uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Notifier publishes events
type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]any) error
}

// Consumer forwards dataset-ready messages to the event bus
type Consumer struct {
	newReader func() MessageReader
	notifier  Notifier
	topic     string
}

// NewConsumer creates a consumer group reader for the configured topic
func NewConsumer(cfg Config, notifier Notifier) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// A closed reader cannot be reopened, so every Serve call (including
	// supervisor restarts) gets a fresh one.
	newReader := func() MessageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			GroupTopics: []string{cfg.Topic},
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     cfg.MaxWait,
		})
	}
	return &Consumer{newReader: newReader, notifier: notifier, topic: cfg.Topic}, nil
}

// NewConsumerWithReader creates a consumer on an existing reader
func NewConsumerWithReader(reader MessageReader, notifier Notifier, topic string) *Consumer {
	return &Consumer{
		newReader: func() MessageReader { return reader },
		notifier:  notifier,
		topic:     topic,
	}
}

func (c *Consumer) String() string {
	return "dataset-trigger"
}

// Serve consumes until ctx is done. A message is committed once it has been
// dispatched or found invalid; invalid messages are logged and skipped.
func (c *Consumer) Serve(ctx context.Context) error {
	reader := c.newReader()
	defer func() {
		if err := reader.Close(); err != nil {
			logging.Warn().Err(err).Str("topic", c.topic).Msg("failed to close kafka reader")
		}
	}()

	logging.Info().Str("topic", c.topic).Msg("dataset trigger consumer started")
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch from %s: %w", c.topic, err)
		}

		c.handle(ctx, msg)

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("commit offset %d on %s: %w", msg.Offset, c.topic, err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	ctx = logging.ContextWithCorrelationID(ctx, string(msg.Key))
	log := logging.Ctx(ctx).With().
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()

	ready, err := Decode(msg.Value, msg.Headers)
	if err != nil {
		metrics.TriggerMessages.WithLabelValues("invalid").Inc()
		log.Warn().Err(err).Msg("skipping invalid dataset message")
		return
	}

	payload := map[string]any{events.PayloadPath: ready.Path}
	if ready.JobID != "" {
		payload[events.PayloadJobID] = ready.JobID
	}
	if ready.TopN > 0 {
		payload[events.PayloadTopN] = ready.TopN
	}

	if err := c.notifier.Notify(ctx, events.DatasetUploaded, payload); err != nil {
		metrics.TriggerMessages.WithLabelValues("failed").Inc()
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Error().Err(err).Str("path", ready.Path).Msg("dataset message not dispatched")
		return
	}
	metrics.TriggerMessages.WithLabelValues("dispatched").Inc()
	log.Info().Str("path", ready.Path).Str("job_id", ready.JobID).Msg("dataset message dispatched")
}
