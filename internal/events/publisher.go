// Package events publishes recording activity to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"meetscribe/internal/domain"
	"meetscribe/internal/observability/metrics"
)

const (
	eventTypeTurn   = "turn.final"
	eventTypeStatus = "recording.status"
)

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers     []string
	TopicTurns  string
	TopicStatus string
	Principal   string
	Enabled     bool
}

// Publisher writes final turns and recording status changes to separate topics.
// With Kafka disabled it only logs.
type Publisher struct {
	writerTurns  *kafka.Writer
	writerStatus *kafka.Writer
	principal    string
	topicTurns   string
	topicStatus  string
	enabled      bool
	metrics      *metrics.Metrics
	log          zerolog.Logger
}

// New creates a publisher. A nil config or one without brokers gives log-only mode.
func New(cfg *Config, m *metrics.Metrics, logger zerolog.Logger) *Publisher {
	if cfg == nil {
		logger.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{metrics: m, log: logger}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:   cfg.Principal,
			topicTurns:  cfg.TopicTurns,
			topicStatus: cfg.TopicStatus,
			metrics:     m,
			log:         logger,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTurns", cfg.TopicTurns).
		Str("topicStatus", cfg.TopicStatus).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerTurns:  newWriter(cfg.TopicTurns),
		writerStatus: newWriter(cfg.TopicStatus),
		principal:    cfg.Principal,
		topicTurns:   cfg.TopicTurns,
		topicStatus:  cfg.TopicStatus,
		enabled:      true,
		metrics:      m,
		log:          logger,
	}
}

// PublishTurn publishes a committed final turn keyed by recording id.
func (p *Publisher) PublishTurn(ctx context.Context, event domain.TurnEvent) error {
	return p.publish(ctx, p.writerTurns, p.topicTurns, eventTypeTurn, event.RecordingID, event)
}

// PublishStatus publishes a recording status transition keyed by recording id.
func (p *Publisher) PublishStatus(ctx context.Context, event domain.StatusEvent) error {
	return p.publish(ctx, p.writerStatus, p.topicStatus, eventTypeStatus, event.RecordingID, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	p.log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerTurns != nil {
		if e := p.writerTurns.Close(); e != nil {
			p.log.Error().Err(e).Msg("Error closing turns writer")
			err = e
		}
	}
	if p.writerStatus != nil {
		if e := p.writerStatus.Close(); e != nil {
			p.log.Error().Err(e).Msg("Error closing status writer")
			err = e
		}
	}
	return err
}
