package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/pkg/metrics"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

// Lifecycle event types
const (
	EventMatchCreated          = "match.created"
	EventMatchScored           = "match.scored"
	EventConversationStarted   = "conversation.started"
	EventConversationRound     = "conversation.round"
	EventConversationCompleted = "conversation.completed"
	EventConversationFailed    = "conversation.failed"
)

// Config holds Kafka configuration
type Config struct {
	Brokers     []string
	EventsTopic string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, eventsTopic string) Config {
	var brokerList []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokerList = append(brokerList, b)
		}
	}

	return Config{
		Brokers:     brokerList,
		EventsTopic: eventsTopic,
	}
}

// Enabled reports whether any broker is configured
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// EventMessage is a lifecycle event for downstream notification services
type EventMessage struct {
	Type           string    `json:"type"`
	MatchID        string    `json:"match_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Status         string    `json:"status,omitempty"`
	Round          int       `json:"round,omitempty"`
	FinalScore     *int      `json:"final_score,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	TraceID        string    `json:"trace_id,omitempty"`
}

// EventPublisher publishes lifecycle events
type EventPublisher interface {
	PublishEvent(ctx context.Context, evt *EventMessage) error
}

// MessageWriter is the part of kafka.Writer the producer uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles producing messages to Kafka
type Producer struct {
	writer MessageWriter
	logger *zap.Logger
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.EventsTopic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// lets a first publish in dev succeed before the topic exists
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer, cfg.EventsTopic, logger)
}

// NewProducerWithWriter creates a producer over an existing writer
func NewProducerWithWriter(writer MessageWriter, topic string, logger *zap.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishEvent publishes a lifecycle event keyed by match id, so the events of one
// match stay ordered within a partition.
func (p *Producer) PublishEvent(ctx context.Context, evt *EventMessage) error {
	if evt == nil {
		return fmt.Errorf("event is nil")
	}

	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("event.type", evt.Type),
		attribute.String("match_id", evt.MatchID),
	)

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.TraceID = tracing.GetTraceID(ctx)

	data, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal event")
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "type", Value: []byte(evt.Type)},
		{Key: "match_id", Value: []byte(evt.MatchID)},
	}
	if evt.ConversationID != "" {
		headers = append(headers, kafka.Header{Key: "conversation_id", Value: []byte(evt.ConversationID)})
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(evt.MatchID),
		Value:   data,
		Headers: headers,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish event")
		metrics.RecordKafkaPublish(p.topic, "error", time.Since(start).Seconds())
		p.logger.Error("Failed to publish event to Kafka",
			zap.String("topic", p.topic),
			zap.String("type", evt.Type),
			zap.Error(err))
		return err
	}

	span.SetStatus(codes.Ok, "event published")
	metrics.RecordKafkaPublish(p.topic, "success", time.Since(start).Seconds())
	p.logger.Debug("Published event to Kafka", zap.String("type", evt.Type), zap.String("match_id", evt.MatchID))
	return nil
}

// NoopPublisher drops events; used when no broker is configured
type NoopPublisher struct{}

func (NoopPublisher) PublishEvent(context.Context, *EventMessage) error { return nil }
