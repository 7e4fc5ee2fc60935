package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

const (
	// DefaultDLQStream is the default dead letter queue stream name
	DefaultDLQStream = "wingfox:dlq"

	// DLQMaxLen is the maximum length of the DLQ stream (oldest entries trimmed)
	DLQMaxLen = 10000
)

// ErrDLQEntryNotFound is returned when a DLQ message id does not exist
var ErrDLQEntryNotFound = errors.New("dlq entry not found")

// DeadLetterQueue keeps wake-ups that could not be processed
type DeadLetterQueue struct {
	client     *Client
	streamName string
	logger     *zap.Logger
}

// NewDeadLetterQueue creates a new dead letter queue handler
func NewDeadLetterQueue(client *Client, streamName string, logger *zap.Logger) *DeadLetterQueue {
	if streamName == "" {
		streamName = DefaultDLQStream
	}
	return &DeadLetterQueue{
		client:     client,
		streamName: streamName,
		logger:     logger,
	}
}

// DLQEntry represents a dead letter queue entry
type DLQEntry struct {
	// MessageID is the stream id of the entry, filled in on read
	MessageID      string                  `json:"message_id,omitempty"`
	ID             string                  `json:"id"`
	ConversationID string                  `json:"conversation_id,omitempty"`
	Round          int                     `json:"round,omitempty"`
	OriginalWake   *WakeMessage            `json:"original_wake,omitempty"`
	RawPayload     string                  `json:"raw_payload,omitempty"`
	Reason         models.DeadLetterReason `json:"reason"`
	ErrorMessage   string                  `json:"error_message"`
	RetryCount     int                     `json:"retry_count"`
	CreatedAt      time.Time               `json:"created_at"`
	TraceID        string                  `json:"trace_id,omitempty"`
}

// Add adds an entry to the dead letter queue
func (d *DeadLetterQueue) Add(ctx context.Context, entry *DLQEntry) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Add")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.OriginalWake != nil {
		entry.ConversationID = entry.OriginalWake.ConversationID.String()
		entry.Round = entry.OriginalWake.Round
	}
	entry.TraceID = tracing.GetTraceID(ctx)

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal DLQ entry: %w", err)
	}

	messageID, err := d.client.Redis().XAdd(ctx, &redis.XAddArgs{
		Stream: d.streamName,
		MaxLen: DLQMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data":            string(data),
			"conversation_id": entry.ConversationID,
			"reason":          string(entry.Reason),
		},
	}).Result()
	if err != nil {
		d.logger.Error("Failed to add wake-up to DLQ", zap.Error(err))
		return "", fmt.Errorf("failed to add to DLQ: %w", err)
	}

	d.logger.Info("Added wake-up to DLQ",
		zap.String("conversation_id", entry.ConversationID),
		zap.Int("round", entry.Round),
		zap.String("reason", string(entry.Reason)))
	return messageID, nil
}

// List returns the newest entries first
func (d *DeadLetterQueue) List(ctx context.Context, count int64) ([]DLQEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.List")
	defer span.End()

	if count <= 0 {
		count = 100
	}

	messages, err := d.client.Redis().XRevRangeN(ctx, d.streamName, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read DLQ: %w", err)
	}

	entries := make([]DLQEntry, 0, len(messages))
	for _, msg := range messages {
		entry, err := decodeDLQEntry(msg)
		if err != nil {
			d.logger.Warn("Failed to unmarshal DLQ entry", zap.String("message_id", msg.ID), zap.Error(err))
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// Get retrieves a specific DLQ entry by message ID
func (d *DeadLetterQueue) Get(ctx context.Context, messageID string) (*DLQEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Get")
	defer span.End()

	messages, err := d.client.Redis().XRange(ctx, d.streamName, messageID, messageID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get DLQ entry: %w", err)
	}
	if len(messages) == 0 {
		return nil, ErrDLQEntryNotFound
	}
	return decodeDLQEntry(messages[0])
}

// Delete removes an entry from the dead letter queue
func (d *DeadLetterQueue) Delete(ctx context.Context, messageID string) error {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Delete")
	defer span.End()

	count, err := d.client.Redis().XDel(ctx, d.streamName, messageID).Result()
	if err != nil {
		return fmt.Errorf("failed to delete DLQ entry: %w", err)
	}
	if count == 0 {
		return ErrDLQEntryNotFound
	}

	d.logger.Info("Deleted DLQ entry", zap.String("message_id", messageID))
	return nil
}

// Count returns the number of entries in the DLQ
func (d *DeadLetterQueue) Count(ctx context.Context) (int64, error) {
	return d.client.Redis().XLen(ctx, d.streamName).Result()
}

// Retry re-enqueues an entry's original wake-up and removes the entry
func (d *DeadLetterQueue) Retry(ctx context.Context, messageID string, streams *Streams, queueName string) error {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Retry")
	defer span.End()

	entry, err := d.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if entry.OriginalWake == nil {
		return fmt.Errorf("DLQ entry %s has no wake-up to retry", messageID)
	}

	wake := *entry.OriginalWake
	wake.ID = ""
	wake.CreatedAt = time.Time{}
	wake.TraceParent = tracing.GetTraceParent(ctx)
	if _, err := streams.Publish(ctx, queueName, &wake); err != nil {
		return fmt.Errorf("failed to re-enqueue wake-up: %w", err)
	}

	if err := d.Delete(ctx, messageID); err != nil {
		d.logger.Warn("Failed to delete DLQ entry after retry", zap.String("message_id", messageID), zap.Error(err))
	}

	d.logger.Info("Retried DLQ entry",
		zap.String("message_id", messageID),
		zap.String("conversation_id", entry.ConversationID),
		zap.Int("round", entry.Round))
	return nil
}

func decodeDLQEntry(msg redis.XMessage) (*DLQEntry, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid DLQ entry format")
	}

	var entry DLQEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DLQ entry: %w", err)
	}
	entry.MessageID = msg.ID
	return &entry, nil
}
