package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// WakeMessage asks the actor of a conversation to run one round
type WakeMessage struct {
	ID             string    `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Round          int       `json:"round"`
	CreatedAt      time.Time `json:"created_at"`
	TraceParent    string    `json:"traceparent,omitempty"`
}

// StreamMessage is a wake message read from a stream. Err is set when the
// payload could not be decoded; Raw keeps the payload for the dead letter queue.
type StreamMessage struct {
	ID     string
	Stream string
	Wake   *WakeMessage
	Raw    string
	Err    error
}

// Streams provides Redis Streams operations for the wake-up mailbox
type Streams struct {
	client *Client
}

// NewStreams creates a new Streams instance
func NewStreams(client *Client) *Streams {
	return &Streams{client: client}
}

// Publish adds a wake message to a stream
func (s *Streams) Publish(ctx context.Context, stream string, wake *WakeMessage) (string, error) {
	if wake.ID == "" {
		wake.ID = uuid.New().String()
	}
	if wake.CreatedAt.IsZero() {
		wake.CreatedAt = time.Now()
	}

	payload, err := json.Marshal(wake)
	if err != nil {
		return "", fmt.Errorf("failed to marshal wake message: %w", err)
	}

	result, err := s.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(payload),
		},
	}).Result()
	if err != nil {
		s.client.logger.Error("Failed to publish wake message", zap.String("stream", stream), zap.Error(err))
		return "", err
	}

	s.client.logger.Debug("Published wake message",
		zap.Stringer("conversation_id", wake.ConversationID),
		zap.Int("round", wake.Round),
		zap.String("message_id", result))
	return result, nil
}

// CreateConsumerGroup creates a consumer group for a stream
func (s *Streams) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := s.client.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Consume reads new messages from a stream using a consumer group
func (s *Streams) Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	results, err := s.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []StreamMessage
	for _, result := range results {
		for _, msg := range result.Messages {
			messages = append(messages, decodeStreamMessage(result.Stream, msg))
		}
	}
	return messages, nil
}

// Ack acknowledges messages
func (s *Streams) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return s.client.rdb.XAck(ctx, stream, group, ids...).Err()
}

// Pending returns messages delivered to the group but not yet acknowledged
func (s *Streams) Pending(ctx context.Context, stream, group string, count int64) ([]redis.XPendingExt, error) {
	return s.client.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
}

// Claim takes ownership of pending messages idle for at least minIdle
func (s *Streams) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamMessage, error) {
	results, err := s.client.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]StreamMessage, 0, len(results))
	for _, msg := range results {
		messages = append(messages, decodeStreamMessage(stream, msg))
	}
	return messages, nil
}

// Len returns the length of a stream
func (s *Streams) Len(ctx context.Context, stream string) (int64, error) {
	return s.client.rdb.XLen(ctx, stream).Result()
}

// Range returns messages in a stream between start and end IDs
func (s *Streams) Range(ctx context.Context, stream, start, end string) ([]StreamMessage, error) {
	results, err := s.client.rdb.XRange(ctx, stream, start, end).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]StreamMessage, 0, len(results))
	for _, msg := range results {
		messages = append(messages, decodeStreamMessage(stream, msg))
	}
	return messages, nil
}

func decodeStreamMessage(stream string, msg redis.XMessage) StreamMessage {
	out := StreamMessage{ID: msg.ID, Stream: stream}

	data, ok := msg.Values["data"].(string)
	if !ok {
		out.Err = fmt.Errorf("message %s has no data field", msg.ID)
		return out
	}
	out.Raw = data

	var wake WakeMessage
	if err := json.Unmarshal([]byte(data), &wake); err != nil {
		out.Err = fmt.Errorf("failed to unmarshal message %s: %w", msg.ID, err)
		return out
	}
	if wake.ConversationID == uuid.Nil || wake.Round < 1 {
		out.Err = fmt.Errorf("message %s is not a valid wake-up", msg.ID)
		return out
	}
	out.Wake = &wake
	return out
}
