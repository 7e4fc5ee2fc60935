package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTimerKey is the sorted set holding pending wake-ups
const DefaultTimerKey = "wingfox:timers"

// DueTimer is a wake-up whose due time has passed
type DueTimer struct {
	Member         string
	ConversationID uuid.UUID
	Round          int
	DueAt          time.Time
}

// Timers stores durable wake-up timers in a sorted set scored by due time (unix ms).
// The member is "<conversation>:<round>", so scheduling the same round twice only
// moves its due time.
type Timers struct {
	client *Client
	key    string
}

// NewTimers creates a timer store on key
func NewTimers(client *Client, key string) *Timers {
	if key == "" {
		key = DefaultTimerKey
	}
	return &Timers{client: client, key: key}
}

// TimerMember returns the sorted set member for a conversation round
func TimerMember(conversationID uuid.UUID, round int) string {
	return conversationID.String() + ":" + strconv.Itoa(round)
}

// ParseTimerMember splits a member back into conversation and round
func ParseTimerMember(member string) (uuid.UUID, int, error) {
	idx := strings.LastIndex(member, ":")
	if idx < 0 {
		return uuid.Nil, 0, fmt.Errorf("invalid timer member %q", member)
	}
	id, err := uuid.Parse(member[:idx])
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("invalid timer member %q: %w", member, err)
	}
	round, err := strconv.Atoi(member[idx+1:])
	if err != nil || round < 1 {
		return uuid.Nil, 0, fmt.Errorf("invalid timer round in %q", member)
	}
	return id, round, nil
}

// Schedule arranges for round of the conversation to be woken at dueAt
func (t *Timers) Schedule(ctx context.Context, conversationID uuid.UUID, round int, dueAt time.Time) error {
	member := TimerMember(conversationID, round)
	err := t.client.rdb.ZAdd(ctx, t.key, redis.Z{
		Score:  float64(dueAt.UnixMilli()),
		Member: member,
	}).Err()
	if err != nil {
		t.client.logger.Error("Failed to schedule wake-up", zap.String("member", member), zap.Error(err))
		return fmt.Errorf("failed to schedule wake-up: %w", err)
	}

	t.client.logger.Debug("Scheduled wake-up", zap.String("member", member), zap.Time("due_at", dueAt))
	return nil
}

// Due returns up to limit timers due at or before now, earliest first
func (t *Timers) Due(ctx context.Context, now time.Time, limit int64) ([]DueTimer, error) {
	results, err := t.client.rdb.ZRangeByScoreWithScores(ctx, t.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due wake-ups: %w", err)
	}

	timers := make([]DueTimer, 0, len(results))
	for _, z := range results {
		member, _ := z.Member.(string)
		id, round, err := ParseTimerMember(member)
		if err != nil {
			t.client.logger.Warn("Dropping malformed timer", zap.String("member", member), zap.Error(err))
			_ = t.client.rdb.ZRem(ctx, t.key, member).Err()
			continue
		}
		timers = append(timers, DueTimer{
			Member:         member,
			ConversationID: id,
			Round:          round,
			DueAt:          time.UnixMilli(int64(z.Score)),
		})
	}
	return timers, nil
}

// Claim removes a timer. Only the caller that sees true owns the wake-up.
func (t *Timers) Claim(ctx context.Context, member string) (bool, error) {
	removed, err := t.client.rdb.ZRem(ctx, t.key, member).Result()
	if err != nil {
		return false, err
	}
	return removed == 1, nil
}

// Cancel removes every pending timer of a conversation
func (t *Timers) Cancel(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var (
		cursor  uint64
		members []interface{}
	)
	pattern := conversationID.String() + ":*"
	for {
		keys, next, err := t.client.rdb.ZScan(ctx, t.key, cursor, pattern, 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan timers: %w", err)
		}
		// ZSCAN returns member, score pairs
		for i := 0; i < len(keys); i += 2 {
			members = append(members, keys[i])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(members) == 0 {
		return 0, nil
	}

	removed, err := t.client.rdb.ZRem(ctx, t.key, members...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to cancel timers: %w", err)
	}
	return int(removed), nil
}

// Len returns the number of pending timers
func (t *Timers) Len(ctx context.Context) (int64, error) {
	return t.client.rdb.ZCard(ctx, t.key).Result()
}
