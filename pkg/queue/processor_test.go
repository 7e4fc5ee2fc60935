package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/queue"
	"github.com/Ramsey-B/wingfox/pkg/redis"
)

type fixture struct {
	mr      *miniredis.Miniredis
	streams *redis.Streams
	dlq     *redis.DeadLetterQueue
	config  queue.ProcessorConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := redis.NewClientFromRedis(rdb, zap.NewNop())

	return &fixture{
		mr:      mr,
		streams: redis.NewStreams(client),
		dlq:     redis.NewDeadLetterQueue(client, "", zap.NewNop()),
		config: queue.ProcessorConfig{
			Stream:        "wakeups",
			ConsumerGroup: "actors",
			ConsumerName:  "test",
			BlockTimeout:  20 * time.Millisecond,
			ClaimInterval: 20 * time.Millisecond,
			ClaimMinIdle:  time.Millisecond,
			MaxDeliveries: 2,
			WorkerCount:   2,
		},
	}
}

func (f *fixture) start(t *testing.T, handler queue.WakeHandler) {
	t.Helper()
	p := queue.NewProcessor(f.streams, f.dlq, handler, f.config, zap.NewNop())
	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), queue.ErrProcessorRunning)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, p.Stop(ctx))
	})
}

// pending returns the number of unacknowledged wake-ups, or -1 on error
func (f *fixture) pending() int {
	pending, err := f.streams.Pending(context.Background(), f.config.Stream, f.config.ConsumerGroup, 100)
	if err != nil {
		return -1
	}
	return len(pending)
}

func TestProcessor_DeliversAndAcks(t *testing.T) {
	f := newFixture(t)

	var (
		mu  sync.Mutex
		got []redis.WakeMessage
	)
	f.start(t, queue.WakeHandlerFunc(func(ctx context.Context, wake redis.WakeMessage) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, wake)
		return nil
	}))

	convID := uuid.New()
	_, err := f.streams.Publish(context.Background(), f.config.Stream, &redis.WakeMessage{ConversationID: convID, Round: 2})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, convID, got[0].ConversationID)
	assert.Equal(t, 2, got[0].Round)
	mu.Unlock()

	require.Eventually(t, func() bool { return f.pending() == 0 }, time.Second, 10*time.Millisecond)
}

func TestProcessor_InvalidMessageGoesToDLQ(t *testing.T) {
	f := newFixture(t)
	f.start(t, queue.WakeHandlerFunc(func(context.Context, redis.WakeMessage) error {
		t.Error("handler must not see invalid messages")
		return nil
	}))

	_, err := f.mr.XAdd(f.config.Stream, "*", []string{"data", `{"round":0}`})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := f.dlq.Count(context.Background())
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := f.dlq.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.DLQReasonInvalidMessage, entries[0].Reason)
	assert.Equal(t, `{"round":0}`, entries[0].RawPayload)
	assert.Equal(t, 0, f.pending())
}

func TestProcessor_RedeliversThenDeadLetters(t *testing.T) {
	f := newFixture(t)

	var (
		mu    sync.Mutex
		calls int
	)
	f.start(t, queue.WakeHandlerFunc(func(context.Context, redis.WakeMessage) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("database unavailable")
	}))

	convID := uuid.New()
	_, err := f.streams.Publish(context.Background(), f.config.Stream, &redis.WakeMessage{ConversationID: convID, Round: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := f.dlq.Count(context.Background())
		return err == nil && n == 1
	}, 3*time.Second, 10*time.Millisecond)

	entries, err := f.dlq.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.DLQReasonMaxRetries, entries[0].Reason)
	assert.Equal(t, convID.String(), entries[0].ConversationID)
	require.NotNil(t, entries[0].OriginalWake)

	mu.Lock()
	assert.GreaterOrEqual(t, calls, 2)
	mu.Unlock()
	assert.Equal(t, 0, f.pending())
}
