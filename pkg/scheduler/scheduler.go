package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/pkg/metrics"
	"github.com/Ramsey-B/wingfox/pkg/redis"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

var (
	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	// DefaultPollInterval is the default interval between release cycles
	DefaultPollInterval = time.Second

	// DefaultBatchSize is the number of due timers released per cycle
	DefaultBatchSize = 100
)

// Config holds configuration for the scheduler
type Config struct {
	// PollInterval is how often to look for due timers
	PollInterval time.Duration

	// BatchSize is the maximum number of timers released per cycle
	BatchSize int64

	// WakeQueue is the Redis Streams mailbox wake-ups are published to
	WakeQueue string
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		BatchSize:    DefaultBatchSize,
		WakeQueue:    "wingfox:wakeups",
	}
}

// Scheduler moves due wake-up timers into the wake-up stream. Each timer is claimed
// with ZREM before it is published, so with several instances polling the same set a
// timer is released exactly once.
type Scheduler struct {
	timers  *redis.Timers
	streams *redis.Streams
	config  Config
	logger  *zap.Logger
	now     func() time.Time

	*loop
}

// NewScheduler creates a new scheduler
func NewScheduler(timers *redis.Timers, streams *redis.Streams, config Config, logger *zap.Logger) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.WakeQueue == "" {
		config.WakeQueue = "wingfox:wakeups"
	}

	s := &Scheduler{
		timers:  timers,
		streams: streams,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
	s.loop = newLoop("scheduler", config.PollInterval, logger, func(ctx context.Context) {
		if _, err := s.ReleaseDue(ctx); err != nil {
			s.logger.Error("Failed to release due wake-ups", zap.Error(err))
		}
	})
	return s
}

// ReleaseDue publishes every timer that is due now and returns how many were released
func (s *Scheduler) ReleaseDue(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.ReleaseDue")
	defer span.End()

	due, err := s.timers.Due(ctx, s.now(), s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, timer := range due {
		claimed, err := s.timers.Claim(ctx, timer.Member)
		if err != nil {
			s.logger.Warn("Failed to claim timer", zap.String("member", timer.Member), zap.Error(err))
			continue
		}
		if !claimed {
			// another instance got it
			continue
		}

		wake := &redis.WakeMessage{
			ConversationID: timer.ConversationID,
			Round:          timer.Round,
			TraceParent:    tracing.GetTraceParent(ctx),
		}
		if _, err := s.streams.Publish(ctx, s.config.WakeQueue, wake); err != nil {
			// put it back so the wake-up is not lost
			if rerr := s.timers.Schedule(ctx, timer.ConversationID, timer.Round, timer.DueAt); rerr != nil {
				s.logger.Error("Failed to restore timer after publish error",
					zap.String("member", timer.Member), zap.Error(rerr))
			}
			return released, err
		}
		released++
		metrics.SchedulerWakeupsReleased.Inc()
	}

	if released > 0 {
		s.logger.Debug("Released due wake-ups", zap.Int("count", released))
	}
	return released, nil
}

// loop runs a cycle immediately and then every interval until stopped
type loop struct {
	name     string
	interval time.Duration
	cycle    func(ctx context.Context)
	logger   *zap.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

func newLoop(name string, interval time.Duration, logger *zap.Logger, cycle func(ctx context.Context)) *loop {
	return &loop{
		name:     name,
		interval: interval,
		cycle:    cycle,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

// Start starts the polling loop
func (l *loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	l.running = true
	l.mu.Unlock()

	l.logger.Info("Starting "+l.name, zap.Duration("interval", l.interval))
	go l.run(ctx)
	return nil
}

// Stop stops the loop and waits for the running cycle
func (l *loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	l.mu.Unlock()

	close(l.stopCh)

	select {
	case <-l.stoppedC:
		l.logger.Info("Stopped " + l.name)
	case <-ctx.Done():
		l.logger.Warn(l.name + " shutdown timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the loop is running
func (l *loop) IsRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

func (l *loop) run(ctx context.Context) {
	defer close(l.stoppedC)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.cycle(ctx)

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cycle(ctx)
		}
	}
}
