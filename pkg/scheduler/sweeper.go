package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/pkg/metrics"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/redis"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

const (
	// SweepLockKey makes only one instance sweep at a time
	SweepLockKey = "sweeper:stale-conversations"

	// StaleReason is recorded on conversations failed by the sweeper
	StaleReason = "conversation stalled"
)

// StaleLister finds conversations that stopped making progress
type StaleLister interface {
	ListStale(ctx context.Context, status models.ConversationStatus, olderThan time.Time, limit int) ([]models.Conversation, error)
}

// ConversationFailer moves a conversation and its match to failed
type ConversationFailer interface {
	FailConversation(ctx context.Context, conversationID uuid.UUID, reason string) error
}

// SweeperConfig holds configuration for the stale conversation sweeper
type SweeperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	LockTTL    time.Duration
}

// Sweeper fails conversations stuck in progress longer than StaleAfter
type Sweeper struct {
	lister StaleLister
	failer ConversationFailer
	locker *redis.Locker
	config SweeperConfig
	logger *zap.Logger
	now    func() time.Time

	*loop
}

// NewSweeper creates a new sweeper
func NewSweeper(lister StaleLister, failer ConversationFailer, locker *redis.Locker, config SweeperConfig, logger *zap.Logger) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 30 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.LockTTL <= 0 {
		config.LockTTL = time.Minute
	}

	s := &Sweeper{
		lister: lister,
		failer: failer,
		locker: locker,
		config: config,
		logger: logger,
		now:    time.Now,
	}
	s.loop = newLoop("sweeper", config.Interval, logger, func(ctx context.Context) {
		if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, redis.ErrLockNotAcquired) {
			s.logger.Error("Stale conversation sweep failed", zap.Error(err))
		}
	})
	return s
}

// Sweep runs one pass and returns how many conversations were failed
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "Sweeper.Sweep")
	defer span.End()

	failed := 0
	err := s.locker.WithLock(ctx, SweepLockKey, s.config.LockTTL, func(ctx context.Context) error {
		stale, err := s.lister.ListStale(ctx, models.ConversationStatusInProgress, s.now().Add(-s.config.StaleAfter), s.config.BatchSize)
		if err != nil {
			return err
		}

		for _, conversation := range stale {
			if err := s.failer.FailConversation(ctx, conversation.ID, StaleReason); err != nil {
				s.logger.Warn("Failed to fail stale conversation",
					zap.Stringer("conversation_id", conversation.ID), zap.Error(err))
				continue
			}
			failed++
			metrics.SweeperConversationsFailed.Inc()
		}
		return nil
	})
	if err != nil {
		return failed, err
	}

	if failed > 0 {
		s.logger.Info("Failed stale conversations", zap.Int("count", failed))
	}
	return failed, nil
}
