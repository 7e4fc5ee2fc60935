package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appctx "github.com/Ramsey-B/wingfox/pkg/context"
	"github.com/Ramsey-B/wingfox/pkg/kafka"
	"github.com/Ramsey-B/wingfox/pkg/metrics"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/repositories"
	"github.com/Ramsey-B/wingfox/pkg/scoring"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

// ErrBatchRunning is returned when a batch is started while another one is in flight
var ErrBatchRunning = errors.New("batch already running")

// Initializer starts the conversation of a freshly created match
type Initializer interface {
	Init(ctx context.Context, conversationID, matchID uuid.UUID, stagger time.Duration) error
}

// ProfileScorer persists precomputed profile scores for a match
type ProfileScorer interface {
	ApplyProfileScores(ctx context.Context, matchID uuid.UUID, scores []models.FeatureScore) (*scoring.Evaluation, error)
}

// BatchOptions controls one matching cycle
type BatchOptions struct {
	MaxPerUser int `json:"max_per_user" validate:"required,min=1,max=20"`
	// Stagger is added per created match before its first round
	Stagger     time.Duration `json:"stagger"`
	TotalRounds int           `json:"total_rounds"`
	Concurrency int           `json:"concurrency"`
}

// BatchResult summarises one matching cycle
type BatchResult struct {
	Users      int         `json:"users"`
	Candidates int         `json:"candidates"`
	Steps      []Step      `json:"steps"`
	Selected   int         `json:"selected"`
	Created    int         `json:"created"`
	InitFailed int         `json:"init_failed"`
	MatchIDs   []uuid.UUID `json:"match_ids"`
}

// BatchRunner runs the daily matching cycle
type BatchRunner struct {
	tx            scoring.Transactor
	profiles      repositories.ProfileRepo
	blocks        repositories.BlockRepo
	matches       repositories.MatchRepo
	conversations repositories.ConversationRepo
	scorer        ProfileScorer
	initializer   Initializer
	events        kafka.EventPublisher
	logger        *zap.Logger

	running chan struct{}
}

// NewBatchRunner creates a batch runner
func NewBatchRunner(
	tx scoring.Transactor,
	profiles repositories.ProfileRepo,
	blocks repositories.BlockRepo,
	matches repositories.MatchRepo,
	conversations repositories.ConversationRepo,
	scorer ProfileScorer,
	initializer Initializer,
	events kafka.EventPublisher,
	logger *zap.Logger,
) *BatchRunner {
	if events == nil {
		events = kafka.NoopPublisher{}
	}
	return &BatchRunner{
		tx:            tx,
		profiles:      profiles,
		blocks:        blocks,
		matches:       matches,
		conversations: conversations,
		scorer:        scorer,
		initializer:   initializer,
		events:        events,
		logger:        logger,
		running:       make(chan struct{}, 1),
	}
}

// Run executes one matching cycle. Only one cycle runs per runner at a time.
func (r *BatchRunner) Run(ctx context.Context, opts BatchOptions) (*BatchResult, error) {
	select {
	case r.running <- struct{}{}:
		defer func() { <-r.running }()
	default:
		return nil, ErrBatchRunning
	}

	ctx, span := tracing.StartSpan(ctx, "allocation.BatchRunner.Run")
	defer span.End()

	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.TotalRounds <= 0 {
		opts.TotalRounds = 5
	}
	logger := appctx.Logger(ctx, r.logger)

	profiles, err := r.profiles.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active profiles: %w", err)
	}
	result := &BatchResult{Users: len(profiles), MatchIDs: []uuid.UUID{}}
	if len(profiles) < 2 {
		logger.Info("not enough active users for a batch", zap.Int("users", len(profiles)))
		return result, nil
	}

	byUser := make(map[uuid.UUID]*models.Profile, len(profiles))
	for i := range profiles {
		byUser[profiles[i].UserID] = &profiles[i]
	}

	var pairs []CandidatePair
	for i := 0; i < len(profiles); i++ {
		for j := i + 1; j < len(profiles); j++ {
			pairs = append(pairs, NewCandidatePair(profiles[i].UserID, profiles[j].UserID, 0))
		}
	}

	existing, err := r.matches.ListPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list existing matches: %w", err)
	}
	blocks, err := r.blocks.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}

	candidates, steps := FilterCandidates(pairs, existing, blocks, byUser)
	result.Steps = steps
	result.Candidates = len(candidates)
	for _, step := range steps {
		logger.Debug("candidate filter applied",
			zap.String("filter", step.Name),
			zap.Int("initial", step.Initial),
			zap.Int("dropped", step.Dropped),
			zap.Int("left", step.Left))
	}

	if err := scoreCandidates(ctx, candidates, byUser, opts.Concurrency); err != nil {
		return nil, err
	}

	selected := Allocate(candidates, opts.MaxPerUser)
	result.Selected = len(selected)

	for i, pair := range selected {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		conversationID, err := r.createMatch(ctx, pair, opts.TotalRounds)
		if err != nil {
			logger.Error("failed to create match",
				zap.Stringer("user_a", pair.UserA),
				zap.Stringer("user_b", pair.UserB),
				zap.Error(err))
			continue
		}
		result.Created++
		result.MatchIDs = append(result.MatchIDs, pair.MatchID)
		metrics.MatchesAllocated.Inc()

		stagger := time.Duration(i) * opts.Stagger
		if err := r.initializer.Init(ctx, conversationID, pair.MatchID, stagger); err != nil {
			result.InitFailed++
			logger.Warn("failed to start conversation",
				zap.Stringer("match_id", pair.MatchID),
				zap.Stringer("conversation_id", conversationID),
				zap.Error(err))
		}
	}

	logger.Info("batch matching finished",
		zap.Int("users", result.Users),
		zap.Int("candidates", result.Candidates),
		zap.Int("selected", result.Selected),
		zap.Int("created", result.Created),
		zap.Int("init_failed", result.InitFailed))
	return result, nil
}

// scoreCandidates fills the profile score of every candidate in place
func scoreCandidates(ctx context.Context, candidates []CandidatePair, profiles map[uuid.UUID]*models.Profile, limit int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pair := &candidates[i]
			pair.MatchID = uuid.New()
			scores, eval := scoring.ProfileScore(pair.MatchID, profiles[pair.UserA], profiles[pair.UserB])
			pair.FeatureScores = scores
			pair.Evaluation = &eval
			pair.Score = float64(eval.FinalScore)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("score candidates: %w", err)
	}
	return nil
}

func (r *BatchRunner) createMatch(ctx context.Context, pair CandidatePair, totalRounds int) (uuid.UUID, error) {
	profileScore := pair.Score
	match := &models.Match{
		ID:           pair.MatchID,
		UserA:        pair.UserA,
		UserB:        pair.UserB,
		ProfileScore: &profileScore,
		Status:       models.MatchStatusConversationPending,
	}
	conversation := &models.Conversation{
		MatchID:     pair.MatchID,
		Status:      models.ConversationStatusPending,
		TotalRounds: totalRounds,
	}

	err := r.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := r.matches.Create(ctx, match); err != nil {
			return err
		}
		if err := r.conversations.Create(ctx, conversation); err != nil {
			return err
		}
		_, err := r.scorer.ApplyProfileScores(ctx, match.ID, pair.FeatureScores)
		return err
	})
	if err != nil {
		return uuid.Nil, err
	}

	if err := r.events.PublishEvent(ctx, &kafka.EventMessage{
		Type:           kafka.EventMatchCreated,
		MatchID:        match.ID.String(),
		ConversationID: conversation.ID.String(),
		Status:         string(match.Status),
	}); err != nil {
		appctx.Logger(ctx, r.logger).Warn("failed to publish match created event",
			zap.Stringer("match_id", match.ID), zap.Error(err))
	}
	return conversation.ID, nil
}
