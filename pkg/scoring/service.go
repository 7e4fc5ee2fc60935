package scoring

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/wingfox/pkg/context"
	"github.com/Ramsey-B/wingfox/pkg/features"
	"github.com/Ramsey-B/wingfox/pkg/kafka"
	"github.com/Ramsey-B/wingfox/pkg/metrics"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/repositories"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

// ErrUnknownFeature is returned when a score references a feature outside the catalog
var ErrUnknownFeature = errors.New("unknown feature")

// Transactor runs fn inside a single database transaction
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service persists feature scores and is the only writer of match scoring fields
type Service struct {
	tx       Transactor
	scores   repositories.FeatureScoreRepo
	matches  repositories.MatchRepo
	profiles repositories.ProfileRepo
	events   kafka.EventPublisher
	logger   *zap.Logger
}

// NewService creates a scoring service
func NewService(
	tx Transactor,
	scores repositories.FeatureScoreRepo,
	matches repositories.MatchRepo,
	profiles repositories.ProfileRepo,
	events kafka.EventPublisher,
	logger *zap.Logger,
) *Service {
	if events == nil {
		events = kafka.NoopPublisher{}
	}
	return &Service{
		tx:       tx,
		scores:   scores,
		matches:  matches,
		profiles: profiles,
		events:   events,
		logger:   logger,
	}
}

// LoadFeatureScores returns the best score per feature across every phase
func (s *Service) LoadFeatureScores(ctx context.Context, matchID uuid.UUID) (map[int]models.FeatureScore, error) {
	ctx, span := tracing.StartSpan(ctx, "scoring.LoadFeatureScores")
	defer span.End()

	scores, err := s.scores.ListByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return SelectBest(scores), nil
}

// SaveFeatureScores upserts scores keyed by (match, feature, phase)
func (s *Service) SaveFeatureScores(ctx context.Context, scores []models.FeatureScore) error {
	ctx, span := tracing.StartSpan(ctx, "scoring.SaveFeatureScores")
	defer span.End()

	for _, score := range scores {
		if _, ok := features.Get(score.FeatureID); !ok {
			return fmt.Errorf("feature %d: %w", score.FeatureID, ErrUnknownFeature)
		}
	}
	return s.scores.Upsert(ctx, scores)
}

// ProfileScore computes the profile-phase scores of a pair and their evaluation without
// touching storage. Batch runs use it to rank candidates.
func ProfileScore(matchID uuid.UUID, a, b *models.Profile) ([]models.FeatureScore, Evaluation) {
	scores := ComputeProfileFeatureScores(matchID, a, b)
	return scores, Evaluate(BestValues(SelectBest(scores)))
}

// ScoreMatchProfile computes and stores the profile-phase scores of a match together with
// the match scoring fields they produce.
func (s *Service) ScoreMatchProfile(ctx context.Context, match *models.Match) (*Evaluation, error) {
	ctx, span := tracing.StartSpan(ctx, "scoring.ScoreMatchProfile")
	defer span.End()

	profileA, err := s.profiles.Get(ctx, match.UserA)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", match.UserA, err)
	}
	profileB, err := s.profiles.Get(ctx, match.UserB)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", match.UserB, err)
	}

	return s.ApplyProfileScores(ctx, match.ID, ComputeProfileFeatureScores(match.ID, profileA, profileB))
}

// ApplyProfileScores stores already computed profile-phase scores and rewrites the match
// scoring fields from them in one transaction.
func (s *Service) ApplyProfileScores(ctx context.Context, matchID uuid.UUID, scores []models.FeatureScore) (*Evaluation, error) {
	ctx, span := tracing.StartSpan(ctx, "scoring.ApplyProfileScores")
	defer span.End()

	var eval Evaluation
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.SaveFeatureScores(ctx, scores); err != nil {
			return err
		}
		best, err := s.LoadFeatureScores(ctx, matchID)
		if err != nil {
			return err
		}
		eval = Evaluate(BestValues(best))
		profileScore := float64(eval.Layers.FinalScore)
		return s.matches.UpdateScores(ctx, matchID, models.MatchScoreUpdate{
			ProfileScore: &profileScore,
			FinalScore:   eval.FinalScore,
			LayerScores:  eval.LayerScores(),
		})
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	appctx.Logger(ctx, s.logger).Debug("profile scores stored",
		zap.Stringer("match_id", matchID),
		zap.Int("final_score", eval.FinalScore),
		zap.Bool("dealbreaker", eval.Dealbreakers.Triggered))
	return &eval, nil
}

// EnsureProfileScores scores the profile phase only if the match has no profile scores yet.
// It reports whether scores were computed.
func (s *Service) EnsureProfileScores(ctx context.Context, match *models.Match) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "scoring.EnsureProfileScores")
	defer span.End()

	count, err := s.scores.CountByPhase(ctx, match.ID, models.PhaseProfile)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if _, err := s.ScoreMatchProfile(ctx, match); err != nil {
		return false, err
	}
	return true, nil
}

// Recompute reloads the best score per feature and rewrites the match scoring fields.
// conversationScore is stored when not nil.
func (s *Service) Recompute(ctx context.Context, matchID uuid.UUID, conversationScore *float64) (*Evaluation, error) {
	ctx, span := tracing.StartSpan(ctx, "scoring.Recompute")
	defer span.End()

	var eval Evaluation
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		best, err := s.LoadFeatureScores(ctx, matchID)
		if err != nil {
			return err
		}
		eval = Evaluate(BestValues(best))
		return s.matches.UpdateScores(ctx, matchID, models.MatchScoreUpdate{
			ConversationScore: conversationScore,
			FinalScore:        eval.FinalScore,
			LayerScores:       eval.LayerScores(),
		})
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	metrics.RecordFinalScore(eval.FinalScore)
	s.publishScored(ctx, matchID, eval.FinalScore)
	return &eval, nil
}

// StoreFallback writes the blended score used when Recompute failed
func (s *Service) StoreFallback(ctx context.Context, matchID uuid.UUID, conversationScore float64, finalScore int, layers *models.LayerScores) error {
	ctx, span := tracing.StartSpan(ctx, "scoring.StoreFallback")
	defer span.End()

	if layers == nil {
		layers = &models.LayerScores{Layer1: NeutralScore, Layer2: NeutralScore, Layer3: NeutralScore}
	}
	layers.Fallback = true
	if err := s.matches.UpdateScores(ctx, matchID, models.MatchScoreUpdate{
		ConversationScore: &conversationScore,
		FinalScore:        finalScore,
		LayerScores:       layers,
	}); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	metrics.RecordFinalScore(finalScore)
	s.publishScored(ctx, matchID, finalScore)
	return nil
}

func (s *Service) publishScored(ctx context.Context, matchID uuid.UUID, finalScore int) {
	score := finalScore
	if err := s.events.PublishEvent(ctx, &kafka.EventMessage{
		Type:       kafka.EventMatchScored,
		MatchID:    matchID.String(),
		FinalScore: &score,
	}); err != nil {
		appctx.Logger(ctx, s.logger).Warn("failed to publish match scored event",
			zap.Stringer("match_id", matchID), zap.Error(err))
	}
}
