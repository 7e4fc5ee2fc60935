package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/wingfox/pkg/database"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

const featureScoresTable = "feature_scores"

var featureScoreStruct = database.NewStruct(new(models.FeatureScore))

// FeatureScoreRepository handles database operations for per-phase feature scores
type FeatureScoreRepository struct {
	*Repository
}

// NewFeatureScoreRepository creates a new feature score repository
func NewFeatureScoreRepository(db database.DB, logger ectologger.Logger) *FeatureScoreRepository {
	return &FeatureScoreRepository{
		Repository: NewRepository(db, logger),
	}
}

// Upsert writes scores keyed by (match, feature, phase). A later write for the same key replaces
// the earlier one, so re-running a phase never duplicates rows.
func (r *FeatureScoreRepository) Upsert(ctx context.Context, scores []models.FeatureScore) error {
	ctx, span := tracing.StartSpan(ctx, "FeatureScoreRepository.Upsert")
	defer span.End()

	if len(scores) == 0 {
		return nil
	}

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		for _, score := range scores {
			query, args := upsertFeatureScoreQuery(score)
			if _, err := r.conn(ctx).ExecContext(ctx, query, args...); err != nil {
				r.log(ctx).WithError(err).WithFields(map[string]any{
					"match_id":   score.MatchID,
					"feature_id": score.FeatureID,
					"phase":      score.SourcePhase,
				}).Error("failed to upsert feature score")
				return Internal("failed to upsert feature score", err)
			}
		}

		r.log(ctx).WithFields(map[string]any{
			"match_id": scores[0].MatchID,
			"count":    len(scores),
		}).Debugf("Upserted %s", featureScoresTable)
		return nil
	})
}

func upsertFeatureScoreQuery(score models.FeatureScore) (string, []any) {
	evidence := score.Evidence
	if evidence.Data == nil {
		evidence = database.NewJSONB(models.Evidence{})
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(featureScoresTable).
		Cols("match_id", "feature_id", "raw_score", "normalized_score", "confidence", "evidence",
			"source_phase", "created_at", "updated_at").
		Values(score.MatchID, score.FeatureID,
			models.Clamp01(score.RawScore), models.Clamp01(score.NormalizedScore), models.Clamp01(score.Confidence),
			evidence, score.SourcePhase, database.Now(), database.Now())

	ub := ib.OnConflict("match_id", "feature_id", "source_phase")
	ub.Set(
		ub.Assign("raw_score", database.Excluded("raw_score")),
		ub.Assign("normalized_score", database.Excluded("normalized_score")),
		ub.Assign("confidence", database.Excluded("confidence")),
		ub.Assign("evidence", database.Excluded("evidence")),
		ub.Assign("updated_at", database.Now()),
	)

	return ib.Build()
}

// ListByMatch returns every stored score of a match across phases
func (r *FeatureScoreRepository) ListByMatch(ctx context.Context, matchID uuid.UUID) ([]models.FeatureScore, error) {
	ctx, span := tracing.StartSpan(ctx, "FeatureScoreRepository.ListByMatch")
	defer span.End()

	sb := featureScoreStruct.SelectFrom(featureScoresTable)
	sb.Where(sb.Equal("match_id", matchID))
	sb.OrderBy("feature_id", "source_phase")

	query, args := sb.Build()
	scores := []models.FeatureScore{}
	if err := r.conn(ctx).SelectContext(ctx, &scores, query, args...); err != nil {
		r.log(ctx).WithError(err).WithFields(map[string]any{
			"match_id": matchID,
		}).Error("failed to list feature scores")
		return nil, Internal("failed to list feature scores", err)
	}
	return scores, nil
}

// CountByPhase counts the stored scores of one phase for a match
func (r *FeatureScoreRepository) CountByPhase(ctx context.Context, matchID uuid.UUID, phase models.Phase) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "FeatureScoreRepository.CountByPhase")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)").From(featureScoresTable).
		Where(sb.Equal("match_id", matchID), sb.Equal("source_phase", phase))

	query, args := sb.Build()
	var count int
	if err := r.conn(ctx).GetContext(ctx, &count, query, args...); err != nil {
		return 0, Internal("failed to count feature scores", err)
	}
	return count, nil
}
