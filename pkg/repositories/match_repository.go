package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/wingfox/pkg/database"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

const matchesTable = "matches"

var matchStruct = database.NewStruct(new(models.Match))

// MatchRepository handles database operations for matches
type MatchRepository struct {
	*Repository
}

// NewMatchRepository creates a new match repository
func NewMatchRepository(db database.DB, logger ectologger.Logger) *MatchRepository {
	return &MatchRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create inserts a match, normalising the user order first
func (r *MatchRepository) Create(ctx context.Context, match *models.Match) error {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.Create")
	defer span.End()

	if match.ID == uuid.Nil {
		match.ID = uuid.New()
	}
	if match.Status == "" {
		match.Status = models.MatchStatusPending
	}
	match.UserA, match.UserB = models.OrderPair(match.UserA, match.UserB)

	ib := database.NewInsertBuilder()
	ib.InsertInto(matchesTable).
		Cols("id", "user_a", "user_b", "profile_score", "status", "created_at", "updated_at").
		Values(match.ID, match.UserA, match.UserB, match.ProfileScore, match.Status, database.Now(), database.Now()).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.conn(ctx).QueryRowxContext(ctx, query, args...).Scan(&match.CreatedAt, &match.UpdatedAt)
	if err != nil {
		r.log(ctx).WithError(err).WithFields(map[string]any{
			"match_id": match.ID,
		}).Error("failed to create match")
		return Internal("failed to create match", err)
	}

	r.log(ctx).WithFields(map[string]any{
		"match_id": match.ID,
	}).Debugf("Created %s", matchesTable)
	return nil
}

// GetByID retrieves a match by ID
func (r *MatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.GetByID")
	defer span.End()

	sb := matchStruct.SelectFrom(matchesTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var match models.Match
	err := r.conn(ctx).GetContext(ctx, &match, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("match %s does not exist", id)
	}
	if err != nil {
		r.log(ctx).WithError(err).WithFields(map[string]any{
			"match_id": id,
		}).Error("failed to get match")
		return nil, Internal("failed to get match", err)
	}
	return &match, nil
}

// ListPairs returns every existing (user_a, user_b) pair
func (r *MatchRepository) ListPairs(ctx context.Context) ([][2]uuid.UUID, error) {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.ListPairs")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("user_a", "user_b").From(matchesTable)

	query, args := sb.Build()
	rows, err := r.conn(ctx).QueryxContext(ctx, query, args...)
	if err != nil {
		r.log(ctx).WithError(err).Error("failed to list match pairs")
		return nil, Internal("failed to list match pairs", err)
	}
	defer rows.Close()

	var pairs [][2]uuid.UUID
	for rows.Next() {
		var pair [2]uuid.UUID
		if err := rows.Scan(&pair[0], &pair[1]); err != nil {
			return nil, Internal("failed to scan match pair", err)
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, Internal("failed to list match pairs", err)
	}
	return pairs, nil
}

// UpdateStatus moves a match forward. Backward or terminal-to-terminal moves are rejected
// with a conflict; only Reset may move a match back.
func (r *MatchRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.MatchStatus) error {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.UpdateStatus")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("status").From(matchesTable).Where(sb.Equal("id", id))

	query, args := sb.Build()
	var current models.MatchStatus
	err := r.conn(ctx).GetContext(ctx, &current, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound("match %s does not exist", id)
	}
	if err != nil {
		return Internal("failed to read match status", err)
	}
	if current == status {
		return nil
	}
	if !current.CanTransitionTo(status) {
		return Conflict("match %s cannot move from %s to %s", id, current, status)
	}

	ub := database.NewUpdateBuilder()
	ub.Update(matchesTable).
		Set(ub.Assign("status", status), ub.Assign("updated_at", database.Now())).
		Where(ub.Equal("id", id), ub.Equal("status", current))

	query, args = ub.Build()
	result, err := r.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.log(ctx).WithError(err).WithFields(map[string]any{
			"match_id": id,
		}).Error("failed to update match status")
		return Internal("failed to update match status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return Internal("failed to update match status", err)
	}
	if rows == 0 {
		return Conflict("match %s changed status concurrently", id)
	}

	r.log(ctx).WithFields(map[string]any{
		"match_id": id,
		"status":   status,
	}).Debug("Updated match status")
	return nil
}

// UpdateScores writes the scoring fields of a match. Nil profile or conversation scores keep
// the stored value.
func (r *MatchRepository) UpdateScores(ctx context.Context, id uuid.UUID, update models.MatchScoreUpdate) error {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.UpdateScores")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(matchesTable).
		Set(
			ub.Coalesce("profile_score", update.ProfileScore),
			ub.Coalesce("conversation_score", update.ConversationScore),
			ub.Assign("final_score", update.FinalScore),
			ub.Assign("layer_scores", database.NewJSONB(update.LayerScores)),
			ub.Assign("updated_at", database.Now()),
		).
		Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.log(ctx).WithError(err).WithFields(map[string]any{
			"match_id": id,
		}).Error("failed to update match scores")
		return Internal("failed to update match scores", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return Internal("failed to update match scores", err)
	}
	if rows == 0 {
		return NotFound("match %s does not exist", id)
	}
	return nil
}

// Reset moves a terminal match back to conversation_pending and clears conversation results
func (r *MatchRepository) Reset(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.Reset")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(matchesTable).
		Set(
			ub.Assign("status", models.MatchStatusConversationPending),
			ub.Assign("conversation_score", nil),
			ub.Assign("updated_at", database.Now()),
		).
		Where(ub.Equal("id", id), ub.In("status", models.MatchStatusCompleted, models.MatchStatusFailed))

	query, args := ub.Build()
	result, err := r.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.log(ctx).WithError(err).WithFields(map[string]any{
			"match_id": id,
		}).Error("failed to reset match")
		return Internal("failed to reset match", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return Internal("failed to reset match", err)
	}
	if rows == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return Conflict("match %s is not in a terminal state", id)
	}

	r.log(ctx).WithFields(map[string]any{
		"match_id": id,
	}).Info("Reset match")
	return nil
}
