package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/wingfox/pkg/database"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

const (
	conversationsTable     = "conversations"
	conversationTurnsTable = "conversation_turns"
)

var (
	conversationStruct = database.NewStruct(new(models.Conversation))
	turnStruct         = database.NewStruct(new(models.Turn))
)

// ConversationRepository handles database operations for conversations and their turns
type ConversationRepository struct {
	*Repository
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db database.DB, logger ectologger.Logger) *ConversationRepository {
	return &ConversationRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create inserts a pending conversation
func (r *ConversationRepository) Create(ctx context.Context, conversation *models.Conversation) error {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.Create")
	defer span.End()

	if conversation.ID == uuid.Nil {
		conversation.ID = uuid.New()
	}
	if conversation.Status == "" {
		conversation.Status = models.ConversationStatusPending
	}
	conversation.CurrentRound = 0

	ib := database.NewInsertBuilder()
	ib.InsertInto(conversationsTable).
		Cols("id", "match_id", "status", "current_round", "total_rounds", "created_at", "updated_at").
		Values(conversation.ID, conversation.MatchID, conversation.Status, conversation.CurrentRound,
			conversation.TotalRounds, database.Now(), database.Now()).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.conn(ctx).QueryRowxContext(ctx, query, args...).Scan(&conversation.CreatedAt, &conversation.UpdatedAt)
	if err != nil {
		r.log(ctx).WithError(err).WithFields(map[string]any{
			"match_id": conversation.MatchID,
		}).Error("failed to create conversation")
		return Internal("failed to create conversation", err)
	}

	r.log(ctx).WithFields(map[string]any{
		"conversation_id": conversation.ID,
		"match_id":        conversation.MatchID,
	}).Debugf("Created %s", conversationsTable)
	return nil
}

// GetByID retrieves a conversation by ID
func (r *ConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.GetByID")
	defer span.End()

	sb := conversationStruct.SelectFrom(conversationsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var conversation models.Conversation
	err := r.conn(ctx).GetContext(ctx, &conversation, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("conversation %s does not exist", id)
	}
	if err != nil {
		r.log(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": id,
		}).Error("failed to get conversation")
		return nil, Internal("failed to get conversation", err)
	}
	return &conversation, nil
}

// GetByMatchID retrieves the conversation of a match
func (r *ConversationRepository) GetByMatchID(ctx context.Context, matchID uuid.UUID) (*models.Conversation, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.GetByMatchID")
	defer span.End()

	sb := conversationStruct.SelectFrom(conversationsTable)
	sb.Where(sb.Equal("match_id", matchID))

	query, args := sb.Build()
	var conversation models.Conversation
	err := r.conn(ctx).GetContext(ctx, &conversation, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("conversation for match %s does not exist", matchID)
	}
	if err != nil {
		return nil, Internal("failed to get conversation", err)
	}
	return &conversation, nil
}

// GetCurrentRound reads the authoritative round counter
func (r *ConversationRepository) GetCurrentRound(ctx context.Context, id uuid.UUID) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.GetCurrentRound")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("current_round").From(conversationsTable).Where(sb.Equal("id", id))

	query, args := sb.Build()
	var round int
	err := r.conn(ctx).GetContext(ctx, &round, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, NotFound("conversation %s does not exist", id)
	}
	if err != nil {
		return 0, Internal("failed to read current round", err)
	}
	return round, nil
}

// AppendTurn stores a turn and advances current_round to its round number in one
// transaction. The advance only succeeds from round-1, so a duplicate or out-of-order
// write returns a conflict and leaves the record untouched.
func (r *ConversationRepository) AppendTurn(ctx context.Context, turn models.Turn) error {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.AppendTurn")
	defer span.End()

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		ub := database.NewUpdateBuilder()
		ub.Update(conversationsTable).
			Set(ub.Incr("current_round"), ub.Assign("updated_at", database.Now())).
			Where(
				ub.Equal("id", turn.ConversationID),
				ub.Equal("current_round", turn.RoundNumber-1),
				ub.Equal("status", models.ConversationStatusInProgress),
			)

		query, args := ub.Build()
		result, err := r.conn(ctx).ExecContext(ctx, query, args...)
		if err != nil {
			r.log(ctx).WithError(err).WithFields(map[string]any{
				"conversation_id": turn.ConversationID,
			}).Error("failed to advance round")
			return Internal("failed to advance round", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return Internal("failed to advance round", err)
		}
		if rows == 0 {
			return Conflict("conversation %s is not at round %d", turn.ConversationID, turn.RoundNumber-1)
		}

		ib := database.NewInsertBuilder()
		ib.InsertInto(conversationTurnsTable).
			Cols("conversation_id", "round_number", "speaker", "content", "created_at").
			Values(turn.ConversationID, turn.RoundNumber, turn.Speaker, turn.Content, database.Now())

		query, args = ib.Build()
		if _, err = r.conn(ctx).ExecContext(ctx, query, args...); err != nil {
			r.log(ctx).WithError(err).WithFields(map[string]any{
				"conversation_id": turn.ConversationID,
			}).Error("failed to insert turn")
			return Internal("failed to insert turn", err)
		}

		r.log(ctx).WithFields(map[string]any{
			"conversation_id": turn.ConversationID,
			"round":           turn.RoundNumber,
		}).Debug("Appended turn")
		return nil
	})
}

// ListTurns returns the turns of a conversation ordered by round
func (r *ConversationRepository) ListTurns(ctx context.Context, id uuid.UUID) ([]models.Turn, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.ListTurns")
	defer span.End()

	sb := turnStruct.SelectFrom(conversationTurnsTable)
	sb.Where(sb.Equal("conversation_id", id))
	sb.OrderBy("round_number")

	query, args := sb.Build()
	turns := []models.Turn{}
	if err := r.conn(ctx).SelectContext(ctx, &turns, query, args...); err != nil {
		r.log(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": id,
		}).Error("failed to list turns")
		return nil, Internal("failed to list turns", err)
	}
	return turns, nil
}

// UpdateStatus sets the conversation status. Terminal conversations are never changed.
// Entering in_progress stamps started_at once; entering a terminal status stamps completed_at.
func (r *ConversationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConversationStatus) error {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.UpdateStatus")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(conversationsTable).
		Set(ub.Assign("status", status), ub.Assign("updated_at", database.Now()))
	switch {
	case status == models.ConversationStatusInProgress:
		ub.SetMore("started_at = COALESCE(started_at, NOW())")
	case status.IsTerminal():
		ub.SetMore(ub.Assign("completed_at", database.Now()))
	}
	ub.Where(
		ub.Equal("id", id),
		ub.NotIn("status", models.ConversationStatusCompleted, models.ConversationStatusFailed),
	)

	query, args := ub.Build()
	result, err := r.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.log(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": id,
		}).Error("failed to update conversation status")
		return Internal("failed to update conversation status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return Internal("failed to update conversation status", err)
	}
	if rows == 0 {
		return Conflict("conversation %s is missing or already terminal", id)
	}

	r.log(ctx).WithFields(map[string]any{
		"conversation_id": id,
		"status":          status,
	}).Debug("Updated conversation status")
	return nil
}

// ListStale returns conversations in status whose last update is older than olderThan,
// oldest first
func (r *ConversationRepository) ListStale(ctx context.Context, status models.ConversationStatus, olderThan time.Time, limit int) ([]models.Conversation, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.ListStale")
	defer span.End()

	sb := conversationStruct.SelectFrom(conversationsTable)
	sb.Where(sb.Equal("status", status), sb.LessThan("updated_at", olderThan))
	sb.OrderBy("updated_at").Asc()
	sb.Limit(limit)

	query, args := sb.Build()
	conversations := []models.Conversation{}
	if err := r.conn(ctx).SelectContext(ctx, &conversations, query, args...); err != nil {
		r.log(ctx).WithError(err).WithFields(map[string]any{
			"status": status,
		}).Error("failed to list stale conversations")
		return nil, Internal("failed to list stale conversations", err)
	}

	r.log(ctx).WithFields(map[string]any{
		"status": status,
	}).Debugf("Listed %d stale %s", len(conversations), conversationsTable)
	return conversations, nil
}

// DeleteByMatchID removes a match's conversation; turns and actor state cascade
func (r *ConversationRepository) DeleteByMatchID(ctx context.Context, matchID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.DeleteByMatchID")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(conversationsTable).Where(db.Equal("match_id", matchID))

	query, args := db.Build()
	if _, err := r.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.log(ctx).WithError(err).WithFields(map[string]any{
			"match_id": matchID,
		}).Error("failed to delete conversation")
		return Internal("failed to delete conversation", err)
	}
	return nil
}
