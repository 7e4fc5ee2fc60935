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

const actorStatesTable = "conversation_actor_states"

// ActorStateRepository persists the resumable state of conversation actors
type ActorStateRepository struct {
	*Repository
}

// NewActorStateRepository creates a new actor state repository
func NewActorStateRepository(db database.DB, logger ectologger.Logger) *ActorStateRepository {
	return &ActorStateRepository{
		Repository: NewRepository(db, logger),
	}
}

// Save replaces the stored state of a conversation
func (r *ActorStateRepository) Save(ctx context.Context, state *models.ConversationActorState) error {
	ctx, span := tracing.StartSpan(ctx, "ActorStateRepository.Save")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(actorStatesTable).
		Cols("conversation_id", "state", "updated_at").
		Values(state.ConversationID, database.NewJSONB(state), database.Now())
	ub := ib.OnConflict("conversation_id")
	ub.Set(ub.Assign("state", database.Excluded("state")), ub.Assign("updated_at", database.Now()))
	ib.Returning("updated_at")

	query, args := ib.Build()
	if err := r.conn(ctx).QueryRowxContext(ctx, query, args...).Scan(&state.UpdatedAt); err != nil {
		r.log(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": state.ConversationID,
		}).Error("failed to save actor state")
		return Internal("failed to save actor state", err)
	}
	return nil
}

// Get loads the stored state of a conversation
func (r *ActorStateRepository) Get(ctx context.Context, conversationID uuid.UUID) (*models.ConversationActorState, error) {
	ctx, span := tracing.StartSpan(ctx, "ActorStateRepository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("state").From(actorStatesTable).Where(sb.Equal("conversation_id", conversationID))

	query, args := sb.Build()
	var state database.JSONB[*models.ConversationActorState]
	err := r.conn(ctx).QueryRowxContext(ctx, query, args...).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("actor state for conversation %s does not exist", conversationID)
	}
	if err != nil {
		r.log(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": conversationID,
		}).Error("failed to load actor state")
		return nil, Internal("failed to load actor state", err)
	}
	if state.Data == nil {
		return nil, NotFound("actor state for conversation %s is empty", conversationID)
	}
	return state.Data, nil
}
