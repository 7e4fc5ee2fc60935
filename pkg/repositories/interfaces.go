package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/wingfox/pkg/models"
)

// MatchRepo defines the interface for match repository operations
type MatchRepo interface {
	Create(ctx context.Context, match *models.Match) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Match, error)
	ListPairs(ctx context.Context) ([][2]uuid.UUID, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.MatchStatus) error
	UpdateScores(ctx context.Context, id uuid.UUID, update models.MatchScoreUpdate) error
	Reset(ctx context.Context, id uuid.UUID) error
}

// ConversationRepo defines the interface for conversation repository operations
type ConversationRepo interface {
	Create(ctx context.Context, conversation *models.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	GetByMatchID(ctx context.Context, matchID uuid.UUID) (*models.Conversation, error)
	GetCurrentRound(ctx context.Context, id uuid.UUID) (int, error)
	AppendTurn(ctx context.Context, turn models.Turn) error
	ListTurns(ctx context.Context, id uuid.UUID) ([]models.Turn, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConversationStatus) error
	ListStale(ctx context.Context, status models.ConversationStatus, olderThan time.Time, limit int) ([]models.Conversation, error)
	DeleteByMatchID(ctx context.Context, matchID uuid.UUID) error
}

// FeatureScoreRepo defines the interface for feature score repository operations
type FeatureScoreRepo interface {
	Upsert(ctx context.Context, scores []models.FeatureScore) error
	ListByMatch(ctx context.Context, matchID uuid.UUID) ([]models.FeatureScore, error)
	CountByPhase(ctx context.Context, matchID uuid.UUID, phase models.Phase) (int, error)
}

// ActorStateRepo defines the interface for orchestrator state persistence
type ActorStateRepo interface {
	Save(ctx context.Context, state *models.ConversationActorState) error
	Get(ctx context.Context, conversationID uuid.UUID) (*models.ConversationActorState, error)
}

// PersonaRepo defines the interface for persona lookups
type PersonaRepo interface {
	Get(ctx context.Context, userID uuid.UUID, personaType models.PersonaType) (*models.Persona, error)
}

// ProfileRepo defines the interface for profile lookups
type ProfileRepo interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	ListActive(ctx context.Context) ([]models.Profile, error)
}

// BlockRepo defines the interface for block lookups
type BlockRepo interface {
	ListAll(ctx context.Context) ([]models.Block, error)
}
