package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/pkg/allocation"
	appctx "github.com/Ramsey-B/wingfox/pkg/context"
	"github.com/Ramsey-B/wingfox/pkg/features"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/repositories"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

// ScoreLoader returns the best stored score per feature
type ScoreLoader interface {
	LoadFeatureScores(ctx context.Context, matchID uuid.UUID) (map[int]models.FeatureScore, error)
}

// Resetter restarts the conversation of a finished match
type Resetter interface {
	Reset(ctx context.Context, matchID uuid.UUID) (uuid.UUID, error)
}

// BatchRunner runs a matching cycle
type BatchRunner interface {
	Run(ctx context.Context, opts allocation.BatchOptions) (*allocation.BatchResult, error)
}

// MatchDefaults are applied to batch requests that leave a field out
type MatchDefaults struct {
	StaggerStep time.Duration
	TotalRounds int
	Concurrency int
}

// MatchHandler handles match API requests
type MatchHandler struct {
	matches  repositories.MatchRepo
	scores   ScoreLoader
	resetter Resetter
	batch    BatchRunner
	defaults MatchDefaults
	logger   *zap.Logger
}

// NewMatchHandler creates a new match handler
func NewMatchHandler(
	matches repositories.MatchRepo,
	scores ScoreLoader,
	resetter Resetter,
	batch BatchRunner,
	defaults MatchDefaults,
	logger *zap.Logger,
) *MatchHandler {
	return &MatchHandler{
		matches:  matches,
		scores:   scores,
		resetter: resetter,
		batch:    batch,
		defaults: defaults,
		logger:   logger,
	}
}

// FeatureScoreView is the best score of one feature
type FeatureScoreView struct {
	FeatureID  int             `json:"feature_id"`
	Name       string          `json:"name"`
	Score      float64         `json:"score"`
	Confidence float64         `json:"confidence"`
	Phase      models.Phase    `json:"source_phase"`
	Evidence   models.Evidence `json:"evidence,omitempty"`
}

// MatchResponse is a match with its best feature scores
type MatchResponse struct {
	*models.Match
	FeatureScores []FeatureScoreView `json:"feature_scores"`
}

// Get returns a match to one of its users
// GET /api/v1/matches/:id
func (h *MatchHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MatchHandler.Get")
	defer span.End()

	matchID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	match, err := h.matches.GetByID(ctx, matchID)
	if err != nil {
		return err
	}
	if !isParticipant(match, userID) {
		return Forbidden("not a participant of this match")
	}

	best, err := h.scores.LoadFeatureScores(ctx, matchID)
	if err != nil {
		return err
	}
	views := make([]FeatureScoreView, 0, len(best))
	for id, score := range best {
		views = append(views, FeatureScoreView{
			FeatureID:  id,
			Name:       features.Name(id),
			Score:      score.NormalizedScore,
			Confidence: score.Confidence,
			Phase:      score.SourcePhase,
			Evidence:   score.Evidence.Data,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].FeatureID < views[j].FeatureID })

	return SuccessResponse(c, MatchResponse{Match: match, FeatureScores: views})
}

// Reset restarts the conversation of a completed or failed match
// POST /api/v1/matches/:id/reset
func (h *MatchHandler) Reset(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MatchHandler.Reset")
	defer span.End()

	matchID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	conversationID, err := h.resetter.Reset(ctx, matchID)
	if err != nil {
		tracing.RecordError(span, err)
		if conversationID == uuid.Nil {
			return err
		}
		// the fresh conversation exists but could not start
		appctx.Logger(ctx, h.logger).Warn("reset conversation failed to start", zap.Error(err))
		return statusError(http.StatusUnprocessableEntity, "conversation cannot start", err)
	}

	return AcceptedResponse(c, map[string]any{
		"match_id":        matchID,
		"conversation_id": conversationID,
		"status":          models.MatchStatusConversationInProgress,
	})
}

// BatchRequest is the body of the batch endpoint
type BatchRequest struct {
	MaxPerUser int   `json:"max_per_user" validate:"required,min=1,max=20"`
	StaggerMS  int64 `json:"stagger_ms" validate:"min=0,max=3600000"`
}

// Batch runs one matching cycle
// POST /api/v1/matches/batch
func (h *MatchHandler) Batch(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MatchHandler.Batch")
	defer span.End()

	var req BatchRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	stagger := h.defaults.StaggerStep
	if req.StaggerMS > 0 {
		stagger = time.Duration(req.StaggerMS) * time.Millisecond
	}

	result, err := h.batch.Run(ctx, allocation.BatchOptions{
		MaxPerUser:  req.MaxPerUser,
		Stagger:     stagger,
		TotalRounds: h.defaults.TotalRounds,
		Concurrency: h.defaults.Concurrency,
	})
	if err != nil {
		tracing.RecordError(span, err)
		if errors.Is(err, allocation.ErrBatchRunning) {
			return statusError(http.StatusConflict, "a matching batch is already running", err)
		}
		return err
	}

	return SuccessResponse(c, result)
}

// RegisterRoutes registers the match routes
func (h *MatchHandler) RegisterRoutes(g *echo.Group) {
	matches := g.Group("/matches")
	matches.POST("/batch", h.Batch)
	matches.GET("/:id", h.Get)
	matches.POST("/:id/reset", h.Reset)
}
