package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/wingfox/pkg/context"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/observer"
	"github.com/Ramsey-B/wingfox/pkg/orchestrator"
	"github.com/Ramsey-B/wingfox/pkg/repositories"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

// Initializer starts a pending conversation
type Initializer interface {
	Init(ctx context.Context, conversationID, matchID uuid.UUID, stagger time.Duration) error
}

// ObserverServer serves one observer connection until it closes
type ObserverServer interface {
	Serve(ctx context.Context, conversationID uuid.UUID, conn observer.Conn) error
}

// ConversationHandler handles conversation API requests
type ConversationHandler struct {
	conversations repositories.ConversationRepo
	matches       repositories.MatchRepo
	initializer   Initializer
	observers     ObserverServer
	upgrader      websocket.Upgrader
	logger        *zap.Logger
}

// NewConversationHandler creates a new conversation handler. allowOrigins limits the
// websocket Origin header; "*" accepts any origin.
func NewConversationHandler(
	conversations repositories.ConversationRepo,
	matches repositories.MatchRepo,
	initializer Initializer,
	observers ObserverServer,
	allowOrigins []string,
	logger *zap.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		matches:       matches,
		initializer:   initializer,
		observers:     observers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range allowOrigins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	}
}

// InitConversationRequest is the body of the init endpoint
type InitConversationRequest struct {
	MatchID   uuid.UUID `json:"match_id" validate:"required"`
	StaggerMS int64     `json:"stagger_ms" validate:"min=0,max=86400000"`
}

// InitConversationResponse acknowledges a started conversation
type InitConversationResponse struct {
	ConversationID uuid.UUID                 `json:"conversation_id"`
	Status         models.ConversationStatus `json:"status"`
}

// Init starts the persona conversation
// POST /api/v1/conversations/:id/init
func (h *ConversationHandler) Init(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ConversationHandler.Init")
	defer span.End()

	conversationID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	var req InitConversationRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	stagger := time.Duration(req.StaggerMS) * time.Millisecond
	if err := h.initializer.Init(ctx, conversationID, req.MatchID, stagger); err != nil {
		tracing.RecordError(span, err)
		switch {
		case errors.Is(err, orchestrator.ErrNotPending):
			return statusError(http.StatusConflict, "conversation already started", err)
		case errors.Is(err, orchestrator.ErrDataIntegrity):
			appctx.Logger(ctx, h.logger).Warn("conversation failed to initialise", zap.Error(err))
			return statusError(http.StatusUnprocessableEntity, "conversation cannot start", err)
		}
		return err
	}

	return AcceptedResponse(c, InitConversationResponse{
		ConversationID: conversationID,
		Status:         models.ConversationStatusInProgress,
	})
}

// Get returns a conversation with its turns to one of its participants
// GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ConversationHandler.Get")
	defer span.End()

	conversationID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	conv, err := h.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	match, err := h.matches.GetByID(ctx, conv.MatchID)
	if err != nil {
		return err
	}
	if !isParticipant(match, userID) {
		return Forbidden("not a participant of this conversation")
	}

	turns, err := h.conversations.ListTurns(ctx, conversationID)
	if err != nil {
		return err
	}
	conv.Turns = turns
	return SuccessResponse(c, conv)
}

// Observe upgrades to the observer websocket. Authentication happens on the socket with an
// auth message, so this route sits outside the bearer middleware.
// GET /api/v1/conversations/:id/ws
func (h *ConversationHandler) Observe(c echo.Context) error {
	conversationID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already wrote the error response
		appctx.Logger(c.Request().Context(), h.logger).Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}

	if err := h.observers.Serve(c.Request().Context(), conversationID, conn); err != nil {
		appctx.Logger(c.Request().Context(), h.logger).Debug("observer connection ended", zap.Error(err))
	}
	return nil
}

func isParticipant(match *models.Match, userID string) bool {
	id, err := uuid.Parse(userID)
	if err != nil {
		return false
	}
	return match.HasUser(id)
}

// RegisterRoutes registers the authenticated conversation routes
func (h *ConversationHandler) RegisterRoutes(g *echo.Group) {
	conversations := g.Group("/conversations")
	conversations.POST("/:id/init", h.Init)
	conversations.GET("/:id", h.Get)
}

// RegisterObserverRoutes registers the websocket route
func (h *ConversationHandler) RegisterObserverRoutes(g *echo.Group) {
	g.GET("/conversations/:id/ws", h.Observe)
}
