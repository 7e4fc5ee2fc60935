package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/wingfox/pkg/context"
	"github.com/Ramsey-B/wingfox/pkg/redis"
	"github.com/Ramsey-B/wingfox/pkg/repositories"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

// DLQHandler handles dead letter queue API requests
type DLQHandler struct {
	dlq       *redis.DeadLetterQueue
	streams   *redis.Streams
	wakeQueue string
	logger    *zap.Logger
}

// NewDLQHandler creates a new DLQ handler
func NewDLQHandler(
	dlq *redis.DeadLetterQueue,
	streams *redis.Streams,
	wakeQueue string,
	logger *zap.Logger,
) *DLQHandler {
	return &DLQHandler{
		dlq:       dlq,
		streams:   streams,
		wakeQueue: wakeQueue,
		logger:    logger,
	}
}

// DLQListResponse represents the response for listing DLQ entries
type DLQListResponse struct {
	Entries []redis.DLQEntry `json:"entries"`
	Count   int              `json:"count"`
	Total   int64            `json:"total"`
}

// List returns dead letter queue entries
// GET /api/v1/dlq
func (h *DLQHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "DLQHandler.List")
	defer span.End()

	limit := int64(100)
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if parsed, err := strconv.ParseInt(limitStr, 10, 64); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := h.dlq.List(ctx, limit)
	if err != nil {
		appctx.Logger(ctx, h.logger).Error("Failed to list DLQ entries", zap.Error(err))
		return repositories.Internal("failed to list dead letters", err)
	}

	total, _ := h.dlq.Count(ctx)

	return c.JSON(http.StatusOK, DLQListResponse{
		Entries: entries,
		Count:   len(entries),
		Total:   total,
	})
}

// Get returns a specific DLQ entry
// GET /api/v1/dlq/:id
func (h *DLQHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "DLQHandler.Get")
	defer span.End()
	messageID := c.Param("id")

	entry, err := h.dlq.Get(ctx, messageID)
	if err != nil {
		return h.entryError(c, messageID, err)
	}

	return c.JSON(http.StatusOK, entry)
}

// Retry re-enqueues the wake-up of a DLQ entry
// POST /api/v1/dlq/:id/retry
func (h *DLQHandler) Retry(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "DLQHandler.Retry")
	defer span.End()
	messageID := c.Param("id")

	if _, err := h.dlq.Get(ctx, messageID); err != nil {
		return h.entryError(c, messageID, err)
	}

	if err := h.dlq.Retry(ctx, messageID, h.streams, h.wakeQueue); err != nil {
		appctx.Logger(ctx, h.logger).Error("Failed to retry DLQ entry", zap.Error(err))
		return statusError(http.StatusUnprocessableEntity, "dead letter cannot be retried", err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":  "retried",
		"message": "wake-up re-enqueued",
	})
}

// Delete removes a DLQ entry
// DELETE /api/v1/dlq/:id
func (h *DLQHandler) Delete(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "DLQHandler.Delete")
	defer span.End()
	messageID := c.Param("id")

	if err := h.dlq.Delete(ctx, messageID); err != nil {
		return h.entryError(c, messageID, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// Stats returns DLQ statistics
// GET /api/v1/dlq/stats
func (h *DLQHandler) Stats(c echo.Context) error {
	ctx := c.Request().Context()

	count, err := h.dlq.Count(ctx)
	if err != nil {
		return repositories.Internal("failed to count dead letters", err)
	}

	return c.JSON(http.StatusOK, map[string]int64{
		"total_entries": count,
	})
}

func (h *DLQHandler) entryError(c echo.Context, messageID string, err error) error {
	if errors.Is(err, redis.ErrDLQEntryNotFound) {
		return repositories.NotFound("DLQ entry %s not found", messageID)
	}
	appctx.Logger(c.Request().Context(), h.logger).Error("DLQ operation failed",
		zap.String("message_id", messageID), zap.Error(err))
	return repositories.Internal("dead letter operation failed", err)
}

// RegisterRoutes registers the DLQ routes
func (h *DLQHandler) RegisterRoutes(g *echo.Group) {
	dlq := g.Group("/dlq")
	dlq.GET("", h.List)
	dlq.GET("/stats", h.Stats)
	dlq.GET("/:id", h.Get)
	dlq.POST("/:id/retry", h.Retry)
	dlq.DELETE("/:id", h.Delete)
}
