package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/feed"
	"github.com/dshills/catalogfeed/internal/logging"
	"github.com/dshills/catalogfeed/internal/storage"
	"github.com/dshills/catalogfeed/pkg/types"
)

// FeedService enqueues and looks up feed tasks
type FeedService interface {
	Enqueue(ctx context.Context, payload feed.Payload) (*storage.Task, error)
	GetTask(ctx context.Context, id int64) (*storage.Task, error)
}

// LedgerCounter summarizes ledger rows per site
type LedgerCounter interface {
	CountByAction(ctx context.Context, siteID string) (map[types.Action]int, error)
}

// EventHandler queues ledger work for a catalog change event
type EventHandler interface {
	Handle(ctx context.Context, event string, productIDs ...int64) error
}

// Handler holds the API endpoints
type Handler struct {
	feeds  FeedService
	ledger LedgerCounter
	events EventHandler
	logger *zap.Logger
}

// NewHandler creates a handler
func NewHandler(feeds FeedService, ledger LedgerCounter, events EventHandler, logger *zap.Logger) *Handler {
	return &Handler{feeds: feeds, ledger: ledger, events: events, logger: logging.OrNop(logger)}
}

type eventRequest struct {
	Event      string  `json:"event" binding:"required"`
	ProductIDs []int64 `json:"product_ids" binding:"required,min=1"`
}

type taskResponse struct {
	ID          int64     `json:"id"`
	Status      string    `json:"status"`
	ErrorDetail *string   `json:"error_detail,omitempty"`
	FileSize    *int64    `json:"file_size,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newTaskResponse(t *storage.Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		Status:      string(t.Status),
		ErrorDetail: t.ErrorDetail,
		FileSize:    t.FileSize,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// EnqueueFeed handles POST /api/v1/feeds
func (h *Handler) EnqueueFeed(c *gin.Context) {
	var payload feed.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	task, err := h.feeds.Enqueue(c.Request.Context(), payload)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, newTaskResponse(task))
}

// GetFeed handles GET /api/v1/feeds/:id
func (h *Handler) GetFeed(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	task, err := h.feeds.GetTask(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTaskResponse(task))
}

// LedgerStatus handles GET /api/v1/ledger/:site
func (h *Handler) LedgerStatus(c *gin.Context) {
	site := c.Param("site")
	counts, err := h.ledger.CountByAction(c.Request.Context(), site)
	if err != nil {
		h.respondError(c, err)
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{
		"site_id": site,
		"upsert":  counts[types.ActionUpsert],
		"delete":  counts[types.ActionDelete],
		"none":    counts[types.ActionNone],
		"total":   total,
	})
}

// RecordEvent handles POST /api/v1/events
func (h *Handler) RecordEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	if err := h.events.Handle(c.Request.Context(), req.Event, req.ProductIDs...); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"event": req.Event, "products": len(req.ProductIDs)})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var vErr *types.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": vErr.Messages})
	case errors.Is(err, types.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, types.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		h.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
