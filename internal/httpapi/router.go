// Package httpapi serves the operational HTTP surface of the serve command: health,
// prometheus metrics, feed task submission and status, ledger counts, and catalog
// change events that queue ledger work.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/logging"
)

// NewRouter builds the gin engine. metrics may be nil, in which case /metrics is not mounted.
func NewRouter(h *Handler, metrics http.Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(logging.OrNop(logger)))
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := router.Group("/api/v1")
	feeds := v1.Group("/feeds")
	feeds.POST("", h.EnqueueFeed)
	feeds.GET("/:id", h.GetFeed)
	v1.GET("/ledger/:site", h.LedgerStatus)
	v1.POST("/events", h.RecordEvent)

	return router
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Debug("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status_code", c.Writer.Status()),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
