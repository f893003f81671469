package server

import (
	"net/http"
	"time"

	"github.com/cafecursor/cafecursor/internal/changefeed"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type readyPayload struct {
	Status string `json:"status"`
}

type heartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// handleStream serves the card change feed as server-sent events until the client leaves.
func (h *httpHandler) handleStream(c *gin.Context) {
	ctx := c.Request.Context()
	events, cleanup := h.changes.Subscribe(ctx)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if err := changefeed.WriteEvent(c.Writer, changefeed.EventReady, readyPayload{Status: "live"}); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := changefeed.WriteEvent(c.Writer, changefeed.EventCardChange, event); err != nil {
				h.logger.Debug("stream write failed", zap.Error(err))
				return
			}
		case now := <-ticker.C:
			if err := changefeed.WriteEvent(c.Writer, changefeed.EventHeartbeat, heartbeatPayload{Timestamp: now.UTC()}); err != nil {
				return
			}
		}
	}
}
