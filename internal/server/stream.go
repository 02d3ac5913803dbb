package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type streamEnvelope struct {
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// handleStream relays the judge's group events as server-sent events until the client disconnects.
func (h *httpHandler) handleStream(c *gin.Context) {
	judge, ok := currentJudge(c)
	if !ok {
		h.respondInvalidRequest(c)
		return
	}

	events, cleanup := h.realtime.Subscribe(c.Request.Context(), judge.GroupID)
	defer cleanup()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(realtimeEventHeartbeat, streamEnvelope{Source: realtimeSourceBackend, Timestamp: time.Now().UTC()})
	c.Writer.Flush()

	h.logger.Debug("realtime stream opened",
		zap.String("group_id", judge.GroupID),
		zap.String("judge_id", judge.JudgeID))

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case message, open := <-events:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, streamEnvelope{
				Source:    realtimeSourceBackend,
				Timestamp: message.Timestamp,
				Payload:   message.Data,
			})
			return true
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, streamEnvelope{Source: realtimeSourceBackend, Timestamp: tick.UTC()})
			return true
		}
	})

	h.logger.Debug("realtime stream closed",
		zap.String("group_id", judge.GroupID),
		zap.String("judge_id", judge.JudgeID))
}
