package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultHeartbeatInterval = 25 * time.Second

type settingsEventPayload struct {
	Settings  any       `json:"settings"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

type heartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// handleSettingsStream emits the current document followed by every change
// published for the owner until the client disconnects.
func (h *httpHandler) handleSettingsStream(c *gin.Context) {
	userID := c.Param("uid")
	ctx := c.Request.Context()

	stream, release := h.realtime.Subscribe(ctx, userID)
	defer release()

	current, err := h.settingsService.Get(ctx, userID)
	if err != nil {
		h.respondSettingsError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(RealtimeEventSettingsChanged, settingsEventPayload{
		Settings:  current,
		Timestamp: current.LastUpdated,
		Source:    realtimeSourceBackend,
	})
	c.Writer.Flush()

	interval := h.heartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, settingsEventPayload{
				Settings:  message.Settings,
				Timestamp: message.Timestamp,
				Source:    realtimeSourceBackend,
			})
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, heartbeatPayload{Timestamp: tick.UTC(), Source: realtimeSourceBackend})
			return true
		}
	})
	h.logger.Debug("settings stream closed", zap.String("user_id", userID))
}
