package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/activity"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type activityRequestPayload struct {
	Action        string         `json:"action"`
	Details       map[string]any `json:"details"`
	Timestamp     time.Time      `json:"timestamp"`
	ClientContext string         `json:"client_context"`
}

type activityListPayload struct {
	Logs []activity.Record `json:"logs"`
}

// handleRecordActivity appends a record on behalf of the token's principal;
// identity fields in the body are ignored.
func (h *httpHandler) handleRecordActivity(c *gin.Context) {
	var request activityRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	principal := principalFromContext(c)
	record, err := h.activityService.Record(c.Request.Context(), activity.Record{
		Action:        request.Action,
		UserID:        principal.UserID,
		UserEmail:     principal.Email,
		IsAnonymous:   principal.Anonymous,
		Details:       request.Details,
		Timestamp:     request.Timestamp,
		ClientContext: request.ClientContext,
	})
	if err != nil {
		if errors.Is(err, activity.ErrMissingAction) || errors.Is(err, activity.ErrMissingUserID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_activity"})
			return
		}
		h.logger.Error("failed to record activity", zap.String("user_id", principal.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "activity_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": record.ID})
}

func (h *httpHandler) handleListLogs(c *gin.Context) {
	filter := activity.ListFilter{
		Action: c.Query("action"),
		UserID: c.Query("user_id"),
	}
	if rawLimit := c.Query("limit"); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		filter.Limit = limit
	}

	records, err := h.activityService.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list activity", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "activity_failed"})
		return
	}
	c.JSON(http.StatusOK, activityListPayload{Logs: records})
}
