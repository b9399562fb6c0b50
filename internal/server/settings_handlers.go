package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/userdata"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type cityPayload struct {
	City string `json:"city"`
}

type favoritesPayload struct {
	Favorites []string `json:"favorites"`
}

type searchesPayload struct {
	Searches []string `json:"searches"`
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	userID := c.Param("uid")
	document, err := h.settingsService.Get(c.Request.Context(), userID)
	if err != nil {
		h.respondSettingsError(c, err)
		return
	}
	c.JSON(http.StatusOK, document)
}

func (h *httpHandler) handlePatchSettings(c *gin.Context) {
	var patch settings.Patch
	if err := c.ShouldBindJSON(&patch); err != nil || patch.IsEmpty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID := c.Param("uid")
	h.respondWithDocument(c)(h.settingsService.SavePatch(c.Request.Context(), userID, patch))
}

func (h *httpHandler) handleGetRole(c *gin.Context) {
	userID := c.Param("uid")
	role, err := h.users.GetRole(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
			return
		}
		h.logger.Error("failed to load role", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "role_lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, role)
}

func (h *httpHandler) handleSaveFavorites(c *gin.Context) {
	var request favoritesPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Favorites == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.respondWithDocument(c)(h.settingsService.SaveFavorites(c.Request.Context(), c.Param("uid"), request.Favorites))
}

func (h *httpHandler) handleAddFavorite(c *gin.Context) {
	var request cityPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.respondWithDocument(c)(h.settingsService.AddFavorite(c.Request.Context(), c.Param("uid"), request.City))
}

func (h *httpHandler) handleRemoveFavorite(c *gin.Context) {
	h.respondWithDocument(c)(h.settingsService.RemoveFavorite(c.Request.Context(), c.Param("uid"), c.Param("city")))
}

func (h *httpHandler) handleSaveSearches(c *gin.Context) {
	var request searchesPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Searches == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.respondWithDocument(c)(h.settingsService.SaveRecentSearches(c.Request.Context(), c.Param("uid"), request.Searches))
}

func (h *httpHandler) handleAddSearch(c *gin.Context) {
	var request cityPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.respondWithDocument(c)(h.settingsService.AddSearch(c.Request.Context(), c.Param("uid"), request.City))
}

// respondWithDocument writes the updated document and fans it out to the
// owner's realtime subscribers.
func (h *httpHandler) respondWithDocument(c *gin.Context) func(settings.UserSettings, error) {
	return func(document settings.UserSettings, err error) {
		if err != nil {
			h.respondSettingsError(c, err)
			return
		}
		h.realtime.Publish(RealtimeMessage{
			UserID:    c.Param("uid"),
			EventType: RealtimeEventSettingsChanged,
			Settings:  document,
			Timestamp: document.LastUpdated,
		})
		c.JSON(http.StatusOK, document)
	}
}

func (h *httpHandler) respondSettingsError(c *gin.Context, err error) {
	code, _ := errorCode(err)
	if userdata.IsInvalidInput(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_settings", "code": code})
		return
	}
	h.logger.Error("settings request failed", zap.String("user_id", c.Param("uid")), zap.Error(err))
	response := gin.H{"error": "settings_failed"}
	if code != "" {
		response["code"] = code
	}
	c.JSON(http.StatusInternalServerError, response)
}
