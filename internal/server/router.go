package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/activity"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/auth"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/userdata"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/users"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/weather"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey    = "weatherdash_user_id"
	principalContextKey = "weatherdash_principal"
)

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingUserService    = errors.New("user service dependency required")
	errMissingSettingsStore  = errors.New("settings service dependency required")
	errMissingActivityLog    = errors.New("activity service dependency required")
	errMissingWeatherService = errors.New("weather service dependency required")
	errMissingCityService    = errors.New("city service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates backend session tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, principal auth.Principal) (string, int64, error)
	ValidateToken(token string) (auth.Claims, error)
}

// WeatherProvider serves upstream weather data.
type WeatherProvider interface {
	Current(ctx context.Context, query weather.Query) (weather.Current, error)
	Forecast(ctx context.Context, query weather.Query) (weather.Forecast, error)
	AirQuality(ctx context.Context, coordinates weather.Coordinates) (weather.AirQuality, error)
	Geocode(ctx context.Context, city string) (weather.Coordinates, error)
}

// CitySuggester serves city search suggestions.
type CitySuggester interface {
	Suggest(ctx context.Context, query string, region settings.Region) []weather.CitySuggestion
}

type Dependencies struct {
	TokenManager TokenManager
	Users        *users.Service
	Settings     *userdata.Service
	Activity     *activity.Service
	Weather      WeatherProvider
	Cities       CitySuggester
	Realtime     *RealtimeDispatcher
	Logger       *zap.Logger

	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUserService
	}
	if deps.Settings == nil {
		return nil, errMissingSettingsStore
	}
	if deps.Activity == nil {
		return nil, errMissingActivityLog
	}
	if deps.Weather == nil {
		return nil, errMissingWeatherService
	}
	if deps.Cities == nil {
		return nil, errMissingCityService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:            deps.TokenManager,
		users:             deps.Users,
		settingsService:   deps.Settings,
		activityService:   deps.Activity,
		weather:           deps.Weather,
		cities:            deps.Cities,
		realtime:          realtime,
		logger:            logger,
		heartbeatInterval: deps.HeartbeatInterval,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/auth/anonymous", handler.handleAnonymousAuth)
	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	router.GET("/weather/current", handler.handleCurrentWeather)
	router.GET("/weather/forecast", handler.handleForecast)
	router.GET("/weather/air", handler.handleAirQuality)
	router.GET("/cities", handler.handleCitySuggestions)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/me", handler.handleMe)
	protected.POST("/activity", handler.handleRecordActivity)

	owned := protected.Group("/users/:uid")
	owned.Use(handler.requireOwner)
	owned.GET("/settings", handler.handleGetSettings)
	owned.PATCH("/settings", handler.handlePatchSettings)
	owned.GET("/role", handler.handleGetRole)
	owned.PUT("/favorites", handler.handleSaveFavorites)
	owned.POST("/favorites", handler.handleAddFavorite)
	owned.DELETE("/favorites/:city", handler.handleRemoveFavorite)
	owned.PUT("/searches", handler.handleSaveSearches)
	owned.POST("/searches", handler.handleAddSearch)
	owned.GET("/stream", handler.handleSettingsStream)

	admin := protected.Group("/admin")
	admin.Use(handler.requireAdmin)
	admin.GET("/logs", handler.handleListLogs)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: func(string) bool { return true },
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Cache-Control", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	tokens            TokenManager
	users             *users.Service
	settingsService   *userdata.Service
	activityService   *activity.Service
	weather           WeatherProvider
	cities            CitySuggester
	realtime          *RealtimeDispatcher
	logger            *zap.Logger
	heartbeatInterval time.Duration
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else if header == "" {
		// EventSource clients cannot set headers.
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	principal := claims.Principal()
	c.Set(userIDContextKey, principal.UserID)
	c.Set(principalContextKey, principal)
	c.Next()
}

// requireOwner rejects access to another user's documents.
func (h *httpHandler) requireOwner(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" || c.Param("uid") != userID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission_denied"})
		return
	}
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	role, err := h.users.GetRole(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission_denied"})
			return
		}
		h.logger.Error("failed to resolve role", zap.String("user_id", userID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "role_lookup_failed"})
		return
	}
	if !role.IsAdmin() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission_denied"})
		return
	}
	c.Next()
}

func principalFromContext(c *gin.Context) auth.Principal {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return auth.Principal{UserID: c.GetString(userIDContextKey)}
	}
	principal, _ := value.(auth.Principal)
	return principal
}

func errorCode(err error) (string, bool) {
	var serviceErr *userdata.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code(), true
	}
	return "", false
}
