package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/weather"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type citiesPayload struct {
	Cities []weather.CitySuggestion `json:"cities"`
}

func (h *httpHandler) handleCurrentWeather(c *gin.Context) {
	query, ok := weatherQuery(c)
	if !ok {
		return
	}
	current, err := h.weather.Current(c.Request.Context(), query)
	if err != nil {
		h.respondWeatherError(c, err)
		return
	}
	c.JSON(http.StatusOK, current)
}

func (h *httpHandler) handleForecast(c *gin.Context) {
	query, ok := weatherQuery(c)
	if !ok {
		return
	}
	forecast, err := h.weather.Forecast(c.Request.Context(), query)
	if err != nil {
		h.respondWeatherError(c, err)
		return
	}
	c.JSON(http.StatusOK, forecast)
}

// handleAirQuality accepts coordinates, or a city which is geocoded first.
func (h *httpHandler) handleAirQuality(c *gin.Context) {
	query, ok := weatherQuery(c)
	if !ok {
		return
	}
	coordinates := query.Coordinates
	if coordinates == nil {
		resolved, err := h.weather.Geocode(c.Request.Context(), query.City)
		if err != nil {
			h.respondWeatherError(c, err)
			return
		}
		coordinates = &resolved
	}
	air, err := h.weather.AirQuality(c.Request.Context(), *coordinates)
	if err != nil {
		h.respondWeatherError(c, err)
		return
	}
	c.JSON(http.StatusOK, air)
}

func (h *httpHandler) handleCitySuggestions(c *gin.Context) {
	region := settings.Region(c.DefaultQuery("region", string(settings.RegionAll)))
	suggestions := h.cities.Suggest(c.Request.Context(), c.Query("q"), region)
	c.JSON(http.StatusOK, citiesPayload{Cities: suggestions})
}

func weatherQuery(c *gin.Context) (weather.Query, bool) {
	query := weather.Query{
		City:     c.Query("city"),
		Units:    c.Query("units"),
		Language: c.Query("lang"),
	}
	rawLat, rawLon := c.Query("lat"), c.Query("lon")
	if rawLat == "" && rawLon == "" {
		if query.City == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_location"})
			return weather.Query{}, false
		}
		return query, true
	}
	lat, latErr := strconv.ParseFloat(rawLat, 64)
	lon, lonErr := strconv.ParseFloat(rawLon, 64)
	if latErr != nil || lonErr != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_location"})
		return weather.Query{}, false
	}
	query.Coordinates = &weather.Coordinates{Lat: lat, Lon: lon}
	return query, true
}

func (h *httpHandler) respondWeatherError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, weather.ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_location"})
	case errors.Is(err, weather.ErrCityNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "city_not_found"})
	case errors.Is(err, weather.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
	case errors.Is(err, weather.ErrInvalidAPIKey):
		h.logger.Error("weather upstream rejected api key")
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_unauthorized"})
	default:
		h.logger.Warn("weather request failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_failed"})
	}
}
