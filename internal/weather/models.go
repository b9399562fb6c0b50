// Package weather talks to OpenWeather and Nominatim and shapes their
// responses into the value objects the dashboard renders.
package weather

import (
	"errors"
	"time"
)

var (
	// ErrInvalidAPIKey indicates the upstream rejected the configured key.
	ErrInvalidAPIKey = errors.New("weather: invalid api key")
	// ErrRateLimited indicates the upstream quota was exhausted.
	ErrRateLimited = errors.New("weather: rate limited")
	// ErrCityNotFound indicates no location matched the query.
	ErrCityNotFound = errors.New("weather: city not found")
	// ErrInvalidQuery indicates neither a city nor coordinates were provided.
	ErrInvalidQuery = errors.New("weather: city or coordinates required")
	// ErrUpstream wraps any other upstream failure.
	ErrUpstream = errors.New("weather: upstream error")
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Query selects a location by city name or coordinates.
type Query struct {
	City        string
	Coordinates *Coordinates
	Units       string
	Language    string
}

// Current is the current conditions at a location.
type Current struct {
	City           string      `json:"city"`
	Country        string      `json:"country"`
	Coordinates    Coordinates `json:"coordinates"`
	Temperature    float64     `json:"temperature"`
	FeelsLike      float64     `json:"feels_like"`
	Humidity       int         `json:"humidity"`
	HumidityLabel  string      `json:"humidity_label"`
	Pressure       int         `json:"pressure"`
	WindSpeed      float64     `json:"wind_speed"`
	WindDegrees    int         `json:"wind_degrees"`
	WindDirection  string      `json:"wind_direction"`
	Condition      Condition   `json:"condition"`
	ConditionID    int         `json:"condition_id"`
	Description    string      `json:"description"`
	Icon           string      `json:"icon"`
	IsDay          bool        `json:"is_day"`
	Sunrise        time.Time   `json:"sunrise"`
	Sunset         time.Time   `json:"sunset"`
	ObservedAt     time.Time   `json:"observed_at"`
	TimezoneOffset int         `json:"timezone_offset"`
	Units          string      `json:"units"`
	Mock           bool        `json:"mock,omitempty"`
}

// ForecastEntry is a single 3-hourly forecast point.
type ForecastEntry struct {
	Time                time.Time `json:"time"`
	Temperature         float64   `json:"temperature"`
	FeelsLike           float64   `json:"feels_like"`
	Humidity            int       `json:"humidity"`
	WindSpeed           float64   `json:"wind_speed"`
	PrecipitationChance float64   `json:"precipitation_chance"`
	Condition           Condition `json:"condition"`
	ConditionID         int       `json:"condition_id"`
	Description         string    `json:"description"`
	Icon                string    `json:"icon"`
}

// DailyForecast is the warmest forecast point of a local calendar day.
type DailyForecast struct {
	Date string `json:"date"`
	ForecastEntry
}

// Forecast is the reduced multi-day forecast for a location.
type Forecast struct {
	City           string          `json:"city"`
	Country        string          `json:"country"`
	TimezoneOffset int             `json:"timezone_offset"`
	Days           []DailyForecast `json:"days"`
	Units          string          `json:"units"`
	Mock           bool            `json:"mock,omitempty"`
}

// AirQuality is the air pollution index with its pollutant components (μg/m3).
type AirQuality struct {
	AQI        int                `json:"aqi"`
	Label      string             `json:"label"`
	Components AirQualityReadings `json:"components"`
	Mock       bool               `json:"mock,omitempty"`
}

type AirQualityReadings struct {
	PM25 float64 `json:"pm2_5"`
	PM10 float64 `json:"pm10"`
	CO   float64 `json:"co"`
	NO2  float64 `json:"no2"`
	SO2  float64 `json:"so2"`
	O3   float64 `json:"o3"`
}

// CitySuggestion is a candidate location for a search query.
type CitySuggestion struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Region    string  `json:"region"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
