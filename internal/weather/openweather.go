package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	defaultOpenWeatherBaseURL = "https://api.openweathermap.org"
	placeholderAPIKey         = "your-api-key-here"
	minAPIKeyLength           = 32
	maxAPIKeyLength           = 40
)

// Config wires the OpenWeather client.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Backoff    BackoffConfig
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Client fetches current conditions, forecasts, air quality and coordinates
// from OpenWeather. Without a usable key it serves fixed mock data.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	backoff BackoffConfig
	circuit *gobreaker.CircuitBreaker
	logger  *zap.Logger
	clock   func() time.Time
}

// NewClient constructs an OpenWeather client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenWeatherBaseURL
	}
	backoff := cfg.Backoff
	if backoff.InitialInterval <= 0 {
		backoff = DefaultBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	client := &Client{
		apiKey:  cleanAPIKey(cfg.APIKey),
		baseURL: baseURL,
		http:    httpClient,
		backoff: backoff,
		circuit: newCircuitBreaker("openweather"),
		logger:  logger,
		clock:   clock,
	}
	if !client.Live() {
		logger.Warn("openweather api key missing or malformed; serving mock data")
	}
	return client
}

// Live reports whether the client calls the real upstream.
func (c *Client) Live() bool {
	return validAPIKey(c.apiKey)
}

func cleanAPIKey(raw string) string {
	key := strings.TrimSpace(raw)
	key = strings.TrimSuffix(key, "%3B")
	key = strings.TrimSuffix(key, ";")
	return key
}

func validAPIKey(key string) bool {
	if key == "" || key == placeholderAPIKey {
		return false
	}
	return len(key) >= minAPIKeyLength && len(key) <= maxAPIKeyLength
}

type owCondition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type owCurrent struct {
	Name  string `json:"name"`
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  int     `json:"pressure"`
	} `json:"main"`
	Weather []owCondition `json:"weather"`
	Wind    struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
	} `json:"wind"`
	Sys struct {
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
		Country string `json:"country"`
	} `json:"sys"`
	Dt       int64 `json:"dt"`
	Timezone int   `json:"timezone"`
}

type owForecast struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			Humidity  int     `json:"humidity"`
		} `json:"main"`
		Weather []owCondition `json:"weather"`
		Wind    struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Pop float64 `json:"pop"`
	} `json:"list"`
	City struct {
		Name     string `json:"name"`
		Country  string `json:"country"`
		Timezone int    `json:"timezone"`
	} `json:"city"`
}

type owAirPollution struct {
	List []struct {
		Main struct {
			AQI int `json:"aqi"`
		} `json:"main"`
		Components AirQualityReadings `json:"components"`
	} `json:"list"`
}

type owGeocode []struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
}

// Current returns current conditions for a city or coordinates.
func (c *Client) Current(ctx context.Context, query Query) (Current, error) {
	values, err := c.locationValues(query)
	if err != nil {
		return Current{}, err
	}
	units := unitsOrDefault(query.Units)
	if !c.Live() {
		return mockCurrent(c.clock(), units), nil
	}
	values.Set("units", units)
	values.Set("lang", languageParam(query.Language))

	var payload owCurrent
	if err := c.getJSON(ctx, "/data/2.5/weather", values, &payload); err != nil {
		return Current{}, err
	}
	return currentFromPayload(payload, units), nil
}

// Forecast returns the five-day forecast reduced to one entry per local day.
func (c *Client) Forecast(ctx context.Context, query Query) (Forecast, error) {
	values, err := c.locationValues(query)
	if err != nil {
		return Forecast{}, err
	}
	units := unitsOrDefault(query.Units)
	if !c.Live() {
		return mockForecast(c.clock(), units), nil
	}
	values.Set("units", units)
	values.Set("lang", languageParam(query.Language))

	var payload owForecast
	if err := c.getJSON(ctx, "/data/2.5/forecast", values, &payload); err != nil {
		return Forecast{}, err
	}
	entries := make([]ForecastEntry, 0, len(payload.List))
	for _, item := range payload.List {
		condition := firstCondition(item.Weather)
		entries = append(entries, ForecastEntry{
			Time:                time.Unix(item.Dt, 0).UTC(),
			Temperature:         item.Main.Temp,
			FeelsLike:           item.Main.FeelsLike,
			Humidity:            item.Main.Humidity,
			WindSpeed:           item.Wind.Speed,
			PrecipitationChance: item.Pop,
			Condition:           ConditionFromID(condition.ID),
			ConditionID:         condition.ID,
			Description:         condition.Description,
			Icon:                iconOrDerived(condition, true),
		})
	}
	return Forecast{
		City:           payload.City.Name,
		Country:        payload.City.Country,
		TimezoneOffset: payload.City.Timezone,
		Days:           DailyForecasts(entries, payload.City.Timezone),
		Units:          units,
	}, nil
}

// AirQuality returns the air pollution index at the given coordinates.
func (c *Client) AirQuality(ctx context.Context, coordinates Coordinates) (AirQuality, error) {
	if !c.Live() {
		return mockAirQuality(), nil
	}
	values := coordinateValues(coordinates)
	var payload owAirPollution
	if err := c.getJSON(ctx, "/data/2.5/air_pollution", values, &payload); err != nil {
		return AirQuality{}, err
	}
	if len(payload.List) == 0 {
		return AirQuality{}, fmt.Errorf("%w: empty air pollution response", ErrUpstream)
	}
	first := payload.List[0]
	return AirQuality{
		AQI:        first.Main.AQI,
		Label:      AQILabel(first.Main.AQI),
		Components: first.Components,
	}, nil
}

// Geocode resolves a city name to coordinates.
func (c *Client) Geocode(ctx context.Context, city string) (Coordinates, error) {
	trimmed := strings.TrimSpace(city)
	if trimmed == "" {
		return Coordinates{}, ErrInvalidQuery
	}
	if !c.Live() {
		return mockCoordinates, nil
	}
	values := url.Values{}
	values.Set("q", trimmed)
	values.Set("limit", "1")

	var payload owGeocode
	if err := c.getJSON(ctx, "/geo/1.0/direct", values, &payload); err != nil {
		return Coordinates{}, err
	}
	if len(payload) == 0 {
		return Coordinates{}, ErrCityNotFound
	}
	return Coordinates{Lat: payload[0].Lat, Lon: payload[0].Lon}, nil
}

func (c *Client) locationValues(query Query) (url.Values, error) {
	if query.Coordinates != nil {
		return coordinateValues(*query.Coordinates), nil
	}
	city := strings.TrimSpace(query.City)
	if city == "" {
		return nil, ErrInvalidQuery
	}
	values := url.Values{}
	values.Set("q", city)
	return values, nil
}

func coordinateValues(coordinates Coordinates) url.Values {
	values := url.Values{}
	values.Set("lat", strconv.FormatFloat(coordinates.Lat, 'f', -1, 64))
	values.Set("lon", strconv.FormatFloat(coordinates.Lon, 'f', -1, 64))
	return values
}

func (c *Client) getJSON(ctx context.Context, path string, values url.Values, target any) error {
	values.Set("appid", c.apiKey)
	endpoint := c.baseURL + path + "?" + values.Encode()
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	}

	resp, err := doRequestWithResilience(ctx, c.http, c.backoff, c.circuit, buildRequest)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			return ErrRateLimited
		}
		c.logger.Warn("openweather request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrInvalidAPIKey
	case resp.StatusCode == http.StatusNotFound:
		return ErrCityNotFound
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrUpstream, upstreamMessage(resp))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUpstream, path, err)
	}
	return nil
}

func upstreamMessage(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return resp.Status
}

func currentFromPayload(payload owCurrent, units string) Current {
	condition := firstCondition(payload.Weather)
	observedAt := time.Unix(payload.Dt, 0).UTC()
	sunrise := time.Unix(payload.Sys.Sunrise, 0).UTC()
	sunset := time.Unix(payload.Sys.Sunset, 0).UTC()
	isDay := payload.Sys.Sunrise == 0 || (!observedAt.Before(sunrise) && observedAt.Before(sunset))
	return Current{
		City:           payload.Name,
		Country:        payload.Sys.Country,
		Coordinates:    Coordinates{Lat: payload.Coord.Lat, Lon: payload.Coord.Lon},
		Temperature:    payload.Main.Temp,
		FeelsLike:      payload.Main.FeelsLike,
		Humidity:       payload.Main.Humidity,
		HumidityLabel:  HumidityLabel(payload.Main.Humidity),
		Pressure:       payload.Main.Pressure,
		WindSpeed:      payload.Wind.Speed,
		WindDegrees:    int(payload.Wind.Deg),
		WindDirection:  WindDirection(payload.Wind.Deg),
		Condition:      ConditionFromID(condition.ID),
		ConditionID:    condition.ID,
		Description:    condition.Description,
		Icon:           iconOrDerived(condition, isDay),
		IsDay:          isDay,
		Sunrise:        sunrise,
		Sunset:         sunset,
		ObservedAt:     observedAt,
		TimezoneOffset: payload.Timezone,
		Units:          units,
	}
}

func firstCondition(conditions []owCondition) owCondition {
	if len(conditions) == 0 {
		return owCondition{}
	}
	return conditions[0]
}

func iconOrDerived(condition owCondition, isDay bool) string {
	if condition.Icon != "" {
		return condition.Icon
	}
	return IconFor(condition.ID, isDay)
}

func unitsOrDefault(units string) string {
	if units == "imperial" {
		return units
	}
	return "metric"
}

func languageParam(language string) string {
	if language == "tr" {
		return "tr"
	}
	return "en"
}
