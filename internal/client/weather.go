package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/activity"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/weather"
)

type citiesPayload struct {
	Cities []weather.CitySuggestion `json:"cities"`
}

type logsPayload struct {
	Logs []activity.Record `json:"logs"`
}

func weatherValues(query weather.Query) url.Values {
	values := url.Values{}
	if query.Coordinates != nil {
		values.Set("lat", strconv.FormatFloat(query.Coordinates.Lat, 'f', -1, 64))
		values.Set("lon", strconv.FormatFloat(query.Coordinates.Lon, 'f', -1, 64))
	} else {
		values.Set("city", query.City)
	}
	if query.Units != "" {
		values.Set("units", query.Units)
	}
	if query.Language != "" {
		values.Set("lang", query.Language)
	}
	return values
}

func (c *Client) CurrentWeather(ctx context.Context, query weather.Query) (weather.Current, error) {
	var current weather.Current
	if err := c.do(ctx, http.MethodGet, "/weather/current", weatherValues(query), nil, &current, false); err != nil {
		return weather.Current{}, err
	}
	return current, nil
}

func (c *Client) Forecast(ctx context.Context, query weather.Query) (weather.Forecast, error) {
	var forecast weather.Forecast
	if err := c.do(ctx, http.MethodGet, "/weather/forecast", weatherValues(query), nil, &forecast, false); err != nil {
		return weather.Forecast{}, err
	}
	return forecast, nil
}

// AirQuality accepts either coordinates or a city name.
func (c *Client) AirQuality(ctx context.Context, query weather.Query) (weather.AirQuality, error) {
	var air weather.AirQuality
	if err := c.do(ctx, http.MethodGet, "/weather/air", weatherValues(query), nil, &air, false); err != nil {
		return weather.AirQuality{}, err
	}
	return air, nil
}

func (c *Client) Cities(ctx context.Context, query string, region settings.Region) ([]weather.CitySuggestion, error) {
	values := url.Values{"q": {query}}
	if region != "" {
		values.Set("region", string(region))
	}
	var payload citiesPayload
	if err := c.do(ctx, http.MethodGet, "/cities", values, nil, &payload, false); err != nil {
		return nil, err
	}
	if payload.Cities == nil {
		return []weather.CitySuggestion{}, nil
	}
	return payload.Cities, nil
}

// AdminLogs lists activity records; the session must belong to an admin.
func (c *Client) AdminLogs(ctx context.Context, filter activity.ListFilter) ([]activity.Record, error) {
	values := url.Values{}
	if filter.Action != "" {
		values.Set("action", filter.Action)
	}
	if filter.UserID != "" {
		values.Set("user_id", filter.UserID)
	}
	if filter.Limit > 0 {
		values.Set("limit", strconv.Itoa(filter.Limit))
	}
	var payload logsPayload
	if err := c.do(ctx, http.MethodGet, "/admin/logs", values, nil, &payload, true); err != nil {
		return nil, err
	}
	return payload.Logs, nil
}
