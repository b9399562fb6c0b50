package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/activity"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/auth"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/database"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/userdata"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/users"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/weather"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type testBackend struct {
	handler    http.Handler
	issuer     *auth.TokenIssuer
	users      *users.Service
	settings   *userdata.Service
	activity   *activity.Service
	dispatcher *RealtimeDispatcher
	weather    *stubWeather
	cities     *stubCities
}

func newTestBackend(t *testing.T, adminEmails ...string) *testBackend {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.OpenSQLite(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	clock := func() time.Time { return testNow }

	settingsService, err := userdata.NewService(userdata.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create settings service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{
		Database:    db,
		Clock:       clock,
		IDProvider:  users.NewUUIDProvider(),
		Settings:    settingsService,
		AdminEmails: adminEmails,
	})
	if err != nil {
		t.Fatalf("failed to create user service: %v", err)
	}
	activityService, err := activity.NewService(activity.ServiceConfig{
		Database:   db,
		IDProvider: users.NewUUIDProvider(),
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to create activity service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "weatherdash-api",
		Audience:      "weatherdash",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}

	backend := &testBackend{
		issuer:     issuer,
		users:      userService,
		settings:   settingsService,
		activity:   activityService,
		dispatcher: NewRealtimeDispatcher(),
		weather:    &stubWeather{},
		cities:     &stubCities{},
	}
	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: issuer,
		Users:        userService,
		Settings:     settingsService,
		Activity:     activityService,
		Weather:      backend.weather,
		Cities:       backend.cities,
		Realtime:     backend.dispatcher,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	backend.handler = handler
	return backend
}

type authResult struct {
	Token  string
	UserID string
}

func (b *testBackend) signInAnonymously(t *testing.T) authResult {
	t.Helper()
	recorder := b.do(t, http.MethodPost, "/auth/anonymous", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("anonymous sign-in failed: %d %s", recorder.Code, recorder.Body.String())
	}
	return decodeAuth(t, recorder)
}

func (b *testBackend) register(t *testing.T, email string) authResult {
	t.Helper()
	recorder := b.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": email, "password": "correct-horse"})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("registration failed: %d %s", recorder.Code, recorder.Body.String())
	}
	return decodeAuth(t, recorder)
}

func decodeAuth(t *testing.T, recorder *httptest.ResponseRecorder) authResult {
	t.Helper()
	var payload authResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode auth response: %v", err)
	}
	if payload.AccessToken == "" || payload.User.UserID == "" || payload.TokenType != "Bearer" {
		t.Fatalf("unexpected auth response %+v", payload)
	}
	return authResult{Token: payload.AccessToken, UserID: payload.User.UserID}
}

func (b *testBackend) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	b.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeSettings(t *testing.T, recorder *httptest.ResponseRecorder) settings.UserSettings {
	t.Helper()
	var document settings.UserSettings
	if err := json.Unmarshal(recorder.Body.Bytes(), &document); err != nil {
		t.Fatalf("failed to decode settings: %v (%s)", err, recorder.Body.String())
	}
	return document
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v (%s)", err, recorder.Body.String())
	}
	return payload
}

type stubWeather struct {
	lastQuery   weather.Query
	lastCoords  weather.Coordinates
	err         error
	geocodeErr  error
	geocodeCity string
}

func (s *stubWeather) Current(_ context.Context, query weather.Query) (weather.Current, error) {
	s.lastQuery = query
	if s.err != nil {
		return weather.Current{}, s.err
	}
	return weather.Current{City: query.City, Temperature: 18, Units: "metric"}, nil
}

func (s *stubWeather) Forecast(_ context.Context, query weather.Query) (weather.Forecast, error) {
	s.lastQuery = query
	if s.err != nil {
		return weather.Forecast{}, s.err
	}
	return weather.Forecast{City: query.City, Days: []weather.DailyForecast{{Date: "2026-03-14"}}}, nil
}

func (s *stubWeather) AirQuality(_ context.Context, coordinates weather.Coordinates) (weather.AirQuality, error) {
	s.lastCoords = coordinates
	if s.err != nil {
		return weather.AirQuality{}, s.err
	}
	return weather.AirQuality{AQI: 2, Label: weather.AQILabel(2)}, nil
}

func (s *stubWeather) Geocode(_ context.Context, city string) (weather.Coordinates, error) {
	s.geocodeCity = city
	if s.geocodeErr != nil {
		return weather.Coordinates{}, s.geocodeErr
	}
	return weather.Coordinates{Lat: 39.9334, Lon: 32.8597}, nil
}

type stubCities struct {
	lastQuery  string
	lastRegion settings.Region
}

func (s *stubCities) Suggest(_ context.Context, query string, region settings.Region) []weather.CitySuggestion {
	s.lastQuery = query
	s.lastRegion = region
	return weather.FilterByRegion(weather.FallbackSuggestions(query), region)
}
