package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/userdata"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func TestAnonymousSignInCreatesDefaultSettings(t *testing.T) {
	backend := newTestBackend(t)
	session := backend.signInAnonymously(t)

	recorder := backend.do(t, http.MethodGet, "/users/"+session.UserID+"/settings", session.Token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	document := decodeSettings(t, recorder)
	if document.Theme != settings.ThemeAuto || document.Language != "tr" || document.Region != settings.RegionTurkey {
		t.Fatalf("expected defaults, got %+v", document)
	}

	me := backend.do(t, http.MethodGet, "/auth/me", session.Token, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("unexpected /auth/me status %d", me.Code)
	}
	user := decodeBody(t, me)["user"].(map[string]any)
	if user["uid"] != session.UserID || user["is_anonymous"] != true {
		t.Fatalf("unexpected identity %v", user)
	}
}

func TestSettingsRequireOwnership(t *testing.T) {
	backend := newTestBackend(t)
	owner := backend.signInAnonymously(t)
	intruder := backend.signInAnonymously(t)

	paths := []struct {
		method string
		path   string
		body   any
	}{
		{method: http.MethodGet, path: "/users/" + owner.UserID + "/settings"},
		{method: http.MethodPatch, path: "/users/" + owner.UserID + "/settings", body: map[string]string{"theme": "dark"}},
		{method: http.MethodGet, path: "/users/" + owner.UserID + "/role"},
		{method: http.MethodPost, path: "/users/" + owner.UserID + "/favorites", body: map[string]string{"city": "Ankara"}},
		{method: http.MethodGet, path: "/users/" + owner.UserID + "/stream"},
	}
	for _, entry := range paths {
		recorder := backend.do(t, entry.method, entry.path, intruder.Token, entry.body)
		if recorder.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", entry.method, entry.path, recorder.Code)
		}
		if decodeBody(t, recorder)["error"] != "permission_denied" {
			t.Fatalf("%s %s: unexpected body %s", entry.method, entry.path, recorder.Body.String())
		}
	}

	unauthenticated := backend.do(t, http.MethodGet, "/users/"+owner.UserID+"/settings", "", nil)
	if unauthenticated.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", unauthenticated.Code)
	}
}

func TestPatchSettingsMergesFields(t *testing.T) {
	backend := newTestBackend(t)
	session := backend.signInAnonymously(t)
	path := "/users/" + session.UserID + "/settings"

	recorder := backend.do(t, http.MethodPatch, path, session.Token, map[string]any{"theme": "dark", "units": "imperial"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	document := decodeSettings(t, recorder)
	if document.Theme != settings.ThemeDark || document.Units != settings.UnitsImperial || document.Region != settings.RegionTurkey {
		t.Fatalf("unexpected merged document %+v", document)
	}
	if !document.LastUpdated.Equal(testNow) {
		t.Fatalf("expected last updated stamp, got %s", document.LastUpdated)
	}

	invalid := backend.do(t, http.MethodPatch, path, session.Token, map[string]any{"theme": "neon"})
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid theme, got %d", invalid.Code)
	}
	if decodeBody(t, invalid)["code"] != "userdata.save_settings.invalid_input" {
		t.Fatalf("unexpected error body %s", invalid.Body.String())
	}

	empty := backend.do(t, http.MethodPatch, path, session.Token, map[string]any{})
	if empty.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty patch, got %d", empty.Code)
	}
}

func TestFavoritesEndpoints(t *testing.T) {
	backend := newTestBackend(t)
	session := backend.signInAnonymously(t)
	path := "/users/" + session.UserID + "/favorites"

	for _, city := range []string{"Ankara", "São Paulo", "Ankara"} {
		recorder := backend.do(t, http.MethodPost, path, session.Token, map[string]string{"city": city})
		if recorder.Code != http.StatusOK {
			t.Fatalf("add favorite failed: %d %s", recorder.Code, recorder.Body.String())
		}
	}
	document, err := backend.settings.Get(t.Context(), session.UserID)
	if err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}
	if len(document.Favorites) != 2 || document.Favorites[0] != "Ankara" || document.Favorites[1] != "São Paulo" {
		t.Fatalf("expected idempotent add, got %v", document.Favorites)
	}

	removed := backend.do(t, http.MethodDelete, path+"/"+url.PathEscape("São Paulo"), session.Token, nil)
	if removed.Code != http.StatusOK {
		t.Fatalf("remove favorite failed: %d %s", removed.Code, removed.Body.String())
	}
	if favorites := decodeSettings(t, removed).Favorites; len(favorites) != 1 || favorites[0] != "Ankara" {
		t.Fatalf("unexpected favorites after removal %v", favorites)
	}

	replaced := backend.do(t, http.MethodPut, path, session.Token, map[string]any{"favorites": []string{}})
	if replaced.Code != http.StatusOK {
		t.Fatalf("replace favorites failed: %d", replaced.Code)
	}
	if favorites := decodeSettings(t, replaced).Favorites; len(favorites) != 0 {
		t.Fatalf("expected cleared favorites, got %v", favorites)
	}

	blank := backend.do(t, http.MethodPost, path, session.Token, map[string]string{"city": "   "})
	if blank.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank city, got %d", blank.Code)
	}
}

func TestSearchEndpointsMoveToFrontAndCap(t *testing.T) {
	backend := newTestBackend(t)
	session := backend.signInAnonymously(t)
	path := "/users/" + session.UserID + "/searches"

	cities := []string{"Adana", "Ankara", "Antalya", "Bursa", "Konya", "Mersin", "Rize", "Sinop", "Tokat", "Van", "Yozgat"}
	for _, city := range cities {
		if recorder := backend.do(t, http.MethodPost, path, session.Token, map[string]string{"city": city}); recorder.Code != http.StatusOK {
			t.Fatalf("add search failed: %d", recorder.Code)
		}
	}
	recorder := backend.do(t, http.MethodPost, path, session.Token, map[string]string{"city": "Ankara"})
	searches := decodeSettings(t, recorder).RecentSearches
	if len(searches) != settings.MaxRecentSearches {
		t.Fatalf("expected %d searches, got %v", settings.MaxRecentSearches, searches)
	}
	if searches[0] != "Ankara" || searches[1] != "Yozgat" || searches[len(searches)-1] != "Antalya" {
		t.Fatalf("unexpected search order %v", searches)
	}

	cleared := backend.do(t, http.MethodPut, path, session.Token, map[string]any{"searches": []string{}})
	if cleared.Code != http.StatusOK || len(decodeSettings(t, cleared).RecentSearches) != 0 {
		t.Fatalf("expected cleared searches, got %d %s", cleared.Code, cleared.Body.String())
	}
}

func TestRoleEndpoint(t *testing.T) {
	backend := newTestBackend(t, "admin@example.com")
	admin := backend.register(t, "Admin@Example.com")

	recorder := backend.do(t, http.MethodGet, "/users/"+admin.UserID+"/role", admin.Token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	if decodeBody(t, recorder)["role"] != "admin" {
		t.Fatalf("expected admin role, got %s", recorder.Body.String())
	}
}

func TestHandleGetSettingsIncludesServiceErrorCode(testContext *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	context, _ := gin.CreateTestContext(recorder)
	context.Params = gin.Params{{Key: "uid", Value: "user-1"}}
	context.Request = httptest.NewRequest(http.MethodGet, "/users/user-1/settings", http.NoBody)

	handler := &httpHandler{
		settingsService: &userdata.Service{},
		logger:          zap.NewNop(),
	}

	handler.handleGetSettings(context)

	if recorder.Code != http.StatusInternalServerError {
		testContext.Fatalf("expected internal server error status, got %d", recorder.Code)
	}
	if decodeBody(testContext, recorder)["code"] != "userdata.get_settings.missing_database" {
		testContext.Fatalf("expected service error code, got %s", recorder.Body.String())
	}
}
