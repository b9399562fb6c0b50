package client

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/preferences"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
)

var _ preferences.RemoteStore = (*Client)(nil)
var _ preferences.IdentitySource = (*Client)(nil)

type cityPayload struct {
	City string `json:"city"`
}

type favoritesPayload struct {
	Favorites []string `json:"favorites"`
}

type searchesPayload struct {
	Searches []string `json:"searches"`
}

type activityPayload struct {
	Action        string         `json:"action"`
	Details       map[string]any `json:"details,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	ClientContext string         `json:"client_context,omitempty"`
}

func userPath(uid, suffix string) string {
	return "/users/" + url.PathEscape(uid) + suffix
}

// GetSettings fetches the settings document of uid.
func (c *Client) GetSettings(ctx context.Context, uid string) (settings.UserSettings, error) {
	var document settings.UserSettings
	if err := c.do(ctx, http.MethodGet, userPath(uid, "/settings"), nil, nil, &document, true); err != nil {
		return settings.UserSettings{}, err
	}
	return document, nil
}

// GetRole fetches the authorization role of uid.
func (c *Client) GetRole(ctx context.Context, uid string) (preferences.Role, error) {
	var role preferences.Role
	if err := c.do(ctx, http.MethodGet, userPath(uid, "/role"), nil, nil, &role, true); err != nil {
		return preferences.Role{}, err
	}
	return role, nil
}

// SaveSettings merges patch into the remote document.
func (c *Client) SaveSettings(ctx context.Context, uid string, patch settings.Patch) error {
	return c.do(ctx, http.MethodPatch, userPath(uid, "/settings"), nil, patch, nil, true)
}

// SaveFavorites replaces the favorites list.
func (c *Client) SaveFavorites(ctx context.Context, uid string, favorites []string) error {
	if favorites == nil {
		favorites = []string{}
	}
	return c.do(ctx, http.MethodPut, userPath(uid, "/favorites"), nil, favoritesPayload{Favorites: favorites}, nil, true)
}

// AddFavorite unions city into the favorites list.
func (c *Client) AddFavorite(ctx context.Context, uid, city string) error {
	return c.do(ctx, http.MethodPost, userPath(uid, "/favorites"), nil, cityPayload{City: city}, nil, true)
}

// RemoveFavorite removes city from the favorites list.
func (c *Client) RemoveFavorite(ctx context.Context, uid, city string) error {
	return c.do(ctx, http.MethodDelete, userPath(uid, "/favorites/"+url.PathEscape(city)), nil, nil, nil, true)
}

// AddSearch moves city to the front of the recent searches.
func (c *Client) AddSearch(ctx context.Context, uid, city string) error {
	return c.do(ctx, http.MethodPost, userPath(uid, "/searches"), nil, cityPayload{City: city}, nil, true)
}

// SaveRecentSearches replaces the recent searches list.
func (c *Client) SaveRecentSearches(ctx context.Context, uid string, searches []string) error {
	if searches == nil {
		searches = []string{}
	}
	return c.do(ctx, http.MethodPut, userPath(uid, "/searches"), nil, searchesPayload{Searches: searches}, nil, true)
}

// LogActivity appends record to the activity log. The backend attributes it
// to the session's identity.
func (c *Client) LogActivity(ctx context.Context, record preferences.ActivityRecord) error {
	return c.do(ctx, http.MethodPost, "/activity", nil, activityPayload{
		Action:        record.Action,
		Details:       record.Details,
		Timestamp:     record.Timestamp,
		ClientContext: record.ClientContext,
	}, nil, true)
}
