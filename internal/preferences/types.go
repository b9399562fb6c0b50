package preferences

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
)

var (
	// ErrPersistenceFailure reports a remote write that failed after an optimistic update.
	// The in-memory snapshot has already been rolled back when this is returned.
	ErrPersistenceFailure = errors.New("preferences: persistence failure")
	// ErrFetchFailure reports a failed remote read. It is logged, never returned to callers.
	ErrFetchFailure = errors.New("preferences: fetch failure")
	// ErrPermissionDenied reports that the remote store rejected an operation by authorization rules.
	ErrPermissionDenied = errors.New("preferences: permission denied")
)

// State is the authority state of a Store.
type State string

const (
	StateAnonymousLocal State = "anonymous_local"
	StateResolving      State = "resolving"
	StateRemoteBound    State = "remote_bound"
)

// Identity is the handle the identity source reports for a signed-in user.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// Role carries the authorization role fetched alongside settings.
type Role struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// DefaultRole is the role assumed until the remote role resolves.
func DefaultRole() Role {
	return Role{Role: RoleUser, Permissions: []string{}}
}

// Activity actions emitted by the store.
const (
	ActionLogin            = "login"
	ActionLogout           = "logout"
	ActionFavoriteAdded    = "favorite_added"
	ActionFavoriteRemoved  = "favorite_removed"
	ActionFavoritesCleared = "favorites_cleared"
	ActionSearchAdded      = "search_added"
	ActionSearchesCleared  = "searches_cleared"
	ActionSettingsReset    = "settings_reset"
)

// ActivityRecord is an append-only audit entry.
type ActivityRecord struct {
	Action        string         `json:"action"`
	UID           string         `json:"user_id"`
	Email         string         `json:"user_email,omitempty"`
	IsAnonymous   bool           `json:"is_anonymous"`
	Details       map[string]any `json:"details,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	ClientContext string         `json:"client_context"`
}

// LocalStore is synchronous device-scoped persistence. Writes are assumed infallible.
type LocalStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
}

// RemoteStore is the durable per-user document store.
type RemoteStore interface {
	GetSettings(ctx context.Context, uid string) (settings.UserSettings, error)
	GetRole(ctx context.Context, uid string) (Role, error)
	SaveSettings(ctx context.Context, uid string, patch settings.Patch) error
	SaveFavorites(ctx context.Context, uid string, favorites []string) error
	AddFavorite(ctx context.Context, uid, city string) error
	RemoveFavorite(ctx context.Context, uid, city string) error
	AddSearch(ctx context.Context, uid, city string) error
	SaveRecentSearches(ctx context.Context, uid string, searches []string) error
	LogActivity(ctx context.Context, record ActivityRecord) error
}

// IdentitySource reports identity transitions. Subscribe delivers the current
// identity first (nil when signed out) and then every transition until the
// returned release function runs or ctx ends.
type IdentitySource interface {
	Subscribe(ctx context.Context) (<-chan *Identity, func())
	SignInAnonymously(ctx context.Context) (Identity, error)
	SignOut(ctx context.Context) error
}
