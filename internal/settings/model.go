// Package settings defines the user settings document shared by the backend
// document store and the client-side reconciliation store.
package settings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Theme enumerates supported color themes.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeAuto  Theme = "auto"
)

// Units enumerates measurement systems.
type Units string

const (
	UnitsMetric   Units = "metric"
	UnitsImperial Units = "imperial"
)

// Region narrows city suggestions to a geographic area.
type Region string

const (
	RegionTurkey       Region = "TR"
	RegionEurope       Region = "EU"
	RegionAfrica       Region = "AF"
	RegionNorthAmerica Region = "NA"
	RegionSouthAmerica Region = "SA"
	RegionAsia         Region = "AS"
	RegionOceania      Region = "OC"
	RegionAll          Region = "ALL"
)

const (
	// MaxRecentSearches bounds the recent search history.
	MaxRecentSearches = 10
	// LocalFavoritesLimit bounds favorites kept on a device without an identity.
	LocalFavoritesLimit = 5
	// MaxFavorites bounds favorites accepted by the document store.
	MaxFavorites = 100

	maxCityNameLength = 120

	DefaultLanguage = "tr"
)

var (
	// ErrInvalidPatch indicates a patch carried an unsupported value.
	ErrInvalidPatch = errors.New("settings: invalid patch")
	// ErrInvalidCity indicates a blank or oversized city name.
	ErrInvalidCity = errors.New("settings: invalid city name")

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// UserSettings is the per-user preference document.
type UserSettings struct {
	Theme          Theme     `json:"theme"`
	Language       string    `json:"language"`
	Region         Region    `json:"region"`
	Units          Units     `json:"units"`
	Favorites      []string  `json:"favorites"`
	RecentSearches []string  `json:"recent_searches"`
	Notifications  bool      `json:"notifications"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Defaults returns the documented default settings stamped with now.
func Defaults(now time.Time) UserSettings {
	return UserSettings{
		Theme:          ThemeAuto,
		Language:       DefaultLanguage,
		Region:         RegionTurkey,
		Units:          UnitsMetric,
		Favorites:      []string{},
		RecentSearches: []string{},
		Notifications:  true,
		LastUpdated:    now.UTC(),
	}
}

// Clone returns a deep copy so callers never share list backing arrays.
func (s UserSettings) Clone() UserSettings {
	clone := s
	clone.Favorites = cloneList(s.Favorites)
	clone.RecentSearches = cloneList(s.RecentSearches)
	return clone
}

// Apply returns a copy of s with every non-nil patch field applied.
// LastUpdated is left untouched.
func (s UserSettings) Apply(patch Patch) UserSettings {
	updated := s.Clone()
	if patch.Theme != nil {
		updated.Theme = *patch.Theme
	}
	if patch.Language != nil {
		updated.Language = *patch.Language
	}
	if patch.Region != nil {
		updated.Region = *patch.Region
	}
	if patch.Units != nil {
		updated.Units = *patch.Units
	}
	if patch.Favorites != nil {
		updated.Favorites = cloneList(*patch.Favorites)
	}
	if patch.RecentSearches != nil {
		updated.RecentSearches = cloneList(*patch.RecentSearches)
	}
	if patch.Notifications != nil {
		updated.Notifications = *patch.Notifications
	}
	return updated
}

// Normalize fills zero values with defaults, e.g. after decoding a partial document.
func (s UserSettings) Normalize() UserSettings {
	defaults := Defaults(s.LastUpdated)
	normalized := s.Clone()
	if normalized.Theme == "" {
		normalized.Theme = defaults.Theme
	}
	if strings.TrimSpace(normalized.Language) == "" {
		normalized.Language = defaults.Language
	}
	if normalized.Region == "" {
		normalized.Region = defaults.Region
	}
	if normalized.Units == "" {
		normalized.Units = defaults.Units
	}
	return normalized
}

// Patch is a partial settings update; nil fields are left untouched.
type Patch struct {
	Theme          *Theme    `json:"theme,omitempty" validate:"omitempty,oneof=light dark auto"`
	Language       *string   `json:"language,omitempty" validate:"omitempty,min=2,max=16"`
	Region         *Region   `json:"region,omitempty" validate:"omitempty,oneof=TR EU AF NA SA AS OC ALL"`
	Units          *Units    `json:"units,omitempty" validate:"omitempty,oneof=metric imperial"`
	Favorites      *[]string `json:"favorites,omitempty"`
	RecentSearches *[]string `json:"recent_searches,omitempty"`
	Notifications  *bool     `json:"notifications,omitempty"`
}

// FullPatch converts a complete document into a patch touching every field.
func FullPatch(s UserSettings) Patch {
	theme := s.Theme
	language := s.Language
	region := s.Region
	units := s.Units
	favorites := cloneList(s.Favorites)
	searches := cloneList(s.RecentSearches)
	notifications := s.Notifications
	return Patch{
		Theme:          &theme,
		Language:       &language,
		Region:         &region,
		Units:          &units,
		Favorites:      &favorites,
		RecentSearches: &searches,
		Notifications:  &notifications,
	}
}

// IsEmpty reports whether the patch touches no field.
func (p Patch) IsEmpty() bool {
	return p.Theme == nil && p.Language == nil && p.Region == nil && p.Units == nil &&
		p.Favorites == nil && p.RecentSearches == nil && p.Notifications == nil
}

// Validate checks enum fields and list contents.
func (p Patch) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if p.Favorites != nil {
		if len(*p.Favorites) > MaxFavorites {
			return fmt.Errorf("%w: favorites exceed %d entries", ErrInvalidPatch, MaxFavorites)
		}
		if err := validateCities(*p.Favorites); err != nil {
			return err
		}
	}
	if p.RecentSearches != nil {
		if len(*p.RecentSearches) > MaxRecentSearches {
			return fmt.Errorf("%w: recent searches exceed %d entries", ErrInvalidPatch, MaxRecentSearches)
		}
		if err := validateCities(*p.RecentSearches); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeCity trims a city name and checks its bounds.
func NormalizeCity(raw string) (string, error) {
	city := strings.TrimSpace(raw)
	if city == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCity)
	}
	if len(city) > maxCityNameLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCity, maxCityNameLength)
	}
	return city, nil
}

func validateCities(cities []string) error {
	for _, city := range cities {
		if _, err := NormalizeCity(city); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
		}
	}
	return nil
}

func cloneList(values []string) []string {
	if values == nil {
		return []string{}
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}
