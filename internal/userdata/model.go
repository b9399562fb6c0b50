package userdata

import (
	"time"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
)

// Document is the persisted settings document of a single user.
type Document struct {
	UserID            string   `gorm:"column:user_id;primaryKey;size:190;not null"`
	Theme             string   `gorm:"column:theme;size:16;not null"`
	Language          string   `gorm:"column:language;size:16;not null"`
	Region            string   `gorm:"column:region;size:8;not null"`
	Units             string   `gorm:"column:units;size:16;not null"`
	Favorites         []string `gorm:"column:favorites;serializer:json"`
	RecentSearches    []string `gorm:"column:recent_searches;serializer:json"`
	Notifications     bool     `gorm:"column:notifications;not null"`
	LastUpdatedMillis int64    `gorm:"column:last_updated_ms;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "user_settings"
}

func documentFromSettings(userID string, value settings.UserSettings) Document {
	normalized := value.Normalize()
	return Document{
		UserID:            userID,
		Theme:             string(normalized.Theme),
		Language:          normalized.Language,
		Region:            string(normalized.Region),
		Units:             string(normalized.Units),
		Favorites:         normalized.Favorites,
		RecentSearches:    normalized.RecentSearches,
		Notifications:     normalized.Notifications,
		LastUpdatedMillis: normalized.LastUpdated.UTC().UnixMilli(),
	}
}

// Settings converts the stored document into the shared settings model.
func (d Document) Settings() settings.UserSettings {
	return settings.UserSettings{
		Theme:          settings.Theme(d.Theme),
		Language:       d.Language,
		Region:         settings.Region(d.Region),
		Units:          settings.Units(d.Units),
		Favorites:      d.Favorites,
		RecentSearches: d.RecentSearches,
		Notifications:  d.Notifications,
		LastUpdated:    time.UnixMilli(d.LastUpdatedMillis).UTC(),
	}.Normalize()
}
