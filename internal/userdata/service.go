// Package userdata stores the per-user settings document: preferences,
// favorite cities and recent searches.
package userdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingUserID   = errors.New("user identifier is required")
	noOpLogger         = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew          = "userdata.service.new"
	opGetSettings         = "userdata.get_settings"
	opEnsureDefaults      = "userdata.ensure_defaults"
	opSaveSettings        = "userdata.save_settings"
	opSaveFavorites       = "userdata.save_favorites"
	opAddFavorite         = "userdata.add_favorite"
	opRemoveFavorite      = "userdata.remove_favorite"
	opAddSearch           = "userdata.add_search"
	opSaveRecentSearches  = "userdata.save_recent_searches"
	reasonInvalidInput    = "invalid_input"
	reasonMissingUserID   = "missing_user_id"
	reasonQueryFailed     = "query_failed"
	reasonSaveFailed      = "save_failed"
	reasonMissingDatabase = "missing_database"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IsInvalidInput reports whether err was caused by a rejected patch or city name.
func IsInvalidInput(err error) bool {
	return errors.Is(err, settings.ErrInvalidPatch) || errors.Is(err, settings.ErrInvalidCity)
}

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service reads and writes settings documents.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

// Get returns the stored document, or the defaults when none exists yet.
func (s *Service) Get(ctx context.Context, userID string) (settings.UserSettings, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return settings.UserSettings{}, newServiceError(opGetSettings, reasonMissingUserID, errMissingUserID)
	}
	if s.db == nil {
		return settings.UserSettings{}, newServiceError(opGetSettings, reasonMissingDatabase, errMissingDatabase)
	}
	var document Document
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return settings.Defaults(s.clock()), nil
	}
	if err != nil {
		s.logError(opGetSettings, reasonQueryFailed, err, zap.String("user_id", userID))
		return settings.UserSettings{}, newServiceError(opGetSettings, reasonQueryFailed, err)
	}
	return document.Settings(), nil
}

// EnsureDefaults creates the default document unless one already exists.
func (s *Service) EnsureDefaults(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return newServiceError(opEnsureDefaults, reasonMissingUserID, errMissingUserID)
	}
	if s.db == nil {
		return newServiceError(opEnsureDefaults, reasonMissingDatabase, errMissingDatabase)
	}
	document := documentFromSettings(userID, settings.Defaults(s.clock()))
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&document).Error
	if err != nil {
		s.logError(opEnsureDefaults, reasonSaveFailed, err, zap.String("user_id", userID))
		return newServiceError(opEnsureDefaults, reasonSaveFailed, err)
	}
	return nil
}

// SavePatch merges patch into the stored document.
func (s *Service) SavePatch(ctx context.Context, userID string, patch settings.Patch) (settings.UserSettings, error) {
	if err := patch.Validate(); err != nil {
		return settings.UserSettings{}, newServiceError(opSaveSettings, reasonInvalidInput, err)
	}
	return s.update(ctx, opSaveSettings, userID, func(current settings.UserSettings) (settings.UserSettings, error) {
		updated := current.Apply(patch)
		updated.Favorites = settings.Dedupe(updated.Favorites)
		updated.RecentSearches = settings.Dedupe(updated.RecentSearches)
		return updated, nil
	})
}

// SaveFavorites replaces the favorites list.
func (s *Service) SaveFavorites(ctx context.Context, userID string, favorites []string) (settings.UserSettings, error) {
	favorites = settings.Dedupe(favorites)
	patch := settings.Patch{Favorites: &favorites}
	if err := patch.Validate(); err != nil {
		return settings.UserSettings{}, newServiceError(opSaveFavorites, reasonInvalidInput, err)
	}
	return s.update(ctx, opSaveFavorites, userID, func(current settings.UserSettings) (settings.UserSettings, error) {
		return current.Apply(patch), nil
	})
}

// AddFavorite appends city unless it is already a favorite.
func (s *Service) AddFavorite(ctx context.Context, userID, city string) (settings.UserSettings, error) {
	city, err := settings.NormalizeCity(city)
	if err != nil {
		return settings.UserSettings{}, newServiceError(opAddFavorite, reasonInvalidInput, err)
	}
	return s.update(ctx, opAddFavorite, userID, func(current settings.UserSettings) (settings.UserSettings, error) {
		favorites, _ := settings.AppendUnique(current.Favorites, city)
		if len(favorites) > settings.MaxFavorites {
			return settings.UserSettings{}, fmt.Errorf("%w: favorites exceed %d entries", settings.ErrInvalidPatch, settings.MaxFavorites)
		}
		current.Favorites = favorites
		return current, nil
	})
}

// RemoveFavorite drops city from the favorites.
func (s *Service) RemoveFavorite(ctx context.Context, userID, city string) (settings.UserSettings, error) {
	city, err := settings.NormalizeCity(city)
	if err != nil {
		return settings.UserSettings{}, newServiceError(opRemoveFavorite, reasonInvalidInput, err)
	}
	return s.update(ctx, opRemoveFavorite, userID, func(current settings.UserSettings) (settings.UserSettings, error) {
		current.Favorites, _ = settings.RemoveItem(current.Favorites, city)
		return current, nil
	})
}

// AddSearch moves city to the front of the recent searches.
func (s *Service) AddSearch(ctx context.Context, userID, city string) (settings.UserSettings, error) {
	city, err := settings.NormalizeCity(city)
	if err != nil {
		return settings.UserSettings{}, newServiceError(opAddSearch, reasonInvalidInput, err)
	}
	return s.update(ctx, opAddSearch, userID, func(current settings.UserSettings) (settings.UserSettings, error) {
		current.RecentSearches = settings.MoveToFront(current.RecentSearches, city, settings.MaxRecentSearches)
		return current, nil
	})
}

// SaveRecentSearches replaces the recent searches, keeping the first
// MaxRecentSearches distinct entries.
func (s *Service) SaveRecentSearches(ctx context.Context, userID string, searches []string) (settings.UserSettings, error) {
	searches = settings.Dedupe(searches)
	if len(searches) > settings.MaxRecentSearches {
		searches = searches[:settings.MaxRecentSearches]
	}
	patch := settings.Patch{RecentSearches: &searches}
	if err := patch.Validate(); err != nil {
		return settings.UserSettings{}, newServiceError(opSaveRecentSearches, reasonInvalidInput, err)
	}
	return s.update(ctx, opSaveRecentSearches, userID, func(current settings.UserSettings) (settings.UserSettings, error) {
		return current.Apply(patch), nil
	})
}

func (s *Service) update(ctx context.Context, operation, userID string, mutate func(settings.UserSettings) (settings.UserSettings, error)) (settings.UserSettings, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return settings.UserSettings{}, newServiceError(operation, reasonMissingUserID, errMissingUserID)
	}
	if s.db == nil {
		return settings.UserSettings{}, newServiceError(operation, reasonMissingDatabase, errMissingDatabase)
	}

	var result settings.UserSettings
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current := settings.Defaults(s.clock())
		var existing Document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			Take(&existing).Error
		if err == nil {
			current = existing.Settings()
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(operation, reasonQueryFailed, err, zap.String("user_id", userID))
			return newServiceError(operation, reasonQueryFailed, err)
		}

		updated, err := mutate(current)
		if err != nil {
			return newServiceError(operation, reasonInvalidInput, err)
		}
		updated.LastUpdated = s.clock().UTC()

		document := documentFromSettings(userID, updated)
		if err := tx.Save(&document).Error; err != nil {
			s.logError(operation, reasonSaveFailed, err, zap.String("user_id", userID))
			return newServiceError(operation, reasonSaveFailed, err)
		}
		result = document.Settings()
		return nil
	})
	if txErr != nil {
		return settings.UserSettings{}, txErr
	}
	return result, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger := s.logger
	if logger == nil {
		logger = noOpLogger
	}
	logger.Error("userdata service error", attrs...)
}
