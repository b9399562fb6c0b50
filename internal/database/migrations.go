package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillSettingsDocuments = "2026-09-02_backfill_settings_documents"
	migrationNormalizeUserEmails       = "2026-09-20_normalize_user_emails"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillSettingsDocuments, apply: backfillSettingsDocuments},
		{name: migrationNormalizeUserEmails, apply: normalizeUserEmails},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillSettingsDocuments creates default settings for users registered
// before settings documents were created at sign-up.
func backfillSettingsDocuments(db *gorm.DB) error {
	defaults := settings.Defaults(time.Now())
	return db.Exec(`INSERT INTO user_settings
		(user_id, theme, language, region, units, favorites, recent_searches, notifications, last_updated_ms)
		SELECT u.user_id, ?, ?, ?, ?, '[]', '[]', ?, ?
		FROM users u
		LEFT JOIN user_settings s ON s.user_id = u.user_id
		WHERE s.user_id IS NULL`,
		string(defaults.Theme),
		defaults.Language,
		string(defaults.Region),
		string(defaults.Units),
		defaults.Notifications,
		defaults.LastUpdated.UnixMilli(),
	).Error
}

func normalizeUserEmails(db *gorm.DB) error {
	return db.Exec(`UPDATE users SET user_email = lower(trim(user_email))
		WHERE user_email IS NOT NULL AND user_email <> lower(trim(user_email))`).Error
}
