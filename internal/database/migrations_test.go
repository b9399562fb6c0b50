package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/userdata"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsSettingsDocuments(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&users.User{}, &userdata.Document{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	mixedCaseEmail := " Ayse@Example.COM "
	legacyUsers := []users.User{
		{UserID: "user-1", Email: &mixedCaseEmail, Role: users.RoleUser, IsActive: true},
		{UserID: "user-2", IsAnonymous: true, Role: users.RoleUser, IsActive: true},
	}
	if err := database.Create(&legacyUsers).Error; err != nil {
		testContext.Fatalf("failed to insert users: %v", err)
	}
	existing := userdata.Document{UserID: "user-2", Theme: "dark", Language: "en", Region: "EU", Units: "metric"}
	if err := database.Create(&existing).Error; err != nil {
		testContext.Fatalf("failed to insert settings: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var backfilled userdata.Document
	if err := database.Where("user_id = ?", "user-1").Take(&backfilled).Error; err != nil {
		testContext.Fatalf("expected settings document to be backfilled: %v", err)
	}
	restored := backfilled.Settings()
	if restored.Theme != settings.ThemeAuto || restored.Language != settings.DefaultLanguage || !restored.Notifications {
		testContext.Fatalf("unexpected backfilled settings %+v", restored)
	}
	if len(restored.Favorites) != 0 || len(restored.RecentSearches) != 0 {
		testContext.Fatalf("expected empty lists, got %+v", restored)
	}

	var untouched userdata.Document
	if err := database.Where("user_id = ?", "user-2").Take(&untouched).Error; err != nil {
		testContext.Fatalf("failed to reload settings: %v", err)
	}
	if untouched.Theme != "dark" {
		testContext.Fatalf("expected existing document to be kept, got %s", untouched.Theme)
	}

	var normalized users.User
	if err := database.Where("user_id = ?", "user-1").Take(&normalized).Error; err != nil {
		testContext.Fatalf("failed to reload user: %v", err)
	}
	if normalized.EmailAddress() != "ayse@example.com" {
		testContext.Fatalf("expected normalized email, got %q", normalized.EmailAddress())
	}

	var records []migrationRecord
	if err := database.Find(&records).Error; err != nil {
		testContext.Fatalf("failed to load migration records: %v", err)
	}
	if len(records) != 2 {
		testContext.Fatalf("expected 2 migration records, got %d", len(records))
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected reapplying migrations to be a no-op: %v", err)
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "weatherdash.db")
	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	service, err := userdata.NewService(userdata.ServiceConfig{Database: database})
	if err != nil {
		testContext.Fatalf("failed to create settings service: %v", err)
	}
	if err := service.EnsureDefaults(context.Background(), "user-1"); err != nil {
		testContext.Fatalf("expected settings table to exist: %v", err)
	}

	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}
