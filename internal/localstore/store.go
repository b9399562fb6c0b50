// Package localstore persists small key/value entries on the current device.
//
// Reads are served from an in-memory cache loaded when the store opens, so Get
// never touches the disk. Writes go through to sqlite; a failed write is logged
// and the cached value still wins for the rest of the process.
package localstore

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Keys used by the client.
const (
	KeySettings = "settings"
	KeyLanguage = "language"
	KeySession  = "session"
)

var errMissingPath = errors.New("localstore: path is required")

// Entry is a single persisted key/value pair.
type Entry struct {
	Key              string `gorm:"column:entry_key;primaryKey;size:190;not null"`
	Value            string `gorm:"column:entry_value;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "local_entries"
}

// Config describes how to open a Store.
type Config struct {
	Path   string
	Logger *zap.Logger
	Clock  func() time.Time
}

// Store is a write-through key/value cache over a sqlite file.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	clock  func() time.Time

	mu      sync.RWMutex
	entries map[string]string
}

// Open opens (or creates) the sqlite file and loads every entry into memory.
func Open(cfg Config) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errMissingPath
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("localstore: open %s: %w", path, err)
	}
	return newStore(db, cfg.Logger, cfg.Clock)
}

func newStore(db *gorm.DB, log *zap.Logger, clock func() time.Time) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("localstore: migrate: %w", err)
	}

	var rows []Entry
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("localstore: load: %w", err)
	}
	entries := make(map[string]string, len(rows))
	for _, row := range rows {
		entries[row.Key] = row.Value
	}

	return &Store{
		db:      db,
		logger:  log,
		clock:   clock,
		entries: entries,
	}, nil
}

// Get returns the cached value for key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[key]
	return value, ok
}

// Set stores value under key.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value

	entry := Entry{Key: key, Value: value, UpdatedAtSeconds: s.clock().UTC().Unix()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"entry_value", "updated_at_s"}),
	}).Create(&entry).Error
	if err != nil {
		s.logger.Warn("local entry write failed", zap.String("key", key), zap.Error(err))
	}
}

// Remove deletes key.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)

	if err := s.db.Where("entry_key = ?", key).Delete(&Entry{}).Error; err != nil {
		s.logger.Warn("local entry delete failed", zap.String("key", key), zap.Error(err))
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
