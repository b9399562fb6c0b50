// Package activity keeps the append-only audit log of user actions.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxActionLength  = 64
)

var (
	ErrMissingAction = errors.New("activity: action is required")
	ErrMissingUserID = errors.New("activity: user id is required")
)

// Entry is a persisted activity record.
type Entry struct {
	EntryID          string `gorm:"column:entry_id;primaryKey;size:64;not null"`
	Action           string `gorm:"column:action;size:64;not null;index"`
	UserID           string `gorm:"column:user_id;size:190;not null;index"`
	UserEmail        string `gorm:"column:user_email;size:320"`
	IsAnonymous      bool   `gorm:"column:is_anonymous;not null"`
	DetailsJSON      string `gorm:"column:details_json;type:text"`
	ClientContext    string `gorm:"column:client_context;size:512"`
	TimestampSeconds int64  `gorm:"column:timestamp_s;not null;index"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "user_logs"
}

// Record is an activity record as submitted by a client or listed for admins.
type Record struct {
	ID            string         `json:"id,omitempty"`
	Action        string         `json:"action"`
	UserID        string         `json:"user_id"`
	UserEmail     string         `json:"user_email,omitempty"`
	IsAnonymous   bool           `json:"is_anonymous"`
	Details       map[string]any `json:"details,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	ClientContext string         `json:"client_context,omitempty"`
}

// IDProvider issues entry identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ListFilter narrows an admin listing.
type ListFilter struct {
	Action string
	UserID string
	Limit  int
}

type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service appends, lists and prunes activity records.
type Service struct {
	db     *gorm.DB
	ids    IDProvider
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("activity: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("activity: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, ids: cfg.IDProvider, clock: clock, logger: logger}, nil
}

// Record appends record. A zero timestamp is replaced by the current time.
func (s *Service) Record(ctx context.Context, record Record) (Record, error) {
	record.Action = strings.TrimSpace(record.Action)
	record.UserID = strings.TrimSpace(record.UserID)
	if record.Action == "" || len(record.Action) > maxActionLength {
		return Record{}, ErrMissingAction
	}
	if record.UserID == "" {
		return Record{}, ErrMissingUserID
	}
	now := s.clock().UTC()
	if record.Timestamp.IsZero() {
		record.Timestamp = now
	}

	entryID, err := s.ids.NewID()
	if err != nil {
		return Record{}, err
	}
	detailsJSON := ""
	if len(record.Details) > 0 {
		encoded, err := json.Marshal(record.Details)
		if err != nil {
			return Record{}, fmt.Errorf("activity: encode details: %w", err)
		}
		detailsJSON = string(encoded)
	}

	entry := Entry{
		EntryID:          entryID,
		Action:           record.Action,
		UserID:           record.UserID,
		UserEmail:        strings.TrimSpace(record.UserEmail),
		IsAnonymous:      record.IsAnonymous,
		DetailsJSON:      detailsJSON,
		ClientContext:    record.ClientContext,
		TimestampSeconds: record.Timestamp.UTC().Unix(),
		CreatedAtSeconds: now.Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logger.Error("activity record insert failed",
			zap.String("action", record.Action),
			zap.String("user_id", record.UserID),
			zap.Error(err))
		return Record{}, err
	}
	record.ID = entryID
	return record, nil
}

// List returns records newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := s.db.WithContext(ctx).Model(&Entry{})
	if action := strings.TrimSpace(filter.Action); action != "" {
		query = query.Where("action = ?", action)
	}
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	var entries []Entry
	if err := query.Order("timestamp_s DESC").Order("entry_id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		record := Record{
			ID:            entry.EntryID,
			Action:        entry.Action,
			UserID:        entry.UserID,
			UserEmail:     entry.UserEmail,
			IsAnonymous:   entry.IsAnonymous,
			Timestamp:     time.Unix(entry.TimestampSeconds, 0).UTC(),
			ClientContext: entry.ClientContext,
		}
		if entry.DetailsJSON != "" {
			if err := json.Unmarshal([]byte(entry.DetailsJSON), &record.Details); err != nil {
				s.logger.Warn("activity details unreadable", zap.String("entry_id", entry.EntryID), zap.Error(err))
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// Prune deletes records older than retention and returns how many were removed.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.clock().UTC().Add(-retention).Unix()
	result := s.db.WithContext(ctx).Where("timestamp_s < ?", cutoff).Delete(&Entry{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
