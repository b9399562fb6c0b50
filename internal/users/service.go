package users

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/auth"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound indicates no user exists for the identifier.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrInvalidEmail indicates the email address failed validation.
	ErrInvalidEmail = errors.New("users: invalid email")
	// ErrEmailTaken indicates another user already registered the email.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates the email/password pair did not match.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrInactiveUser indicates the account was deactivated.
	ErrInactiveUser = errors.New("users: user inactive")

	validate = validator.New()
)

// SettingsInitializer creates the default settings document for a new user.
type SettingsInitializer interface {
	EnsureDefaults(ctx context.Context, userID string) error
}

// ServiceConfig describes the dependencies required for user management.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDProvider  IDProvider
	Settings    SettingsInitializer
	AdminEmails []string
	Logger      *zap.Logger
}

// Service manages anonymous and email/password identities.
type Service struct {
	db          *gorm.DB
	now         func() time.Time
	ids         IDProvider
	settings    SettingsInitializer
	adminEmails []string
	logger      *zap.Logger
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	adminEmails := make([]string, 0, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		if normalized := normalizeEmail(email); normalized != "" {
			adminEmails = append(adminEmails, normalized)
		}
	}
	return &Service{
		db:          cfg.Database,
		now:         clock,
		ids:         ids,
		settings:    cfg.Settings,
		adminEmails: adminEmails,
		logger:      logger,
	}, nil
}

// CreateAnonymous creates an identity with no credential attached.
func (s *Service) CreateAnonymous(ctx context.Context) (User, error) {
	userID, err := s.ids.NewID()
	if err != nil {
		return User{}, err
	}
	now := s.now().UTC()
	user := User{
		UserID:      userID,
		IsAnonymous: true,
		Role:        RoleUser,
		Permissions: []string{},
		IsActive:    true,
		LastLoginAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return User{}, err
	}
	s.initializeSettings(ctx, userID)
	return user, nil
}

// RegisterRequest carries the fields accepted at registration.
type RegisterRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// Register creates an email/password identity and its default settings document.
func (s *Service) Register(ctx context.Context, request RegisterRequest) (User, error) {
	email := normalizeEmail(request.Email)
	if err := validate.Var(email, "required,email,max=320"); err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	hash, err := auth.HashPassword(request.Password)
	if err != nil {
		return User{}, err
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("user_email = ?", email).Count(&existing).Error; err != nil {
		return User{}, err
	}
	if existing > 0 {
		return User{}, ErrEmailTaken
	}

	userID, err := s.ids.NewID()
	if err != nil {
		return User{}, err
	}
	role := RoleUser
	if slices.Contains(s.adminEmails, email) {
		role = RoleAdmin
	}
	user := User{
		UserID:       userID,
		Email:        &email,
		PasswordHash: hash,
		DisplayName:  normalize(request.DisplayName),
		Role:         role,
		Permissions:  []string{},
		IsActive:     true,
		LastLoginAt:  s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return User{}, err
	}
	s.initializeSettings(ctx, userID)
	s.logger.Info("user registered", zap.String("user_id", userID), zap.String("role", role))
	return user, nil
}

// Login verifies an email/password pair and stamps the last login time.
func (s *Service) Login(ctx context.Context, email, password string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("user_email = ?", normalizeEmail(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return User{}, ErrInactiveUser
	}
	if err := s.RecordLogin(ctx, user.UserID); err != nil {
		return User{}, err
	}
	user.LastLoginAt = s.now().UTC()
	return user, nil
}

// Get returns the user for userID.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("user_id = ?", normalize(userID)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// GetRole returns the role and permissions of userID.
func (s *Service) GetRole(ctx context.Context, userID string) (Role, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return Role{}, err
	}
	role := Role{Role: user.Role, Permissions: user.Permissions}
	if role.Role == "" {
		role.Role = RoleUser
	}
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	return role, nil
}

// RecordLogin stamps the last login time of userID.
func (s *Service) RecordLogin(ctx context.Context, userID string) error {
	result := s.db.WithContext(ctx).Model(&User{}).
		Where("user_id = ?", normalize(userID)).
		Update("last_login_at", s.now().UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Service) initializeSettings(ctx context.Context, userID string) {
	if s.settings == nil {
		return
	}
	if err := s.settings.EnsureDefaults(ctx, userID); err != nil {
		s.logger.Warn("default settings not created", zap.String("user_id", userID), zap.Error(err))
	}
}
