package users

import (
	"strings"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a backend identity. Anonymous users carry no email or password.
type User struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email        *string   `gorm:"column:user_email;size:320;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:255"`
	DisplayName  string    `gorm:"column:user_display_name;size:320"`
	IsAnonymous  bool      `gorm:"column:is_anonymous;not null"`
	Role         string    `gorm:"column:user_role;size:32;not null"`
	Permissions  []string  `gorm:"column:permissions;serializer:json"`
	IsActive     bool      `gorm:"column:is_active;not null"`
	LastLoginAt  time.Time `gorm:"column:last_login_at"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (User) TableName() string {
	return "users"
}

// EmailAddress returns the email or an empty string for anonymous users.
func (u User) EmailAddress() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

// Role is the authorization role attached to a user.
type Role struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// IsAdmin reports whether the role grants admin access.
func (r Role) IsAdmin() bool {
	return r.Role == RoleAdmin
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}
