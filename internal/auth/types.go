package auth

import (
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// maxUsernameLength is the maximum allowed username length.
const maxUsernameLength = 64

// maxFullNameLength bounds the display name stored with an account.
const maxFullNameLength = 128

// MinPasswordLength is the shortest password accepted anywhere
// (registration, password change, recovery).
const MinPasswordLength = 8

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return len(username) <= maxUsernameLength && usernamePattern.MatchString(username)
}

// ValidatePassword enforces the minimum length, counted in characters.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

// ValidateFullName bounds the display name length, counted in characters.
func ValidateFullName(fullName string) error {
	if utf8.RuneCountInString(fullName) > maxFullNameLength {
		return errFullNameTooLong
	}
	return nil
}

var errFullNameTooLong = errors.New("full name must be at most 128 characters")

// User represents a gym account. Usernames are unique ignoring case.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	FullName      string    `json:"full_name"`
	IsGlobalAdmin bool      `json:"is_global_admin"`
	PasswordHash  string    `json:"-"` // never serialised
	PasswordSalt  string    `json:"-"` // legacy records only
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewUser builds a User, validating the username and requiring a hash.
func NewUser(username, fullName, passwordHash string, isGlobalAdmin bool) (*User, error) {
	username = strings.TrimSpace(username)
	if !IsValidUsername(username) {
		return nil, ErrInvalidUsername
	}
	if passwordHash == "" {
		return nil, errors.New("password hash is required")
	}

	fullName = strings.TrimSpace(fullName)
	if err := ValidateFullName(fullName); err != nil {
		return nil, err
	}

	return &User{
		Username:      username,
		FullName:      fullName,
		IsGlobalAdmin: isGlobalAdmin,
		PasswordHash:  passwordHash,
	}, nil
}

// HasLegacyHash reports whether the stored hash still uses the salted SHA-256 scheme.
func (u *User) HasLegacyHash() bool {
	return u.PasswordSalt != ""
}

// RefreshToken is a stored refresh-token row. One row backs one login session.
type RefreshToken struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	TokenHash  string     `json:"-"` // never serialised
	ExpiresAt  time.Time  `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
	DeviceInfo string     `json:"device_info,omitempty"`
	IPAddress  string     `json:"ip_address,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Expired reports whether the token is past its expiry at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TokenMeta is the client description recorded with a refresh token.
type TokenMeta struct {
	DeviceInfo string
	IPAddress  string
	UserAgent  string
}

// Session is the user-facing view of a refresh token.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	DeviceInfo string     `json:"device_info,omitempty"`
	IPAddress  string     `json:"ip_address,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Current    bool       `json:"current"`
}

// SessionFromToken converts a stored token into its Session view.
func SessionFromToken(t *RefreshToken) Session {
	return Session{
		ID:         t.ID,
		UserID:     t.UserID,
		CreatedAt:  t.CreatedAt,
		ExpiresAt:  t.ExpiresAt,
		DeviceInfo: t.DeviceInfo,
		IPAddress:  t.IPAddress,
		UserAgent:  t.UserAgent,
		LastUsedAt: t.LastUsedAt,
	}
}

// Caller identifies who is asking for a session operation.
type Caller struct {
	UserID        string
	IsGlobalAdmin bool
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrTokenInvalid          = errors.New("invalid token")
	ErrForbidden             = errors.New("insufficient permissions")
	ErrSessionNotFound       = errors.New("session not found")
	ErrUserNotFound          = errors.New("user not found")
	ErrUsernameExists        = errors.New("username already exists")
	ErrInvalidUsername       = errors.New("username must be 1-64 characters: letters, digits, '.', '-', '_'")
	ErrPasswordTooShort      = errors.New("password must be at least 8 characters")
	ErrRecoveryDisabled      = errors.New("recovery is disabled")
	ErrSigningSecretRequired = errors.New("jwt signing secret is required in production")
)
