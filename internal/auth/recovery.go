package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Recovery resets the designated admin account when presented with the
// operator recovery token. It is disabled when no token is configured.
type Recovery struct {
	tokenDigest [sha256.Size]byte
	enabled     bool
	users       UserRepository
	tokens      TokenRepository
	logger      *slog.Logger
}

// NewRecovery creates a Recovery gated by operatorToken.
func NewRecovery(operatorToken string, users UserRepository, tokens TokenRepository, logger *slog.Logger) *Recovery {
	return &Recovery{
		tokenDigest: sha256.Sum256([]byte(operatorToken)),
		enabled:     operatorToken != "",
		users:       users,
		tokens:      tokens,
		logger:      logger,
	}
}

// Enabled reports whether a recovery token is configured.
func (r *Recovery) Enabled() bool {
	return r.enabled
}

// Reset creates or resets adminUsername with newPassword and the global admin
// flag, then revokes all of that account's sessions.
//
// Checks run in order: disabled (ErrRecoveryDisabled), wrong token
// (ErrInvalidCredentials), short password (ErrPasswordTooShort), bad
// username (ErrInvalidUsername).
func (r *Recovery) Reset(ctx context.Context, adminUsername, presentedToken, newPassword string) (*User, error) {
	if !r.enabled {
		return nil, ErrRecoveryDisabled
	}

	// Compare digests so the comparison does not depend on token length.
	presented := sha256.Sum256([]byte(presentedToken))
	if subtle.ConstantTimeCompare(presented[:], r.tokenDigest[:]) != 1 {
		return nil, ErrInvalidCredentials
	}

	if err := ValidatePassword(newPassword); err != nil {
		return nil, err
	}

	user, created, err := ResetAdmin(ctx, r.users, r.tokens, adminUsername, newPassword)
	if err != nil {
		return nil, err
	}

	r.logger.Warn("admin account reset via recovery token",
		"username", user.Username, "user_id", user.ID, "created", created)
	return user, nil
}

// ResetAdmin creates username as a global admin with password, or resets an
// existing account's password (clearing any legacy salt) and grants the admin
// flag. All refresh tokens of the account are deleted. It is shared by the
// recovery endpoint and the reset-admin command.
func ResetAdmin(ctx context.Context, users UserRepository, tokens TokenRepository, username, password string) (*User, bool, error) {
	username = strings.TrimSpace(username)
	if !IsValidUsername(username) {
		return nil, false, ErrInvalidUsername
	}
	if err := ValidatePassword(password); err != nil {
		return nil, false, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, false, fmt.Errorf("hashing password: %w", err)
	}

	user, err := users.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrUserNotFound):
		user, err = NewUser(username, "Administrator", hash, true)
		if err != nil {
			return nil, false, err
		}
		if err := users.Create(ctx, user); err != nil {
			return nil, false, fmt.Errorf("creating admin: %w", err)
		}
		return user, true, nil
	case err != nil:
		return nil, false, fmt.Errorf("looking up admin: %w", err)
	}

	if err := users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return nil, false, fmt.Errorf("resetting admin password: %w", err)
	}
	user.PasswordHash = hash
	user.PasswordSalt = ""

	if !user.IsGlobalAdmin {
		user.IsGlobalAdmin = true
		if err := users.Update(ctx, user); err != nil {
			return nil, false, fmt.Errorf("granting admin flag: %w", err)
		}
	}

	if _, err := tokens.DeleteAllForUser(ctx, user.ID); err != nil {
		return nil, false, fmt.Errorf("revoking admin sessions: %w", err)
	}

	return user, false, nil
}
