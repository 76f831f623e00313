package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// upgradeTimeout bounds the background legacy-hash rewrite.
const upgradeTimeout = 30 * time.Second

// Verifier checks username/password pairs against the credential store.
type Verifier struct {
	users  UserRepository
	logger *slog.Logger

	// OnUpgrade, when set, is called after a legacy hash has been replaced
	// (err nil) or the replacement failed. Set before first use.
	OnUpgrade func(user *User, err error)

	upgrades sync.WaitGroup
}

// NewVerifier creates a Verifier backed by users.
func NewVerifier(users UserRepository, logger *slog.Logger) *Verifier {
	return &Verifier{users: users, logger: logger}
}

// Verify authenticates username/password.
//
// Argon2id is tried first. Only when that fails and the account still has a
// legacy salt is the salted SHA-256 digest checked; a match authenticates and
// schedules a rehash in the background. Unknown username, wrong password and
// legacy mismatch all return ErrInvalidCredentials, and each costs one
// Argon2id verification.
func (v *Verifier) Verify(ctx context.Context, username, password string) (*User, error) {
	user, err := v.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			burnVerification(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		// Legacy digests are not PHC strings.
		burnVerification(password)
	}
	if ok {
		return user, nil
	}

	if user.HasLegacyHash() && VerifyLegacyPassword(password, user.PasswordSalt, user.PasswordHash) {
		v.scheduleUpgrade(ctx, user, password)
		return user, nil
	}

	return nil, ErrInvalidCredentials
}

// Check verifies password against an already loaded account without
// scheduling a legacy upgrade. Use it when the hash is about to be replaced.
func (v *Verifier) Check(user *User, password string) bool {
	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		burnVerification(password)
	}
	if ok {
		return true
	}
	return user.HasLegacyHash() && VerifyLegacyPassword(password, user.PasswordSalt, user.PasswordHash)
}

// Wait blocks until scheduled legacy upgrades have finished.
func (v *Verifier) Wait() {
	v.upgrades.Wait()
}

// scheduleUpgrade rehashes a legacy password after the login has already
// succeeded. It runs detached from the request so a client disconnect does
// not abort it, and its failure never affects the login.
func (v *Verifier) scheduleUpgrade(ctx context.Context, user *User, password string) {
	userID, username, legacyHash := user.ID, user.Username, user.PasswordHash
	detached := context.WithoutCancel(ctx)

	v.upgrades.Add(1)
	go func() {
		defer v.upgrades.Done()

		ctx, cancel := context.WithTimeout(detached, upgradeTimeout)
		defer cancel()

		applied, err := v.upgrade(ctx, userID, legacyHash, password)
		switch {
		case err != nil:
			v.logger.Error("legacy password upgrade failed",
				"user_id", userID, "username", username, "error", err)
		case !applied:
			// A password change or reset landed first.
			v.logger.Info("legacy password upgrade superseded", "user_id", userID, "username", username)
			return
		default:
			v.logger.Info("legacy password upgraded", "user_id", userID, "username", username)
		}

		if v.OnUpgrade != nil {
			v.OnUpgrade(&User{ID: userID, Username: username}, err)
		}
	}()
}

func (v *Verifier) upgrade(ctx context.Context, userID, legacyHash, password string) (bool, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}
	return v.users.UpgradeLegacyPassword(ctx, userID, legacyHash, hash)
}
