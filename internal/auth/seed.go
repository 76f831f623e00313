package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for a generated bootstrap password.
const seedPasswordBytes = 16

// BootstrapConfig names the first admin account.
type BootstrapConfig struct {
	Username string
	Password string
	FullName string
}

// SeedAdmin creates the bootstrap admin on first boot if no users exist.
// When no password is configured one is generated and logged once; it must
// be changed immediately. Returns the generated password (empty if seeding
// was skipped or the password came from configuration).
func SeedAdmin(ctx context.Context, users UserRepository, cfg BootstrapConfig, logger *slog.Logger) (string, error) {
	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Info("users exist, skipping admin bootstrap")
		return "", nil
	}

	password := cfg.Password
	generated := ""
	if password == "" {
		b := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("generating bootstrap password: %w", err)
		}
		password = hex.EncodeToString(b)
		generated = password
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing bootstrap password: %w", err)
	}

	admin, err := NewUser(cfg.Username, cfg.FullName, hash, true)
	if err != nil {
		return "", fmt.Errorf("bootstrap admin: %w", err)
	}
	if err := users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating bootstrap admin: %w", err)
	}

	if generated != "" {
		logger.Warn("bootstrap admin account created",
			"username", admin.Username,
			"password", generated,
			"action_required", "change this password immediately",
		)
	} else {
		logger.Info("bootstrap admin account created", "username", admin.Username)
	}

	return generated, nil
}
