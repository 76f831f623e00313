package auth

import (
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/cragline/cragline-core/internal/infrastructure/database"
	_ "github.com/cragline/cragline-core/migrations" // registers schema
)

const testSecret = "test-secret-key-at-least-32-chars!"

// testPassword is the password of every user made by seedTestUser.
const testPassword = "test-password"

// testDB creates a temporary SQLite database with the migrations applied.
// It uses the production DSN (WAL, busy timeout, immediate transactions).
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(t.Context(), database.Config{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(t.Context()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testIssuer(tb testing.TB) *Issuer {
	tb.Helper()
	issuer, err := NewIssuer(IssuerConfig{Secret: testSecret, Issuer: "cragline-test"}, discardLogger())
	if err != nil {
		tb.Fatalf("NewIssuer() error = %v", err)
	}
	return issuer
}

// seedTestUser inserts a user with testPassword and returns it.
func seedTestUser(t *testing.T, db *sql.DB, username string, admin bool) *User {
	t.Helper()

	hash, err := HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	user, err := NewUser(username, "Test "+username, hash, admin)
	if err != nil {
		t.Fatalf("NewUser(%s): %v", username, err)
	}
	if err := NewUserRepository(db).Create(t.Context(), user); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return user
}

// seedLegacyUser inserts a user carrying only the legacy salted digest for
// legacyPassword.
func seedLegacyUser(t *testing.T, db *sql.DB, username string) *User {
	t.Helper()

	user := &User{
		Username:     username,
		FullName:     "Legacy " + username,
		PasswordHash: legacyDigest,
		PasswordSalt: legacySalt,
	}
	if err := NewUserRepository(db).Create(t.Context(), user); err != nil {
		t.Fatalf("creating legacy user %s: %v", username, err)
	}
	return user
}
