package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestRefresh(t *testing.T, db *sql.DB) *RefreshService {
	t.Helper()
	return NewRefreshService(NewTokenRepository(db), NewUserRepository(db), testIssuer(t), 0)
}

func TestRefreshService_CreateAndAuthenticate(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "fresh", false)
	svc := newTestRefresh(t, db)
	ctx := context.Background()

	raw, stored, err := svc.Create(ctx, user.ID, TokenMeta{DeviceInfo: "Pixel", IPAddress: "198.51.100.2", UserAgent: "UA"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	id, secret, ok := strings.Cut(raw, ".")
	if !ok || id != stored.ID {
		t.Fatalf("raw token %q should be <id>.<secret> with id %s", raw, stored.ID)
	}
	if len(secret) != 64 {
		t.Errorf("secret length = %d, want 64 hex chars", len(secret))
	}
	if stored.TokenHash == secret || strings.Contains(stored.TokenHash, secret) {
		t.Error("stored hash must not contain the secret")
	}
	if d := stored.ExpiresAt.Sub(stored.CreatedAt); d != DefaultRefreshTokenTTL {
		t.Errorf("lifetime = %v, want %v", d, DefaultRefreshTokenTTL)
	}

	got, err := svc.Authenticate(ctx, raw)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got.ID != stored.ID || got.DeviceInfo != "Pixel" {
		t.Errorf("Authenticate() = %+v", got)
	}
}

func TestRefreshService_AuthenticateRejects(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "rejecter", false)
	svc := newTestRefresh(t, db)
	ctx := context.Background()

	raw, stored, err := svc.Create(ctx, user.ID, TokenMeta{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	wrongSecret := stored.ID + "." + strings.Repeat("0", 64)

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"no separator", strings.ReplaceAll(raw, ".", "")},
		{"short secret", stored.ID + ".abc"},
		{"non-hex secret", stored.ID + "." + strings.Repeat("z", 64)},
		{"unknown id", "rt-unknown." + strings.Repeat("a", 64)},
		{"wrong secret", wrongSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Authenticate(ctx, tt.raw); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("Authenticate() error = %v, want ErrTokenInvalid", err)
			}
		})
	}

	// A wrong secret must not delete the real session.
	if _, err := svc.Authenticate(ctx, raw); err != nil {
		t.Errorf("genuine token should still authenticate: %v", err)
	}
}

func TestRefreshService_ExpiredIsDeleted(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "expired", false)
	svc := newTestRefresh(t, db)
	tokens := NewTokenRepository(db)
	ctx := context.Background()

	raw, stored, err := svc.Create(ctx, user.ID, TokenMeta{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	svc.now = func() time.Time { return stored.ExpiresAt.Add(time.Second) }

	if _, err := svc.Rotate(ctx, raw, TokenMeta{}); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Rotate() expired error = %v, want ErrTokenInvalid", err)
	}
	if _, err := tokens.GetByID(ctx, stored.ID); !errors.Is(err, ErrTokenInvalid) {
		t.Error("expired row should be deleted at use time")
	}
}

func TestRefreshService_Rotate(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "rotator", true)
	svc := newTestRefresh(t, db)
	issuer := testIssuer(t)
	ctx := context.Background()

	raw, _, err := svc.Create(ctx, user.ID, TokenMeta{DeviceInfo: "Laptop", UserAgent: "UA-1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	res, err := svc.Rotate(ctx, raw, TokenMeta{UserAgent: "UA-2"})
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if res.RawToken == raw {
		t.Fatal("Rotate() should return a new secret")
	}

	// Old secret no longer validates, new one does.
	if _, err := svc.Authenticate(ctx, raw); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("old token Authenticate() error = %v, want ErrTokenInvalid", err)
	}
	got, err := svc.Authenticate(ctx, res.RawToken)
	if err != nil {
		t.Fatalf("new token Authenticate() error = %v", err)
	}

	if got.DeviceInfo != "Laptop" || got.UserAgent != "UA-2" {
		t.Errorf("metadata = %q/%q, want carried device and new agent", got.DeviceInfo, got.UserAgent)
	}
	if got.LastUsedAt == nil {
		t.Error("rotated token should record last use")
	}

	claims, err := issuer.Validate(res.AccessToken)
	if err != nil {
		t.Fatalf("access token Validate() error = %v", err)
	}
	if claims.UserID() != user.ID || claims.Username != "rotator" || !claims.IsGlobalAdmin {
		t.Errorf("claims = %+v", claims)
	}

	// Replaying the consumed token fails.
	if _, err := svc.Rotate(ctx, raw, TokenMeta{}); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("replayed Rotate() error = %v, want ErrTokenInvalid", err)
	}
}

func TestRefreshService_RotateForDeletedUser(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "ghost", false)
	svc := newTestRefresh(t, db)
	ctx := context.Background()

	raw, _, err := svc.Create(ctx, user.ID, TokenMeta{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Remove the user row directly, leaving an orphaned token.
	if _, err := db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", user.ID); err != nil {
		t.Fatalf("deleting user: %v", err)
	}

	if _, err := svc.Rotate(ctx, raw, TokenMeta{}); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Rotate() error = %v, want ErrTokenInvalid", err)
	}
}

// TestRefreshService_ConcurrentRotate presents one token from many goroutines
// at once: exactly one rotation may succeed.
func TestRefreshService_ConcurrentRotate(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "racer", false)
	svc := newTestRefresh(t, db)
	ctx := context.Background()

	const attempts = 8

	for round := range 3 {
		raw, _, err := svc.Create(ctx, user.ID, TokenMeta{})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		var wg sync.WaitGroup
		start := make(chan struct{})
		results := make(chan error, attempts)

		for range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := svc.Rotate(ctx, raw, TokenMeta{})
				results <- err
			}()
		}
		close(start)
		wg.Wait()
		close(results)

		successes := 0
		for err := range results {
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrTokenInvalid):
			default:
				t.Errorf("round %d: unexpected error %v", round, err)
			}
		}
		if successes != 1 {
			t.Errorf("round %d: %d rotations succeeded, want exactly 1", round, successes)
		}
	}

	sessions, err := NewTokenRepository(db).ListByUser(ctx, user.ID, time.Now())
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(sessions) != 3 {
		t.Errorf("sessions = %d, want one per round", len(sessions))
	}
}

func TestRefreshService_Revoke(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "revoker", false)
	svc := newTestRefresh(t, db)
	ctx := context.Background()

	raw1, t1, err := svc.Create(ctx, user.ID, TokenMeta{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	raw2, t2, err := svc.Create(ctx, user.ID, TokenMeta{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	raw3, _, err := svc.Create(ctx, user.ID, TokenMeta{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := svc.Revoke(ctx, t1.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if err := svc.Revoke(ctx, t1.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Revoke() error = %v, want ErrSessionNotFound", err)
	}
	if _, err := svc.Authenticate(ctx, raw1); !errors.Is(err, ErrTokenInvalid) {
		t.Error("revoked token should not authenticate")
	}

	n, err := svc.RevokeOthers(ctx, user.ID, t2.ID)
	if err != nil || n != 1 {
		t.Errorf("RevokeOthers() = %d, %v; want 1", n, err)
	}
	if _, err := svc.Authenticate(ctx, raw3); !errors.Is(err, ErrTokenInvalid) {
		t.Error("RevokeOthers should remove the third token")
	}

	n, err = svc.RevokeAllForUser(ctx, user.ID)
	if err != nil || n != 1 {
		t.Errorf("RevokeAllForUser() = %d, %v; want 1", n, err)
	}
	if _, err := svc.Authenticate(ctx, raw2); !errors.Is(err, ErrTokenInvalid) {
		t.Error("RevokeAllForUser should remove the kept token")
	}
}

func TestTokenIDOf(t *testing.T) {
	secret := strings.Repeat("ab", 32)
	if id, ok := TokenIDOf("rt-1." + secret); !ok || id != "rt-1" {
		t.Errorf("TokenIDOf() = %q, %v", id, ok)
	}
	if _, ok := TokenIDOf("garbage"); ok {
		t.Error("TokenIDOf(garbage) should fail")
	}
}
