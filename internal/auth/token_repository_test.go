package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenRepository_CreateAndGetByID(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "tokenuser", false)
	repo := NewTokenRepository(db)
	ctx := context.Background()

	lastUsed := time.Now().UTC().Truncate(time.Millisecond)
	token := &RefreshToken{
		UserID:     user.ID,
		TokenHash:  HashToken("secret"),
		DeviceInfo: "Chrome on macOS",
		IPAddress:  "203.0.113.7",
		UserAgent:  "Mozilla/5.0",
		ExpiresAt:  time.Now().Add(14 * 24 * time.Hour),
		LastUsedAt: &lastUsed,
	}
	if err := repo.Create(ctx, token); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if token.ID == "" {
		t.Fatal("Create() should generate an ID")
	}

	got, err := repo.GetByID(ctx, token.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.UserID != user.ID || got.TokenHash != token.TokenHash {
		t.Errorf("got %+v", got)
	}
	if got.DeviceInfo != "Chrome on macOS" || got.IPAddress != "203.0.113.7" || got.UserAgent != "Mozilla/5.0" {
		t.Errorf("metadata = %q/%q/%q", got.DeviceInfo, got.IPAddress, got.UserAgent)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(lastUsed) {
		t.Errorf("LastUsedAt = %v, want %v", got.LastUsedAt, lastUsed)
	}

	if _, err := repo.GetByID(ctx, "rt-missing"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("GetByID(missing) error = %v, want ErrTokenInvalid", err)
	}
}

func TestTokenRepository_Delete(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "deleter", false)
	repo := NewTokenRepository(db)
	ctx := context.Background()

	token := &RefreshToken{UserID: user.ID, TokenHash: HashToken("x"), ExpiresAt: time.Now().Add(time.Hour)}
	if err := repo.Create(ctx, token); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	removed, err := repo.Delete(ctx, token.ID)
	if err != nil || !removed {
		t.Fatalf("Delete() = %v, %v; want true, nil", removed, err)
	}

	removed, err = repo.Delete(ctx, token.ID)
	if err != nil || removed {
		t.Errorf("second Delete() = %v, %v; want false, nil", removed, err)
	}
}

func TestTokenRepository_Consume(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "consumer", false)
	repo := NewTokenRepository(db)
	ctx := context.Background()

	old := &RefreshToken{UserID: user.ID, TokenHash: HashToken("old"), ExpiresAt: time.Now().Add(time.Hour)}
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("hash mismatch leaves row", func(t *testing.T) {
		next := &RefreshToken{UserID: user.ID, TokenHash: HashToken("n1"), ExpiresAt: time.Now().Add(time.Hour)}
		if err := repo.Consume(ctx, old.ID, HashToken("wrong"), next); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("Consume() error = %v, want ErrTokenInvalid", err)
		}
		if _, err := repo.GetByID(ctx, old.ID); err != nil {
			t.Errorf("old row should survive a failed consume: %v", err)
		}
		if _, err := repo.GetByID(ctx, next.ID); !errors.Is(err, ErrTokenInvalid) {
			t.Error("replacement must not be inserted when the gate fails")
		}
	})

	t.Run("match swaps rows", func(t *testing.T) {
		next := &RefreshToken{UserID: user.ID, TokenHash: HashToken("n2"), ExpiresAt: time.Now().Add(time.Hour)}
		if err := repo.Consume(ctx, old.ID, old.TokenHash, next); err != nil {
			t.Fatalf("Consume() error = %v", err)
		}
		if _, err := repo.GetByID(ctx, old.ID); !errors.Is(err, ErrTokenInvalid) {
			t.Error("old row should be gone")
		}
		if _, err := repo.GetByID(ctx, next.ID); err != nil {
			t.Errorf("replacement missing: %v", err)
		}
	})

	t.Run("second consume fails", func(t *testing.T) {
		next := &RefreshToken{UserID: user.ID, TokenHash: HashToken("n3"), ExpiresAt: time.Now().Add(time.Hour)}
		if err := repo.Consume(ctx, old.ID, old.TokenHash, next); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("Consume() again error = %v, want ErrTokenInvalid", err)
		}
	})
}

func TestTokenRepository_ListCountAndExpiry(t *testing.T) {
	db := testDB(t)
	a := seedTestUser(t, db, "listera", false)
	b := seedTestUser(t, db, "listerb", false)
	repo := NewTokenRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	rows := []*RefreshToken{
		{UserID: a.ID, TokenHash: HashToken("1"), ExpiresAt: now.Add(time.Hour), CreatedAt: now.Add(-2 * time.Minute)},
		{UserID: a.ID, TokenHash: HashToken("2"), ExpiresAt: now.Add(time.Hour), CreatedAt: now.Add(-time.Minute)},
		{UserID: a.ID, TokenHash: HashToken("3"), ExpiresAt: now.Add(-time.Minute)},
		{UserID: b.ID, TokenHash: HashToken("4"), ExpiresAt: now.Add(time.Hour)},
	}
	for _, r := range rows {
		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	list, err := repo.ListByUser(ctx, a.ID, now)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListByUser() len = %d, want 2 (expired excluded)", len(list))
	}
	if list[0].ID != rows[1].ID {
		t.Errorf("ListByUser() should be newest first")
	}

	active, err := repo.CountActive(ctx, now)
	if err != nil {
		t.Fatalf("CountActive() error = %v", err)
	}
	if active != 3 {
		t.Errorf("CountActive() = %d, want 3", active)
	}

	deleted, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("DeleteExpired() = %d, want 1", deleted)
	}

	n, err := repo.DeleteAllForUserExcept(ctx, a.ID, rows[0].ID)
	if err != nil {
		t.Fatalf("DeleteAllForUserExcept() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteAllForUserExcept() = %d, want 1", n)
	}

	n, err = repo.DeleteAllForUser(ctx, a.ID)
	if err != nil {
		t.Fatalf("DeleteAllForUser() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteAllForUser() = %d, want 1", n)
	}

	if _, err := repo.GetByID(ctx, rows[3].ID); err != nil {
		t.Errorf("other user's token should survive: %v", err)
	}
}

func TestHashToken(t *testing.T) {
	h := HashToken("abc")
	if len(h) != 64 {
		t.Errorf("HashToken() length = %d, want 64", len(h))
	}
	if h != HashToken("abc") {
		t.Error("HashToken() should be deterministic")
	}
	if h == HashToken("abd") {
		t.Error("different inputs should hash differently")
	}
}
