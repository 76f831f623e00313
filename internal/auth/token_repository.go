package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// TokenRepository defines the interface for refresh token persistence.
type TokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByID(ctx context.Context, id string) (*RefreshToken, error)
	Delete(ctx context.Context, id string) (bool, error)
	Consume(ctx context.Context, oldID, oldHash string, next *RefreshToken) error
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteAllForUserExcept(ctx context.Context, userID, keepID string) (int64, error)
	ListByUser(ctx context.Context, userID string, now time.Time) ([]RefreshToken, error)
	CountActive(ctx context.Context, now time.Time) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SQLiteTokenRepository implements TokenRepository using SQLite.
type SQLiteTokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new SQLite-backed token repository.
func NewTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db}
}

// HashToken computes the SHA-256 hash of a token secret for storage.
// Raw secrets are never stored, only their hashes.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

const tokenColumns = "id, user_id, token_hash, expires_at, created_at, device_info, ip_address, user_agent, last_used_at"

const insertToken = `INSERT INTO refresh_tokens (` + tokenColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRefreshToken(ctx context.Context, ex execer, t *RefreshToken) error {
	if t.ID == "" {
		id, err := newTokenID()
		if err != nil {
			return err
		}
		t.ID = id
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	_, err := ex.ExecContext(ctx, insertToken,
		t.ID, t.UserID, t.TokenHash,
		formatTime(t.ExpiresAt), formatTime(t.CreatedAt),
		nullString(t.DeviceInfo), nullString(t.IPAddress), nullString(t.UserAgent),
		nullTime(t.LastUsedAt),
	)
	return err
}

// Create inserts a new refresh token. The ID is generated if empty.
func (r *SQLiteTokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	if err := insertRefreshToken(ctx, r.db, token); err != nil {
		return fmt.Errorf("creating refresh token: %w", err)
	}
	return nil
}

// GetByID retrieves a refresh token by its ID. A missing row is ErrTokenInvalid.
func (r *SQLiteTokenRepository) GetByID(ctx context.Context, id string) (*RefreshToken, error) {
	t, err := scanToken(r.db.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM refresh_tokens WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("getting refresh token: %w", err)
	}
	return t, nil
}

// Delete removes one token and reports whether a row existed.
func (r *SQLiteTokenRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting refresh token: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n > 0, nil
}

// Consume is the rotation gate. It deletes the row matching both oldID and
// oldHash and inserts next in the same transaction, only if exactly one row
// was deleted. When the row is already gone (a concurrent rotation won, or
// it was revoked) it returns ErrTokenInvalid and inserts nothing.
func (r *SQLiteTokenRepository) Consume(ctx context.Context, oldID, oldHash string, next *RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rotation transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	result, err := tx.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE id = ? AND token_hash = ?", oldID, oldHash)
	if err != nil {
		return fmt.Errorf("consuming old token: %w", err)
	}
	if n, _ := result.RowsAffected(); n != 1 { //nolint:errcheck // always succeeds on SQLite
		return ErrTokenInvalid
	}

	if err := insertRefreshToken(ctx, tx, next); err != nil {
		return fmt.Errorf("creating replacement token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rotation: %w", err)
	}
	return nil
}

// DeleteAllForUser removes every refresh token of a user.
func (r *SQLiteTokenRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("deleting tokens for user: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

// DeleteAllForUserExcept removes a user's tokens other than keepID.
func (r *SQLiteTokenRepository) DeleteAllForUserExcept(ctx context.Context, userID, keepID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE user_id = ? AND id != ?", userID, keepID)
	if err != nil {
		return 0, fmt.Errorf("deleting other tokens for user: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

// ListByUser returns a user's unexpired tokens, newest first.
func (r *SQLiteTokenRepository) ListByUser(ctx context.Context, userID string, now time.Time) ([]RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens
		 WHERE user_id = ? AND expires_at > ?
		 ORDER BY created_at DESC, id ASC`, userID, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	defer rows.Close()

	tokens := []RefreshToken{}
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning token: %w", err)
		}
		tokens = append(tokens, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tokens: %w", err)
	}
	return tokens, nil
}

// CountActive returns the number of unexpired tokens across all users.
func (r *SQLiteTokenRepository) CountActive(ctx context.Context, now time.Time) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM refresh_tokens WHERE expires_at > ?", formatTime(now),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting active tokens: %w", err)
	}
	return count, nil
}

// DeleteExpired removes tokens whose expiry is at or before now.
// Returns the number of deleted rows.
func (r *SQLiteTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at <= ?", formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

func scanToken(s scanner) (*RefreshToken, error) {
	var t RefreshToken
	var deviceInfo, ip, userAgent, lastUsed sql.NullString
	var expiresAt, createdAt string

	if err := s.Scan(&t.ID, &t.UserID, &t.TokenHash, &expiresAt, &createdAt,
		&deviceInfo, &ip, &userAgent, &lastUsed); err != nil {
		return nil, err
	}

	t.ExpiresAt = parseTime(expiresAt)
	t.CreatedAt = parseTime(createdAt)
	t.DeviceInfo = deviceInfo.String
	t.IPAddress = ip.String
	t.UserAgent = userAgent.String
	if lastUsed.Valid {
		lu := parseTime(lastUsed.String)
		t.LastUsedAt = &lu
	}
	return &t, nil
}
