package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultRefreshTokenTTL is used when NewRefreshService gets a zero TTL.
const DefaultRefreshTokenTTL = 14 * 24 * time.Hour

const (
	// refreshSecretBytes is the entropy of the secret half (256 bits).
	refreshSecretBytes = 32

	// tokenIDBytes is the size of the random, non-secret row key.
	tokenIDBytes = 16

	// tokenSeparator joins the id and secret halves of a raw token.
	tokenSeparator = "."
)

// RotateResult is the outcome of a successful refresh.
type RotateResult struct {
	// RawToken is the replacement "<id>.<secret>" for the client.
	RawToken string

	// Token is the stored replacement row.
	Token *RefreshToken

	// PreviousID is the id of the consumed row.
	PreviousID string

	User            *User
	AccessToken     string
	AccessExpiresAt time.Time
}

// RefreshService creates, authenticates, rotates and revokes refresh tokens.
type RefreshService struct {
	tokens TokenRepository
	users  UserRepository
	issuer *Issuer
	ttl    time.Duration
	now    func() time.Time
}

// NewRefreshService creates a RefreshService. ttl <= 0 selects the default.
func NewRefreshService(tokens TokenRepository, users UserRepository, issuer *Issuer, ttl time.Duration) *RefreshService {
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	return &RefreshService{
		tokens: tokens,
		users:  users,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the refresh-token lifetime.
func (s *RefreshService) TTL() time.Duration {
	return s.ttl
}

// Create mints a refresh token for userID and returns the raw value for the
// client together with the stored row.
func (s *RefreshService) Create(ctx context.Context, userID string, meta TokenMeta) (string, *RefreshToken, error) {
	raw, token, err := s.newToken(userID, meta, nil)
	if err != nil {
		return "", nil, err
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return "", nil, err
	}
	return raw, token, nil
}

// Authenticate resolves a raw token to its stored row. Malformed, unknown,
// mismatched and expired tokens all return ErrTokenInvalid; an expired row
// is deleted on the way.
func (s *RefreshService) Authenticate(ctx context.Context, raw string) (*RefreshToken, error) {
	id, secret, ok := splitRefreshToken(raw)
	if !ok {
		return nil, ErrTokenInvalid
	}

	stored, err := s.tokens.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(HashToken(secret)), []byte(stored.TokenHash)) != 1 {
		return nil, ErrTokenInvalid
	}

	if stored.Expired(s.now()) {
		if _, err := s.tokens.Delete(ctx, stored.ID); err != nil {
			return nil, err
		}
		return nil, ErrTokenInvalid
	}

	return stored, nil
}

// Rotate consumes raw and returns its replacement plus a fresh access token.
// Of two concurrent rotations of the same token exactly one succeeds; the
// other gets ErrTokenInvalid. Empty meta fields keep the old row's values.
func (s *RefreshService) Rotate(ctx context.Context, raw string, meta TokenMeta) (*RotateResult, error) {
	old, err := s.Authenticate(ctx, raw)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, old.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_, _ = s.tokens.Delete(ctx, old.ID) //nolint:errcheck // orphan cleanup is best effort
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("loading token owner: %w", err)
	}

	meta = mergeMeta(meta, old)
	now := s.now().UTC()
	newRaw, next, err := s.newToken(user.ID, meta, &now)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.Consume(ctx, old.ID, old.TokenHash, next); err != nil {
		return nil, err
	}

	access, accessExp, err := s.issuer.Issue(IdentityOf(user))
	if err != nil {
		return nil, err
	}

	return &RotateResult{
		RawToken:        newRaw,
		Token:           next,
		PreviousID:      old.ID,
		User:            user,
		AccessToken:     access,
		AccessExpiresAt: accessExp,
	}, nil
}

// Revoke deletes one refresh token. A missing row is ErrSessionNotFound.
func (s *RefreshService) Revoke(ctx context.Context, id string) error {
	removed, err := s.tokens.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAllForUser deletes every refresh token of userID.
func (s *RefreshService) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return s.tokens.DeleteAllForUser(ctx, userID)
}

// RevokeOthers deletes every refresh token of userID except keepID.
func (s *RefreshService) RevokeOthers(ctx context.Context, userID, keepID string) (int64, error) {
	return s.tokens.DeleteAllForUserExcept(ctx, userID, keepID)
}

func (s *RefreshService) newToken(userID string, meta TokenMeta, lastUsed *time.Time) (string, *RefreshToken, error) {
	id, err := newTokenID()
	if err != nil {
		return "", nil, err
	}

	secretBytes := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, fmt.Errorf("generating refresh token: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	now := s.now().UTC().Truncate(time.Millisecond)
	token := &RefreshToken{
		ID:         id,
		UserID:     userID,
		TokenHash:  HashToken(secret),
		ExpiresAt:  now.Add(s.ttl),
		CreatedAt:  now,
		DeviceInfo: meta.DeviceInfo,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		LastUsedAt: lastUsed,
	}
	return id + tokenSeparator + secret, token, nil
}

func newTokenID() (string, error) {
	b := make([]byte, tokenIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token id: %w", err)
	}
	return "rt-" + hex.EncodeToString(b), nil
}

// splitRefreshToken splits "<id>.<secret>" and checks the secret's shape.
func splitRefreshToken(raw string) (id, secret string, ok bool) {
	id, secret, found := strings.Cut(raw, tokenSeparator)
	if !found || id == "" || len(secret) != hex.EncodedLen(refreshSecretBytes) {
		return "", "", false
	}
	if _, err := hex.DecodeString(secret); err != nil {
		return "", "", false
	}
	return id, secret, true
}

// TokenIDOf returns the id half of a raw token without verifying it.
func TokenIDOf(raw string) (string, bool) {
	id, _, ok := splitRefreshToken(raw)
	return id, ok
}

func mergeMeta(meta TokenMeta, old *RefreshToken) TokenMeta {
	if meta.DeviceInfo == "" {
		meta.DeviceInfo = old.DeviceInfo
	}
	if meta.IPAddress == "" {
		meta.IPAddress = old.IPAddress
	}
	if meta.UserAgent == "" {
		meta.UserAgent = old.UserAgent
	}
	return meta
}
