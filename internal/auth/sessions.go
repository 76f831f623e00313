package auth

import (
	"context"
	"errors"
	"time"
)

// SessionManager lists and revokes refresh-token-backed sessions.
// Non-admin callers only see and revoke their own.
type SessionManager struct {
	tokens TokenRepository
	now    func() time.Time
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(tokens TokenRepository) *SessionManager {
	return &SessionManager{tokens: tokens, now: time.Now}
}

// List returns the unexpired sessions of targetUserID (the caller when empty).
func (m *SessionManager) List(ctx context.Context, caller Caller, targetUserID string) ([]Session, error) {
	if targetUserID == "" {
		targetUserID = caller.UserID
	}
	if targetUserID != caller.UserID && !caller.IsGlobalAdmin {
		return nil, ErrForbidden
	}

	tokens, err := m.tokens.ListByUser(ctx, targetUserID, m.now())
	if err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(tokens))
	for i := range tokens {
		sessions = append(sessions, SessionFromToken(&tokens[i]))
	}
	return sessions, nil
}

// Revoke deletes the session with sessionID and returns what was removed.
// It returns ErrSessionNotFound for unknown ids and ErrForbidden when a
// non-admin targets someone else's session.
func (m *SessionManager) Revoke(ctx context.Context, sessionID string, caller Caller) (*Session, error) {
	token, err := m.tokens.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if token.UserID != caller.UserID && !caller.IsGlobalAdmin {
		return nil, ErrForbidden
	}

	removed, err := m.tokens.Delete(ctx, token.ID)
	if err != nil {
		return nil, err
	}
	if !removed {
		// Rotated or revoked between the read and the delete.
		return nil, ErrSessionNotFound
	}

	session := SessionFromToken(token)
	return &session, nil
}
