package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cragline/cragline-core/internal/auth"
)

// handleListSessions returns the unexpired sessions of the caller, or of
// ?user_id= for admins. The session behind the presented refresh cookie is
// marked current.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	sessions, err := s.sessions.List(r.Context(), claims.Caller(), r.URL.Query().Get("user_id"))
	if err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			writeForbidden(w, "cannot list another user's sessions")
			return
		}
		s.logger.Error("list sessions failed", "error", err)
		writeInternalError(w, "failed to list sessions")
		return
	}

	if current := s.currentSessionID(r); current != "" {
		for i := range sessions {
			sessions[i].Current = sessions[i].ID == current
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleRevokeSession deletes one session. Revoking the session behind the
// caller's own refresh cookie also clears both cookies; the access token
// stays valid until it expires.
func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims := ClaimsFromContext(r.Context())

	session, err := s.sessions.Revoke(r.Context(), id, claims.Caller())
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrSessionNotFound):
			writeNotFound(w, "session not found")
		case errors.Is(err, auth.ErrForbidden):
			writeForbidden(w, "cannot revoke another user's session")
		default:
			s.logger.Error("revoke session failed", "session_id", id, "error", err)
			writeInternalError(w, "failed to revoke session")
		}
		return
	}

	if id == s.currentSessionID(r) {
		s.clearAuthCookies(w)
	}

	s.hub.NotifySessionRevoked(session.UserID, session.ID)
	s.recordEvent(r, securityEvent{
		Action:    ActionSessionRevoke,
		UserID:    session.UserID,
		SessionID: session.ID,
		Details:   map[string]any{"revoked_by": claims.UserID()},
	})

	w.WriteHeader(http.StatusNoContent)
}
