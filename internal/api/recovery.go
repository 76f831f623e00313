package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cragline/cragline-core/internal/audit"
	"github.com/cragline/cragline-core/internal/auth"
)

// recoveryRequest is the request body for POST /auth/recovery.
type recoveryRequest struct {
	AdminUsername string `json:"admin_username"`
	RecoveryToken string `json:"recovery_token"`
	NewPassword   string `json:"new_password"`
}

// handleRecovery resets (or creates) an admin account with the operator
// recovery token. 503 when no token is configured.
func (s *Server) handleRecovery(w http.ResponseWriter, r *http.Request) {
	if s.recovery == nil || !s.recovery.Enabled() {
		writeError(w, http.StatusServiceUnavailable, ErrCodeRecoveryDisabled, "account recovery is disabled")
		return
	}

	var req recoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, err := s.recovery.Reset(r.Context(), req.AdminUsername, req.RecoveryToken, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRecoveryDisabled):
			writeError(w, http.StatusServiceUnavailable, ErrCodeRecoveryDisabled, "account recovery is disabled")
		case errors.Is(err, auth.ErrInvalidCredentials):
			s.recordEvent(r, securityEvent{Action: ActionRecoveryReset, Outcome: audit.OutcomeFailure})
			writeUnauthorized(w, "invalid recovery token")
		case errors.Is(err, auth.ErrPasswordTooShort), errors.Is(err, auth.ErrInvalidUsername):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("recovery reset failed", "error", err)
			writeInternalError(w, "recovery failed")
		}
		return
	}

	s.hub.NotifyAllRevoked(user.ID, "")
	s.recordEvent(r, securityEvent{
		Action:   ActionRecoveryReset,
		UserID:   user.ID,
		Username: user.Username,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "admin_reset",
		"user":   user,
	})
}
