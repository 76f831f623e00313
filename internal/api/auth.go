package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cragline/cragline-core/internal/audit"
	"github.com/cragline/cragline-core/internal/auth"
)

// maxDeviceInfoLength bounds the client-supplied device label.
const maxDeviceInfoLength = 128

// registerRequest is the request body for POST /auth/register.
type registerRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	DeviceInfo string `json:"device_info"`
}

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceInfo string `json:"device_info"`
}

// changePasswordRequest is the request body for PUT /auth/password.
type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// authResponse is returned by register, login and refresh. The tokens
// themselves travel only in HttpOnly cookies.
type authResponse struct {
	User             *auth.User `json:"user"`
	AccessExpiresAt  time.Time  `json:"access_expires_at"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at"`
}

// handleRegister creates an account and logs it in.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if !auth.IsValidUsername(req.Username) {
		writeBadRequest(w, auth.ErrInvalidUsername.Error())
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to create account")
		return
	}

	user, err := auth.NewUser(req.Username, req.FullName, hash, false)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrUsernameExists) {
			s.recordEvent(r, securityEvent{
				Action:   ActionRegister,
				Outcome:  audit.OutcomeFailure,
				Username: req.Username,
				Details:  map[string]any{"reason": "username_exists"},
			})
			writeConflict(w, "username already exists")
			return
		}
		s.logger.Error("create user failed", "error", err)
		writeInternalError(w, "failed to create account")
		return
	}

	resp, sessionID, err := s.startSession(w, r, user, req.DeviceInfo)
	if err != nil {
		s.logger.Error("start session after register failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "failed to start session")
		return
	}

	s.logger.Info("account registered", "user_id", user.ID, "username", user.Username)
	s.recordEvent(r, securityEvent{
		Action:    ActionRegister,
		UserID:    user.ID,
		Username:  user.Username,
		SessionID: sessionID,
	})

	writeJSON(w, http.StatusCreated, resp)
}

// handleLogin verifies credentials and issues both cookies.
// Every credential failure gets the same 401.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, err := s.verifier.Verify(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			ev := securityEvent{Action: ActionLogin, Outcome: audit.OutcomeFailure}
			if name := strings.TrimSpace(req.Username); auth.IsValidUsername(name) {
				ev.Username = name
			}
			s.recordEvent(r, ev)
			writeUnauthorized(w, "invalid username or password")
			return
		}
		s.logger.Error("credential verification failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	resp, sessionID, err := s.startSession(w, r, user, req.DeviceInfo)
	if err != nil {
		s.logger.Error("start session failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "login failed")
		return
	}

	s.recordEvent(r, securityEvent{
		Action:    ActionLogin,
		UserID:    user.ID,
		Username:  user.Username,
		SessionID: sessionID,
	})

	writeJSON(w, http.StatusOK, resp)
}

// handleLogout deletes the session behind the presented refresh cookie and
// clears both cookies. It succeeds even without a valid cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if raw := s.refreshCookie(r); raw != "" {
		token, err := s.refresh.Authenticate(r.Context(), raw)
		switch {
		case err == nil:
			if err := s.refresh.Revoke(r.Context(), token.ID); err != nil && !errors.Is(err, auth.ErrSessionNotFound) {
				s.logger.Error("logout revoke failed", "session_id", token.ID, "error", err)
				writeInternalError(w, "logout failed")
				return
			}
			s.recordEvent(r, securityEvent{
				Action:    ActionLogout,
				UserID:    token.UserID,
				SessionID: token.ID,
			})
			s.hub.NotifySessionRevoked(token.UserID, token.ID)
		case !errors.Is(err, auth.ErrTokenInvalid):
			s.logger.Error("logout token lookup failed", "error", err)
			writeInternalError(w, "logout failed")
			return
		}
	}

	s.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleRefresh rotates the refresh cookie and re-issues the access cookie.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := s.refreshCookie(r)
	if raw == "" {
		writeUnauthorized(w, "refresh token required")
		return
	}

	result, err := s.refresh.Rotate(r.Context(), raw, s.tokenMeta(r, ""))
	if err != nil {
		if errors.Is(err, auth.ErrTokenInvalid) {
			sessionID, _ := auth.TokenIDOf(raw)
			s.recordEvent(r, securityEvent{
				Action:    ActionRefresh,
				Outcome:   audit.OutcomeFailure,
				SessionID: sessionID,
			})
			// Cookies are left alone: a concurrent rotation from another
			// tab may have just replaced them.
			writeUnauthorized(w, "invalid or expired refresh token")
			return
		}
		s.logger.Error("refresh rotation failed", "error", err)
		writeInternalError(w, "refresh failed")
		return
	}

	s.setAuthCookies(w, result.AccessToken, result.RawToken)
	s.hub.RenameSession(result.PreviousID, result.Token.ID)
	s.recordEvent(r, securityEvent{
		Action:    ActionRefresh,
		UserID:    result.User.ID,
		Username:  result.User.Username,
		SessionID: result.Token.ID,
		Details:   map[string]any{"previous_session_id": result.PreviousID},
	})

	writeJSON(w, http.StatusOK, authResponse{
		User:             result.User,
		AccessExpiresAt:  result.AccessExpiresAt,
		RefreshExpiresAt: result.Token.ExpiresAt,
	})
}

// handleMe returns the authenticated account.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	user, err := s.users.GetByID(r.Context(), claims.UserID())
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeUnauthorized(w, "account no longer exists")
			return
		}
		s.logger.Error("get current user failed", "error", err)
		writeInternalError(w, "failed to load account")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleChangePassword replaces the caller's password after checking the
// current one, then revokes every other session of the account.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := auth.ValidatePassword(req.NewPassword); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	user, err := s.users.GetByID(r.Context(), claims.UserID())
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeUnauthorized(w, "account no longer exists")
			return
		}
		s.logger.Error("get user for password change failed", "error", err)
		writeInternalError(w, "failed to change password")
		return
	}

	if !s.verifier.Check(user, req.CurrentPassword) {
		s.recordEvent(r, securityEvent{
			Action:   ActionPasswordChange,
			Outcome:  audit.OutcomeFailure,
			UserID:   user.ID,
			Username: user.Username,
		})
		writeUnauthorized(w, "current password is incorrect")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to change password")
		return
	}
	if err := s.users.UpdatePassword(r.Context(), user.ID, hash); err != nil {
		s.logger.Error("update password failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "failed to change password")
		return
	}

	keep := s.currentSessionID(r)
	revoked, err := s.refresh.RevokeOthers(r.Context(), user.ID, keep)
	if err != nil {
		s.logger.Error("revoke other sessions failed", "user_id", user.ID, "error", err)
	}

	s.hub.NotifyAllRevoked(user.ID, keep)
	s.recordEvent(r, securityEvent{
		Action:    ActionPasswordChange,
		UserID:    user.ID,
		Username:  user.Username,
		SessionID: keep,
		Details:   map[string]any{"sessions_revoked": revoked},
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "password_changed",
		"sessions_revoked": revoked,
	})
}

// startSession mints a refresh token and an access token for user and sets
// both cookies. It returns the response body and the new session id.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, user *auth.User, deviceInfo string) (*authResponse, string, error) {
	raw, token, err := s.refresh.Create(r.Context(), user.ID, s.tokenMeta(r, deviceInfo))
	if err != nil {
		return nil, "", err
	}

	access, accessExp, err := s.issuer.Issue(auth.IdentityOf(user))
	if err != nil {
		return nil, "", err
	}

	s.setAuthCookies(w, access, raw)
	return &authResponse{
		User:             user,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: token.ExpiresAt,
	}, token.ID, nil
}

// tokenMeta describes the client for the session list.
func (s *Server) tokenMeta(r *http.Request, deviceInfo string) auth.TokenMeta {
	deviceInfo = strings.TrimSpace(deviceInfo)
	if len(deviceInfo) > maxDeviceInfoLength {
		deviceInfo = deviceInfo[:maxDeviceInfoLength]
	}
	ua := r.UserAgent()
	if len(ua) > maxUserAgentLength {
		ua = ua[:maxUserAgentLength]
	}
	return auth.TokenMeta{
		DeviceInfo: deviceInfo,
		IPAddress:  clientIP(r),
		UserAgent:  ua,
	}
}

// maxUserAgentLength bounds the stored User-Agent header.
const maxUserAgentLength = 256
