package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cragline/cragline-core/internal/auth"
)

type updateUserRequest struct {
	FullName      *string `json:"full_name,omitempty"`
	IsGlobalAdmin *bool   `json:"is_global_admin,omitempty"`
}

// handleListUsers returns all accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleGetUser returns a single account by ID.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user failed", "error", err)
		writeInternalError(w, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser patches full_name and is_global_admin.
// Admins cannot remove their own admin flag.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims := ClaimsFromContext(r.Context())

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.IsGlobalAdmin != nil && !*req.IsGlobalAdmin && id == claims.UserID() {
		writeForbidden(w, "cannot remove your own admin flag")
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user for update failed", "error", err)
		writeInternalError(w, "failed to update user")
		return
	}

	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if err := auth.ValidateFullName(name); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		user.FullName = name
	}
	if req.IsGlobalAdmin != nil {
		user.IsGlobalAdmin = *req.IsGlobalAdmin
	}

	if err := s.users.Update(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("update user failed", "error", err)
		writeInternalError(w, "failed to update user")
		return
	}

	s.logger.Info("user updated", "user_id", id, "updated_by", claims.UserID())
	s.recordEvent(r, securityEvent{
		Action:   ActionUserUpdate,
		UserID:   user.ID,
		Username: user.Username,
		Details: map[string]any{
			"updated_by":      claims.UserID(),
			"is_global_admin": user.IsGlobalAdmin,
		},
	})

	writeJSON(w, http.StatusOK, user)
}

// handleDeleteUser removes an account together with its sessions.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims := ClaimsFromContext(r.Context())

	if id == claims.UserID() {
		writeForbidden(w, "cannot delete your own account")
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user for delete failed", "error", err)
		writeInternalError(w, "failed to delete user")
		return
	}

	if err := s.users.Delete(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("delete user failed", "error", err)
		writeInternalError(w, "failed to delete user")
		return
	}

	s.hub.NotifyAllRevoked(id, "")
	s.logger.Info("user deleted", "user_id", id, "deleted_by", claims.UserID())
	s.recordEvent(r, securityEvent{
		Action:   ActionUserDelete,
		UserID:   id,
		Username: user.Username,
		Details:  map[string]any{"deleted_by": claims.UserID()},
	})

	w.WriteHeader(http.StatusNoContent)
}
