package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cragline/cragline-core/internal/audit"
	"github.com/cragline/cragline-core/internal/auth"
	"github.com/cragline/cragline-core/internal/infrastructure/mqtt"
)

// eventChanSize is the buffer size for the async security event channel.
// Events beyond this are dropped (best-effort) to avoid back-pressure on requests.
const eventChanSize = 256

// eventWriteTimeout bounds the audit insert for one event.
const eventWriteTimeout = 5 * time.Second

// Security event actions.
const (
	ActionRegister       = "register"
	ActionLogin          = "login"
	ActionLogout         = "logout"
	ActionRefresh        = "refresh"
	ActionSessionRevoke  = "session_revoke"
	ActionPasswordChange = "password_change"
	ActionRecoveryReset  = "recovery_reset"
	ActionLegacyUpgrade  = "legacy_hash_upgrade"
	ActionUserUpdate     = "user_update"
	ActionUserDelete     = "user_delete"
)

// securityEvent is one entry in the audit trail, also fanned out to the
// message bus and the metrics store.
type securityEvent struct {
	Action    string
	Outcome   string
	UserID    string
	Username  string
	SessionID string
	IPAddress string
	Details   map[string]any
	At        time.Time
}

// busEvent is the JSON published on cragline/auth/events/<action>.
type busEvent struct {
	Action    string `json:"action"`
	Outcome   string `json:"outcome"`
	UserID    string `json:"user_id,omitempty"`
	Username  string `json:"username,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Timestamp string `json:"timestamp"`
}

// recordEvent enqueues a security event for asynchronous delivery.
// If the channel is full the event is dropped and a warning is logged.
func (s *Server) recordEvent(r *http.Request, ev securityEvent) {
	if ev.Outcome == "" {
		ev.Outcome = audit.OutcomeSuccess
	}
	if ev.IPAddress == "" && r != nil {
		ev.IPAddress = clientIP(r)
	}
	ev.At = time.Now().UTC()

	select {
	case s.eventCh <- ev:
	default:
		s.logger.Warn("security event channel full, dropping event",
			"action", ev.Action,
			"outcome", ev.Outcome,
		)
	}
}

// onLegacyUpgrade turns Verifier upgrade results into audit events.
func (s *Server) onLegacyUpgrade(user *auth.User, err error) {
	ev := securityEvent{
		Action:   ActionLegacyUpgrade,
		UserID:   user.ID,
		Username: user.Username,
	}
	if err != nil {
		ev.Outcome = audit.OutcomeFailure
		ev.Details = map[string]any{"error": err.Error()}
	}
	s.recordEvent(nil, ev)
}

// drainEvents delivers events serially until the context is cancelled, then
// drains what is left. One writer is kinder to SQLite's serial write model.
func (s *Server) drainEvents(ctx context.Context) {
	for {
		select {
		case ev := <-s.eventCh:
			s.deliverEvent(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-s.eventCh:
					s.deliverEvent(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) deliverEvent(ev securityEvent) {
	if s.auditRepo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
		err := s.auditRepo.Create(ctx, &audit.AuditLog{
			Action:    ev.Action,
			Outcome:   ev.Outcome,
			UserID:    ev.UserID,
			Username:  ev.Username,
			SessionID: ev.SessionID,
			IPAddress: ev.IPAddress,
			Details:   ev.Details,
			CreatedAt: ev.At,
		})
		cancel()
		if err != nil {
			s.logger.Error("audit log write failed", "action", ev.Action, "error", err)
		}
	}

	if s.events != nil && s.events.IsConnected() {
		payload := busEvent{
			Action:    ev.Action,
			Outcome:   ev.Outcome,
			UserID:    ev.UserID,
			Username:  ev.Username,
			SessionID: ev.SessionID,
			IPAddress: ev.IPAddress,
			Timestamp: ev.At.Format(time.RFC3339),
		}
		if err := s.events.PublishEvent(mqtt.Topics{}.AuthEvent(ev.Action), payload); err != nil {
			s.logger.Warn("security event publish failed", "action", ev.Action, "error", err)
		}
		if ev.UserID != "" && ev.Outcome == audit.OutcomeSuccess && endsSessions(ev.Action) {
			if err := s.events.PublishEvent(mqtt.Topics{}.UserSessions(ev.UserID), payload); err != nil {
				s.logger.Warn("session change publish failed", "user_id", ev.UserID, "error", err)
			}
		}
	}

	if s.metrics != nil {
		s.metrics.WriteAuthEvent(ev.Action, ev.Outcome)
	}
}

// endsSessions reports whether action removes refresh tokens, which other
// services watching a user's sessions need to hear about.
func endsSessions(action string) bool {
	switch action {
	case ActionLogout, ActionSessionRevoke, ActionPasswordChange, ActionRecoveryReset, ActionUserDelete:
		return true
	}
	return false
}

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: filter by action (login, refresh, session_revoke, ...)
//   - outcome: success or failure
//   - user_id: filter by account
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeInternalError(w, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:  q.Get("action"),
		Outcome: q.Get("outcome"),
		UserID:  q.Get("user_id"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
