package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/cragline/cragline-core/internal/audit"
)

func TestRecovery(t *testing.T) {
	t.Run("disabled without token", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.request(t, http.MethodPost, "/api/v1/auth/recovery", map[string]string{
			"admin_username": "admin",
			"recovery_token": "",
			"new_password":   "new-admin-password",
		}, nil)
		if rec.Code != http.StatusServiceUnavailable || errorCode(t, rec) != ErrCodeRecoveryDisabled {
			t.Errorf("status = %d, want 503 recovery_disabled", rec.Code)
		}
	})

	env := newTestEnv(t, withRecovery(testRecoveryToken))

	tests := []struct {
		name     string
		body     any
		wantCode int
	}{
		{"malformed JSON", `{`, http.StatusBadRequest},
		{"wrong token", map[string]string{"admin_username": "admin", "recovery_token": "guess", "new_password": "new-admin-password"}, http.StatusUnauthorized},
		{"short password", map[string]string{"admin_username": "admin", "recovery_token": testRecoveryToken, "new_password": "short"}, http.StatusBadRequest},
		{"bad username", map[string]string{"admin_username": "a b", "recovery_token": testRecoveryToken, "new_password": "new-admin-password"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.request(t, http.MethodPost, "/api/v1/auth/recovery", tt.body, nil)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}

	t.Run("resets existing account", func(t *testing.T) {
		old := env.register(t, "headsetter")

		rec := env.request(t, http.MethodPost, "/api/v1/auth/recovery", map[string]string{
			"admin_username": "headsetter",
			"recovery_token": testRecoveryToken,
			"new_password":   "new-admin-password",
		}, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var body struct {
			Status string         `json:"status"`
			User   map[string]any `json:"user"`
		}
		decodeBody(t, rec, &body)
		if body.Status != "admin_reset" || body.User["is_global_admin"] != true {
			t.Errorf("body = %+v", body)
		}

		if rec := env.request(t, http.MethodPost, "/api/v1/auth/refresh", nil, old); rec.Code != http.StatusUnauthorized {
			t.Errorf("pre-reset session refresh status = %d, want 401", rec.Code)
		}
		cookies := env.login(t, "headsetter", "new-admin-password")
		if rec := env.request(t, http.MethodGet, "/api/v1/users", nil, cookies); rec.Code != http.StatusOK {
			t.Errorf("admin route after reset status = %d, want 200", rec.Code)
		}
	})

	t.Run("creates missing account", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/api/v1/auth/recovery", map[string]string{
			"admin_username": "fresh-admin",
			"recovery_token": testRecoveryToken,
			"new_password":   "new-admin-password",
		}, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		env.login(t, "fresh-admin", "new-admin-password")
	})

	env.flushEvents()
	if got := env.metrics.count(ActionRecoveryReset, audit.OutcomeFailure); got != 1 {
		t.Errorf("recovery failures = %d, want 1", got)
	}
	if got := env.metrics.count(ActionRecoveryReset, audit.OutcomeSuccess); got != 2 {
		t.Errorf("recovery successes = %d, want 2", got)
	}
}

func TestAdminRoutes_RequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	member := env.register(t, "member")

	for _, path := range []string{"/api/v1/users", "/api/v1/metrics", "/api/v1/audit"} {
		if rec := env.request(t, http.MethodGet, path, nil, nil); rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s anonymous status = %d, want 401", path, rec.Code)
		}
		if rec := env.request(t, http.MethodGet, path, nil, member); rec.Code != http.StatusForbidden {
			t.Errorf("GET %s member status = %d, want 403", path, rec.Code)
		}
	}
}

func TestUsers_AdminCRUD(t *testing.T) {
	env := newTestEnv(t)
	member := env.register(t, "member")
	admin := env.makeAdmin(t, "setter")
	ctx := context.Background()

	memberUser, err := env.users.GetByUsername(ctx, "member")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	adminUser, err := env.users.GetByUsername(ctx, "setter")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}

	rec := env.request(t, http.MethodGet, "/api/v1/users", nil, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Count != 2 {
		t.Errorf("users = %d, want 2", list.Count)
	}

	if rec := env.request(t, http.MethodGet, "/api/v1/users/"+memberUser.ID, nil, admin); rec.Code != http.StatusOK {
		t.Errorf("get status = %d, want 200", rec.Code)
	}
	if rec := env.request(t, http.MethodGet, "/api/v1/users/usr-missing", nil, admin); rec.Code != http.StatusNotFound {
		t.Errorf("get missing status = %d, want 404", rec.Code)
	}

	rec = env.request(t, http.MethodPatch, "/api/v1/users/"+memberUser.ID, map[string]any{
		"full_name":       "Route Setter",
		"is_global_admin": true,
	}, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body = %s", rec.Code, rec.Body.String())
	}
	updated, err := env.users.GetByID(ctx, memberUser.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if updated.FullName != "Route Setter" || !updated.IsGlobalAdmin {
		t.Errorf("updated = %+v", updated)
	}

	if rec := env.request(t, http.MethodPatch, "/api/v1/users/"+adminUser.ID, map[string]any{
		"is_global_admin": false,
	}, admin); rec.Code != http.StatusForbidden {
		t.Errorf("self demotion status = %d, want 403", rec.Code)
	}
	if rec := env.request(t, http.MethodDelete, "/api/v1/users/"+adminUser.ID, nil, admin); rec.Code != http.StatusForbidden {
		t.Errorf("self delete status = %d, want 403", rec.Code)
	}

	if rec := env.request(t, http.MethodDelete, "/api/v1/users/"+memberUser.ID, nil, admin); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := env.request(t, http.MethodPost, "/api/v1/auth/refresh", nil, member); rec.Code != http.StatusUnauthorized {
		t.Errorf("deleted user's refresh status = %d, want 401", rec.Code)
	}
	if rec := env.request(t, http.MethodDelete, "/api/v1/users/"+memberUser.ID, nil, admin); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "member")
	admin := env.makeAdmin(t, "setter")

	rec := env.request(t, http.MethodGet, "/api/v1/metrics", nil, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var m SystemMetrics
	decodeBody(t, rec, &m)
	if m.Version != "test" {
		t.Errorf("Version = %q, want test", m.Version)
	}
	if m.Auth.Users != 2 || m.Auth.ActiveSessions != 2 {
		t.Errorf("Auth = %+v, want 2 users and 2 sessions", m.Auth)
	}
	if !m.MQTT.Enabled || !m.MQTT.Connected {
		t.Errorf("MQTT = %+v, want enabled and connected", m.MQTT)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("Runtime.Goroutines = 0")
	}
}

func TestAuditLog_Filters(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "member")
	env.request(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "member", "password": "wrong-password",
	}, nil)
	admin := env.makeAdmin(t, "setter")
	env.flushEvents()

	rec := env.request(t, http.MethodGet, "/api/v1/audit?action=login&outcome=failure", nil, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var result audit.ListResult
	decodeBody(t, rec, &result)
	if result.Total != 1 || result.Logs[0].Username != "member" {
		t.Errorf("failed logins = %+v", result.Logs)
	}

	rec = env.request(t, http.MethodGet, "/api/v1/audit?limit=1", nil, admin)
	decodeBody(t, rec, &result)
	if len(result.Logs) != 1 || result.Total < 3 {
		t.Errorf("limit=1 returned %d of %d", len(result.Logs), result.Total)
	}
}
