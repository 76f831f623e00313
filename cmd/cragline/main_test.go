package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cragline/cragline-core/internal/auth"
	"github.com/cragline/cragline-core/internal/infrastructure/database"
	"github.com/cragline/cragline-core/internal/infrastructure/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// stubPasswords replaces the terminal prompt with canned answers.
func stubPasswords(t *testing.T, answers ...string) {
	t.Helper()
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })

	readPassword = func(int) ([]byte, error) {
		if len(answers) == 0 {
			return nil, errors.New("no more input")
		}
		next := answers[0]
		answers = answers[1:]
		return []byte(next), nil
	}
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("CRAGLINE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_ProductionWithoutSecret verifies the production posture is enforced at startup.
func TestRun_ProductionWithoutSecret(t *testing.T) {
	t.Setenv("CRAGLINE_CONFIG", writeConfig(t, `
database:
  path: "`+filepath.Join(t.TempDir(), "core.db")+`"
security:
  production: true
  allowed_origins: ["https://gym.example.com"]
`))

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "security.jwt.secret") {
		t.Fatalf("run() error = %v, want missing secret", err)
	}
}

// TestRun_ServesUntilCancelled boots the full service on a free port.
func TestRun_ServesUntilCancelled(t *testing.T) {
	port := freePort(t)
	t.Setenv("CRAGLINE_CONFIG", writeConfig(t, fmt.Sprintf(`
database:
  path: "%s"
  wal_mode: true
  busy_timeout: 5
api:
  host: "127.0.0.1"
  port: %d
logging:
  level: error
  format: text
security:
  jwt:
    secret: "test-secret-key-at-least-32-characters-long"
  bootstrap:
    username: "admin"
    password: "bootstrap-password"
`, filepath.Join(t.TempDir(), "core.db"), port)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(healthURL) //nolint:gosec,noctx // test URL
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("health status = %d, want 200", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("server never became healthy: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CRAGLINE_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("CRAGLINE_CONFIG", "/etc/cragline/config.yaml")
	if got := getConfigPath(); got != "/etc/cragline/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("CRAGLINE_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, source, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if source != "(defaults)" {
		t.Errorf("source = %q, want defaults", source)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
}

func TestResetAdmin(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "core.db")
	t.Setenv("CRAGLINE_CONFIG", writeConfig(t, `
database:
  path: "`+dbPath+`"
`))
	ctx := context.Background()

	stubPasswords(t, "rescue-password", "rescue-password")
	var out bytes.Buffer
	if err := runResetAdmin(ctx, []string{"-username", "headsetter"}, &out); err != nil {
		t.Fatalf("runResetAdmin() error = %v", err)
	}
	if !strings.Contains(out.String(), `Created admin account "headsetter"`) {
		t.Errorf("output = %q", out.String())
	}

	stubPasswords(t, "second-password", "second-password")
	out.Reset()
	if err := runResetAdmin(ctx, []string{"-username", "headsetter"}, &out); err != nil {
		t.Fatalf("second runResetAdmin() error = %v", err)
	}
	if !strings.Contains(out.String(), "Reset password") {
		t.Errorf("output = %q", out.String())
	}

	db, err := database.Open(ctx, database.Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()

	v := auth.NewVerifier(auth.NewUserRepository(db.DB), logging.Discard().Slog())
	user, err := v.Verify(ctx, "headsetter", "second-password")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !user.IsGlobalAdmin {
		t.Error("reset account should be a global admin")
	}
}

func TestResetAdmin_PromptErrors(t *testing.T) {
	t.Setenv("CRAGLINE_CONFIG", writeConfig(t, `
database:
  path: "`+filepath.Join(t.TempDir(), "core.db")+`"
`))

	tests := []struct {
		name    string
		answers []string
		wantErr error
	}{
		{"mismatch", []string{"rescue-password", "other-password"}, errPasswordMismatch},
		{"too short", []string{"short", "short"}, auth.ErrPasswordTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubPasswords(t, tt.answers...)
			err := runResetAdmin(context.Background(), nil, &bytes.Buffer{})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("runResetAdmin() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := runResetAdmin(context.Background(), []string{"-bogus"}, &bytes.Buffer{}); err == nil {
		t.Error("unknown flag should fail")
	}
}
