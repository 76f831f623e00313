package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cragline/cragline-core/internal/audit"
	"github.com/cragline/cragline-core/internal/auth"
	"github.com/cragline/cragline-core/internal/infrastructure/config"
	"github.com/cragline/cragline-core/internal/infrastructure/database"
	"github.com/cragline/cragline-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EventPublisher publishes security events to the message bus.
// *mqtt.Client satisfies it.
type EventPublisher interface {
	PublishEvent(topic string, v any) error
	IsConnected() bool
}

// MetricsWriter records security event counts. *influxdb.Client satisfies it.
type MetricsWriter interface {
	WriteAuthEvent(action, outcome string)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	DB       *database.DB // optional: pool stats on /metrics

	Users    auth.UserRepository
	Tokens   auth.TokenRepository
	Verifier *auth.Verifier
	Issuer   *auth.Issuer
	Refresh  *auth.RefreshService
	Sessions *auth.SessionManager
	Recovery *auth.Recovery // nil behaves as disabled

	AuditRepo audit.Repository // optional
	Events    EventPublisher   // optional
	Metrics   MetricsWriter    // optional

	// Mount registers additional routes under /api/v1 behind the origin
	// guard. Protect them with s.RequireAuth / s.RequireAdmin.
	Mount func(s *Server, r chi.Router)

	Version string
}

// Server is the HTTP API server for Cragline Core.
//
// It manages the HTTP listener, routes, middleware, the session event hub
// and the security event pipeline. Create with New, start with Start.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	db       *database.DB
	users    auth.UserRepository
	tokens   auth.TokenRepository
	verifier *auth.Verifier
	issuer   *auth.Issuer
	refresh  *auth.RefreshService
	sessions *auth.SessionManager
	recovery *auth.Recovery

	auditRepo audit.Repository
	events    EventPublisher
	metrics   MetricsWriter
	mount     func(s *Server, r chi.Router)
	version   string

	origins   map[string]struct{}
	hub       *Hub
	eventCh   chan securityEvent
	startTime time.Time

	server  *http.Server
	handler http.Handler
	cancel  context.CancelFunc // stops hub and event drain
	bg      sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	case deps.Users == nil || deps.Tokens == nil:
		return nil, errors.New("user and token repositories are required")
	case deps.Verifier == nil || deps.Issuer == nil:
		return nil, errors.New("verifier and issuer are required")
	case deps.Refresh == nil || deps.Sessions == nil:
		return nil, errors.New("refresh service and session manager are required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		db:        deps.DB,
		users:     deps.Users,
		tokens:    deps.Tokens,
		verifier:  deps.Verifier,
		issuer:    deps.Issuer,
		refresh:   deps.Refresh,
		sessions:  deps.Sessions,
		recovery:  deps.Recovery,
		auditRepo: deps.AuditRepo,
		events:    deps.Events,
		metrics:   deps.Metrics,
		mount:     deps.Mount,
		version:   deps.Version,
		origins:   normaliseOrigins(deps.Security.AllowedOrigins),
		hub:       NewHub(deps.Logger),
		eventCh:   make(chan securityEvent, eventChanSize),
		startTime: time.Now(),
	}

	if len(s.origins) == 0 {
		s.logger.Warn("security.allowed_origins is empty: every origin is accepted",
			"production", deps.Security.Production)
	}

	if s.verifier.OnUpgrade == nil {
		s.verifier.OnUpgrade = s.onLegacyUpgrade
	}

	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start launches the background workers and the HTTP listener.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	s.startBackground(ctx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.handler,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// startBackground runs the hub and the security event drain until Close.
func (s *Server) startBackground(ctx context.Context) {
	var bgCtx context.Context
	bgCtx, s.cancel = context.WithCancel(ctx)

	s.bg.Add(2)
	go func() {
		defer s.bg.Done()
		s.hub.Run(bgCtx)
	}()
	go func() {
		defer s.bg.Done()
		s.drainEvents(bgCtx)
	}()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests and for pending legacy
// upgrades, then stops the hub and flushes queued security events.
func (s *Server) Close() error {
	var shutdownErr error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.logger.Info("API server shutting down")
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("shutting down API server: %w", err)
		}
	}

	// Pending legacy upgrades still queue audit events.
	s.verifier.Wait()

	if s.cancel != nil {
		s.cancel()
		s.bg.Wait()
	}
	return shutdownErr
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return errors.New("api server not started")
	}

	return nil
}

// normaliseOrigins lower-cases the allow-list and drops trailing slashes.
func normaliseOrigins(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, o := range list {
		o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
		if o != "" {
			set[o] = struct{}{}
		}
	}
	return set
}
