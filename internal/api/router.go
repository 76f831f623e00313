package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.originGuardMiddleware)

		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no access token required)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/recovery", s.handleRecovery)

			r.Group(func(r chi.Router) {
				r.Use(s.RequireAuth)

				r.Get("/me", s.handleMe)
				r.Put("/password", s.handleChangePassword)

				r.Route("/sessions", func(r chi.Router) {
					r.Get("/", s.handleListSessions)
					r.Get("/events", s.handleSessionEvents)
					r.Delete("/{id}", s.handleRevokeSession)
				})
			})
		})

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(s.RequireAuth)
			r.Use(s.RequireAdmin)

			r.Get("/metrics", s.handleMetrics)
			r.Get("/audit", s.handleListAuditLogs)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", s.handleListUsers)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetUser)
					r.Patch("/", s.handleUpdateUser)
					r.Delete("/", s.handleDeleteUser)
				})
			})
		})

		// Collaborator routes (boulders, walls, ascents, ...)
		if s.mount != nil {
			s.mount(s, r)
		}
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
