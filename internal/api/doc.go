// Package api implements the HTTP API and WebSocket stream for Cragline Core.
//
// This package provides:
//   - Authentication endpoints: register, login, logout, refresh, me, password change
//   - Session listing and revocation, with the caller's own session marked current
//   - Out-of-band admin recovery gated by an operator token
//   - Admin user management and audit log queries
//   - A per-user WebSocket stream of session events
//   - Middleware stack (request ID, logging, recovery, CORS, origin guard, auth)
//
// # Tokens
//
// Access tokens (HS256 JWT, 15 minutes by default) and refresh tokens
// ("<id>.<secret>", 14 days) travel as two HttpOnly cookies. The refresh
// cookie is scoped to /api/v1/auth so it is only sent where it is needed.
// Non-browser clients may present the access token as a Bearer header.
//
// # Origin guard
//
// State-changing requests carrying an Origin (or Referer) header must come
// from an allow-listed origin. Requests carrying neither pass; SameSite
// cookies remain the primary CSRF defence.
//
// # Graceful Degradation
//
// MQTT and InfluxDB are optional. Without them security events are still
// written to the audit log.
package api
