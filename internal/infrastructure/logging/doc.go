// Package logging provides structured logging for Cragline Core.
//
// It wraps log/slog so every component logs with the same handler,
// level filtering and default fields (service, version).
//
// Configuration lives in the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log passwords, refresh secrets, access tokens or the recovery token.
// Log identifiers (user_id, session_id) instead.
package logging
