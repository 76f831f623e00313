// Package auth provides authentication and session management for Cragline Core.
//
// It covers:
//   - Argon2id password hashing, with a one-time upgrade path for accounts
//     carried over from the legacy salted SHA-256 scheme
//   - short-lived HS256 access tokens carrying user id, username and the
//     global admin flag
//   - rotating refresh tokens of the form "<id>.<secret>", stored only as a
//     SHA-256 of the secret and looked up by id
//   - per-user session listing and revocation
//   - the operator recovery path for the admin account
//
// Authorisation is a single boolean, User.IsGlobalAdmin. Ownership checks on
// gym data (walls, boulders, ascents) belong to the callers.
package auth
