// Package auth implements the opsimulator authentication backend: user
// registration, credential login, email verification, password reset,
// non-rotating refresh sessions and HS256 access-token issuance.
//
// Opaque tokens (verification, reset, refresh) are never stored in plaintext;
// only their SHA-256 fingerprint is persisted. Services raise rich errors
// carrying a text code, and the HTTP layer maps those codes to statuses.
package auth
