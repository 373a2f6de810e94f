// Package common defines the sentinel errors and shared constants used by the
// token authority. Callers match errors with errors.Is; the HTTP layer maps
// them to status codes and never forwards their text to clients.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("already exists")

	// Service-level errors.
	ErrorInternal = errors.New("internal error")

	// Credential errors.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")

	// Access token errors.
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenExpired     = errors.New("token expired")

	// Refresh token errors.
	ErrInvalidToken        = errors.New("invalid token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// Startup configuration errors.
	ErrWeakSecret       = errors.New("signing secret must be at least 32 bytes")
	ErrInvalidLifetime  = errors.New("token lifetime must be positive")
	ErrInvalidPwdFormat = errors.New("unsupported password hash format")
)
