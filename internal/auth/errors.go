package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")

	// ErrInvalidToken indicates a credential failed validation, including a
	// rejected refresh exchange.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrAuthenticationRequired means no principal was present on a protected call.
	ErrAuthenticationRequired = errors.New("auth: authentication required")

	// ErrForbidden means a role or permission check failed. Denials are
	// terminal for the request; the engine never retries.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthorized covers failed credential checks (bad email/password,
	// disabled account).
	ErrUnauthorized = errors.New("auth: unauthorized")
)
