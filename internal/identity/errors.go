package identity

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicateEmail     = errors.New("email already in use")
	ErrDuplicateUsername  = errors.New("username already in use")
	ErrUserNotFound       = errors.New("user not found")
	ErrRoleNotFound       = errors.New("role not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotVerified = errors.New("account not verified")

	// ErrInvalidToken is the only token failure surfaced by the lifecycle
	// operations; the sub-causes below never cross the service boundary.
	ErrInvalidToken = errors.New("invalid token")

	ErrTokenNotFound    = errors.New("token not found")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenAlreadyUsed = errors.New("token already used")

	// ErrInvalidSession indicates a session credential failed validation.
	ErrInvalidSession = errors.New("invalid session")

	// ErrStoreUnavailable classifies persistence failures that are fatal for
	// the current request.
	ErrStoreUnavailable = errors.New("store unavailable")
)
