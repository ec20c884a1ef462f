package identity

import (
	"context"
	"time"
)

// Store describes the persistence boundary consumed by the identity core.
// Every read-by-unique-key reports absence through the sentinel errors in
// errors.go rather than driver-level failures.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Tokens(ctx context.Context) TokenStore
}

// UserStore manages user records and their role assignment.
type UserStore interface {
	// Create persists the user, its initial role assignment and the email
	// verification token in a single atomic write. Uniqueness of email and
	// username is enforced here; violations surface as ErrDuplicateEmail or
	// ErrDuplicateUsername.
	Create(ctx context.Context, u *User, roleID string, verification *Token) error

	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)

	UpdatePassword(ctx context.Context, userID, digest string) error
	UpdateStatus(ctx context.Context, userID, status string) error

	// SetRole replaces the user's whole role set with the single given role.
	SetRole(ctx context.Context, userID, roleID string) (*RoleAssignment, error)

	Delete(ctx context.Context, id string) error
}

// RoleStore manages the closed role set and assignment queries.
type RoleStore interface {
	FindByName(ctx context.Context, name string) (*Role, error)
	// Ensure inserts any missing roles from the seed set; existing roles are
	// left untouched.
	Ensure(ctx context.Context, roles []Role) error
	CountUsers(ctx context.Context, roleName string) (int, error)
	// UsersInRole returns members ordered by creation time ascending.
	UsersInRole(ctx context.Context, roleName string) ([]*User, error)
	// RoleNamesForUser returns role names in assignment order.
	RoleNamesForUser(ctx context.Context, userID string) ([]string, error)
}

// TokenStore manages single-use token lifecycle.
type TokenStore interface {
	// Replace invalidates any unconsumed token of the same (user, purpose)
	// and inserts the new one, atomically.
	Replace(ctx context.Context, tok *Token) error

	// Consume atomically marks the token used and returns the owning user id.
	// At most one of two concurrent calls on the same digest succeeds. The
	// failure is one of ErrTokenNotFound, ErrTokenExpired or
	// ErrTokenAlreadyUsed; for the already-used case the owning user id is
	// still returned alongside the error.
	Consume(ctx context.Context, digest string, purpose Purpose, now time.Time) (string, error)

	// RevokeAll consumes every outstanding token of the given purpose for the
	// user.
	RevokeAll(ctx context.Context, userID string, purpose Purpose) error
}
