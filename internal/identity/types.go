package identity

import "time"

const (
	StatusUnverified = "unverified"
	StatusActive     = "active"
)

// User is an identity record. The password digest is excluded from every
// serialized view.
type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Surname        string    `json:"surname"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	PasswordDigest string    `json:"-"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Role is a named permission grouping. The set of roles is closed and seeded
// at deployment time.
type Role struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleAssignment links a user to a role. A (user, role) pair appears at most
// once.
type RoleAssignment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Purpose identifies what a single-use token may be consumed for. Tokens are
// never valid across purposes.
type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

// Token is the persisted form of a single-use token. Only the SHA-256 digest
// of the value is stored; the plaintext value exists solely in the issuance
// response handed to the notification channel.
type Token struct {
	Digest    string
	UserID    string
	Purpose   Purpose
	ExpiresAt time.Time
	CreatedAt time.Time
}
