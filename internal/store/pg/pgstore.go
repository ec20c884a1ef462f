// Package pg implements the identity persistence boundary on PostgreSQL.
// Uniqueness and token single-use are enforced here, at the storage boundary,
// so the guarantees hold across processes.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"idport.org/internal/identity"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Constraint names from migrations/sql/0001_identity.up.sql; they let a unique
// violation be mapped back to the caller-facing duplicate kind.
const (
	constraintUsersEmail    = "users_email_key"
	constraintUsersUsername = "users_username_key"
)

var _ identity.Store = (*Store)(nil)

// Store implements identity.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open dials PostgreSQL through the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection pool (used by tests with sqlmock).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users(context.Context) identity.UserStore   { return &userStore{db: s.db} }
func (s *Store) Roles(context.Context) identity.RoleStore   { return &roleStore{db: s.db} }
func (s *Store) Tokens(context.Context) identity.TokenStore { return &tokenStore{db: s.db} }

// classify folds driver and connection failures into ErrStoreUnavailable.
// Server-reported errors (PgError) and not-found results pass through so the
// per-operation mapping can handle them.
func classify(err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if _, ok := maybePgError(err); ok {
		return err
	}
	return fmt.Errorf("%w: %v", identity.ErrStoreUnavailable, err)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapUniqueViolation translates a unique-constraint failure into the
// duplicate kind it represents.
func mapUniqueViolation(pgErr *pgconn.PgError) error {
	switch pgErr.ConstraintName {
	case constraintUsersEmail:
		return identity.ErrDuplicateEmail
	case constraintUsersUsername:
		return identity.ErrDuplicateUsername
	default:
		return pgErr
	}
}
