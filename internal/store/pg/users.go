package pg

import (
	"context"
	"database/sql"
	"errors"

	"idport.org/internal/identity"
	"idport.org/internal/ids"
)

type userStore struct{ db *sql.DB }

const userColumns = `id, name, surname, username, email, password_digest, status, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*identity.User, error) {
	var u identity.User
	err := row.Scan(&u.ID, &u.Name, &u.Surname, &u.Username, &u.Email, &u.PasswordDigest, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrUserNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &u, nil
}

// Create inserts the user, its role assignment and the verification token in
// one transaction, so cancellation mid-operation leaves no partial account.
func (s *userStore) Create(ctx context.Context, u *identity.User, roleID string, verification *identity.Token) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into users (id, name, surname, username, email, password_digest, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Name, u.Surname, u.Username, u.Email, u.PasswordDigest, u.Status, u.CreatedAt, u.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return mapUniqueViolation(pgErr)
		}
		return classify(err)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into user_roles (id, user_id, role_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5)
	`, ids.New(), u.ID, roleID, u.CreatedAt, u.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return identity.ErrRoleNotFound
		}
		return classify(err)
	}
	if verification != nil {
		if _, err := tx.ExecContext(ctx, `
			insert into account_tokens (digest, user_id, purpose, expires_at, created_at)
			values ($1, $2, $3, $4, $5)
		`, verification.Digest, verification.UserID, verification.Purpose, verification.ExpiresAt, verification.CreatedAt); err != nil {
			return classify(err)
		}
	}
	return classify(tx.Commit())
}

func (s *userStore) Find(ctx context.Context, id string) (*identity.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email = $1`, email))
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*identity.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where username = $1`, username))
}

func (s *userStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from users where email = $1)`, email).Scan(&exists)
	return exists, classify(err)
}

func (s *userStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from users where username = $1)`, username).Scan(&exists)
	return exists, classify(err)
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, digest string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_digest = $1, updated_at = now() where id = $2`, digest, userID)
	if err != nil {
		return classify(err)
	}
	return requireAffected(res)
}

func (s *userStore) UpdateStatus(ctx context.Context, userID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set status = $1, updated_at = now() where id = $2`, status, userID)
	if err != nil {
		return classify(err)
	}
	return requireAffected(res)
}

// SetRole replaces the whole assignment set with the single given role.
func (s *userStore) SetRole(ctx context.Context, userID, roleID string) (*identity.RoleAssignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from users where id = $1)`, userID).Scan(&exists); err != nil {
		return nil, classify(err)
	}
	if !exists {
		return nil, identity.ErrUserNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`delete from user_roles where user_id = $1 and role_id <> $2`, userID, roleID); err != nil {
		return nil, classify(err)
	}

	var a identity.RoleAssignment
	row := tx.QueryRowContext(ctx, `
		insert into user_roles (id, user_id, role_id)
		values ($1, $2, $3)
		on conflict (user_id, role_id) do update set updated_at = now()
		returning id, user_id, role_id, created_at, updated_at
	`, ids.New(), userID, roleID)
	if err := row.Scan(&a.ID, &a.UserID, &a.RoleID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return nil, identity.ErrRoleNotFound
		}
		return nil, classify(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return &a, nil
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return classify(err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}
