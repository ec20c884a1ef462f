package pg

import (
	"context"
	"database/sql"
	"errors"

	"idport.org/internal/identity"
)

type roleStore struct{ db *sql.DB }

func (s *roleStore) FindByName(ctx context.Context, name string) (*identity.Role, error) {
	var role identity.Role
	err := s.db.QueryRowContext(ctx,
		`select id, name, created_at, updated_at from roles where name = $1`, name,
	).Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrRoleNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &role, nil
}

func (s *roleStore) Ensure(ctx context.Context, roles []identity.Role) error {
	for _, role := range roles {
		if _, err := s.db.ExecContext(ctx,
			`insert into roles (id, name) values ($1, $2) on conflict (name) do nothing`,
			role.ID, role.Name,
		); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (s *roleStore) CountUsers(ctx context.Context, roleName string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		select count(*)
		from user_roles ur
		join roles r on r.id = ur.role_id
		where r.name = $1
	`, roleName).Scan(&count)
	return count, classify(err)
}

func (s *roleStore) UsersInRole(ctx context.Context, roleName string) ([]*identity.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select u.id, u.name, u.surname, u.username, u.email, u.password_digest, u.status, u.created_at, u.updated_at
		from users u
		join user_roles ur on ur.user_id = u.id
		join roles r on r.id = ur.role_id
		where r.name = $1
		order by u.created_at asc, u.id asc
	`, roleName)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var users []*identity.User
	for rows.Next() {
		var u identity.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Surname, &u.Username, &u.Email, &u.PasswordDigest, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, classify(err)
		}
		users = append(users, &u)
	}
	return users, classify(rows.Err())
}

func (s *roleStore) RoleNamesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by ur.created_at asc
	`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classify(err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	if len(names) == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`select exists(select 1 from users where id = $1)`, userID).Scan(&exists); err != nil {
			return nil, classify(err)
		}
		if !exists {
			return nil, identity.ErrUserNotFound
		}
	}
	return names, nil
}
