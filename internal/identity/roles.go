package identity

import (
	"context"
	"fmt"
	"strings"

	"idport.org/internal/ids"
)

// Role names form a closed set defined at deployment time. They are seeded
// into the store, not matched in code.
const (
	RoleUser  = "USER_ROLE"
	RoleAdmin = "ADMIN_ROLE"
)

// SeedRoles returns the authoritative role set with fresh identifiers. Ensure
// semantics keep existing rows, so repeated seeding is harmless.
func SeedRoles() []Role {
	return []Role{
		{ID: ids.New(), Name: RoleUser},
		{ID: ids.New(), Name: RoleAdmin},
	}
}

// Directory answers role membership queries and performs role mutation. A
// user's role update is a replace of the whole set, mirroring the
// single-active-role authorization model.
type Directory struct {
	store Store
}

func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// FindByName resolves a role by its unique name.
func (d *Directory) FindByName(ctx context.Context, name string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return d.store.Roles(ctx).FindByName(ctx, name)
}

// CountUsersInRole returns how many users currently hold the role.
func (d *Directory) CountUsersInRole(ctx context.Context, name string) (int, error) {
	if _, err := d.FindByName(ctx, name); err != nil {
		return 0, err
	}
	return d.store.Roles(ctx).CountUsers(ctx, name)
}

// UsersInRole lists members ordered by account creation time.
func (d *Directory) UsersInRole(ctx context.Context, name string) ([]*User, error) {
	if _, err := d.FindByName(ctx, name); err != nil {
		return nil, err
	}
	return d.store.Roles(ctx).UsersInRole(ctx, name)
}

// RoleNamesForUser lists the user's role names in assignment order.
func (d *Directory) RoleNamesForUser(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return d.store.Roles(ctx).RoleNamesForUser(ctx, userID)
}

// AssignRole replaces the user's role set with the single named role. The
// operation is idempotent when the user already holds exactly that role, and
// never leaves the user with zero roles.
func (d *Directory) AssignRole(ctx context.Context, userID, roleName string) (*RoleAssignment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	role, err := d.FindByName(ctx, roleName)
	if err != nil {
		return nil, err
	}
	return d.store.Users(ctx).SetRole(ctx, userID, role.ID)
}
