// Package memory provides a mutex-guarded in-memory implementation of the
// identity persistence boundary. It backs tests and DSN-less local runs and
// enforces the same uniqueness and check-and-set invariants as the Postgres
// store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"idport.org/internal/identity"
	"idport.org/internal/ids"
)

var _ identity.Store = (*Store)(nil)

type Store struct {
	mu sync.Mutex

	users       map[string]*identity.User
	emailIndex  map[string]string
	userIndex   map[string]string
	roles       map[string]*identity.Role
	roleNames   map[string]string
	assignments map[string][]*identity.RoleAssignment
	tokens      map[string]*tokenRecord
}

type tokenRecord struct {
	identity.Token
	ConsumedAt *time.Time
}

func New() *Store {
	return &Store{
		users:       make(map[string]*identity.User),
		emailIndex:  make(map[string]string),
		userIndex:   make(map[string]string),
		roles:       make(map[string]*identity.Role),
		roleNames:   make(map[string]string),
		assignments: make(map[string][]*identity.RoleAssignment),
		tokens:      make(map[string]*tokenRecord),
	}
}

func (s *Store) Users(context.Context) identity.UserStore   { return (*userStore)(s) }
func (s *Store) Roles(context.Context) identity.RoleStore   { return (*roleStore)(s) }
func (s *Store) Tokens(context.Context) identity.TokenStore { return (*tokenStore)(s) }

// User store ---------------------------------------------------------------

type userStore Store

func (s *userStore) Create(ctx context.Context, u *identity.User, roleID string, verification *identity.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, exists := s.emailIndex[email]; exists {
		return identity.ErrDuplicateEmail
	}
	if _, exists := s.userIndex[u.Username]; exists {
		return identity.ErrDuplicateUsername
	}
	if _, exists := s.roles[roleID]; !exists {
		return identity.ErrRoleNotFound
	}

	clone := *u
	s.users[u.ID] = &clone
	s.emailIndex[email] = u.ID
	s.userIndex[u.Username] = u.ID
	s.assignments[u.ID] = []*identity.RoleAssignment{{
		ID:        ids.New(),
		UserID:    u.ID,
		RoleID:    roleID,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.CreatedAt,
	}}
	if verification != nil {
		(*Store)(s).replaceTokenLocked(verification)
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emailIndex[strings.ToLower(email)]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	clone := *s.users[id]
	return &clone, nil
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.userIndex[username]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	clone := *s.users[id]
	return &clone, nil
}

func (s *userStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.emailIndex[strings.ToLower(email)]
	return ok, nil
}

func (s *userStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.userIndex[username]
	return ok, nil
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.PasswordDigest = digest
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *userStore) UpdateStatus(ctx context.Context, userID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *userStore) SetRole(ctx context.Context, userID, roleID string) (*identity.RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil, identity.ErrUserNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return nil, identity.ErrRoleNotFound
	}
	now := time.Now().UTC()
	for _, a := range s.assignments[userID] {
		if a.RoleID == roleID && len(s.assignments[userID]) == 1 {
			a.UpdatedAt = now
			clone := *a
			return &clone, nil
		}
	}
	assignment := &identity.RoleAssignment{
		ID:        ids.New(),
		UserID:    userID,
		RoleID:    roleID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.assignments[userID] = []*identity.RoleAssignment{assignment}
	clone := *assignment
	return &clone, nil
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return identity.ErrUserNotFound
	}
	delete(s.emailIndex, strings.ToLower(u.Email))
	delete(s.userIndex, u.Username)
	delete(s.users, id)
	delete(s.assignments, id)
	for digest, tok := range s.tokens {
		if tok.UserID == id {
			delete(s.tokens, digest)
		}
	}
	return nil
}

// Role store ---------------------------------------------------------------

type roleStore Store

func (s *roleStore) FindByName(ctx context.Context, name string) (*identity.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.roleNames[name]
	if !ok {
		return nil, identity.ErrRoleNotFound
	}
	clone := *s.roles[id]
	return &clone, nil
}

func (s *roleStore) Ensure(ctx context.Context, roles []identity.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, role := range roles {
		if _, exists := s.roleNames[role.Name]; exists {
			continue
		}
		clone := role
		if clone.CreatedAt.IsZero() {
			clone.CreatedAt = now
			clone.UpdatedAt = now
		}
		s.roles[clone.ID] = &clone
		s.roleNames[clone.Name] = clone.ID
	}
	return nil
}

func (s *roleStore) CountUsers(ctx context.Context, roleName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roleID, ok := s.roleNames[roleName]
	if !ok {
		return 0, identity.ErrRoleNotFound
	}
	count := 0
	for _, list := range s.assignments {
		for _, a := range list {
			if a.RoleID == roleID {
				count++
			}
		}
	}
	return count, nil
}

func (s *roleStore) UsersInRole(ctx context.Context, roleName string) ([]*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roleID, ok := s.roleNames[roleName]
	if !ok {
		return nil, identity.ErrRoleNotFound
	}
	var members []*identity.User
	for userID, list := range s.assignments {
		for _, a := range list {
			if a.RoleID == roleID {
				clone := *s.users[userID]
				members = append(members, &clone)
				break
			}
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].ID < members[j].ID
		}
		return members[i].CreatedAt.Before(members[j].CreatedAt)
	})
	return members, nil
}

func (s *roleStore) RoleNamesForUser(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.assignments[userID]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	names := make([]string, 0, len(list))
	for _, a := range list {
		if role, exists := s.roles[a.RoleID]; exists {
			names = append(names, role.Name)
		}
	}
	return names, nil
}

// Token store --------------------------------------------------------------

type tokenStore Store

func (s *tokenStore) Replace(ctx context.Context, tok *identity.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	(*Store)(s).replaceTokenLocked(tok)
	return nil
}

func (s *tokenStore) Consume(ctx context.Context, digest string, purpose identity.Purpose, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[digest]
	if !ok || rec.Purpose != purpose {
		return "", identity.ErrTokenNotFound
	}
	if rec.ConsumedAt != nil {
		return rec.UserID, identity.ErrTokenAlreadyUsed
	}
	if !rec.ExpiresAt.After(now) {
		return "", identity.ErrTokenExpired
	}
	consumed := now
	rec.ConsumedAt = &consumed
	return rec.UserID, nil
}

func (s *tokenStore) RevokeAll(ctx context.Context, userID string, purpose identity.Purpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, rec := range s.tokens {
		if rec.UserID == userID && rec.Purpose == purpose && rec.ConsumedAt == nil {
			consumed := now
			rec.ConsumedAt = &consumed
		}
	}
	return nil
}

// replaceTokenLocked drops any unconsumed token of the same (user, purpose)
// before inserting the new record. Callers hold s.mu.
func (s *Store) replaceTokenLocked(tok *identity.Token) {
	for digest, rec := range s.tokens {
		if rec.UserID == tok.UserID && rec.Purpose == tok.Purpose && rec.ConsumedAt == nil {
			delete(s.tokens, digest)
		}
	}
	clone := *tok
	s.tokens[tok.Digest] = &tokenRecord{Token: clone}
}
