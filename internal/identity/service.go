package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"idport.org/internal/ids"
)

const (
	defaultVerificationTTL = 24 * time.Hour
	defaultResetTTL        = 30 * time.Minute
)

// Service orchestrates the account lifecycle: registration, email
// verification, credential checks, password reset and role mutation. It holds
// no mutable state of its own; the store is the only shared resource.
type Service struct {
	store    Store
	hasher   *Hasher
	tokens   *TokenIssuer
	roles    *Directory
	notifier Notifier
	now      func() time.Time

	verificationTTL time.Duration
	resetTTL        time.Duration
	defaultRole     string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithHasher replaces the default credential hasher.
func WithHasher(h *Hasher) ServiceOption {
	return func(s *Service) error {
		if h != nil {
			s.hasher = h
		}
		return nil
	}
}

// WithNotifier wires the out-of-band delivery channel for issued tokens.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) error {
		if n != nil {
			s.notifier = n
		}
		return nil
	}
}

// WithVerificationTTL configures the email verification token lifetime.
func WithVerificationTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.verificationTTL = ttl
		}
		return nil
	}
}

// WithResetTTL configures the password reset token lifetime.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.resetTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithTokenIssuer replaces the default token issuer.
func WithTokenIssuer(g *TokenIssuer) ServiceOption {
	return func(s *Service) error {
		if g != nil {
			s.tokens = g
		}
		return nil
	}
}

// NewService constructs the lifecycle manager with explicit collaborators.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: store is required")
	}
	svc := &Service{
		store:           store,
		hasher:          NewHasher(DefaultHasherParams()),
		roles:           NewDirectory(store),
		notifier:        NopNotifier{},
		now:             time.Now,
		verificationTTL: defaultVerificationTTL,
		resetTTL:        defaultResetTTL,
		defaultRole:     RoleUser,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.tokens == nil {
		issuer, err := NewTokenIssuer(store, WithTokenClock(svc.now))
		if err != nil {
			return nil, err
		}
		svc.tokens = issuer
	}
	return svc, nil
}

// EnsureRoles seeds the closed role set into the store.
func (s *Service) EnsureRoles(ctx context.Context) error {
	return s.store.Roles(ctx).Ensure(ctx, SeedRoles())
}

// RegisterInput carries the registration fields.
type RegisterInput struct {
	Name     string
	Surname  string
	Username string
	Email    string
	Password string
}

func (in RegisterInput) normalized() RegisterInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Surname = strings.TrimSpace(in.Surname)
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	return in
}

// Register creates an unverified account with the default role and a pending
// email verification token, all in one transactional write. Existence is
// pre-checked before hashing to avoid wasted cost; the storage uniqueness
// constraint remains the authoritative check against concurrent duplicates.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	in = in.normalized()
	if err := ValidateRegistration(in, s.hasher.params.MaxPasswordLength); err != nil {
		return nil, err
	}

	users := s.store.Users(ctx)
	if taken, err := users.ExistsByEmail(ctx, in.Email); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrDuplicateEmail
	}
	if taken, err := users.ExistsByUsername(ctx, in.Username); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrDuplicateUsername
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	role, err := s.store.Roles(ctx).FindByName(ctx, s.defaultRole)
	if err != nil {
		return nil, fmt.Errorf("resolve default role: %w", err)
	}

	now := s.now().UTC()
	user := &User{
		ID:             ids.New(),
		Name:           in.Name,
		Surname:        in.Surname,
		Username:       in.Username,
		Email:          in.Email,
		PasswordDigest: digest,
		Status:         StatusUnverified,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	issued, rec, err := s.tokens.Mint(user.ID, PurposeEmailVerification, s.verificationTTL)
	if err != nil {
		return nil, err
	}
	if err := users.Create(ctx, user, role.ID, rec); err != nil {
		return nil, err
	}

	// Delivery is best-effort; the account exists either way and the token
	// can be reissued through ResendVerification.
	_ = s.notifier.VerificationIssued(ctx, user, issued.Value, issued.ExpiresAt)
	return user, nil
}

// VerifyEmail consumes a verification token and flips the owner to active.
// The transition is one-way: re-clicking an already-consumed link for an
// active account is a no-op success, every other token failure surfaces as
// the undifferentiated ErrInvalidToken.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*User, error) {
	userID, err := s.tokens.Consume(ctx, token, PurposeEmailVerification)
	if err != nil {
		if errors.Is(err, ErrTokenAlreadyUsed) && userID != "" {
			user, findErr := s.store.Users(ctx).Find(ctx, userID)
			if findErr == nil && user.Status == StatusActive {
				return user, nil
			}
		}
		return nil, ErrInvalidToken
	}

	users := s.store.Users(ctx)
	user, err := users.Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Status == StatusActive {
		return user, nil
	}
	if err := users.UpdateStatus(ctx, user.ID, StatusActive); err != nil {
		return nil, err
	}
	user.Status = StatusActive
	user.UpdatedAt = s.now().UTC()
	return user, nil
}

// Login authenticates by username or email. Unknown account and wrong
// password are indistinguishable to the caller; verification state is only
// revealed after the password check succeeds.
func (s *Service) Login(ctx context.Context, usernameOrEmail, password string) (*User, error) {
	login := strings.TrimSpace(usernameOrEmail)
	if login == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	users := s.store.Users(ctx)
	var (
		user *User
		err  error
	)
	if strings.Contains(login, "@") {
		user, err = users.FindByEmail(ctx, strings.ToLower(login))
	} else {
		user, err = users.FindByUsername(ctx, login)
	}
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.hasher.Verify(password, user.PasswordDigest) {
		return nil, ErrInvalidCredentials
	}
	if user.Status != StatusActive {
		return nil, ErrAccountNotVerified
	}
	return user, nil
}

// ResendVerification issues a fresh verification token for an unverified
// account, replacing the previous one. Unknown or already-active accounts
// report success without issuing anything, mirroring the reset flow's
// enumeration stance.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}
	if user.Status == StatusActive {
		return nil
	}
	issued, err := s.tokens.Issue(ctx, user.ID, PurposeEmailVerification, s.verificationTTL)
	if err != nil {
		return err
	}
	_ = s.notifier.VerificationIssued(ctx, user, issued.Value, issued.ExpiresAt)
	return nil
}

// RequestPasswordReset issues a reset token when the email is known and
// reports success either way, so callers cannot enumerate registered
// addresses.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}
	issued, err := s.tokens.Issue(ctx, user.ID, PurposePasswordReset, s.resetTTL)
	if err != nil {
		return err
	}
	_ = s.notifier.PasswordResetIssued(ctx, user, issued.Value, issued.ExpiresAt)
	return nil
}

// ResetPassword consumes a reset token, stores the re-hashed credential and
// revokes any other outstanding reset tokens for the owner.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword, s.hasher.params.MaxPasswordLength); err != nil {
		return err
	}
	userID, err := s.tokens.Consume(ctx, token, PurposePasswordReset)
	if err != nil {
		return ErrInvalidToken
	}
	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, userID, digest); err != nil {
		return err
	}
	return s.tokens.RevokeAll(ctx, userID, PurposePasswordReset)
}

// UpdateUserRole replaces the user's role set with the named role and returns
// the refreshed user.
func (s *Service) UpdateUserRole(ctx context.Context, userID, roleName string) (*User, error) {
	if _, err := s.roles.AssignRole(ctx, userID, roleName); err != nil {
		return nil, err
	}
	return s.store.Users(ctx).Find(ctx, userID)
}

// GetUserRoles returns the user's role names in assignment order.
func (s *Service) GetUserRoles(ctx context.Context, userID string) ([]string, error) {
	if _, err := s.store.Users(ctx).Find(ctx, userID); err != nil {
		return nil, err
	}
	return s.roles.RoleNamesForUser(ctx, userID)
}

// GetUsersByRole lists members of the named role ordered by account creation.
func (s *Service) GetUsersByRole(ctx context.Context, roleName string) ([]*User, error) {
	return s.roles.UsersInRole(ctx, roleName)
}
