package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

const defaultTokenBytes = 32

// IssuedToken carries the plaintext token value back to the caller. The value
// is never persisted and never logged; it exists to be delivered out-of-band.
type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenIssuer produces and consumes cryptographically unguessable single-use
// tokens. Issuance replaces any prior unconsumed token of the same purpose
// for the user.
type TokenIssuer struct {
	store      Store
	tokenBytes int
	now        func() time.Time
}

// TokenIssuerOption configures a TokenIssuer.
type TokenIssuerOption func(*TokenIssuer)

// WithTokenBytes overrides the random value length. Values below 16 bytes are
// rejected at construction to keep at least 128 bits of entropy.
func WithTokenBytes(n int) TokenIssuerOption {
	return func(g *TokenIssuer) {
		if n > 0 {
			g.tokenBytes = n
		}
	}
}

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenIssuerOption {
	return func(g *TokenIssuer) {
		if fn != nil {
			g.now = fn
		}
	}
}

func NewTokenIssuer(store Store, opts ...TokenIssuerOption) (*TokenIssuer, error) {
	g := &TokenIssuer{
		store:      store,
		tokenBytes: defaultTokenBytes,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.tokenBytes < 16 {
		return nil, fmt.Errorf("%w: token length below 16 bytes", ErrInvalidInput)
	}
	return g, nil
}

// Mint generates token material without persisting it. Register uses this to
// fold the token into the same transaction that creates the user.
func (g *TokenIssuer) Mint(userID string, purpose Purpose, ttl time.Duration) (IssuedToken, *Token, error) {
	if userID == "" {
		return IssuedToken{}, nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return IssuedToken{}, nil, fmt.Errorf("%w: ttl must be greater than zero", ErrInvalidInput)
	}
	raw := make([]byte, g.tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return IssuedToken{}, nil, fmt.Errorf("generate token: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(raw)
	now := g.now().UTC()
	rec := &Token{
		Digest:    TokenDigest(value),
		UserID:    userID,
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	return IssuedToken{Value: value, ExpiresAt: rec.ExpiresAt}, rec, nil
}

// Issue mints a token and persists it, atomically invalidating any prior
// unconsumed token of the same purpose for the user.
func (g *TokenIssuer) Issue(ctx context.Context, userID string, purpose Purpose, ttl time.Duration) (IssuedToken, error) {
	issued, rec, err := g.Mint(userID, purpose, ttl)
	if err != nil {
		return IssuedToken{}, err
	}
	if err := g.store.Tokens(ctx).Replace(ctx, rec); err != nil {
		return IssuedToken{}, err
	}
	return issued, nil
}

// Consume looks the token up by digest and atomically marks it used. Exactly
// one of two concurrent calls on the same value succeeds. On
// ErrTokenAlreadyUsed the owning user id is still returned so callers that
// need idempotent re-consumption can check the owner's state.
func (g *TokenIssuer) Consume(ctx context.Context, value string, purpose Purpose) (string, error) {
	if value == "" {
		return "", ErrTokenNotFound
	}
	return g.store.Tokens(ctx).Consume(ctx, TokenDigest(value), purpose, g.now().UTC())
}

// RevokeAll invalidates every outstanding token of the purpose for the user.
func (g *TokenIssuer) RevokeAll(ctx context.Context, userID string, purpose Purpose) error {
	return g.store.Tokens(ctx).RevokeAll(ctx, userID, purpose)
}

// TokenDigest returns the hex SHA-256 digest under which a token value is
// stored. Persisting only the digest keeps a leaked token table unusable.
func TokenDigest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
