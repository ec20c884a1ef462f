package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"idport.org/internal/identity"
)

type tokenStore struct{ db *sql.DB }

// Replace consumes any outstanding token of the same (user, purpose) and
// inserts the new one in a single transaction. The partial unique index on
// unconsumed tokens backs the replace-not-append invariant.
func (s *tokenStore) Replace(ctx context.Context, tok *identity.Token) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update account_tokens set consumed_at = now()
		where user_id = $1 and purpose = $2 and consumed_at is null
	`, tok.UserID, tok.Purpose); err != nil {
		return classify(err)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into account_tokens (digest, user_id, purpose, expires_at, created_at)
		values ($1, $2, $3, $4, $5)
	`, tok.Digest, tok.UserID, tok.Purpose, tok.ExpiresAt, tok.CreatedAt); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

// Consume is a single check-and-set: the conditional update either wins the
// row or leaves it untouched, so two concurrent consumers of the same digest
// see exactly one success.
func (s *tokenStore) Consume(ctx context.Context, digest string, purpose identity.Purpose, now time.Time) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		update account_tokens set consumed_at = $3
		where digest = $1 and purpose = $2 and consumed_at is null and expires_at > $3
		returning user_id
	`, digest, purpose, now).Scan(&userID)
	if err == nil {
		return userID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", classify(err)
	}

	// The update missed; classify why.
	var (
		owner      string
		expiresAt  time.Time
		consumedAt sql.NullTime
	)
	err = s.db.QueryRowContext(ctx, `
		select user_id, expires_at, consumed_at
		from account_tokens
		where digest = $1 and purpose = $2
	`, digest, purpose).Scan(&owner, &expiresAt, &consumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", identity.ErrTokenNotFound
	}
	if err != nil {
		return "", classify(err)
	}
	if consumedAt.Valid {
		return owner, identity.ErrTokenAlreadyUsed
	}
	if !expiresAt.After(now) {
		return "", identity.ErrTokenExpired
	}
	// Lost a race with a concurrent consumer between update and select.
	return owner, identity.ErrTokenAlreadyUsed
}

func (s *tokenStore) RevokeAll(ctx context.Context, userID string, purpose identity.Purpose) error {
	_, err := s.db.ExecContext(ctx, `
		update account_tokens set consumed_at = now()
		where user_id = $1 and purpose = $2 and consumed_at is null
	`, userID, purpose)
	return classify(err)
}
