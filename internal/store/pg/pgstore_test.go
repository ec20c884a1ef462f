package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"idport.org/internal/identity"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func sampleUser() *identity.User {
	now := time.Now().UTC()
	return &identity.User{
		ID: "u1", Name: "Ada", Surname: "Lovelace",
		Username: "ada", Email: "ada@example.com",
		PasswordDigest: "digest", Status: identity.StatusUnverified,
		CreatedAt: now, UpdatedAt: now,
	}
}

func TestCreateMapsUniqueViolations(t *testing.T) {
	cases := map[string]struct {
		constraint string
		want       error
	}{
		"email":    {constraintUsersEmail, identity.ErrDuplicateEmail},
		"username": {constraintUsersUsername, identity.ErrDuplicateUsername},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			store, mock := newMockStore(t)

			mock.ExpectBegin()
			mock.ExpectExec("insert into users").
				WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: tc.constraint})
			mock.ExpectRollback()

			err := store.Users(context.Background()).Create(context.Background(), sampleUser(), "r1", nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("expectations: %v", err)
			}
		})
	}
}

func TestCreateMapsMissingRole(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into user_roles").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	err := store.Users(context.Background()).Create(context.Background(), sampleUser(), "no-such-role", nil)
	if !errors.Is(err, identity.ErrRoleNotFound) {
		t.Fatalf("got %v, want ErrRoleNotFound", err)
	}
}

func TestCreateWithVerificationToken(t *testing.T) {
	store, mock := newMockStore(t)
	user := sampleUser()
	tok := &identity.Token{
		Digest: "digest", UserID: user.ID,
		Purpose:   identity.PurposeEmailVerification,
		ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("insert into users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into user_roles").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into account_tokens").
		WithArgs(tok.Digest, tok.UserID, tok.Purpose, tok.ExpiresAt, tok.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.Users(context.Background()).Create(context.Background(), user, "r1", tok); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindMapsNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select id, name, surname, username, email").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Users(context.Background()).Find(context.Background(), "missing")
	if !errors.Is(err, identity.ErrUserNotFound) {
		t.Fatalf("got %v, want ErrUserNotFound", err)
	}
}

func TestUpdateStatusRequiresRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update users set status").
		WithArgs(identity.StatusActive, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Users(context.Background()).UpdateStatus(context.Background(), "missing", identity.StatusActive)
	if !errors.Is(err, identity.ErrUserNotFound) {
		t.Fatalf("got %v, want ErrUserNotFound", err)
	}
}

func TestConsumeWinsRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("update account_tokens set consumed_at").
		WithArgs("digest", identity.PurposePasswordReset, now).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))

	userID, err := store.Tokens(context.Background()).Consume(context.Background(), "digest", identity.PurposePasswordReset, now)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if userID != "u1" {
		t.Fatalf("owner = %q", userID)
	}
}

func TestConsumeClassifiesMiss(t *testing.T) {
	now := time.Now().UTC()

	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("update account_tokens set consumed_at").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("select user_id, expires_at, consumed_at").WillReturnError(sql.ErrNoRows)

		_, err := store.Tokens(context.Background()).Consume(context.Background(), "digest", identity.PurposePasswordReset, now)
		if !errors.Is(err, identity.ErrTokenNotFound) {
			t.Fatalf("got %v, want ErrTokenNotFound", err)
		}
	})

	t.Run("already used", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("update account_tokens set consumed_at").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("select user_id, expires_at, consumed_at").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "consumed_at"}).
				AddRow("u1", now.Add(time.Hour), now.Add(-time.Minute)))

		userID, err := store.Tokens(context.Background()).Consume(context.Background(), "digest", identity.PurposePasswordReset, now)
		if !errors.Is(err, identity.ErrTokenAlreadyUsed) {
			t.Fatalf("got %v, want ErrTokenAlreadyUsed", err)
		}
		if userID != "u1" {
			t.Fatalf("owner = %q, want u1", userID)
		}
	})

	t.Run("expired", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("update account_tokens set consumed_at").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("select user_id, expires_at, consumed_at").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "consumed_at"}).
				AddRow("u1", now.Add(-time.Minute), nil))

		_, err := store.Tokens(context.Background()).Consume(context.Background(), "digest", identity.PurposePasswordReset, now)
		if !errors.Is(err, identity.ErrTokenExpired) {
			t.Fatalf("got %v, want ErrTokenExpired", err)
		}
	})
}

func TestReplaceConsumesPrior(t *testing.T) {
	store, mock := newMockStore(t)
	tok := &identity.Token{
		Digest: "digest", UserID: "u1",
		Purpose:   identity.PurposeEmailVerification,
		ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("update account_tokens set consumed_at").
		WithArgs(tok.UserID, tok.Purpose).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into account_tokens").
		WithArgs(tok.Digest, tok.UserID, tok.Purpose, tok.ExpiresAt, tok.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.Tokens(context.Background()).Replace(context.Background(), tok); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSetRoleReplacesAssignments(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select exists").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("delete from user_roles").
		WithArgs("u1", "r2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	now := time.Now().UTC()
	mock.ExpectQuery("insert into user_roles").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "role_id", "created_at", "updated_at"}).
			AddRow("a1", "u1", "r2", now, now))
	mock.ExpectCommit()

	a, err := store.Users(context.Background()).SetRole(context.Background(), "u1", "r2")
	if err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	if a.RoleID != "r2" || a.UserID != "u1" {
		t.Fatalf("assignment = %+v", a)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
