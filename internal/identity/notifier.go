package identity

import (
	"context"
	"time"
)

// Notifier delivers issued tokens through an out-of-band channel. The core
// does not know the transport; delivery failures are surfaced but treated as
// best-effort by the lifecycle operations.
type Notifier interface {
	VerificationIssued(ctx context.Context, user *User, token string, expiresAt time.Time) error
	PasswordResetIssued(ctx context.Context, user *User, token string, expiresAt time.Time) error
}

// NopNotifier discards notifications. Used when no delivery channel is wired.
type NopNotifier struct{}

func (NopNotifier) VerificationIssued(context.Context, *User, string, time.Time) error {
	return nil
}

func (NopNotifier) PasswordResetIssued(context.Context, *User, string, time.Time) error {
	return nil
}
