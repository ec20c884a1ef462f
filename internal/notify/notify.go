// Package notify carries issued tokens to the out-of-band delivery channel.
// The transport behind it is deployment-specific; the core only sees the
// identity.Notifier contract.
package notify

import (
	"context"
	"time"

	"idport.org/internal/identity"
	"idport.org/internal/obs"
)

var _ identity.Notifier = (*LogNotifier)(nil)

// LogNotifier writes deliveries as structured JSON lines on stdout. It is the
// development-mode channel: the emitted line stands in for the email the
// production transport would send, so unlike the rest of the service it does
// include the token value.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) VerificationIssued(ctx context.Context, user *identity.User, token string, expiresAt time.Time) error {
	n.emit("notify.email_verification", user, token, expiresAt)
	return nil
}

func (n *LogNotifier) PasswordResetIssued(ctx context.Context, user *identity.User, token string, expiresAt time.Time) error {
	n.emit("notify.password_reset", user, token, expiresAt)
	return nil
}

func (n *LogNotifier) emit(kind string, user *identity.User, token string, expiresAt time.Time) {
	obs.Emit(map[string]any{
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		"type":       "notification",
		"event":      kind,
		"email":      user.Email,
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
}
