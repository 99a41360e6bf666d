// Package notify delivers workflow email to users: registration tokens,
// password-reset links, freeze alerts, and temporary passwords.
//
// Delivery is fire-and-forget from the engine's point of view: a failed
// send is logged by the caller and never rolls back the workflow that
// triggered it.
package notify

import "context"

// Kind selects the message template.
type Kind string

const (
	// KindRegistration carries a registration verification token.
	KindRegistration Kind = "registration"
	// KindPasswordReset carries a password-reset token.
	KindPasswordReset Kind = "password_reset"
	// KindAccountFrozen alerts the user that repeated login failures froze the account.
	KindAccountFrozen Kind = "account_frozen"
	// KindTempPassword carries a server-generated temporary password.
	KindTempPassword Kind = "temp_password"
	// KindPasswordChanged alerts the user that the password was changed.
	KindPasswordChanged Kind = "password_changed"
)

// Notifier sends one templated message to one recipient. vars feeds the
// template; the set of expected keys is documented per template in
// DefaultTemplates.
type Notifier interface {
	Send(ctx context.Context, kind Kind, recipient string, vars map[string]string) error
}
