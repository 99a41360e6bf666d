package castellan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/castellan-auth/castellan/notify"
)

func resetTokenFromMail(t *testing.T, env *testEnv, kind notify.Kind, key string) string {
	t.Helper()

	var value string
	for _, msg := range env.mail.Sent() {
		if msg.Kind == kind {
			value = msg.Vars[key]
		}
	}
	if value == "" {
		t.Fatalf("no %s mail carrying %q was sent", kind, key)
	}
	return value
}

func TestForgotPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t, testConfig())
	user := env.seedUser(t, "alice@example.com", "alice", "old-password-12345")
	ctx := context.Background()

	// Two live sessions before the reset.
	for i := 0; i < 2; i++ {
		if _, err := env.engine.Login(ctx, "alice@example.com", "old-password-12345", false); err != nil {
			t.Fatalf("Login failed: %v", err)
		}
	}

	if err := env.engine.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	token := resetTokenFromMail(t, env, notify.KindPasswordReset, "token")

	session, err := env.engine.ConfirmPasswordReset(ctx, token, "new-password-12345")
	if err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}
	if session == nil {
		t.Fatal("expected a fresh session")
	}

	// Only the fresh session survives.
	if got := env.sessions.count(user.ID); got != 1 {
		t.Fatalf("live sessions = %d, want 1", got)
	}
	if _, err := env.engine.Validate(ctx, session.ID, session.CSRF, RoleUser); err != nil {
		t.Fatalf("fresh session must validate: %v", err)
	}

	// Old password out, new password in.
	if _, err := env.engine.Login(ctx, "alice@example.com", "old-password-12345", false); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "alice@example.com", "new-password-12345", false); err != nil {
		t.Fatalf("new password login failed: %v", err)
	}
}

func TestForgotPasswordUnknownEmailSilent(t *testing.T) {
	env := newTestEnv(t, testConfig())

	if err := env.engine.ForgotPassword(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("unknown address must succeed silently, got %v", err)
	}
	if len(env.mail.Sent()) != 0 {
		t.Fatal("no mail may be sent for an unknown address")
	}
}

func TestForgotPasswordCooldown(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.seedUser(t, "alice@example.com", "alice", "old-password-12345")
	ctx := context.Background()

	if err := env.engine.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if err := env.engine.ForgotPassword(ctx, "alice@example.com"); !errors.Is(err, ErrAuthBlocked) {
		t.Fatalf("expected ErrAuthBlocked inside cooldown, got %v", err)
	}

	// The cooldown shields unknown addresses identically.
	if err := env.engine.ForgotPassword(ctx, "ghost@example.com"); err != nil {
		t.Fatalf("unknown address first request failed: %v", err)
	}
	if err := env.engine.ForgotPassword(ctx, "ghost@example.com"); !errors.Is(err, ErrAuthBlocked) {
		t.Fatalf("unknown address: expected ErrAuthBlocked, got %v", err)
	}
}

func TestConfirmPasswordResetTokenSingleUse(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.seedUser(t, "alice@example.com", "alice", "old-password-12345")
	ctx := context.Background()

	if err := env.engine.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	token := resetTokenFromMail(t, env, notify.KindPasswordReset, "token")

	if _, err := env.engine.ConfirmPasswordReset(ctx, token, "new-password-12345"); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}
	if _, err := env.engine.ConfirmPasswordReset(ctx, token, "yet-another-pass-1"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid on replay, got %v", err)
	}
}

func TestConfirmPasswordResetExpiredToken(t *testing.T) {
	cfg := testConfig()
	cfg.Reset.TokenTTL = time.Minute
	env := newTestEnv(t, cfg)
	env.seedUser(t, "alice@example.com", "alice", "old-password-12345")
	ctx := context.Background()

	if err := env.engine.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	token := resetTokenFromMail(t, env, notify.KindPasswordReset, "token")

	env.redis.FastForward(2 * time.Minute)

	if _, err := env.engine.ConfirmPasswordReset(ctx, token, "new-password-12345"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid after expiry, got %v", err)
	}
}

func TestIssueTempPassword(t *testing.T) {
	env := newTestEnv(t, testConfig())
	user := env.seedUser(t, "alice@example.com", "alice", "old-password-12345")
	ctx := context.Background()

	if _, err := env.engine.Login(ctx, "alice@example.com", "old-password-12345", false); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := env.engine.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	token := resetTokenFromMail(t, env, notify.KindPasswordReset, "token")

	if err := env.engine.IssueTempPassword(ctx, token); err != nil {
		t.Fatalf("IssueTempPassword failed: %v", err)
	}

	// No session is created and the old ones are gone.
	if got := env.sessions.count(user.ID); got != 0 {
		t.Fatalf("live sessions = %d, want 0", got)
	}

	temp := resetTokenFromMail(t, env, notify.KindTempPassword, "password")
	if len(temp) != env.engine.config.Password.TempLength {
		t.Fatalf("temp password length = %d, want %d", len(temp), env.engine.config.Password.TempLength)
	}
	if _, err := env.engine.Login(ctx, "alice@example.com", temp, false); err != nil {
		t.Fatalf("login with temp password failed: %v", err)
	}
}

func TestChangePasswordKeepsCallerSession(t *testing.T) {
	env := newTestEnv(t, testConfig())
	user := env.seedUser(t, "alice@example.com", "alice", "old-password-12345")
	ctx := context.Background()

	other, err := env.engine.Login(ctx, "alice@example.com", "old-password-12345", false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	caller, err := env.engine.Login(ctx, "alice@example.com", "old-password-12345", false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := env.engine.ChangePassword(ctx, caller.Session.ID, caller.Session.CSRF, "new-password-12345"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if _, err := env.engine.Validate(ctx, caller.Session.ID, caller.Session.CSRF, RoleUser); err != nil {
		t.Fatalf("caller session must survive: %v", err)
	}
	if _, err := env.engine.Validate(ctx, other.Session.ID, other.Session.CSRF, RoleUser); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("other session must be revoked, got %v", err)
	}
	if got := env.sessions.count(user.ID); got != 1 {
		t.Fatalf("live sessions = %d, want 1", got)
	}

	// The change notice carries a working recovery token.
	recovery := resetTokenFromMail(t, env, notify.KindPasswordChanged, "token")
	if _, err := env.engine.ConfirmPasswordReset(ctx, recovery, "recovered-pass-123"); err != nil {
		t.Fatalf("recovery token must work: %v", err)
	}
}

func TestChangePasswordRequiresValidSession(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.seedUser(t, "alice@example.com", "alice", "old-password-12345")

	err := env.engine.ChangePassword(context.Background(), "no-such-session", "no-such-csrf", "new-password-12345")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}
