package castellan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/castellan-auth/castellan/notify"
)

func TestLoginSuccessEstablishesSession(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.seedUser(t, "alice@example.com", "alice", "correct-horse-battery")

	res, err := env.engine.Login(context.Background(), "alice@example.com", "correct-horse-battery", false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.OTPRequired {
		t.Fatal("unexpected OTP requirement")
	}
	if res.Session == nil || res.Session.ID == "" || res.Session.CSRF == "" {
		t.Fatalf("incomplete session: %+v", res.Session)
	}
	if res.Session.Permanent {
		t.Fatal("session should not be permanent")
	}
	if res.Session.ExpiresAt.IsZero() {
		t.Fatal("non-permanent session must carry a deadline")
	}

	// The durable row and the cache copy must both exist.
	if env.sessions.count("u-alice") != 1 {
		t.Fatal("expected one durable session")
	}
	if _, err := env.engine.cache.GetSession(context.Background(), res.Session.ID); err != nil {
		t.Fatalf("cached session missing: %v", err)
	}
}

func TestLoginRememberIsPermanent(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.seedUser(t, "alice@example.com", "alice", "correct-horse-battery")

	res, err := env.engine.Login(context.Background(), "alice@example.com", "correct-horse-battery", true)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !res.Session.Permanent {
		t.Fatal("expected permanent session")
	}
	if !res.Session.ExpiresAt.IsZero() {
		t.Fatal("permanent session must not carry a deadline")
	}
}

func TestLoginUnknownEmailAndWrongPasswordIndistinguishable(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.seedUser(t, "alice@example.com", "alice", "correct-horse-battery")

	_, unknownErr := env.engine.Login(context.Background(), "nobody@example.com", "whatever-pw-123", false)
	_, wrongErr := env.engine.Login(context.Background(), "alice@example.com", "wrong-password-1", false)

	if !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", unknownErr)
	}
	if !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", wrongErr)
	}
}

func TestLoginUnverifiedEmailRejected(t *testing.T) {
	env := newTestEnv(t, testConfig())
	user := env.seedUser(t, "alice@example.com", "alice", "correct-horse-battery")
	if err := env.users.mutate(user.ID, func(u *User) { u.EmailVerifiedAt = nil }); err != nil {
		t.Fatalf("mutate failed: %v", err)
	}

	_, err := env.engine.Login(context.Background(), "alice@example.com", "correct-horse-battery", false)
	if !errors.Is(err, ErrEmailUnverified) {
		t.Fatalf("expected ErrEmailUnverified, got %v", err)
	}
}

func TestLoginOAuthOnlyAccountRejectsPassword(t *testing.T) {
	env := newTestEnv(t, testConfig())
	user := env.seedUser(t, "alice@example.com", "alice", "correct-horse-battery")
	if err := env.users.mutate(user.ID, func(u *User) { u.PasswordHash = "" }); err != nil {
		t.Fatalf("mutate failed: %v", err)
	}

	_, err := env.engine.Login(context.Background(), "alice@example.com", "correct-horse-battery", false)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginLockoutFreezesAccountAndMailsResetToken(t *testing.T) {
	cfg := testConfig()
	cfg.Login.MaxAttempts = 3
	env := newTestEnv(t, cfg)
	user := env.seedUser(t, "alice@example.com", "alice", "correct-horse-battery")

	ctx := context.Background()
	for i := 0; i < cfg.Login.MaxAttempts-1; i++ {
		if _, err := env.engine.Login(ctx, "alice@example.com", "wrong-password-1", false); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	// The freezing attempt itself reports the frozen state.
	if _, err := env.engine.Login(ctx, "alice@example.com", "wrong-password-1", false); !errors.Is(err, ErrAccountFrozen) {
		t.Fatalf("freezing attempt: expected ErrAccountFrozen, got %v", err)
	}

	frozen, err := env.users.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !frozen.Frozen {
		t.Fatal("account should be frozen")
	}

	// Even the correct password must fail now.
	if _, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery", false); !errors.Is(err, ErrAccountFrozen) {
		t.Fatalf("post-freeze login: expected ErrAccountFrozen, got %v", err)
	}

	// The alert mail carries a working reset token.
	var token string
	for _, msg := range env.mail.Sent() {
		if msg.Kind == notify.KindAccountFrozen {
			token = msg.Vars["token"]
		}
	}
	if token == "" {
		t.Fatal("expected a frozen-account mail with a reset token")
	}
	if _, err := env.engine.ConfirmPasswordReset(ctx, token, "a-brand-new-password"); err != nil {
		t.Fatalf("reset with mailed token failed: %v", err)
	}

	// The reset is the way out of the lockout: the flag clears and the
	// new password logs in normally.
	if _, err := env.engine.Login(ctx, "alice@example.com", "a-brand-new-password", false); err != nil {
		t.Fatalf("login after recovery failed: %v", err)
	}
}

func TestLoginSuccessResetsAttemptCounter(t *testing.T) {
	cfg := testConfig()
	cfg.Login.MaxAttempts = 3
	env := newTestEnv(t, cfg)
	env.seedUser(t, "alice@example.com", "alice", "correct-horse-battery")

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := env.engine.Login(ctx, "alice@example.com", "wrong-password-1", false); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}
	if _, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery", false); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// The counter restarted: two more failures stay below the limit.
	for i := 0; i < 2; i++ {
		if _, err := env.engine.Login(ctx, "alice@example.com", "wrong-password-1", false); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}
	if env.users.freezeCalls != 0 {
		t.Fatal("account should not have been frozen")
	}
}

func TestLoginAttemptWindowExpires(t *testing.T) {
	cfg := testConfig()
	cfg.Login.MaxAttempts = 2
	cfg.Login.AttemptWindow = time.Minute
	env := newTestEnv(t, cfg)
	env.seedUser(t, "alice@example.com", "alice", "correct-horse-battery")

	ctx := context.Background()
	if _, err := env.engine.Login(ctx, "alice@example.com", "wrong-password-1", false); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	env.redis.FastForward(2 * time.Minute)

	// The stale failure aged out, so this one counts as the first again.
	if _, err := env.engine.Login(ctx, "alice@example.com", "wrong-password-1", false); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if env.users.freezeCalls != 0 {
		t.Fatal("account should not have been frozen")
	}
}

func TestLoginMetrics(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.seedUser(t, "alice@example.com", "alice", "correct-horse-battery")

	ctx := context.Background()
	_, _ = env.engine.Login(ctx, "alice@example.com", "wrong-password-1", false)
	if _, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery", false); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("login_success = %d, want 1", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricLoginFailure] != 1 {
		t.Fatalf("login_failure = %d, want 1", snap.Counters[MetricLoginFailure])
	}
	if snap.Counters[MetricSessionCreated] != 1 {
		t.Fatalf("session_created = %d, want 1", snap.Counters[MetricSessionCreated])
	}
}
