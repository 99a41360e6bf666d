package castellan

import (
	"errors"
	"time"

	"github.com/castellan-auth/castellan/password"
)

// Config carries every tunable of the engine. Construct with
// DefaultConfig and override fields before passing it to the Builder;
// workflows never consult the environment directly.
type Config struct {
	// Issuer labels otpauth provisioning URIs and defaults the audit source.
	Issuer string

	// TokenSecret keys the HMAC that derives registration tokens from
	// user ids. Required, at least 32 bytes.
	TokenSecret []byte

	Session      SessionConfig
	Password     PasswordConfig
	Login        LoginConfig
	OTP          OTPConfig
	Registration RegistrationConfig
	Reset        ResetConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

// SessionConfig governs session lifetime and the cache fast path.
type SessionConfig struct {
	// TTL is the durable lifetime of a non-permanent session; refreshed
	// on each successful validation.
	TTL time.Duration
	// CacheTTL bounds the cached copy. Kept shorter than TTL so a stale
	// cache entry can never outlive the durable session.
	CacheTTL time.Duration
}

// PasswordConfig wraps the hasher parameters plus engine-level policy.
type PasswordConfig struct {
	Argon2 password.Config
	// MinLength is enforced on registration and password changes.
	MinLength int
	// TempLength is the generated length for server-issued temporary passwords.
	TempLength int
}

// LoginConfig bounds consecutive failed password logins per user.
// Reaching MaxAttempts freezes the account.
type LoginConfig struct {
	MaxAttempts   int
	AttemptWindow time.Duration
}

// OTPConfig governs the second-factor challenge.
type OTPConfig struct {
	// Skew widens TOTP verification by this many 30-second steps either
	// side of now. 0 accepts only the current step.
	Skew int
	// ChallengeTTL bounds the gap between password success and code entry.
	ChallengeTTL time.Duration
	// ThrottleStep is the backoff unit: after n failed attempts, further
	// attempts are blocked until ThrottleStep*n has elapsed since the
	// last failure. A sliding backoff, not a fixed window.
	ThrottleStep time.Duration
	// AttemptWindow is the TTL on the failure counter and throttle stamp.
	AttemptWindow time.Duration
}

// RegistrationConfig governs the registration token workflow.
type RegistrationConfig struct {
	TokenTTL       time.Duration
	ResendCooldown time.Duration
	// SuppressExistingEmail makes Register report generic success instead
	// of ErrEmailTaken when the address already has an account, trading a
	// duplicate-signup error for enumeration resistance.
	SuppressExistingEmail bool
}

// ResetConfig governs password-reset tokens.
type ResetConfig struct {
	TokenTTL        time.Duration
	RequestCooldown time.Duration
}

// AuditConfig governs the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
}

// MetricsConfig governs in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns production-leaning defaults. TokenSecret must
// still be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Issuer: "castellan",
		Session: SessionConfig{
			TTL:      24 * time.Hour,
			CacheTTL: time.Hour,
		},
		Password: PasswordConfig{
			Argon2:     password.DefaultConfig(),
			MinLength:  10,
			TempLength: 24,
		},
		Login: LoginConfig{
			MaxAttempts:   5,
			AttemptWindow: 15 * time.Minute,
		},
		OTP: OTPConfig{
			Skew:          0,
			ChallengeTTL:  5 * time.Minute,
			ThrottleStep:  30 * time.Second,
			AttemptWindow: 15 * time.Minute,
		},
		Registration: RegistrationConfig{
			TokenTTL:       48 * time.Hour,
			ResendCooldown: time.Minute,
		},
		Reset: ResetConfig{
			TokenTTL:        time.Hour,
			RequestCooldown: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations the engine cannot run safely.
func (c *Config) Validate() error {
	switch {
	case len(c.TokenSecret) < 32:
		return errors.New("TokenSecret must be at least 32 bytes")
	case c.Session.TTL < time.Minute:
		return errors.New("Session.TTL must be at least one minute")
	case c.Session.CacheTTL <= 0:
		return errors.New("Session.CacheTTL must be positive")
	case c.Session.CacheTTL > c.Session.TTL:
		return errors.New("Session.CacheTTL must not exceed Session.TTL")
	case c.Password.MinLength < 8:
		return errors.New("Password.MinLength must be at least 8")
	case c.Password.TempLength < 16:
		return errors.New("Password.TempLength must be at least 16")
	case c.Login.MaxAttempts < 1:
		return errors.New("Login.MaxAttempts must be at least 1")
	case c.Login.AttemptWindow <= 0:
		return errors.New("Login.AttemptWindow must be positive")
	case c.OTP.Skew < 0:
		return errors.New("OTP.Skew must not be negative")
	case c.OTP.ChallengeTTL <= 0:
		return errors.New("OTP.ChallengeTTL must be positive")
	case c.OTP.ThrottleStep <= 0:
		return errors.New("OTP.ThrottleStep must be positive")
	case c.OTP.AttemptWindow <= 0:
		return errors.New("OTP.AttemptWindow must be positive")
	case c.Registration.TokenTTL <= 0:
		return errors.New("Registration.TokenTTL must be positive")
	case c.Registration.ResendCooldown <= 0:
		return errors.New("Registration.ResendCooldown must be positive")
	case c.Reset.TokenTTL <= 0:
		return errors.New("Reset.TokenTTL must be positive")
	case c.Reset.RequestCooldown <= 0:
		return errors.New("Reset.RequestCooldown must be positive")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.TokenSecret = append([]byte(nil), cfg.TokenSecret...)
	return out
}
