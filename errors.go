package castellan

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned for a wrong password and for an
	// unknown email alike, so callers cannot probe for account existence.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountFrozen is returned when password login is attempted against a frozen account.
	ErrAccountFrozen = errors.New("account frozen")
	// ErrEmailUnverified is returned when the account has not completed registration verification.
	ErrEmailUnverified = errors.New("email not verified")
	// ErrEmailTaken is returned by registration when the email already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrAlreadyVerified is returned when verification is attempted on a verified account.
	ErrAlreadyVerified = errors.New("email already verified")

	// ErrTokenInvalid is the shared class for missing, expired, or
	// integrity-failed tokens. The per-kind sentinels below wrap it;
	// match with errors.Is against either level.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrRegistrationTokenInvalid identifies the registration token class.
	ErrRegistrationTokenInvalid = fmt.Errorf("registration: %w", ErrTokenInvalid)
	// ErrResetTokenInvalid identifies the password-reset token class.
	ErrResetTokenInvalid = fmt.Errorf("password reset: %w", ErrTokenInvalid)
	// ErrOTPChallengeInvalid identifies the OTP challenge token class.
	ErrOTPChallengeInvalid = fmt.Errorf("otp challenge: %w", ErrTokenInvalid)

	// ErrOTPInvalid is returned when a presented one-time password does not match.
	ErrOTPInvalid = errors.New("invalid one-time password")
	// ErrOTPNotConfigured is returned when an OTP operation targets a user without a secret.
	ErrOTPNotConfigured = errors.New("otp not configured")
	// ErrAuthBlocked is returned while a throttle window is active; the
	// guarded operation is not attempted at all.
	ErrAuthBlocked = errors.New("temporarily blocked, retry later")

	// ErrCSRFMismatch is returned when a session exists but the presented CSRF token differs.
	ErrCSRFMismatch = errors.New("csrf token mismatch")
	// ErrUnauthenticated is returned when no valid session matches the presented credentials.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInsufficientRights is returned when a valid session fails the minimum-role check.
	ErrInsufficientRights = errors.New("insufficient rights")

	// ErrUserNotFound is returned by UserRepository lookups.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionNotFound is returned by SessionRepository lookups.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStoreUnavailable wraps durable-store transport failures. Always
	// propagated, never retried inside the engine.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineNotReady is returned when a required collaborator was not wired.
	ErrEngineNotReady = errors.New("engine not initialized")
)
