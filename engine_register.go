package castellan

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/castellan-auth/castellan/cache"
	"github.com/castellan-auth/castellan/notify"
)

// Register creates an account and mails its verification token. The
// account cannot log in until VerifyRegistration completes.
//
// When the email is already registered the default behavior is
// ErrEmailTaken; with Registration.SuppressExistingEmail set the call
// reports success without creating anything, so responses do not reveal
// whether an address has an account.
func (e *Engine) Register(ctx context.Context, email, username, plaintext string) (string, error) {
	if e == nil || e.hasher == nil {
		return "", ErrEngineNotReady
	}
	if len(plaintext) < e.config.Password.MinLength {
		return "", fmt.Errorf("password must be at least %d characters", e.config.Password.MinLength)
	}

	if _, err := e.users.GetByEmail(ctx, email); err == nil {
		if e.config.Registration.SuppressExistingEmail {
			e.emitAudit(ctx, "register", true, "", "", nil, map[string]string{"email": email, "noop": "email_taken"})
			return "", nil
		}
		e.emitAudit(ctx, "register", false, "", "", ErrEmailTaken, map[string]string{"email": email})
		return "", ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return "", err
	}

	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return "", err
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         RoleUser,
		CreatedAt:    e.clock(),
	}
	if err := e.users.Create(ctx, user); err != nil {
		// A concurrent registration can win the race between the
		// existence check and the insert; apply the same policy.
		if errors.Is(err, ErrEmailTaken) && e.config.Registration.SuppressExistingEmail {
			return "", nil
		}
		return "", err
	}

	if err := e.issueRegistrationToken(ctx, user); err != nil {
		return "", err
	}

	e.metricInc(MetricRegistration)
	e.emitAudit(ctx, "register", true, user.ID, "", nil, nil)
	return user.ID, nil
}

// issueRegistrationToken caches the HMAC-derived token and mails it. The
// token is deterministic per user, so a resend reissues the same value;
// the cache entry bounds its lifetime.
func (e *Engine) issueRegistrationToken(ctx context.Context, user *User) error {
	token := e.registrationToken(user.ID)
	if err := e.cache.Set(ctx, cache.NSRegToken, token, user.ID, e.config.Registration.TokenTTL); err != nil {
		return err
	}
	e.notifyUser(ctx, notify.KindRegistration, user.Email, map[string]string{
		"token":    token,
		"username": user.Username,
	})
	return nil
}

// VerifyRegistration resolves and consumes a registration token, stamping
// the account's email as verified.
func (e *Engine) VerifyRegistration(ctx context.Context, token string) error {
	if e == nil || e.cache == nil {
		return ErrEngineNotReady
	}

	userID, err := e.cache.Get(ctx, cache.NSRegToken, token)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			e.emitAudit(ctx, "register_verify", false, "", "", ErrRegistrationTokenInvalid, nil)
			return ErrRegistrationTokenInvalid
		}
		return err
	}
	if !e.registrationTokenMatches(userID, token) {
		e.emitAudit(ctx, "register_verify", false, userID, "", ErrRegistrationTokenInvalid, map[string]string{"reason": "hmac_mismatch"})
		return ErrRegistrationTokenInvalid
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrRegistrationTokenInvalid
		}
		return err
	}
	if user.EmailVerifiedAt != nil {
		// A reissued token can outlive the verification it was meant
		// for; consume it without re-stamping.
		_ = e.cache.Delete(ctx, cache.NSRegToken, token)
		e.emitAudit(ctx, "register_verify", false, userID, "", ErrAlreadyVerified, nil)
		return ErrAlreadyVerified
	}

	if err := e.users.UpdateEmailVerified(ctx, userID, e.clock()); err != nil {
		return err
	}
	if err := e.cache.Delete(ctx, cache.NSRegToken, token); err != nil {
		return err
	}

	e.metricInc(MetricRegistrationVerified)
	e.emitAudit(ctx, "register_verify", true, userID, "", nil, nil)
	return nil
}

// ResendRegistration reissues the verification token. The reply is the
// same generic success whether the account is missing or already
// verified; only the throttle marker produces a distinguishable error.
func (e *Engine) ResendRegistration(ctx context.Context, email string) error {
	if e == nil || e.cache == nil {
		return ErrEngineNotReady
	}

	ok, err := e.cache.Claim(ctx, cache.NSEmailThrottle, email, e.config.Registration.ResendCooldown)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, "register_resend", false, "", "", ErrAuthBlocked, map[string]string{"email": email})
		return ErrAuthBlocked
	}

	user, err := e.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, "register_resend", true, "", "", nil, map[string]string{"email": email, "noop": "unknown"})
			return nil
		}
		return err
	}
	if user.EmailVerifiedAt != nil {
		e.emitAudit(ctx, "register_resend", true, user.ID, "", nil, map[string]string{"noop": "already_verified"})
		return nil
	}

	if err := e.issueRegistrationToken(ctx, user); err != nil {
		return err
	}

	e.metricInc(MetricRegistrationResend)
	e.emitAudit(ctx, "register_resend", true, user.ID, "", nil, nil)
	return nil
}
