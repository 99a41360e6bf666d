package castellan

import (
	"context"
	"errors"
	"strconv"

	"github.com/castellan-auth/castellan/cache"
	"github.com/castellan-auth/castellan/notify"
)

// Login runs the password workflow. On full success the result carries an
// established session; when the user has OTP enabled the result instead
// carries a challenge token to be completed through VerifyLoginOTP, and no
// session exists yet.
//
// Unknown email and wrong password both return ErrInvalidCredentials.
// Reaching Login.MaxAttempts consecutive failures freezes the account,
// issues a password-reset token by mail, and returns ErrAccountFrozen.
func (e *Engine) Login(ctx context.Context, email, plaintext string, remember bool) (*LoginResult, error) {
	if e == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Burn a verification anyway so the miss is not
			// observably faster than a wrong password.
			_, _ = e.hasher.Verify(plaintext, e.dummyHash)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, "login", false, "", "", ErrInvalidCredentials, map[string]string{"email": email})
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if user.Frozen {
		e.metricInc(MetricLoginFrozen)
		e.emitAudit(ctx, "login", false, user.ID, "", ErrAccountFrozen, nil)
		return nil, ErrAccountFrozen
	}
	if user.EmailVerifiedAt == nil {
		e.metricInc(MetricLoginUnverified)
		e.emitAudit(ctx, "login", false, user.ID, "", ErrEmailUnverified, nil)
		return nil, ErrEmailUnverified
	}

	ok := false
	if user.PasswordHash != "" {
		ok, err = e.hasher.Verify(plaintext, user.PasswordHash)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, e.recordFailedLogin(ctx, user)
	}

	if err := e.cache.Delete(ctx, cache.NSLoginAttempts, user.ID); err != nil {
		return nil, err
	}

	if user.OTPSecret != "" {
		token, err := e.issueOTPChallenge(ctx, user, remember)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricOTPChallengeIssued)
		e.emitAudit(ctx, "login", true, user.ID, "", nil, map[string]string{"otp_required": "true"})
		return &LoginResult{OTPRequired: true, ChallengeToken: token}, nil
	}

	sess, err := e.establishSession(ctx, user, remember, "", "")
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, "login", true, user.ID, sess.ID, nil, nil)
	return &LoginResult{Session: sess}, nil
}

// recordFailedLogin bumps the attempt counter and applies the freeze
// policy once the configured maximum is reached: freeze the account,
// issue a reset token, alert the user, and return the distinguished
// frozen error instead of plain invalid-credentials.
func (e *Engine) recordFailedLogin(ctx context.Context, user *User) error {
	count, err := e.cache.Increment(ctx, cache.NSLoginAttempts, user.ID, e.config.Login.AttemptWindow)
	if err != nil {
		return err
	}

	if count < int64(e.config.Login.MaxAttempts) {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, "login", false, user.ID, "", ErrInvalidCredentials, map[string]string{
			"attempts": strconv.FormatInt(count, 10),
		})
		return ErrInvalidCredentials
	}

	if err := e.users.Freeze(ctx, user.ID); err != nil {
		return err
	}

	resetToken := newOpaqueToken()
	if err := e.cache.Set(ctx, cache.NSPWToken, resetToken, user.ID, e.config.Reset.TokenTTL); err != nil {
		return err
	}
	e.notifyUser(ctx, notify.KindAccountFrozen, user.Email, map[string]string{"token": resetToken})

	e.metricInc(MetricLoginFrozen)
	e.emitAudit(ctx, "account_frozen", true, user.ID, "", nil, map[string]string{
		"attempts": strconv.FormatInt(count, 10),
	})
	return ErrAccountFrozen
}
