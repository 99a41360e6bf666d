package castellan

import (
	"context"
	"errors"
	"fmt"

	"github.com/castellan-auth/castellan/cache"
	"github.com/castellan-auth/castellan/notify"
)

// ForgotPassword issues a reset token for the address, mailing it to the
// account owner. Unknown addresses get the same generic success so the
// endpoint cannot be used to enumerate accounts; repeated requests inside
// the cooldown window are refused regardless of whether the address
// exists.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	if e == nil || e.cache == nil {
		return ErrEngineNotReady
	}

	ok, err := e.cache.Claim(ctx, cache.NSEmailThrottle, "reset:"+email, e.config.Reset.RequestCooldown)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, "password_forgot", false, "", "", ErrAuthBlocked, map[string]string{"email": email})
		return ErrAuthBlocked
	}

	user, err := e.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, "password_forgot", true, "", "", nil, map[string]string{"email": email, "noop": "unknown"})
			return nil
		}
		return err
	}

	token := newOpaqueToken()
	if err := e.cache.Set(ctx, cache.NSPWToken, token, user.ID, e.config.Reset.TokenTTL); err != nil {
		return err
	}
	e.notifyUser(ctx, notify.KindPasswordReset, user.Email, map[string]string{
		"token":    token,
		"username": user.Username,
	})

	e.metricInc(MetricResetRequested)
	e.emitAudit(ctx, "password_forgot", true, user.ID, "", nil, nil)
	return nil
}

// consumeResetToken resolves a reset token to its user and deletes it.
// Reset tokens are strictly single-use; the delete happens before any
// password mutation so a replay can never land twice.
func (e *Engine) consumeResetToken(ctx context.Context, token string) (*User, error) {
	userID, err := e.cache.Get(ctx, cache.NSPWToken, token)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrResetTokenInvalid
		}
		return nil, err
	}
	if err := e.cache.Delete(ctx, cache.NSPWToken, token); err != nil {
		return nil, err
	}
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrResetTokenInvalid
		}
		return nil, err
	}
	return user, nil
}

// ConfirmPasswordReset consumes a reset token, stores the new password,
// revokes every existing session for the account and signs the caller in
// with a fresh one.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) (*Session, error) {
	if e == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}
	if len(newPassword) < e.config.Password.MinLength {
		return nil, fmt.Errorf("password must be at least %d characters", e.config.Password.MinLength)
	}

	user, err := e.consumeResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrResetTokenInvalid) {
			e.emitAudit(ctx, "password_reset", false, "", "", ErrResetTokenInvalid, nil)
		}
		return nil, err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return nil, err
	}
	if err := e.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return nil, err
	}
	// A reset token proves control of the mailbox; it is the recovery
	// path out of a lockout freeze.
	if user.Frozen {
		if err := e.users.Unfreeze(ctx, user.ID); err != nil {
			return nil, err
		}
		if err := e.cache.Delete(ctx, cache.NSLoginAttempts, user.ID); err != nil {
			return nil, err
		}
	}
	if err := e.purgeSessions(ctx, user.ID, ""); err != nil {
		return nil, err
	}

	session, err := e.establishSession(ctx, user, false, "", "")
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricResetConfirmed)
	e.emitAudit(ctx, "password_reset", true, user.ID, session.ID, nil, nil)
	return session, nil
}

// IssueTempPassword consumes a reset token and replaces the account's
// password with a generated one, mailed to the owner. No session is
// created; the account still holds the frozen flag if it was frozen, and
// the owner logs in with the temporary password through the normal flow.
func (e *Engine) IssueTempPassword(ctx context.Context, token string) error {
	if e == nil || e.hasher == nil {
		return ErrEngineNotReady
	}

	user, err := e.consumeResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrResetTokenInvalid) {
			e.emitAudit(ctx, "password_temp", false, "", "", ErrResetTokenInvalid, nil)
		}
		return err
	}

	plaintext, err := newTempPassword(e.config.Password.TempLength)
	if err != nil {
		return err
	}
	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	if user.Frozen {
		if err := e.users.Unfreeze(ctx, user.ID); err != nil {
			return err
		}
		if err := e.cache.Delete(ctx, cache.NSLoginAttempts, user.ID); err != nil {
			return err
		}
	}
	if err := e.purgeSessions(ctx, user.ID, ""); err != nil {
		return err
	}

	e.notifyUser(ctx, notify.KindTempPassword, user.Email, map[string]string{
		"password": plaintext,
		"username": user.Username,
	})

	e.metricInc(MetricTempPasswordIssued)
	e.emitAudit(ctx, "password_temp", true, user.ID, "", nil, nil)
	return nil
}

// ChangePassword updates the password for an authenticated caller. Every
// other session for the account is revoked; the caller's own session
// survives. A fresh reset token rides along in the notification so the
// owner can recover immediately if the change was not theirs.
func (e *Engine) ChangePassword(ctx context.Context, sessionID, csrf, newPassword string) error {
	if e == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	if len(newPassword) < e.config.Password.MinLength {
		return fmt.Errorf("password must be at least %d characters", e.config.Password.MinLength)
	}

	session, err := e.Validate(ctx, sessionID, csrf, RoleUser)
	if err != nil {
		return err
	}

	user, err := e.users.GetByID(ctx, session.UserID)
	if err != nil {
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	if err := e.purgeSessions(ctx, user.ID, session.ID); err != nil {
		return err
	}

	recovery := newOpaqueToken()
	if err := e.cache.Set(ctx, cache.NSPWToken, recovery, user.ID, e.config.Reset.TokenTTL); err != nil {
		return err
	}
	e.notifyUser(ctx, notify.KindPasswordChanged, user.Email, map[string]string{
		"token":    recovery,
		"username": user.Username,
	})

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, "password_change", true, user.ID, session.ID, nil, nil)
	return nil
}
