package castellan

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/castellan-auth/castellan/cache"
)

// Validate authenticates a request. The cache is consulted first; on a
// miss the durable store is the fallback and the record is mirrored back
// into the cache. The CSRF token is compared in constant time and a
// mismatch is rejected before any other check. minRole is the weakest
// role allowed through.
//
// Non-permanent sessions slide on every successful validation: the cache
// copy gets another CacheTTL, the durable row another Session.TTL.
func (e *Engine) Validate(ctx context.Context, sessionID, csrf string, minRole Role) (*Session, error) {
	if e == nil || e.cache == nil {
		return nil, ErrEngineNotReady
	}
	if sessionID == "" || csrf == "" {
		e.metricInc(MetricUnauthenticated)
		return nil, ErrUnauthenticated
	}

	session, err := e.lookupSession(ctx, sessionID, csrf)
	if err != nil {
		return nil, err
	}

	if session.Role < minRole {
		e.metricInc(MetricInsufficientRights)
		e.emitAudit(ctx, "session_validate", false, session.UserID, session.ID, ErrInsufficientRights, map[string]string{
			"role":     session.Role.String(),
			"required": minRole.String(),
		})
		return nil, ErrInsufficientRights
	}

	e.metricInc(MetricSessionValidated)
	return session, nil
}

func (e *Engine) lookupSession(ctx context.Context, sessionID, csrf string) (*Session, error) {
	rec, err := e.cache.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		if subtle.ConstantTimeCompare([]byte(rec.CSRF), []byte(csrf)) != 1 {
			e.metricInc(MetricCSRFMismatch)
			e.emitAudit(ctx, "session_validate", false, rec.UserID, sessionID, ErrCSRFMismatch, nil)
			return nil, ErrCSRFMismatch
		}
		if !rec.Permanent {
			if rec.ExpiresAt > 0 && !e.clock().Before(time.Unix(rec.ExpiresAt, 0)) {
				// The cache entry outlived the session's own deadline.
				_ = e.cache.DeleteSession(ctx, sessionID)
				e.metricInc(MetricUnauthenticated)
				return nil, ErrUnauthenticated
			}
			rec.ExpiresAt = e.clock().Add(e.config.Session.TTL).Unix()
			if err := e.cache.SaveSession(ctx, rec, e.config.Session.CacheTTL); err != nil {
				return nil, err
			}
			if err := e.sessions.Refresh(ctx, sessionID, time.Unix(rec.ExpiresAt, 0)); err != nil {
				if errors.Is(err, ErrSessionNotFound) {
					// The durable row is gone; a cached copy left
					// behind by a best-effort eviction does not keep
					// the session alive.
					_ = e.cache.DeleteSession(ctx, sessionID)
					e.metricInc(MetricUnauthenticated)
					e.emitAudit(ctx, "session_validate", false, rec.UserID, sessionID, ErrUnauthenticated, nil)
					return nil, ErrUnauthenticated
				}
				return nil, err
			}
		}
		return sessionFromRecord(rec), nil

	case errors.Is(err, cache.ErrNotFound):
		return e.lookupDurableSession(ctx, sessionID, csrf)

	default:
		return nil, err
	}
}

// lookupDurableSession is the cache-miss path. The durable lookup binds
// the CSRF token itself, so a wrong token and a missing session are
// indistinguishable here; both come back as ErrUnauthenticated.
func (e *Engine) lookupDurableSession(ctx context.Context, sessionID, csrf string) (*Session, error) {
	e.metricInc(MetricSessionCacheMiss)

	session, err := e.sessions.GetValidByIDAndCSRF(ctx, sessionID, csrf, e.clock())
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			e.metricInc(MetricUnauthenticated)
			e.emitAudit(ctx, "session_validate", false, "", sessionID, ErrUnauthenticated, nil)
			return nil, ErrUnauthenticated
		}
		return nil, err
	}

	if !session.Permanent {
		session.ExpiresAt = e.clock().Add(e.config.Session.TTL)
		if err := e.sessions.Refresh(ctx, session.ID, session.ExpiresAt); err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				// Expired out from under us between lookup and refresh.
				e.metricInc(MetricUnauthenticated)
				return nil, ErrUnauthenticated
			}
			return nil, err
		}
	}
	if err := e.cache.SaveSession(ctx, sessionRecord(session), e.config.Session.CacheTTL); err != nil {
		return nil, err
	}
	return session, nil
}

// Logout ends the caller's session. With purgeAll set every session for
// the account goes with it, cached copies included.
func (e *Engine) Logout(ctx context.Context, sessionID, csrf string, purgeAll bool) error {
	session, err := e.Validate(ctx, sessionID, csrf, RoleUser)
	if err != nil {
		return err
	}

	if purgeAll {
		if err := e.purgeSessions(ctx, session.UserID, ""); err != nil {
			return err
		}
		e.metricInc(MetricLogoutAll)
		e.emitAudit(ctx, "logout_all", true, session.UserID, session.ID, nil, nil)
		return nil
	}

	if err := e.sessions.Expire(ctx, session.ID); err != nil {
		return err
	}
	if err := e.cache.DeleteSession(ctx, session.ID); err != nil && !errors.Is(err, cache.ErrNotFound) {
		return err
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, "logout", true, session.UserID, session.ID, nil, nil)
	return nil
}

// LinkOAuthAccount records the provider identity on the user and rolls
// the provider access token onto every live session for the account, in
// one transaction when a Transactor is configured.
func (e *Engine) LinkOAuthAccount(ctx context.Context, userID, provider, oauthID, accessToken string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	apply := func(ctx context.Context) error {
		if err := e.users.UpdateOAuthProviderID(ctx, userID, provider, oauthID); err != nil {
			return err
		}
		return e.sessions.UpdateAccessTokensForProvider(ctx, userID, provider, accessToken)
	}

	var err error
	if e.tx != nil {
		err = e.tx.InTx(ctx, apply)
	} else {
		err = apply(ctx)
	}
	if err != nil {
		return err
	}

	e.emitAudit(ctx, "oauth_link", true, userID, "", nil, map[string]string{"provider": provider})
	return nil
}
