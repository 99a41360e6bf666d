package castellan

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/castellan-auth/castellan/cache"
	"github.com/castellan-auth/castellan/notify"
	"github.com/castellan-auth/castellan/password"
)

// Engine is the session and credential state machine. It owns no durable
// state of its own: everything lives in the token cache and the durable
// store, so Engine methods are request-scoped and safe for concurrent use
// after Build.
type Engine struct {
	config   Config
	cache    *cache.Store
	users    UserRepository
	sessions SessionRepository
	tx       Transactor
	notifier notify.Notifier
	hasher   *password.Hasher
	audit    *auditDispatcher
	metrics  *Metrics

	// dummyHash absorbs a verification for unknown emails so the
	// not-found path costs roughly the same as a wrong password.
	dummyHash string

	// clock is swapped in tests to drive throttle arithmetic.
	clock func() time.Time
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// MetricsSnapshot returns a copy of the engine's counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were shed under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	if e != nil {
		e.metrics.Inc(id)
	}
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, sessionID string, cause error, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: e.clock(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	e.audit.Dispatch(event)
}

// establishSession creates the durable session row, mirrors it into the
// cache, and returns it. Called only after every credential and policy
// check has passed.
func (e *Engine) establishSession(ctx context.Context, user *User, permanent bool, oauthProvider, oauthAccessToken string) (*Session, error) {
	now := e.clock()

	sess := &Session{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		Email:            user.Email,
		Username:         user.Username,
		Role:             user.Role,
		CSRF:             newOpaqueToken(),
		Permanent:        permanent,
		CreatedAt:        now,
		OAuthProvider:    oauthProvider,
		OAuthAccessToken: oauthAccessToken,
	}
	if !permanent {
		sess.ExpiresAt = now.Add(e.config.Session.TTL)
	}

	if err := e.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	if err := e.cache.SaveSession(ctx, sessionRecord(sess), e.config.Session.CacheTTL); err != nil {
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, "session_created", true, user.ID, sess.ID, nil, nil)
	return sess, nil
}

// purgeSessions expires every session for the user (except skipID) in the
// durable store, then evicts the cached copies. Cache eviction is
// best-effort: the durable store is the expiry of record and a missed
// eviction only costs a cache hit until CacheTTL lapses.
func (e *Engine) purgeSessions(ctx context.Context, userID, skipID string) error {
	ids, err := e.sessions.PurgeByUser(ctx, userID, skipID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.cache.DeleteSession(ctx, id); err != nil {
			log.Printf("castellan: evicting purged session %s: %v", id, err)
		}
	}
	return nil
}

// notifyUser delivers workflow mail without letting delivery failures
// surface into the workflow: a completed password change is not undone by
// a down mail relay.
func (e *Engine) notifyUser(ctx context.Context, kind notify.Kind, recipient string, vars map[string]string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, kind, recipient, vars); err != nil {
		log.Printf("castellan: sending %s to %s: %v", kind, recipient, err)
	}
}

// registrationToken derives the deterministic verification token for a
// user id: HMAC-SHA256 keyed by the server token secret. Deterministic so
// it can be recomputed for integrity checking and for resends; the cached
// copy carries the TTL and is the authoritative liveness check.
func (e *Engine) registrationToken(userID string) string {
	mac := hmac.New(sha256.New, e.config.TokenSecret)
	_, _ = mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (e *Engine) registrationTokenMatches(userID, token string) bool {
	return hmac.Equal([]byte(e.registrationToken(userID)), []byte(token))
}

func sessionRecord(s *Session) *cache.SessionRecord {
	rec := &cache.SessionRecord{
		ID:               s.ID,
		UserID:           s.UserID,
		Email:            s.Email,
		Username:         s.Username,
		Role:             uint8(s.Role),
		CSRF:             s.CSRF,
		Permanent:        s.Permanent,
		OAuthProvider:    s.OAuthProvider,
		OAuthAccessToken: s.OAuthAccessToken,
	}
	if !s.Permanent {
		rec.ExpiresAt = s.ExpiresAt.Unix()
	}
	return rec
}

func sessionFromRecord(rec *cache.SessionRecord) *Session {
	s := &Session{
		ID:               rec.ID,
		UserID:           rec.UserID,
		Email:            rec.Email,
		Username:         rec.Username,
		Role:             Role(rec.Role),
		CSRF:             rec.CSRF,
		Permanent:        rec.Permanent,
		OAuthProvider:    rec.OAuthProvider,
		OAuthAccessToken: rec.OAuthAccessToken,
	}
	if rec.ExpiresAt > 0 {
		s.ExpiresAt = time.Unix(rec.ExpiresAt, 0)
	}
	return s
}

// newOpaqueToken draws 32 random bytes, base64url-encoded. Used for CSRF
// tokens, OTP challenge tokens, and password-reset tokens.
func newOpaqueToken() string {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		// crypto/rand failure means the process has no usable entropy
		// source; nothing sensible can continue.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

const tempPasswordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func newTempPassword(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(tempPasswordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = tempPasswordAlphabet[n.Int64()]
	}
	return string(out), nil
}
