package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionRecord is the cached projection of a session: the durable session
// row plus the denormalized user fields the guard needs without a database
// round trip.
type SessionRecord struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     uint8  `json:"role"`
	CSRF     string `json:"csrf"`

	// Permanent marks a remember-me session; ExpiresAt is zero for those
	// and the cache entry carries no TTL.
	Permanent bool  `json:"permanent"`
	ExpiresAt int64 `json:"expires_at,omitempty"`

	OAuthProvider    string `json:"oauth_provider,omitempty"`
	OAuthAccessToken string `json:"oauth_access_token,omitempty"`
}

// SaveSession writes the record under the session namespace. Non-permanent
// records expire with ttl; permanent records are kept until deleted.
func (s *Store) SaveSession(ctx context.Context, rec *SessionRecord, ttl time.Duration) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if rec.Permanent {
		ttl = 0
	}
	if err := s.redis.Set(ctx, s.key(NSSession, rec.ID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetSession reads a cached session record. A miss yields ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	data, err := s.redis.Get(ctx, s.key(NSSession, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("cache: corrupt session record %s: %v", sessionID, err)
	}
	return &rec, nil
}

// TouchSession slides a non-permanent session's cache expiry forward.
func (s *Store) TouchSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	if err := s.redis.Expire(ctx, s.key(NSSession, sessionID), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteSession evicts a session from the fast path. The durable store
// remains the expiry of record.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.Delete(ctx, NSSession, sessionID)
}
