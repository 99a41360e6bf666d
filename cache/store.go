// Package cache implements the ephemeral token store on Redis: short-lived
// secrets (registration, password-reset, and OTP challenge tokens), attempt
// counters, throttle markers, and the session fast path.
//
// Every entry lives under a namespace-qualified key and carries a TTL.
// Counter increments are a single INCR with an expiry applied on first hit,
// never a read-modify-write across two round trips.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Namespace discriminates the token classes sharing one Redis keyspace.
type Namespace string

const (
	// NSSession holds cached session records.
	NSSession Namespace = "sess"
	// NSRegToken maps registration tokens to user ids.
	NSRegToken Namespace = "reg"
	// NSPWToken maps password-reset tokens to user ids.
	NSPWToken Namespace = "pw"
	// NSOTPToken maps OTP challenge tokens to pending-login records.
	NSOTPToken Namespace = "otpc"
	// NSOTPThrottle holds the epoch-seconds timestamp of the last failed OTP attempt.
	NSOTPThrottle Namespace = "otpt"
	// NSOTPAttempts counts consecutive failed OTP attempts.
	NSOTPAttempts Namespace = "otpa"
	// NSLoginAttempts counts consecutive failed password logins.
	NSLoginAttempts Namespace = "la"
	// NSEmailThrottle marks addresses that were recently sent mail.
	NSEmailThrottle Namespace = "emt"
)

var (
	// ErrNotFound is returned when a key is absent or expired.
	ErrNotFound = errors.New("cache: not found")
	// ErrUnavailable wraps Redis transport failures.
	ErrUnavailable = errors.New("cache: redis unavailable")
)

// Store is the TTL-capable key-value store backing all ephemeral auth state.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore wraps a Redis client. prefix isolates this engine's keys from
// other tenants of the same Redis; it defaults to "cst".
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "cst"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) key(ns Namespace, k string) string {
	return s.prefix + ":" + string(ns) + ":" + k
}

// Set writes value under the namespaced key with the given TTL.
// ttl <= 0 stores the key without expiry.
func (s *Store) Set(ctx context.Context, ns Namespace, key, value string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(ns, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get reads the namespaced key. Absent or expired keys yield ErrNotFound.
func (s *Store) Get(ctx context.Context, ns Namespace, key string) (string, error) {
	value, err := s.redis.Get(ctx, s.key(ns, key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return value, nil
}

// GetInt64 reads the namespaced key as a decimal integer. Absent keys
// return 0 without error, so counters read naturally before first increment.
func (s *Store) GetInt64(ctx context.Context, ns Namespace, key string) (int64, error) {
	value, err := s.Get(ctx, ns, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cache: non-numeric value under %s:%s: %v", ns, key, err)
	}
	return n, nil
}

// Delete removes the namespaced key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, ns Namespace, key string) error {
	if err := s.redis.Del(ctx, s.key(ns, key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Increment atomically increments the counter under the namespaced key and
// returns the new value. The TTL is applied when the increment creates the
// key, so a counter window starts at the first failure and is never extended
// by later ones.
func (s *Store) Increment(ctx context.Context, ns Namespace, key string, ttl time.Duration) (int64, error) {
	k := s.key(ns, key)

	count, err := s.redis.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 && ttl > 0 {
		if err := s.redis.Expire(ctx, k, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return count, nil
}

// Claim atomically sets a presence marker if absent, returning true when the
// claim succeeded and false when the marker was already held. Used for
// per-address email throttles.
func (s *Store) Claim(ctx context.Context, ns Namespace, key string, ttl time.Duration) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.key(ns, key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}
