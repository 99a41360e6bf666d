// Package castellan provides a session and credential lifecycle engine:
// password login with lockout, TOTP second factors, email-verified
// registration, password recovery flows, and a cache-first session guard
// with CSRF binding.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// castellan is the public surface. It exposes [Engine], [Builder],
// [Config], the repository interfaces, and value types (Session,
// LoginResult, MetricsSnapshot, etc.). Durable storage and delivery are
// pluggable: the postgres and notify sub-packages provide production
// implementations, and any types satisfying [UserRepository],
// [SessionRepository], and [notify.Notifier] work in their place.
//
// # State placement
//
// The durable store is the system of record for accounts and session
// validity. Redis holds only expiring state: session mirrors, one-time
// tokens, throttle counters. Losing the cache costs latency, never
// correctness — the guard falls back to the durable store and repopulates.
//
// # Failure semantics
//
// Engine methods return sentinel errors (ErrInvalidCredentials,
// ErrAuthBlocked, ErrUnauthenticated, ...) that callers match with
// errors.Is. Notification delivery is best-effort and never fails a
// completed state change; cache writes on the session path are
// authoritative and do.
package castellan
