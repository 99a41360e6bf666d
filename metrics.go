package castellan

import "sync/atomic"

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts fully established password logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts invalid-credential outcomes.
	MetricLoginFailure
	// MetricLoginFrozen counts logins rejected on a frozen account, including the freezing attempt itself.
	MetricLoginFrozen
	// MetricLoginUnverified counts logins rejected for unverified email.
	MetricLoginUnverified
	// MetricOTPChallengeIssued counts logins that paused for a second factor.
	MetricOTPChallengeIssued
	// MetricOTPSuccess counts successful challenge verifications.
	MetricOTPSuccess
	// MetricOTPFailure counts wrong-code verifications.
	MetricOTPFailure
	// MetricOTPThrottled counts verifications rejected inside the backoff window.
	MetricOTPThrottled
	// MetricRegistration counts created accounts.
	MetricRegistration
	// MetricRegistrationVerified counts completed email verifications.
	MetricRegistrationVerified
	// MetricRegistrationResend counts re-sent registration tokens.
	MetricRegistrationResend
	// MetricResetRequested counts forgot-password token issuances.
	MetricResetRequested
	// MetricResetConfirmed counts reset confirmations with a user-chosen password.
	MetricResetConfirmed
	// MetricTempPasswordIssued counts server-generated temporary passwords.
	MetricTempPasswordIssued
	// MetricPasswordChanged counts authenticated password changes.
	MetricPasswordChanged
	// MetricSessionCreated counts sessions written to the durable store.
	MetricSessionCreated
	// MetricSessionValidated counts guard passes.
	MetricSessionValidated
	// MetricSessionCacheMiss counts guard passes that fell back to the durable store.
	MetricSessionCacheMiss
	// MetricCSRFMismatch counts guard rejections on CSRF.
	MetricCSRFMismatch
	// MetricUnauthenticated counts guard rejections with no matching session.
	MetricUnauthenticated
	// MetricInsufficientRights counts role-floor rejections.
	MetricInsufficientRights
	// MetricLogout counts single-session logouts.
	MetricLogout
	// MetricLogoutAll counts purge logouts.
	MetricLogoutAll

	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:         "login_success",
	MetricLoginFailure:         "login_failure",
	MetricLoginFrozen:          "login_frozen",
	MetricLoginUnverified:      "login_unverified",
	MetricOTPChallengeIssued:   "otp_challenge_issued",
	MetricOTPSuccess:           "otp_success",
	MetricOTPFailure:           "otp_failure",
	MetricOTPThrottled:         "otp_throttled",
	MetricRegistration:         "registration",
	MetricRegistrationVerified: "registration_verified",
	MetricRegistrationResend:   "registration_resend",
	MetricResetRequested:       "reset_requested",
	MetricResetConfirmed:       "reset_confirmed",
	MetricTempPasswordIssued:   "temp_password_issued",
	MetricPasswordChanged:      "password_changed",
	MetricSessionCreated:       "session_created",
	MetricSessionValidated:     "session_validated",
	MetricSessionCacheMiss:     "session_cache_miss",
	MetricCSRFMismatch:         "csrf_mismatch",
	MetricUnauthenticated:      "unauthenticated",
	MetricInsufficientRights:   "insufficient_rights",
	MetricLogout:               "logout",
	MetricLogoutAll:            "logout_all",
}

// Name returns the stable snake_case identifier used by exporters.
func (id MetricID) Name() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// MetricIDs lists every counter, in a stable order, for exporters.
func MetricIDs() []MetricID {
	ids := make([]MetricID, metricIDCount)
	for i := range ids {
		ids[i] = MetricID(i)
	}
	return ids
}

// Metrics holds lock-free counters. All operations are no-ops on a
// disabled (or nil) instance.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]atomic.Uint64
}

// NewMetrics creates a Metrics instance per cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc increments one counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Get reads one counter.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || !m.enabled || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot deep-copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, metricIDCount)}
	if m == nil || !m.enabled {
		return snap
	}
	for i := MetricID(0); i < metricIDCount; i++ {
		snap.Counters[i] = m.counters[i].Load()
	}
	return snap
}
