package castellan

import (
	"context"
	"time"
)

// Role orders account privilege levels. Larger is stronger; the session
// guard enforces a minimum role on top of session validity.
type Role uint8

const (
	// RoleUser is the default role granted at registration.
	RoleUser Role = 1 + iota
	// RoleModerator sits between user and admin.
	RoleModerator
	// RoleAdmin is the strongest built-in role.
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// User is the durable identity record. PasswordHash is empty for
// OAuth-only accounts; OTPSecret is the hex-encoded shared secret, empty
// until OTP is enabled. A nil EmailVerifiedAt means registration was never
// completed.
type User struct {
	ID              string
	Email           string
	Username        string
	PasswordHash    string
	OTPSecret       string
	Frozen          bool
	EmailVerifiedAt *time.Time
	Role            Role
	OAuthProvider   string
	OAuthID         string
	CreatedAt       time.Time
}

// Session is an authenticated client context. The CSRF token must
// accompany every validation; ExpiresAt is the zero time for permanent
// (remember-me) sessions, flagged by Permanent.
type Session struct {
	ID       string
	UserID   string
	Email    string
	Username string
	Role     Role
	CSRF     string

	Permanent bool
	ExpiresAt time.Time
	CreatedAt time.Time

	OAuthProvider    string
	OAuthAccessToken string
}

// LoginResult is returned by Login and VerifyLoginOTP. Either Session is
// set, or OTPRequired is true and ChallengeToken must be echoed back
// through VerifyLoginOTP together with a code.
type LoginResult struct {
	Session *Session

	OTPRequired    bool
	ChallengeToken string
}

// OTPSetup is returned by EnableOTP: the freshly provisioned secret with
// its authenticator-app import forms.
type OTPSetup struct {
	Secret string // hex, as persisted on the user record
	URI    string // otpauth:// provisioning URI
	QRPNG  []byte // scannable rendering of URI
}

// UserRepository is the durable store's user side. Implementations return
// ErrUserNotFound for missing rows, ErrEmailTaken for unique-email
// violations on Create, and wrap transport failures in ErrStoreUnavailable.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateOTPSecret(ctx context.Context, id, secret string) error
	UpdateEmailVerified(ctx context.Context, id string, at time.Time) error
	Freeze(ctx context.Context, id string) error
	Unfreeze(ctx context.Context, id string) error
	UpdateOAuthProviderID(ctx context.Context, id, provider, oauthID string) error
}

// SessionRepository is the durable store's session side, the system of
// record for session validity. GetValidByIDAndCSRF enforces both the CSRF
// match and unexpiredness in the lookup itself and returns
// ErrSessionNotFound otherwise. PurgeByUser expires every session for the
// user except skipID (empty skips none) and returns the ids it expired so
// the cache copies can be evicted.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetValidByIDAndCSRF(ctx context.Context, id, csrf string, now time.Time) (*Session, error)
	Refresh(ctx context.Context, id string, expiresAt time.Time) error
	Expire(ctx context.Context, id string) error
	PurgeByUser(ctx context.Context, userID, skipID string) ([]string, error)
	UpdateAccessTokensForProvider(ctx context.Context, userID, provider, accessToken string) error
}

// Transactor runs fn inside a single durable-store transaction. Repository
// calls made with the ctx passed to fn join that transaction; fn returning
// an error rolls everything back.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
