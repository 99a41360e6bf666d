package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	castellan "github.com/castellan-auth/castellan"
)

// UserStore implements castellan.UserRepository.
type UserStore struct {
	db *sqlx.DB
}

func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

type userRow struct {
	ID              string       `db:"id"`
	Email           string       `db:"email"`
	Username        string       `db:"username"`
	PasswordHash    string       `db:"password_hash"`
	OTPSecret       string       `db:"otp_secret"`
	Frozen          bool         `db:"frozen"`
	EmailVerifiedAt sql.NullTime `db:"email_verified_at"`
	Role            uint8        `db:"role"`
	OAuthProvider   string       `db:"oauth_provider"`
	OAuthID         string       `db:"oauth_id"`
	CreatedAt       time.Time    `db:"created_at"`
}

func (r userRow) toUser() *castellan.User {
	u := &castellan.User{
		ID:            r.ID,
		Email:         r.Email,
		Username:      r.Username,
		PasswordHash:  r.PasswordHash,
		OTPSecret:     r.OTPSecret,
		Frozen:        r.Frozen,
		Role:          castellan.Role(r.Role),
		OAuthProvider: r.OAuthProvider,
		OAuthID:       r.OAuthID,
		CreatedAt:     r.CreatedAt,
	}
	if r.EmailVerifiedAt.Valid {
		at := r.EmailVerifiedAt.Time
		u.EmailVerifiedAt = &at
	}
	return u
}

const userColumns = `id, email, username, password_hash, otp_secret, frozen,
	email_verified_at, role, oauth_provider, oauth_id, created_at`

func (s *UserStore) Create(ctx context.Context, user *castellan.User) error {
	row := userRow{
		ID:            user.ID,
		Email:         user.Email,
		Username:      user.Username,
		PasswordHash:  user.PasswordHash,
		OTPSecret:     user.OTPSecret,
		Frozen:        user.Frozen,
		Role:          uint8(user.Role),
		OAuthProvider: user.OAuthProvider,
		OAuthID:       user.OAuthID,
		CreatedAt:     user.CreatedAt,
	}
	if user.EmailVerifiedAt != nil {
		row.EmailVerifiedAt = sql.NullTime{Time: *user.EmailVerifiedAt, Valid: true}
	}

	_, err := sqlx.NamedExecContext(ctx, execer(ctx, s.db), `
		INSERT INTO auth_users (`+userColumns+`)
		VALUES (:id, :email, :username, :password_hash, :otp_secret, :frozen,
			:email_verified_at, :role, :oauth_provider, :oauth_id, :created_at)`,
		row)
	if err != nil {
		if isUniqueViolation(err) {
			return castellan.ErrEmailTaken
		}
		return mapErr("create user", err)
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*castellan.User, error) {
	return s.getBy(ctx, "id", id)
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*castellan.User, error) {
	return s.getBy(ctx, "email", email)
}

func (s *UserStore) getBy(ctx context.Context, column, value string) (*castellan.User, error) {
	var row userRow
	err := sqlx.GetContext(ctx, execer(ctx, s.db), &row,
		`SELECT `+userColumns+` FROM auth_users WHERE `+column+` = $1`, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, castellan.ErrUserNotFound
		}
		return nil, mapErr("get user by "+column, err)
	}
	return row.toUser(), nil
}

func (s *UserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.update(ctx, "update password",
		`UPDATE auth_users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
}

func (s *UserStore) UpdateOTPSecret(ctx context.Context, id, secret string) error {
	return s.update(ctx, "update otp secret",
		`UPDATE auth_users SET otp_secret = $2 WHERE id = $1`, id, secret)
}

func (s *UserStore) UpdateEmailVerified(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, "update email verified",
		`UPDATE auth_users SET email_verified_at = $2 WHERE id = $1`, id, at)
}

func (s *UserStore) Freeze(ctx context.Context, id string) error {
	return s.update(ctx, "freeze user",
		`UPDATE auth_users SET frozen = TRUE WHERE id = $1`, id)
}

func (s *UserStore) Unfreeze(ctx context.Context, id string) error {
	return s.update(ctx, "unfreeze user",
		`UPDATE auth_users SET frozen = FALSE WHERE id = $1`, id)
}

func (s *UserStore) UpdateOAuthProviderID(ctx context.Context, id, provider, oauthID string) error {
	return s.update(ctx, "update oauth identity",
		`UPDATE auth_users SET oauth_provider = $2, oauth_id = $3 WHERE id = $1`,
		id, provider, oauthID)
}

// update runs a single-row UPDATE keyed by id and maps a zero row count
// to ErrUserNotFound.
func (s *UserStore) update(ctx context.Context, op, query string, args ...any) error {
	res, err := execer(ctx, s.db).ExecContext(ctx, query, args...)
	if err != nil {
		return mapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(op, err)
	}
	if n == 0 {
		return castellan.ErrUserNotFound
	}
	return nil
}
