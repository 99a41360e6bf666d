package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	castellan "github.com/castellan-auth/castellan"
)

// SessionStore implements castellan.SessionRepository. Rows are the
// system of record for session validity; expiry is by row deletion of the
// expires_at deadline, never by background sweeps the engine depends on.
type SessionStore struct {
	db *sqlx.DB
}

func NewSessionStore(db *sqlx.DB) *SessionStore {
	return &SessionStore{db: db}
}

type sessionRow struct {
	ID            string       `db:"id"`
	UserID        string       `db:"user_id"`
	Email         string       `db:"email"`
	Username      string       `db:"username"`
	Role          uint8        `db:"role"`
	CSRF          string       `db:"csrf"`
	Permanent     bool         `db:"permanent"`
	ExpiresAt     sql.NullTime `db:"expires_at"`
	CreatedAt     time.Time    `db:"created_at"`
	OAuthProvider string       `db:"oauth_provider"`
	OAuthToken    string       `db:"oauth_token"`
}

func (r sessionRow) toSession() *castellan.Session {
	s := &castellan.Session{
		ID:               r.ID,
		UserID:           r.UserID,
		Email:            r.Email,
		Username:         r.Username,
		Role:             castellan.Role(r.Role),
		CSRF:             r.CSRF,
		Permanent:        r.Permanent,
		CreatedAt:        r.CreatedAt,
		OAuthProvider:    r.OAuthProvider,
		OAuthAccessToken: r.OAuthToken,
	}
	if r.ExpiresAt.Valid {
		s.ExpiresAt = r.ExpiresAt.Time
	}
	return s
}

const sessionColumns = `id, user_id, email, username, role, csrf, permanent,
	expires_at, created_at, oauth_provider, oauth_token`

func (s *SessionStore) Create(ctx context.Context, session *castellan.Session) error {
	row := sessionRow{
		ID:            session.ID,
		UserID:        session.UserID,
		Email:         session.Email,
		Username:      session.Username,
		Role:          uint8(session.Role),
		CSRF:          session.CSRF,
		Permanent:     session.Permanent,
		CreatedAt:     session.CreatedAt,
		OAuthProvider: session.OAuthProvider,
		OAuthToken:    session.OAuthAccessToken,
	}
	if !session.Permanent {
		row.ExpiresAt = sql.NullTime{Time: session.ExpiresAt, Valid: true}
	}

	_, err := sqlx.NamedExecContext(ctx, execer(ctx, s.db), `
		INSERT INTO auth_sessions (`+sessionColumns+`)
		VALUES (:id, :user_id, :email, :username, :role, :csrf, :permanent,
			:expires_at, :created_at, :oauth_provider, :oauth_token)`,
		row)
	if err != nil {
		return mapErr("create session", err)
	}
	return nil
}

// GetValidByIDAndCSRF binds the CSRF token and the expiry deadline into
// the lookup itself: a wrong token and an expired or missing session are
// all ErrSessionNotFound.
func (s *SessionStore) GetValidByIDAndCSRF(ctx context.Context, id, csrf string, now time.Time) (*castellan.Session, error) {
	var row sessionRow
	err := sqlx.GetContext(ctx, execer(ctx, s.db), &row, `
		SELECT `+sessionColumns+` FROM auth_sessions
		WHERE id = $1 AND csrf = $2 AND (permanent OR expires_at > $3)`,
		id, csrf, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, castellan.ErrSessionNotFound
		}
		return nil, mapErr("get session", err)
	}
	return row.toSession(), nil
}

func (s *SessionStore) Refresh(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := execer(ctx, s.db).ExecContext(ctx,
		`UPDATE auth_sessions SET expires_at = $2 WHERE id = $1 AND NOT permanent`,
		id, expiresAt)
	if err != nil {
		return mapErr("refresh session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("refresh session", err)
	}
	if n == 0 {
		return castellan.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) Expire(ctx context.Context, id string) error {
	res, err := execer(ctx, s.db).ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE id = $1`, id)
	if err != nil {
		return mapErr("expire session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("expire session", err)
	}
	if n == 0 {
		return castellan.ErrSessionNotFound
	}
	return nil
}

// PurgeByUser deletes every session for the user except skipID and
// returns the deleted ids so their cached copies can be evicted.
func (s *SessionStore) PurgeByUser(ctx context.Context, userID, skipID string) ([]string, error) {
	rows, err := execer(ctx, s.db).QueryxContext(ctx, `
		DELETE FROM auth_sessions WHERE user_id = $1 AND id <> $2
		RETURNING id`,
		userID, skipID)
	if err != nil {
		return nil, mapErr("purge sessions", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapErr("purge sessions", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("purge sessions", err)
	}
	return ids, nil
}

func (s *SessionStore) UpdateAccessTokensForProvider(ctx context.Context, userID, provider, accessToken string) error {
	_, err := execer(ctx, s.db).ExecContext(ctx, `
		UPDATE auth_sessions SET oauth_provider = $2, oauth_token = $3
		WHERE user_id = $1`,
		userID, provider, accessToken)
	if err != nil {
		return mapErr("update session oauth tokens", err)
	}
	return nil
}
