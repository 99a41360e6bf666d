// Package postgres implements the durable user and session repositories
// on PostgreSQL via sqlx. All stores accept an external *sqlx.DB and run
// inside a caller transaction when one is carried on the context by
// Transactor.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	castellan "github.com/castellan-auth/castellan"
)

// Schema creates the tables the stores expect. Callers run it at
// bootstrap or manage equivalent migrations themselves.
const Schema = `
CREATE TABLE IF NOT EXISTS auth_users (
	id                TEXT PRIMARY KEY,
	email             TEXT NOT NULL UNIQUE,
	username          TEXT NOT NULL,
	password_hash     TEXT NOT NULL DEFAULT '',
	otp_secret        TEXT NOT NULL DEFAULT '',
	frozen            BOOLEAN NOT NULL DEFAULT FALSE,
	email_verified_at TIMESTAMPTZ,
	role              SMALLINT NOT NULL,
	oauth_provider    TEXT NOT NULL DEFAULT '',
	oauth_id          TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_sessions (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL REFERENCES auth_users (id) ON DELETE CASCADE,
	email          TEXT NOT NULL,
	username       TEXT NOT NULL,
	role           SMALLINT NOT NULL,
	csrf           TEXT NOT NULL,
	permanent      BOOLEAN NOT NULL DEFAULT FALSE,
	expires_at     TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL,
	oauth_provider TEXT NOT NULL DEFAULT '',
	oauth_token    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS auth_sessions_user_idx ON auth_sessions (user_id);
`

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraints.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// mapErr folds driver-level failures into the store contract. Row-level
// outcomes (no rows, unique violations) are handled at the call sites;
// everything else is a transport problem.
func mapErr(op string, err error) error {
	return fmt.Errorf("postgres: %s: %w: %v", op, castellan.ErrStoreUnavailable, err)
}

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return mapErr("ensure schema", err)
	}
	return nil
}

type ctxKey struct{}

// Transactor implements castellan.Transactor: fn runs inside a single
// database transaction, carried on the context so that store calls made
// with it join the transaction.
type Transactor struct {
	db *sqlx.DB
}

func NewTransactor(db *sqlx.DB) *Transactor {
	return &Transactor{db: db}
}

func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapErr("begin tx", err)
	}
	if err := fn(context.WithValue(ctx, ctxKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, mapErr("rollback", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapErr("commit", err)
	}
	return nil
}

// execer resolves the statement target: the transaction carried on ctx
// when present, the pool otherwise.
func execer(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx, ok := ctx.Value(ctxKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db
}
