package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/xxxsen/bkimport/internal/pkg/dbutil"
	appErr "github.com/xxxsen/bkimport/internal/pkg/errors"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type base struct {
	db      *sql.DB
	dialect dbutil.Dialect
}

func (b base) q(query string, args ...interface{}) (string, []interface{}) {
	return dbutil.Finalize(b.dialect, query, args)
}

func (b base) exec(ctx context.Context, ex execer, query string, args ...interface{}) (sql.Result, error) {
	query, args = b.q(query, args...)
	var res sql.Result
	err := dbutil.RetryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = ex.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// withTx runs fn inside a transaction, retrying the whole unit while SQLite
// reports the write lock as busy.
func (b base) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return dbutil.RetryOnBusy(ctx, func() error {
		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// storageErr tags driver failures as storage failures. Domain sentinels pass
// through untouched.
func storageErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return appErr.ErrNotFound
	case errors.Is(err, appErr.ErrNotFound),
		errors.Is(err, appErr.ErrConflict),
		errors.Is(err, appErr.ErrInvalidSessionState),
		errors.Is(err, appErr.ErrInvalidTransition),
		errors.Is(err, appErr.ErrLeaseConflict),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case dbutil.IsConflict(err):
		return appErr.ErrConflict
	}
	return appErr.Storage(err)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
