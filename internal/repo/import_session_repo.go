package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/bkimport/internal/model"
	"github.com/xxxsen/bkimport/internal/pkg/dbutil"
	appErr "github.com/xxxsen/bkimport/internal/pkg/errors"
)

var sessionColumns = []string{
	"id", "user_id", "name", "message", "root_list_id", "status", "fail_reason",
	"source_format", "source_file_key", "last_processed_at", "ctime", "mtime",
}

type ImportSessionRepo struct {
	base
}

func NewImportSessionRepo(db *sql.DB, dialect dbutil.Dialect) *ImportSessionRepo {
	return &ImportSessionRepo{base: base{db: db, dialect: dialect}}
}

func (r *ImportSessionRepo) Create(ctx context.Context, s *model.ImportSession) error {
	data := map[string]interface{}{
		"id":                s.ID,
		"user_id":           s.UserID,
		"name":              s.Name,
		"message":           s.Message,
		"root_list_id":      s.RootListID,
		"status":            string(s.Status),
		"fail_reason":       s.FailReason,
		"source_format":     s.SourceFormat,
		"source_file_key":   s.SourceFileKey,
		"last_processed_at": s.LastProcessedAt,
		"ctime":             s.Ctime,
		"mtime":             s.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("import_sessions", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, r.db, sqlStr, args...)
	return storageErr(err)
}

func (r *ImportSessionRepo) Get(ctx context.Context, sessionID string) (*model.ImportSession, error) {
	return r.getBy(ctx, map[string]interface{}{"id": sessionID})
}

func (r *ImportSessionRepo) GetForUser(ctx context.Context, userID, sessionID string) (*model.ImportSession, error) {
	return r.getBy(ctx, map[string]interface{}{"id": sessionID, "user_id": userID})
}

func (r *ImportSessionRepo) getBy(ctx context.Context, where map[string]interface{}) (*model.ImportSession, error) {
	where["_limit"] = []uint{0, 1}
	sqlStr, args, err := builder.BuildSelect("import_sessions", where, sessionColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.q(sqlStr, args...)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()
	items, err := scanSessions(rows)
	if err != nil {
		return nil, storageErr(err)
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &items[0], nil
}

func (r *ImportSessionRepo) ListByUser(ctx context.Context, userID string, status model.SessionStatus, limit, offset int) ([]model.ImportSession, error) {
	where := map[string]interface{}{"user_id": userID, "_orderby": "ctime desc"}
	if status != "" {
		where["status"] = string(status)
	}
	if limit > 0 {
		if offset < 0 {
			offset = 0
		}
		where["_limit"] = []uint{uint(offset), uint(limit)}
	}
	return r.list(ctx, where)
}

// ListByStatus returns the oldest sessions in the given status first.
func (r *ImportSessionRepo) ListByStatus(ctx context.Context, status model.SessionStatus, limit int) ([]model.ImportSession, error) {
	where := map[string]interface{}{"status": string(status), "_orderby": "ctime asc"}
	if limit > 0 {
		where["_limit"] = []uint{0, uint(limit)}
	}
	return r.list(ctx, where)
}

// ListStale returns sessions in status whose last progress is older than cutoff.
func (r *ImportSessionRepo) ListStale(ctx context.Context, status model.SessionStatus, cutoff int64) ([]model.ImportSession, error) {
	where := map[string]interface{}{
		"status":        string(status),
		"_custom_stale": builder.Custom("(CASE WHEN last_processed_at > 0 THEN last_processed_at ELSE mtime END) < ?", cutoff),
		"_orderby":      "ctime asc",
	}
	return r.list(ctx, where)
}

func (r *ImportSessionRepo) list(ctx context.Context, where map[string]interface{}) ([]model.ImportSession, error) {
	sqlStr, args, err := builder.BuildSelect("import_sessions", where, sessionColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.q(sqlStr, args...)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()
	items, err := scanSessions(rows)
	return items, storageErr(err)
}

// UpdateStatusIf moves the session to `to` only when its current status is one
// of `from`. It reports whether a row changed.
func (r *ImportSessionRepo) UpdateStatusIf(ctx context.Context, sessionID string, from []model.SessionStatus, to model.SessionStatus, reason string, now int64) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []interface{}{string(to), reason, now, sessionID}
	for _, s := range from {
		args = append(args, string(s))
	}
	query := "UPDATE import_sessions SET status = ?, fail_reason = ?, mtime = ? WHERE id = ? AND status IN (" +
		dbutil.InPlaceholders(len(from)) + ")"
	res, err := r.exec(ctx, r.db, query, args...)
	if err != nil {
		return false, storageErr(err)
	}
	return affected(res)
}

// FinalizeIfStaged performs staging -> pending, but only for sessions that own
// at least one entry.
func (r *ImportSessionRepo) FinalizeIfStaged(ctx context.Context, sessionID string, now int64) (bool, error) {
	const query = `
		UPDATE import_sessions SET status = ?, mtime = ?
		WHERE id = ? AND status = ?
		AND EXISTS (SELECT 1 FROM import_staging_bookmarks WHERE import_session_id = ?)
	`
	res, err := r.exec(ctx, r.db, query, string(model.SessionPending), now, sessionID, string(model.SessionStaging), sessionID)
	if err != nil {
		return false, storageErr(err)
	}
	return affected(res)
}

// CompleteIfDrained performs running -> completed in one statement, guarded
// by the absence of pending or processing entries.
func (r *ImportSessionRepo) CompleteIfDrained(ctx context.Context, sessionID string, now int64) (bool, error) {
	const query = `
		UPDATE import_sessions SET status = ?, mtime = ?, last_processed_at = ?
		WHERE id = ? AND status = ?
		AND NOT EXISTS (
			SELECT 1 FROM import_staging_bookmarks
			WHERE import_session_id = ? AND status IN (?, ?)
		)
	`
	res, err := r.exec(ctx, r.db, query,
		string(model.SessionCompleted), now, now, sessionID, string(model.SessionRunning),
		sessionID, string(model.EntryPending), string(model.EntryProcessing),
	)
	if err != nil {
		return false, storageErr(err)
	}
	return affected(res)
}

func (r *ImportSessionRepo) TouchProgress(ctx context.Context, sessionID string, ts int64) error {
	const query = `UPDATE import_sessions SET last_processed_at = ? WHERE id = ? AND last_processed_at < ?`
	_, err := r.exec(ctx, r.db, query, ts, sessionID, ts)
	return storageErr(err)
}

func (r *ImportSessionRepo) UpdateSource(ctx context.Context, sessionID, format, fileKey string, now int64) error {
	where := map[string]interface{}{"id": sessionID}
	update := map[string]interface{}{"source_format": format, "source_file_key": fileKey, "mtime": now}
	sqlStr, args, err := builder.BuildUpdate("import_sessions", where, update)
	if err != nil {
		return err
	}
	res, err := r.exec(ctx, r.db, sqlStr, args...)
	if err != nil {
		return storageErr(err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *ImportSessionRepo) ListBookmarkIDs(ctx context.Context, sessionID string) ([]string, error) {
	where := map[string]interface{}{"import_session_id": sessionID, "_orderby": "ctime asc"}
	sqlStr, args, err := builder.BuildSelect("import_session_bookmarks", where, []string{"bookmark_id"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.q(sqlStr, args...)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr(err)
		}
		ids = append(ids, id)
	}
	return ids, storageErr(rows.Err())
}

// ListTerminalBefore returns finished sessions not modified since cutoff,
// oldest first.
func (r *ImportSessionRepo) ListTerminalBefore(ctx context.Context, cutoff int64, limit int) ([]model.ImportSession, error) {
	where := map[string]interface{}{
		"status in": []interface{}{string(model.SessionCompleted), string(model.SessionFailed)},
		"mtime <":   cutoff,
		"_orderby":  "mtime asc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, uint(limit)}
	}
	return r.list(ctx, where)
}

// Delete removes the session; staging entries go with it through the cascade.
func (r *ImportSessionRepo) Delete(ctx context.Context, userID, sessionID string) error {
	const query = `DELETE FROM import_sessions WHERE id = ? AND user_id = ?`
	res, err := r.exec(ctx, r.db, query, sessionID, userID)
	if err != nil {
		return storageErr(err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return appErr.ErrNotFound
	}
	return nil
}

func scanSessions(rows *sql.Rows) ([]model.ImportSession, error) {
	items := make([]model.ImportSession, 0)
	for rows.Next() {
		var s model.ImportSession
		var status string
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.Name,
			&s.Message,
			&s.RootListID,
			&status,
			&s.FailReason,
			&s.SourceFormat,
			&s.SourceFileKey,
			&s.LastProcessedAt,
			&s.Ctime,
			&s.Mtime,
		); err != nil {
			return nil, err
		}
		s.Status = model.SessionStatus(status)
		items = append(items, s)
	}
	return items, rows.Err()
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr(err)
	}
	return n > 0, nil
}
