package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/bkimport/internal/model"
	"github.com/xxxsen/bkimport/internal/pkg/dbutil"
	appErr "github.com/xxxsen/bkimport/internal/pkg/errors"
)

const insertChunkSize = 200

var entryColumns = []string{
	"id", "import_session_id", "position", "type", "url", "title", "content", "note",
	"tags_json", "list_ids_json", "source_added_at", "status", "processing_started_at",
	"lease_token", "attempts", "last_error", "result", "result_reason", "result_bookmark_id",
	"ctime", "completed_at",
}

var entryColumnList = strings.Join(entryColumns, ", ")

type StagingEntryRepo struct {
	base
}

func NewStagingEntryRepo(db *sql.DB, dialect dbutil.Dialect) *StagingEntryRepo {
	return &StagingEntryRepo{base: base{db: db, dialect: dialect}}
}

// ClaimRequest describes one claim call. Entries that are pending, or that
// have been processing since before LeaseCutoff, are eligible.
type ClaimRequest struct {
	SessionID   string
	Limit       int
	Now         int64
	LeaseCutoff int64
	LeaseToken  string
}

// InsertBatch appends entries to a session that is still staging. Positions
// continue after the highest existing one. The whole call is one transaction.
func (r *StagingEntryRepo) InsertBatch(ctx context.Context, sessionID string, entries []model.StagingEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		lockQuery := "SELECT status FROM import_sessions WHERE id = ?"
		if r.dialect == dbutil.DialectPostgres {
			lockQuery += " FOR UPDATE"
		}
		query, args := r.q(lockQuery, sessionID)
		var status string
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&status); err != nil {
			return err
		}
		if model.SessionStatus(status) != model.SessionStaging {
			return appErr.ErrInvalidSessionState
		}
		query, args = r.q("SELECT COALESCE(MAX(position), -1) FROM import_staging_bookmarks WHERE import_session_id = ?", sessionID)
		var maxPos int
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&maxPos); err != nil {
			return err
		}
		for start := 0; start < len(entries); start += insertChunkSize {
			end := start + insertChunkSize
			if end > len(entries) {
				end = len(entries)
			}
			data := make([]map[string]interface{}, 0, end-start)
			for i := start; i < end; i++ {
				e := &entries[i]
				e.SessionID = sessionID
				e.Position = maxPos + 1 + i
				e.Status = model.EntryPending
				row, err := entryInsertRow(e)
				if err != nil {
					return err
				}
				data = append(data, row)
			}
			sqlStr, args, err := builder.BuildInsert("import_staging_bookmarks", data)
			if err != nil {
				return err
			}
			if _, err := r.exec(ctx, tx, sqlStr, args...); err != nil {
				return err
			}
		}
		return nil
	})
	return storageErr(err)
}

func entryInsertRow(e *model.StagingEntry) (map[string]interface{}, error) {
	tagsJSON, err := marshalStrings(e.Tags)
	if err != nil {
		return nil, err
	}
	listsJSON, err := marshalStrings(e.ListIDs)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"id":                e.ID,
		"import_session_id": e.SessionID,
		"position":          e.Position,
		"type":              string(e.Type),
		"url":               e.URL,
		"title":             e.Title,
		"content":           e.Content,
		"note":              e.Note,
		"tags_json":         tagsJSON,
		"list_ids_json":     listsJSON,
		"source_added_at":   e.SourceAddedAt,
		"status":            string(e.Status),
		"ctime":             e.Ctime,
	}, nil
}

// ClaimBatch leases up to req.Limit entries of one session in FIFO order. The
// selection and the status flip happen in a single UPDATE; on Postgres the
// subquery skips rows locked by a concurrent claimer, on SQLite the
// immediate transaction serializes claimers.
func (r *StagingEntryRepo) ClaimBatch(ctx context.Context, req ClaimRequest) ([]model.StagingEntry, error) {
	if req.Limit <= 0 {
		return nil, nil
	}
	query := `
		UPDATE import_staging_bookmarks
		SET status = ?, processing_started_at = ?, lease_token = ?, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM import_staging_bookmarks
			WHERE import_session_id = ?
			AND (status = ? OR (status = ? AND processing_started_at < ?))
			ORDER BY ctime ASC, position ASC
			LIMIT ?` + r.dialect.ForUpdate() + `
		)
		AND (status = ? OR (status = ? AND processing_started_at < ?))
		RETURNING ` + entryColumnList
	pending, processing := string(model.EntryPending), string(model.EntryProcessing)
	var claimed []model.StagingEntry
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		q, args := r.q(query,
			processing, req.Now, req.LeaseToken,
			req.SessionID, pending, processing, req.LeaseCutoff,
			req.Limit,
			pending, processing, req.LeaseCutoff,
		)
		rows, err := tx.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		items, err := scanEntries(rows)
		if err != nil {
			return err
		}
		claimed = items
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}
	sort.Slice(claimed, func(i, j int) bool {
		if claimed[i].Ctime != claimed[j].Ctime {
			return claimed[i].Ctime < claimed[j].Ctime
		}
		return claimed[i].Position < claimed[j].Position
	})
	return claimed, nil
}

// RecordOutcome finalizes an entry still held under leaseToken. Accepted
// outcomes also link the bookmark to the session. A lost lease yields
// ErrLeaseConflict and nothing is written.
func (r *StagingEntryRepo) RecordOutcome(ctx context.Context, entryID, leaseToken string, outcome model.Outcome, now int64) error {
	if err := outcome.Validate(); err != nil {
		return appErr.ErrInvalidTransition
	}
	resultReason, lastError := outcome.Reason, ""
	if outcome.Status == model.EntryFailed {
		resultReason, lastError = "", outcome.Reason
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		const update = `
			UPDATE import_staging_bookmarks
			SET status = ?, result = ?, result_reason = ?, result_bookmark_id = ?, completed_at = ?,
				last_error = CASE WHEN ? = '' THEN last_error ELSE ? END
			WHERE id = ? AND status = ? AND lease_token = ?
		`
		res, err := r.exec(ctx, tx, update,
			string(outcome.Status), string(outcome.Result), resultReason, nullString(outcome.BookmarkID), now,
			lastError, lastError,
			entryID, string(model.EntryProcessing), leaseToken,
		)
		if err != nil {
			return err
		}
		ok, err := affected(res)
		if err != nil {
			return err
		}
		if !ok {
			return appErr.ErrLeaseConflict
		}
		if outcome.Result != model.ResultAccepted {
			return nil
		}
		query, args := r.q("SELECT import_session_id FROM import_staging_bookmarks WHERE id = ?", entryID)
		var sessionID string
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&sessionID); err != nil {
			return err
		}
		const link = `
			INSERT INTO import_session_bookmarks (id, import_session_id, bookmark_id, ctime)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (import_session_id, bookmark_id) DO NOTHING
		`
		_, err = r.exec(ctx, tx, link, entryID, sessionID, outcome.BookmarkID, now)
		return err
	})
	return storageErr(err)
}

// Release hands a leased entry back to pending for another attempt.
func (r *StagingEntryRepo) Release(ctx context.Context, entryID, leaseToken, lastError string) error {
	const query = `
		UPDATE import_staging_bookmarks
		SET status = ?, processing_started_at = 0, lease_token = '', last_error = ?
		WHERE id = ? AND status = ? AND lease_token = ?
	`
	res, err := r.exec(ctx, r.db, query, string(model.EntryPending), lastError, entryID, string(model.EntryProcessing), leaseToken)
	if err != nil {
		return storageErr(err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return appErr.ErrLeaseConflict
	}
	return nil
}

func (r *StagingEntryRepo) CountByStatus(ctx context.Context, sessionID string) (model.StatusCounts, error) {
	var counts model.StatusCounts
	query, args := r.q(`
		SELECT status, result, COUNT(1) FROM import_staging_bookmarks
		WHERE import_session_id = ?
		GROUP BY status, result
	`, sessionID)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return counts, storageErr(err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var status, result string
		var n int64
		if err := rows.Scan(&status, &result, &n); err != nil {
			return counts, storageErr(err)
		}
		switch model.EntryStatus(status) {
		case model.EntryPending:
			counts.Pending += n
		case model.EntryProcessing:
			counts.Processing += n
		case model.EntryCompleted:
			counts.Completed += n
		case model.EntryFailed:
			counts.Failed += n
		}
		switch model.EntryResult(result) {
		case model.ResultAccepted:
			counts.Accepted += n
		case model.ResultRejected:
			counts.Rejected += n
		case model.ResultSkippedDuplicate:
			counts.SkippedDuplicate += n
		}
	}
	return counts, storageErr(rows.Err())
}

func (r *StagingEntryRepo) Get(ctx context.Context, entryID string) (*model.StagingEntry, error) {
	where := map[string]interface{}{"id": entryID, "_limit": []uint{0, 1}}
	items, err := r.list(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &items[0], nil
}

func (r *StagingEntryRepo) ListBySession(ctx context.Context, sessionID string, status model.EntryStatus, limit, offset int) ([]model.StagingEntry, error) {
	where := map[string]interface{}{"import_session_id": sessionID, "_orderby": "position asc"}
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

func (r *StagingEntryRepo) list(ctx context.Context, where map[string]interface{}) ([]model.StagingEntry, error) {
	sqlStr, args, err := builder.BuildSelect("import_staging_bookmarks", where, entryColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.q(sqlStr, args...)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()
	items, err := scanEntries(rows)
	return items, storageErr(err)
}

func scanEntries(rows *sql.Rows) ([]model.StagingEntry, error) {
	items := make([]model.StagingEntry, 0)
	for rows.Next() {
		var e model.StagingEntry
		var kind, status, result, tagsJSON, listsJSON string
		var bookmarkID sql.NullString
		if err := rows.Scan(
			&e.ID,
			&e.SessionID,
			&e.Position,
			&kind,
			&e.URL,
			&e.Title,
			&e.Content,
			&e.Note,
			&tagsJSON,
			&listsJSON,
			&e.SourceAddedAt,
			&status,
			&e.ProcessingStartedAt,
			&e.LeaseToken,
			&e.Attempts,
			&e.LastError,
			&result,
			&e.ResultReason,
			&bookmarkID,
			&e.Ctime,
			&e.CompletedAt,
		); err != nil {
			return nil, err
		}
		e.Type = model.CandidateKind(kind)
		e.Status = model.EntryStatus(status)
		e.Result = model.EntryResult(result)
		e.ResultBookmarkID = bookmarkID.String
		if err := unmarshalStrings(tagsJSON, &e.Tags); err != nil {
			return nil, err
		}
		if err := unmarshalStrings(listsJSON, &e.ListIDs); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func marshalStrings(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalStrings(raw string, dst *[]string) error {
	if raw == "" || raw == "[]" || raw == "null" {
		*dst = nil
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}
