package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/bkimport/internal/model"
	"github.com/xxxsen/bkimport/internal/pkg/dbutil"
	appErr "github.com/xxxsen/bkimport/internal/pkg/errors"
)

const (
	BookmarkStateNormal  = 0
	BookmarkStateDeleted = 1
)

type BookmarkRepo struct {
	base
}

func NewBookmarkRepo(db *sql.DB, dialect dbutil.Dialect) *BookmarkRepo {
	return &BookmarkRepo{base: base{db: db, dialect: dialect}}
}

type CreateStatus int

const (
	CreateInserted CreateStatus = iota
	// CreateReplayed means the idempotency key was used before; the earlier
	// bookmark id is returned.
	CreateReplayed
	// CreateDuplicate means the user already has a live link with the same
	// normalized url; that bookmark id is returned.
	CreateDuplicate
)

// Create stores the bookmark and, for links, its url row. The idempotency
// check, the duplicate check and the insert share one transaction; Postgres
// additionally takes an advisory lock on (user, url) so concurrent importers
// cannot both insert the same link.
func (r *BookmarkRepo) Create(ctx context.Context, b *model.Bookmark, normalizedURL string) (string, CreateStatus, error) {
	var (
		resultID string
		status   CreateStatus
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if b.IdempotencyKey != "" {
			query, args := r.q("SELECT id FROM bookmarks WHERE idempotency_key = ?", b.IdempotencyKey)
			var existing string
			err := tx.QueryRowContext(ctx, query, args...).Scan(&existing)
			if err == nil {
				resultID, status = existing, CreateReplayed
				return nil
			}
			if err != sql.ErrNoRows {
				return err
			}
		}
		if b.Type == model.KindLink && normalizedURL != "" {
			if r.dialect == dbutil.DialectPostgres {
				query, args := r.q("SELECT pg_advisory_xact_lock(hashtext(?))", b.UserID+"|"+normalizedURL)
				if _, err := tx.ExecContext(ctx, query, args...); err != nil {
					return err
				}
			}
			query, args := r.q(`
				SELECT b.id FROM bookmark_links l JOIN bookmarks b ON b.id = l.bookmark_id
				WHERE l.user_id = ? AND l.normalized_url = ? AND b.deleted = ?
				ORDER BY b.ctime ASC LIMIT 1`, b.UserID, normalizedURL, BookmarkStateNormal)
			var existing string
			err := tx.QueryRowContext(ctx, query, args...).Scan(&existing)
			if err == nil {
				resultID, status = existing, CreateDuplicate
				return nil
			}
			if err != sql.ErrNoRows {
				return err
			}
		}
		data := map[string]interface{}{
			"id":              b.ID,
			"user_id":         b.UserID,
			"type":            string(b.Type),
			"title":           b.Title,
			"content":         b.Content,
			"note":            b.Note,
			"source":          b.Source,
			"idempotency_key": nullString(b.IdempotencyKey),
			"deleted":         BookmarkStateNormal,
			"ctime":           b.Ctime,
			"mtime":           b.Mtime,
		}
		sqlStr, args, err := builder.BuildInsert("bookmarks", []map[string]interface{}{data})
		if err != nil {
			return err
		}
		if _, err := r.exec(ctx, tx, sqlStr, args...); err != nil {
			return err
		}
		resultID, status = b.ID, CreateInserted
		if b.Type != model.KindLink {
			return nil
		}
		link := map[string]interface{}{
			"bookmark_id":    b.ID,
			"user_id":        b.UserID,
			"url":            b.URL,
			"normalized_url": normalizedURL,
		}
		sqlStr, args, err = builder.BuildInsert("bookmark_links", []map[string]interface{}{link})
		if err != nil {
			return err
		}
		_, err = r.exec(ctx, tx, sqlStr, args...)
		return err
	})
	if err != nil {
		return "", 0, storageErr(err)
	}
	return resultID, status, nil
}

func (r *BookmarkRepo) Get(ctx context.Context, userID, bookmarkID string) (*model.Bookmark, error) {
	return r.getOne(ctx, "b.id = ? AND b.user_id = ?", bookmarkID, userID)
}

func (r *BookmarkRepo) GetByIdempotencyKey(ctx context.Context, key string) (*model.Bookmark, error) {
	return r.getOne(ctx, "b.idempotency_key = ?", key)
}

func (r *BookmarkRepo) getOne(ctx context.Context, cond string, args ...interface{}) (*model.Bookmark, error) {
	query, args := r.q(`
		SELECT b.id, b.user_id, b.type, b.title, b.content, b.note, COALESCE(l.url, ''), b.source,
			COALESCE(b.idempotency_key, ''), b.ctime, b.mtime
		FROM bookmarks b LEFT JOIN bookmark_links l ON l.bookmark_id = b.id
		WHERE `+cond+` AND b.deleted = ?`, append(args, BookmarkStateNormal)...)
	var b model.Bookmark
	var kind string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&b.ID, &b.UserID, &kind, &b.Title, &b.Content, &b.Note, &b.URL, &b.Source,
		&b.IdempotencyKey, &b.Ctime, &b.Mtime,
	)
	if err != nil {
		return nil, storageErr(err)
	}
	b.Type = model.CandidateKind(kind)
	return &b, nil
}

// FindLinkByNormalizedURL returns the oldest live bookmark of the user whose
// normalized url matches.
func (r *BookmarkRepo) FindLinkByNormalizedURL(ctx context.Context, userID, normalizedURL string) (string, error) {
	query, args := r.q(`
		SELECT b.id FROM bookmark_links l JOIN bookmarks b ON b.id = l.bookmark_id
		WHERE l.user_id = ? AND l.normalized_url = ? AND b.deleted = ?
		ORDER BY b.ctime ASC LIMIT 1`, userID, normalizedURL, BookmarkStateNormal)
	var id string
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return "", storageErr(err)
	}
	return id, nil
}

func (r *BookmarkRepo) MarkDeleted(ctx context.Context, userID, bookmarkID string, now int64) error {
	where := map[string]interface{}{"id": bookmarkID, "user_id": userID, "deleted": BookmarkStateNormal}
	update := map[string]interface{}{"deleted": BookmarkStateDeleted, "mtime": now}
	sqlStr, args, err := builder.BuildUpdate("bookmarks", where, update)
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

func (r *BookmarkRepo) CountByUser(ctx context.Context, userID string) (int64, error) {
	query, args := r.q("SELECT COUNT(1) FROM bookmarks WHERE user_id = ? AND deleted = ?", userID, BookmarkStateNormal)
	var n int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storageErr(err)
	}
	return n, nil
}
