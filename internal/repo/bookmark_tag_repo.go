package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/bkimport/internal/model"
	"github.com/xxxsen/bkimport/internal/pkg/dbutil"
)

type BookmarkTagRepo struct {
	base
}

func NewBookmarkTagRepo(db *sql.DB, dialect dbutil.Dialect) *BookmarkTagRepo {
	return &BookmarkTagRepo{base: base{db: db, dialect: dialect}}
}

func (r *BookmarkTagRepo) ListByNames(ctx context.Context, userID string, names []string) ([]model.BookmarkTag, error) {
	if len(names) == 0 {
		return []model.BookmarkTag{}, nil
	}
	where := map[string]interface{}{"user_id": userID, "name in": toInterfaces(names)}
	sqlStr, args, err := builder.BuildSelect("bookmark_tags", where, []string{"id", "user_id", "name", "normalized_name", "ctime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.q(sqlStr, args...)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()
	tags := make([]model.BookmarkTag, 0, len(names))
	for rows.Next() {
		var tag model.BookmarkTag
		if err := rows.Scan(&tag.ID, &tag.UserID, &tag.Name, &tag.NormalizedName, &tag.Ctime); err != nil {
			return nil, storageErr(err)
		}
		tags = append(tags, tag)
	}
	return tags, storageErr(rows.Err())
}

// CreateIgnoreExisting inserts tags, skipping names the user already has.
func (r *BookmarkTagRepo) CreateIgnoreExisting(ctx context.Context, tags []model.BookmarkTag) error {
	if len(tags) == 0 {
		return nil
	}
	const query = `
		INSERT INTO bookmark_tags (id, user_id, name, normalized_name, ctime)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, name) DO NOTHING
	`
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		for _, tag := range tags {
			if _, err := r.exec(ctx, tx, query, tag.ID, tag.UserID, tag.Name, tag.NormalizedName, tag.Ctime); err != nil {
				return err
			}
		}
		return nil
	})
	return storageErr(err)
}

func (r *BookmarkTagRepo) Attach(ctx context.Context, bookmarkID string, tagIDs []string, attachedBy string, now int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	const query = `
		INSERT INTO tags_on_bookmarks (bookmark_id, tag_id, attached_by, ctime)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (bookmark_id, tag_id) DO NOTHING
	`
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		for _, tagID := range tagIDs {
			if _, err := r.exec(ctx, tx, query, bookmarkID, tagID, attachedBy, now); err != nil {
				return err
			}
		}
		return nil
	})
	return storageErr(err)
}

func (r *BookmarkTagRepo) ListNamesByBookmark(ctx context.Context, bookmarkID string) ([]string, error) {
	query, args := r.q(`
		SELECT t.name FROM tags_on_bookmarks tb JOIN bookmark_tags t ON t.id = tb.tag_id
		WHERE tb.bookmark_id = ? ORDER BY t.name ASC`, bookmarkID)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storageErr(err)
		}
		names = append(names, name)
	}
	return names, storageErr(rows.Err())
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}
