package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/bkimport/internal/model"
	"github.com/xxxsen/bkimport/internal/pkg/dbutil"
)

type BookmarkListRepo struct {
	base
}

func NewBookmarkListRepo(db *sql.DB, dialect dbutil.Dialect) *BookmarkListRepo {
	return &BookmarkListRepo{base: base{db: db, dialect: dialect}}
}

func (r *BookmarkListRepo) Create(ctx context.Context, list *model.BookmarkList) error {
	data := map[string]interface{}{
		"id":        list.ID,
		"user_id":   list.UserID,
		"name":      list.Name,
		"parent_id": nullString(list.ParentID),
		"ctime":     list.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("bookmark_lists", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, r.db, sqlStr, args...)
	return storageErr(err)
}

func (r *BookmarkListRepo) Get(ctx context.Context, userID, listID string) (*model.BookmarkList, error) {
	query, args := r.q("SELECT id, user_id, name, COALESCE(parent_id, ''), ctime FROM bookmark_lists WHERE id = ? AND user_id = ?", listID, userID)
	var list model.BookmarkList
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&list.ID, &list.UserID, &list.Name, &list.ParentID, &list.Ctime); err != nil {
		return nil, storageErr(err)
	}
	return &list, nil
}

// AddBookmark is idempotent: re-adding an existing membership is a no-op.
func (r *BookmarkListRepo) AddBookmark(ctx context.Context, listID, bookmarkID string, now int64) error {
	const query = `
		INSERT INTO bookmarks_in_lists (bookmark_id, list_id, ctime)
		VALUES (?, ?, ?)
		ON CONFLICT (bookmark_id, list_id) DO NOTHING
	`
	_, err := r.exec(ctx, r.db, query, bookmarkID, listID, now)
	return storageErr(err)
}

func (r *BookmarkListRepo) ListBookmarkIDs(ctx context.Context, listID string) ([]string, error) {
	query, args := r.q("SELECT bookmark_id FROM bookmarks_in_lists WHERE list_id = ? ORDER BY ctime ASC, bookmark_id ASC", listID)
	rows, err := r.db.QueryContext(ctx, query, args...)
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
