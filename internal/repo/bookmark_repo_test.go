package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/bkimport/internal/model"
	appErr "github.com/xxxsen/bkimport/internal/pkg/errors"
	"github.com/xxxsen/bkimport/internal/repo"
	"github.com/xxxsen/bkimport/internal/testutil"
)

func TestBookmarkRepoIdempotencyAndLookup(t *testing.T) {
	db, dialect, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	marks := repo.NewBookmarkRepo(db, dialect)

	b := &model.Bookmark{
		ID:             "b1",
		UserID:         "user-1",
		Type:           model.KindLink,
		Title:          "Go",
		URL:            "https://go.dev/doc/",
		Source:         model.BookmarkSourceImport,
		IdempotencyKey: "entry-1",
		Ctime:          1,
		Mtime:          1,
	}
	id, status, err := marks.Create(ctx, b, "https://go.dev/doc")
	require.NoError(t, err)
	require.Equal(t, "b1", id)
	require.Equal(t, repo.CreateInserted, status)

	replay := *b
	replay.ID = "b2"
	id, status, err = marks.Create(ctx, &replay, "https://go.dev/doc")
	require.NoError(t, err)
	require.Equal(t, "b1", id)
	require.Equal(t, repo.CreateReplayed, status)

	dup := *b
	dup.ID = "b3"
	dup.IdempotencyKey = "entry-2"
	id, status, err = marks.Create(ctx, &dup, "https://go.dev/doc")
	require.NoError(t, err)
	require.Equal(t, "b1", id)
	require.Equal(t, repo.CreateDuplicate, status)

	got, err := marks.GetByIdempotencyKey(ctx, "entry-1")
	require.NoError(t, err)
	require.Equal(t, "b1", got.ID)
	require.Equal(t, "https://go.dev/doc/", got.URL)

	id, err = marks.FindLinkByNormalizedURL(ctx, "user-1", "https://go.dev/doc")
	require.NoError(t, err)
	require.Equal(t, "b1", id)

	_, err = marks.FindLinkByNormalizedURL(ctx, "user-2", "https://go.dev/doc")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	require.NoError(t, marks.MarkDeleted(ctx, "user-1", "b1", 2))
	_, err = marks.FindLinkByNormalizedURL(ctx, "user-1", "https://go.dev/doc")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.ErrorIs(t, marks.MarkDeleted(ctx, "user-1", "b1", 3), appErr.ErrNotFound)

	again := *b
	again.ID = "b4"
	again.IdempotencyKey = "entry-3"
	id, status, err = marks.Create(ctx, &again, "https://go.dev/doc")
	require.NoError(t, err)
	require.Equal(t, "b4", id)
	require.Equal(t, repo.CreateInserted, status)
}

func TestBookmarkTagsAndLists(t *testing.T) {
	db, dialect, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	marks := repo.NewBookmarkRepo(db, dialect)
	tags := repo.NewBookmarkTagRepo(db, dialect)
	lists := repo.NewBookmarkListRepo(db, dialect)

	_, _, err := marks.Create(ctx, &model.Bookmark{ID: "b1", UserID: "u", Type: model.KindText, Content: "hello", Source: model.BookmarkSourceImport, Ctime: 1, Mtime: 1}, "")
	require.NoError(t, err)

	require.NoError(t, tags.CreateIgnoreExisting(ctx, []model.BookmarkTag{
		{ID: "t1", UserID: "u", Name: "Go", NormalizedName: "go", Ctime: 1},
		{ID: "t2", UserID: "u", Name: "web", NormalizedName: "web", Ctime: 1},
	}))
	require.NoError(t, tags.CreateIgnoreExisting(ctx, []model.BookmarkTag{{ID: "t3", UserID: "u", Name: "Go", NormalizedName: "go", Ctime: 2}}))

	found, err := tags.ListByNames(ctx, "u", []string{"Go", "web", "missing"})
	require.NoError(t, err)
	require.Len(t, found, 2)

	require.NoError(t, tags.Attach(ctx, "b1", []string{"t1", "t2"}, model.TagAttachedByHuman, 3))
	require.NoError(t, tags.Attach(ctx, "b1", []string{"t1"}, model.TagAttachedByHuman, 4))
	names, err := tags.ListNamesByBookmark(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, []string{"Go", "web"}, names)

	require.NoError(t, lists.Create(ctx, &model.BookmarkList{ID: "l1", UserID: "u", Name: "Imported", Ctime: 1}))
	_, err = lists.Get(ctx, "other", "l1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.NoError(t, lists.AddBookmark(ctx, "l1", "b1", 5))
	require.NoError(t, lists.AddBookmark(ctx, "l1", "b1", 6))
	ids, err := lists.ListBookmarkIDs(ctx, "l1")
	require.NoError(t, err)
	require.Equal(t, []string{"b1"}, ids)
}
