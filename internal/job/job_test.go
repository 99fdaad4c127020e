package job

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/bkimport/internal/config"
	"github.com/xxxsen/bkimport/internal/filestore"
	"github.com/xxxsen/bkimport/internal/model"
	appErr "github.com/xxxsen/bkimport/internal/pkg/errors"
	"github.com/xxxsen/bkimport/internal/repo"
	"github.com/xxxsen/bkimport/internal/testutil"
)

func createSession(t *testing.T, sessions *repo.ImportSessionRepo, id string, status model.SessionStatus, mtime int64) {
	t.Helper()
	require.NoError(t, sessions.Create(context.Background(), &model.ImportSession{
		ID:     id,
		UserID: "user-1",
		Name:   id,
		Status: status,
		Ctime:  mtime,
		Mtime:  mtime,
	}))
}

func TestImportCleanupJob(t *testing.T) {
	db, dialect, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	sessions := repo.NewImportSessionRepo(db, dialect)
	store, err := filestore.New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": t.TempDir()}})
	require.NoError(t, err)

	day := int64(24 * time.Hour / time.Millisecond)
	now := 100 * day
	createSession(t, sessions, "old-done", model.SessionCompleted, now-40*day)
	createSession(t, sessions, "old-failed", model.SessionFailed, now-31*day)
	createSession(t, sessions, "recent-done", model.SessionCompleted, now-day)
	createSession(t, sessions, "old-running", model.SessionRunning, now-60*day)

	body := []byte("<a href=\"https://go.dev\">Go</a>")
	require.NoError(t, store.Save(ctx, "import_old-done.html", bytes.NewReader(body), int64(len(body))))
	require.NoError(t, sessions.UpdateSource(ctx, "old-done", "netscape", "import_old-done.html", now-40*day))

	j := NewImportCleanupJob(sessions, store, 30*24*time.Hour)
	j.now = func() int64 { return now }
	require.Equal(t, "import_cleanup", j.Name())
	require.NoError(t, j.Run(ctx))

	for _, id := range []string{"old-done", "old-failed"} {
		_, err := sessions.Get(ctx, id)
		require.ErrorIs(t, err, appErr.ErrNotFound, id)
	}
	for _, id := range []string{"recent-done", "old-running"} {
		_, err := sessions.Get(ctx, id)
		require.NoError(t, err, id)
	}
	_, err = store.Open(ctx, "import_old-done.html")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	require.NoError(t, j.Run(ctx))
}

func TestStaleSessionWatchdogJob(t *testing.T) {
	db, dialect, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	sessions := repo.NewImportSessionRepo(db, dialect)

	now := int64(10_000_000)
	createSession(t, sessions, "stuck", model.SessionRunning, now-int64(time.Hour/time.Millisecond))
	createSession(t, sessions, "busy", model.SessionRunning, now-int64(time.Hour/time.Millisecond))
	require.NoError(t, sessions.TouchProgress(ctx, "busy", now-1000))
	createSession(t, sessions, "paused", model.SessionPaused, now-int64(time.Hour/time.Millisecond))

	j := NewStaleSessionWatchdogJob(sessions, 15*time.Minute)
	j.now = func() int64 { return now }
	require.NoError(t, j.Run(ctx))
	require.Equal(t, []string{"stuck"}, j.LastStale())
}
