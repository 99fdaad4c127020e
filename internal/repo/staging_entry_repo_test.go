package repo_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/bkimport/internal/model"
	appErr "github.com/xxxsen/bkimport/internal/pkg/errors"
	"github.com/xxxsen/bkimport/internal/repo"
	"github.com/xxxsen/bkimport/internal/testutil"
)

type fixture struct {
	db       *sql.DB
	sessions *repo.ImportSessionRepo
	entries  *repo.StagingEntryRepo
	marks    *repo.BookmarkRepo
}

func newFixture(t *testing.T) (*fixture, func()) {
	t.Helper()
	db, dialect, cleanup := testutil.OpenTestDB(t)
	return &fixture{
		db:       db,
		sessions: repo.NewImportSessionRepo(db, dialect),
		entries:  repo.NewStagingEntryRepo(db, dialect),
		marks:    repo.NewBookmarkRepo(db, dialect),
	}, cleanup
}

func (f *fixture) createSession(t *testing.T, status model.SessionStatus) *model.ImportSession {
	t.Helper()
	s := &model.ImportSession{
		ID:     uuid.NewString(),
		UserID: "user-1",
		Name:   "browser export",
		Status: status,
		Ctime:  1000,
		Mtime:  1000,
	}
	require.NoError(t, f.sessions.Create(context.Background(), s))
	return s
}

func (f *fixture) stage(t *testing.T, sessionID string, n int) []model.StagingEntry {
	t.Helper()
	entries := make([]model.StagingEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, model.StagingEntry{
			ID:    uuid.NewString(),
			Type:  model.KindLink,
			URL:   fmt.Sprintf("https://example.com/%d", i),
			Title: fmt.Sprintf("entry %d", i),
			Tags:  []string{"go"},
			Ctime: 1000,
		})
	}
	require.NoError(t, f.entries.InsertBatch(context.Background(), sessionID, entries))
	return entries
}

func (f *fixture) claim(t *testing.T, sessionID string, limit int, now, cutoff int64) ([]model.StagingEntry, string) {
	t.Helper()
	token := uuid.NewString()
	claimed, err := f.entries.ClaimBatch(context.Background(), repo.ClaimRequest{
		SessionID:   sessionID,
		Limit:       limit,
		Now:         now,
		LeaseCutoff: cutoff,
		LeaseToken:  token,
	})
	require.NoError(t, err)
	return claimed, token
}

func TestInsertBatchRequiresStagingSession(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx := context.Background()

	s := f.createSession(t, model.SessionPending)
	err := f.entries.InsertBatch(ctx, s.ID, []model.StagingEntry{{ID: uuid.NewString(), Type: model.KindLink, Ctime: 1}})
	require.ErrorIs(t, err, appErr.ErrInvalidSessionState)

	err = f.entries.InsertBatch(ctx, "missing", []model.StagingEntry{{ID: uuid.NewString(), Type: model.KindLink, Ctime: 1}})
	require.ErrorIs(t, err, appErr.ErrNotFound)

	counts, err := f.entries.CountByStatus(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), counts.Total())
}

func TestInsertBatchContinuesPositions(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx := context.Background()

	s := f.createSession(t, model.SessionStaging)
	f.stage(t, s.ID, 3)
	f.stage(t, s.ID, 2)

	items, err := f.entries.ListBySession(ctx, s.ID, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 5)
	for i, item := range items {
		require.Equal(t, i, item.Position)
		require.Equal(t, model.EntryPending, item.Status)
		require.Equal(t, []string{"go"}, item.Tags)
	}
}

func TestClaimBatchIsFIFO(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	s := f.createSession(t, model.SessionStaging)
	staged := f.stage(t, s.ID, 5)

	first, token := f.claim(t, s.ID, 2, 2000, 0)
	require.Len(t, first, 2)
	require.Equal(t, staged[0].ID, first[0].ID)
	require.Equal(t, staged[1].ID, first[1].ID)
	for _, e := range first {
		require.Equal(t, model.EntryProcessing, e.Status)
		require.Equal(t, int64(2000), e.ProcessingStartedAt)
		require.Equal(t, token, e.LeaseToken)
		require.Equal(t, 1, e.Attempts)
	}

	second, _ := f.claim(t, s.ID, 10, 2001, 0)
	require.Len(t, second, 3)
	require.Equal(t, staged[2].ID, second[0].ID)

	none, _ := f.claim(t, s.ID, 10, 2002, 0)
	require.Empty(t, none)
}

func TestClaimBatchReclaimsExpiredLease(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx := context.Background()

	s := f.createSession(t, model.SessionStaging)
	f.stage(t, s.ID, 1)

	claimed, oldToken := f.claim(t, s.ID, 1, 2000, 0)
	require.Len(t, claimed, 1)
	entryID := claimed[0].ID

	stillLeased, _ := f.claim(t, s.ID, 1, 2500, 1999)
	require.Empty(t, stillLeased)

	reclaimed, newToken := f.claim(t, s.ID, 1, 9000, 2001)
	require.Len(t, reclaimed, 1)
	require.Equal(t, entryID, reclaimed[0].ID)
	require.Equal(t, 2, reclaimed[0].Attempts)
	require.NotEqual(t, oldToken, newToken)

	again, _ := f.claim(t, s.ID, 1, 9001, 2001)
	require.Empty(t, again)

	outcome := model.Outcome{Status: model.EntryCompleted, Result: model.ResultRejected, Reason: "late"}
	require.ErrorIs(t, f.entries.RecordOutcome(ctx, entryID, oldToken, outcome, 9100), appErr.ErrLeaseConflict)
	require.ErrorIs(t, f.entries.Release(ctx, entryID, oldToken, "late"), appErr.ErrLeaseConflict)
	require.NoError(t, f.entries.RecordOutcome(ctx, entryID, newToken, outcome, 9100))

	got, err := f.entries.Get(ctx, entryID)
	require.NoError(t, err)
	require.Equal(t, model.EntryCompleted, got.Status)
	require.Equal(t, model.ResultRejected, got.Result)
	require.Equal(t, "late", got.ResultReason)
	require.Equal(t, int64(9100), got.CompletedAt)
}

func TestConcurrentClaimsAreDisjoint(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	s := f.createSession(t, model.SessionStaging)
	const total = 120
	f.stage(t, s.ID, total)

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
		errs = make(chan error, 8)
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := f.entries.ClaimBatch(context.Background(), repo.ClaimRequest{
					SessionID:   s.ID,
					Limit:       5,
					Now:         5000,
					LeaseCutoff: 0,
					LeaseToken:  uuid.NewString(),
				})
				if err != nil {
					errs <- err
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, e := range claimed {
					seen[e.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, seen, total)
	for id, n := range seen {
		require.Equal(t, 1, n, "entry %s claimed %d times", id, n)
	}
}

func TestReleaseAndCounts(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx := context.Background()

	s := f.createSession(t, model.SessionStaging)
	f.stage(t, s.ID, 4)
	claimed, token := f.claim(t, s.ID, 4, 2000, 0)
	require.Len(t, claimed, 4)

	require.NoError(t, f.entries.Release(ctx, claimed[0].ID, token, "timeout"))
	require.NoError(t, f.entries.RecordOutcome(ctx, claimed[1].ID, token,
		model.Outcome{Status: model.EntryCompleted, Result: model.ResultSkippedDuplicate, Reason: "duplicate of b1"}, 2100))
	require.NoError(t, f.entries.RecordOutcome(ctx, claimed[2].ID, token,
		model.Outcome{Status: model.EntryFailed, Reason: "quota exceeded"}, 2100))

	counts, err := f.entries.CountByStatus(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCounts{Pending: 1, Processing: 1, Completed: 1, Failed: 1, SkippedDuplicate: 1}, counts)

	released, err := f.entries.Get(ctx, claimed[0].ID)
	require.NoError(t, err)
	require.Equal(t, model.EntryPending, released.Status)
	require.Equal(t, "timeout", released.LastError)
	require.Zero(t, released.ProcessingStartedAt)
	require.Empty(t, released.LeaseToken)

	failed, err := f.entries.Get(ctx, claimed[2].ID)
	require.NoError(t, err)
	require.Equal(t, model.ResultNone, failed.Result)
	require.Empty(t, failed.ResultReason)
	require.Equal(t, "quota exceeded", failed.LastError)
}

func TestRecordOutcomeRejectsInvalidOutcome(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	s := f.createSession(t, model.SessionStaging)
	f.stage(t, s.ID, 1)
	claimed, token := f.claim(t, s.ID, 1, 2000, 0)
	err := f.entries.RecordOutcome(context.Background(), claimed[0].ID, token, model.Outcome{Status: model.EntryPending}, 2001)
	require.ErrorIs(t, err, appErr.ErrInvalidTransition)
}

func TestAcceptedOutcomeLinksSessionBookmark(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx := context.Background()

	s := f.createSession(t, model.SessionStaging)
	f.stage(t, s.ID, 1)
	claimed, token := f.claim(t, s.ID, 1, 2000, 0)

	b := &model.Bookmark{ID: "b1", UserID: "user-1", Type: model.KindLink, URL: "https://example.com/0", Source: model.BookmarkSourceImport, Ctime: 1, Mtime: 1}
	_, _, err := f.marks.Create(ctx, b, "https://example.com/0")
	require.NoError(t, err)
	require.NoError(t, f.entries.RecordOutcome(ctx, claimed[0].ID, token,
		model.Outcome{Status: model.EntryCompleted, Result: model.ResultAccepted, BookmarkID: "b1"}, 2100))

	ids, err := f.sessions.ListBookmarkIDs(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"b1"}, ids)

	got, err := f.entries.Get(ctx, claimed[0].ID)
	require.NoError(t, err)
	require.Equal(t, "b1", got.ResultBookmarkID)
}
