package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/bkimport/internal/model"
)

func TestRenderProgress(t *testing.T) {
	out := renderProgress(&model.SessionProgress{
		Session: &model.ImportSession{ID: "s1", Name: "bookmarks.html", Status: model.SessionFailed, FailReason: "parse failed"},
		Counts:  model.StatusCounts{Pending: 2, Completed: 3, Accepted: 2, SkippedDuplicate: 1},
		Percent: 60,
	})
	require.Contains(t, out, "bookmarks.html")
	require.Contains(t, out, "60%")
	require.Contains(t, out, "Skipped (duplicate)")
	require.Contains(t, out, "parse failed")
}

func TestRenderSessions(t *testing.T) {
	out := renderSessions([]model.ImportSession{
		{ID: "s1", UserID: "u1", Name: "first", Status: model.SessionRunning},
		{ID: "s2", UserID: "u2", Name: "second", Status: model.SessionRunning, LastProcessedAt: 1700000000000},
	})
	require.Contains(t, out, "s1")
	require.Contains(t, out, "second")
	require.Contains(t, out, "running")
	require.Equal(t, "-", formatMillis(0))
}
