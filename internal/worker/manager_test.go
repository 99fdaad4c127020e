package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/bkimport/internal/model"
)

func TestManagerDrivesRunningSessions(t *testing.T) {
	e := newEnv(t)
	first := e.runningSession(t, link("https://example.com/a"), link("https://example.com/b"))
	second := e.runningSession(t, link("https://example.com/c"))

	m := NewManager(e.sessions, e.runner(nil), 20*time.Millisecond, 1)
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool {
		for _, id := range []string{first.ID, second.ID} {
			s, err := e.sessions.Get(context.Background(), id)
			if err != nil || s.Status != model.SessionCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	n, err := e.bookmarks.CountByUser(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestManagerRespectsSlots(t *testing.T) {
	e := newEnv(t)
	m := NewManager(e.sessions, e.runner(nil), time.Hour, 2)
	require.True(t, m.claimSlot("a"))
	require.False(t, m.claimSlot("a"))
	require.True(t, m.claimSlot("b"))
	require.False(t, m.claimSlot("c"))
	assert.Equal(t, 2, m.Active())
	m.releaseSlot("a")
	require.True(t, m.claimSlot("c"))
}
