package worker

import (
	"context"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xxxsen/bkimport/internal/model"
	"github.com/xxxsen/bkimport/internal/repo"
)

// Manager polls for running sessions and drives each with a Runner. Several
// managers, in one process or many, may share a database.
type Manager struct {
	sessions     *repo.ImportSessionRepo
	runner       *Runner
	pollInterval time.Duration
	maxSessions  int
	slots        *semaphore.Weighted

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewManager(sessions *repo.ImportSessionRepo, runner *Runner, pollInterval time.Duration, maxSessions int) *Manager {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if maxSessions <= 0 {
		maxSessions = 1
	}
	return &Manager{
		sessions:     sessions,
		runner:       runner,
		pollInterval: pollInterval,
		maxSessions:  maxSessions,
		slots:        semaphore.NewWeighted(int64(maxSessions)),
		active:       make(map[string]struct{}),
	}
}

func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()
		for {
			m.Poll(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	logutil.GetLogger(ctx).Info("import worker started",
		zap.Duration("poll_interval", m.pollInterval), zap.Int("max_sessions", m.maxSessions))
}

// Stop cancels all runners and waits for them; in-flight entries release
// their leases on the way out.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Poll starts a runner for every running session not yet handled here, as
// long as a slot is free. It returns how many runners were started.
func (m *Manager) Poll(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	sessions, err := m.sessions.ListByStatus(ctx, model.SessionRunning, m.maxSessions*4)
	if err != nil {
		logutil.GetLogger(ctx).Warn("list running import sessions failed", zap.Error(err))
		return 0
	}
	started := 0
	for _, s := range sessions {
		if !m.claimSlot(s.ID) {
			continue
		}
		started++
		m.wg.Add(1)
		go func(sessionID string) {
			defer m.wg.Done()
			defer m.releaseSlot(sessionID)
			if err := m.runner.Run(ctx, sessionID); err != nil && ctx.Err() == nil {
				logutil.GetLogger(ctx).Error("import runner exited", zap.String("session_id", sessionID), zap.Error(err))
			}
		}(s.ID)
	}
	return started
}

func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) claimSlot(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[sessionID]; ok {
		return false
	}
	if !m.slots.TryAcquire(1) {
		return false
	}
	m.active[sessionID] = struct{}{}
	return true
}

func (m *Manager) releaseSlot(sessionID string) {
	m.mu.Lock()
	delete(m.active, sessionID)
	m.mu.Unlock()
	m.slots.Release(1)
}
