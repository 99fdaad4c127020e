package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/bkimport/internal/model"
	"github.com/xxxsen/bkimport/internal/pkg/timeutil"
)

type staleSessionStore interface {
	ListStale(ctx context.Context, status model.SessionStatus, cutoff int64) ([]model.ImportSession, error)
}

// StaleSessionWatchdogJob reports running sessions that have not recorded
// progress within the threshold. It only logs; a live worker will pick the
// session up again through lease reclaim.
type StaleSessionWatchdogJob struct {
	sessions  staleSessionStore
	threshold time.Duration
	now       func() int64
	lastStale []string
}

func NewStaleSessionWatchdogJob(sessions staleSessionStore, threshold time.Duration) *StaleSessionWatchdogJob {
	return &StaleSessionWatchdogJob{sessions: sessions, threshold: threshold, now: timeutil.NowUnixMilli}
}

func (j *StaleSessionWatchdogJob) Name() string {
	return "stale_session_watchdog"
}

func (j *StaleSessionWatchdogJob) Run(ctx context.Context) error {
	threshold := j.threshold
	if threshold <= 0 {
		threshold = 15 * time.Minute
	}
	now := j.now()
	items, err := j.sessions.ListStale(ctx, model.SessionRunning, timeutil.Before(now, threshold))
	if err != nil {
		return err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("job", j.Name()))
	stale := make([]string, 0, len(items))
	for _, s := range items {
		last := s.LastProcessedAt
		if last == 0 {
			last = s.Mtime
		}
		logger.Warn("import session made no progress",
			zap.String("session_id", s.ID),
			zap.String("user_id", s.UserID),
			zap.Duration("idle", time.Duration(now-last)*time.Millisecond),
		)
		stale = append(stale, s.ID)
	}
	j.lastStale = stale
	return nil
}

// LastStale returns the session ids reported by the most recent run.
func (j *StaleSessionWatchdogJob) LastStale() []string {
	return j.lastStale
}
