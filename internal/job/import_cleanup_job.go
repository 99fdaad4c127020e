package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/bkimport/internal/filestore"
	"github.com/xxxsen/bkimport/internal/model"
	"github.com/xxxsen/bkimport/internal/pkg/timeutil"
)

const cleanupBatch = 100

type terminalSessionStore interface {
	ListTerminalBefore(ctx context.Context, cutoff int64, limit int) ([]model.ImportSession, error)
	Delete(ctx context.Context, userID, sessionID string) error
}

// ImportCleanupJob removes completed and failed sessions older than the
// retention window, together with their staged entries and archived upload.
type ImportCleanupJob struct {
	sessions terminalSessionStore
	files    filestore.Store
	maxAge   time.Duration
	now      func() int64
}

func NewImportCleanupJob(sessions terminalSessionStore, files filestore.Store, maxAge time.Duration) *ImportCleanupJob {
	return &ImportCleanupJob{sessions: sessions, files: files, maxAge: maxAge, now: timeutil.NowUnixMilli}
}

func (j *ImportCleanupJob) Name() string {
	return "import_cleanup"
}

func (j *ImportCleanupJob) Run(ctx context.Context) error {
	if j.sessions == nil {
		return nil
	}
	maxAge := j.maxAge
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	cutoff := timeutil.Before(j.now(), maxAge)
	logger := logutil.GetLogger(ctx).With(zap.String("job", j.Name()))
	removed := 0
	for {
		items, err := j.sessions.ListTerminalBefore(ctx, cutoff, cleanupBatch)
		if err != nil {
			return err
		}
		for _, s := range items {
			if s.SourceFileKey != "" && j.files != nil {
				if err := j.files.Delete(ctx, s.SourceFileKey); err != nil {
					logger.Warn("delete archived upload failed", zap.String("session_id", s.ID), zap.Error(err))
				}
			}
			if err := j.sessions.Delete(ctx, s.UserID, s.ID); err != nil {
				return err
			}
			removed++
		}
		if len(items) < cleanupBatch {
			break
		}
	}
	if removed > 0 {
		logger.Info("import sessions removed", zap.Int("count", removed))
	}
	return nil
}
