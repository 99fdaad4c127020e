package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/bkimport/internal/model"
	appErr "github.com/xxxsen/bkimport/internal/pkg/errors"
	"github.com/xxxsen/bkimport/internal/pkg/timeutil"
	"github.com/xxxsen/bkimport/internal/repo"
	"github.com/xxxsen/bkimport/internal/service"
)

const recordTimeout = 10 * time.Second

type EntryProcessor interface {
	Process(ctx context.Context, session *model.ImportSession, entry *model.StagingEntry) service.Decision
}

type Config struct {
	BatchSize    int
	Concurrency  int
	LeaseTimeout time.Duration
	Backoff      time.Duration
	MaxAttempts  int
}

type StepResult int

const (
	// StepProcessed means a batch was claimed and every entry got an outcome
	// or was released.
	StepProcessed StepResult = iota
	// StepWaiting means nothing was claimable but entries are still leased by
	// someone else.
	StepWaiting
	StepCompleted
	// StepStopped means the session left running while the step was deciding.
	StepStopped
)

type Runner struct {
	sessions  *repo.ImportSessionRepo
	entries   *repo.StagingEntryRepo
	processor EntryProcessor
	cfg       Config
	now       func() int64
}

func NewRunner(sessions *repo.ImportSessionRepo, entries *repo.StagingEntryRepo, processor EntryProcessor, cfg Config) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 5 * time.Minute
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Runner{
		sessions:  sessions,
		entries:   entries,
		processor: processor,
		cfg:       cfg,
		now:       timeutil.NowUnixMilli,
	}
}

// Run drives one session while it is running. It returns nil once the session
// completes or leaves running, and ctx.Err() when cancelled. Storage failures
// are retried after a backoff.
func (r *Runner) Run(ctx context.Context, sessionID string) error {
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sessionID))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		session, err := r.sessions.Get(ctx, sessionID)
		if err != nil {
			if appErr.IsNotFound(err) {
				return nil
			}
			logger.Warn("load import session failed", zap.Error(err))
			if !sleep(ctx, r.cfg.Backoff) {
				return ctx.Err()
			}
			continue
		}
		if session.Status != model.SessionRunning {
			logger.Info("import session is not running, stop", zap.String("status", string(session.Status)))
			return nil
		}
		res, err := r.Step(ctx, session)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("import step failed, backing off", zap.Error(err))
			if !sleep(ctx, r.cfg.Backoff) {
				return ctx.Err()
			}
			continue
		}
		switch res {
		case StepCompleted:
			logger.Info("import session completed")
			return nil
		case StepWaiting:
			if !sleep(ctx, r.cfg.Backoff) {
				return ctx.Err()
			}
		}
	}
}

// Step claims one batch of the session and processes it. Storage errors are
// returned; per-entry failures are recorded on the entries and never abort
// siblings.
func (r *Runner) Step(ctx context.Context, session *model.ImportSession) (StepResult, error) {
	now := r.now()
	token := uuid.NewString()
	claimed, err := r.entries.ClaimBatch(ctx, repo.ClaimRequest{
		SessionID:   session.ID,
		Limit:       r.cfg.BatchSize,
		Now:         now,
		LeaseCutoff: timeutil.Before(now, r.cfg.LeaseTimeout),
		LeaseToken:  token,
	})
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}
	if len(claimed) == 0 {
		return r.settle(ctx, session)
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		failure error
	)
	g.SetLimit(r.cfg.Concurrency)
	for i := range claimed {
		entry := &claimed[i]
		g.Go(func() error {
			if err := r.handle(ctx, session, entry, token); err != nil {
				mu.Lock()
				if failure == nil {
					failure = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return StepProcessed, failure
}

func (r *Runner) settle(ctx context.Context, session *model.ImportSession) (StepResult, error) {
	counts, err := r.entries.CountByStatus(ctx, session.ID)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	if counts.Remaining() > 0 {
		return StepWaiting, nil
	}
	ok, err := r.sessions.CompleteIfDrained(ctx, session.ID, r.now())
	if err != nil {
		return 0, fmt.Errorf("complete session: %w", err)
	}
	if !ok {
		return StepStopped, nil
	}
	logutil.GetLogger(ctx).Info("import session drained",
		zap.String("session_id", session.ID),
		zap.Int64("accepted", counts.Accepted),
		zap.Int64("rejected", counts.Rejected),
		zap.Int64("skipped_duplicate", counts.SkippedDuplicate),
		zap.Int64("failed", counts.Failed),
	)
	return StepCompleted, nil
}

// handle runs one leased entry to an outcome. The returned error is a storage
// failure while writing the result; lease conflicts are logged and dropped.
func (r *Runner) handle(ctx context.Context, session *model.ImportSession, entry *model.StagingEntry, token string) error {
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", session.ID), zap.String("entry_id", entry.ID))

	var decision service.Decision
	if entry.Attempts > r.cfg.MaxAttempts {
		decision = service.Decision{Outcome: model.Outcome{
			Status: model.EntryFailed,
			Reason: fmt.Sprintf("lease expired %d times: %s", entry.Attempts-1, entry.LastError),
		}}
	} else {
		decision = r.process(ctx, session, entry)
	}

	// Results are written even when ctx is being cancelled so a shutdown
	// releases its leases instead of waiting for them to expire.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	var err error
	switch {
	case decision.Retry && entry.Attempts < r.cfg.MaxAttempts:
		err = r.entries.Release(wctx, entry.ID, token, appErr.Cause(decision.Err))
	case decision.Retry:
		err = r.entries.RecordOutcome(wctx, entry.ID, token, model.Outcome{
			Status: model.EntryFailed,
			Reason: fmt.Sprintf("retry budget exhausted after %d attempts: %s", entry.Attempts, appErr.Cause(decision.Err)),
		}, r.now())
	default:
		err = r.entries.RecordOutcome(wctx, entry.ID, token, decision.Outcome, r.now())
	}
	if err != nil {
		if appErr.IsLeaseConflict(err) {
			logger.Warn("lease lost before result was written, dropping result")
			return nil
		}
		if appErr.IsStorage(err) {
			return err
		}
		logger.Error("record entry outcome failed", zap.Error(err))
		return nil
	}
	if err := r.sessions.TouchProgress(wctx, session.ID, r.now()); err != nil {
		logger.Warn("touch session progress failed", zap.Error(err))
	}
	return nil
}

func (r *Runner) process(ctx context.Context, session *model.ImportSession, entry *model.StagingEntry) (decision service.Decision) {
	defer func() {
		if p := recover(); p != nil {
			logutil.GetLogger(ctx).Error("processor panic", zap.String("entry_id", entry.ID), zap.Any("panic", p))
			decision = service.Decision{Retry: true, Err: fmt.Errorf("processor panic: %v", p)}
		}
	}()
	return r.processor.Process(ctx, session, entry)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
