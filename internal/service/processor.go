package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/bkimport/internal/dedup"
	"github.com/xxxsen/bkimport/internal/model"
	appErr "github.com/xxxsen/bkimport/internal/pkg/errors"
)

// Decision is what the processor concluded for one leased entry. Retry
// means the entry should go back to pending unless its attempt budget is
// spent; Outcome is ignored in that case.
type Decision struct {
	Outcome model.Outcome
	Retry   bool
	Err     error
}

type linkRecorder interface {
	Remember(userID, normalizedURL, bookmarkID string)
}

// ReplayFinder reports the bookmark an idempotency key already produced.
// It returns an ErrNotFound error when the key was never materialized.
type ReplayFinder interface {
	FindByIdempotencyKey(ctx context.Context, userID, key string) (string, error)
}

type Processor struct {
	resolver *dedup.Resolver
	creator  BookmarkCreator
	replays  ReplayFinder
	lists    ListAttacher
	recorder linkRecorder
	timeout  time.Duration
}

type ProcessorOption func(*Processor)

// WithCollaboratorTimeout bounds the creator and list calls of one entry.
func WithCollaboratorTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.timeout = d
	}
}

// WithLinkRecorder feeds accepted links back into a dedup cache.
func WithLinkRecorder(r linkRecorder) ProcessorOption {
	return func(p *Processor) {
		p.recorder = r
	}
}

// WithReplayFinder overrides the replay lookup. By default the creator is
// used when it implements ReplayFinder.
func WithReplayFinder(f ReplayFinder) ProcessorOption {
	return func(p *Processor) {
		p.replays = f
	}
}

func NewProcessor(resolver *dedup.Resolver, creator BookmarkCreator, lists ListAttacher, opts ...ProcessorOption) *Processor {
	p := &Processor{resolver: resolver, creator: creator, lists: lists}
	if f, ok := creator.(ReplayFinder); ok {
		p.replays = f
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) Process(ctx context.Context, session *model.ImportSession, entry *model.StagingEntry) Decision {
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", session.ID), zap.String("entry_id", entry.ID))
	candidate := entry.Candidate()

	if err := validateCandidate(candidate); err != nil {
		return completed(model.ResultRejected, appErr.Cause(err), "")
	}

	// An earlier attempt of this entry may have created the bookmark before
	// failing; dedup would then match the entry's own bookmark.
	replayed, err := p.findReplay(ctx, session.UserID, entry.ID)
	if err != nil {
		logger.Warn("replay lookup failed", zap.Error(err))
		return Decision{Retry: true, Err: err}
	}
	var res dedup.Resolution
	if replayed != "" {
		logger.Debug("replaying materialized entry", zap.String("bookmark_id", replayed))
	} else {
		res, err = p.resolver.Resolve(ctx, session.UserID, candidate)
		if err != nil {
			logger.Warn("dedup lookup failed", zap.Error(err))
			return Decision{Retry: true, Err: err}
		}
		if res.IsDuplicate {
			return completed(model.ResultSkippedDuplicate, "duplicate of bookmark "+res.ExistingBookmarkID, "")
		}
	}

	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	bookmarkID, err := p.creator.Create(callCtx, session.UserID, CreateRequest{
		IdempotencyKey: entry.ID,
		Candidate:      candidate,
		NormalizedURL:  res.NormalizedURL,
	})
	if err != nil {
		var dup *DuplicateError
		if errors.As(err, &dup) {
			return completed(model.ResultSkippedDuplicate, dup.Error(), "")
		}
		return collaboratorFailure(logger, "create bookmark", err)
	}
	if p.recorder != nil && res.NormalizedURL != "" {
		p.recorder.Remember(session.UserID, res.NormalizedURL, bookmarkID)
	}

	var skipped []string
	for _, listID := range targetLists(session.RootListID, candidate.ListIDs) {
		if err := p.lists.Attach(callCtx, session.UserID, bookmarkID, listID); err != nil {
			if appErr.IsPermanent(err) {
				logger.Warn("skip list attach", zap.String("list_id", listID), zap.Error(err))
				skipped = append(skipped, listID)
				continue
			}
			return collaboratorFailure(logger, "attach list", err)
		}
	}
	reason := ""
	if len(skipped) > 0 {
		reason = "lists not attached: " + strings.Join(skipped, ",")
	}
	return completed(model.ResultAccepted, reason, bookmarkID)
}

func (p *Processor) findReplay(ctx context.Context, userID, key string) (string, error) {
	if p.replays == nil {
		return "", nil
	}
	id, err := p.replays.FindByIdempotencyKey(ctx, userID, key)
	if err != nil {
		if appErr.IsNotFound(err) {
			return "", nil
		}
		return "", appErr.Storage(err)
	}
	return id, nil
}

func completed(result model.EntryResult, reason, bookmarkID string) Decision {
	return Decision{Outcome: model.Outcome{
		Status:     model.EntryCompleted,
		Result:     result,
		Reason:     reason,
		BookmarkID: bookmarkID,
	}}
}

// collaboratorFailure maps a creator or attacher error. Anything not marked
// permanent or validation is retried, including deadline errors.
func collaboratorFailure(logger *zap.Logger, op string, err error) Decision {
	switch {
	case appErr.IsValidation(err):
		return completed(model.ResultRejected, appErr.Cause(err), "")
	case appErr.IsPermanent(err):
		logger.Warn(op+" failed permanently", zap.Error(err))
		return Decision{Outcome: model.Outcome{Status: model.EntryFailed, Reason: fmt.Sprintf("%s: %s", op, appErr.Cause(err))}, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = appErr.Transient(fmt.Errorf("%s timed out: %w", op, err))
	}
	logger.Info(op+" failed, will retry", zap.Error(err))
	return Decision{Retry: true, Err: err}
}

func targetLists(root string, requested []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(requested)+1)
	for _, id := range append([]string{root}, requested...) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func validateCandidate(c model.RawCandidate) error {
	switch c.Type {
	case model.KindLink:
		if strings.TrimSpace(c.URL) == "" {
			return appErr.Validation("url is required")
		}
		u, err := url.Parse(strings.TrimSpace(c.URL))
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return appErr.Validation("url %q is not a valid http(s) url", c.URL)
		}
	case model.KindText:
		if strings.TrimSpace(c.Content) == "" {
			return appErr.Validation("content is required")
		}
	case model.KindAsset:
		if strings.TrimSpace(c.URL) == "" && strings.TrimSpace(c.Content) == "" {
			return appErr.Validation("asset reference is required")
		}
	default:
		return appErr.Validation("unknown candidate kind %q", c.Type)
	}
	return nil
}
