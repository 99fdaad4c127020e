package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/bkimport/internal/filestore"
	"github.com/xxxsen/bkimport/internal/model"
	appErr "github.com/xxxsen/bkimport/internal/pkg/errors"
	"github.com/xxxsen/bkimport/internal/pkg/timeutil"
	"github.com/xxxsen/bkimport/internal/repo"
	"github.com/xxxsen/bkimport/internal/source"
)

const (
	importChunkSize  = 500
	maxSessionName   = 200
	defaultPageLimit = 50
	maxPageLimit     = 500
)

type CreateSessionInput struct {
	Name       string `json:"name"`
	Message    string `json:"message"`
	RootListID string `json:"root_list_id"`
}

type ImportFileInput struct {
	CreateSessionInput
	Format   string
	FileName string
	Reader   io.ReadSeeker
	Size     int64
	Start    bool
}

type SessionService struct {
	sessions *repo.ImportSessionRepo
	entries  *repo.StagingEntryRepo
	lists    *repo.BookmarkListRepo
	files    filestore.Store
}

func NewSessionService(sessions *repo.ImportSessionRepo, entries *repo.StagingEntryRepo, lists *repo.BookmarkListRepo, files filestore.Store) *SessionService {
	return &SessionService{sessions: sessions, entries: entries, lists: lists, files: files}
}

func (s *SessionService) Create(ctx context.Context, userID string, input CreateSessionInput) (*model.ImportSession, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", appErr.ErrInvalid)
	}
	if len(name) > maxSessionName {
		name = name[:maxSessionName]
	}
	rootListID := strings.TrimSpace(input.RootListID)
	if rootListID != "" {
		if _, err := s.lists.Get(ctx, userID, rootListID); err != nil {
			if appErr.IsNotFound(err) {
				return nil, fmt.Errorf("%w: root list not found", appErr.ErrInvalid)
			}
			return nil, err
		}
	}
	now := timeutil.NowUnixMilli()
	session := &model.ImportSession{
		ID:         newID(),
		UserID:     userID,
		Name:       name,
		Message:    strings.TrimSpace(input.Message),
		RootListID: rootListID,
		Status:     model.SessionStaging,
		Ctime:      now,
		Mtime:      now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// AddEntries stages candidates on a session that is still staging and
// returns how many were added.
func (s *SessionService) AddEntries(ctx context.Context, userID, sessionID string, candidates []model.RawCandidate) (int, error) {
	if _, err := s.sessions.GetForUser(ctx, userID, sessionID); err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	now := timeutil.NowUnixMilli()
	entries := make([]model.StagingEntry, 0, len(candidates))
	for _, c := range candidates {
		entries = append(entries, model.StagingEntry{
			ID:            newID(),
			Type:          c.Type,
			URL:           strings.TrimSpace(c.URL),
			Title:         strings.TrimSpace(c.Title),
			Content:       c.Content,
			Note:          strings.TrimSpace(c.Note),
			Tags:          c.Tags,
			ListIDs:       c.ListIDs,
			SourceAddedAt: c.SourceAddedAt,
			Ctime:         now,
		})
	}
	if err := s.entries.InsertBatch(ctx, sessionID, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// FinalizeStaging closes the staging window. A session without entries
// cannot leave staging.
func (s *SessionService) FinalizeStaging(ctx context.Context, userID, sessionID string) (*model.ImportSession, error) {
	session, err := s.sessions.GetForUser(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionStaging {
		return nil, fmt.Errorf("%w: cannot finalize a %s session", appErr.ErrInvalidTransition, session.Status)
	}
	ok, err := s.sessions.FinalizeIfStaged(ctx, sessionID, timeutil.NowUnixMilli())
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if current.Status == model.SessionStaging {
			return nil, fmt.Errorf("%w: session has no entries", appErr.ErrInvalidSessionState)
		}
		return nil, fmt.Errorf("%w: session is %s", appErr.ErrInvalidTransition, current.Status)
	}
	return s.sessions.Get(ctx, sessionID)
}

func (s *SessionService) Start(ctx context.Context, userID, sessionID string) (*model.ImportSession, error) {
	return s.transition(ctx, userID, sessionID, []model.SessionStatus{model.SessionPending}, model.SessionRunning, "")
}

// Pause is observed by the worker between batches; in-flight entries keep
// their lease and are reclaimed after resume.
func (s *SessionService) Pause(ctx context.Context, userID, sessionID string) (*model.ImportSession, error) {
	return s.transition(ctx, userID, sessionID, []model.SessionStatus{model.SessionRunning}, model.SessionPaused, "")
}

func (s *SessionService) Resume(ctx context.Context, userID, sessionID string) (*model.ImportSession, error) {
	return s.transition(ctx, userID, sessionID, []model.SessionStatus{model.SessionPaused}, model.SessionRunning, "")
}

func (s *SessionService) Fail(ctx context.Context, userID, sessionID, reason string) (*model.ImportSession, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by user"
	}
	return s.transition(ctx, userID, sessionID, model.SessionPredecessors(model.SessionFailed), model.SessionFailed, reason)
}

func (s *SessionService) transition(ctx context.Context, userID, sessionID string, from []model.SessionStatus, to model.SessionStatus, reason string) (*model.ImportSession, error) {
	session, err := s.sessions.GetForUser(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !containsStatus(from, session.Status) || !session.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", appErr.ErrInvalidTransition, session.Status, to)
	}
	ok, err := s.sessions.UpdateStatusIf(ctx, sessionID, from, to, reason, timeutil.NowUnixMilli())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: session changed concurrently", appErr.ErrInvalidTransition)
	}
	return s.sessions.Get(ctx, sessionID)
}

func (s *SessionService) Get(ctx context.Context, userID, sessionID string) (*model.ImportSession, error) {
	return s.sessions.GetForUser(ctx, userID, sessionID)
}

func (s *SessionService) List(ctx context.Context, userID string, status model.SessionStatus, limit, offset int) ([]model.ImportSession, error) {
	return s.sessions.ListByUser(ctx, userID, status, ClampPageLimit(limit), clampOffset(offset))
}

func (s *SessionService) Progress(ctx context.Context, userID, sessionID string) (*model.SessionProgress, error) {
	session, err := s.sessions.GetForUser(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	counts, err := s.entries.CountByStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	percent := 0
	if total := counts.Total(); total > 0 {
		percent = int((total - counts.Remaining()) * 100 / total)
	}
	return &model.SessionProgress{Session: session, Counts: counts, Percent: percent}, nil
}

func (s *SessionService) ListEntries(ctx context.Context, userID, sessionID string, status model.EntryStatus, limit, offset int) ([]model.StagingEntry, error) {
	if _, err := s.sessions.GetForUser(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.entries.ListBySession(ctx, sessionID, status, ClampPageLimit(limit), clampOffset(offset))
}

// ImportFile archives an export file, stages every candidate it contains and
// finalizes the session. With Start set the session is also moved to running.
func (s *SessionService) ImportFile(ctx context.Context, userID string, input ImportFileInput) (*model.ImportSession, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", userID), zap.String("format", input.Format))
	src, err := source.Get(input.Format)
	if err != nil {
		return nil, err
	}
	if input.Reader == nil {
		return nil, fmt.Errorf("%w: file is required", appErr.ErrInvalid)
	}
	if strings.TrimSpace(input.Name) == "" {
		input.Name = input.FileName
	}
	if strings.TrimSpace(input.Name) == "" {
		input.Name = src.Format() + " import"
	}
	session, err := s.Create(ctx, userID, input.CreateSessionInput)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("session_id", session.ID))

	if s.files != nil {
		key := "import_" + session.ID + strings.ToLower(filepath.Ext(input.FileName))
		if err := s.files.Save(ctx, key, input.Reader, input.Size); err != nil {
			logger.Error("archive import file failed", zap.Error(err))
			return nil, s.abort(ctx, session, "archive upload failed", err)
		}
		if err := s.sessions.UpdateSource(ctx, session.ID, src.Format(), key, timeutil.NowUnixMilli()); err != nil {
			return nil, s.abort(ctx, session, "record source failed", err)
		}
	}
	if _, err := input.Reader.Seek(0, io.SeekStart); err != nil {
		return nil, s.abort(ctx, session, "rewind upload failed", err)
	}
	candidates, err := src.Parse(ctx, input.Reader)
	if err != nil {
		return nil, s.abort(ctx, session, "parse failed", fmt.Errorf("%w: %v", appErr.ErrInvalid, err))
	}
	if len(candidates) == 0 {
		return nil, s.abort(ctx, session, "file contains no candidates", appErr.ErrEmptyImport)
	}
	for start := 0; start < len(candidates); start += importChunkSize {
		end := start + importChunkSize
		if end > len(candidates) {
			end = len(candidates)
		}
		if _, err := s.AddEntries(ctx, userID, session.ID, candidates[start:end]); err != nil {
			return nil, s.abort(ctx, session, "staging failed", err)
		}
	}
	logger.Info("import file staged", zap.Int("candidates", len(candidates)))
	finalized, err := s.FinalizeStaging(ctx, userID, session.ID)
	if err != nil {
		return nil, s.abort(ctx, session, "finalize failed", err)
	}
	if !input.Start {
		return finalized, nil
	}
	return s.Start(ctx, userID, session.ID)
}

// abort moves a half-built session to failed so it is not left staging. It
// still runs when the request context is already cancelled.
func (s *SessionService) abort(ctx context.Context, session *model.ImportSession, reason string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.sessions.UpdateStatusIf(ctx, session.ID, model.SessionPredecessors(model.SessionFailed),
		model.SessionFailed, reason+": "+cause.Error(), timeutil.NowUnixMilli()); err != nil {
		logutil.GetLogger(ctx).Error("mark import session failed", zap.String("session_id", session.ID), zap.Error(err))
	}
	return cause
}

func containsStatus(list []model.SessionStatus, s model.SessionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ClampPageLimit maps a requested page size onto the one listings use.
func ClampPageLimit(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
