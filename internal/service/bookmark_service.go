package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/bkimport/internal/model"
	appErr "github.com/xxxsen/bkimport/internal/pkg/errors"
	"github.com/xxxsen/bkimport/internal/pkg/timeutil"
	"github.com/xxxsen/bkimport/internal/repo"
)

// CreateRequest carries one candidate to materialize. IdempotencyKey is
// stable across retries of the same staging entry.
type CreateRequest struct {
	IdempotencyKey string
	Candidate      model.RawCandidate
	NormalizedURL  string
}

// BookmarkCreator materializes a bookmark and its tags. It may be called more
// than once for the same IdempotencyKey and must then return the same id.
// A *DuplicateError reports that the user already owns the link.
type BookmarkCreator interface {
	Create(ctx context.Context, userID string, req CreateRequest) (string, error)
}

// ListAttacher adds a bookmark to one of the user's lists.
type ListAttacher interface {
	Attach(ctx context.Context, userID, bookmarkID, listID string) error
}

type DuplicateError struct {
	BookmarkID string
}

func (e *DuplicateError) Error() string {
	return "duplicate of bookmark " + e.BookmarkID
}

// BookmarkService is the in-database BookmarkCreator and ListAttacher.
type BookmarkService struct {
	bookmarks *repo.BookmarkRepo
	tags      *repo.BookmarkTagRepo
	lists     *repo.BookmarkListRepo
}

func NewBookmarkService(bookmarks *repo.BookmarkRepo, tags *repo.BookmarkTagRepo, lists *repo.BookmarkListRepo) *BookmarkService {
	return &BookmarkService{bookmarks: bookmarks, tags: tags, lists: lists}
}

func (s *BookmarkService) Create(ctx context.Context, userID string, req CreateRequest) (string, error) {
	c := req.Candidate
	now := timeutil.NowUnixMilli()
	ctime := now
	if c.SourceAddedAt > 0 {
		ctime = c.SourceAddedAt
	}
	title := strings.TrimSpace(c.Title)
	if title == "" && c.Type == model.KindLink {
		title = c.URL
	}
	b := &model.Bookmark{
		ID:             newID(),
		UserID:         userID,
		Type:           c.Type,
		Title:          title,
		Content:        c.Content,
		Note:           c.Note,
		URL:            c.URL,
		Source:         model.BookmarkSourceImport,
		IdempotencyKey: req.IdempotencyKey,
		Ctime:          ctime,
		Mtime:          now,
	}
	id, status, err := s.bookmarks.Create(ctx, b, req.NormalizedURL)
	if err != nil {
		return "", appErr.Transient(err)
	}
	if status == repo.CreateDuplicate {
		return "", &DuplicateError{BookmarkID: id}
	}
	tagIDs, err := s.ensureTags(ctx, userID, c.Tags)
	if err != nil {
		return "", appErr.Transient(err)
	}
	if err := s.tags.Attach(ctx, id, tagIDs, model.TagAttachedByHuman, now); err != nil {
		return "", appErr.Transient(err)
	}
	return id, nil
}

// FindByIdempotencyKey returns the live bookmark of userID created with key.
func (s *BookmarkService) FindByIdempotencyKey(ctx context.Context, userID, key string) (string, error) {
	b, err := s.bookmarks.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return "", err
	}
	if b.UserID != userID {
		return "", appErr.ErrNotFound
	}
	return b.ID, nil
}

func (s *BookmarkService) Attach(ctx context.Context, userID, bookmarkID, listID string) error {
	if _, err := s.lists.Get(ctx, userID, listID); err != nil {
		if appErr.IsNotFound(err) {
			return appErr.Permanent(fmt.Errorf("list %s not found", listID))
		}
		return appErr.Transient(err)
	}
	if err := s.lists.AddBookmark(ctx, listID, bookmarkID, timeutil.NowUnixMilli()); err != nil {
		return appErr.Transient(err)
	}
	return nil
}

// ensureTags creates missing tags and returns the ids for all requested
// names, in request order.
func (s *BookmarkService) ensureTags(ctx context.Context, userID string, tags []string) ([]string, error) {
	cleaned := normalizeTags(tags)
	if len(cleaned) == 0 {
		return []string{}, nil
	}
	now := timeutil.NowUnixMilli()
	rows := make([]model.BookmarkTag, 0, len(cleaned))
	for _, name := range cleaned {
		rows = append(rows, model.BookmarkTag{
			ID:             newID(),
			UserID:         userID,
			Name:           name,
			NormalizedName: normalizedTagName(name),
			Ctime:          now,
		})
	}
	if err := s.tags.CreateIgnoreExisting(ctx, rows); err != nil {
		return nil, err
	}
	existing, err := s.tags.ListByNames(ctx, userID, cleaned)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(existing))
	for _, tag := range existing {
		ids[tag.Name] = tag.ID
	}
	result := make([]string, 0, len(cleaned))
	for _, name := range cleaned {
		if id, ok := ids[name]; ok {
			result = append(result, id)
		}
	}
	return result, nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		normalized := strings.TrimSpace(tag)
		if normalized == "" {
			continue
		}
		key := strings.ToLower(normalized)
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, normalized)
	}
	return result
}

var tagNameReplacer = strings.NewReplacer(" ", "", "-", "", "_", "")

func normalizedTagName(name string) string {
	return tagNameReplacer.Replace(strings.ToLower(name))
}
