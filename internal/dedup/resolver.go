package dedup

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/bkimport/internal/model"
	appErr "github.com/xxxsen/bkimport/internal/pkg/errors"
)

// LinkLookup finds the live bookmark of a user holding a normalized url.
// Implementations return an error matching errors.ErrNotFound on a miss.
type LinkLookup interface {
	FindLinkByNormalizedURL(ctx context.Context, userID, normalizedURL string) (string, error)
}

type Resolution struct {
	IsDuplicate        bool
	ExistingBookmarkID string
	// NormalizedURL is empty for non-link candidates and unparseable urls.
	NormalizedURL string
}

type Resolver struct {
	lookup LinkLookup
}

func NewResolver(lookup LinkLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve reports whether the candidate duplicates an existing bookmark of the
// user. Only links carry a dedup key; an unparseable url is never a duplicate
// and is left to validation. Lookup failures are returned as storage errors.
func (r *Resolver) Resolve(ctx context.Context, userID string, c model.RawCandidate) (Resolution, error) {
	if c.Type != model.KindLink {
		return Resolution{}, nil
	}
	norm, err := NormalizeURL(c.URL)
	if err != nil {
		logutil.GetLogger(ctx).Debug("skip dedup for unparseable url", zap.String("url", c.URL), zap.Error(err))
		return Resolution{}, nil
	}
	id, err := r.lookup.FindLinkByNormalizedURL(ctx, userID, norm)
	if err != nil {
		if appErr.IsNotFound(err) {
			return Resolution{NormalizedURL: norm}, nil
		}
		return Resolution{}, appErr.Storage(err)
	}
	return Resolution{IsDuplicate: true, ExistingBookmarkID: id, NormalizedURL: norm}, nil
}
