package dedup

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// CachedLookup keeps recent url hits in an expiring LRU. Misses are not
// cached, so a link created by another worker is seen on the next lookup.
type CachedLookup struct {
	next  LinkLookup
	cache *expirable.LRU[string, string]
}

// WrapLruLookup returns next unchanged when size or ttl disable caching.
func WrapLruLookup(next LinkLookup, size int, ttl time.Duration) LinkLookup {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &CachedLookup{
		next:  next,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (c *CachedLookup) FindLinkByNormalizedURL(ctx context.Context, userID, normalizedURL string) (string, error) {
	key := cacheKey(userID, normalizedURL)
	if id, ok := c.cache.Get(key); ok {
		logutil.GetLogger(ctx).Debug("dedup cache hit", zap.String("url", normalizedURL))
		return id, nil
	}
	id, err := c.next.FindLinkByNormalizedURL(ctx, userID, normalizedURL)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, id)
	return id, nil
}

// Remember records a freshly created link so later candidates in the same
// import skip the database round trip.
func (c *CachedLookup) Remember(userID, normalizedURL, bookmarkID string) {
	if normalizedURL == "" || bookmarkID == "" {
		return
	}
	c.cache.Add(cacheKey(userID, normalizedURL), bookmarkID)
}

// Forget drops a cached hit, used when the bookmark behind it is gone.
func (c *CachedLookup) Forget(userID, normalizedURL string) {
	c.cache.Remove(cacheKey(userID, normalizedURL))
}

func cacheKey(userID, normalizedURL string) string {
	return userID + "\x00" + normalizedURL
}
