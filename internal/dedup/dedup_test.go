package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/bkimport/internal/model"
	appErr "github.com/xxxsen/bkimport/internal/pkg/errors"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.com/a/b/", "https://example.com/a/b"},
		{"https://example.com/a/b#frag", "https://example.com/a/b"},
		{"HTTPS://EXAMPLE.com/A?x=1&y=2#z", "https://example.com/A?x=1&y=2"},
		{"https://example.com/", "https://example.com"},
		{"https://example.com", "https://example.com"},
		{"  https://user:pw@example.com:8443/p//  ", "https://example.com:8443/p"},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "not a url", "/relative/path", "http://[::1"} {
		_, err := NormalizeURL(bad)
		assert.Error(t, err, bad)
	}
}

type fakeLookup struct {
	links map[string]string
	calls int
	err   error
}

func (f *fakeLookup) FindLinkByNormalizedURL(ctx context.Context, userID, normalizedURL string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if id, ok := f.links[userID+"|"+normalizedURL]; ok {
		return id, nil
	}
	return "", appErr.ErrNotFound
}

func TestResolverLinks(t *testing.T) {
	lookup := &fakeLookup{links: map[string]string{"u1|https://go.dev/doc": "b1"}}
	r := NewResolver(lookup)
	ctx := context.Background()

	res, err := r.Resolve(ctx, "u1", model.RawCandidate{Type: model.KindLink, URL: "https://go.dev/doc/#install"})
	require.NoError(t, err)
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, "b1", res.ExistingBookmarkID)

	res, err = r.Resolve(ctx, "u2", model.RawCandidate{Type: model.KindLink, URL: "https://go.dev/doc"})
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
	assert.Equal(t, "https://go.dev/doc", res.NormalizedURL)
}

func TestResolverNeverFlagsTextOrBadURL(t *testing.T) {
	lookup := &fakeLookup{links: map[string]string{}}
	r := NewResolver(lookup)
	ctx := context.Background()

	res, err := r.Resolve(ctx, "u1", model.RawCandidate{Type: model.KindText, Content: "hello"})
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)

	res, err = r.Resolve(ctx, "u1", model.RawCandidate{Type: model.KindLink, URL: "::::"})
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
	assert.Empty(t, res.NormalizedURL)
	assert.Zero(t, lookup.calls)
}

func TestResolverStorageFailure(t *testing.T) {
	r := NewResolver(&fakeLookup{err: errors.New("connection refused")})
	_, err := r.Resolve(context.Background(), "u1", model.RawCandidate{Type: model.KindLink, URL: "https://go.dev"})
	require.Error(t, err)
	assert.True(t, appErr.IsStorage(err))
}

func TestCachedLookupKeepsOnlyHits(t *testing.T) {
	lookup := &fakeLookup{links: map[string]string{"u1|https://go.dev": "b1"}}
	cached := WrapLruLookup(lookup, 16, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := cached.FindLinkByNormalizedURL(ctx, "u1", "https://go.dev")
		require.NoError(t, err)
		assert.Equal(t, "b1", id)
	}
	assert.Equal(t, 1, lookup.calls)

	for i := 0; i < 2; i++ {
		_, err := cached.FindLinkByNormalizedURL(ctx, "u1", "https://example.com")
		assert.True(t, appErr.IsNotFound(err))
	}
	assert.Equal(t, 3, lookup.calls)

	c := cached.(*CachedLookup)
	c.Remember("u1", "https://example.com", "b2")
	id, err := cached.FindLinkByNormalizedURL(ctx, "u1", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "b2", id)
	assert.Equal(t, 3, lookup.calls)

	c.Forget("u1", "https://example.com")
	_, err = cached.FindLinkByNormalizedURL(ctx, "u1", "https://example.com")
	assert.True(t, appErr.IsNotFound(err))
}

func TestWrapLruLookupDisabled(t *testing.T) {
	lookup := &fakeLookup{}
	assert.Same(t, lookup, WrapLruLookup(lookup, 0, time.Minute))
	assert.Same(t, lookup, WrapLruLookup(lookup, 10, 0))
}
