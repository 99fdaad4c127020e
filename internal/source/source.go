package source

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/bkimport/internal/model"
	appErr "github.com/xxxsen/bkimport/internal/pkg/errors"
)

// CandidateSource turns an uploaded export into raw candidates, in file order.
type CandidateSource interface {
	Format() string
	Parse(ctx context.Context, r io.Reader) ([]model.RawCandidate, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]CandidateSource{}
)

func Register(src CandidateSource) {
	if src == nil {
		return
	}
	key := strings.ToLower(strings.TrimSpace(src.Format()))
	if key == "" {
		return
	}
	registryMu.Lock()
	registry[key] = src
	registryMu.Unlock()
}

func Get(format string) (CandidateSource, error) {
	key := strings.ToLower(strings.TrimSpace(format))
	registryMu.RLock()
	src := registry[key]
	registryMu.RUnlock()
	if src == nil {
		return nil, fmt.Errorf("format %q: %w", format, appErr.ErrUnsupportedFormat)
	}
	return src, nil
}

func Formats() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
