package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/xxxsen/bkimport/internal/model"
)

const FormatJSON = "json"

// jsonSource accepts an array of candidate objects, the same shape the
// entries API takes. A missing type is inferred from url/content.
type jsonSource struct{}

func init() {
	Register(jsonSource{})
}

func (jsonSource) Format() string {
	return FormatJSON
}

func (jsonSource) Parse(ctx context.Context, r io.Reader) ([]model.RawCandidate, error) {
	var items []model.RawCandidate
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	for i := range items {
		if items[i].Type != "" {
			continue
		}
		if items[i].URL != "" {
			items[i].Type = model.KindLink
		} else {
			items[i].Type = model.KindText
		}
	}
	return items, nil
}
