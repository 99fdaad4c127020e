package source

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/xxxsen/bkimport/internal/model"
)

const FormatNetscape = "netscape"

// netscapeSource reads the bookmark file every browser exports
// (<!DOCTYPE NETSCAPE-Bookmark-file-1>). Folder names become tags.
type netscapeSource struct{}

func init() {
	Register(netscapeSource{})
}

func (netscapeSource) Format() string {
	return FormatNetscape
}

func (netscapeSource) Parse(ctx context.Context, r io.Reader) ([]model.RawCandidate, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse bookmark html: %w", err)
	}
	var out []model.RawCandidate
	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		c := model.RawCandidate{
			Type:  model.KindLink,
			URL:   strings.TrimSpace(href),
			Title: strings.TrimSpace(a.Text()),
			Tags:  append(folderTags(a), splitTags(a.AttrOr("tags", ""))...),
		}
		if added, err := strconv.ParseInt(strings.TrimSpace(a.AttrOr("add_date", "")), 10, 64); err == nil && added > 0 {
			c.SourceAddedAt = added * 1000
		}
		if dd := a.ParentsFiltered("dt").First().Next(); dd.Is("dd") {
			c.Note = strings.TrimSpace(dd.Text())
		}
		out = append(out, c)
	})
	return out, nil
}

// folderTags returns the H3 titles of the enclosing folders, outermost first.
func folderTags(a *goquery.Selection) []string {
	var tags []string
	a.ParentsFiltered("dl").Each(func(_ int, dl *goquery.Selection) {
		name := strings.TrimSpace(dl.PrevAllFiltered("h3").First().Text())
		if name != "" {
			tags = append(tags, name)
		}
	})
	for i, j := 0, len(tags)-1; i < j; i, j = i+1, j-1 {
		tags[i], tags[j] = tags[j], tags[i]
	}
	return tags
}
