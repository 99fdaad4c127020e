package source

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/xxxsen/bkimport/internal/model"
)

const FormatMarkdown = "markdown"

// markdownSource collects every link of a markdown list. The nearest heading
// above a link becomes its tag.
type markdownSource struct{}

func init() {
	Register(markdownSource{})
}

func (markdownSource) Format() string {
	return FormatMarkdown
}

func (markdownSource) Parse(ctx context.Context, r io.Reader) ([]model.RawCandidate, error) {
	source, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}
	md := goldmark.New(goldmark.WithExtensions(extension.Linkify))
	doc := md.Parser().Parse(text.NewReader(source))

	var (
		out     []model.RawCandidate
		heading string
	)
	add := func(url, title, note string) {
		c := model.RawCandidate{
			Type:  model.KindLink,
			URL:   strings.TrimSpace(url),
			Title: strings.TrimSpace(title),
			Note:  strings.TrimSpace(note),
		}
		if heading != "" {
			c.Tags = []string{heading}
		}
		out = append(out, c)
	}
	err = ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := node.(type) {
		case *ast.Heading:
			heading = nodeText(n, source)
		case *ast.Link:
			add(string(n.Destination), nodeText(n, source), string(n.Title))
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			if n.AutoLinkType == ast.AutoLinkURL {
				url := string(n.URL(source))
				add(url, url, "")
			}
		case *ast.Image:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func nodeText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.CodeSpan:
			for c := t.FirstChild(); c != nil; c = c.NextSibling() {
				if seg, ok := c.(*ast.Text); ok {
					sb.Write(seg.Segment.Value(source))
				}
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
