// Package markdown provides a Normaliser for Markdown documents.
// Content is kept as Markdown so heading structure survives into analysis;
// a YAML front-matter block is removed and its scalar fields become tags.
package markdown

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/logger"
	"github.com/custodia-labs/keep/internal/normalisers/plaintext"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

const frontMatterFence = "---"

// Normaliser handles Markdown documents.
type Normaliser struct{}

// New creates a new Markdown normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// SupportedContentTypes returns the media types this normaliser handles.
func (n *Normaliser) SupportedContentTypes() []string {
	return []string{"text/markdown", "text/x-markdown"}
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 50 // Higher than plaintext
}

// Normalise splits off front matter and extracts a title.
func (n *Normaliser) Normalise(ctx context.Context, raw []byte, uri string) (*driven.Normalised, error) {
	base, err := plaintext.New().Normalise(ctx, raw, uri)
	if err != nil {
		return nil, err
	}

	fields, body := splitFrontMatter(base.Content)
	tags := scalarTags(fields)

	title := tags["title"]
	delete(tags, "title")
	if title == "" {
		title = extractMarkdownTitle(body, uri)
	}
	if len(tags) == 0 {
		tags = nil
	}

	return &driven.Normalised{
		Content: strings.TrimSpace(body),
		Title:   title,
		Tags:    tags,
	}, nil
}

// splitFrontMatter separates a leading "---" delimited YAML block.
// Malformed front matter is left in the body.
func splitFrontMatter(content string) (map[string]any, string) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, frontMatterFence+"\n") {
		return nil, content
	}
	rest := normalized[len(frontMatterFence)+1:]

	var block, body string
	switch {
	case strings.HasPrefix(rest, frontMatterFence+"\n"):
		body = rest[len(frontMatterFence)+1:]
	case strings.Contains(rest, "\n"+frontMatterFence+"\n"):
		idx := strings.Index(rest, "\n"+frontMatterFence+"\n")
		block = rest[:idx]
		body = rest[idx+len(frontMatterFence)+2:]
	case strings.HasSuffix(rest, "\n"+frontMatterFence):
		block = strings.TrimSuffix(rest, "\n"+frontMatterFence)
	default:
		return nil, content
	}

	fields := make(map[string]any)
	if err := yaml.Unmarshal([]byte(block), &fields); err != nil {
		logger.Debug("ignoring malformed front matter: %v", err)
		return nil, content
	}
	return fields, body
}

// scalarTags keeps string, number and boolean fields. Lists and maps
// cannot be represented as a single tag value.
func scalarTags(fields map[string]any) map[string]string {
	tags := make(map[string]string, len(fields))
	for k, v := range fields {
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case int, int64, uint64, float64, bool:
			s = fmt.Sprint(val)
		default:
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			tags[strings.ToLower(strings.TrimSpace(k))] = s
		}
	}
	return tags
}

// extractMarkdownTitle returns the first H1 heading, or a title derived from the file name.
func extractMarkdownTitle(content, uri string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "#"))
		}
	}
	return plaintext.TitleFromURI(uri)
}
