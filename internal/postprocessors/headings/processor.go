// Package headings provides a Sectioner that splits Markdown at ATX headings.
package headings

import (
	"context"
	"regexp"
	"strings"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/postprocessors/chunker"
)

// Ensure Processor implements the interface.
var _ driven.Sectioner = (*Processor)(nil)

// DefaultMaxDepth splits at # and ## headings.
const DefaultMaxDepth = 2

var headingLine = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

// Processor splits content into one part per heading section.
type Processor struct {
	maxDepth int
}

// Option configures the processor.
type Option func(*Processor)

// WithMaxDepth sets the deepest heading level that starts a new part.
func WithMaxDepth(depth int) Option {
	return func(p *Processor) {
		if depth >= 1 && depth <= 6 {
			p.maxDepth = depth
		}
	}
}

// New creates a heading sectioner.
func New(opts ...Option) *Processor {
	p := &Processor{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the sectioner name.
func (p *Processor) Name() string {
	return "headings"
}

// Split returns one part per section. Text before the first heading is a
// part of its own. Headings inside fenced code blocks are ignored.
// Content without headings yields a single part.
func (p *Processor) Split(ctx context.Context, content string) ([]domain.Part, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		parts   []domain.Part
		title   string
		section []string
		fenced  bool
	)
	flush := func() {
		text := strings.TrimSpace(strings.Join(section, "\n"))
		if text == "" {
			return
		}
		summary := title
		if summary == "" {
			summary = chunker.Excerpt(text, chunker.ExcerptLength)
		}
		parts = append(parts, domain.Part{Summary: summary, Content: text})
	}

	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			fenced = !fenced
		}
		if !fenced {
			if m := headingLine.FindStringSubmatch(trimmed); m != nil && len(m[1]) <= p.maxDepth {
				flush()
				title = m[2]
				section = section[:0]
			}
		}
		section = append(section, line)
	}
	flush()
	return parts, nil
}
