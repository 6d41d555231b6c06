// Package chunker provides a fixed-size Sectioner, the last-resort way of
// decomposing a document into parts.
package chunker

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// Ensure Processor implements the interface.
var _ driven.Sectioner = (*Processor)(nil)

// DefaultChunkSize is the default number of bytes per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping bytes.
const DefaultChunkOverlap = 200

// ExcerptLength is the rune length of generated part summaries.
const ExcerptLength = 160

// Processor splits content into fixed-size chunks, preferring to break at
// paragraph, line or word boundaries near the end of each window.
type Processor struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithChunkSize sets the chunk size in bytes.
func WithChunkSize(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in bytes.
func WithOverlap(overlap int) Option {
	return func(p *Processor) {
		if overlap >= 0 {
			p.overlap = overlap
		}
	}
}

// New creates a new chunker with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}

	for _, opt := range opts {
		opt(p)
	}

	// Ensure overlap doesn't exceed chunk size
	if p.overlap >= p.chunkSize {
		p.overlap = p.chunkSize / 4
	}

	return p
}

// Name returns the sectioner name.
func (p *Processor) Name() string {
	return "chunker"
}

// Split cuts content into chunks. Every chunk is valid UTF-8 when content is.
func (p *Processor) Split(ctx context.Context, content string) ([]domain.Part, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}

	parts := make([]domain.Part, 0, len(content)/(p.chunkSize-p.overlap)+1)
	start := 0
	for start < len(content) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + p.chunkSize
		if end >= len(content) {
			end = len(content)
		} else {
			end = p.breakPoint(content, start, end)
		}

		if text := strings.TrimSpace(content[start:end]); text != "" {
			parts = append(parts, domain.Part{Summary: Excerpt(text, ExcerptLength), Content: text})
		}
		if end == len(content) {
			break
		}

		next := alignRune(content, end-p.overlap)
		if next <= start {
			next = end
		}
		start = next
	}
	return parts, nil
}

// breakPoint picks where the window [start, end) should end.
func (p *Processor) breakPoint(content string, start, end int) int {
	floor := start + p.chunkSize*3/4
	window := content[floor:end]
	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(window, sep); i >= 0 {
			return floor + i + len(sep)
		}
	}
	if cut := alignRune(content, end); cut > start {
		return cut
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}
	return end
}

// alignRune moves i back to the start of the rune containing it.
func alignRune(s string, i int) int {
	if i <= 0 {
		return 0
	}
	for i < len(s) && i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// Excerpt returns the first non-blank line of text, cut to at most n runes.
func Excerpt(text string, n int) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if utf8.RuneCountInString(line) <= n {
		return line
	}
	runes := []rune(line)
	return strings.TrimSpace(string(runes[:n])) + "..."
}
