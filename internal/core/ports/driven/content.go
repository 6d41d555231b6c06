package driven

import (
	"context"

	"github.com/custodia-labs/keep/internal/core/domain"
)

// Normalised is indexable text extracted from fetched bytes.
type Normalised struct {
	Content string

	// Title is a best-effort title, or "".
	Title string

	// Tags are scalar front-matter fields, when the format carries any.
	Tags map[string]string
}

// Normaliser extracts text from one family of content types.
type Normaliser interface {
	// SupportedContentTypes returns the media types handled, without parameters.
	SupportedContentTypes() []string

	// Priority breaks ties between normalisers of the same type; higher wins.
	Priority() int

	// Normalise converts raw bytes read from uri into text.
	Normalise(ctx context.Context, raw []byte, uri string) (*Normalised, error)
}

// Sectioner splits content into parts without a model. It is the fallback
// for analysis when no summarizer is configured or the model answers with
// nothing usable.
type Sectioner interface {
	// Name identifies the sectioner in logs and part tags.
	Name() string

	// Split returns parts with Content and Summary set, in document order.
	// Part numbers are assigned by the caller.
	Split(ctx context.Context, content string) ([]domain.Part, error)
}
