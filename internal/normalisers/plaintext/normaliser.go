// Package plaintext provides the fallback Normaliser for text content:
// source code, configuration files and anything else already readable.
package plaintext

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser passes text through after validating its encoding.
type Normaliser struct{}

// New creates a new plain text normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// SupportedContentTypes returns the media types this normaliser handles.
func (n *Normaliser) SupportedContentTypes() []string {
	return []string{
		"text/plain",
		"text/x-go",
		"text/x-python",
		"text/x-rust",
		"text/x-java",
		"text/x-c",
		"text/x-c++",
		"text/x-ruby",
		"text/x-shellscript",
		"text/x-sql",
		"text/csv",
		"text/yaml",
		"text/toml",
		"text/javascript",
		"text/typescript",
		"text/css",
		"text/markdown",
		"text/html",
		"application/json",
		"application/xml",
		"application/yaml",
		"application/toml",
	}
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 5 // Fallback normaliser
}

// Normalise returns raw unchanged as text. Invalid UTF-8 is rejected so
// binary files are not stored as garbage summaries.
func (n *Normaliser) Normalise(_ context.Context, raw []byte, uri string) (*driven.Normalised, error) {
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8 text", domain.ErrUnsupportedType, uri)
	}
	content := strings.TrimPrefix(string(raw), "\ufeff")
	return &driven.Normalised{
		Content: content,
		Title:   TitleFromURI(uri),
	}, nil
}

// TitleFromURI turns a file name into a human-readable title.
func TitleFromURI(uri string) string {
	if uri == "" {
		return ""
	}
	filename := filepath.Base(uri)

	// Remove common extensions for cleaner title
	if ext := filepath.Ext(filename); ext != "" && ext != filename {
		filename = strings.TrimSuffix(filename, ext)
	}

	filename = strings.ReplaceAll(filename, "_", " ")
	filename = strings.ReplaceAll(filename, "-", " ")
	return strings.TrimSpace(filename)
}
