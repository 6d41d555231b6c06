// Package file provides a DocumentFetcher for the local filesystem.
// It accepts file:// URIs and bare paths.
package file

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/logger"
	"github.com/custodia-labs/keep/internal/normalisers"
)

// Ensure Fetcher implements the interface.
var _ driven.DocumentFetcher = (*Fetcher)(nil)

// DefaultMaxBytes caps how much of a file is read.
const DefaultMaxBytes = 10 << 20

// TagTitle carries the extracted title on fetched documents.
const TagTitle = "title"

const sniffLen = 512

// Fallback types for extensions the mime package does not know reliably.
var extensionTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".go":       "text/x-go",
	".py":       "text/x-python",
	".rs":       "text/x-rust",
	".java":     "text/x-java",
	".c":        "text/x-c",
	".h":        "text/x-c",
	".cpp":      "text/x-c++",
	".rb":       "text/x-ruby",
	".ts":       "text/typescript",
	".yaml":     "text/yaml",
	".yml":      "text/yaml",
	".toml":     "text/toml",
	".sh":       "text/x-shellscript",
	".bash":     "text/x-shellscript",
	".sql":      "text/x-sql",
	".txt":      "text/plain",
	".log":      "text/plain",
	".csv":      "text/csv",
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMaxBytes sets the largest file that will be read.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// Fetcher reads local files and normalises text formats.
// Media it cannot normalise is returned with empty Content and its Path
// set, for a MediaDescriber to handle.
type Fetcher struct {
	normalisers *normalisers.Registry
	maxBytes    int64
}

// New creates a filesystem fetcher. A nil registry uses the defaults.
func New(registry *normalisers.Registry, opts ...Option) *Fetcher {
	if registry == nil {
		registry = normalisers.Default()
	}
	f := &Fetcher{normalisers: registry, maxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Supports accepts file:// URIs and strings without a scheme.
func (f *Fetcher) Supports(uri string) bool {
	if strings.HasPrefix(uri, "file://") {
		return true
	}
	return uri != "" && !strings.Contains(uri, "://")
}

// Fetch reads uri from disk.
func (f *Fetcher) Fetch(ctx context.Context, uri string) (*driven.FetchedDocument, error) {
	if !f.Supports(uri) {
		return nil, fmt.Errorf("%w: %s", domain.ErrFetcherUnavailable, uri)
	}
	path, err := resolvePath(uri)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", domain.ErrInvalidInput, path)
	}
	if info.Size() > f.maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", domain.ErrInvalidInput, path, info.Size(), f.maxBytes)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	contentType := detectContentType(path, raw)
	doc := &driven.FetchedDocument{ContentType: contentType, Path: path}

	if !f.normalisers.Supports(contentType) {
		if isMedia(contentType) {
			logger.Debug("fetched %s as media (%s)", path, contentType)
			return doc, nil
		}
		return nil, fmt.Errorf("%w: %s has content type %s", domain.ErrUnsupportedType, path, contentType)
	}

	out, err := f.normalisers.Normalise(ctx, contentType, raw, path)
	if err != nil {
		return nil, fmt.Errorf("normalising %s: %w", path, err)
	}
	doc.Content = out.Content
	doc.Tags = domain.CloneTags(out.Tags)
	if out.Title != "" {
		if doc.Tags == nil {
			doc.Tags = make(map[string]string, 1)
		}
		doc.Tags[TagTitle] = out.Title
	}
	return doc, nil
}

// resolvePath converts a file:// URI or bare path to an absolute path.
func resolvePath(uri string) (string, error) {
	path := uri
	if strings.HasPrefix(uri, "file://") {
		u, err := url.Parse(uri)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", domain.ErrInvalidInput, uri, err)
		}
		path = u.Path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	return abs, nil
}

// detectContentType uses the extension, then sniffs the first bytes.
// The result carries no parameters.
func detectContentType(path string, raw []byte) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	if ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return stripParams(ct)
		}
	}
	head := raw
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	return stripParams(http.DetectContentType(head))
}

func stripParams(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

func isMedia(contentType string) bool {
	switch {
	case strings.HasPrefix(contentType, "image/"),
		strings.HasPrefix(contentType, "audio/"),
		strings.HasPrefix(contentType, "video/"),
		contentType == "application/pdf":
		return true
	default:
		return false
	}
}
