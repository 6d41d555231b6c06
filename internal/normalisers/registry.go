// Package normalisers turns fetched bytes into indexable text, selecting
// a Normaliser by content type.
package normalisers

import (
	"context"
	"fmt"
	"mime"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/normalisers/html"
	"github.com/custodia-labs/keep/internal/normalisers/markdown"
	"github.com/custodia-labs/keep/internal/normalisers/plaintext"
)

// Registry selects the highest-priority Normaliser for a content type.
type Registry struct {
	mu     sync.RWMutex
	byType map[string][]driven.Normaliser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string][]driven.Normaliser)}
}

// Default returns a registry with the built-in normalisers.
func Default() *Registry {
	r := NewRegistry()
	r.Register(plaintext.New())
	r.Register(markdown.New())
	r.Register(html.New())
	return r
}

// Register adds n for each of its content types.
func (r *Registry) Register(n driven.Normaliser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ct := range n.SupportedContentTypes() {
		ct = baseType(ct)
		list := append(r.byType[ct], n)
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Priority() > list[j].Priority()
		})
		r.byType[ct] = list
	}
}

// Supports reports whether any normaliser handles contentType.
func (r *Registry) Supports(contentType string) bool {
	return r.lookup(contentType) != nil
}

// ContentTypes returns every registered content type, sorted.
func (r *Registry) ContentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.byType))
	for ct := range r.byType {
		types = append(types, ct)
	}
	sort.Strings(types)
	return types
}

// Normalise converts raw with the best normaliser for contentType.
// Parameters such as charset are ignored.
func (r *Registry) Normalise(ctx context.Context, contentType string, raw []byte, uri string) (*driven.Normalised, error) {
	n := r.lookup(contentType)
	if n == nil {
		return nil, fmt.Errorf("%w: no normaliser for %q", domain.ErrUnsupportedType, contentType)
	}
	return n.Normalise(ctx, raw, uri)
}

func (r *Registry) lookup(contentType string) driven.Normaliser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if list := r.byType[baseType(contentType)]; len(list) > 0 {
		return list[0]
	}
	return nil
}

func baseType(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
