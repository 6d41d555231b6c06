package postprocessors

import (
	"fmt"
	"sort"

	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// BuilderFunc creates a Sectioner from generic config.
// Config is a map of sectioner-specific settings parsed from user config.
type BuilderFunc func(cfg map[string]any) (driven.Sectioner, error)

// Registry maps sectioner names to their builders.
// It allows the analysis fallback chain to be assembled from configuration.
type Registry struct {
	builders map[string]BuilderFunc
}

// NewRegistry creates a new sectioner registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[string]BuilderFunc),
	}
}

// Register adds a builder to the registry.
// Name should be unique and match the sectioner's Name() return value.
func (r *Registry) Register(name string, builder BuilderFunc) {
	r.builders[name] = builder
}

// Build creates a sectioner by name with the given config.
// Returns error if the name is not registered.
func (r *Registry) Build(name string, cfg map[string]any) (driven.Sectioner, error) {
	builder, ok := r.builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown sectioner: %s", name)
	}
	return builder(cfg)
}

// BuildChain builds each named sectioner and chains them in order.
func (r *Registry) BuildChain(names []string, cfg map[string]any) (*Chain, error) {
	chain := NewChain()
	for _, name := range names {
		s, err := r.Build(name, cfg)
		if err != nil {
			return nil, err
		}
		chain.Add(s)
	}
	return chain, nil
}

// Has returns true if a sectioner with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.builders[name]
	return ok
}

// Names returns all registered sectioner names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
