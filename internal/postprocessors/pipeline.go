// Package postprocessors assembles the model-free sectioners used to
// decompose documents into parts when no summarizer can do it.
package postprocessors

import (
	"context"
	"fmt"
	"strings"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// Ensure Chain implements the interface.
var _ driven.Sectioner = (*Chain)(nil)

// Chain tries sectioners in order and keeps the first result with more
// than one part. When none splits the content, the last non-empty result
// is returned.
type Chain struct {
	sectioners []driven.Sectioner
}

// NewChain creates a chain with the given sectioners.
func NewChain(sectioners ...driven.Sectioner) *Chain {
	return &Chain{
		sectioners: sectioners,
	}
}

// Name joins the member names.
func (c *Chain) Name() string {
	names := make([]string, len(c.sectioners))
	for i, s := range c.sectioners {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Split runs the chain.
func (c *Chain) Split(ctx context.Context, content string) ([]domain.Part, error) {
	var fallback []domain.Part
	for _, s := range c.sectioners {
		parts, err := s.Split(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("sectioner %s: %w", s.Name(), err)
		}
		if len(parts) > 1 {
			return parts, nil
		}
		if len(parts) > 0 {
			fallback = parts
		}
	}
	return fallback, nil
}

// Add appends a sectioner to the chain.
func (c *Chain) Add(s driven.Sectioner) {
	c.sectioners = append(c.sectioners, s)
}

// Len returns the number of sectioners in the chain.
func (c *Chain) Len() int {
	return len(c.sectioners)
}
