package postprocessors

import (
	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/postprocessors/chunker"
	"github.com/custodia-labs/keep/internal/postprocessors/headings"
)

// DefaultChain is the fallback order used when configuration names none.
var DefaultChain = []string{"headings", "chunker"}

// RegisterDefaults registers all built-in sectioners with the registry.
func RegisterDefaults(r *Registry) {
	r.Register("chunker", buildChunker)
	r.Register("headings", buildHeadings)
}

// buildChunker creates a chunker from generic config.
// Supported config keys:
//   - chunk_size (int): Bytes per chunk (default: 1000)
//   - overlap (int): Overlapping bytes between chunks (default: 200)
func buildChunker(cfg map[string]any) (driven.Sectioner, error) {
	var opts []chunker.Option

	if cfg != nil {
		if size := getIntFromConfig(cfg, "chunk_size"); size > 0 {
			opts = append(opts, chunker.WithChunkSize(size))
		}
		if _, ok := cfg["overlap"]; ok {
			opts = append(opts, chunker.WithOverlap(getIntFromConfig(cfg, "overlap")))
		}
	}

	return chunker.New(opts...), nil
}

// buildHeadings creates a heading sectioner from generic config.
// Supported config keys:
//   - max_depth (int): Deepest heading level that starts a part (default: 2)
func buildHeadings(cfg map[string]any) (driven.Sectioner, error) {
	var opts []headings.Option
	if depth := getIntFromConfig(cfg, "max_depth"); depth > 0 {
		opts = append(opts, headings.WithMaxDepth(depth))
	}
	return headings.New(opts...), nil
}

// getIntFromConfig safely extracts an int from generic config map.
// Handles int, int64, and float64 types that may come from TOML/JSON parsing.
func getIntFromConfig(cfg map[string]any, key string) int {
	val, ok := cfg[key]
	if !ok {
		return 0
	}

	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
