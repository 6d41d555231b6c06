// Package mcp exposes the keeper to AI assistants over the Model Context
// Protocol, as tools for writing and searching memory and as read-only
// resources for browsing it.
package mcp

import "errors"

// ErrMissingKeeper is returned when the keeper is not provided.
var ErrMissingKeeper = errors.New("mcp: keeper is required")
