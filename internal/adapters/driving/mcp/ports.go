package mcp

import (
	"github.com/custodia-labs/keep/internal/core/ports/driving"
)

// Ports aggregates the driving ports required by the MCP server.
type Ports struct {
	// Keeper serves every tool and resource.
	Keeper driving.Keeper

	// Collection is the collection used when a call names none.
	Collection string
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p == nil || p.Keeper == nil {
		return ErrMissingKeeper
	}
	return nil
}
