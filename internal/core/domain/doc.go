// Package domain defines the core business entities for keep.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: The current state of a stored document
//   - Version: An immutable archived snapshot of a prior state
//   - Part: A structural section of a decomposed document
//   - VectorEntry: An embedding plus denormalised summary and tags
//   - PendingItem: A deferred unit of background work
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
