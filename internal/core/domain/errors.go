package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	// Keeper converts it to absence at its boundary.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	// Malformed identifiers and tags are rejected before any store access.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDimensionMismatch indicates an embedding does not match the
	// dimension established for its collection.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmbeddingUnavailable indicates no embedding provider is configured.
	// Semantic search and index repair are disabled without one.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrSummarizerUnavailable indicates no summarization provider is configured.
	ErrSummarizerUnavailable = errors.New("summarization provider unavailable")

	// ErrFetcherUnavailable indicates a URI was given but no fetcher can read it.
	ErrFetcherUnavailable = errors.New("document fetcher unavailable")

	// ErrUnsupportedType indicates an unknown provider or backend name.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrStoreBusy indicates lock contention outlasted the bounded wait.
	ErrStoreBusy = errors.New("store busy")

	// ErrStoreCorrupt indicates the store failed its integrity check and
	// could not be recovered.
	ErrStoreCorrupt = errors.New("store corrupt")

	// ErrProcessorRunning indicates another process holds the processor lock.
	ErrProcessorRunning = errors.New("background processor already running")

	// ErrLockHeld indicates an advisory lock is held by another process.
	ErrLockHeld = errors.New("lock held by another process")
)
