// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the engine to function:
//
//   - DocumentStore: Canonical documents, versions and parts (SQLite)
//   - VectorIndex: Embeddings with denormalised summary/tags (SQLite, pgvector, memory)
//   - PendingQueue: Deferred summarize/analyze/reindex work (SQLite)
//   - Locker: Advisory file locks for the processor and local models
//
// # Optional Interfaces
//
// These can be nil - the engine degrades gracefully:
//
//   - EmbeddingProvider: Without it, find falls back to full-text search
//     and reconciliation does not repair or delete anything.
//   - SummarizationProvider: Without it, long documents keep their
//     truncated placeholder summary.
//   - MediaDescriber: Describes non-text content on ingest.
//   - DocumentFetcher: Reads URIs on ingest.
//   - ChangeNotifier: Wakes the daemon processor when work is queued.
//   - MemoryProbe: Reports available memory for model serialization.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
