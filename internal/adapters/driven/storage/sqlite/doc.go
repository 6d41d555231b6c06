// Package sqlite implements the keep stores on SQLite.
//
// Each store is its own file in the store directory so that readers of one
// never wait on writers of another:
//
//   - documents.db: DocumentStore (documents, versions, parts, index bindings)
//   - pending.db: PendingQueue
//   - vectors.db: VectorIndex (embeddings plus an FTS5 index of summaries)
//
// The driver is modernc.org/sqlite, so no CGO is required. Connections run
// in WAL mode and writes use BEGIN IMMEDIATE with a bounded busy retry, so
// several keep processes can share one store directory.
//
// # Schema
//
// Migrations are embedded per database under migrations/. A file that fails
// PRAGMA quick_check at open is moved aside and its readable rows are
// copied into a fresh file.
package sqlite
