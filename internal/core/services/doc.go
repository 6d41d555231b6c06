// Package services implements the driving ports.
//
// Keeper owns every rule that spans the document store, the vector index
// and the pending queue. Processor drains the queue under a cross-process
// lock, and ProviderPool constructs embedding and summarization providers
// on demand. SettingsService maps keep.toml onto domain.KeeperConfig.
package services
