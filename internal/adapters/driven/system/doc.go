// Package system provides operating-system adapters used by the keeper:
// advisory file locks, file change notification and a free-memory probe.
package system
