// Package driving defines the ports the CLI and MCP adapters call into:
// the Keeper, the background Processor and the SettingsService.
//
// Implementations live in internal/core/services.
package driving
