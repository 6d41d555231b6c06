// Package file provides file-based implementations of driven port interfaces
// that live inside the store directory.
//
// Adapters:
//   - ConfigStore: keep.toml, flattened to dot keys
//   - PromptStore: user-editable model prompts under prompts/
package file
