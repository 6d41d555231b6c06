// Package normalisers turns fetched bytes into text for the keeper.
//
// Default returns a Registry with plain text, Markdown and HTML. The file
// fetcher picks a normaliser by content type, highest priority first.
package normalisers
