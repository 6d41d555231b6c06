package headings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Sections(t *testing.T) {
	doc := "Preamble text.\n\n# Install\nRun make.\n\n## Linux\nUse apt.\n\n### Detail\nnested\n\n# Usage ##\nCall it."
	parts, err := New().Split(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, parts, 4)

	assert.Equal(t, "Preamble text.", parts[0].Summary)
	assert.Equal(t, "Preamble text.", parts[0].Content)

	assert.Equal(t, "Install", parts[1].Summary)
	assert.Equal(t, "# Install\nRun make.", parts[1].Content)

	assert.Equal(t, "Linux", parts[2].Summary)
	assert.Equal(t, "## Linux\nUse apt.\n\n### Detail\nnested", parts[2].Content)

	assert.Equal(t, "Usage", parts[3].Summary)
}

func TestSplit_MaxDepth(t *testing.T) {
	doc := "# A\na\n## B\nb\n### C\nc"

	parts, err := New(WithMaxDepth(1)).Split(context.Background(), doc)
	require.NoError(t, err)
	assert.Len(t, parts, 1)

	parts, err = New(WithMaxDepth(3)).Split(context.Background(), doc)
	require.NoError(t, err)
	assert.Len(t, parts, 3)

	assert.Equal(t, DefaultMaxDepth, New(WithMaxDepth(9)).maxDepth)
}

func TestSplit_IgnoresFencedHeadings(t *testing.T) {
	doc := "# Script\n```sh\n# not a heading\necho hi\n```\n# Next\ntext"
	parts, err := New().Split(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].Content, "# not a heading")
}

func TestSplit_NoHeadings(t *testing.T) {
	parts, err := New().Split(context.Background(), "just a paragraph\nof text")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "just a paragraph", parts[0].Summary)

	parts, err = New().Split(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestSplit_EmptySectionsSkipped(t *testing.T) {
	parts, err := New().Split(context.Background(), "#NoSpace is text\n# \n# Real\nbody")
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "Real", parts[1].Summary)
}
