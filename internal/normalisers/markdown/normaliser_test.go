package markdown

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

func TestSupportedContentTypes(t *testing.T) {
	types := New().SupportedContentTypes()
	assert.Contains(t, types, "text/markdown")
	assert.Contains(t, types, "text/x-markdown")
}

func TestPriority(t *testing.T) {
	assert.Equal(t, 50, New().Priority())
}

func TestNormalise_KeepsMarkdown(t *testing.T) {
	src := "# Main Title\n\nSome **bold** text.\n\n## Section\n\n- item\n"
	out, err := New().Normalise(context.Background(), []byte(src), "/docs/readme.md")
	require.NoError(t, err)

	assert.Equal(t, "Main Title", out.Title)
	assert.Equal(t, "# Main Title\n\nSome **bold** text.\n\n## Section\n\n- item", out.Content)
	assert.Nil(t, out.Tags)
}

func TestNormalise_TitleExtraction(t *testing.T) {
	tests := []struct {
		name    string
		content string
		uri     string
		want    string
	}{
		{"h1 heading", "# My Doc\nbody", "/x/file.md", "My Doc"},
		{"h2 is not a title", "## Sub\nbody", "/x/my-notes.md", "my notes"},
		{"indented h1", "intro\n   # Late Title\n", "/x/a.md", "Late Title"},
		{"no heading", "plain body", "/x/design_doc.md", "design doc"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := New().Normalise(context.Background(), []byte(tc.content), tc.uri)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.Title)
		})
	}
}

func TestNormalise_FrontMatter(t *testing.T) {
	src := "---\ntitle: Release Notes\nProject: Keep\nversion: 2\ndraft: true\naliases: [a, b]\n---\n# Heading\n\nBody.\n"
	out, err := New().Normalise(context.Background(), []byte(src), "notes.md")
	require.NoError(t, err)

	assert.Equal(t, "Release Notes", out.Title)
	assert.Equal(t, "# Heading\n\nBody.", out.Content)
	assert.Equal(t, map[string]string{"project": "Keep", "version": "2", "draft": "true"}, out.Tags)
}

func TestNormalise_FrontMatterAtEndOfFile(t *testing.T) {
	out, err := New().Normalise(context.Background(), []byte("---\nauthor: ann\n---"), "empty.md")
	require.NoError(t, err)

	assert.Empty(t, out.Content)
	assert.Equal(t, map[string]string{"author": "ann"}, out.Tags)
	assert.Equal(t, "empty", out.Title)
}

func TestNormalise_MalformedFrontMatterKept(t *testing.T) {
	src := "---\nkey: [unclosed\n---\nbody"
	out, err := New().Normalise(context.Background(), []byte(src), "bad.md")
	require.NoError(t, err)

	assert.Equal(t, src, out.Content)
	assert.Nil(t, out.Tags)
}

func TestNormalise_HorizontalRuleIsNotFrontMatter(t *testing.T) {
	src := "Intro\n---\nMore"
	out, err := New().Normalise(context.Background(), []byte(src), "rule.md")
	require.NoError(t, err)
	assert.Equal(t, src, out.Content)
}

func TestNormalise_RejectsBinary(t *testing.T) {
	_, err := New().Normalise(context.Background(), []byte{0xff, 0xfe}, "x.md")
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestInterfaceCompliance(t *testing.T) {
	var _ driven.Normaliser = New()
}
