package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keep/internal/core/domain"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func TestSupports(t *testing.T) {
	f := New(nil)
	assert.True(t, f.Supports("file:///tmp/a.txt"))
	assert.True(t, f.Supports("notes/a.md"))
	assert.True(t, f.Supports("/abs/path"))
	assert.False(t, f.Supports("https://example.com/a"))
	assert.False(t, f.Supports(""))
}

func TestFetch_Markdown(t *testing.T) {
	path := writeFile(t, "guide.md", []byte("---\nteam: infra\n---\n# Setup Guide\n\nInstall it."))

	doc, err := New(nil).Fetch(context.Background(), "file://"+path)
	require.NoError(t, err)

	assert.Equal(t, "text/markdown", doc.ContentType)
	assert.Equal(t, path, doc.Path)
	assert.Equal(t, "# Setup Guide\n\nInstall it.", doc.Content)
	assert.Equal(t, map[string]string{"team": "infra", TagTitle: "Setup Guide"}, doc.Tags)
}

func TestFetch_PlainPathWithoutExtension(t *testing.T) {
	path := writeFile(t, "NOTES", []byte("remember the milk"))

	doc, err := New(nil).Fetch(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "text/plain", doc.ContentType)
	assert.Equal(t, "remember the milk", doc.Content)
	assert.Equal(t, "NOTES", doc.Tags[TagTitle])
}

func TestFetch_MediaHasNoContent(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	path := writeFile(t, "photo.png", png)

	doc, err := New(nil).Fetch(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "image/png", doc.ContentType)
	assert.Empty(t, doc.Content)
	assert.Equal(t, path, doc.Path)
}

func TestFetch_Errors(t *testing.T) {
	ctx := context.Background()
	f := New(nil, WithMaxBytes(8))

	_, err := f.Fetch(ctx, "https://example.com/x")
	assert.ErrorIs(t, err, domain.ErrFetcherUnavailable)

	_, err = f.Fetch(ctx, filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = f.Fetch(ctx, t.TempDir())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.Fetch(ctx, writeFile(t, "big.txt", []byte("more than eight bytes")))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.Fetch(ctx, writeFile(t, "blob.zzzzunknown", []byte{0x00, 0x01, 0x02}))
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		filename string
		data     string
		want     string
	}{
		{"doc.md", "", "text/markdown"},
		{"FILE.MD", "", "text/markdown"},
		{"code.go", "", "text/x-go"},
		{"config.yml", "", "text/yaml"},
		{"page.html", "", "text/html"},
		{"data.json", "", "application/json"},
		{"noext", "plain words", "text/plain"},
		{"noext", "<!DOCTYPE html><html></html>", "text/html"},
	}
	for _, tc := range tests {
		t.Run(tc.filename, func(t *testing.T) {
			got := detectContentType(tc.filename, []byte(tc.data))
			assert.Equal(t, tc.want, got)
			assert.NotContains(t, got, ";")
		})
	}
}
