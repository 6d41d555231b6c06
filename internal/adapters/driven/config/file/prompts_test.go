package file

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

func TestPromptStore_LoadCreatesDefaultFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewPromptStore(dir)
	assert.Equal(t, filepath.Join(dir, "prompts"), store.Dir())

	prompt, err := store.Load(driven.PromptSummarize)
	require.NoError(t, err)
	want, _ := DefaultPrompt(driven.PromptSummarize)
	assert.Equal(t, want, prompt)

	for _, name := range []string{"summarize.txt", "analyze.txt"} {
		_, err := os.Stat(filepath.Join(store.Dir(), name))
		assert.NoError(t, err, "expected %s to exist", name)
	}
}

func TestPromptStore_UserFileWins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "prompts"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prompts", "analyze.txt"), []byte("  split it  \n"), 0600))

	store := NewPromptStore(dir)
	prompt, err := store.Load(driven.PromptAnalyze)
	require.NoError(t, err)
	assert.Equal(t, "split it", prompt)

	// The existing user file is not overwritten by defaults.
	data, err := os.ReadFile(filepath.Join(dir, "prompts", "analyze.txt"))
	require.NoError(t, err)
	assert.Equal(t, "  split it  \n", string(data))
}

func TestPromptStore_EmptyFileFallsBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "prompts"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prompts", "summarize.txt"), []byte("\n"), 0600))

	prompt, err := NewPromptStore(dir).Load(driven.PromptSummarize)
	require.NoError(t, err)
	want, _ := DefaultPrompt(driven.PromptSummarize)
	assert.Equal(t, want, prompt)
}

func TestPromptStore_UnknownPrompt(t *testing.T) {
	_, err := NewPromptStore(t.TempDir()).Load("nope")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPromptStore_Reload(t *testing.T) {
	dir := t.TempDir()
	store := NewPromptStore(dir)
	_, err := store.Load(driven.PromptAnalyze)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "analyze.txt"), []byte("v2"), 0600))
	prompt, err := store.Load(driven.PromptAnalyze)
	require.NoError(t, err)
	assert.NotEqual(t, "v2", prompt, "cached until reload")

	store.Reload()
	prompt, err = store.Load(driven.PromptAnalyze)
	require.NoError(t, err)
	assert.Equal(t, "v2", prompt)
}

func TestPromptStore_ConcurrentLoad(t *testing.T) {
	store := NewPromptStore(t.TempDir())
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Load(driven.PromptSummarize)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestPromptStore_UnwritableDirServesDefaults(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	prompt, err := NewPromptStore(blocker).Load(driven.PromptAnalyze)
	require.NoError(t, err)
	assert.NotEmpty(t, prompt)
}
