package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keep/internal/core/domain"
)

func TestVersionsCmd(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	out, err := run(t, "versions", "a")
	require.NoError(t, err)
	assert.Contains(t, out, "a has no earlier versions.")

	ts.keeper.versions = []domain.Version{
		{ID: "a", Version: 2, Summary: "second"},
		{ID: "a", Version: 1, Summary: "first"},
	}
	out, err = run(t, "versions", "a", "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, 2, ts.keeper.lastLimit)
	assert.Contains(t, out, "-V 1   v2")
	assert.Contains(t, out, "first")
}

func TestRevertCmd(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	_, err := run(t, "revert", "missing")
	assert.ErrorContains(t, err, "missing not found")

	ts.keeper.docs["a"] = &domain.Document{ID: "a"}
	ts.keeper.versions = []domain.Version{{ID: "a", Version: 1, Summary: "before"}}
	out, err := run(t, "revert", "a")
	require.NoError(t, err)
	assert.Contains(t, out, "a reverted")

	ts.keeper.versions = nil
	out, err = run(t, "revert", "a")
	require.NoError(t, err)
	assert.Contains(t, out, "had no earlier version and was deleted")
}

func TestMoveCmd(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	ts.keeper.move = &domain.MoveResult{
		Target:    &domain.Document{ID: "b"},
		Extracted: 3,
	}

	out, err := run(t, "move", "a", "b", "-t", "topic=x")
	require.NoError(t, err)
	assert.Equal(t, domain.MoveRequest{Source: "a", Target: "b", Tags: domain.TagFilter{"topic": "x"}}, ts.keeper.lastMove)
	assert.Contains(t, out, "Moved 3 state(s) from a to b")
	assert.Contains(t, out, "a is now empty and was removed")

	ts.keeper.move.Source = &domain.Document{ID: "a"}
	out, err = run(t, "move", "a", "b", "--current")
	require.NoError(t, err)
	assert.True(t, ts.keeper.lastMove.OnlyCurrent)
	assert.NotContains(t, out, "now empty")

	_, err = run(t, "move", "a")
	assert.ErrorContains(t, err, "accepts 2 arg(s)")
}

func TestPartsCmd(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	out, err := run(t, "parts", "a")
	require.NoError(t, err)
	assert.Contains(t, out, "run 'keep analyze a'")

	ts.keeper.parts = []domain.Part{
		{ID: "a", PartNum: 1, Summary: "intro"},
		{ID: "a", PartNum: 2, Summary: "body"},
	}
	out, err = run(t, "parts", "a")
	require.NoError(t, err)
	assert.Contains(t, out, "a@p1  intro")
	assert.Contains(t, out, "a@p2  body")
}

func TestAnalyzeCmd(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	out, err := run(t, "analyze", "a")
	require.NoError(t, err)
	assert.Contains(t, out, "not queued")
	assert.Zero(t, ts.spawned)

	ts.keeper.queued = true
	out, err = run(t, "analyze", "a", "--force", "--content", "override")
	require.NoError(t, err)
	assert.Contains(t, out, "a queued for analysis")
	assert.Equal(t, domain.AnalyzeRequest{ID: "a", Content: "override", Force: true}, ts.keeper.lastAnalyze)
	assert.Equal(t, 1, ts.spawned)
}
