package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keep/internal/core/domain"
)

func TestFindCmd_Use(t *testing.T) {
	assert.Equal(t, "find [query]", findCmd.Use)
	flag := findCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "n", flag.Shorthand)
	assert.Equal(t, "10", flag.DefValue)
}

func TestFindCmd_Request(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	_, err := run(t, "find", "tomatoes", "-n", "5", "-t", "area=home", "--since", "48h", "--versions", "--parts")
	require.NoError(t, err)

	req := ts.keeper.lastFind
	assert.Equal(t, "tomatoes", req.Query)
	assert.Equal(t, 5, req.Limit)
	assert.Equal(t, domain.TagFilter{"area": "home"}, req.Tags)
	assert.WithinDuration(t, time.Now().Add(-48*time.Hour), req.Since, time.Minute)
	assert.True(t, req.IncludeVersions)
	assert.True(t, req.IncludeParts)
}

func TestFindCmd_NoQueryListsRecent(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	ts.keeper.find = &domain.FindResult{Mode: domain.FindTags, Hits: []domain.FindHit{
		{Key: "b", ID: "b", Summary: "newest"},
	}}

	out, err := run(t, "find")
	require.NoError(t, err)
	assert.Empty(t, ts.keeper.lastFind.Query)
	assert.Contains(t, out, "[1] b\n")
	assert.Contains(t, out, "newest")
}

func TestFindCmd_Output(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	ts.keeper.find = &domain.FindResult{Mode: domain.FindFulltext, Hits: []domain.FindHit{
		{Key: "a@v2", ID: "a", Kind: domain.KeyVersion, Num: 2, Score: 0.75,
			Summary: "first line\nsecond line", Tags: map[string]string{"k": "v"}},
	}}

	out, err := run(t, "find", "line")
	require.NoError(t, err)
	assert.Contains(t, out, "text match")
	assert.Contains(t, out, "[1] a@v2 (0.75)")
	assert.Contains(t, out, "k=v")
	assert.Contains(t, out, "first line")
	assert.NotContains(t, out, "second line")

	out, err = run(t, "find", "--json", "line")
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"fulltext","hits":[{"key":"a@v2","id":"a","kind":"version","score":0.75,
		"summary":"first line\nsecond line","tags":{"k":"v"}}]}`, out)
}

func TestFindCmd_NoResults(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := run(t, "find", "nothing")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found.")
}

func TestFindCmd_BadSince(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	_, err := run(t, "find", "--since", "someday", "x")
	assert.ErrorContains(t, err, "invalid --since")
}
