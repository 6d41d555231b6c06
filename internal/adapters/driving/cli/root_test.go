package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driving"
)

// mockKeeper records requests and returns canned results. Calls it does
// not implement panic through the nil embedded interface.
type mockKeeper struct {
	driving.Keeper

	docs     map[string]*domain.Document
	versions []domain.Version
	parts    []domain.Part
	find     *domain.FindResult
	put      *domain.PutResult
	move     *domain.MoveResult
	recon    *domain.ReconcileResult
	status   *domain.StoreStatus
	pending  *domain.PendingStats
	items    []domain.PendingItem
	queued   bool
	err      error

	lastPut        domain.PutRequest
	lastFind       domain.FindRequest
	lastMove       domain.MoveRequest
	lastTags       map[string]string
	lastAnalyze    domain.AnalyzeRequest
	lastFix        bool
	lastLimit      int
	lastCollection string
	deleted        []string
	cleared        bool
}

func newMockKeeper() *mockKeeper {
	return &mockKeeper{docs: make(map[string]*domain.Document)}
}

func (m *mockKeeper) Put(_ context.Context, req domain.PutRequest) (*domain.PutResult, error) {
	m.lastPut = req
	if m.err != nil {
		return nil, m.err
	}
	if m.put != nil {
		return m.put, nil
	}
	id := req.ID
	if id == "" {
		id = "%generated"
	}
	return &domain.PutResult{
		Document: &domain.Document{ID: id, Summary: req.Content},
		Changed:  true,
		Indexed:  true,
	}, nil
}

func (m *mockKeeper) Get(_ context.Context, collection, id string) (*domain.Document, error) {
	m.lastCollection = collection
	return m.docs[id], m.err
}

func (m *mockKeeper) Exists(_ context.Context, _, id string) (bool, error) {
	return m.docs[id] != nil, m.err
}

func (m *mockKeeper) Delete(_ context.Context, _, id string) (bool, error) {
	if m.docs[id] == nil {
		return false, m.err
	}
	delete(m.docs, id)
	m.deleted = append(m.deleted, id)
	return true, m.err
}

func (m *mockKeeper) Tag(_ context.Context, _, id string, tags map[string]string) (*domain.Document, error) {
	m.lastTags = tags
	doc := m.docs[id]
	if doc == nil || m.err != nil {
		return nil, m.err
	}
	doc.Tags = domain.MergeTags(doc.Tags, tags)
	for k, v := range tags {
		if v == "" {
			delete(doc.Tags, k)
		}
	}
	return doc, nil
}

func (m *mockKeeper) SetSummary(_ context.Context, _, id, summary string) (*domain.Document, error) {
	doc := m.docs[id]
	if doc == nil {
		return nil, m.err
	}
	doc.Summary = summary
	return doc, m.err
}

func (m *mockKeeper) Revert(_ context.Context, _, id string) (*domain.Document, error) {
	if len(m.versions) == 0 {
		delete(m.docs, id)
		return nil, m.err
	}
	return &domain.Document{ID: id, Summary: m.versions[0].Summary}, m.err
}

func (m *mockKeeper) Move(_ context.Context, req domain.MoveRequest) (*domain.MoveResult, error) {
	m.lastMove = req
	return m.move, m.err
}

func (m *mockKeeper) ListVersions(_ context.Context, _, _ string, limit int) ([]domain.Version, error) {
	m.lastLimit = limit
	return m.versions, m.err
}

func (m *mockKeeper) GetVersion(_ context.Context, _, _ string, offset int) (*domain.Version, error) {
	if offset < 1 || offset > len(m.versions) {
		return nil, m.err
	}
	return &m.versions[offset-1], m.err
}

func (m *mockKeeper) VersionNav(_ context.Context, _, _ string, offset int) (*domain.VersionNav, error) {
	nav := &domain.VersionNav{Offset: offset}
	if offset < len(m.versions) {
		prev := offset + 1
		nav.Prev = &prev
	}
	if offset > 0 {
		next := offset - 1
		nav.Next = &next
	}
	return nav, m.err
}

func (m *mockKeeper) ListParts(_ context.Context, _, _ string) ([]domain.Part, error) {
	return m.parts, m.err
}

func (m *mockKeeper) GetPart(_ context.Context, _, _ string, n int) (*domain.Part, error) {
	for i := range m.parts {
		if m.parts[i].PartNum == n {
			return &m.parts[i], m.err
		}
	}
	return nil, m.err
}

func (m *mockKeeper) Analyze(_ context.Context, req domain.AnalyzeRequest) (bool, error) {
	m.lastAnalyze = req
	return m.queued, m.err
}

func (m *mockKeeper) Find(_ context.Context, req domain.FindRequest) (*domain.FindResult, error) {
	m.lastFind = req
	if m.find == nil {
		return &domain.FindResult{Mode: domain.FindSemantic}, m.err
	}
	return m.find, m.err
}

func (m *mockKeeper) Collections(_ context.Context) ([]string, error) {
	return []string{"default", "work"}, m.err
}

func (m *mockKeeper) Status(_ context.Context, collection string) (*domain.StoreStatus, error) {
	m.lastCollection = collection
	return m.status, m.err
}

func (m *mockKeeper) Reconcile(_ context.Context, _ string, fix bool) (*domain.ReconcileResult, error) {
	m.lastFix = fix
	return m.recon, m.err
}

func (m *mockKeeper) PendingStatus(_ context.Context, _ string) ([]domain.PendingItem, error) {
	return m.items, m.err
}

func (m *mockKeeper) PendingStats(_ context.Context) (*domain.PendingStats, error) {
	if m.pending == nil {
		return &domain.PendingStats{}, m.err
	}
	return m.pending, m.err
}

func (m *mockKeeper) ClearPending(_ context.Context) (int, error) {
	m.cleared = true
	return len(m.items), m.err
}

type mockProcessor struct {
	stats   domain.ProcessStats
	err     error
	drained bool
	ran     bool
	limit   int
}

func (p *mockProcessor) RunOnce(_ context.Context, limit int) (domain.ProcessStats, error) {
	p.limit = limit
	return p.stats, p.err
}

func (p *mockProcessor) Drain(_ context.Context) (domain.ProcessStats, error) {
	p.drained = true
	return p.stats, p.err
}

func (p *mockProcessor) Run(_ context.Context) error {
	p.ran = true
	return p.err
}

type mockSettings struct {
	driving.SettingsService

	cfg         domain.KeeperConfig
	validateErr error
	pingErr     error
	setErr      error

	provider domain.AIProvider
	model    string
	apiKey   string
	role     string
}

func (s *mockSettings) Get() (*domain.KeeperConfig, error) { return &s.cfg, nil }
func (s *mockSettings) Validate() error                    { return s.validateErr }

func (s *mockSettings) SetEmbeddingProvider(p domain.AIProvider, model, key string) error {
	s.role, s.provider, s.model, s.apiKey = "embedding", p, model, key
	return s.setErr
}

func (s *mockSettings) SetSummarizerProvider(p domain.AIProvider, model, key string) error {
	s.role, s.provider, s.model, s.apiKey = "summarizer", p, model, key
	return s.setErr
}

func (s *mockSettings) ValidateEmbeddingConfig(context.Context) error  { return s.pingErr }
func (s *mockSettings) ValidateSummarizerConfig(context.Context) error { return s.pingErr }

type testServices struct {
	keeper    *mockKeeper
	processor *mockProcessor
	settings  *mockSettings
	spawned   int
}

// setupTestServices installs mocks and resets flags left over from earlier
// executions of rootCmd.
func setupTestServices() (*testServices, func()) {
	ts := &testServices{
		keeper:    newMockKeeper(),
		processor: &mockProcessor{},
		settings:  &mockSettings{cfg: domain.DefaultKeeperConfig()},
	}
	SetServices(Services{
		Keeper:    ts.keeper,
		Processor: ts.processor,
		Settings:  ts.settings,
		SpawnProcessor: func() error {
			ts.spawned++
			return nil
		},
	})
	resetFlags(rootCmd)
	return ts, func() {
		SetServices(Services{})
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
	}
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// run executes rootCmd with fresh flags and returns its combined output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCmd_HasCommands(t *testing.T) {
	names := make([]string, 0)
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{
		"put", "get", "tag", "del", "summary", "find", "versions", "revert", "move",
		"parts", "analyze", "reconcile", "pending", "process-pending", "collections",
		"status", "config", "mcp", "version",
	} {
		assert.Contains(t, names, want)
	}
}

func TestRootCmd_GlobalFlags(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("collection")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("json"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("verbose"))
}

func TestCommands_WithoutServices(t *testing.T) {
	_, cleanup := setupTestServices()
	cleanup()
	defer cleanup()

	_, err := run(t, "get", "a")
	assert.ErrorContains(t, err, "keeper not configured")
	_, err = run(t, "process-pending")
	assert.ErrorContains(t, err, "processor not configured")
	_, err = run(t, "config", "show")
	assert.ErrorContains(t, err, "settings service not configured")
}

func TestUnavailableKeeper(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()
	SetServices(Services{Unavailable: errors.New("database is locked")})

	_, err := run(t, "get", "a")
	assert.ErrorContains(t, err, "keeper unavailable: database is locked")
}

func TestParseTags(t *testing.T) {
	tags, err := parseTags([]string{"topic=garden", "status=", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"topic": "garden", "status": "", "note": "a=b"}, tags)

	tags, err = parseTags(nil)
	require.NoError(t, err)
	assert.Nil(t, tags)

	_, err = parseTags([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseTags([]string{"=x"})
	assert.Error(t, err)
}

func TestFormatTags_HidesSystemTags(t *testing.T) {
	got := formatTags(map[string]string{"b": "2", "a": "1", domain.TagCreated: "x"})
	assert.Equal(t, "a=1 b=2", got)
}

func TestSetVersion(t *testing.T) {
	original := version
	defer func() { version = original }()

	SetVersion("")
	assert.Equal(t, original, version)
	SetVersion("1.2.3")
	assert.Equal(t, "1.2.3", version)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "one", firstLine("one\ntwo", 10))
	assert.Equal(t, "abc...", firstLine("abcdef", 3))
	assert.Equal(t, "", firstLine("", 3))
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseSince("72h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-72*time.Hour), got)

	got, err = parseSince("2026-06-01T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("2026-06-01", now)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Day())

	_, err = parseSince("yesterday", now)
	assert.Error(t, err)
}

func TestStatusCmd(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	ts.keeper.status = &domain.StoreStatus{
		Collection: "work",
		Documents:  3,
		Versions:   5,
		Indexed:    8,
		Binding: &domain.IndexBinding{
			IndexName: "work__ollama_nomic",
			Identity:  domain.EmbeddingIdentity{Provider: "ollama", Model: "nomic", Dimension: 768},
		},
		Pending: domain.PendingStats{Total: 2, Collections: 1,
			ByTaskType: map[domain.TaskType]int{domain.TaskSummarize: 2}},
	}

	out, err := run(t, "status", "-c", "work")
	require.NoError(t, err)
	assert.Equal(t, "work", ts.keeper.lastCollection)
	assert.Contains(t, out, "Documents: 3")
	assert.Contains(t, out, "ollama/nomic/768")
	assert.Contains(t, out, "summarize  2")
}

func TestCollectionsCmd(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := run(t, "collections")
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "work"}, strings.Fields(out))

	out, err = run(t, "collections", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `["default","work"]`, out)
}
