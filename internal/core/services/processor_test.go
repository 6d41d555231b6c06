package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// stubLocker hands out one lock per name within the process.
type stubLocker struct {
	held map[string]bool
}

func newStubLocker() *stubLocker {
	return &stubLocker{held: make(map[string]bool)}
}

type stubLock struct {
	l    *stubLocker
	name string
}

func (s *stubLock) Unlock() error {
	delete(s.l.held, s.name)
	return nil
}

func (l *stubLocker) TryLock(name string) (driven.Lock, error) {
	if l.held[name] {
		return nil, domain.ErrLockHeld
	}
	l.held[name] = true
	return &stubLock{l: l, name: name}, nil
}

func (l *stubLocker) Lock(ctx context.Context, name string) (driven.Lock, error) {
	if l.held[name] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return l.TryLock(name)
}

// chanNotifier is a ChangeNotifier driven by the test.
type chanNotifier struct {
	ch chan struct{}
}

func (n *chanNotifier) Changes() <-chan struct{} { return n.ch }
func (n *chanNotifier) Close() error             { return nil }

func longDoc(t *testing.T, k *Keeper, id, content string) {
	t.Helper()
	res := put(t, k, id, content, nil)
	require.True(t, res.SummaryPending)
}

func TestProcessor_SummarizesPendingDocuments(t *testing.T) {
	env := newTestEnv(t)
	sum := &fakeSummarizer{}
	k := env.keeper(newFakeEmbedder(), sum, func(cfg *domain.KeeperConfig) {
		cfg.MaxSummaryLength = 5
	})
	ctx := context.Background()

	longDoc(t, k, "a", "a long document about gardening")
	longDoc(t, k, "b", "another long document about bees")

	stats, err := NewProcessor(k, newStubLocker(), nil).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)
	assert.Zero(t, stats.Failed)

	doc, err := k.Get(ctx, "", "a")
	require.NoError(t, err)
	assert.Equal(t, "Summary of a (31 bytes)", doc.Summary)

	entry, err := env.vectors.Get(ctx, activeIndex(t, k, domain.DefaultCollection), "a")
	require.NoError(t, err)
	assert.Equal(t, "Summary of a (31 bytes)", entry.Summary)

	pending, err := k.PendingStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending.Total)
}

func TestProcessor_DropsStaleSummaries(t *testing.T) {
	sum := &fakeSummarizer{}
	k := newTestEnv(t).keeper(nil, sum, func(cfg *domain.KeeperConfig) {
		cfg.MaxSummaryLength = 5
	})
	ctx := context.Background()

	longDoc(t, k, "a", "long content queued for summary")

	// Queue an item for content that is no longer current.
	item := domain.PendingItem{
		ID:         "a",
		Collection: domain.DefaultCollection,
		TaskType:   domain.TaskSummarize,
		Content:    "old text",
		Metadata:   map[string]string{domain.MetaContentHash: "stale-hash"},
		QueuedAt:   time.Now().UTC(),
	}
	require.NoError(t, k.pending.Enqueue(ctx, item))

	stats, err := NewProcessor(k, nil, nil).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stale)
	assert.Zero(t, stats.Processed)
	assert.Zero(t, sum.calls)

	doc, err := k.Get(ctx, "", "a")
	require.NoError(t, err)
	assert.Equal(t, "long ...", doc.Summary)
}

func TestProcessor_DeletedDocumentIsStale(t *testing.T) {
	k := newTestEnv(t).keeper(nil, &fakeSummarizer{}, func(cfg *domain.KeeperConfig) {
		cfg.MaxSummaryLength = 5
	})
	ctx := context.Background()

	longDoc(t, k, "a", "long content queued for summary")
	require.NoError(t, k.pending.Enqueue(ctx, domain.PendingItem{
		ID: "ghost", Collection: domain.DefaultCollection, TaskType: domain.TaskSummarize,
		Content: "x", QueuedAt: time.Now().UTC(),
	}))

	stats, err := NewProcessor(k, nil, nil).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Stale)
}

func TestProcessor_AbandonsAfterMaxAttempts(t *testing.T) {
	sum := &fakeSummarizer{err: errors.New("model crashed")}
	k := newTestEnv(t).keeper(nil, sum, func(cfg *domain.KeeperConfig) {
		cfg.MaxSummaryLength = 5
		cfg.Processor.MaxAttempts = 5
	})
	ctx := context.Background()
	p := NewProcessor(k, nil, nil)

	longDoc(t, k, "a", "content that never summarizes")

	for attempt := 1; attempt < 5; attempt++ {
		stats, err := p.RunOnce(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Failed, "attempt %d", attempt)

		items, err := k.PendingStatus(ctx, "a")
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, attempt, items[0].Attempts)
		assert.Equal(t, "summarizing: model crashed", items[0].LastError)
	}

	stats, err := p.RunOnce(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Abandoned)
	assert.Equal(t, 5, sum.calls)

	items, err := k.PendingStatus(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, items)

	doc, err := k.Get(ctx, "", "a")
	require.NoError(t, err)
	assert.Equal(t, "conte...", doc.Summary, "placeholder stays")
}

func TestProcessor_DrainStopsWithoutProgress(t *testing.T) {
	sum := &fakeSummarizer{err: errors.New("offline")}
	k := newTestEnv(t).keeper(nil, sum, func(cfg *domain.KeeperConfig) {
		cfg.MaxSummaryLength = 5
	})

	longDoc(t, k, "a", "content that never summarizes")

	stats, err := NewProcessor(k, nil, nil).Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, sum.calls)
}

func TestProcessor_SummarizerRemovedDropsItems(t *testing.T) {
	env := newTestEnv(t)
	withSummarizer := env.keeper(nil, &fakeSummarizer{}, func(cfg *domain.KeeperConfig) {
		cfg.MaxSummaryLength = 5
	})
	longDoc(t, withSummarizer, "a", "queued while a summarizer existed")

	without := env.keeper(nil, nil, nil)
	stats, err := NewProcessor(without, nil, nil).Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stale)
}

func TestProcessor_SingleInstance(t *testing.T) {
	k := newTestEnv(t).keeper(nil, nil, nil)
	locker := newStubLocker()

	held, err := locker.TryLock(ProcessorLockName)
	require.NoError(t, err)

	p := NewProcessor(k, locker, nil)
	_, err = p.Drain(context.Background())
	assert.ErrorIs(t, err, domain.ErrProcessorRunning)
	assert.ErrorIs(t, p.Run(context.Background()), domain.ErrProcessorRunning)

	require.NoError(t, held.Unlock())
	_, err = p.Drain(context.Background())
	assert.NoError(t, err)
	assert.False(t, locker.held[ProcessorLockName], "lock released after drain")
}

func TestProcessor_RunWakesOnChange(t *testing.T) {
	sum := &fakeSummarizer{}
	k := newTestEnv(t).keeper(nil, sum, func(cfg *domain.KeeperConfig) {
		cfg.MaxSummaryLength = 5
		cfg.Processor.PollInterval = time.Hour
	})
	notifier := &chanNotifier{ch: make(chan struct{}, 1)}
	var watched string
	p := NewProcessor(k, newStubLocker(), func(path string) (driven.ChangeNotifier, error) {
		watched = path
		return notifier, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	longDoc(t, k, "a", "written while the daemon waits")
	notifier.ch <- struct{}{}

	require.Eventually(t, func() bool {
		items, err := k.PendingStatus(context.Background(), "a")
		return err == nil && len(items) == 0
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not stop")
	}
	assert.Equal(t, k.pending.Path(), watched)
}
