package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keep/internal/core/domain"
)

func TestDocumentStore_ConcurrentStoresKeepEveryVersion(t *testing.T) {
	const storeCount, writes = 4, 10
	dir := t.TempDir()
	ctx := context.Background()

	stores := make([]*Store, storeCount)
	for i := range stores {
		s, err := NewStore(dir, Options{BusyTimeout: 30 * time.Second})
		require.NoError(t, err)
		t.Cleanup(func() { assert.NoError(t, s.Close()) })
		stores[i] = s
	}

	var wg sync.WaitGroup
	for i, s := range stores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			docs := s.DocumentStore()
			for j := 0; j < writes; j++ {
				_, err := docs.Upsert(ctx, testDoc("shared", fmt.Sprintf("s%d-%d", i, j),
					fmt.Sprintf("h%d-%d", i, j), nil))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	docs := stores[0].DocumentStore()
	versions, err := docs.ListVersions(ctx, "default", "shared", 0)
	require.NoError(t, err)
	require.Len(t, versions, storeCount*writes-1)

	hashes := make(map[string]bool)
	for k, v := range versions {
		assert.Equal(t, storeCount*writes-1-k, v.Version, "version numbers are gap-free")
		hashes[v.ContentHash] = true
	}
	current, err := docs.Get(ctx, "default", "shared")
	require.NoError(t, err)
	require.NotNil(t, current)
	hashes[current.ContentHash] = true
	assert.Len(t, hashes, storeCount*writes, "no write was lost")
}

func TestDSN_CapsDriverBusyWait(t *testing.T) {
	assert.Contains(t, dsn("x.db", 30*time.Second), "busy_timeout(1000)")
	assert.Contains(t, dsn("x.db", 200*time.Millisecond), "busy_timeout(200)")
	assert.Contains(t, dsn("x.db", time.Second), "_txlock=immediate")
}

func TestWithTx_BusyPastTimeoutIsErrStoreBusy(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewStore(dir, Options{BusyTimeout: time.Second})
	require.NoError(t, err)
	defer store.Close()

	holder, err := sql.Open("sqlite", filepath.Join(dir, DocumentsFile))
	require.NoError(t, err)
	defer holder.Close()
	conn, err := holder.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
	require.NoError(t, err)

	start := time.Now()
	_, err = store.DocumentStore().Upsert(ctx, testDoc("a", "blocked", "h1", nil))
	elapsed := time.Since(start)
	assert.ErrorIs(t, err, domain.ErrStoreBusy)
	assert.Less(t, elapsed, 4*time.Second, "the configured timeout bounds the wait")

	_, err = conn.ExecContext(ctx, "ROLLBACK")
	require.NoError(t, err)
	_, err = store.DocumentStore().Upsert(ctx, testDoc("a", "unblocked", "h1", nil))
	assert.NoError(t, err)
}

func TestNewStore_SalvagesRowsFromDamagedFile(t *testing.T) {
	const total = 300
	dir := t.TempDir()
	path := filepath.Join(dir, DocumentsFile)
	ctx := context.Background()

	store, err := NewStore(dir, Options{})
	require.NoError(t, err)
	docs := store.DocumentStore()
	body := strings.Repeat("x", 2048)
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("doc-%03d", i)
		_, err := docs.Upsert(ctx, testDoc(id, id+body, "h"+id, nil))
		require.NoError(t, err)
	}
	_, err = store.documents.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Overwrite the last two pages with garbage.
	info, err := os.Stat(path)
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(bytes.Repeat([]byte{0xA5}, 2*4096), info.Size()-2*4096)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	store, err = NewStore(dir, Options{})
	require.NoError(t, err)
	defer store.Close()

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.NotEmpty(t, matches, "damaged file is preserved")

	ids, err := store.DocumentStore().ListIDs(ctx, "default")
	require.NoError(t, err)
	require.NotEmpty(t, ids, "readable rows survive recovery")
	assert.LessOrEqual(t, len(ids), total)

	doc, err := store.DocumentStore().Get(ctx, "default", ids[0])
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, ids[0]+body, doc.Summary)
}
