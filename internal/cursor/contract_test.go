package cursor_test

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/tmdb-sync/internal/catalog"
	"github.com/stacklok/tmdb-sync/internal/cursor"
)

func runStoreContract(t *testing.T, store cursor.Store) {
	t.Helper()
	ctx := context.Background()

	got, err := store.Get(ctx, catalog.MoviePopular)
	require.NoError(t, err)
	assert.Equal(t, cursor.Initial(catalog.MoviePopular), got)
	assert.Empty(t, got.Token)
	assert.True(t, got.LastCommitted.Equal(cursor.Epoch))
	assert.Equal(t, cursor.StatusIdle, got.Status)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	committedAt := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	c := &cursor.Cursor{
		EntityType:    catalog.MoviePopular,
		Token:         "3",
		Page:          2,
		LastCommitted: committedAt,
		Status:        cursor.StatusRunning,
		Inserted:      30,
		Updated:       7,
		UpdatedAt:     committedAt,
	}
	require.NoError(t, store.Commit(ctx, c))

	incremental := &cursor.Cursor{
		EntityType:    catalog.MovieChanges,
		Token:         "2",
		Page:          1,
		WindowStart:   committedAt.Add(-24 * time.Hour),
		WindowEnd:     committedAt,
		LastCommitted: committedAt,
		Status:        cursor.StatusIdle,
		UpdatedAt:     committedAt,
	}
	require.NoError(t, store.Commit(ctx, incremental))

	got, err = store.Get(ctx, catalog.MoviePopular)
	require.NoError(t, err)
	assert.Equal(t, "3", got.Token)
	assert.Equal(t, 2, got.Page)
	assert.Equal(t, cursor.StatusRunning, got.Status)
	assert.Equal(t, int64(30), got.Inserted)
	assert.Equal(t, int64(7), got.Updated)
	assert.True(t, got.LastCommitted.Equal(committedAt))
	assert.True(t, got.WindowStart.IsZero())
	assert.True(t, got.WindowEnd.IsZero())

	got, err = store.Get(ctx, catalog.MovieChanges)
	require.NoError(t, err)
	assert.True(t, got.WindowStart.Equal(committedAt.Add(-24*time.Hour)))
	assert.True(t, got.WindowEnd.Equal(committedAt), "window end travels with the token")
	assert.Equal(t, "2", got.Token)

	// A later commit replaces the whole cursor
	c.Token = ""
	c.Status = cursor.StatusIdle
	require.NoError(t, store.Commit(ctx, c))
	got, err = store.Get(ctx, catalog.MoviePopular)
	require.NoError(t, err)
	assert.Empty(t, got.Token)
	assert.Equal(t, cursor.StatusIdle, got.Status)

	list, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, catalog.MovieChanges, list[0].EntityType)
	assert.Equal(t, catalog.MoviePopular, list[1].EntityType)
}

// Concurrent readers only ever see one of the committed cursors in full
func runAtomicCommit(t *testing.T, store cursor.Store) {
	t.Helper()
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 50; i++ {
			assert.NoError(t, store.Commit(ctx, &cursor.Cursor{
				EntityType:    catalog.TVPopular,
				Page:          i,
				Token:         strconv.Itoa(i + 1),
				Inserted:      int64(i * 10),
				LastCommitted: cursor.Epoch,
				Status:        cursor.StatusRunning,
			}))
		}
	}()
	go func() {
		defer wg.Done()
		for range 50 {
			got, err := store.Get(ctx, catalog.TVPopular)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, int64(got.Page*10), got.Inserted, "half-written cursor observed")
		}
	}()
	wg.Wait()
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	runStoreContract(t, cursor.NewMemoryStore())
	runAtomicCommit(t, cursor.NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	runStoreContract(t, cursor.NewFileStore(filepath.Join(t.TempDir(), "cursors")))
	runAtomicCommit(t, cursor.NewFileStore(t.TempDir()))
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	store, err := cursor.OpenSQLite(filepath.Join(t.TempDir(), "state", "cursors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	runStoreContract(t, store)

	mem, err := cursor.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	runAtomicCommit(t, mem)
}
