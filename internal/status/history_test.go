package status

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runHistoryContract exercises the behaviour shared by History backends
func runHistoryContract(t *testing.T, h History) {
	t.Helper()
	ctx := context.Background()

	_, err := h.Get(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrRunNotFound)

	running := finishedRun(PhaseCompleted)
	running.Phase = PhaseRunning
	running.EndedAt = nil
	require.NoError(t, h.Publish(ctx, running))

	done := finishedRun(PhaseCompleted)
	done.AddError("record 3 (17): malformed upstream record 17: title must be a non-empty string")
	require.NoError(t, h.Publish(ctx, done))

	other := finishedRun(PhaseFailed)
	other.ID = "6c1b2a1e-1111-4a2b-9c3d-000000000002"
	other.EntityType = "tv_popular"
	other.Error = "cursor store commit tv_popular: disk full"
	require.NoError(t, h.Publish(ctx, other))

	got, err := h.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, got.Phase)
	assert.Equal(t, 5, got.Upserted)
	assert.Equal(t, done.Errors, got.Errors)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(*done.EndedAt))

	latest, err := h.Latest(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "movie_popular", latest[0].EntityType)
	assert.Equal(t, "tv_popular", latest[1].EntityType)
	assert.Equal(t, other.Error, latest[1].Error)
}

func TestFileHistory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	h := NewFileHistory(dir)
	assert.Equal(t, "file", h.Name())
	runHistoryContract(t, h)

	_, err := os.Stat(filepath.Join(dir, "movie_popular", RunFileName))
	assert.NoError(t, err)
}

func TestFileHistory_SkipsCorruptFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "movie_popular"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "movie_popular", RunFileName), []byte("{"), 0600))

	runs, err := NewFileHistory(dir).Latest(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)

	runs, err = NewFileHistory(filepath.Join(dir, "missing")).Latest(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}
