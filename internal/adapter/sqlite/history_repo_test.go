package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertextoedge/archive-fetch/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Ping(t *testing.T) {
	store := openTestStore(t)
	assert.NoError(t, store.Ping())
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.CreateRun(context.Background(), &domain.RunRecord{ID: "run-1", Identifier: "test-item"}))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(schema), version)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, run, "reopening must keep existing rows")
}

func TestHistory_CreateAndFinishRun(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	run := &domain.RunRecord{
		ID:            "run-1",
		Identifier:    "test-item",
		OriginalInput: "https://archive.org/details/test-item",
		OutputDir:     "/tmp/out",
		StartedAt:     time.Now().Add(-time.Minute),
	}
	require.NoError(t, store.CreateRun(ctx, run))
	assert.Equal(t, domain.RunStatusRunning, run.Status)

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "test-item", got.Identifier)
	assert.Equal(t, domain.RunStatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, got.SessionPath)

	finished := time.Now()
	run.Status = domain.RunStatusPartial
	run.SessionPath = "/tmp/out/session.json"
	run.TotalFiles = 5
	run.CompletedFiles = 4
	run.FailedFiles = 1
	run.TotalBytes = 5000
	run.DownloadedBytes = 4000
	run.ErrorMessage = "one file failed"
	run.CompletedAt = &finished
	require.NoError(t, store.FinishRun(ctx, run))

	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPartial, got.Status)
	assert.Equal(t, "/tmp/out/session.json", got.SessionPath)
	assert.Equal(t, 4, got.CompletedFiles)
	assert.Equal(t, 1, got.FailedFiles)
	assert.Equal(t, int64(4000), got.DownloadedBytes)
	assert.Equal(t, "one file failed", got.ErrorMessage)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, finished, *got.CompletedAt, time.Second)
}

func TestHistory_CreateRunDuplicate(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	run := &domain.RunRecord{ID: "dup", Identifier: "item"}
	require.NoError(t, store.CreateRun(ctx, run))
	assert.Error(t, store.CreateRun(ctx, run))
}

func TestHistory_FinishUnknownRun(t *testing.T) {
	store := openTestStore(t)
	err := store.FinishRun(context.Background(), &domain.RunRecord{ID: "missing", Status: domain.RunStatusCompleted})
	assert.Error(t, err)
}

func TestHistory_GetRunMissing(t *testing.T) {
	store := openTestStore(t)
	got, err := store.GetRun(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestHistory_ListRecent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		ident := "item-one"
		if id == "b" {
			ident = "item-two"
		}
		require.NoError(t, store.CreateRun(ctx, &domain.RunRecord{
			ID:         id,
			Identifier: ident,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := store.ListRecent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[2].ID)

	one, err := store.ListRecent(ctx, "item-one", 10)
	require.NoError(t, err)
	require.Len(t, one, 2)
	assert.Equal(t, "c", one[0].ID)

	limited, err := store.ListRecent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestHistory_GetStats(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalRuns)

	now := time.Now()
	runs := []struct {
		id     string
		status string
		bytes  int64
	}{
		{"r1", domain.RunStatusCompleted, 100},
		{"r2", domain.RunStatusCompleted, 200},
		{"r3", domain.RunStatusFailed, 0},
		{"r4", domain.RunStatusPartial, 50},
	}
	for _, r := range runs {
		rec := &domain.RunRecord{ID: r.id, Identifier: "item"}
		require.NoError(t, store.CreateRun(ctx, rec))
		rec.Status = r.status
		rec.DownloadedBytes = r.bytes
		rec.CompletedAt = &now
		require.NoError(t, store.FinishRun(ctx, rec))
	}

	stats, err = store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalRuns)
	assert.Equal(t, 2, stats.CompletedRuns)
	assert.Equal(t, 1, stats.FailedRuns)
	assert.Equal(t, int64(350), stats.DownloadedBytes)
}

func TestHistory_PruneOlderThan(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now()

	old := &domain.RunRecord{ID: "old", Identifier: "item", StartedAt: now.Add(-48 * time.Hour)}
	require.NoError(t, store.CreateRun(ctx, old))
	old.Status = domain.RunStatusCompleted
	old.CompletedAt = &now
	require.NoError(t, store.FinishRun(ctx, old))

	// Still running: kept regardless of age
	require.NoError(t, store.CreateRun(ctx, &domain.RunRecord{ID: "stuck", Identifier: "item", StartedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.CreateRun(ctx, &domain.RunRecord{ID: "fresh", Identifier: "item", StartedAt: now}))

	n, err := store.PruneOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetRun(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.GetRun(ctx, "stuck")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
