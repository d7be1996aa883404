package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsync/config"
	"vidsync/logger"
	"vidsync/types"
)

func TestSweepRequeuesNewlyAvailableItems(t *testing.T) {
	cfg := testConfig(t)
	st := newTestStore(t)
	addPlaylist(t, st, "p1")
	probe := newFakeProbe()
	q := newRecordingQueue()
	root := cfg.Get().DownloadRoot
	ctx := context.Background()

	no, yes := false, true
	records := []types.ItemRecord{
		{ID: "unconfirmed", Title: "U", SourceURL: "https://example.com/u", HasSponsorBlock: &no},
		{ID: "unknown"},
		{ID: "confirmed", HasSponsorBlock: &yes},
	}
	for _, r := range records {
		r.PlaylistID = "p1"
		r.Status = types.ItemStatusCompleted
		r.FilePath = filepath.Join(root, r.ID, "video.mp4")
		r.CompletedAt = time.Now()
		require.NoError(t, os.MkdirAll(filepath.Join(root, r.ID), 0o755))
		require.NoError(t, st.AddOrReplaceItem(ctx, r))
	}
	require.NoError(t, st.AddOrReplaceItem(ctx, types.ItemRecord{ID: "failed", PlaylistID: "p1", Status: types.ItemStatusFailed}))

	probe.setPresent("unconfirmed", true)
	sw := NewSweeper(cfg, st, probe, q, nil, logger.NewNop())

	result, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, []string{"unconfirmed"}, result.Requeued)

	assert.Equal(t, 0, probe.callCount("confirmed"))
	assert.Equal(t, 0, probe.callCount("failed"))
	assert.Equal(t, 1, probe.callCount("unknown"))

	entries := q.drain()
	require.Len(t, entries, 1)
	assert.Equal(t, types.PendingEntry{ItemID: "unconfirmed", Title: "U", URL: "https://example.com/u", PlaylistID: "p1"}, entries[0])

	rec, err := st.GetItem(ctx, "unconfirmed")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoDirExists(t, filepath.Join(root, "unconfirmed"))
	assert.DirExists(t, filepath.Join(root, "unknown"))
}

func TestSweepSkipsQueuedItems(t *testing.T) {
	cfg := testConfig(t)
	st := newTestStore(t)
	addPlaylist(t, st, "p1")
	probe := newFakeProbe()
	q := newRecordingQueue()
	require.NoError(t, st.AddOrReplaceItem(context.Background(), types.ItemRecord{
		ID: "a", PlaylistID: "p1", Status: types.ItemStatusCompleted, FilePath: "/x/a.mp4",
	}))
	q.Enqueue(types.PendingEntry{ItemID: "a"})

	result, err := NewSweeper(cfg, st, probe, q, nil, logger.NewNop()).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Checked)
	assert.Equal(t, 0, probe.callCount("a"))
}

func TestSweepDisabledWithoutCategories(t *testing.T) {
	cfg := testConfig(t, func(c *config.Configuration) { c.SponsorBlockCategories = []string{} })
	st := newTestStore(t)
	addPlaylist(t, st, "p1")
	require.NoError(t, st.AddOrReplaceItem(context.Background(), types.ItemRecord{
		ID: "a", PlaylistID: "p1", Status: types.ItemStatusCompleted, FilePath: "/x/a.mp4",
	}))
	probe := newFakeProbe()

	result, err := NewSweeper(cfg, st, probe, newRecordingQueue(), nil, logger.NewNop()).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Checked)
	assert.Equal(t, 0, probe.callCount("a"))
}

func TestSweepHonoursCancellation(t *testing.T) {
	cfg := testConfig(t, func(c *config.Configuration) { c.SponsorBlock.RequestsPerSecond = 0.5 })
	st := newTestStore(t)
	addPlaylist(t, st, "p1")
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.AddOrReplaceItem(context.Background(), types.ItemRecord{
			ID: id, PlaylistID: "p1", Status: types.ItemStatusCompleted, FilePath: "/x/" + id + ".mp4",
		}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	result, err := NewSweeper(cfg, st, newFakeProbe(), newRecordingQueue(), nil, logger.NewNop()).Sweep(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, result.Checked)
}

func TestSweepPicksUpRateChanges(t *testing.T) {
	mgr, err := config.NewManager(config.Configuration{DownloadRoot: t.TempDir()}, "")
	require.NoError(t, err)
	st := newTestStore(t)
	addPlaylist(t, st, "p1")
	for _, id := range []string{"a", "b"} {
		require.NoError(t, st.AddOrReplaceItem(context.Background(), types.ItemRecord{
			ID: id, PlaylistID: "p1", Status: types.ItemStatusCompleted, FilePath: "/x/" + id + ".mp4",
		}))
	}
	sw := NewSweeper(mgr, st, newFakeProbe(), newRecordingQueue(), nil, logger.NewNop())

	_, err = mgr.Update(func(c *config.Configuration) { c.SponsorBlock.RequestsPerSecond = 0.5 })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	result, err := sw.Sweep(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, result.Checked)
}
