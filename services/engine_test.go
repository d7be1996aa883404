package services

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsync/config"
	"vidsync/logger"
	"vidsync/store"
	"vidsync/types"
)

type engineFixture struct {
	cfg    config.Static
	store  store.Store
	lister *fakeLister
	probe  *fakeProbe
	runner *fakeRunner
	queue  *jobQueue
	engine Engine
}

func newEngineFixture(t *testing.T, lister SourceLister) *engineFixture {
	t.Helper()
	cfg := testConfig(t)
	st := newTestStore(t)
	probe := newFakeProbe()
	runner := newFakeRunner(st, probe)
	q := newTestQueue(t, cfg, runner, nil)
	fl, _ := lister.(*fakeLister)
	log := logger.NewNop()
	return &engineFixture{
		cfg:    cfg,
		store:  st,
		lister: fl,
		probe:  probe,
		runner: runner,
		queue:  q,
		engine: NewEngine(Deps{
			Config:     cfg,
			Store:      st,
			Lister:     lister,
			Queue:      q,
			Reconciler: NewReconciler(cfg, st, lister, q, nil, log),
			Sweeper:    NewSweeper(cfg, st, probe, q, nil, log),
			Logger:     log,
		}),
	}
}

func TestEngineAddPlaylist(t *testing.T) {
	f := newEngineFixture(t, newFakeLister())
	url := "https://www.youtube.com/playlist?list=PL9"
	f.lister.set(url, "Cooking", "a")
	ctx := context.Background()

	p, err := f.engine.AddPlaylist(ctx, "  "+url+" ", true)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, url, p.URL)
	assert.Equal(t, "Cooking", p.Title)
	assert.True(t, p.Enabled)
	assert.Nil(t, p.LastChecked)

	_, err = f.engine.AddPlaylist(ctx, url, false)
	assert.ErrorIs(t, err, ErrDuplicatePlaylist)

	_, err = f.engine.AddPlaylist(ctx, "https://example.com/unknown", true)
	var resErr *SourceResolutionError
	assert.ErrorAs(t, err, &resErr)

	list, err := f.engine.ListPlaylists(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestEngineUnknownPlaylist(t *testing.T) {
	f := newEngineFixture(t, newFakeLister())
	ctx := context.Background()
	enabled := false

	_, err := f.engine.UpdatePlaylist(ctx, "nope", types.PlaylistPatch{Enabled: &enabled})
	assert.ErrorIs(t, err, ErrPlaylistNotFound)
	assert.ErrorIs(t, f.engine.DeletePlaylist(ctx, "nope", false), ErrPlaylistNotFound)
	_, err = f.engine.SyncPlaylist(ctx, "nope")
	assert.ErrorIs(t, err, ErrPlaylistNotFound)
	_, err = f.engine.ListItems(ctx, "nope")
	assert.ErrorIs(t, err, ErrPlaylistNotFound)
}

func TestEngineSyncDownloadsAndDeleteCascades(t *testing.T) {
	f := newEngineFixture(t, newFakeLister())
	ctx := context.Background()
	p := addPlaylist(t, f.store, "p1")
	f.lister.set(p.URL, "Road Trips", "a", "b")

	n, err := f.engine.SyncPlaylist(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	waitIdle(t, f.engine)

	items, err := f.engine.ListItems(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.True(t, it.IsCompleted())
	}

	root := f.cfg.Get().DownloadRoot
	require.NoError(t, os.MkdirAll(ItemFolder(root, "a"), 0o755))

	require.NoError(t, f.engine.DeletePlaylist(ctx, "p1", true))
	items, err = f.store.GetItems(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NoDirExists(t, ItemFolder(root, "a"))
}

func TestEngineDeleteKeepsFilesByDefault(t *testing.T) {
	f := newEngineFixture(t, newFakeLister())
	ctx := context.Background()
	addPlaylist(t, f.store, "p1")
	require.NoError(t, f.store.AddOrReplaceItem(ctx, types.ItemRecord{
		ID: "a", PlaylistID: "p1", Status: types.ItemStatusCompleted, FilePath: "/x/a.mp4",
	}))
	folder := ItemFolder(f.cfg.Get().DownloadRoot, "a")
	require.NoError(t, os.MkdirAll(folder, 0o755))

	require.NoError(t, f.engine.DeletePlaylist(ctx, "p1", false))
	assert.DirExists(t, folder)
	rec, err := f.store.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestEngineSyncAllIsolatesFailures(t *testing.T) {
	f := newEngineFixture(t, newFakeLister())
	ctx := context.Background()
	good := addPlaylist(t, f.store, "good")
	bad := addPlaylist(t, f.store, "bad")
	off := addPlaylist(t, f.store, "off")
	disabled := false
	_, err := f.store.UpdatePlaylist(ctx, off.ID, types.PlaylistPatch{Enabled: &disabled})
	require.NoError(t, err)

	f.lister.set(good.URL, "Good", "g1", "g2")
	f.lister.fail(bad.URL, errors.New("HTTP Error 404"))
	f.lister.set(off.URL, "Off", "o1")

	summary, err := f.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Playlists)
	assert.Equal(t, 2, summary.Enqueued)
	require.Contains(t, summary.Failures, "bad")
	assert.Contains(t, summary.Failures["bad"], "HTTP Error 404")
	waitIdle(t, f.engine)

	assert.Equal(t, 0, f.runner.runCount("o1"))

	// A disabled playlist can still be synced on demand.
	n, err := f.engine.SyncPlaylist(ctx, off.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	waitIdle(t, f.engine)
}

func TestEngineSponsorSweepConverges(t *testing.T) {
	f := newEngineFixture(t, newFakeLister())
	ctx := context.Background()
	p := addPlaylist(t, f.store, "p1")
	f.lister.set(p.URL, "L", "a")

	_, err := f.engine.SyncPlaylist(ctx, "p1")
	require.NoError(t, err)
	waitIdle(t, f.engine)

	rec, err := f.store.GetItem(ctx, "a")
	require.NoError(t, err)
	require.True(t, rec.IsCompleted())
	assert.False(t, rec.SponsorBlockConfirmed())

	f.probe.setPresent("a", true)
	result, err := f.engine.RunSponsorSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, result.Requeued)
	waitIdle(t, f.engine)

	assert.Equal(t, 2, f.runner.runCount("a"))
	rec, err = f.store.GetItem(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "p1", rec.PlaylistID)
	assert.True(t, rec.SponsorBlockConfirmed())

	result, err = f.engine.RunSponsorSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Checked)
	assert.Empty(t, result.Requeued)
	assert.Equal(t, 2, f.runner.runCount("a"))
}

// gatedLister blocks every Resolve until released.
type gatedLister struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLister) Resolve(ctx context.Context, source string) (*types.Listing, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &types.Listing{ID: source, Title: "Gated"}, nil
}

func TestEngineRunCycleSkipsOverlap(t *testing.T) {
	lister := &gatedLister{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := newEngineFixture(t, lister)
	addPlaylist(t, f.store, "p1")

	first := make(chan types.CycleReport, 1)
	go func() { first <- f.engine.RunCycle(context.Background()) }()

	select {
	case <-lister.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle never reached the lister")
	}

	second := f.engine.RunCycle(context.Background())
	assert.True(t, second.Skipped)

	close(lister.release)
	report := <-first
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.Sync.Playlists)
	assert.Empty(t, report.Sync.Failures)

	got, err := f.store.GetPlaylist(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Gated", got.Title)
}
