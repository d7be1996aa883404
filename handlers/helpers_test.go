package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"vidsync/services"
	"vidsync/types"
)

// fakeEngine is an in-memory services.Engine.
type fakeEngine struct {
	mu        sync.Mutex
	playlists map[string]*types.PlaylistRef
	items     []types.ItemRecord
	listings  map[string]*types.Listing
	status    types.QueueStatus
	synced    []string
	deleted   map[string]bool
	sweep     types.SweepResult
	err       error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		playlists: map[string]*types.PlaylistRef{},
		listings:  map[string]*types.Listing{},
		deleted:   map[string]bool{},
	}
}

func (f *fakeEngine) ResolveSource(_ context.Context, source string) (*types.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[source]
	if !ok {
		return nil, &services.SourceResolutionError{Source: source, Stderr: "ERROR: Unsupported URL", Err: errors.New("exit status 1")}
	}
	return l, nil
}

func (f *fakeEngine) ListPlaylists(context.Context) ([]types.PlaylistRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []types.PlaylistRef{}
	for _, p := range f.playlists {
		out = append(out, *p)
	}
	return out, f.err
}

func (f *fakeEngine) AddPlaylist(ctx context.Context, url string, enabled bool) (*types.PlaylistRef, error) {
	listing, err := f.ResolveSource(ctx, url)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.playlists {
		if p.URL == url {
			return nil, services.ErrDuplicatePlaylist
		}
	}
	p := &types.PlaylistRef{ID: "pl-" + listing.ID, URL: url, Title: listing.Title, Enabled: enabled}
	f.playlists[p.ID] = p
	return p, nil
}

func (f *fakeEngine) UpdatePlaylist(_ context.Context, id string, patch types.PlaylistPatch) (*types.PlaylistRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.playlists[id]
	if !ok {
		return nil, services.ErrPlaylistNotFound
	}
	patch.Apply(p)
	return p, nil
}

func (f *fakeEngine) DeletePlaylist(_ context.Context, id string, deleteFiles bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.playlists[id]; !ok {
		return services.ErrPlaylistNotFound
	}
	delete(f.playlists, id)
	f.deleted[id] = deleteFiles
	return nil
}

func (f *fakeEngine) ListItems(_ context.Context, playlistID string) ([]types.ItemRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if playlistID != "" {
		if _, ok := f.playlists[playlistID]; !ok {
			return nil, services.ErrPlaylistNotFound
		}
	}
	out := []types.ItemRecord{}
	for _, it := range f.items {
		if playlistID == "" || it.PlaylistID == playlistID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeEngine) SyncPlaylist(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.playlists[id]; !ok {
		return 0, services.ErrPlaylistNotFound
	}
	f.synced = append(f.synced, id)
	return 2, nil
}

func (f *fakeEngine) SyncAll(context.Context) (types.SyncSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return types.SyncSummary{Playlists: len(f.playlists), Enqueued: 3, Failures: map[string]string{"bad": "resolve failed"}}, f.err
}

func (f *fakeEngine) RunSponsorSweep(context.Context) (types.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweep, f.err
}

func (f *fakeEngine) RunCycle(context.Context) types.CycleReport {
	return types.CycleReport{}
}

func (f *fakeEngine) Status() types.QueueStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeEngine) setStatus(s types.QueueStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

func (f *fakeEngine) WaitIdle(context.Context) error { return nil }

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
