package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vidsync/types"
)

const (
	documentVersion = 1
	documentMagic   = "VIDSYNC_RECORDS"
)

type documentHeader struct {
	Version int       `json:"version"`
	Magic   string    `json:"magic"`
	Updated time.Time `json:"updated"`
}

type document struct {
	Header    documentHeader      `json:"header"`
	Playlists []types.PlaylistRef `json:"playlists"`
	Items     []types.ItemRecord  `json:"items"`
}

// state is the in-memory image of the document. Slices keep insertion order.
type state struct {
	playlists []types.PlaylistRef
	items     []types.ItemRecord
}

func (s state) clone() state {
	out := state{
		playlists: make([]types.PlaylistRef, len(s.playlists)),
		items:     make([]types.ItemRecord, len(s.items)),
	}
	for i, p := range s.playlists {
		out.playlists[i] = clonePlaylist(p)
	}
	for i, r := range s.items {
		out.items[i] = cloneItem(r)
	}
	return out
}

func (s state) playlistIndex(id string) int {
	for i, p := range s.playlists {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s state) itemIndex(id string) int {
	for i, r := range s.items {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// JSONStore keeps the whole record set in one JSON document. Every mutation
// runs load-mutate-persist under a single write lock and writes the document
// to a temp file that is fsynced and renamed over the original.
type JSONStore struct {
	path   string
	unlock func()

	mu    sync.RWMutex
	state state
}

// OpenJSON loads (or creates) the document at path and takes its lock file.
func OpenJSON(path string) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	unlock, err := tryLock(path)
	if err != nil {
		return nil, err
	}

	st, err := loadDocument(path)
	if err != nil {
		unlock()
		return nil, err
	}
	return &JSONStore{path: path, unlock: unlock, state: st}, nil
}

func loadDocument(path string) (state, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return state{}, nil
	}
	if err != nil {
		return state{}, fmt.Errorf("open store: %w", err)
	}
	defer f.Close()
	return decodeDocument(f)
}

func decodeDocument(r io.Reader) (state, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return state{}, nil
		}
		return state{}, fmt.Errorf("decode store: %w", err)
	}
	if doc.Header.Magic != documentMagic {
		return state{}, fmt.Errorf("invalid store magic: %q", doc.Header.Magic)
	}
	if doc.Header.Version != documentVersion {
		return state{}, fmt.Errorf("unsupported store version: %d", doc.Header.Version)
	}

	st := state{playlists: doc.Playlists}
	// Collapse duplicate item ids, last one wins.
	for _, rec := range doc.Items {
		if i := st.itemIndex(rec.ID); i >= 0 {
			st.items[i] = rec
			continue
		}
		st.items = append(st.items, rec)
	}
	return st, nil
}

func encodeDocument(w io.Writer, st state) error {
	doc := document{
		Header: documentHeader{
			Version: documentVersion,
			Magic:   documentMagic,
			Updated: time.Now().UTC(),
		},
		Playlists: st.playlists,
		Items:     st.items,
	}
	if doc.Playlists == nil {
		doc.Playlists = []types.PlaylistRef{}
	}
	if doc.Items == nil {
		doc.Items = []types.ItemRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	return nil
}

// persist writes st atomically.
func (s *JSONStore) persist(st state) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".vidsync-*.json")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encodeDocument(tmp, st); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

// mutate applies fn to a copy of the state, persists it and publishes it.
// When fn returns changed=false nothing is written.
func (s *JSONStore) mutate(fn func(st *state) (changed bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	changed, err := fn(&next)
	if err != nil || !changed {
		return err
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// GetPlaylists returns every playlist in creation order.
func (s *JSONStore) GetPlaylists(_ context.Context) ([]types.PlaylistRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.PlaylistRef, 0, len(s.state.playlists))
	for _, p := range s.state.playlists {
		out = append(out, clonePlaylist(p))
	}
	return out, nil
}

// GetPlaylist returns one playlist.
func (s *JSONStore) GetPlaylist(_ context.Context, id string) (*types.PlaylistRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.state.playlistIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("playlist %s: %w", id, ErrNotFound)
	}
	p := clonePlaylist(s.state.playlists[i])
	return &p, nil
}

// AddPlaylist stores a new playlist. Ids must be unique.
func (s *JSONStore) AddPlaylist(_ context.Context, p types.PlaylistRef) error {
	return s.mutate(func(st *state) (bool, error) {
		if st.playlistIndex(p.ID) >= 0 {
			return false, fmt.Errorf("playlist %s already exists", p.ID)
		}
		st.playlists = append(st.playlists, clonePlaylist(p))
		return true, nil
	})
}

// UpdatePlaylist applies patch to the playlist with id.
func (s *JSONStore) UpdatePlaylist(_ context.Context, id string, patch types.PlaylistPatch) (*types.PlaylistRef, error) {
	var updated *types.PlaylistRef
	err := s.mutate(func(st *state) (bool, error) {
		i := st.playlistIndex(id)
		if i < 0 {
			return false, nil
		}
		patch.Apply(&st.playlists[i])
		p := clonePlaylist(st.playlists[i])
		updated = &p
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeletePlaylist removes the playlist and its item records.
func (s *JSONStore) DeletePlaylist(_ context.Context, id string) error {
	return s.mutate(func(st *state) (bool, error) {
		i := st.playlistIndex(id)
		if i < 0 {
			return false, fmt.Errorf("playlist %s: %w", id, ErrNotFound)
		}
		st.playlists = append(st.playlists[:i], st.playlists[i+1:]...)
		kept := st.items[:0]
		for _, r := range st.items {
			if r.PlaylistID != id {
				kept = append(kept, r)
			}
		}
		st.items = kept
		return true, nil
	})
}

// GetItems lists item records, optionally filtered by playlist.
func (s *JSONStore) GetItems(_ context.Context, playlistID string) ([]types.ItemRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []types.ItemRecord{}
	for _, r := range s.state.items {
		if playlistID == "" || r.PlaylistID == playlistID {
			out = append(out, cloneItem(r))
		}
	}
	return out, nil
}

// GetItem returns the record for id.
func (s *JSONStore) GetItem(_ context.Context, id string) (*types.ItemRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.state.itemIndex(id)
	if i < 0 {
		return nil, nil
	}
	r := cloneItem(s.state.items[i])
	return &r, nil
}

// IsCompleted reports whether id has a completed record with an artifact path.
func (s *JSONStore) IsCompleted(ctx context.Context, id string) (bool, error) {
	r, err := s.GetItem(ctx, id)
	if err != nil || r == nil {
		return false, err
	}
	return r.IsCompleted(), nil
}

// AddOrReplaceItem stores rec. The owning playlist must exist.
func (s *JSONStore) AddOrReplaceItem(_ context.Context, rec types.ItemRecord) error {
	return s.mutate(func(st *state) (bool, error) {
		if st.playlistIndex(rec.PlaylistID) < 0 {
			return false, fmt.Errorf("playlist %s: %w", rec.PlaylistID, ErrNotFound)
		}
		rec = cloneItem(rec)
		if i := st.itemIndex(rec.ID); i >= 0 {
			st.items = append(st.items[:i], st.items[i+1:]...)
		}
		st.items = append(st.items, rec)
		return true, nil
	})
}

// DeleteItem removes and returns the record for id.
func (s *JSONStore) DeleteItem(_ context.Context, id string) (*types.ItemRecord, error) {
	var removed *types.ItemRecord
	err := s.mutate(func(st *state) (bool, error) {
		i := st.itemIndex(id)
		if i < 0 {
			return false, nil
		}
		r := st.items[i]
		removed = &r
		st.items = append(st.items[:i], st.items[i+1:]...)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Close releases the lock file.
func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unlock != nil {
		s.unlock()
		s.unlock = nil
	}
	return nil
}
