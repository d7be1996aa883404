// Package store persists playlists and per-item download records.
//
// Two drivers are available: a whole-document JSON file (the default) and
// SQLite. Both keep at most one ItemRecord per item id and make every
// mutation durable before returning.
package store

import (
	"context"
	"errors"
	"fmt"

	"vidsync/config"
	"vidsync/types"
)

// ErrNotFound is returned when a referenced playlist does not exist.
var ErrNotFound = errors.New("not found")

// ErrLocked is returned by Open when another process holds the store.
var ErrLocked = errors.New("store is locked by another process")

// Store is the record-store collaborator of the sync engine.
type Store interface {
	GetPlaylists(ctx context.Context) ([]types.PlaylistRef, error)
	// GetPlaylist returns ErrNotFound for an unknown id.
	GetPlaylist(ctx context.Context, id string) (*types.PlaylistRef, error)
	AddPlaylist(ctx context.Context, p types.PlaylistRef) error
	// UpdatePlaylist returns (nil, nil) when no playlist has the id.
	UpdatePlaylist(ctx context.Context, id string, patch types.PlaylistPatch) (*types.PlaylistRef, error)
	// DeletePlaylist removes the playlist and all of its item records.
	DeletePlaylist(ctx context.Context, id string) error

	// GetItems lists records of one playlist, or of all playlists when playlistID is empty.
	GetItems(ctx context.Context, playlistID string) ([]types.ItemRecord, error)
	// GetItem returns (nil, nil) when no record exists.
	GetItem(ctx context.Context, id string) (*types.ItemRecord, error)
	IsCompleted(ctx context.Context, id string) (bool, error)
	// AddOrReplaceItem stores rec, replacing any record with the same id.
	AddOrReplaceItem(ctx context.Context, rec types.ItemRecord) error
	// DeleteItem returns the removed record, or nil if none existed.
	DeleteItem(ctx context.Context, id string) (*types.ItemRecord, error)

	Close() error
}

// Open opens the store selected by cfg.Driver.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.StoreDriverJSON, "":
		return OpenJSON(cfg.Path)
	case config.StoreDriverSQLite:
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func clonePlaylist(p types.PlaylistRef) types.PlaylistRef {
	if p.LastChecked != nil {
		t := *p.LastChecked
		p.LastChecked = &t
	}
	return p
}

func cloneItem(r types.ItemRecord) types.ItemRecord {
	if r.HasSponsorBlock != nil {
		b := *r.HasSponsorBlock
		r.HasSponsorBlock = &b
	}
	return r
}
