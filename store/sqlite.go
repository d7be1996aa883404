package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"vidsync/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS playlists (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	enabled      BOOLEAN NOT NULL DEFAULT 1,
	last_checked DATETIME NULL,
	created_at   DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS items (
	id               TEXT PRIMARY KEY,
	playlist_id      TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	source_url       TEXT NOT NULL DEFAULT '',
	completed_at     DATETIME NOT NULL,
	status           TEXT NOT NULL,
	file_path        TEXT NOT NULL DEFAULT '',
	error            TEXT NOT NULL DEFAULT '',
	has_sponsorblock BOOLEAN NULL
);
CREATE INDEX IF NOT EXISTS idx_items_playlist ON items (playlist_id);
`

type playlistRow struct {
	ID          string       `db:"id"`
	URL         string       `db:"url"`
	Title       string       `db:"title"`
	Enabled     bool         `db:"enabled"`
	LastChecked sql.NullTime `db:"last_checked"`
	CreatedAt   time.Time    `db:"created_at"`
}

func (r playlistRow) toRef() types.PlaylistRef {
	p := types.PlaylistRef{
		ID:        r.ID,
		URL:       r.URL,
		Title:     r.Title,
		Enabled:   r.Enabled,
		CreatedAt: r.CreatedAt,
	}
	if r.LastChecked.Valid {
		t := r.LastChecked.Time
		p.LastChecked = &t
	}
	return p
}

type itemRow struct {
	ID              string       `db:"id"`
	PlaylistID      string       `db:"playlist_id"`
	Title           string       `db:"title"`
	SourceURL       string       `db:"source_url"`
	CompletedAt     time.Time    `db:"completed_at"`
	Status          string       `db:"status"`
	FilePath        string       `db:"file_path"`
	Error           string       `db:"error"`
	HasSponsorBlock sql.NullBool `db:"has_sponsorblock"`
}

func (r itemRow) toRecord() types.ItemRecord {
	rec := types.ItemRecord{
		ID:          r.ID,
		PlaylistID:  r.PlaylistID,
		Title:       r.Title,
		SourceURL:   r.SourceURL,
		CompletedAt: r.CompletedAt,
		Status:      types.ItemStatus(r.Status),
		FilePath:    r.FilePath,
		Error:       r.Error,
	}
	if r.HasSponsorBlock.Valid {
		b := r.HasSponsorBlock.Bool
		rec.HasSponsorBlock = &b
	}
	return rec
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

// SQLiteStore keeps records in a SQLite database through a single connection,
// so writes are serialized by the driver.
type SQLiteStore struct {
	db *sqlx.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// GetPlaylists returns every playlist in creation order.
func (s *SQLiteStore) GetPlaylists(ctx context.Context) ([]types.PlaylistRef, error) {
	var rows []playlistRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, url, title, enabled, last_checked, created_at
		FROM playlists
		ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	out := make([]types.PlaylistRef, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRef())
	}
	return out, nil
}

// GetPlaylist returns one playlist.
func (s *SQLiteStore) GetPlaylist(ctx context.Context, id string) (*types.PlaylistRef, error) {
	p, err := getPlaylist(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("playlist %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func getPlaylist(ctx context.Context, q sqlx.QueryerContext, id string) (*types.PlaylistRef, error) {
	var row playlistRow
	err := sqlx.GetContext(ctx, q, &row, `
		SELECT id, url, title, enabled, last_checked, created_at
		FROM playlists WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get playlist: %w", err)
	}
	p := row.toRef()
	return &p, nil
}

// AddPlaylist inserts a new playlist.
func (s *SQLiteStore) AddPlaylist(ctx context.Context, p types.PlaylistRef) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playlists (id, url, title, enabled, last_checked, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.URL, p.Title, p.Enabled, nullTime(p.LastChecked), p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("add playlist: %w", err)
	}
	return nil
}

// UpdatePlaylist applies patch inside a transaction.
func (s *SQLiteStore) UpdatePlaylist(ctx context.Context, id string, patch types.PlaylistPatch) (*types.PlaylistRef, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	p, err := getPlaylist(ctx, tx, id)
	if err != nil || p == nil {
		return nil, err
	}
	patch.Apply(p)
	_, err = tx.ExecContext(ctx, `
		UPDATE playlists SET url = ?, title = ?, enabled = ?, last_checked = ?
		WHERE id = ?`,
		p.URL, p.Title, p.Enabled, nullTime(p.LastChecked), id)
	if err != nil {
		return nil, fmt.Errorf("update playlist: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return p, nil
}

// DeletePlaylist removes the playlist and its items in one transaction.
func (s *SQLiteStore) DeletePlaylist(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM playlists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete playlist: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("playlist %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE playlist_id = ?`, id); err != nil {
		return fmt.Errorf("delete playlist items: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

const itemColumns = `id, playlist_id, title, source_url, completed_at, status, file_path, error, has_sponsorblock`

// GetItems lists item records, optionally filtered by playlist.
func (s *SQLiteStore) GetItems(ctx context.Context, playlistID string) ([]types.ItemRecord, error) {
	var rows []itemRow
	var err error
	if playlistID == "" {
		err = s.db.SelectContext(ctx, &rows, `SELECT `+itemColumns+` FROM items ORDER BY rowid`)
	} else {
		err = s.db.SelectContext(ctx, &rows, `SELECT `+itemColumns+` FROM items WHERE playlist_id = ? ORDER BY rowid`, playlistID)
	}
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	out := make([]types.ItemRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, nil
}

// GetItem returns the record for id.
func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*types.ItemRecord, error) {
	return getItem(ctx, s.db, id)
}

func getItem(ctx context.Context, q sqlx.QueryerContext, id string) (*types.ItemRecord, error) {
	var row itemRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	rec := row.toRecord()
	return &rec, nil
}

// IsCompleted reports whether id has a completed record with an artifact path.
func (s *SQLiteStore) IsCompleted(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM items
		WHERE id = ? AND status = ? AND file_path <> ''`,
		id, string(types.ItemStatusCompleted))
	if err != nil {
		return false, fmt.Errorf("check item: %w", err)
	}
	return n > 0, nil
}

// AddOrReplaceItem stores rec. The owning playlist must exist.
func (s *SQLiteStore) AddOrReplaceItem(ctx context.Context, rec types.ItemRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin item write: %w", err)
	}
	defer tx.Rollback()

	p, err := getPlaylist(ctx, tx, rec.PlaylistID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("playlist %s: %w", rec.PlaylistID, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, rec.ID); err != nil {
		return fmt.Errorf("replace item: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PlaylistID, rec.Title, rec.SourceURL, rec.CompletedAt.UTC(),
		string(rec.Status), rec.FilePath, rec.Error, nullBool(rec.HasSponsorBlock))
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit item write: %w", err)
	}
	return nil
}

// DeleteItem removes and returns the record for id.
func (s *SQLiteStore) DeleteItem(ctx context.Context, id string) (*types.ItemRecord, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin item delete: %w", err)
	}
	defer tx.Rollback()

	rec, err := getItem(ctx, tx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit item delete: %w", err)
	}
	return rec, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
