package store

import (
	"context"
	"fmt"
)

// Playlist is a static, hand-maintained playlist.
type Playlist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CreatePlaylist creates a static playlist. A zero id lets SQLite assign
// one.
func (s *Store) CreatePlaylist(ctx context.Context, id int64, name string) (int64, error) {
	var idArg any
	if id != 0 {
		idArg = id
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO playlists (id, name) VALUES (?, ?)`, idArg, nfc(name))
	if err != nil {
		return 0, fmt.Errorf("create playlist: %w", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create playlist: %w", err)
	}
	return newID, nil
}

// DeletePlaylist deletes a static playlist and its entries.
func (s *Store) DeletePlaylist(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM playlists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete playlist %d: %w", id, err)
	}
	return expectOneRow(res, "playlist", id)
}

// ListPlaylists returns all static playlists ordered by id.
func (s *Store) ListPlaylists(ctx context.Context) ([]Playlist, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM playlists ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	defer rows.Close()

	out := []Playlist{}
	for rows.Next() {
		var p Playlist
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("scan playlist: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate playlists: %w", err)
	}
	return out, nil
}

// AddPlaylistItems appends items to a static playlist. Items already in
// the playlist are skipped. Returns the ids actually added.
func (s *Store) AddPlaylistItems(ctx context.Context, playlistID int64, itemIDs []int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("add playlist items: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO playlist_entries (playlist_id, item_id) VALUES (?, ?)
		ON CONFLICT (playlist_id, item_id) DO NOTHING
	`)
	if err != nil {
		return nil, fmt.Errorf("add playlist items: prepare: %w", err)
	}
	defer stmt.Close()

	added := []int64{}
	for _, id := range itemIDs {
		res, err := stmt.ExecContext(ctx, playlistID, id)
		if err != nil {
			return nil, fmt.Errorf("add item %d to playlist %d: %w", id, playlistID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added = append(added, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("add playlist items: commit: %w", err)
	}
	return added, nil
}

// RemovePlaylistItems removes items from a static playlist. Returns the ids
// actually removed.
func (s *Store) RemovePlaylistItems(ctx context.Context, playlistID int64, itemIDs []int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("remove playlist items: begin: %w", err)
	}
	defer tx.Rollback()

	removed := []int64{}
	for _, id := range itemIDs {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM playlist_entries WHERE playlist_id = ? AND item_id = ?`, playlistID, id)
		if err != nil {
			return nil, fmt.Errorf("remove item %d from playlist %d: %w", id, playlistID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			removed = append(removed, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("remove playlist items: commit: %w", err)
	}
	return removed, nil
}

// PlaylistItems returns a static playlist's items in insertion order.
func (s *Store) PlaylistItems(ctx context.Context, playlistID int64) ([]int64, error) {
	return s.readIDs(ctx, `SELECT item_id FROM playlist_entries WHERE playlist_id = ? ORDER BY entry_id ASC`, playlistID)
}

func (s *Store) readIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
