package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/smartview/internal/ir"
)

const itemColumns = `id, title, artist, album, genre, uri, year, rating, play_count, duration_ms, date_added, last_played`

// InsertItem adds an item to the collection. A zero ID lets SQLite assign
// one. Returns the item's id.
func (s *Store) InsertItem(ctx context.Context, item ir.Item) (int64, error) {
	var id any
	if item.ID != 0 {
		id = item.ID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, append([]any{id}, itemValues(item)...)...)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}
	return newID, nil
}

// UpdateItem replaces every attribute of an existing item.
func (s *Store) UpdateItem(ctx context.Context, item ir.Item) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET
			title = ?, artist = ?, album = ?, genre = ?, uri = ?, year = ?,
			rating = ?, play_count = ?, duration_ms = ?, date_added = ?, last_played = ?
		WHERE id = ?
	`, append(itemValues(item), item.ID)...)
	if err != nil {
		return fmt.Errorf("update item %d: %w", item.ID, err)
	}
	return expectOneRow(res, "item", item.ID)
}

// DeleteItems removes items from the collection. Static and smart playlist
// entries for them are removed by cascade. Unknown ids are ignored.
func (s *Store) DeleteItems(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := placeholders(ids)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id IN `+in, args...); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	return nil
}

// ReadItem returns one item, or ErrNotFound.
func (s *Store) ReadItem(ctx context.Context, id int64) (ir.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Item{}, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.Item{}, fmt.Errorf("read item %d: %w", id, err)
	}
	return item, nil
}

// ListItems returns the whole collection ordered by id.
//
// Returns an empty slice (not nil) when the collection is empty.
func (s *Store) ListItems(ctx context.Context) ([]ir.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := []ir.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (ir.Item, error) {
	var (
		item       ir.Item
		durationMS int64
		added      int64
		played     int64
	)
	err := r.Scan(&item.ID, &item.Title, &item.Artist, &item.Album, &item.Genre, &item.URI,
		&item.Year, &item.Rating, &item.PlayCount, &durationMS, &added, &played)
	if err != nil {
		return ir.Item{}, err
	}
	item.Duration = time.Duration(durationMS) * time.Millisecond
	item.DateAdded = fromUnix(added)
	item.LastPlayed = fromUnix(played)
	return item, nil
}

func itemValues(item ir.Item) []any {
	return []any{
		nfc(item.Title), nfc(item.Artist), nfc(item.Album), nfc(item.Genre), item.URI,
		item.Year, item.Rating, item.PlayCount,
		item.Duration.Milliseconds(), toUnix(item.DateAdded), toUnix(item.LastPlayed),
	}
}

func nfc(s string) string {
	return norm.NFC.String(s)
}

// toUnix stores the zero time as 0, meaning "never".
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func placeholders(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")", args
}

func expectOneRow(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}
