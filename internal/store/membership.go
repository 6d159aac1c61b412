package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/smartview/internal/ir"
	"github.com/roach88/smartview/internal/queryir"
	"github.com/roach88/smartview/internal/querysql"
)

// insertEntrySQL adds one entry, skipping items deleted since the
// membership was computed and entries that already exist.
const insertEntrySQL = `
	INSERT INTO smart_playlist_entries (playlist_id, item_id)
	SELECT ?, id FROM items WHERE id = ?
	ON CONFLICT (playlist_id, item_id) DO NOTHING
`

// ReplaceMembership rewrites a smart playlist's committed membership in one
// transaction: every existing entry is deleted and ids are inserted in
// order.
func (s *Store) ReplaceMembership(ctx context.Context, playlistID int64, ids []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace membership %d: begin: %w", playlistID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM smart_playlist_entries WHERE playlist_id = ?`, playlistID); err != nil {
		return fmt.Errorf("replace membership %d: delete: %w", playlistID, err)
	}

	if len(ids) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertEntrySQL)
		if err != nil {
			return fmt.Errorf("replace membership %d: prepare: %w", playlistID, err)
		}
		defer stmt.Close()

		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, playlistID, id); err != nil {
				return fmt.Errorf("replace membership %d: insert item %d: %w", playlistID, id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace membership %d: commit: %w", playlistID, err)
	}
	return nil
}

// PatchMembership removes and adds entries of one smart playlist in one
// transaction. Adding an existing member or removing a non-member is a
// no-op.
func (s *Store) PatchMembership(ctx context.Context, playlistID int64, added, removed []int64) error {
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("patch membership %d: begin: %w", playlistID, err)
	}
	defer tx.Rollback()

	for _, id := range removed {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM smart_playlist_entries WHERE playlist_id = ? AND item_id = ?`, playlistID, id); err != nil {
			return fmt.Errorf("patch membership %d: remove item %d: %w", playlistID, id, err)
		}
	}
	for _, id := range added {
		if _, err := tx.ExecContext(ctx, insertEntrySQL, playlistID, id); err != nil {
			return fmt.Errorf("patch membership %d: add item %d: %w", playlistID, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("patch membership %d: commit: %w", playlistID, err)
	}
	return nil
}

// ReadMembership returns a smart playlist's committed members in commit
// order.
func (s *Store) ReadMembership(ctx context.Context, playlistID int64) ([]int64, error) {
	ids, err := s.readIDs(ctx,
		`SELECT item_id FROM smart_playlist_entries WHERE playlist_id = ? ORDER BY entry_id ASC`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("read membership %d: %w", playlistID, err)
	}
	return ids, nil
}

// Candidates evaluates a query's filter and order (and a count limit)
// against the collection. Cumulative limits are not applied here.
func (s *Store) Candidates(ctx context.Context, q queryir.Query, now time.Time, r *querysql.Restriction) ([]ir.Candidate, error) {
	query, args, err := querysql.NewSQLCompiler(now).CompileCandidates(q, r)
	if err != nil {
		return nil, fmt.Errorf("compile candidates: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	out := []ir.Candidate{}
	for rows.Next() {
		var (
			c  ir.Candidate
			ms int64
		)
		if err := rows.Scan(&c.ID, &ms, &c.URI); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// MatchItem reports whether one item satisfies a filter. A missing item
// never matches.
func (s *Store) MatchItem(ctx context.Context, filter queryir.Predicate, now time.Time, itemID int64) (bool, error) {
	query, args, err := querysql.NewSQLCompiler(now).CompileMatch(filter, itemID)
	if err != nil {
		return false, fmt.Errorf("compile match: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("match item %d: %w", itemID, err)
	}
	defer rows.Close()

	matched := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("match item %d: %w", itemID, err)
	}
	return matched, nil
}
