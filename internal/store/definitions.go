package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/smartview/internal/queryir"
)

const definitionColumns = `id, name, predicate, order_by, limit_number, limit_criterion`

// InsertDefinition persists a new smart playlist definition. A zero
// rec.ID lets SQLite assign one. Returns the definition's id.
func (s *Store) InsertDefinition(ctx context.Context, rec queryir.Record) (int64, error) {
	var id any
	if rec.ID != 0 {
		id = rec.ID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO smart_playlists (`+definitionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, nfc(rec.Name), nullable(rec.Predicate), nullable(rec.OrderBy), nullable(rec.LimitNumber), rec.LimitCriterion)
	if err != nil {
		return 0, fmt.Errorf("insert definition: %w", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert definition: %w", err)
	}
	return newID, nil
}

// UpdateDefinition overwrites an existing definition's row. Membership is
// left untouched; the engine recommits it after refreshing.
func (s *Store) UpdateDefinition(ctx context.Context, rec queryir.Record) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE smart_playlists
		SET name = ?, predicate = ?, order_by = ?, limit_number = ?, limit_criterion = ?
		WHERE id = ?
	`, nfc(rec.Name), nullable(rec.Predicate), nullable(rec.OrderBy), nullable(rec.LimitNumber), rec.LimitCriterion, rec.ID)
	if err != nil {
		return fmt.Errorf("update definition %d: %w", rec.ID, err)
	}
	return expectOneRow(res, "definition", rec.ID)
}

// DeleteDefinition deletes a definition and, by cascade, its membership.
func (s *Store) DeleteDefinition(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM smart_playlists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete definition %d: %w", id, err)
	}
	return expectOneRow(res, "definition", id)
}

// ReadDefinition returns one raw definition row, or ErrNotFound.
func (s *Store) ReadDefinition(ctx context.Context, id int64) (queryir.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+definitionColumns+` FROM smart_playlists WHERE id = ?`, id)
	rec, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return queryir.Record{}, fmt.Errorf("definition %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return queryir.Record{}, fmt.Errorf("read definition %d: %w", id, err)
	}
	return rec, nil
}

// ReadDefinitions returns every raw definition row ordered by id. Rows are
// not decoded here so that one corrupt definition cannot hide the others.
func (s *Store) ReadDefinitions(ctx context.Context) ([]queryir.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+definitionColumns+` FROM smart_playlists ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	defer rows.Close()

	recs := []queryir.Record{}
	for rows.Next() {
		rec, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate definitions: %w", err)
	}
	return recs, nil
}

func scanDefinition(r rowScanner) (queryir.Record, error) {
	var (
		rec       queryir.Record
		predicate sql.NullString
		orderBy   sql.NullString
		limitNum  sql.NullString
		criterion sql.NullInt64
	)
	if err := r.Scan(&rec.ID, &rec.Name, &predicate, &orderBy, &limitNum, &criterion); err != nil {
		return queryir.Record{}, err
	}
	rec.Predicate = predicate.String
	rec.OrderBy = orderBy.String
	rec.LimitNumber = limitNum.String
	rec.LimitCriterion = criterion.Int64
	return rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
