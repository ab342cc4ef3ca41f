package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const seriesColumns = `id, library_id, title, path, total_volumes, max_volume, missing_set, has_parts,
	last_scanned_at, canonical_total, canonical_status, editor, author,
	year_start, year_end, source_url, metadata_updated_at`

// UpsertSeries inserts a series or refreshes its path when the
// (library, title) pair already exists. Returns the series id.
func (s *Store) UpsertSeries(ctx context.Context, q DBTX, libraryID int64, title, path string) (int64, error) {
	now := timestamp(time.Now())
	_, err := q.ExecContext(ctx,
		`INSERT INTO series (library_id, title, path, last_scanned_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(library_id, title) DO UPDATE SET path = excluded.path, last_scanned_at = excluded.last_scanned_at`,
		libraryID, title, path, now,
	)
	if err != nil {
		return 0, classify(fmt.Errorf("upsert series: %w", err))
	}
	var id int64
	err = q.QueryRowContext(ctx,
		`SELECT id FROM series WHERE library_id = ? AND title = ?`, libraryID, title).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolve series id: %w", err)
	}
	return id, nil
}

// GetSeries fetches one series by id.
func (s *Store) GetSeries(ctx context.Context, id int64) (*Series, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+seriesColumns+` FROM series WHERE id = ?`, id)
	return scanSeries(row)
}

// FindSeriesByTitle looks a series up by exact title within one library.
func (s *Store) FindSeriesByTitle(ctx context.Context, libraryID int64, title string) (*Series, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+seriesColumns+` FROM series WHERE library_id = ? AND title = ?`, libraryID, title)
	return scanSeries(row)
}

// ListSeries returns the series of one library ordered by title. A zero
// libraryID lists across all libraries.
func (s *Store) ListSeries(ctx context.Context, libraryID int64) ([]*Series, error) {
	query := `SELECT ` + seriesColumns + ` FROM series ORDER BY title`
	args := []any{}
	if libraryID != 0 {
		query = `SELECT ` + seriesColumns + ` FROM series WHERE library_id = ? ORDER BY title`
		args = append(args, libraryID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	defer rows.Close()

	var result []*Series
	for rows.Next() {
		series, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, series)
	}
	return result, rows.Err()
}

// UpdateSeriesCanonical stores refreshed external metadata for a series.
func (s *Store) UpdateSeriesCanonical(ctx context.Context, q DBTX, id int64, canonical Canonical) error {
	var updatedAt any
	if canonical.MetadataUpdatedAt != nil {
		updatedAt = timestamp(*canonical.MetadataUpdatedAt)
	}
	res, err := q.ExecContext(ctx,
		`UPDATE series SET canonical_total = ?, canonical_status = ?, editor = ?, author = ?,
		        year_start = ?, year_end = ?, source_url = ?, metadata_updated_at = ?
		 WHERE id = ?`,
		canonical.Total, canonical.Status, canonical.Editor, canonical.Author,
		canonical.YearStart, canonical.YearEnd, canonical.SourceURL, updatedAt, id,
	)
	if err != nil {
		return classify(fmt.Errorf("update series metadata: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update series metadata result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: series %d", ErrNotFound, id)
	}
	return nil
}

// DeleteSeries removes a series and its volumes.
func (s *Store) DeleteSeries(ctx context.Context, q DBTX, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM series WHERE id = ?`, id)
	if err != nil {
		return classify(fmt.Errorf("delete series: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete series result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: series %d", ErrNotFound, id)
	}
	return nil
}

func scanSeries(row rowScanner) (*Series, error) {
	var (
		series     Series
		missingSet string
		hasParts   int
		scannedAt  sql.NullString
		status     sql.NullString
		editor     sql.NullString
		author     sql.NullString
		sourceURL  sql.NullString
		metaAt     sql.NullString
	)
	err := row.Scan(
		&series.ID, &series.LibraryID, &series.Title, &series.Path,
		&series.TotalVolumes, &series.MaxVolume, &missingSet, &hasParts, &scannedAt,
		&series.Canonical.Total, &status, &editor, &author,
		&series.Canonical.YearStart, &series.Canonical.YearEnd, &sourceURL, &metaAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan series: %w", err)
	}
	series.HasParts = hasParts != 0
	series.LastScannedAt = parseTimestamp(scannedAt)
	series.Canonical.Status = status.String
	series.Canonical.Editor = editor.String
	series.Canonical.Author = author.String
	series.Canonical.SourceURL = sourceURL.String
	series.Canonical.MetadataUpdatedAt = parseTimestamp(metaAt)
	series.MissingSet, err = decodeIntSet(missingSet)
	if err != nil {
		return nil, fmt.Errorf("series %d missing set: %w", series.ID, err)
	}
	return &series, nil
}

func encodeIntSet(values []int) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeIntSet(raw string) ([]int, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var values []int
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	return values, nil
}
