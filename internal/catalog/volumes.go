package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const volumeColumns = `id, series_id, filename, filepath, volume_number, part_number,
	part_name, author, year, resolution, file_size, page_count, format`

// InsertVolume records one archive file for a series.
func (s *Store) InsertVolume(ctx context.Context, q DBTX, v *Volume) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO volumes (series_id, filename, filepath, volume_number, part_number,
		        part_name, author, year, resolution, file_size, page_count, format)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.SeriesID, v.Filename, v.Filepath, v.VolumeNumber, v.PartNumber,
		v.PartName, v.Author, v.Year, v.Resolution, v.FileSize, v.PageCount, v.Format,
	)
	if err != nil {
		return 0, classify(fmt.Errorf("insert volume: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("volume insert id: %w", err)
	}
	v.ID = id
	return id, nil
}

// ListVolumes returns the volumes of one series ordered by part then number.
func (s *Store) ListVolumes(ctx context.Context, seriesID int64) ([]*Volume, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+volumeColumns+` FROM volumes WHERE series_id = ?
		 ORDER BY part_number IS NOT NULL, part_number, volume_number IS NULL, volume_number, filename`,
		seriesID,
	)
	if err != nil {
		return nil, fmt.Errorf("list volumes: %w", err)
	}
	defer rows.Close()

	var volumes []*Volume
	for rows.Next() {
		volume, err := scanVolume(rows)
		if err != nil {
			return nil, err
		}
		volumes = append(volumes, volume)
	}
	return volumes, rows.Err()
}

// FindVolumeByPath looks a volume up by its absolute file path.
func (s *Store) FindVolumeByPath(ctx context.Context, filepath string) (*Volume, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+volumeColumns+` FROM volumes WHERE filepath = ?`, filepath)
	return scanVolume(row)
}

// FindVolumeByNumber returns the first volume of a series carrying the given
// parsed number, or ErrNotFound.
func (s *Store) FindVolumeByNumber(ctx context.Context, q DBTX, seriesID int64, number int) (*Volume, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+volumeColumns+` FROM volumes WHERE series_id = ? AND volume_number = ? ORDER BY id LIMIT 1`,
		seriesID, number)
	return scanVolume(row)
}

// DeleteVolume removes one volume row.
func (s *Store) DeleteVolume(ctx context.Context, q DBTX, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM volumes WHERE id = ?`, id)
	if err != nil {
		return classify(fmt.Errorf("delete volume: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete volume result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: volume %d", ErrNotFound, id)
	}
	return nil
}

// DeleteVolumeByPath removes the volume stored at the given absolute path.
// Missing rows are not an error; undo uses this to tolerate already-moved
// files.
func (s *Store) DeleteVolumeByPath(ctx context.Context, q DBTX, filepath string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM volumes WHERE filepath = ?`, filepath); err != nil {
		return classify(fmt.Errorf("delete volume by path: %w", err))
	}
	return nil
}

// DeleteSeriesVolumes clears every volume row for a series.
func (s *Store) DeleteSeriesVolumes(ctx context.Context, q DBTX, seriesID int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM volumes WHERE series_id = ?`, seriesID); err != nil {
		return classify(fmt.Errorf("delete series volumes: %w", err))
	}
	return nil
}

func scanVolume(row rowScanner) (*Volume, error) {
	var volume Volume
	err := row.Scan(
		&volume.ID, &volume.SeriesID, &volume.Filename, &volume.Filepath,
		&volume.VolumeNumber, &volume.PartNumber, &volume.PartName,
		&volume.Author, &volume.Year, &volume.Resolution,
		&volume.FileSize, &volume.PageCount, &volume.Format,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan volume: %w", err)
	}
	return &volume, nil
}
