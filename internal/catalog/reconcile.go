package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// ReconcileLibrary replaces the stored picture of one library with what a scan
// observed on disk. Series present in observed are upserted and their volumes
// rewritten; series no longer on disk are removed. Runs inside the caller's
// transaction.
func (s *Store) ReconcileLibrary(ctx context.Context, tx *sql.Tx, libraryID int64, observed map[string]ObservedSeries) error {
	seen := make(map[int64]struct{}, len(observed))
	for title, entry := range observed {
		seriesID, err := s.UpsertSeries(ctx, tx, libraryID, title, entry.Path)
		if err != nil {
			return fmt.Errorf("reconcile %q: %w", title, err)
		}
		seen[seriesID] = struct{}{}

		if err := s.DeleteSeriesVolumes(ctx, tx, seriesID); err != nil {
			return fmt.Errorf("reconcile %q: %w", title, err)
		}
		for i := range entry.Volumes {
			volume := entry.Volumes[i]
			volume.SeriesID = seriesID
			if _, err := s.InsertVolume(ctx, tx, &volume); err != nil {
				return fmt.Errorf("reconcile %q volume %s: %w", title, volume.Filename, err)
			}
		}
		if err := s.RecomputeSeriesStats(ctx, tx, seriesID); err != nil {
			return fmt.Errorf("reconcile %q: %w", title, err)
		}
	}

	ids, err := librarySeriesIDs(ctx, tx, libraryID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := s.DeleteSeries(ctx, tx, id); err != nil {
			return fmt.Errorf("remove vanished series %d: %w", id, err)
		}
	}

	return s.TouchLibraryScanned(ctx, tx, libraryID, time.Now())
}

// RecomputeSeriesStats rederives the volume count, highest owned number,
// missing set, and part flag of one series from its stored volumes.
func (s *Store) RecomputeSeriesStats(ctx context.Context, q DBTX, seriesID int64) error {
	rows, err := q.QueryContext(ctx,
		`SELECT volume_number, part_number FROM volumes WHERE series_id = ?`, seriesID)
	if err != nil {
		return fmt.Errorf("series %d volumes: %w", seriesID, err)
	}
	defer rows.Close()

	var (
		total   int
		present = map[int]struct{}{}
		parts   = map[int]struct{}{}
	)
	for rows.Next() {
		var volumeNumber, partNumber sql.NullInt64
		if err := rows.Scan(&volumeNumber, &partNumber); err != nil {
			return fmt.Errorf("scan volume stats: %w", err)
		}
		if volumeNumber.Valid {
			total++
			present[int(volumeNumber.Int64)] = struct{}{}
		}
		if partNumber.Valid {
			parts[int(partNumber.Int64)] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	missing := missingFromPresent(present)
	hasParts := len(parts) > 1
	maxOwned := 0
	for n := range present {
		if n > maxOwned {
			maxOwned = n
		}
	}

	res, err := q.ExecContext(ctx,
		`UPDATE series SET total_volumes = ?, max_volume = ?, missing_set = ?, has_parts = ?, last_scanned_at = ?
		 WHERE id = ?`,
		total, maxOwned, encodeIntSet(missing), boolToInt(hasParts), timestamp(time.Now()), seriesID,
	)
	if err != nil {
		return classify(fmt.Errorf("update series stats: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update series stats result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: series %d", ErrNotFound, seriesID)
	}
	return nil
}

// missingFromPresent computes the gaps between the lowest and highest owned
// volume numbers. An empty or single-element set has no interior gaps.
func missingFromPresent(present map[int]struct{}) []int {
	if len(present) == 0 {
		return nil
	}
	numbers := make([]int, 0, len(present))
	for n := range present {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	low, high := numbers[0], numbers[len(numbers)-1]
	var missing []int
	for n := low; n <= high; n++ {
		if _, ok := present[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

func librarySeriesIDs(ctx context.Context, q DBTX, libraryID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM series WHERE library_id = ?`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("library series ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan series id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
