package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// UpsertMonitor creates or updates the acquisition policy of one series.
func (s *Store) UpsertMonitor(ctx context.Context, q DBTX, seriesID int64, enabled bool, sources []string, autoSubmit bool) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO monitors (series_id, enabled, sources, auto_submit) VALUES (?, ?, ?, ?)
		 ON CONFLICT(series_id) DO UPDATE SET
		   enabled = excluded.enabled, sources = excluded.sources, auto_submit = excluded.auto_submit`,
		seriesID, boolToInt(enabled), encodeStringSet(sources), boolToInt(autoSubmit),
	)
	if err != nil {
		return classify(fmt.Errorf("upsert monitor: %w", err))
	}
	return nil
}

// GetMonitor fetches the monitor row for one series.
func (s *Store) GetMonitor(ctx context.Context, seriesID int64) (*Monitor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, series_id, enabled, sources, auto_submit, last_checked_at
		 FROM monitors WHERE series_id = ?`, seriesID)
	return scanMonitor(row)
}

// ListEnabledMonitors returns every enabled monitor paired with the series
// it watches. With onlyWithGaps set, monitors whose series has an empty
// missing set are excluded.
func (s *Store) ListEnabledMonitors(ctx context.Context, onlyWithGaps bool) ([]*MonitoredSeries, error) {
	query := `SELECT m.id, m.series_id, m.enabled, m.sources, m.auto_submit, m.last_checked_at
		 FROM monitors m
		 JOIN series s ON s.id = m.series_id
		 WHERE m.enabled = 1`
	if onlyWithGaps {
		query += ` AND s.missing_set != '[]'`
	}
	query += ` ORDER BY s.title`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	defer rows.Close()

	var result []*MonitoredSeries
	for rows.Next() {
		monitor, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, &MonitoredSeries{Monitor: *monitor})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, entry := range result {
		series, err := s.GetSeries(ctx, entry.Monitor.SeriesID)
		if err != nil {
			return nil, err
		}
		entry.Series = *series
	}
	return result, nil
}

// MonitoredSeries pairs a monitor with its series snapshot.
type MonitoredSeries struct {
	Monitor Monitor
	Series  Series
}

// TouchMonitorChecked stamps the last acquisition check.
func (s *Store) TouchMonitorChecked(ctx context.Context, q DBTX, seriesID int64, at time.Time) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE monitors SET last_checked_at = ? WHERE series_id = ?`,
		timestamp(at), seriesID); err != nil {
		return classify(fmt.Errorf("touch monitor: %w", err))
	}
	return nil
}

// DeleteMonitor removes the policy for one series.
func (s *Store) DeleteMonitor(ctx context.Context, q DBTX, seriesID int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM monitors WHERE series_id = ?`, seriesID)
	if err != nil {
		return classify(fmt.Errorf("delete monitor: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete monitor result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: monitor for series %d", ErrNotFound, seriesID)
	}
	return nil
}

func scanMonitor(row rowScanner) (*Monitor, error) {
	var (
		monitor    Monitor
		enabled    int
		sources    string
		autoSubmit int
		checkedAt  sql.NullString
	)
	err := row.Scan(&monitor.ID, &monitor.SeriesID, &enabled, &sources, &autoSubmit, &checkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan monitor: %w", err)
	}
	monitor.Enabled = enabled != 0
	monitor.AutoSubmit = autoSubmit != 0
	monitor.LastCheckedAt = parseTimestamp(checkedAt)
	if sources != "" && sources != "[]" {
		if err := json.Unmarshal([]byte(sources), &monitor.Sources); err != nil {
			return nil, fmt.Errorf("monitor %d sources: %w", monitor.ID, err)
		}
	}
	return &monitor, nil
}

func encodeStringSet(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
