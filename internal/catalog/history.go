package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateOperation opens a new import operation in the started state.
func (s *Store) CreateOperation(ctx context.Context, q DBTX, opID, opType, stagingRoot string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO import_operations (op_id, type, staging_root, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		opID, opType, stagingRoot, OpStatusStarted, timestamp(time.Now()),
	)
	if err != nil {
		return classify(fmt.Errorf("create operation: %w", err))
	}
	return nil
}

// AddOperationFile appends one per-file outcome to an operation.
func (s *Store) AddOperationFile(ctx context.Context, q DBTX, f *ImportFile) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO import_files (op_id, filename, source_path, destination_path,
		        series_id, series_title, action, status, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.OpID, f.Filename, f.SourcePath, f.DestinationPath,
		f.SeriesID, f.SeriesTitle, f.Action, f.Status, f.Message,
	)
	if err != nil {
		return classify(fmt.Errorf("add operation file: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("operation file insert id: %w", err)
	}
	f.ID = id
	return nil
}

// FinishOperation records the final counters and terminal status.
func (s *Store) FinishOperation(ctx context.Context, q DBTX, opID, status string, imported, replaced, skipped, failed int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE import_operations SET status = ?, imported = ?, replaced = ?, skipped = ?, failed = ?, completed_at = ?
		 WHERE op_id = ?`,
		status, imported, replaced, skipped, failed, timestamp(time.Now()), opID,
	)
	if err != nil {
		return classify(fmt.Errorf("finish operation: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish operation result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: operation %s", ErrNotFound, opID)
	}
	return nil
}

// MarkOperationUndone transitions a completed operation to undone.
func (s *Store) MarkOperationUndone(ctx context.Context, q DBTX, opID string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE import_operations SET status = ?, completed_at = ? WHERE op_id = ?`,
		OpStatusUndone, timestamp(time.Now()), opID,
	)
	if err != nil {
		return classify(fmt.Errorf("mark operation undone: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark operation result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: operation %s", ErrNotFound, opID)
	}
	return nil
}

// MarkOperationFilesUndone flips every file row of an operation to undone.
func (s *Store) MarkOperationFilesUndone(ctx context.Context, q DBTX, opID string) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE import_files SET status = ? WHERE op_id = ?`, OpStatusUndone, opID); err != nil {
		return classify(fmt.Errorf("mark operation files undone: %w", err))
	}
	return nil
}

// GetOperation fetches one import operation by op id.
func (s *Store) GetOperation(ctx context.Context, opID string) (*ImportOperation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT op_id, type, staging_root, status, imported, replaced, skipped, failed, created_at, completed_at
		 FROM import_operations WHERE op_id = ?`, opID)
	return scanOperation(row)
}

// ListOperations returns the most recent operations, newest first.
func (s *Store) ListOperations(ctx context.Context, limit int) ([]*ImportOperation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT op_id, type, staging_root, status, imported, replaced, skipped, failed, created_at, completed_at
		 FROM import_operations ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []*ImportOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// ListOperationFiles returns the per-file outcomes of one operation.
func (s *Store) ListOperationFiles(ctx context.Context, opID string) ([]*ImportFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, op_id, filename, source_path, destination_path, series_id, series_title, action, status, message
		 FROM import_files WHERE op_id = ? ORDER BY id`, opID)
	if err != nil {
		return nil, fmt.Errorf("list operation files: %w", err)
	}
	defer rows.Close()

	var files []*ImportFile
	for rows.Next() {
		var file ImportFile
		if err := rows.Scan(
			&file.ID, &file.OpID, &file.Filename, &file.SourcePath, &file.DestinationPath,
			&file.SeriesID, &file.SeriesTitle, &file.Action, &file.Status, &file.Message,
		); err != nil {
			return nil, fmt.Errorf("scan operation file: %w", err)
		}
		files = append(files, &file)
	}
	return files, rows.Err()
}

// RecordDownloadEvent appends one download-client audit row.
func (s *Store) RecordDownloadEvent(ctx context.Context, q DBTX, event *DownloadEvent) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO download_events (title, volume_number, client, success, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.Title, event.VolumeNumber, event.Client, boolToInt(event.Success),
		event.Message, timestamp(time.Now()),
	)
	if err != nil {
		return classify(fmt.Errorf("record download event: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("download event insert id: %w", err)
	}
	event.ID = id
	return nil
}

// ListDownloadEvents returns recent download submissions, newest first.
func (s *Store) ListDownloadEvents(ctx context.Context, limit int) ([]*DownloadEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, volume_number, client, success, message, created_at
		 FROM download_events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list download events: %w", err)
	}
	defer rows.Close()

	var events []*DownloadEvent
	for rows.Next() {
		var (
			event     DownloadEvent
			success   int
			createdAt string
		)
		if err := rows.Scan(&event.ID, &event.Title, &event.VolumeNumber, &event.Client,
			&success, &event.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan download event: %w", err)
		}
		event.Success = success != 0
		if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			event.CreatedAt = parsed
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

func scanOperation(row rowScanner) (*ImportOperation, error) {
	var (
		op          ImportOperation
		createdAt   string
		completedAt sql.NullString
	)
	err := row.Scan(&op.OpID, &op.Type, &op.StagingRoot, &op.Status,
		&op.Imported, &op.Replaced, &op.Skipped, &op.Failed, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan operation: %w", err)
	}
	if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		op.CreatedAt = parsed
	}
	op.CompletedAt = parseTimestamp(completedAt)
	return &op, nil
}
