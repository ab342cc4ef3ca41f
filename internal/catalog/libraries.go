package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateLibrary inserts a new library row.
func (s *Store) CreateLibrary(ctx context.Context, q DBTX, name, rootPath, description string) (*Library, error) {
	now := time.Now()
	res, err := q.ExecContext(ctx,
		`INSERT INTO libraries (name, root_path, description, created_at) VALUES (?, ?, ?, ?)`,
		name, rootPath, description, timestamp(now),
	)
	if err != nil {
		return nil, classify(fmt.Errorf("insert library: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("library insert id: %w", err)
	}
	return &Library{ID: id, Name: name, RootPath: rootPath, Description: description, CreatedAt: now.UTC()}, nil
}

// GetLibrary fetches one library by id.
func (s *Store) GetLibrary(ctx context.Context, id int64) (*Library, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, root_path, description, created_at, last_scanned_at FROM libraries WHERE id = ?`, id)
	return scanLibrary(row)
}

// ListLibraries returns all libraries ordered by name.
func (s *Store) ListLibraries(ctx context.Context) ([]*Library, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, root_path, description, created_at, last_scanned_at FROM libraries ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	defer rows.Close()

	var libraries []*Library
	for rows.Next() {
		library, err := scanLibrary(rows)
		if err != nil {
			return nil, err
		}
		libraries = append(libraries, library)
	}
	return libraries, rows.Err()
}

// DeleteLibrary removes a library; series and volumes cascade.
func (s *Store) DeleteLibrary(ctx context.Context, q DBTX, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM libraries WHERE id = ?`, id)
	if err != nil {
		return classify(fmt.Errorf("delete library: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete library result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: library %d", ErrNotFound, id)
	}
	return nil
}

// TouchLibraryScanned updates the library scan stamp.
func (s *Store) TouchLibraryScanned(ctx context.Context, q DBTX, id int64, at time.Time) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE libraries SET last_scanned_at = ? WHERE id = ?`, timestamp(at), id); err != nil {
		return classify(fmt.Errorf("touch library: %w", err))
	}
	return nil
}

// CountLibrarySeries returns the series count for one library.
func (s *Store) CountLibrarySeries(ctx context.Context, libraryID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM series WHERE library_id = ?`, libraryID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count series: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLibrary(row rowScanner) (*Library, error) {
	var (
		library   Library
		createdAt string
		scannedAt sql.NullString
	)
	err := row.Scan(&library.ID, &library.Name, &library.RootPath, &library.Description, &createdAt, &scannedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan library: %w", err)
	}
	if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		library.CreatedAt = parsed
	}
	library.LastScannedAt = parseTimestamp(scannedAt)
	return &library, nil
}
