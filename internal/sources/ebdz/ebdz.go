// Package ebdz reads the local ED2K index maintained by an external crawler.
// The index is a plain SQLite file; this adapter only ever reads it.
package ebdz

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"tomarr/internal/services"
	"tomarr/internal/sources"
)

// Schema is the index layout the crawler maintains. Kept here so tests and
// fresh deployments can create a compatible file.
const Schema = `
CREATE TABLE IF NOT EXISTS ed2k_links (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    thread_title TEXT NOT NULL,
    filename TEXT NOT NULL,
    volume INTEGER,
    ed2k_link TEXT NOT NULL,
    size INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_ed2k_links_volume ON ed2k_links(volume);
`

// Store queries the ED2K index.
type Store struct {
	db       *sql.DB
	priority int
}

// Open connects to the index file read-only. A missing file is a
// configuration error: the crawler owns creation.
func Open(path string, priority int) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "ebdz", "open index",
			fmt.Sprintf("ED2K index %s is not readable", path), err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open ed2k index: %w", err)
	}
	return &Store{db: db, priority: priority}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Name() string  { return sources.NameEbdz }
func (s *Store) Priority() int { return s.priority }

// Search returns index rows whose normalized thread title contains the
// normalized query and whose volume matches. Volume 0 disables the volume
// filter. The punctuation-insensitive
// match happens in process; SQL only narrows by volume.
func (s *Store) Search(ctx context.Context, title string, volume int) ([]sources.Result, error) {
	query := `SELECT thread_title, filename, volume, ed2k_link, size FROM ed2k_links`
	var args []any
	if volume > 0 {
		query += ` WHERE volume = ?`
		args = append(args, volume)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ed2k index: %w", err)
	}
	defer rows.Close()

	needle := sources.NormalizeTitle(title)
	var results []sources.Result
	for rows.Next() {
		var (
			threadTitle string
			filename    string
			vol         sql.NullInt64
			link        string
			size        int64
		)
		if err := rows.Scan(&threadTitle, &filename, &vol, &link, &size); err != nil {
			return nil, fmt.Errorf("scan ed2k row: %w", err)
		}
		if needle != "" && !strings.Contains(sources.NormalizeTitle(threadTitle), needle) {
			continue
		}
		results = append(results, sources.Result{
			Title:    threadTitle,
			Link:     link,
			Filename: filename,
			Size:     size,
			Indexer:  "local",
			Source:   sources.NameEbdz,
		})
	}
	return results, rows.Err()
}
