package catalog

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is recorded on first initialization. Canonical metadata
// columns are applied additively, so existing databases keep working across
// upgrades without a destructive rebuild.
const schemaVersion = 1

// canonicalColumns are the series columns populated from the metadata site.
// They arrived after the initial schema and are added with add-if-missing
// semantics.
var canonicalColumns = []struct {
	name string
	decl string
}{
	{"canonical_total", "INTEGER"},
	{"canonical_status", "TEXT"},
	{"editor", "TEXT"},
	{"author", "TEXT"},
	{"year_start", "INTEGER"},
	{"year_end", "INTEGER"},
	{"source_url", "TEXT"},
	{"metadata_updated_at", "TEXT"},
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var versions int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_version").Scan(&versions); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if versions == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}

	for _, column := range canonicalColumns {
		if err := s.ensureColumn(ctx, "series", column.name, column.decl); err != nil {
			return err
		}
	}
	// Stat column added after the initial schema; same additive treatment.
	return s.ensureColumn(ctx, "series", "max_volume", "INTEGER NOT NULL DEFAULT 0")
}

func (s *Store) ensureColumn(ctx context.Context, table, column, decl string) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect %s columns: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return fmt.Errorf("scan %s column info: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s columns: %w", table, err)
	}

	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)
	if _, err := s.db.ExecContext(ctx, alter); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}
