package ebdz

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"tomarr/internal/services"
)

func seedIndex(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ebdz.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("create index: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	rows := []struct {
		thread   string
		filename string
		volume   int
		link     string
		size     int64
	}{
		{"[MANGA] Golden Kamui - Intégrale", "Golden Kamui T03.cbz", 3, "ed2k://|file|Golden.Kamui.T03.cbz|1000|aa|/", 1000},
		{"[MANGA] Golden Kamui - Intégrale", "Golden Kamui T05.cbz", 5, "ed2k://|file|Golden.Kamui.T05.cbz|1100|bb|/", 1100},
		{"Autre série quelconque", "Autre T03.cbz", 3, "ed2k://|file|Autre.T03.cbz|900|cc|/", 900},
	}
	for _, r := range rows {
		if _, err := db.Exec(
			`INSERT INTO ed2k_links (thread_title, filename, volume, ed2k_link, size) VALUES (?, ?, ?, ?, ?)`,
			r.thread, r.filename, r.volume, r.link, r.size); err != nil {
			t.Fatalf("seed row: %v", err)
		}
	}
	return path
}

func TestSearchMatchesNormalizedTitleAndVolume(t *testing.T) {
	store, err := Open(seedIndex(t), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	results, err := store.Search(context.Background(), "golden kamui", 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	hit := results[0]
	if hit.Filename != "Golden Kamui T03.cbz" || hit.Indexer != "local" {
		t.Fatalf("hit = %+v", hit)
	}
	if hit.Source != store.Name() {
		t.Fatalf("source = %q", hit.Source)
	}
}

func TestSearchIsPunctuationInsensitive(t *testing.T) {
	store, err := Open(seedIndex(t), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	results, err := store.Search(context.Background(), "Golden. Kamui", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
}

func TestSearchNoVolumeMatch(t *testing.T) {
	store, err := Open(seedIndex(t), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	results, err := store.Search(context.Background(), "golden kamui", 9)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %v, want none", results)
	}
}

func TestOpenMissingIndex(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.db"), 1)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
