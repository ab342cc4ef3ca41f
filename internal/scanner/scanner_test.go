package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tomarr/internal/catalog"
	"tomarr/internal/logging"
	"tomarr/internal/services"
	"tomarr/internal/testsupport"
)

func TestScanDirectoryLayout(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	root := t.TempDir()
	library := testsupport.NewLibrary(t, store, "Manga", root)

	testsupport.WriteCBZ(t, filepath.Join(root, "Naruto", "Naruto T01.cbz"), 3)
	testsupport.WriteCBZ(t, filepath.Join(root, "Naruto", "Naruto T03.cbz"), 5)
	testsupport.WriteCBZ(t, filepath.Join(root, "_old_files", "Naruto T01.cbz"), 1)
	if err := os.WriteFile(filepath.Join(root, "Naruto", "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := New(store, logging.NewNop()).Scan(context.Background(), library.ID)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if result.Series != 1 || result.Volumes != 2 {
		t.Fatalf("result = %+v, want 1 series / 2 volumes", result)
	}

	series, err := store.FindSeriesByTitle(context.Background(), library.ID, "Naruto")
	if err != nil {
		t.Fatalf("find series: %v", err)
	}
	if series.TotalVolumes != 2 {
		t.Fatalf("total volumes = %d, want 2", series.TotalVolumes)
	}
	if len(series.MissingSet) != 1 || series.MissingSet[0] != 2 {
		t.Fatalf("missing set = %v, want [2]", series.MissingSet)
	}
	if series.HasParts {
		t.Fatalf("has_parts unexpectedly set")
	}

	volumes, err := store.ListVolumes(context.Background(), series.ID)
	if err != nil {
		t.Fatalf("list volumes: %v", err)
	}
	if len(volumes) != 2 {
		t.Fatalf("volume count = %d", len(volumes))
	}
	if volumes[0].PageCount != 3 || volumes[1].PageCount != 5 {
		t.Fatalf("page counts = %d, %d", volumes[0].PageCount, volumes[1].PageCount)
	}
}

func TestScanIgnoresHiddenAndReservedRootEntries(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	root := t.TempDir()
	library := testsupport.NewLibrary(t, store, "Manga", root)

	testsupport.WriteCBZ(t, filepath.Join(root, "Bleach", "Bleach T01.cbz"), 2)
	testsupport.WriteCBZ(t, filepath.Join(root, ".cache", "Fake T01.cbz"), 2)
	testsupport.WriteCBZ(t, filepath.Join(root, "_undo_20ab", "Bleach T02.cbz"), 2)
	testsupport.WriteCBZ(t, filepath.Join(root, "_doublons", "Bleach T01.cbz"), 2)
	if err := os.WriteFile(filepath.Join(root, ".DS_Store"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := New(store, logging.NewNop()).Scan(context.Background(), library.ID)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if result.Series != 1 || result.Volumes != 1 {
		t.Fatalf("result = %+v, want only the Bleach series", result)
	}
	if _, err := store.FindSeriesByTitle(context.Background(), library.ID, ".cache"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("hidden directory indexed: %v", err)
	}
}

func TestScanFlatLayoutGroupsByParsedTitle(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	root := t.TempDir()
	library := testsupport.NewLibrary(t, store, "Manga", root)

	testsupport.WriteCBZ(t, filepath.Join(root, "Bleach T04.cbz"), 2)
	testsupport.WriteCBZ(t, filepath.Join(root, "Bleach T05.cbz"), 2)
	testsupport.WriteCBZ(t, filepath.Join(root, "one-off special.cbz"), 2)

	result, err := New(store, logging.NewNop()).Scan(context.Background(), library.ID)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if result.Series != 2 {
		t.Fatalf("series = %d, want 2", result.Series)
	}

	bleach, err := store.FindSeriesByTitle(context.Background(), library.ID, "Bleach")
	if err != nil {
		t.Fatalf("find bleach: %v", err)
	}
	if bleach.Path != root {
		t.Fatalf("flat series path = %q, want library root", bleach.Path)
	}
	if bleach.TotalVolumes != 2 {
		t.Fatalf("bleach volumes = %d", bleach.TotalVolumes)
	}
}

func TestScanRemovesVanishedSeries(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	root := t.TempDir()
	library := testsupport.NewLibrary(t, store, "Manga", root)

	testsupport.WriteCBZ(t, filepath.Join(root, "Naruto", "Naruto T01.cbz"), 1)
	testsupport.WriteCBZ(t, filepath.Join(root, "Akira", "Akira T01.cbz"), 1)

	scanner := New(store, logging.NewNop())
	if _, err := scanner.Scan(context.Background(), library.ID); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if err := os.RemoveAll(filepath.Join(root, "Akira")); err != nil {
		t.Fatal(err)
	}
	if _, err := scanner.Scan(context.Background(), library.ID); err != nil {
		t.Fatalf("second scan: %v", err)
	}

	if _, err := store.FindSeriesByTitle(context.Background(), library.ID, "Akira"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("vanished series survived: %v", err)
	}
	if _, err := store.FindSeriesByTitle(context.Background(), library.ID, "Naruto"); err != nil {
		t.Fatalf("surviving series lost: %v", err)
	}
}

func TestScanToleratesCorruptArchives(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	root := t.TempDir()
	library := testsupport.NewLibrary(t, store, "Manga", root)

	dir := filepath.Join(root, "Naruto")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Naruto T01.cbz"), []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := New(store, logging.NewNop()).Scan(context.Background(), library.ID)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if result.Volumes != 1 {
		t.Fatalf("corrupt archive dropped from catalog: %+v", result)
	}

	series, err := store.FindSeriesByTitle(context.Background(), library.ID, "Naruto")
	if err != nil {
		t.Fatalf("find series: %v", err)
	}
	volumes, err := store.ListVolumes(context.Background(), series.ID)
	if err != nil {
		t.Fatalf("list volumes: %v", err)
	}
	if len(volumes) != 1 || volumes[0].PageCount != 0 {
		t.Fatalf("volumes = %+v, want one row with page count 0", volumes)
	}
}

func TestScanMissingRootFailsValidation(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	library := testsupport.NewLibrary(t, store, "Manga", filepath.Join(t.TempDir(), "does-not-exist"))

	_, err := New(store, logging.NewNop()).Scan(context.Background(), library.ID)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScanUnknownLibrary(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	_, err := New(store, logging.NewNop()).Scan(context.Background(), 9999)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
