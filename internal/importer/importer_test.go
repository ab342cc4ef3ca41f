package importer

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tomarr/internal/catalog"
	"tomarr/internal/logging"
	"tomarr/internal/services"
	"tomarr/internal/testsupport"
)

type fixture struct {
	store   *catalog.Store
	library *catalog.Library
	staging string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testsupport.MustOpenStore(t)

	root := t.TempDir()
	var library *catalog.Library
	err := store.WithTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		library, err = store.CreateLibrary(context.Background(), tx, "Manga", root, "")
		return err
	})
	if err != nil {
		t.Fatalf("create library: %v", err)
	}
	return &fixture{store: store, library: library, staging: t.TempDir()}
}

func (f *fixture) stage(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(f.staging, name)
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = 0x42
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("stage %s: %v", name, err)
	}
	return path
}

func (f *fixture) dest(title string) Destination {
	return Destination{LibraryID: f.library.ID, LibraryPath: f.library.RootPath, SeriesTitle: title}
}

func (f *fixture) series(t *testing.T, title string) *catalog.Series {
	t.Helper()
	series, err := f.store.FindSeriesByTitle(context.Background(), f.library.ID, title)
	if err != nil {
		t.Fatalf("find series %q: %v", title, err)
	}
	return series
}

func TestImportIntoNewSeries(t *testing.T) {
	f := newFixture(t)
	im := New(f.store, logging.NewNop())

	staged := f.stage(t, "Naruto T01.cbz", 1024)
	result, err := im.Import(context.Background(), f.staging, []Request{{SourcePath: staged, Destination: f.dest("Naruto")}})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Imported != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}

	want := filepath.Join(f.library.RootPath, "Naruto", "Naruto T01.cbz")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("imported file missing: %v", err)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Fatalf("staged file still present: %v", err)
	}

	series := f.series(t, "Naruto")
	if series.TotalVolumes != 1 {
		t.Fatalf("total volumes = %d", series.TotalVolumes)
	}
	if series.Path != filepath.Join(f.library.RootPath, "Naruto") {
		t.Fatalf("series path = %q", series.Path)
	}

	op, err := f.store.GetOperation(context.Background(), result.OpID)
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if op.Status != catalog.OpStatusCompleted || op.Imported != 1 {
		t.Fatalf("operation = %+v", op)
	}
}

func TestImportFillsGap(t *testing.T) {
	f := newFixture(t)
	im := New(f.store, logging.NewNop())

	for _, name := range []string{"Naruto T01.cbz", "Naruto T03.cbz"} {
		staged := f.stage(t, name, 512)
		if _, err := im.Import(context.Background(), f.staging, []Request{{SourcePath: staged, Destination: f.dest("Naruto")}}); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	series := f.series(t, "Naruto")
	if len(series.MissingSet) != 1 || series.MissingSet[0] != 2 {
		t.Fatalf("missing = %v, want [2]", series.MissingSet)
	}

	staged := f.stage(t, "Naruto T02.cbz", 700)
	if _, err := im.Import(context.Background(), f.staging, []Request{{SourcePath: staged, Destination: f.dest("Naruto")}}); err != nil {
		t.Fatalf("import gap filler: %v", err)
	}

	series = f.series(t, "Naruto")
	if len(series.MissingSet) != 0 {
		t.Fatalf("missing = %v, want []", series.MissingSet)
	}
	if series.TotalVolumes != 3 {
		t.Fatalf("total volumes = %d, want 3", series.TotalVolumes)
	}
}

func TestImportSkipsSmallerDuplicate(t *testing.T) {
	f := newFixture(t)
	im := New(f.store, logging.NewNop())

	first := f.stage(t, "Naruto T02.cbz", 7000)
	if _, err := im.Import(context.Background(), f.staging, []Request{{SourcePath: first, Destination: f.dest("Naruto")}}); err != nil {
		t.Fatalf("first import: %v", err)
	}

	smaller := f.stage(t, "Naruto T02.cbz", 2000)
	result, err := im.Import(context.Background(), f.staging, []Request{{SourcePath: smaller, Destination: f.dest("Naruto")}})
	if err != nil {
		t.Fatalf("duplicate import: %v", err)
	}
	if result.Skipped != 1 || result.Imported != 0 {
		t.Fatalf("result = %+v", result)
	}

	parked := filepath.Join(f.staging, "_doublons", "Naruto T02.cbz")
	if _, err := os.Stat(parked); err != nil {
		t.Fatalf("duplicate not parked: %v", err)
	}

	series := f.series(t, "Naruto")
	if series.TotalVolumes != 1 {
		t.Fatalf("row changes on skipped duplicate: %+v", series)
	}
	files, err := f.store.ListOperationFiles(context.Background(), result.OpID)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 1 || files[0].Action != catalog.ActionSkippedDuplicate {
		t.Fatalf("history = %+v", files)
	}
}

func TestImportReplacesSmallerExisting(t *testing.T) {
	f := newFixture(t)
	im := New(f.store, logging.NewNop())

	first := f.stage(t, "Naruto T02.cbz", 4000)
	if _, err := im.Import(context.Background(), f.staging, []Request{{SourcePath: first, Destination: f.dest("Naruto")}}); err != nil {
		t.Fatalf("first import: %v", err)
	}

	larger := f.stage(t, "Naruto T02.cbz", 20000)
	result, err := im.Import(context.Background(), f.staging, []Request{{SourcePath: larger, Destination: f.dest("Naruto")}})
	if err != nil {
		t.Fatalf("replacement import: %v", err)
	}
	if result.Replaced != 1 {
		t.Fatalf("result = %+v", result)
	}

	demoted := filepath.Join(f.staging, "_old_files", "Naruto T02.cbz")
	if _, err := os.Stat(demoted); err != nil {
		t.Fatalf("old file not demoted: %v", err)
	}

	canonical := filepath.Join(f.library.RootPath, "Naruto", "Naruto T02.cbz")
	info, err := os.Stat(canonical)
	if err != nil {
		t.Fatalf("canonical file missing: %v", err)
	}
	if info.Size() != 20000 {
		t.Fatalf("canonical size = %d, want 20000", info.Size())
	}

	series := f.series(t, "Naruto")
	if series.TotalVolumes != 1 {
		t.Fatalf("total volumes = %d, want 1", series.TotalVolumes)
	}
}

func TestImportSweepsEmptyStagingDirs(t *testing.T) {
	f := newFixture(t)
	im := New(f.store, logging.NewNop())

	nested := filepath.Join(f.staging, "batch1")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	undoDir := filepath.Join(f.staging, "_undo_op1")
	if err := os.MkdirAll(undoDir, 0o755); err != nil {
		t.Fatal(err)
	}
	staged := filepath.Join(nested, "Naruto T01.cbz")
	if err := os.WriteFile(staged, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := im.Import(context.Background(), f.staging, []Request{{SourcePath: staged, Destination: f.dest("Naruto")}}); err != nil {
		t.Fatalf("import: %v", err)
	}

	if _, err := os.Stat(nested); !os.IsNotExist(err) {
		t.Fatalf("emptied staging subdirectory survived: %v", err)
	}
	for _, protected := range []string{"_old_files", "_doublons", "_undo_op1"} {
		if _, err := os.Stat(filepath.Join(f.staging, protected)); err != nil {
			t.Fatalf("protected directory %s removed: %v", protected, err)
		}
	}
	if _, err := os.Stat(f.staging); err != nil {
		t.Fatalf("staging root removed: %v", err)
	}
}

func TestImportRecordsFailuresWithoutAborting(t *testing.T) {
	f := newFixture(t)
	im := New(f.store, logging.NewNop())

	good := f.stage(t, "Naruto T01.cbz", 100)
	missing := filepath.Join(f.staging, "Naruto T02.cbz")

	result, err := im.Import(context.Background(), f.staging, []Request{
		{SourcePath: missing, Destination: f.dest("Naruto")},
		{SourcePath: good, Destination: f.dest("Naruto")},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Failed != 1 || result.Imported != 1 {
		t.Fatalf("result = %+v", result)
	}

	files, err := f.store.ListOperationFiles(context.Background(), result.OpID)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("history rows = %d, want 2", len(files))
	}
}

func TestImportRestoresStagedFileOnInsertFailure(t *testing.T) {
	f := newFixture(t)
	im := New(f.store, logging.NewNop())

	// Register the target path under a different volume number so the
	// collision check passes but the insert hits the filepath constraint.
	target := filepath.Join(f.library.RootPath, "Naruto", "Naruto T01.cbz")
	err := f.store.WithTx(context.Background(), func(tx *sql.Tx) error {
		seriesID, err := f.store.UpsertSeries(context.Background(), tx, f.library.ID, "Naruto", filepath.Dir(target))
		if err != nil {
			return err
		}
		nine := 9
		_, err = f.store.InsertVolume(context.Background(), tx, &catalog.Volume{
			SeriesID:     seriesID,
			Filename:     "Naruto T01.cbz",
			Filepath:     target,
			VolumeNumber: &nine,
			Format:       "cbz",
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed conflicting row: %v", err)
	}

	staged := f.stage(t, "Naruto T01.cbz", 256)
	result, err := im.Import(context.Background(), f.staging, []Request{{SourcePath: staged, Destination: f.dest("Naruto")}})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Failed != 1 || result.Imported != 0 {
		t.Fatalf("result = %+v", result)
	}

	// The move is rolled back alongside the failed insert.
	if _, err := os.Stat(staged); err != nil {
		t.Fatalf("staged file not restored: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("orphan left in library: %v", err)
	}

	files, err := f.store.ListOperationFiles(context.Background(), result.OpID)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 1 || files[0].Status != "failed" {
		t.Fatalf("history = %+v", files)
	}
}

func TestUndoRestoresAndFlipsHistory(t *testing.T) {
	f := newFixture(t)
	im := New(f.store, logging.NewNop())

	staged := f.stage(t, "Naruto T01.cbz", 300)
	result, err := im.Import(context.Background(), f.staging, []Request{{SourcePath: staged, Destination: f.dest("Naruto")}})
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	if err := im.Undo(context.Background(), result.OpID); err != nil {
		t.Fatalf("undo: %v", err)
	}

	undone := filepath.Join(f.staging, "_undo_"+result.OpID, "Naruto T01.cbz")
	if _, err := os.Stat(undone); err != nil {
		t.Fatalf("file not moved to undo directory: %v", err)
	}
	imported := filepath.Join(f.library.RootPath, "Naruto", "Naruto T01.cbz")
	if _, err := os.Stat(imported); !os.IsNotExist(err) {
		t.Fatalf("library file still present after undo: %v", err)
	}

	op, err := f.store.GetOperation(context.Background(), result.OpID)
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if op.Status != catalog.OpStatusUndone {
		t.Fatalf("operation status = %s", op.Status)
	}

	series := f.series(t, "Naruto")
	if series.TotalVolumes != 0 {
		t.Fatalf("volume rows survived undo: %+v", series)
	}

	// Undo is single-shot: a second attempt is a validation error.
	if err := im.Undo(context.Background(), result.OpID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUndoUnknownOperation(t *testing.T) {
	f := newFixture(t)
	im := New(f.store, logging.NewNop())
	if err := im.Undo(context.Background(), "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}
