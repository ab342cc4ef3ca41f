package catalog

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "manga_library.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func intPtr(v int) *int { return &v }

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manga_library.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer store.Close()

	var version int
	if err := store.db.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != schemaVersion {
		t.Fatalf("schema version = %d, want %d", version, schemaVersion)
	}
}

func TestLibraryLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var library *Library
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		library, err = store.CreateLibrary(ctx, tx, "Manga", "/srv/manga", "main shelf")
		return err
	})
	if err != nil {
		t.Fatalf("create library: %v", err)
	}

	got, err := store.GetLibrary(ctx, library.ID)
	if err != nil {
		t.Fatalf("get library: %v", err)
	}
	if got.Name != "Manga" || got.RootPath != "/srv/manga" {
		t.Fatalf("unexpected library %+v", got)
	}
	if got.LastScannedAt != nil {
		t.Fatalf("fresh library should not have a scan stamp")
	}

	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.DeleteLibrary(ctx, tx, library.ID)
	})
	if err != nil {
		t.Fatalf("delete library: %v", err)
	}
	if _, err := store.GetLibrary(ctx, library.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDuplicateLibraryNameIsIntegrityError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := store.CreateLibrary(ctx, tx, "Manga", "/srv/manga", "")
		return err
	})
	if err != nil {
		t.Fatalf("create library: %v", err)
	}

	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := store.CreateLibrary(ctx, tx, "Manga", "/elsewhere", "")
		return err
	})
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestRecomputeSeriesStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var seriesID int64
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		library, err := store.CreateLibrary(ctx, tx, "Manga", "/srv/manga", "")
		if err != nil {
			return err
		}
		seriesID, err = store.UpsertSeries(ctx, tx, library.ID, "Bleach", "/srv/manga/Bleach")
		if err != nil {
			return err
		}
		for _, n := range []int{1, 2, 4, 5, 7} {
			v := &Volume{
				SeriesID:     seriesID,
				Filename:     "Bleach T0" + string(rune('0'+n)) + ".cbz",
				Filepath:     filepath.Join("/srv/manga/Bleach", "Bleach T0"+string(rune('0'+n))+".cbz"),
				VolumeNumber: intPtr(n),
				Format:       "cbz",
			}
			if _, err := store.InsertVolume(ctx, tx, v); err != nil {
				return err
			}
		}
		return store.RecomputeSeriesStats(ctx, tx, seriesID)
	})
	if err != nil {
		t.Fatalf("seed series: %v", err)
	}

	series, err := store.GetSeries(ctx, seriesID)
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	if series.TotalVolumes != 5 {
		t.Fatalf("total volumes = %d, want 5", series.TotalVolumes)
	}
	if series.MaxVolume != 7 {
		t.Fatalf("max volume = %d, want 7", series.MaxVolume)
	}
	if len(series.MissingSet) != 2 || series.MissingSet[0] != 3 || series.MissingSet[1] != 6 {
		t.Fatalf("missing set = %v, want [3 6]", series.MissingSet)
	}
	if series.HasParts {
		t.Fatalf("series without parts flagged has_parts")
	}
}

func TestHasPartsRequiresTwoDistinctParts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var seriesID int64
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		library, err := store.CreateLibrary(ctx, tx, "Manga", "/srv/manga", "")
		if err != nil {
			return err
		}
		seriesID, err = store.UpsertSeries(ctx, tx, library.ID, "Berserk", "/srv/manga/Berserk")
		if err != nil {
			return err
		}
		one := &Volume{SeriesID: seriesID, Filename: "a.cbz", Filepath: "/srv/manga/Berserk/a.cbz",
			VolumeNumber: intPtr(1), PartNumber: intPtr(1)}
		if _, err := store.InsertVolume(ctx, tx, one); err != nil {
			return err
		}
		return store.RecomputeSeriesStats(ctx, tx, seriesID)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	series, err := store.GetSeries(ctx, seriesID)
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	if series.HasParts {
		t.Fatalf("single part should not set has_parts")
	}

	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		two := &Volume{SeriesID: seriesID, Filename: "b.cbz", Filepath: "/srv/manga/Berserk/b.cbz",
			VolumeNumber: intPtr(1), PartNumber: intPtr(2)}
		if _, err := store.InsertVolume(ctx, tx, two); err != nil {
			return err
		}
		return store.RecomputeSeriesStats(ctx, tx, seriesID)
	})
	if err != nil {
		t.Fatalf("add second part: %v", err)
	}

	series, err = store.GetSeries(ctx, seriesID)
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	if !series.HasParts {
		t.Fatalf("two distinct parts should set has_parts")
	}
}

func TestReconcileLibrary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var library *Library
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		library, err = store.CreateLibrary(ctx, tx, "Manga", "/srv/manga", "")
		return err
	})
	if err != nil {
		t.Fatalf("create library: %v", err)
	}

	observed := map[string]ObservedSeries{
		"Naruto": {
			Path: "/srv/manga/Naruto",
			Volumes: []Volume{
				{Filename: "Naruto T01.cbz", Filepath: "/srv/manga/Naruto/Naruto T01.cbz", VolumeNumber: intPtr(1), Format: "cbz"},
				{Filename: "Naruto T03.cbz", Filepath: "/srv/manga/Naruto/Naruto T03.cbz", VolumeNumber: intPtr(3), Format: "cbz"},
			},
		},
		"One Piece": {
			Path: "/srv/manga/One Piece",
			Volumes: []Volume{
				{Filename: "One Piece T01.cbz", Filepath: "/srv/manga/One Piece/One Piece T01.cbz", VolumeNumber: intPtr(1), Format: "cbz"},
			},
		},
	}
	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.ReconcileLibrary(ctx, tx, library.ID, observed)
	})
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	naruto, err := store.FindSeriesByTitle(ctx, library.ID, "Naruto")
	if err != nil {
		t.Fatalf("find naruto: %v", err)
	}
	if naruto.TotalVolumes != 2 || len(naruto.MissingSet) != 1 || naruto.MissingSet[0] != 2 {
		t.Fatalf("naruto stats = (%d, %v)", naruto.TotalVolumes, naruto.MissingSet)
	}

	// Second run over identical observations keeps ids stable.
	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.ReconcileLibrary(ctx, tx, library.ID, observed)
	})
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	again, err := store.FindSeriesByTitle(ctx, library.ID, "Naruto")
	if err != nil {
		t.Fatalf("refind naruto: %v", err)
	}
	if again.ID != naruto.ID {
		t.Fatalf("series id changed across identical scans: %d != %d", again.ID, naruto.ID)
	}

	// A series removed from disk vanishes; the rest survive.
	delete(observed, "One Piece")
	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.ReconcileLibrary(ctx, tx, library.ID, observed)
	})
	if err != nil {
		t.Fatalf("third reconcile: %v", err)
	}
	if _, err := store.FindSeriesByTitle(ctx, library.ID, "One Piece"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected orphan removal, got %v", err)
	}
	if _, err := store.FindSeriesByTitle(ctx, library.ID, "Naruto"); err != nil {
		t.Fatalf("survivor series lost: %v", err)
	}

	updated, err := store.GetLibrary(ctx, library.ID)
	if err != nil {
		t.Fatalf("get library: %v", err)
	}
	if updated.LastScannedAt == nil {
		t.Fatalf("reconcile should stamp last_scanned_at")
	}
}

func TestMonitorsFilterByMissingSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var complete, gapped int64
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		library, err := store.CreateLibrary(ctx, tx, "Manga", "/srv/manga", "")
		if err != nil {
			return err
		}
		complete, err = store.UpsertSeries(ctx, tx, library.ID, "Akira", "/srv/manga/Akira")
		if err != nil {
			return err
		}
		gapped, err = store.UpsertSeries(ctx, tx, library.ID, "Bleach", "/srv/manga/Bleach")
		if err != nil {
			return err
		}
		for i, n := range []int{1, 3} {
			v := &Volume{SeriesID: gapped, Filename: "b.cbz", Filepath: "/b" + string(rune('0'+i)) + ".cbz", VolumeNumber: intPtr(n)}
			if _, err := store.InsertVolume(ctx, tx, v); err != nil {
				return err
			}
		}
		if err := store.RecomputeSeriesStats(ctx, tx, gapped); err != nil {
			return err
		}
		if err := store.UpsertMonitor(ctx, tx, complete, true, []string{"ebdz"}, false); err != nil {
			return err
		}
		return store.UpsertMonitor(ctx, tx, gapped, true, []string{"ebdz", "prowlarr"}, true)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	monitored, err := store.ListEnabledMonitors(ctx, true)
	if err != nil {
		t.Fatalf("list monitors: %v", err)
	}
	if len(monitored) != 1 {
		t.Fatalf("monitored count = %d, want 1", len(monitored))
	}
	entry := monitored[0]
	if entry.Monitor.SeriesID != gapped {
		t.Fatalf("monitored series = %d, want %d", entry.Monitor.SeriesID, gapped)
	}
	if len(entry.Monitor.Sources) != 2 || entry.Monitor.Sources[1] != "prowlarr" {
		t.Fatalf("monitor sources = %v", entry.Monitor.Sources)
	}
	if !entry.Monitor.AutoSubmit {
		t.Fatalf("auto_submit lost in round trip")
	}

	all, err := store.ListEnabledMonitors(ctx, false)
	if err != nil {
		t.Fatalf("list all monitors: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all enabled monitors = %d, want 2", len(all))
	}
}

func TestImportOperationHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const opID = "b3e2f9d0-cafe-4f00-9a77-000000000001"
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.CreateOperation(ctx, tx, opID, "import", "/tmp/in"); err != nil {
			return err
		}
		file := &ImportFile{
			OpID:            opID,
			Filename:        "Naruto T02.cbz",
			SourcePath:      "/tmp/in/Naruto T02.cbz",
			DestinationPath: "/srv/manga/Naruto/Naruto T02.cbz",
			SeriesTitle:     "Naruto",
			Action:          ActionImported,
			Status:          "ok",
		}
		if err := store.AddOperationFile(ctx, tx, file); err != nil {
			return err
		}
		return store.FinishOperation(ctx, tx, opID, OpStatusCompleted, 1, 0, 0, 0)
	})
	if err != nil {
		t.Fatalf("record operation: %v", err)
	}

	op, err := store.GetOperation(ctx, opID)
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if op.Status != OpStatusCompleted || op.Imported != 1 {
		t.Fatalf("operation = %+v", op)
	}
	if op.CompletedAt == nil {
		t.Fatalf("completed operation missing completion stamp")
	}

	files, err := store.ListOperationFiles(ctx, opID)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 1 || files[0].Action != ActionImported {
		t.Fatalf("files = %+v", files)
	}

	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.MarkOperationUndone(ctx, tx, opID)
	})
	if err != nil {
		t.Fatalf("mark undone: %v", err)
	}
	op, err = store.GetOperation(ctx, opID)
	if err != nil {
		t.Fatalf("reget operation: %v", err)
	}
	if op.Status != OpStatusUndone {
		t.Fatalf("status = %s, want %s", op.Status, OpStatusUndone)
	}
}

func TestDownloadEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.RecordDownloadEvent(ctx, tx, &DownloadEvent{
			Title:        "Naruto",
			VolumeNumber: intPtr(2),
			Client:       "qbittorrent",
			Success:      true,
		})
	})
	if err != nil {
		t.Fatalf("record event: %v", err)
	}

	events, err := store.ListDownloadEvents(ctx, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("event count = %d, want 1", len(events))
	}
	event := events[0]
	if event.Client != "qbittorrent" || !event.Success || event.VolumeNumber == nil || *event.VolumeNumber != 2 {
		t.Fatalf("event = %+v", event)
	}
	if time.Since(event.CreatedAt) > time.Minute {
		t.Fatalf("event timestamp looks stale: %v", event.CreatedAt)
	}
}

func TestCanonicalMetadataUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var seriesID int64
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		library, err := store.CreateLibrary(ctx, tx, "Manga", "/srv/manga", "")
		if err != nil {
			return err
		}
		seriesID, err = store.UpsertSeries(ctx, tx, library.ID, "Naruto", "/srv/manga/Naruto")
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	now := time.Now()
	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.UpdateSeriesCanonical(ctx, tx, seriesID, Canonical{
			Total:             intPtr(72),
			Status:            "Terminé",
			Editor:            "Kana",
			Author:            "Kishimoto",
			YearStart:         intPtr(1999),
			YearEnd:           intPtr(2014),
			SourceURL:         "https://example.org/naruto",
			MetadataUpdatedAt: &now,
		})
	})
	if err != nil {
		t.Fatalf("update canonical: %v", err)
	}

	series, err := store.GetSeries(ctx, seriesID)
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	if series.Canonical.Total == nil || *series.Canonical.Total != 72 {
		t.Fatalf("canonical total = %v", series.Canonical.Total)
	}
	if series.Canonical.Status != "Terminé" || series.Canonical.Editor != "Kana" {
		t.Fatalf("canonical = %+v", series.Canonical)
	}
	if series.Canonical.MetadataUpdatedAt == nil {
		t.Fatalf("metadata stamp missing")
	}
}
