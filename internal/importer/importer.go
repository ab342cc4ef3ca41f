// Package importer moves staged archives into the catalog with a
// deterministic collision policy and a fully journaled undo trail.
package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"tomarr/internal/catalog"
	"tomarr/internal/fileutil"
	"tomarr/internal/logging"
	"tomarr/internal/nameparse"
	"tomarr/internal/probe"
	"tomarr/internal/services"
)

const (
	oldFilesDir   = "_old_files"
	duplicatesDir = "_doublons"
	undoDirPrefix = "_undo_"

	fileStatusOK     = "ok"
	fileStatusFailed = "failed"
)

// Destination selects where one staged file should land. SeriesTitle and
// LibraryPath are always required; LibraryID is needed when the series does
// not exist yet.
type Destination struct {
	LibraryID   int64
	LibraryPath string
	SeriesTitle string
}

// Request pairs one staged file with its destination.
type Request struct {
	SourcePath  string
	Destination Destination
}

// Result summarizes one import operation.
type Result struct {
	OpID        string
	Imported    int
	Replaced    int
	Skipped     int
	Failed      int
	CleanedDirs []string
	Files       []*catalog.ImportFile
}

// Importer applies staged files to the catalog.
type Importer struct {
	store  *catalog.Store
	logger *slog.Logger
}

func New(store *catalog.Store, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Importer{store: store, logger: logging.WithComponent(logger, "importer")}
}

// Import moves every requested file into its library, then recomputes stats
// for the touched series and sweeps empty staging directories. Per-file
// failures are recorded and never abort the batch.
func (im *Importer) Import(ctx context.Context, stagingRoot string, requests []Request) (*Result, error) {
	if len(requests) == 0 {
		return nil, services.Wrap(services.ErrValidation, "importer", "import", "No files staged for import", nil)
	}
	for _, dir := range []string{oldFilesDir, duplicatesDir} {
		if err := fileutil.EnsureDir(filepath.Join(stagingRoot, dir)); err != nil {
			return nil, services.Wrap(services.ErrValidation, "importer", "prepare staging",
				fmt.Sprintf("Cannot create %s under staging root", dir), err)
		}
	}

	result := &Result{OpID: uuid.NewString()}
	err := im.store.WithTx(ctx, func(tx *sql.Tx) error {
		return im.store.CreateOperation(ctx, tx, result.OpID, "import", stagingRoot)
	})
	if err != nil {
		return nil, fmt.Errorf("open import operation: %w", err)
	}

	touched := map[int64]struct{}{}
	for _, request := range requests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record := im.importOne(ctx, stagingRoot, request, result.OpID, touched)
		result.Files = append(result.Files, record)
		switch {
		case record.Status == fileStatusFailed:
			result.Failed++
		case record.Action == catalog.ActionImported:
			result.Imported++
		case record.Action == catalog.ActionReplaced:
			result.Replaced++
		case record.Action == catalog.ActionSkippedDuplicate:
			result.Skipped++
		}
	}

	err = im.store.WithTx(ctx, func(tx *sql.Tx) error {
		for seriesID := range touched {
			if err := im.store.RecomputeSeriesStats(ctx, tx, seriesID); err != nil {
				return err
			}
		}
		status := catalog.OpStatusCompleted
		if result.Failed > 0 && result.Imported+result.Replaced+result.Skipped == 0 {
			status = catalog.OpStatusFailed
		}
		return im.store.FinishOperation(ctx, tx, result.OpID, status,
			result.Imported, result.Replaced, result.Skipped, result.Failed)
	})
	if err != nil {
		return nil, fmt.Errorf("finish import operation: %w", err)
	}

	cleaned, cleanErr := fileutil.RemoveEmptyDirs(stagingRoot, oldFilesDir, duplicatesDir, undoDirPrefix+"*")
	if cleanErr != nil {
		im.logger.Warn("staging cleanup incomplete", logging.Error(cleanErr))
	}
	result.CleanedDirs = cleaned

	im.logger.Info("import completed",
		logging.String(logging.FieldOperation, result.OpID),
		logging.Int("imported", result.Imported),
		logging.Int("replaced", result.Replaced),
		logging.Int("skipped", result.Skipped),
		logging.Int("failed", result.Failed))
	return result, nil
}

// importOne runs the per-file policy and always returns a history record,
// failed ones included. Filesystem moves happen between transactions, never
// inside one: a busy writer retries its closure, and a retried closure must
// not repeat a move.
func (im *Importer) importOne(ctx context.Context, stagingRoot string, request Request, opID string, touched map[int64]struct{}) *catalog.ImportFile {
	record := &catalog.ImportFile{
		OpID:        opID,
		Filename:    filepath.Base(request.SourcePath),
		SourcePath:  request.SourcePath,
		SeriesTitle: request.Destination.SeriesTitle,
		Status:      fileStatusOK,
	}

	if err := im.applyFile(ctx, stagingRoot, request, record, touched); err != nil {
		record.Status = fileStatusFailed
		record.Message = err.Error()
		im.logger.Warn("file import failed",
			logging.String("file", record.Filename), logging.Error(err))
	}
	historyErr := im.store.WithTx(ctx, func(tx *sql.Tx) error {
		return im.store.AddOperationFile(ctx, tx, record)
	})
	if historyErr != nil {
		im.logger.Error("history row lost for file",
			logging.String("file", record.Filename), logging.Error(historyErr))
	}
	return record
}

func (im *Importer) applyFile(ctx context.Context, stagingRoot string, request Request, record *catalog.ImportFile, touched map[int64]struct{}) error {
	dest := request.Destination
	targetDir := filepath.Join(dest.LibraryPath, dest.SeriesTitle)
	if err := fileutil.EnsureDir(targetDir); err != nil {
		return fmt.Errorf("create series directory: %w", err)
	}

	meta := nameparse.Parse(record.Filename)

	var (
		seriesID int64
		existing *catalog.Volume
	)
	err := im.store.WithTx(ctx, func(tx *sql.Tx) error {
		// Upsert keeps a stale stored path self-healing: an existing series
		// gets its path rewritten to the resolved target.
		var err error
		seriesID, err = im.store.UpsertSeries(ctx, tx, dest.LibraryID, dest.SeriesTitle, targetDir)
		if err != nil {
			return err
		}
		existing = nil
		if meta.Volume != nil {
			existing, err = im.store.FindVolumeByNumber(ctx, tx, seriesID, *meta.Volume)
			if err != nil && !errors.Is(err, catalog.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	record.SeriesID = &seriesID
	touched[seriesID] = struct{}{}

	if existing != nil {
		return im.resolveCollision(ctx, stagingRoot, targetDir, request, record, seriesID, meta, existing)
	}

	targetPath, err := fileutil.UniquePath(filepath.Join(targetDir, record.Filename))
	if err != nil {
		return fmt.Errorf("allocate target name: %w", err)
	}
	if err := fileutil.MoveFile(request.SourcePath, targetPath); err != nil {
		return fmt.Errorf("move into library: %w", err)
	}
	if err := im.insertVolume(ctx, seriesID, targetPath, meta, nil); err != nil {
		// Put the file back so staging and catalog stay consistent.
		if restoreErr := fileutil.MoveFile(targetPath, request.SourcePath); restoreErr != nil {
			im.logger.Error("orphaned file left in library",
				logging.String("file", targetPath), logging.Error(restoreErr))
		}
		return err
	}
	record.DestinationPath = targetPath
	record.Action = catalog.ActionImported
	return nil
}

// resolveCollision applies the keep-larger policy when the staged file's
// volume number is already present in the series.
func (im *Importer) resolveCollision(ctx context.Context, stagingRoot, targetDir string, request Request, record *catalog.ImportFile, seriesID int64, meta nameparse.Metadata, existing *catalog.Volume) error {
	stagedInfo, err := os.Stat(request.SourcePath)
	if err != nil {
		return fmt.Errorf("stat staged file: %w", err)
	}

	if stagedInfo.Size() > existing.FileSize {
		demoted := timestampedOnCollision(filepath.Join(stagingRoot, oldFilesDir, existing.Filename))
		if err := fileutil.MoveFile(existing.Filepath, demoted); err != nil {
			return fmt.Errorf("demote smaller file: %w", err)
		}
		targetPath, err := fileutil.UniquePath(filepath.Join(targetDir, record.Filename))
		if err == nil {
			err = fileutil.MoveFile(request.SourcePath, targetPath)
		}
		if err == nil {
			err = im.insertVolume(ctx, seriesID, targetPath, meta, &existing.ID)
			if err != nil {
				if restoreErr := fileutil.MoveFile(targetPath, request.SourcePath); restoreErr != nil {
					im.logger.Error("orphaned file left in library",
						logging.String("file", targetPath), logging.Error(restoreErr))
				}
			}
		}
		if err != nil {
			// Re-promote the demoted file; its volume row is untouched.
			if restoreErr := fileutil.MoveFile(demoted, existing.Filepath); restoreErr != nil {
				im.logger.Error("demoted file left in staging",
					logging.String("file", demoted), logging.Error(restoreErr))
			}
			return err
		}
		record.DestinationPath = targetPath
		record.Action = catalog.ActionReplaced
		record.Message = fmt.Sprintf("replaced %s (%d bytes) with %d bytes", existing.Filename, existing.FileSize, stagedInfo.Size())
		return nil
	}

	duplicate := timestampedOnCollision(filepath.Join(stagingRoot, duplicatesDir, record.Filename))
	if err := fileutil.MoveFile(request.SourcePath, duplicate); err != nil {
		return fmt.Errorf("park duplicate: %w", err)
	}
	record.DestinationPath = duplicate
	record.Action = catalog.ActionSkippedDuplicate
	record.Message = fmt.Sprintf("existing %s is larger or equal", existing.Filename)
	return nil
}

// insertVolume records the moved file, replacing the volume row identified by
// replacedID when set. Runs after the move so a busy retry only repeats
// database work.
func (im *Importer) insertVolume(ctx context.Context, seriesID int64, targetPath string, meta nameparse.Metadata, replacedID *int64) error {
	info, err := os.Stat(targetPath)
	if err != nil {
		return fmt.Errorf("stat imported file: %w", err)
	}
	pages, probeErr := probe.Count(targetPath, meta.Format)
	if probeErr != nil {
		im.logger.Debug("page count unavailable",
			logging.String("file", filepath.Base(targetPath)), logging.Error(probeErr))
	}

	volume := &catalog.Volume{
		SeriesID:     seriesID,
		Filename:     filepath.Base(targetPath),
		Filepath:     targetPath,
		VolumeNumber: meta.Volume,
		PartNumber:   meta.PartNumber,
		Author:       meta.Author,
		Year:         meta.Year,
		Resolution:   meta.Resolution,
		FileSize:     info.Size(),
		PageCount:    pages,
		Format:       meta.Format,
	}
	if meta.PartName != "" {
		partName := meta.PartName
		volume.PartName = &partName
	}
	return im.store.WithTx(ctx, func(tx *sql.Tx) error {
		if replacedID != nil {
			if err := im.store.DeleteVolume(ctx, tx, *replacedID); err != nil {
				return err
			}
		}
		_, err := im.store.InsertVolume(ctx, tx, volume)
		return err
	})
}

// Undo moves the destination files of a completed operation into
// _undo_{op_id} under the original staging root and flips the history rows.
func (im *Importer) Undo(ctx context.Context, opID string) error {
	op, err := im.store.GetOperation(ctx, opID)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "importer", "undo",
			fmt.Sprintf("Import operation %s does not exist", opID), err)
	}
	if op.Status != catalog.OpStatusCompleted {
		return services.Wrap(services.ErrValidation, "importer", "undo",
			fmt.Sprintf("Operation %s is %s; only completed operations can be undone", opID, op.Status), nil)
	}

	files, err := im.store.ListOperationFiles(ctx, opID)
	if err != nil {
		return err
	}

	undoDir := filepath.Join(op.StagingRoot, undoDirPrefix+opID)
	if err := fileutil.EnsureDir(undoDir); err != nil {
		return fmt.Errorf("create undo directory: %w", err)
	}

	return im.store.WithTx(ctx, func(tx *sql.Tx) error {
		touched := map[int64]struct{}{}
		for _, file := range files {
			if file.Status != fileStatusOK || file.DestinationPath == "" {
				continue
			}
			if file.Action == catalog.ActionSkippedDuplicate {
				continue
			}
			target := timestampedOnCollision(filepath.Join(undoDir, filepath.Base(file.DestinationPath)))
			if err := fileutil.MoveFile(file.DestinationPath, target); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					im.logger.Warn("undo target already gone",
						logging.String("file", file.DestinationPath))
				} else {
					return fmt.Errorf("move %s to undo directory: %w", file.Filename, err)
				}
			}
			if err := im.store.DeleteVolumeByPath(ctx, tx, file.DestinationPath); err != nil {
				return err
			}
			if file.SeriesID != nil {
				touched[*file.SeriesID] = struct{}{}
			}
		}
		for seriesID := range touched {
			if err := im.store.RecomputeSeriesStats(ctx, tx, seriesID); err != nil {
				if errors.Is(err, catalog.ErrNotFound) {
					continue
				}
				return err
			}
		}
		if err := im.store.MarkOperationFilesUndone(ctx, tx, opID); err != nil {
			return err
		}
		return im.store.MarkOperationUndone(ctx, tx, opID)
	})
}

// StagedFile is one candidate found while enumerating a staging directory.
type StagedFile struct {
	Path     string
	Filename string
	Size     int64
	Meta     nameparse.Metadata
}

// ScanStaging enumerates importable archives under root, recursively but
// never descending into the bookkeeping directories.
func (im *Importer) ScanStaging(root string) ([]StagedFile, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, "importer", "scan staging",
			fmt.Sprintf("Staging path %s is not a readable directory", root), err)
	}

	var staged []StagedFile
	err = filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			name := entry.Name()
			if path != root && (name == oldFilesDir || name == duplicatesDir || strings.HasPrefix(name, undoDirPrefix)) {
				return filepath.SkipDir
			}
			return nil
		}
		meta := nameparse.Parse(entry.Name())
		if !importableFormat(meta.Format) {
			return nil
		}
		fileInfo, err := entry.Info()
		if err != nil {
			return nil
		}
		staged = append(staged, StagedFile{
			Path:     path,
			Filename: entry.Name(),
			Size:     fileInfo.Size(),
			Meta:     meta,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk staging root: %w", err)
	}
	return staged, nil
}

// Cleanup runs only the empty-directory sweep of a staging root.
func (im *Importer) Cleanup(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, "importer", "cleanup",
			fmt.Sprintf("Path %s is not a readable directory", root), err)
	}
	return fileutil.RemoveEmptyDirs(root, oldFilesDir, duplicatesDir, undoDirPrefix+"*")
}

func importableFormat(format string) bool {
	switch format {
	case "cbz", "cbr", "zip", "rar", "pdf", "epub":
		return true
	default:
		return false
	}
}

// timestampedOnCollision appends _{yyyyMMdd_HHmmss} before the extension when
// the candidate path is already taken.
func timestampedOnCollision(path string) string {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	return base + "_" + time.Now().Format("20060102_150405") + ext
}
