// Package scanner walks library roots and reconciles what it finds against
// the catalog.
package scanner

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"tomarr/internal/catalog"
	"tomarr/internal/logging"
	"tomarr/internal/nameparse"
	"tomarr/internal/probe"
	"tomarr/internal/services"
)

var archiveFormats = map[string]struct{}{
	"cbz":  {},
	"cbr":  {},
	"zip":  {},
	"rar":  {},
	"pdf":  {},
	"epub": {},
}

// Scanner builds library observations from disk and writes them through the
// catalog's reconciliation path.
type Scanner struct {
	store  *catalog.Store
	logger *slog.Logger
}

// Result summarizes one completed scan.
type Result struct {
	LibraryID int64
	Series    int
	Volumes   int
	Skipped   []string
}

func New(store *catalog.Store, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scanner{store: store, logger: logging.WithComponent(logger, "scanner")}
}

// Scan walks the library root one level deep, groups archives into series,
// and reconciles the catalog in a single transaction. Unreadable
// subdirectories and unparseable files are logged and skipped, never fatal.
func (s *Scanner) Scan(ctx context.Context, libraryID int64) (*Result, error) {
	library, err := s.store.GetLibrary(ctx, libraryID)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "scanner", "load library",
			fmt.Sprintf("Library %d is not registered", libraryID), err)
	}

	info, err := os.Stat(library.RootPath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "scanner", "stat library root",
			fmt.Sprintf("Library root %s is not accessible", safeString(library.RootPath)), err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, "scanner", "stat library root",
			fmt.Sprintf("Library root %s is not a directory", safeString(library.RootPath)), nil)
	}

	entries, err := os.ReadDir(library.RootPath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "scanner", "read library root",
			fmt.Sprintf("Library root %s is not readable", safeString(library.RootPath)), err)
	}

	result := &Result{LibraryID: libraryID}
	observed := make(map[string]catalog.ObservedSeries)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		// Dot entries are hidden files; an underscore prefix marks the
		// staging artifacts (_old_files, _doublons, _undo_*). Neither holds
		// library content.
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		fullPath := filepath.Join(library.RootPath, name)

		if entry.IsDir() {
			volumes, skipped := s.collectSeriesDir(ctx, fullPath)
			result.Skipped = append(result.Skipped, skipped...)
			observed[name] = catalog.ObservedSeries{Path: fullPath, Volumes: volumes}
			continue
		}

		// Flat layout: files directly under the root group by parsed title.
		format, ok := archiveFormat(name)
		if !ok {
			continue
		}
		volume, err := s.observeFile(fullPath, name, format)
		if err != nil {
			s.logger.Warn("skipping unreadable file",
				logging.String("file", safeString(name)), logging.Error(err))
			result.Skipped = append(result.Skipped, name)
			continue
		}
		title := nameparse.Parse(name).Title
		if title == "" {
			title = strings.TrimSuffix(name, filepath.Ext(name))
		}
		series := observed[title]
		if series.Path == "" {
			series.Path = library.RootPath
		}
		series.Volumes = append(series.Volumes, *volume)
		observed[title] = series
	}

	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		return s.store.ReconcileLibrary(ctx, tx, libraryID, observed)
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile library %d: %w", libraryID, err)
	}

	result.Series = len(observed)
	for _, series := range observed {
		result.Volumes += len(series.Volumes)
	}
	s.logger.Info("scan completed",
		logging.Int64(logging.FieldLibrary, libraryID),
		logging.Int("series", result.Series),
		logging.Int("volumes", result.Volumes),
		logging.Int("skipped", len(result.Skipped)))
	return result, nil
}

// collectSeriesDir lists the archive files directly inside one series
// directory. Read errors degrade to an empty observation so one bad
// directory never aborts the scan.
func (s *Scanner) collectSeriesDir(ctx context.Context, dir string) ([]catalog.Volume, []string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warn("skipping unreadable series directory",
			logging.String("dir", safeString(dir)), logging.Error(err))
		return nil, []string{filepath.Base(dir)}
	}

	var (
		volumes []catalog.Volume
		skipped []string
	)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return volumes, skipped
		}
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		format, ok := archiveFormat(name)
		if !ok {
			continue
		}
		volume, err := s.observeFile(filepath.Join(dir, name), name, format)
		if err != nil {
			s.logger.Warn("skipping unreadable file",
				logging.String("file", safeString(name)), logging.Error(err))
			skipped = append(skipped, name)
			continue
		}
		volumes = append(volumes, *volume)
	}
	return volumes, skipped
}

func (s *Scanner) observeFile(fullPath, name, format string) (*catalog.Volume, error) {
	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}

	meta := nameparse.Parse(name)
	pages, probeErr := probe.Count(fullPath, format)
	if probeErr != nil {
		s.logger.Debug("page count unavailable",
			logging.String("file", safeString(name)), logging.Error(probeErr))
	}

	volume := &catalog.Volume{
		Filename:     name,
		Filepath:     fullPath,
		VolumeNumber: meta.Volume,
		PartNumber:   meta.PartNumber,
		Author:       meta.Author,
		Year:         meta.Year,
		Resolution:   meta.Resolution,
		FileSize:     info.Size(),
		PageCount:    pages,
		Format:       format,
	}
	if meta.PartName != "" {
		partName := meta.PartName
		volume.PartName = &partName
	}
	return volume, nil
}

func archiveFormat(name string) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	_, ok := archiveFormats[ext]
	return ext, ok
}

// safeString keeps log lines printable when a filename carries broken
// encoding.
func safeString(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "?")
}
