package daemon

import (
	"context"
	"database/sql"

	"tomarr/internal/catalog"
	"tomarr/internal/importer"
	"tomarr/internal/orchestrator"
	"tomarr/internal/sources"
)

// The methods below form the service facade used by the CLI and IPC layer.
// They work without Start: no lock or listener is required for one-shot
// catalog operations.

// DeleteLibrary removes a library and everything under it.
func (d *Daemon) DeleteLibrary(ctx context.Context, id int64) error {
	return d.store.WithTx(ctx, func(tx *sql.Tx) error {
		return d.store.DeleteLibrary(ctx, tx, id)
	})
}

// Series lists series, all libraries when libraryID is 0.
func (d *Daemon) Series(ctx context.Context, libraryID int64) ([]*catalog.Series, error) {
	return d.store.ListSeries(ctx, libraryID)
}

// SeriesDetail returns one series with its volumes.
func (d *Daemon) SeriesDetail(ctx context.Context, id int64) (*catalog.Series, []*catalog.Volume, error) {
	series, err := d.store.GetSeries(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	volumes, err := d.store.ListVolumes(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return series, volumes, nil
}

// SeriesWithGaps lists every series whose missing set is non-empty.
func (d *Daemon) SeriesWithGaps(ctx context.Context) ([]*catalog.Series, error) {
	all, err := d.store.ListSeries(ctx, 0)
	if err != nil {
		return nil, err
	}
	var gapped []*catalog.Series
	for _, series := range all {
		if len(series.MissingSet) > 0 {
			gapped = append(gapped, series)
		}
	}
	return gapped, nil
}

// ScanStaging enumerates importable archives under root.
func (d *Daemon) ScanStaging(root string) ([]importer.StagedFile, error) {
	return d.importer.ScanStaging(root)
}

// Import applies staged files to the catalog.
func (d *Daemon) Import(ctx context.Context, stagingRoot string, requests []importer.Request) (*importer.Result, error) {
	return d.importer.Import(ctx, stagingRoot, requests)
}

// UndoImport reverses a completed import operation.
func (d *Daemon) UndoImport(ctx context.Context, opID string) error {
	return d.importer.Undo(ctx, opID)
}

// CleanupStaging sweeps empty staging directories.
func (d *Daemon) CleanupStaging(root string) ([]string, error) {
	return d.importer.Cleanup(root)
}

// SearchLinks runs one ad-hoc ranked search.
func (d *Daemon) SearchLinks(ctx context.Context, title string, volume int, names []string) ([]sources.Result, error) {
	return d.orchestrator.Search(ctx, title, volume, names)
}

// SetMonitor enables or updates monitoring for a series. Empty sources fall
// back to the configured defaults.
func (d *Daemon) SetMonitor(ctx context.Context, seriesID int64, enabled bool, monitorSources []string, autoSubmit bool) error {
	if len(monitorSources) == 0 {
		monitorSources = d.cfg.Monitor.Sources
	}
	return d.store.WithTx(ctx, func(tx *sql.Tx) error {
		return d.store.UpsertMonitor(ctx, tx, seriesID, enabled, monitorSources, autoSubmit)
	})
}

// RemoveMonitor drops the monitor row for a series.
func (d *Daemon) RemoveMonitor(ctx context.Context, seriesID int64) error {
	return d.store.WithTx(ctx, func(tx *sql.Tx) error {
		return d.store.DeleteMonitor(ctx, tx, seriesID)
	})
}

// Monitors lists enabled monitors joined with their series.
func (d *Daemon) Monitors(ctx context.Context) ([]*catalog.MonitoredSeries, error) {
	return d.store.ListEnabledMonitors(ctx, false)
}

// Operations lists recent import operations.
func (d *Daemon) Operations(ctx context.Context, limit int) ([]*catalog.ImportOperation, error) {
	return d.store.ListOperations(ctx, limit)
}

// Orchestrator exposes the acquisition pass runner.
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator {
	return d.orchestrator
}
