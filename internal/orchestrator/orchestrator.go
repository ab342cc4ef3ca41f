// Package orchestrator runs the acquisition passes: rate-limited cached
// searches per monitored series, result ranking, and optional hand-off to
// the download clients.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"tomarr/internal/catalog"
	"tomarr/internal/gaps"
	"tomarr/internal/logging"
	"tomarr/internal/metasite"
	"tomarr/internal/sources"
	"tomarr/internal/throttle"
)

// Submitter hands the chosen link to a download client.
type Submitter interface {
	SubmitAuto(ctx context.Context, link, title string, volume *int) error
}

// MetadataSite resolves canonical series facts.
type MetadataSite interface {
	Lookup(ctx context.Context, title string) (*metasite.SeriesInfo, error)
}

// Options wires an Orchestrator.
type Options struct {
	Store     *catalog.Store
	Sources   []sources.Source
	Metadata  MetadataSite
	Throttler *throttle.Throttler
	Cache     *throttle.ResultCache
	Submitter Submitter
	// LocalFirstThreshold is the total missing-volume count past which
	// sources are reordered local-index first.
	LocalFirstThreshold int
	Logger              *slog.Logger
}

// Orchestrator owns the acquisition passes.
type Orchestrator struct {
	store     *catalog.Store
	sources   []sources.Source
	byName    map[string]sources.Source
	priority  map[string]int
	metadata  MetadataSite
	throttler *throttle.Throttler
	cache     *throttle.ResultCache
	submitter Submitter
	threshold int
	logger    *slog.Logger
}

// Report summarizes one acquisition pass.
type Report struct {
	Monitors  int
	Tuples    int
	Results   int
	Submitted int
	Failures  int
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	threshold := opts.LocalFirstThreshold
	if threshold <= 0 {
		threshold = 20
	}
	o := &Orchestrator{
		store:     opts.Store,
		sources:   opts.Sources,
		byName:    make(map[string]sources.Source, len(opts.Sources)),
		priority:  make(map[string]int, len(opts.Sources)),
		metadata:  opts.Metadata,
		throttler: opts.Throttler,
		cache:     opts.Cache,
		submitter: opts.Submitter,
		threshold: threshold,
		logger:    logging.WithComponent(logger, "orchestrator"),
	}
	if o.throttler == nil {
		o.throttler = throttle.NewThrottler(nil)
	}
	if o.cache == nil {
		o.cache = throttle.NewCache(0)
	}
	for _, source := range opts.Sources {
		o.byName[source.Name()] = source
		o.priority[source.Name()] = source.Priority()
	}
	return o
}

// CheckMissing searches the configured sources for every missing volume of
// every enabled monitor. A failing tuple never aborts the pass.
func (o *Orchestrator) CheckMissing(ctx context.Context, searchEnabled, autoSubmit bool) (*Report, error) {
	monitored, err := o.store.ListEnabledMonitors(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load monitors: %w", err)
	}

	report := &Report{Monitors: len(monitored)}
	if !searchEnabled || len(monitored) == 0 {
		return report, o.touchAll(ctx, monitored)
	}

	totalMissing := 0
	for _, entry := range monitored {
		totalMissing += len(entry.Series.MissingSet)
	}
	localFirst := totalMissing > o.threshold
	if localFirst {
		o.logger.Info("large backlog, preferring local index",
			logging.Int("missing_total", totalMissing),
			logging.Int("threshold", o.threshold))
	}

	for _, entry := range monitored {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		order := o.sourceOrder(entry.Monitor.Sources, localFirst)
		for _, volume := range entry.Series.MissingSet {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Tuples++
			merged, err := o.searchTuple(ctx, entry.Series.Title, volume, order)
			if err != nil {
				report.Failures++
				o.logger.Warn("tuple search failed",
					logging.String(logging.FieldSeries, entry.Series.Title),
					logging.Int(logging.FieldVolume, volume),
					logging.Error(err))
				continue
			}
			report.Results += len(merged)
			if autoSubmit && entry.Monitor.AutoSubmit {
				report.Submitted += o.submitBest(ctx, entry.Series.Title, volume, merged)
			}
		}
		if err := o.touchOne(ctx, entry.Monitor.SeriesID); err != nil {
			o.logger.Warn("monitor stamp failed", logging.Error(err))
		}
	}
	return report, nil
}

// CheckNewVolumes refreshes canonical metadata per enabled monitor and
// searches for volumes past the local maximum. The metadata site is never
// used as an acquisition source.
func (o *Orchestrator) CheckNewVolumes(ctx context.Context, autoSubmit bool) (*Report, error) {
	if o.metadata == nil {
		return &Report{}, nil
	}
	monitored, err := o.store.ListEnabledMonitors(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("load monitors: %w", err)
	}

	report := &Report{Monitors: len(monitored)}
	for _, entry := range monitored {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		info, err := o.metadata.Lookup(ctx, entry.Series.Title)
		if err != nil {
			report.Failures++
			o.logger.Warn("metadata lookup failed",
				logging.String(logging.FieldSeries, entry.Series.Title),
				logging.Error(err))
			continue
		}
		if err := o.storeCanonical(ctx, entry.Series.ID, info); err != nil {
			o.logger.Warn("canonical update failed",
				logging.String(logging.FieldSeries, entry.Series.Title),
				logging.Error(err))
		}

		volumes, err := o.store.ListVolumes(ctx, entry.Series.ID)
		if err != nil {
			report.Failures++
			continue
		}
		order := o.sourceOrder(entry.Monitor.Sources, false)
		for _, volume := range gaps.Newer(volumes, info.Total) {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Tuples++
			merged, err := o.searchTuple(ctx, entry.Series.Title, volume, order)
			if err != nil {
				report.Failures++
				continue
			}
			report.Results += len(merged)
			if autoSubmit && entry.Monitor.AutoSubmit {
				report.Submitted += o.submitBest(ctx, entry.Series.Title, volume, merged)
			}
		}
		if err := o.touchOne(ctx, entry.Monitor.SeriesID); err != nil {
			o.logger.Warn("monitor stamp failed", logging.Error(err))
		}
	}
	return report, nil
}

// Search runs one ad-hoc ranked search across the given sources (all
// registered sources when names is empty).
func (o *Orchestrator) Search(ctx context.Context, title string, volume int, names []string) ([]sources.Result, error) {
	if len(names) == 0 {
		for _, source := range o.sources {
			names = append(names, source.Name())
		}
	}
	return o.searchTuple(ctx, title, volume, names)
}

// searchTuple consults the cache per source, throttles misses, merges and
// ranks. Per-source failures degrade to fewer results; the tuple only fails
// when every source fails.
func (o *Orchestrator) searchTuple(ctx context.Context, title string, volume int, order []string) ([]sources.Result, error) {
	var (
		collected []sources.Result
		lastErr   error
		succeeded int
	)
	for _, name := range order {
		source, ok := o.byName[name]
		if !ok {
			continue
		}
		results, hit := o.cache.Get(name, title, volume)
		if !hit {
			if err := o.throttler.Wait(ctx, name); err != nil {
				return nil, err
			}
			var err error
			results, err = source.Search(ctx, title, volume)
			if err != nil {
				lastErr = err
				o.logger.Warn("source search failed",
					logging.String(logging.FieldSource, name),
					logging.String(logging.FieldSeries, title),
					logging.Int(logging.FieldVolume, volume),
					logging.Error(err))
				continue
			}
			o.cache.Put(name, title, volume, results)
		}
		succeeded++
		collected = append(collected, results...)
	}
	if succeeded == 0 && lastErr != nil {
		return nil, lastErr
	}

	scored := collected[:0]
	for _, result := range collected {
		result.Score = sources.Relevance(title, result.Title)
		if result.Score == 0 {
			continue
		}
		scored = append(scored, result)
	}
	return sources.Merge(scored, o.priority), nil
}

// submitBest submits the top-ranked result of each source that produced one.
func (o *Orchestrator) submitBest(ctx context.Context, title string, volume int, merged []sources.Result) int {
	if o.submitter == nil {
		return 0
	}
	submitted := 0
	seen := map[string]struct{}{}
	for _, result := range merged {
		if _, done := seen[result.Source]; done {
			continue
		}
		seen[result.Source] = struct{}{}
		v := volume
		if err := o.submitter.SubmitAuto(ctx, result.Link, title, &v); err != nil {
			o.logger.Warn("auto submission failed",
				logging.String(logging.FieldSource, result.Source),
				logging.String(logging.FieldSeries, title),
				logging.Error(err))
			continue
		}
		submitted++
	}
	return submitted
}

// sourceOrder filters the monitor's source names down to registered
// acquisition sources, optionally moving the local index to the front.
func (o *Orchestrator) sourceOrder(names []string, localFirst bool) []string {
	var local, remote []string
	for _, name := range names {
		if _, ok := o.byName[name]; !ok {
			continue
		}
		if name == sources.NameEbdz {
			local = append(local, name)
		} else {
			remote = append(remote, name)
		}
	}
	if localFirst {
		return append(local, remote...)
	}
	// Preserve the monitor's declared order.
	ordered := make([]string, 0, len(local)+len(remote))
	for _, name := range names {
		if _, ok := o.byName[name]; ok {
			ordered = append(ordered, name)
		}
	}
	return ordered
}

func (o *Orchestrator) storeCanonical(ctx context.Context, seriesID int64, info *metasite.SeriesInfo) error {
	now := time.Now()
	canonical := catalog.Canonical{
		Total:             info.Total,
		Status:            info.Status,
		Editor:            info.Editor,
		Author:            info.Author,
		YearStart:         info.YearStart,
		YearEnd:           info.YearEnd,
		SourceURL:         info.URL,
		MetadataUpdatedAt: &now,
	}
	return o.store.WithTx(ctx, func(tx *sql.Tx) error {
		return o.store.UpdateSeriesCanonical(ctx, tx, seriesID, canonical)
	})
}

func (o *Orchestrator) touchOne(ctx context.Context, seriesID int64) error {
	return o.store.WithTx(ctx, func(tx *sql.Tx) error {
		return o.store.TouchMonitorChecked(ctx, tx, seriesID, time.Now())
	})
}

func (o *Orchestrator) touchAll(ctx context.Context, monitored []*catalog.MonitoredSeries) error {
	for _, entry := range monitored {
		if err := o.touchOne(ctx, entry.Monitor.SeriesID); err != nil {
			return err
		}
	}
	return nil
}
