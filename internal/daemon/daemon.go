// Package daemon assembles the long-running process: catalog, acquisition
// stack, scheduler, and HTTP API, with a file lock enforcing a single
// instance per machine.
package daemon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"tomarr/internal/catalog"
	"tomarr/internal/clients"
	"tomarr/internal/clients/emule"
	"tomarr/internal/clients/qbittorrent"
	"tomarr/internal/config"
	"tomarr/internal/importer"
	"tomarr/internal/logging"
	"tomarr/internal/metasite"
	"tomarr/internal/orchestrator"
	"tomarr/internal/scanner"
	"tomarr/internal/scheduler"
	"tomarr/internal/secrets"
	"tomarr/internal/server"
	"tomarr/internal/sources"
	"tomarr/internal/sources/ebdz"
	"tomarr/internal/sources/prowlarr"
	"tomarr/internal/throttle"
)

// Daemon owns the background services.
type Daemon struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger

	store        *catalog.Store
	keeper       *secrets.Keeper
	scanner      *scanner.Scanner
	importer     *importer.Importer
	orchestrator *orchestrator.Orchestrator
	scheduler    *scheduler.Scheduler
	api          *server.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status is a point-in-time snapshot for IPC and CLI consumers.
type Status struct {
	Running       bool
	PID           int
	DatabasePath  string
	LockFilePath  string
	APIAddress    string
	ScheduledJobs []string
	Libraries     int
}

// New builds the daemon and every service it supervises. Credentials are
// unsealed here, once, so the rest of the stack only sees plaintext.
func New(cfg *config.Config, configPath string, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	keeper, err := secrets.LoadKeeper(cfg.KeyPath())
	if err != nil {
		return nil, fmt.Errorf("load secrets key: %w", err)
	}
	store, err := catalog.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	d := &Daemon{
		cfg:        cfg,
		configPath: configPath,
		logger:     logging.WithComponent(logger, "daemon"),
		store:      store,
		keeper:     keeper,
		scanner:    scanner.New(store, logger),
		importer:   importer.New(store, logger),
		scheduler:  scheduler.New(logger),
		lockPath:   filepath.Join(cfg.Paths.LogDir, "tomarrd.lock"),
	}
	d.lock = flock.New(d.lockPath)

	acquisition, err := d.buildSources()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	metadata, err := d.buildMetasite()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ed2kClient, torrentClient, err := d.buildClients()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	throttler := throttle.NewThrottler(map[string]int{
		sources.NameEbdz:     cfg.Ebdz.RatePerMinute,
		sources.NameProwlarr: cfg.Prowlarr.RatePerMinute,
	})
	cache := throttle.NewCache(time.Duration(cfg.Monitor.CacheTTLMinutes) * time.Minute)
	submitter := clients.NewSubmitter(store, ed2kClient, torrentClient, logger)

	d.orchestrator = orchestrator.New(orchestrator.Options{
		Store:               store,
		Sources:             acquisition,
		Metadata:            metadata,
		Throttler:           throttler,
		Cache:               cache,
		Submitter:           submitter,
		LocalFirstThreshold: cfg.Monitor.LocalFirstThreshold,
		Logger:              logger,
	})
	d.api = server.New(server.Options{
		Bind:       cfg.Paths.APIBind,
		Token:      cfg.Paths.APIToken,
		Config:     cfg,
		ConfigPath: configPath,
		Keeper:     keeper,
		Store:      store,
		Scanner:    d.scanner,
		Importer:   d.importer,
		Search:     d.orchestrator,
		Emule:      ed2kClient,
		Torrent:    torrentClient,
		Logger:     logger,
	})
	return d, nil
}

const metasiteSourceName = "metasite"

func (d *Daemon) buildSources() ([]sources.Source, error) {
	var list []sources.Source
	if d.cfg.Ebdz.Enabled {
		index, err := ebdz.Open(d.cfg.EbdzPath(), 1)
		if err != nil {
			// The index is maintained by an external crawler; a missing
			// file disables the source instead of blocking startup.
			d.logger.Warn("ed2k index unavailable",
				logging.String("path", d.cfg.EbdzPath()),
				logging.Error(err))
		} else {
			list = append(list, index)
		}
	}
	if d.cfg.Prowlarr.Enabled {
		apiKey, err := d.keeper.Unseal(d.cfg.Prowlarr.APIKey)
		if err != nil {
			return nil, fmt.Errorf("unseal prowlarr api key: %w", err)
		}
		client, err := prowlarr.New(d.cfg.Prowlarr.URL, apiKey, 2,
			prowlarr.WithIndexers(toInts(d.cfg.Prowlarr.IndexerIDs)),
			prowlarr.WithCategories(toInts(d.cfg.Prowlarr.Categories)))
		if err != nil {
			return nil, fmt.Errorf("configure prowlarr: %w", err)
		}
		list = append(list, client)
	}
	return list, nil
}

func (d *Daemon) buildMetasite() (orchestrator.MetadataSite, error) {
	if !d.cfg.Metasite.Enabled {
		return nil, nil
	}
	client, err := metasite.New(d.cfg.Metasite.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("configure metadata site: %w", err)
	}
	limiter := throttle.NewThrottler(map[string]int{
		metasiteSourceName: d.cfg.Metasite.RatePerMinute,
	})
	return &throttledMetasite{client: client, limiter: limiter}, nil
}

// throttledMetasite applies the configured scrape rate ahead of every
// metadata lookup.
type throttledMetasite struct {
	client  *metasite.Client
	limiter *throttle.Throttler
}

func (t *throttledMetasite) Lookup(ctx context.Context, title string) (*metasite.SeriesInfo, error) {
	if err := t.limiter.Wait(ctx, metasiteSourceName); err != nil {
		return nil, err
	}
	return t.client.Lookup(ctx, title)
}

func (d *Daemon) buildClients() (clients.ED2KClient, clients.TorrentClient, error) {
	var ed2kClient clients.ED2KClient
	var torrentClient clients.TorrentClient

	if d.cfg.Emule.Enabled {
		password, err := d.keeper.Unseal(d.cfg.Emule.Password)
		if err != nil {
			return nil, nil, fmt.Errorf("unseal emule password: %w", err)
		}
		client, err := emule.New(d.cfg.AmulecmdBinary(), d.cfg.Emule.Host, d.cfg.Emule.Port, password)
		if err != nil {
			return nil, nil, fmt.Errorf("configure emule: %w", err)
		}
		ed2kClient = client
	}
	if d.cfg.QBittorrent.Enabled {
		password, err := d.keeper.Unseal(d.cfg.QBittorrent.Password)
		if err != nil {
			return nil, nil, fmt.Errorf("unseal qbittorrent password: %w", err)
		}
		client, err := qbittorrent.New(d.cfg.QBittorrent.URL, d.cfg.QBittorrent.Username, password,
			qbittorrent.WithCategory(d.cfg.QBittorrent.Category),
			qbittorrent.WithTags(joinTags(d.cfg.QBittorrent.Tags)))
		if err != nil {
			return nil, nil, fmt.Errorf("configure qbittorrent: %w", err)
		}
		torrentClient = client
	}
	return ed2kClient, torrentClient, nil
}

// Start acquires the instance lock, schedules the periodic jobs, and brings
// the HTTP API up.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tomarr daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.scheduleJobs(); err != nil {
		d.releaseLock()
		d.cancel()
		return err
	}
	if err := d.api.Start(d.ctx); err != nil {
		d.scheduler.Shutdown()
		d.releaseLock()
		d.cancel()
		return err
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.Addr()))
	return nil
}

func (d *Daemon) scheduleJobs() error {
	jobs := []struct {
		name string
		job  config.Job
		fn   scheduler.JobFunc
	}{
		{scheduler.JobScan, d.cfg.Schedule.Scan, d.scanAll},
		{scheduler.JobCheckMissing, d.cfg.Schedule.CheckMissing, func(ctx context.Context) error {
			_, err := d.orchestrator.CheckMissing(ctx, true, d.cfg.Monitor.AutoSubmit)
			return err
		}},
		{scheduler.JobCheckNewVolumes, d.cfg.Schedule.CheckNewVolumes, func(ctx context.Context) error {
			_, err := d.orchestrator.CheckNewVolumes(ctx, d.cfg.Monitor.AutoSubmit)
			return err
		}},
	}
	for _, entry := range jobs {
		cadence := scheduler.Cadence{
			Enabled: entry.job.Enabled,
			Every:   entry.job.Every,
			Unit:    entry.job.Unit,
		}
		if err := d.scheduler.AddJob(entry.name, cadence, entry.fn); err != nil {
			return fmt.Errorf("schedule %s: %w", entry.name, err)
		}
	}
	return nil
}

// ReloadSchedule re-applies the schedule section, replacing each job's
// cadence without disturbing a currently running pass.
func (d *Daemon) ReloadSchedule() error {
	if !d.running.Load() {
		return errors.New("daemon not running")
	}
	return d.scheduleJobs()
}

// scanAll sweeps every registered library. A failing library logs and the
// sweep continues.
func (d *Daemon) scanAll(ctx context.Context) error {
	libraries, err := d.store.ListLibraries(ctx)
	if err != nil {
		return err
	}
	for _, library := range libraries {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := d.scanner.Scan(ctx, library.ID)
		if err != nil {
			d.logger.Warn("library scan failed",
				logging.String(logging.FieldLibrary, library.Name),
				logging.Error(err))
			continue
		}
		d.logger.Info("library scanned",
			logging.String(logging.FieldLibrary, library.Name),
			logging.Int("series", result.Series),
			logging.Int("volumes", result.Volumes))
	}
	return nil
}

// Libraries lists the registered library roots.
func (d *Daemon) Libraries(ctx context.Context) ([]*catalog.Library, error) {
	return d.store.ListLibraries(ctx)
}

// CreateLibrary registers a new library root.
func (d *Daemon) CreateLibrary(ctx context.Context, name, rootPath, description string) (*catalog.Library, error) {
	var library *catalog.Library
	err := d.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		library, err = d.store.CreateLibrary(ctx, tx, name, rootPath, description)
		return err
	})
	return library, err
}

// Scan runs one library scan immediately.
func (d *Daemon) Scan(ctx context.Context, libraryID int64) (*scanner.Result, error) {
	return d.scanner.Scan(ctx, libraryID)
}

// CheckMissing runs one missing-volume pass immediately.
func (d *Daemon) CheckMissing(ctx context.Context) (*orchestrator.Report, error) {
	return d.orchestrator.CheckMissing(ctx, true, d.cfg.Monitor.AutoSubmit)
}

// CheckNewVolumes runs one new-volume pass immediately.
func (d *Daemon) CheckNewVolumes(ctx context.Context) (*orchestrator.Report, error) {
	return d.orchestrator.CheckNewVolumes(ctx, d.cfg.Monitor.AutoSubmit)
}

// Status reports the current runtime state.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		DatabasePath:  d.cfg.DatabasePath(),
		LockFilePath:  d.lockPath,
		APIAddress:    d.api.Addr(),
		ScheduledJobs: d.scheduler.Jobs(),
	}
	if libraries, err := d.store.ListLibraries(ctx); err == nil {
		status.Libraries = len(libraries)
	}
	return status
}

// Stop winds the services down and releases the lock. Calling Stop on a
// stopped daemon is a no-op.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.scheduler.Shutdown()
	d.api.Stop()
	d.releaseLock()
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes the catalog.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock failed", logging.Error(err))
	}
}

func toInts(values []int64) []int {
	if len(values) == 0 {
		return nil
	}
	out := make([]int, len(values))
	for i, value := range values {
		out[i] = int(value)
	}
	return out
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}
