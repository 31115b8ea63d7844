package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"spool/internal/artwork"
	"spool/internal/catalog"
	"spool/internal/config"
	"spool/internal/counts"
	"spool/internal/downloads"
	"spool/internal/logging"
	"spool/internal/netpolicy"
	"spool/internal/preflight"
	"spool/internal/transfer"
)

// Daemon wires the transfer engine, the download orchestrator, and the control
// API into a single lifecycle with flock-based locking to prevent multiple
// instances against the same state directory.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store  *transfer.Store
	engine *transfer.Engine
	orch   *downloads.Orchestrator
	source catalog.MetadataSource
	api    *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	RecordCount  int
	StatusCounts map[string]int
}

// New constructs a daemon with initialized dependencies. The transfer store is
// opened immediately; background work does not start until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires a configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	store, err := transfer.OpenStore(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open transfer store: %w", err)
	}

	httpc := &http.Client{Timeout: time.Duration(cfg.Transfer.RequestTimeout) * time.Second}
	// Downloads stream for longer than any sane request timeout; only the
	// per-request headers are bounded.
	fetchClient := &http.Client{}

	source := catalog.NewClient(cfg.Server.URL, cfg.Server.Token, cfg.Server.ServerID, cfg.Server.ClientID, httpc)
	fetcher := transfer.NewHTTPFetcher(fetchClient, logger, cfg.Transfer.ProgressBucketPercent)
	engine := transfer.NewEngine(store, fetcher, logger, transfer.Options{MaxConcurrent: cfg.Transfer.MaxConcurrent})

	countStore := counts.NewStore(cfg.CountsPath(), logger)
	artworkCache := artwork.NewCache(cfg.Paths.ArtworkCacheDir, source, httpc, logger)

	var policy netpolicy.Policy = netpolicy.Static(false)
	if cfg.Network.BlockConstrained {
		policy = netpolicy.NewMarkerFile(cfg.Network.MeteredMarkerPath)
	}

	orch := downloads.New(downloads.Deps{
		Engine:      engine,
		Source:      source,
		Counts:      countStore,
		Artwork:     artworkCache,
		Policy:      policy,
		Logger:      logger,
		DownloadDir: cfg.Paths.DownloadDir,
	})

	lockPath := filepath.Join(cfg.Paths.StateDir, "spoold.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		engine:   engine,
		orch:     orch,
		source:   source,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock, runs preflight, starts the engine, waits
// for the recovered projection, and brings up the control API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another spool daemon instance is already running")
	}

	for _, result := range preflight.RunAll(ctx, d.cfg) {
		if result.Passed {
			continue
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "fix the reported path or server setting"),
			logging.String(logging.FieldImpact, "downloads may fail until resolved"))
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.engine.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start transfer engine: %w", err)
	}

	select {
	case <-d.orch.Ready():
	case <-runCtx.Done():
		cancel()
		_ = d.lock.Unlock()
		return runCtx.Err()
	}

	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			cancel()
			_ = d.lock.Unlock()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("spool daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.cfg.DatabasePath()))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.api != nil {
		d.api.stop()
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.engine.Close()
	d.orch.Close()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("spool daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Orchestrator exposes the download orchestrator for in-process callers.
func (d *Daemon) Orchestrator() *downloads.Orchestrator {
	return d.orch
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	records := d.orch.Snapshot()
	statusCounts := make(map[string]int)
	for _, record := range records {
		statusCounts[string(record.Status)]++
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		RecordCount:  len(records),
		StatusCounts: statusCounts,
	}
}
