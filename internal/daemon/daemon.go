package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"rmcloud/internal/artifactcache"
	"rmcloud/internal/cloud"
	"rmcloud/internal/config"
	"rmcloud/internal/download"
	"rmcloud/internal/logging"
	"rmcloud/internal/metrics"
	"rmcloud/internal/reconcile"
	"rmcloud/internal/session"
)

// Components are the collaborators the daemon serves. Cache, Metrics,
// Refresher and Tokens may be nil.
type Components struct {
	Sessions   *session.Store
	Janitor    *session.Janitor
	Cloud      cloud.Client
	Tokens     *cloud.TokenStore
	Index      *cloud.IndexHolder
	Downloads  *download.Orchestrator
	Reconciler *reconcile.Reconciler
	Refresher  *reconcile.Refresher
	Cache      *artifactcache.Cache
	Metrics    *metrics.Metrics
	// Version is reported by the info route.
	Version string
}

// Daemon owns the HTTP server and background workers and enforces
// single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	comp   Components
	server *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Address      string
	LockFilePath string
	Sessions     int
	Demo         bool
	CacheEnabled bool
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, comp Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || comp.Sessions == nil || comp.Cloud == nil || comp.Downloads == nil {
		return nil, errors.New("daemon requires config, session store, cloud client, and download orchestrator")
	}
	if comp.Index == nil {
		comp.Index = &cloud.IndexHolder{}
	}
	if comp.Reconciler == nil {
		comp.Reconciler = reconcile.New(comp.Cache, logger)
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		comp:     comp,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.server = newAPIServer(cfg, comp, logger)
	return d, nil
}

// Handler exposes the routed HTTP handler without listening.
func (d *Daemon) Handler() http.Handler {
	return d.server.handler
}

// Start acquires the daemon lock, launches background workers and begins
// serving HTTP.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another rmcloud server is already using %s", d.cfg.Paths.DataDir)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.server.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel

	if d.comp.Janitor != nil {
		d.workers.Go(func() { d.comp.Janitor.Run(runCtx) })
	}
	if d.comp.Refresher != nil {
		d.workers.Go(func() { d.comp.Refresher.Run(runCtx) })
	}

	d.running.Store(true)
	d.logger.Info("rmcloud server started",
		logging.String("address", d.server.address()),
		logging.String("lock", d.lockPath),
		logging.Bool("demo", d.cfg.Demo.Enabled),
		logging.Bool("cache", d.comp.Cache != nil),
		logging.Bool("converter", d.comp.Downloads.Supports(artifactcache.FormatConverted)),
	)
	return nil
}

// Stop stops serving, waits for background workers and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.stop()
	d.workers.Wait()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no server is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("rmcloud server stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Addr returns the bound listener address once started.
func (d *Daemon) Addr() net.Addr {
	if d.server == nil || d.server.listener == nil {
		return nil
	}
	return d.server.listener.Addr()
}

// Status returns runtime information.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		Address:      d.server.address(),
		LockFilePath: d.lockPath,
		Sessions:     d.comp.Sessions.Len(),
		Demo:         d.cfg.Demo.Enabled,
		CacheEnabled: d.comp.Cache != nil,
	}
}
