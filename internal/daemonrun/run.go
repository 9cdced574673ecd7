package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"rmcloud/internal/artifactcache"
	"rmcloud/internal/cloud"
	"rmcloud/internal/config"
	"rmcloud/internal/convert"
	"rmcloud/internal/daemon"
	"rmcloud/internal/deps"
	"rmcloud/internal/download"
	"rmcloud/internal/logging"
	"rmcloud/internal/metrics"
	"rmcloud/internal/preflight"
	"rmcloud/internal/reconcile"
	"rmcloud/internal/session"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	Version     string
}

// Run starts the rmcloud server and blocks until the context ends or a
// termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if opts.Development {
		logger = logger.With(logging.Bool("development", true))
	}

	logDependencySnapshot(logger, cfg)
	runPreflight(signalCtx, logger, cfg)

	comp, err := BuildComponents(cfg, logger, opts.Version)
	if err != nil {
		return err
	}

	d, err := daemon.New(cfg, comp, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the bind address, TLS files and data directory lock"),
		)
		return err
	}

	// The pid file belongs to the lock holder; a second server that lost the
	// lock race must leave the running server's file alone.
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	<-signalCtx.Done()
	logger.Info("rmcloud server shutting down")
	return nil
}

// BuildComponents wires the cloud client, cache, converter, download
// orchestrator and background workers described by cfg.
func BuildComponents(cfg *config.Config, logger *slog.Logger, version string) (daemon.Components, error) {
	m := metrics.New()

	var (
		upstream cloud.Client
		tokens   *cloud.TokenStore
	)
	if cfg.Demo.Enabled {
		demo, err := cloud.NewDemo(cfg.Demo.RegisterCode, cfg.DemoDelay(), logger)
		if err != nil {
			return daemon.Components{}, fmt.Errorf("init demo cloud: %w", err)
		}
		upstream = demo
		logger.Info("demo mode enabled", logging.String("register_code", cfg.Demo.RegisterCode))
	} else {
		tokens = cloud.NewTokenStore(cfg.TokenPath())
		client, err := cloud.NewRemarkable(cfg.Cloud.AuthURL, cfg.Cloud.StorageURL, tokens, cfg.CloudTimeout(),
			cloud.WithLogger(logger),
			cloud.WithDeviceDesc(cfg.Cloud.DeviceDesc),
		)
		if err != nil {
			return daemon.Components{}, fmt.Errorf("init cloud client: %w", err)
		}
		upstream = client
	}
	client := metrics.InstrumentCloud(upstream, m)

	cache, err := artifactcache.NewFromConfig(cfg, logger)
	if err != nil {
		return daemon.Components{}, fmt.Errorf("init artifact cache: %w", err)
	}
	if cache != nil {
		m.RegisterCacheStats(func() (int, int64, bool) {
			stats, err := cache.Stats()
			if err != nil {
				return 0, 0, false
			}
			return stats.Entries, stats.TotalBytes, true
		})
	}

	sessions := session.NewStore()
	index := &cloud.IndexHolder{}
	runner := convert.NewRunner(cfg.Converter.Command, cfg.ConverterTimeout(), convert.WithLogger(logger))

	orch, err := download.New(sessions, client,
		download.WithCache(cache),
		download.WithConverter(runner),
		download.WithVersionSource(index),
		download.WithObserver(m),
		download.WithLogger(logger),
		download.WithCloudTimeout(cfg.CloudTimeout()),
	)
	if err != nil {
		return daemon.Components{}, fmt.Errorf("init download orchestrator: %w", err)
	}

	janitor := session.NewJanitor(sessions, cfg.SessionMaxIdle(), logger)
	janitor.OnSweep = m.SessionsSwept

	reconciler := reconcile.New(cache, logger)
	reconciler.OnReconcile = m.Reconciled

	var refresher *reconcile.Refresher
	if interval := cfg.ReconcileInterval(); interval > 0 && cache != nil {
		refresher = reconcile.NewRefresher(client, reconciler, index, interval, cfg.CloudTimeout(), logger)
	}

	return daemon.Components{
		Sessions:   sessions,
		Janitor:    janitor,
		Cloud:      client,
		Tokens:     tokens,
		Index:      index,
		Downloads:  orch,
		Reconciler: reconciler,
		Refresher:  refresher,
		Cache:      cache,
		Metrics:    m,
		Version:    version,
	}, nil
}

func runPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, failed := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldErrorHint, "run `rmcloud doctor` for details"),
			logging.String(logging.FieldImpact, "related requests may fail until resolved"),
		)
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	converter := deps.CheckBinaries([]deps.Requirement{deps.ConverterRequirement(cfg.Converter.Command)})[0]
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("demo", cfg.Demo.Enabled),
		logging.Bool("tls", cfg.TLSEnabled()),
		logging.Bool("cache_enabled", cfg.Cache.Enabled),
		logging.Bool("converter_available", converter.Available),
		logging.String("converter_binary", converter.Resolved),
		logging.Bool("api_token_set", cfg.Server.APIToken != ""),
	)
}
