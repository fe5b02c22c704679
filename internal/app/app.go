package app

import (
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"raydock/internal/config"
	"raydock/internal/core"
	"raydock/internal/core/xray"
	"raydock/internal/firewall"
	"raydock/internal/metrics"
	"raydock/internal/monitor"
	"raydock/internal/paths"
	"raydock/internal/storage"
	"raydock/internal/storage/sqlite"
	"raydock/internal/traffic"
)

// App represents the application context
type App struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Storage  storage.Storage
	Monitor  *monitor.Monitor
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Xray       *xray.Xray
	Stats      *xray.StatsCollector
	Updater    *xray.Updater
	Manager    *core.Manager
	Accountant *traffic.Accountant
	Firewall   firewall.Opener
}

// New creates a new application instance
func New(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	if err := paths.EnsureDir(filepath.Dir(cfg.Database)); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Initialize storage
	store, err := sqlite.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewMetrics(registry)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	mon := monitor.New()
	x := xray.New(xray.Options{
		BinPath:    cfg.Xray.BinPath,
		ConfigPath: cfg.Xray.ConfigPath,
		LogDir:     cfg.Xray.LogDir,
	}, mon, nil, nil, logger)

	mgr := core.NewManager(store, x, mon, m, logger, core.ManagerOptions{
		ConfigPath: cfg.Xray.ConfigPath,
		Build: xray.BuildOptions{
			LogDir:  cfg.Xray.LogDir,
			APIPort: cfg.Xray.APIPort,
		},
	})

	stats := xray.NewStatsCollector(cfg.Xray.BinPath, cfg.Xray.APIPort, nil, logger)

	app := &App{
		Config:     cfg,
		Logger:     logger,
		Storage:    store,
		Monitor:    mon,
		Registry:   registry,
		Metrics:    m,
		Xray:       x,
		Stats:      stats,
		Manager:    mgr,
		Accountant: traffic.NewAccountant(store, stats, mgr, m, logger),
		Firewall:   firewall.New(xray.ExecRunner{}, logger),
	}
	app.Updater = xray.NewUpdater(xray.UpdaterConfig{
		BinPath:      cfg.Xray.BinPath,
		ReleasesURL:  cfg.Xray.ReleasesURL,
		DownloadBase: cfg.Xray.DownloadBase,
	}, app.updateRestarter(), logger)

	return app, nil
}

// NewScheduler builds the background traffic and host jobs.
func (a *App) NewScheduler() (*traffic.Scheduler, error) {
	return traffic.NewScheduler(traffic.SchedulerConfig{
		StatsInterval: a.Config.Polling.StatsInterval,
		HostInterval:  a.Config.Polling.HostInterval,
	}, a.Accountant, monitor.NewSampler(filepath.Dir(a.Config.Database)), a.Monitor, a.Metrics, a.Logger)
}

// Close closes the application and releases resources
func (a *App) Close() error {
	if a.Storage != nil {
		return a.Storage.Close()
	}
	return nil
}
