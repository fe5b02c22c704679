package core

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"raydock/internal/core/types"
	"raydock/internal/core/xray"
	"raydock/internal/metrics"
	"raydock/internal/storage"
	"raydock/internal/storage/models"
)

// InboundLister reads inbound definitions.
type InboundLister interface {
	ListInbounds(ctx context.Context, filter storage.InboundFilter) ([]*models.Inbound, error)
}

// RunState reports the recorded run state.
type RunState interface {
	Running() bool
}

// ManagerOptions configures where the generated config goes.
type ManagerOptions struct {
	ConfigPath string
	Build      xray.BuildOptions
}

// Manager turns stored inbounds into a running xray configuration
type Manager struct {
	store      InboundLister
	supervisor Supervisor
	state      RunState
	metrics    *metrics.Metrics
	logger     *logrus.Logger
	opts       ManagerOptions

	// writeMu serializes build+write, restartMu serializes restarts.
	writeMu   sync.Mutex
	restartMu sync.Mutex
	pending   chan struct{}
}

// NewManager creates a new core manager
func NewManager(store InboundLister, supervisor Supervisor, state RunState, m *metrics.Metrics, logger *logrus.Logger, opts ManagerOptions) *Manager {
	return &Manager{
		store:      store,
		supervisor: supervisor,
		state:      state,
		metrics:    m,
		logger:     logger,
		opts:       opts,
		pending:    make(chan struct{}, 1),
	}
}

// WriteConfig regenerates the config file from the enabled inbounds and
// returns how many were included.
func (m *Manager) WriteConfig(ctx context.Context) (int, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	inbounds, err := m.store.ListInbounds(ctx, storage.EnabledOnly())
	if err != nil {
		return 0, fmt.Errorf("failed to list enabled inbounds: %w", err)
	}

	cfg := xray.Build(inbounds, m.opts.Build)

	if err := os.MkdirAll(m.opts.Build.LogDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := xray.WriteConfig(m.opts.ConfigPath, cfg); err != nil {
		return 0, err
	}
	return len(inbounds), nil
}

// Apply writes a fresh config and queues a restart. It does not wait for
// the restart; while one is already queued, further requests fold into it.
// A failed build or write leaves the running process untouched.
func (m *Manager) Apply(ctx context.Context) error {
	n, err := m.WriteConfig(ctx)
	m.metrics.RecordApply(err)
	if err != nil {
		m.logger.WithError(err).Error("apply failed")
		return fmt.Errorf("apply: %w", err)
	}

	select {
	case m.pending <- struct{}{}:
		m.logger.WithField("inbounds", n).Info("config written, restart queued")
	default:
		m.logger.WithField("inbounds", n).Debug("config written, restart already queued")
	}
	return nil
}

// ApplyNow writes a fresh config and restarts before returning.
func (m *Manager) ApplyNow(ctx context.Context) error {
	n, err := m.WriteConfig(ctx)
	m.metrics.RecordApply(err)
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	m.logger.WithField("inbounds", n).Info("config written")
	return m.Restart(ctx)
}

// Run processes queued restarts until ctx is done. A restart that has begun
// runs to completion even if ctx is cancelled, so xray is not left stopped.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.pending:
			if err := m.Restart(context.WithoutCancel(ctx)); err != nil {
				m.logger.WithError(err).Error("queued restart failed")
			}
		}
	}
}

// Start writes the config and launches xray.
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.WriteConfig(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	err := m.supervisor.Start(ctx)
	m.metrics.SetRunning(m.state.Running())
	return err
}

// Stop stops xray.
func (m *Manager) Stop(ctx context.Context) error {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	err := m.supervisor.Stop(ctx)
	m.metrics.SetRunning(m.state.Running())
	return err
}

// Restart restarts xray with whatever config is on disk.
func (m *Manager) Restart(ctx context.Context) error {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	err := m.supervisor.Restart(ctx)
	m.metrics.RecordRestart(err, m.state.Running())
	if err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	return nil
}

// Status returns the current status of the core. The version is filled in
// when the binary can report it.
func (m *Manager) Status(ctx context.Context) *types.Status {
	status := m.supervisor.Status(m.state.Running())
	if v, err := m.supervisor.Version(ctx); err == nil {
		status.Version = v
	} else {
		m.logger.WithError(err).Debug("xray version unavailable")
	}
	return status
}

// Logs returns recent xray log lines.
func (m *Manager) Logs(ctx context.Context) ([]string, error) {
	return m.supervisor.Logs(ctx)
}
