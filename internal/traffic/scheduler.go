package traffic

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"raydock/internal/metrics"
	"raydock/internal/monitor"
)

// HostSampler reads host statistics.
type HostSampler interface {
	Sample(ctx context.Context) (monitor.HostStats, error)
}

// SchedulerConfig holds the job intervals.
type SchedulerConfig struct {
	StatsInterval time.Duration
	HostInterval  time.Duration
}

// Scheduler runs traffic accounting and host sampling periodically
type Scheduler struct {
	scheduler  gocron.Scheduler
	accountant *Accountant
	sampler    HostSampler
	monitor    *monitor.Monitor
	metrics    *metrics.Metrics
	logger     *logrus.Logger
	config     SchedulerConfig
	running    bool
}

// NewScheduler creates a new traffic scheduler. A nil sampler disables the
// host job.
func NewScheduler(config SchedulerConfig, accountant *Accountant, sampler HostSampler, mon *monitor.Monitor, m *metrics.Metrics, logger *logrus.Logger) (*Scheduler, error) {
	if config.StatsInterval <= 0 {
		return nil, fmt.Errorf("stats interval must be positive, got %s", config.StatsInterval)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Scheduler{
		scheduler:  scheduler,
		accountant: accountant,
		sampler:    sampler,
		monitor:    mon,
		metrics:    m,
		logger:     logger,
		config:     config,
	}, nil
}

// Start registers the jobs and starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	// A slow statsquery delays the next cycle instead of overlapping it.
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.config.StatsInterval),
		gocron.NewTask(func() {
			s.accountTraffic(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("traffic"),
	)
	if err != nil {
		return fmt.Errorf("failed to create traffic job: %w", err)
	}

	if s.sampler != nil && s.config.HostInterval > 0 {
		_, err = s.scheduler.NewJob(
			gocron.DurationJob(s.config.HostInterval),
			gocron.NewTask(func() {
				s.sampleHost(ctx)
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithName("host"),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return fmt.Errorf("failed to create host job: %w", err)
		}
	}

	s.scheduler.Start()
	s.running = true
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	if !s.running {
		return fmt.Errorf("scheduler is not running")
	}

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}

	s.running = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	return s.running
}

// accountTraffic runs one accounting pass. Failures are logged and the next
// cycle runs as scheduled.
func (s *Scheduler) accountTraffic(ctx context.Context) {
	res, err := s.accountant.Run(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("traffic accounting cycle failed")
		return
	}

	if res.Updated > 0 {
		s.logger.WithFields(logrus.Fields{
			"updated":  res.Updated,
			"disabled": len(res.Disabled),
			"applied":  res.Applied,
		}).Debug("traffic accounted")
	}
}

func (s *Scheduler) sampleHost(ctx context.Context) {
	stats, err := s.sampler.Sample(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("host sampling failed")
		return
	}

	s.monitor.SetHost(stats)
	s.metrics.RecordHost(stats.CPUPercent, stats.MemUsed, stats.TCPConns, stats.UDPConns)
}
