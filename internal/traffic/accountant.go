// Package traffic meters per-inbound usage from xray's stats counters and
// enforces traffic quotas.
package traffic

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"raydock/internal/core/xray"
	"raydock/internal/metrics"
	"raydock/internal/storage"
	"raydock/internal/storage/models"
)

// Store is the slice of storage the accountant needs.
type Store interface {
	ListInbounds(ctx context.Context, filter storage.InboundFilter) ([]*models.Inbound, error)
	AccumulateTraffic(ctx context.Context, id string, deltaUp, deltaDown int64) (*models.Inbound, bool, error)
}

// StatsSource returns counter deltas since the previous call.
type StatsSource interface {
	Query(ctx context.Context) xray.Snapshot
}

// Applier regenerates the xray config and schedules a restart.
type Applier interface {
	Apply(ctx context.Context) error
}

// Result summarizes one accounting pass.
type Result struct {
	Inbounds int      // enabled inbounds examined
	Updated  int      // inbounds whose counters were written
	Disabled []string // ids disabled for reaching their quota
	Applied  bool
}

// Accountant folds stats deltas into stored usage totals.
type Accountant struct {
	store   Store
	stats   StatsSource
	applier Applier
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewAccountant creates a new Accountant
func NewAccountant(store Store, stats StatsSource, applier Applier, m *metrics.Metrics, logger *logrus.Logger) *Accountant {
	return &Accountant{
		store:   store,
		stats:   stats,
		applier: applier,
		metrics: m,
		logger:  logger,
	}
}

// Run performs one poll-accumulate-reconcile pass. Idle inbounds are not
// written. The store disables an inbound whose stored totals reach its quota;
// the config is then applied once after the pass, however many inbounds were
// disabled.
func (a *Accountant) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	res, err := a.run(ctx)
	a.metrics.RecordPoll(res.Inbounds, time.Since(start), err)
	return res, err
}

func (a *Accountant) run(ctx context.Context) (Result, error) {
	var res Result

	inbounds, err := a.store.ListInbounds(ctx, storage.EnabledOnly())
	if err != nil {
		return res, fmt.Errorf("failed to list enabled inbounds: %w", err)
	}
	res.Inbounds = len(inbounds)

	snapshot := a.stats.Query(ctx)
	if len(snapshot) == 0 {
		return res, nil
	}

	for _, in := range inbounds {
		tag := in.EffectiveTag()
		deltaUp, deltaDown := snapshot.InboundTraffic(tag)
		if deltaUp == 0 && deltaDown == 0 {
			continue
		}

		after, disabled, err := a.store.AccumulateTraffic(ctx, in.ID, deltaUp, deltaDown)
		if err != nil {
			return res, fmt.Errorf("failed to record traffic for inbound %s: %w", in.ID, err)
		}
		res.Updated++
		a.metrics.RecordTraffic(deltaUp, deltaDown)

		if disabled {
			res.Disabled = append(res.Disabled, in.ID)
			a.metrics.RecordQuotaDisable()
			a.logger.WithFields(logrus.Fields{
				"inbound": in.ID,
				"tag":     tag,
				"used":    after.Used(),
				"total":   after.Total,
			}).Info("inbound reached its traffic quota, disabled")
		}
	}

	if len(res.Disabled) == 0 {
		return res, nil
	}

	if err := a.applier.Apply(ctx); err != nil {
		a.logger.WithError(err).Error("failed to apply config after quota change")
		return res, fmt.Errorf("apply after quota change: %w", err)
	}
	res.Applied = true
	return res, nil
}
