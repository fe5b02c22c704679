package traffic

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raydock/internal/core/xray"
	"raydock/internal/monitor"
)

type countingStats struct {
	calls atomic.Int32
}

func (c *countingStats) Query(context.Context) xray.Snapshot {
	c.calls.Add(1)
	return xray.Snapshot{}
}

type fixedSampler struct {
	stats monitor.HostStats
}

func (f fixedSampler) Sample(context.Context) (monitor.HostStats, error) {
	return f.stats, nil
}

func TestNewSchedulerRejectsZeroInterval(t *testing.T) {
	_, err := NewScheduler(SchedulerConfig{}, nil, nil, monitor.New(), nil, nullLogger())
	assert.Error(t, err)
}

func TestSchedulerSurvivesFailedCycles(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("database is locked")
	stats := &countingStats{}
	acc := NewAccountant(store, stats, &countingApplier{}, nil, nullLogger())

	s, err := NewScheduler(SchedulerConfig{StatsInterval: 20 * time.Millisecond}, acc, nil, monitor.New(), nil, nullLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	// Recover after a few failed cycles.
	time.Sleep(70 * time.Millisecond)
	store.mu.Lock()
	store.listErr = nil
	store.mu.Unlock()

	require.Eventually(t, func() bool { return stats.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.Error(t, s.Stop())
}

func TestSchedulerSamplesHost(t *testing.T) {
	mon := monitor.New()
	acc := NewAccountant(newMemStore(), &countingStats{}, &countingApplier{}, nil, nullLogger())
	sampler := fixedSampler{stats: monitor.HostStats{CPUPercent: 42, TCPConns: 7}}

	s, err := NewScheduler(SchedulerConfig{
		StatsInterval: time.Hour,
		HostInterval:  time.Hour,
	}, acc, sampler, mon, nil, nullLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return mon.Snapshot().Host.TCPConns == 7
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(42), mon.Snapshot().Host.CPUPercent)
}
