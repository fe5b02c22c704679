// Package monitor holds the in-memory state shared by the supervisor, the
// traffic poller and the status surfaces.
package monitor

import (
	"sync"
	"time"
)

// HostStats is a point-in-time view of the host.
type HostStats struct {
	CPUPercent float64

	MemTotal  uint64
	MemUsed   uint64
	SwapTotal uint64
	SwapUsed  uint64

	DiskTotal uint64
	DiskUsed  uint64

	Uptime time.Duration
	Load1  float64
	Load5  float64
	Load15 float64

	TCPConns int
	UDPConns int

	NetSent uint64
	NetRecv uint64
	// Bytes per second over the last sampling interval.
	NetUpRate   uint64
	NetDownRate uint64

	SampledAt time.Time
}

// Snapshot is a copy of the monitor state.
type Snapshot struct {
	Running bool
	Host    HostStats
}

// Monitor is safe for concurrent use. The zero value is ready to use.
type Monitor struct {
	mu      sync.Mutex
	running bool
	host    HostStats
}

// New creates a new Monitor
func New() *Monitor {
	return &Monitor{}
}

// SetRunning records whether xray is believed to be running. The flag is
// optimistic: it is set before a spawn is attempted and is not cleared when
// the process exits on its own.
func (m *Monitor) SetRunning(running bool) {
	m.mu.Lock()
	m.running = running
	m.mu.Unlock()
}

// Running reports the last recorded run state.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// SetHost replaces the host statistics.
func (m *Monitor) SetHost(stats HostStats) {
	m.mu.Lock()
	m.host = stats
	m.mu.Unlock()
}

// Snapshot returns a consistent copy of all fields.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Running: m.running, Host: m.host}
}
