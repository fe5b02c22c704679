package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

// Sampler reads host statistics. Network rates are computed against the
// previous sample, so the first call reports zero rates.
type Sampler struct {
	diskPath string

	mu       sync.Mutex
	lastSent uint64
	lastRecv uint64
	lastAt   time.Time
}

// NewSampler creates a sampler reporting disk usage for diskPath.
func NewSampler(diskPath string) *Sampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Sampler{diskPath: diskPath}
}

// Sample collects host statistics. Individual probes that fail leave their
// fields zero; an error is returned only when every probe failed.
func (s *Sampler) Sample(ctx context.Context) (HostStats, error) {
	now := time.Now()
	stats := HostStats{SampledAt: now}
	var failed, probes int
	probe := func(err error) {
		probes++
		if err != nil {
			failed++
		}
	}

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	probe(err)

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemTotal = vm.Total
		stats.MemUsed = vm.Used
		probe(nil)
	} else {
		probe(err)
	}

	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil {
		stats.SwapTotal = sw.Total
		stats.SwapUsed = sw.Used
		probe(nil)
	} else {
		probe(err)
	}

	if du, err := disk.UsageWithContext(ctx, s.diskPath); err == nil {
		stats.DiskTotal = du.Total
		stats.DiskUsed = du.Used
		probe(nil)
	} else {
		probe(err)
	}

	if up, err := host.UptimeWithContext(ctx); err == nil {
		stats.Uptime = time.Duration(up) * time.Second
		probe(nil)
	} else {
		probe(err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats.Load1, stats.Load5, stats.Load15 = avg.Load1, avg.Load5, avg.Load15
		probe(nil)
	} else {
		probe(err)
	}

	if conns, err := net.ConnectionsWithContext(ctx, "tcp"); err == nil {
		for _, c := range conns {
			if c.Status == "ESTABLISHED" {
				stats.TCPConns++
			}
		}
		probe(nil)
	} else {
		probe(err)
	}

	if conns, err := net.ConnectionsWithContext(ctx, "udp"); err == nil {
		stats.UDPConns = len(conns)
		probe(nil)
	} else {
		probe(err)
	}

	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		stats.NetSent = counters[0].BytesSent
		stats.NetRecv = counters[0].BytesRecv
		s.rates(&stats, now)
		probe(nil)
	} else {
		probe(err)
	}

	if failed == probes {
		return stats, fmt.Errorf("all %d host probes failed", probes)
	}
	return stats, nil
}

func (s *Sampler) rates(stats *HostStats, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastAt.IsZero() {
		stats.NetUpRate = rate(s.lastSent, stats.NetSent, now.Sub(s.lastAt))
		stats.NetDownRate = rate(s.lastRecv, stats.NetRecv, now.Sub(s.lastAt))
	}
	s.lastSent, s.lastRecv, s.lastAt = stats.NetSent, stats.NetRecv, now
}

// rate returns bytes per second, treating counter resets as zero.
func rate(prev, cur uint64, elapsed time.Duration) uint64 {
	if cur < prev || elapsed <= 0 {
		return 0
	}
	return uint64(float64(cur-prev) / elapsed.Seconds())
}
