// Package resource periodically logs host resource usage (memory, CPU) for
// the server process. It is purely observational: nothing in the mailbox or
// hash table protocol depends on its output.
package resource

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Monitor logs periodic resource snapshots on a fixed interval.
type Monitor struct {
	logger   zerolog.Logger
	interval time.Duration
}

// NewMonitor builds a Monitor logging through logger every interval.
func NewMonitor(logger zerolog.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{logger: logger, interval: interval}
}

// Run blocks, logging a resource snapshot every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	vm, err := mem.VirtualMemory()
	if err != nil {
		m.logger.Debug().Err(err).Msg("resource sample: memory read failed")
		return
	}
	percents, err := cpu.Percent(0, false)
	var cpuPct float64
	if err == nil && len(percents) > 0 {
		cpuPct = percents[0]
	}

	m.logger.Info().
		Float64("mem_used_pct", vm.UsedPercent).
		Uint64("mem_used_bytes", vm.Used).
		Float64("cpu_pct", cpuPct).
		Msg("resource snapshot")
}
