// ABOUTME: Host utilization sampler backing the scheduler's admission limits.
// ABOUTME: Uses gopsutil for memory and load; reports unavailable when a reading fails.

// Package sysstats samples host memory and CPU utilization as percentages.
package sysstats

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// sampleTimeout bounds a single reading.
const sampleTimeout = 2 * time.Second

// Sampler reads host utilization. Create one with New.
type Sampler struct {
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	loadAvg       func(ctx context.Context) (*load.AvgStat, error)
	cpuCount      func(ctx context.Context) (int, error)
}

// New returns a Sampler reading the local host.
func New() *Sampler {
	return &Sampler{
		virtualMemory: mem.VirtualMemoryWithContext,
		loadAvg:       load.AvgWithContext,
		cpuCount: func(ctx context.Context) (int, error) {
			return cpu.CountsWithContext(ctx, true)
		},
	}
}

// MemoryPercent returns used memory as a percentage of total, where used is
// total minus available.
func (s *Sampler) MemoryPercent() (float64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), sampleTimeout)
	defer cancel()

	vm, err := s.virtualMemory(ctx)
	if err != nil || vm == nil || vm.Total == 0 {
		return 0, false
	}
	if vm.Available == 0 {
		// Platforms without an available figure only report UsedPercent.
		return vm.UsedPercent, true
	}
	return usedPercent(vm.Total, vm.Available), true
}

// CPUPercent returns the one-minute load average divided by the logical CPU
// count, as a percentage. It can exceed 100 on an overloaded host.
func (s *Sampler) CPUPercent() (float64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), sampleTimeout)
	defer cancel()

	avg, err := s.loadAvg(ctx)
	if err != nil || avg == nil {
		return 0, false
	}
	n, err := s.cpuCount(ctx)
	if err != nil || n <= 0 {
		return 0, false
	}
	return avg.Load1 / float64(n) * 100, true
}

func usedPercent(total, avail uint64) float64 {
	if total == 0 {
		return 0
	}
	if avail > total {
		avail = total
	}
	return float64(total-avail) / float64(total) * 100
}
