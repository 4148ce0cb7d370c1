// ABOUTME: Tests for the host utilization sampler with stubbed gopsutil readings.

package sysstats

import (
	"context"
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNoReading = errors.New("no reading")

func memoryStub(vm *mem.VirtualMemoryStat, err error) func(context.Context) (*mem.VirtualMemoryStat, error) {
	return func(context.Context) (*mem.VirtualMemoryStat, error) { return vm, err }
}

func loadStub(load1 float64, err error) func(context.Context) (*load.AvgStat, error) {
	return func(context.Context) (*load.AvgStat, error) {
		if err != nil {
			return nil, err
		}
		return &load.AvgStat{Load1: load1, Load5: 1.5, Load15: 1}, nil
	}
}

func countStub(n int, err error) func(context.Context) (int, error) {
	return func(context.Context) (int, error) { return n, err }
}

func TestSampler_MemoryPercent(t *testing.T) {
	s := &Sampler{virtualMemory: memoryStub(&mem.VirtualMemoryStat{
		Total:       16_000_000,
		Available:   4_000_000,
		UsedPercent: 87.5,
	}, nil)}

	pct, ok := s.MemoryPercent()
	require.True(t, ok)
	assert.InDelta(t, 75.0, pct, 0.001, "used is total minus available")
}

func TestSampler_MemoryWithoutAvailable(t *testing.T) {
	s := &Sampler{virtualMemory: memoryStub(&mem.VirtualMemoryStat{Total: 1000, UsedPercent: 42}, nil)}

	pct, ok := s.MemoryPercent()
	require.True(t, ok)
	assert.InDelta(t, 42.0, pct, 0.001)
}

func TestSampler_MemoryUnavailable(t *testing.T) {
	tests := []struct {
		name string
		vm   *mem.VirtualMemoryStat
		err  error
	}{
		{name: "error", err: errNoReading},
		{name: "nil stat"},
		{name: "zero total", vm: &mem.VirtualMemoryStat{Available: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Sampler{virtualMemory: memoryStub(tt.vm, tt.err)}
			_, ok := s.MemoryPercent()
			assert.False(t, ok)
		})
	}
}

func TestSampler_CPUPercent(t *testing.T) {
	s := &Sampler{loadAvg: loadStub(2, nil), cpuCount: countStub(4, nil)}

	pct, ok := s.CPUPercent()
	require.True(t, ok)
	assert.InDelta(t, 50.0, pct, 0.001)

	s.cpuCount = countStub(1, nil)
	pct, ok = s.CPUPercent()
	require.True(t, ok)
	assert.InDelta(t, 200.0, pct, 0.001, "overload is not clamped")
}

func TestSampler_CPUUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		load  error
		count int
		cerr  error
	}{
		{name: "load error", load: errNoReading, count: 4},
		{name: "count error", count: 4, cerr: errNoReading},
		{name: "zero cpus", count: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Sampler{loadAvg: loadStub(1, tt.load), cpuCount: countStub(tt.count, tt.cerr)}
			_, ok := s.CPUPercent()
			assert.False(t, ok)
		})
	}
}

func TestSampler_ReadsHost(t *testing.T) {
	s := New()

	if pct, ok := s.MemoryPercent(); ok {
		assert.GreaterOrEqual(t, pct, 0.0)
		assert.LessOrEqual(t, pct, 100.0)
	}
	if pct, ok := s.CPUPercent(); ok {
		assert.GreaterOrEqual(t, pct, 0.0)
	}
}

func TestUsedPercent(t *testing.T) {
	assert.InDelta(t, 0.0, usedPercent(0, 0), 0.001)
	assert.InDelta(t, 0.0, usedPercent(100, 200), 0.001)
	assert.InDelta(t, 10.0, usedPercent(100, 90), 0.001)
}
