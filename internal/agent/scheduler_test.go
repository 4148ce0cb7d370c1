// ABOUTME: Tests for admission control: slot accounting, host load limits and sampling.

package agent

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_ReserveUntilFull(t *testing.T) {
	s := NewScheduler(Config{MaxAgents: 2}, nil, testLogger())

	require.NoError(t, s.Reserve())
	require.NoError(t, s.Reserve())
	assert.False(t, s.CanCreate())

	err := s.Reserve()
	require.ErrorIs(t, err, ErrCapacity)
	assert.Equal(t, 2, s.ActiveCount())

	s.Release()
	assert.True(t, s.CanCreate())
	assert.Equal(t, 1, s.ActiveCount())
}

func TestScheduler_ReserveN_AllOrNothing(t *testing.T) {
	s := NewScheduler(Config{MaxAgents: 3}, nil, testLogger())
	require.NoError(t, s.Reserve())

	err := s.ReserveN(3)
	require.ErrorIs(t, err, ErrCapacity)
	assert.Equal(t, 1, s.ActiveCount(), "a failed batch reserves nothing")

	require.NoError(t, s.ReserveN(2))
	assert.Equal(t, 3, s.ActiveCount())

	require.NoError(t, s.ReserveN(0))
}

func TestScheduler_ReleaseSaturatesAtZero(t *testing.T) {
	s := NewScheduler(Config{MaxAgents: 2}, nil, testLogger())

	s.Release()
	s.ReleaseN(5)
	assert.Equal(t, 0, s.ActiveCount())
}

func TestScheduler_HostLimits(t *testing.T) {
	tests := []struct {
		name    string
		sampler StatsSampler
		admit   bool
	}{
		{name: "below limits", sampler: fixedSampler{mem: 40, cpu: 30, ok: true}, admit: true},
		{name: "memory at limit", sampler: fixedSampler{mem: 80, cpu: 10, ok: true}, admit: false},
		{name: "cpu above limit", sampler: fixedSampler{mem: 10, cpu: 95, ok: true}, admit: false},
		{name: "unavailable uses nominal", sampler: fixedSampler{ok: false}, admit: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(Config{MaxAgents: 5}, tt.sampler, testLogger())
			s.Sample()

			assert.Equal(t, tt.admit, s.CanCreate())
			if !tt.admit {
				assert.ErrorIs(t, s.Reserve(), ErrCapacity)
			}
		})
	}
}

func TestScheduler_NominalStats(t *testing.T) {
	s := NewScheduler(Config{}, fixedSampler{ok: false}, testLogger())
	s.Sample()

	st := s.Status(7)
	assert.InDelta(t, nominalMemoryPercent, st.MemoryUsedPercent, 0.001)
	assert.InDelta(t, nominalCPUPercent, st.CPUUsedPercent, 0.001)
	assert.Equal(t, DefaultMaxAgents, st.MaxAgents)
	assert.Equal(t, uint64(7), st.MessagesProcessed)
}

func TestScheduler_ConcurrentReserveNeverOversubscribes(t *testing.T) {
	const maxAgents = 5
	s := NewScheduler(Config{MaxAgents: maxAgents}, nil, testLogger())

	var granted atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Reserve() == nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(maxAgents), granted.Load())
	assert.Equal(t, maxAgents, s.ActiveCount())
}
