// ABOUTME: Admission control: tracks agent slots in use and sampled host load.
// ABOUTME: Check-and-increment happens in one critical section so slots are never oversubscribed.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Nominal values used when host metrics cannot be read.
const (
	nominalMemoryPercent = 50.0
	nominalCPUPercent    = 25.0
)

// StatsSampler reads host utilization. ok is false when the metric is unavailable.
type StatsSampler interface {
	MemoryPercent() (pct float64, ok bool)
	CPUPercent() (pct float64, ok bool)
}

// Scheduler grants or denies agent admission.
type Scheduler struct {
	mu         sync.Mutex
	active     int
	memPercent float64
	cpuPercent float64

	cfg     Config
	sampler StatsSampler
	started time.Time
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler. A nil sampler leaves host stats at zero,
// which never blocks admission.
func NewScheduler(cfg Config, sampler StatsSampler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		sampler: sampler,
		started: time.Now(),
		logger:  logger.With("component", "scheduler"),
	}
}

// CanCreate reports whether one more agent would be admitted right now.
func (s *Scheduler) CanCreate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitLocked(1) == nil
}

// admitLocked checks whether n more agents fit. Must be called with mu held.
func (s *Scheduler) admitLocked(n int) error {
	if s.active+n > s.cfg.MaxAgents {
		return fmt.Errorf("%w: %d active, %d requested, max %d", ErrCapacity, s.active, n, s.cfg.MaxAgents)
	}
	if s.memPercent >= s.cfg.MemoryLimitPercent {
		return fmt.Errorf("%w: memory at %.1f%% (limit %.1f%%)", ErrCapacity, s.memPercent, s.cfg.MemoryLimitPercent)
	}
	if s.cpuPercent >= s.cfg.CPULimitPercent {
		return fmt.Errorf("%w: cpu at %.1f%% (limit %.1f%%)", ErrCapacity, s.cpuPercent, s.cfg.CPULimitPercent)
	}
	return nil
}

// Reserve claims one slot or returns ErrCapacity.
func (s *Scheduler) Reserve() error {
	return s.ReserveN(1)
}

// ReserveN claims n slots at once, or none of them.
func (s *Scheduler) ReserveN(n int) error {
	if n <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.admitLocked(n); err != nil {
		return err
	}
	s.active += n
	return nil
}

// Release frees one slot. Saturates at zero.
func (s *Scheduler) Release() {
	s.ReleaseN(1)
}

// ReleaseN frees n slots. Saturates at zero.
func (s *Scheduler) ReleaseN(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active -= n
	if s.active < 0 {
		s.logger.Warn("slot release below zero", "released", n)
		s.active = 0
	}
}

// ActiveCount returns the number of reserved slots.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// MaxAgents returns the configured slot limit.
func (s *Scheduler) MaxAgents() int {
	return s.cfg.MaxAgents
}

// Sample refreshes the host stats from the sampler.
func (s *Scheduler) Sample() {
	if s.sampler == nil {
		return
	}

	mem, ok := s.sampler.MemoryPercent()
	if !ok {
		mem = nominalMemoryPercent
	}
	cpu, ok := s.sampler.CPUPercent()
	if !ok {
		cpu = nominalCPUPercent
	}

	s.mu.Lock()
	s.memPercent = mem
	s.cpuPercent = cpu
	s.mu.Unlock()

	s.logger.Debug("sampled host stats", "memory_percent", mem, "cpu_percent", cpu)
}

// Run samples host stats immediately and then every SamplerInterval until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	s.Sample()

	ticker := time.NewTicker(s.cfg.SamplerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample()
		}
	}
}

// Status composes an observability snapshot. Admission never consults it.
func (s *Scheduler) Status(messageCount uint64) SystemStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SystemStatus{
		ActiveAgents:      s.active,
		MaxAgents:         s.cfg.MaxAgents,
		MemoryUsedPercent: s.memPercent,
		CPUUsedPercent:    s.cpuPercent,
		Uptime:            time.Since(s.started),
		MessagesProcessed: messageCount,
	}
}
