// ABOUTME: Tunables for the supervisor components with their safe defaults.
// ABOUTME: Zero fields are replaced by defaults via withDefaults.

package agent

import "time"

// Default tunables.
const (
	DefaultMaxAgents           = 10
	DefaultAgentTimeout        = 300 * time.Second
	DefaultHealthCheckInterval = 60 * time.Second
	DefaultMemoryLimitPercent  = 80.0
	DefaultCPULimitPercent     = 80.0
	DefaultResponseTimeout     = 10 * time.Second
	DefaultIdleThreshold       = 10 * time.Second
	DefaultHeartbeatInterval   = 15 * time.Second
	DefaultMessageQueueSize    = 1000
)

// Config holds the supervisor tunables.
type Config struct {
	MaxAgents           int
	DefaultTimeout      time.Duration // per-agent health timeout
	HealthCheckInterval time.Duration // timeout scan period
	SamplerInterval     time.Duration // host stats period; defaults to HealthCheckInterval
	MemoryLimitPercent  float64
	CPULimitPercent     float64
	ResponseTimeout     time.Duration // wait budget for SendMessage
	IdleThreshold       time.Duration // completion heuristic
	HeartbeatInterval   time.Duration // worker liveness tick
	MessageQueueSize    int

	// HeartbeatRefreshesHealth makes the worker's periodic tick reset its
	// health timeout. Off by default: an agent that receives no messages for
	// longer than its timeout is evicted even though its worker still ticks.
	HeartbeatRefreshesHealth bool

	// ReapInterval runs DetectCompleted + CleanupStopped periodically from
	// Manager.Run. Zero disables the reaper loop.
	ReapInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.MaxAgents <= 0 {
		c.MaxAgents = DefaultMaxAgents
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultAgentTimeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.SamplerInterval <= 0 {
		c.SamplerInterval = c.HealthCheckInterval
	}
	if c.MemoryLimitPercent <= 0 {
		c.MemoryLimitPercent = DefaultMemoryLimitPercent
	}
	if c.CPULimitPercent <= 0 {
		c.CPULimitPercent = DefaultCPULimitPercent
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = DefaultIdleThreshold
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.MessageQueueSize <= 0 {
		c.MessageQueueSize = DefaultMessageQueueSize
	}
	return c
}
