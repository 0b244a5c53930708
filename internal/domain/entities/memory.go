package entities

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is wrapped by every configuration validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// MemoryLimits are the thresholds the memory manager enforces
type MemoryLimits struct {
	MaxMemoryMB       uint64 `toml:"max_memory_mb" yaml:"max_memory_mb" json:"max_memory_mb"`
	ThresholdMemoryMB uint64 `toml:"threshold_memory_mb" yaml:"threshold_memory_mb" json:"threshold_memory_mb"`
	MaxContextTokens  uint32 `toml:"max_context_tokens" yaml:"max_context_tokens" json:"max_context_tokens"`
	Enabled           bool   `toml:"enabled" yaml:"enabled" json:"enabled"`
	CheckIntervalSecs uint32 `toml:"check_interval_secs" yaml:"check_interval_secs" json:"check_interval_secs"`
}

// DefaultMemoryLimits returns enabled limits suitable for an interactive client
func DefaultMemoryLimits() MemoryLimits {
	return MemoryLimits{
		MaxMemoryMB:       1024,
		ThresholdMemoryMB: 768,
		MaxContextTokens:  100000,
		Enabled:           true,
		CheckIntervalSecs: 30,
	}
}

// Validate validates memory limits
func (l MemoryLimits) Validate() error {
	if l.MaxMemoryMB > 0 && l.ThresholdMemoryMB > l.MaxMemoryMB {
		return fmt.Errorf("%w: threshold_memory_mb (%d) must not exceed max_memory_mb (%d)",
			ErrInvalidConfig, l.ThresholdMemoryMB, l.MaxMemoryMB)
	}

	if l.Enabled && l.CheckIntervalSecs == 0 {
		return fmt.Errorf("%w: check_interval_secs must be greater than 0 when limits are enabled", ErrInvalidConfig)
	}

	return nil
}

// CheckInterval returns the pressure check period
func (l MemoryLimits) CheckInterval() time.Duration {
	if l.CheckIntervalSecs == 0 {
		return 30 * time.Second
	}
	return time.Duration(l.CheckIntervalSecs) * time.Second
}

// MemoryStats is a point-in-time view of the memory manager
type MemoryStats struct {
	CurrentContextTokens int        `json:"current_context_tokens"`
	GCCount              uint64     `json:"gc_count"`
	LastGCTime           *time.Time `json:"last_gc_time,omitempty"`

	// ContextLimitExceeded reports current_context_tokens > max_context_tokens.
	// Trimming the context is the caller's job.
	ContextLimitExceeded bool `json:"context_limit_exceeded"`

	// HeapAllocMB is the last sampled heap estimate
	HeapAllocMB uint64 `json:"heap_alloc_mb"`
}

// RuntimeStats is a snapshot of the Go runtime memory counters
type RuntimeStats struct {
	AllocMB      uint64        `json:"alloc_mb"`
	TotalAllocMB uint64        `json:"total_alloc_mb"`
	SysMB        uint64        `json:"sys_mb"`
	HeapAllocMB  uint64        `json:"heap_alloc_mb"`
	HeapSysMB    uint64        `json:"heap_sys_mb"`
	HeapObjects  uint64        `json:"heap_objects"`
	StackInuseMB uint64        `json:"stack_inuse_mb"`
	NextGCMB     uint64        `json:"next_gc_mb"`
	Goroutines   int           `json:"goroutines"`
	GCCycles     uint32        `json:"gc_cycles"`
	LastPause    time.Duration `json:"last_pause_ns"`
	Uptime       time.Duration `json:"uptime_ns"`
}

// HealthStatus summarizes process health against the memory limits
type HealthStatus struct {
	Healthy   bool         `json:"healthy"`
	Reasons   []string     `json:"reasons,omitempty"`
	Uptime    string       `json:"uptime"`
	Runtime   RuntimeStats `json:"runtime"`
	CheckedAt time.Time    `json:"checked_at"`
}

// StatsReport is the combined view served to diagnostics clients
type StatsReport struct {
	Memory    MemoryStats  `json:"memory"`
	Limits    MemoryLimits `json:"limits"`
	Caches    []CacheStats `json:"caches"`
	Runtime   RuntimeStats `json:"runtime"`
	Timestamp time.Time    `json:"timestamp"`
}
