package ports

import (
	"context"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
)

// ReclaimableCache is a cache the memory manager can reclaim from
type ReclaimableCache interface {
	// Name identifies the cache in logs and diagnostics
	Name() string

	// Clear removes every entry
	Clear()

	// PurgeExpired removes expired entries and returns how many were removed
	PurgeExpired() int

	// Stats returns a point-in-time snapshot
	Stats() entities.CacheStats
}

// ManagedCache is a cache whose policy and lifecycle can be driven from outside
type ManagedCache interface {
	ReclaimableCache

	// Config returns the active policy
	Config() entities.CacheConfig

	// UpdateConfig applies a new policy live
	UpdateConfig(config entities.CacheConfig) error

	// StartCleanup starts the background sweep; idempotent
	StartCleanup(ctx context.Context)

	// StopCleanup stops the background sweep and flushes any snapshot
	StopCleanup() error
}

// MemorySampler reports the process memory estimate used for pressure checks
type MemorySampler interface {
	// HeapAllocMB returns the heap currently in use, in megabytes
	HeapAllocMB() uint64
}
