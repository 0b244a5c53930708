// Package monitoring samples Go runtime memory counters.
package monitoring

import (
	"fmt"
	"runtime"
	"time"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

const bytesPerMB = 1024 * 1024

// maxGoroutines is the goroutine count above which the process is reported unhealthy
const maxGoroutines = 10000

// RuntimeMonitor reads runtime.MemStats on demand
type RuntimeMonitor struct {
	startTime time.Time
	clock     ports.Clock
}

// NewRuntimeMonitor creates a runtime monitor. A nil clock uses wall time.
func NewRuntimeMonitor(clock ports.Clock) *RuntimeMonitor {
	if clock == nil {
		clock = ports.NewRealClock()
	}
	return &RuntimeMonitor{
		startTime: clock.Now(),
		clock:     clock,
	}
}

// HeapAllocMB returns the heap in use, which is the memory estimate compared
// against threshold_memory_mb.
func (m *RuntimeMonitor) HeapAllocMB() uint64 {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return memStats.HeapAlloc / bytesPerMB
}

// Stats returns detailed memory statistics
func (m *RuntimeMonitor) Stats() entities.RuntimeStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return entities.RuntimeStats{
		AllocMB:      memStats.Alloc / bytesPerMB,
		TotalAllocMB: memStats.TotalAlloc / bytesPerMB,
		SysMB:        memStats.Sys / bytesPerMB,
		HeapAllocMB:  memStats.HeapAlloc / bytesPerMB,
		HeapSysMB:    memStats.HeapSys / bytesPerMB,
		HeapObjects:  memStats.HeapObjects,
		StackInuseMB: memStats.StackInuse / bytesPerMB,
		NextGCMB:     memStats.NextGC / bytesPerMB,
		Goroutines:   runtime.NumGoroutine(),
		GCCycles:     memStats.NumGC,
		LastPause:    lastPause(&memStats),
		Uptime:       m.Uptime(),
	}
}

// Uptime returns the time since the monitor was created
func (m *RuntimeMonitor) Uptime() time.Duration {
	return m.clock.Now().Sub(m.startTime)
}

// Health checks the heap against max_memory_mb and the goroutine count
// against a fixed ceiling. A zero maxMemoryMB disables the heap check.
func (m *RuntimeMonitor) Health(maxMemoryMB uint64) entities.HealthStatus {
	stats := m.Stats()

	var reasons []string
	if maxMemoryMB > 0 && stats.HeapAllocMB >= maxMemoryMB {
		reasons = append(reasons, fmt.Sprintf("heap %dMB at or above max_memory_mb %dMB", stats.HeapAllocMB, maxMemoryMB))
	}
	if stats.Goroutines >= maxGoroutines {
		reasons = append(reasons, fmt.Sprintf("%d goroutines running", stats.Goroutines))
	}

	return entities.HealthStatus{
		Healthy:   len(reasons) == 0,
		Reasons:   reasons,
		Uptime:    stats.Uptime.Round(time.Second).String(),
		Runtime:   stats,
		CheckedAt: m.clock.Now(),
	}
}

// lastPause returns the most recent GC pause. PauseNs is a circular buffer
// indexed by NumGC.
func lastPause(memStats *runtime.MemStats) time.Duration {
	if memStats.NumGC == 0 {
		return 0
	}
	return time.Duration(memStats.PauseNs[(memStats.NumGC+255)%256]) // #nosec G115 - pause durations fit in int64
}

var _ ports.MemorySampler = (*RuntimeMonitor)(nil)
