package optimization

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PolycarpusTack/papin-sub003/internal/adapters/secondary/monitoring"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

// MemoryManager tracks the context token gauge and the heap estimate against
// the configured limits and drives reclamation of the registered caches.
type MemoryManager struct {
	mu            sync.RWMutex
	limits        entities.MemoryLimits
	contextTokens int
	gcCount       uint64
	lastGC        time.Time
	heapMB        uint64

	cachesMu sync.RWMutex
	caches   []ports.ReclaimableCache

	// pressure loop lifecycle, guarded by runMu
	runMu      sync.Mutex
	stop       chan struct{}
	done       chan struct{}
	reschedule chan struct{}

	clock     ports.Clock
	sampler   ports.MemorySampler
	collector func(aggressive bool)
	logger    *slog.Logger
	metrics   *memoryMetrics
}

// NewMemoryManager creates a memory manager with the default, enabled limits
func NewMemoryManager(opts ...Option) (*MemoryManager, error) {
	o := applyOptions(opts...)

	sampler := o.sampler
	if sampler == nil {
		sampler = monitoring.NewRuntimeMonitor(o.clock)
	}

	m := &MemoryManager{
		limits:     entities.DefaultMemoryLimits(),
		reschedule: make(chan struct{}, 1),
		clock:      o.clock,
		sampler:    sampler,
		collector:  o.collector,
		logger:     o.logger.With(slog.String("component", "memory_manager")),
	}

	if o.registry != nil {
		metrics, err := newMemoryMetrics(o.registry)
		if err != nil {
			return nil, fmt.Errorf("registering memory metrics: %w", err)
		}
		m.metrics = metrics
		m.metrics.setMaxTokens(m.limits.MaxContextTokens)
	}

	return m, nil
}

// Limits returns the active limits
func (m *MemoryManager) Limits() entities.MemoryLimits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// UpdateLimits replaces the limits. Invalid limits are rejected and leave the
// current ones in place. A changed check interval reschedules a running loop.
func (m *MemoryManager) UpdateLimits(limits entities.MemoryLimits) error {
	if err := limits.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	intervalChanged := m.limits.CheckIntervalSecs != limits.CheckIntervalSecs
	m.limits = limits
	m.mu.Unlock()

	m.metrics.setMaxTokens(limits.MaxContextTokens)

	if intervalChanged {
		select {
		case m.reschedule <- struct{}{}:
		default:
		}
	}

	m.logger.Info("Memory limits updated",
		slog.Bool("enabled", limits.Enabled),
		slog.Uint64("threshold_memory_mb", limits.ThresholdMemoryMB),
		slog.Uint64("max_memory_mb", limits.MaxMemoryMB),
		slog.Uint64("max_context_tokens", uint64(limits.MaxContextTokens)),
		slog.Uint64("check_interval_secs", uint64(limits.CheckIntervalSecs)))

	return nil
}

// UpdateContextTokens replaces the context token gauge. Negative counts are
// stored as zero.
func (m *MemoryManager) UpdateContextTokens(count int) {
	if count < 0 {
		count = 0
	}

	m.mu.Lock()
	m.contextTokens = count
	m.mu.Unlock()

	m.metrics.setContextTokens(count)
}

// Stats returns a point-in-time snapshot
func (m *MemoryManager) Stats() entities.MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := entities.MemoryStats{
		CurrentContextTokens: m.contextTokens,
		GCCount:              m.gcCount,
		ContextLimitExceeded: tokensExceeded(m.limits, m.contextTokens),
		HeapAllocMB:          m.heapMB,
	}
	if !m.lastGC.IsZero() {
		lastGC := m.lastGC
		stats.LastGCTime = &lastGC
	}
	return stats
}

// tokensExceeded reports whether the gauge is above a non-zero token limit
func tokensExceeded(limits entities.MemoryLimits, tokens int) bool {
	return limits.MaxContextTokens > 0 && tokens > int(limits.MaxContextTokens)
}

// RegisterCache adds a cache to the set reclaimed by ForceGC. Registering the
// same cache twice has no effect.
func (m *MemoryManager) RegisterCache(cache ports.ReclaimableCache) {
	m.cachesMu.Lock()
	defer m.cachesMu.Unlock()

	for _, registered := range m.caches {
		if registered == cache {
			return
		}
	}
	m.caches = append(m.caches, cache)
}

// Caches returns the registered caches in registration order
func (m *MemoryManager) Caches() []ports.ReclaimableCache {
	m.cachesMu.RLock()
	defer m.cachesMu.RUnlock()
	return append([]ports.ReclaimableCache(nil), m.caches...)
}

// ForceGC runs one reclamation pass and returns the number of cache entries
// it removed. An aggressive pass clears every registered cache; a light pass
// only removes expired entries. Either way gc_count and last_gc_time advance
// together. The context token gauge is never modified here.
func (m *MemoryManager) ForceGC(aggressive bool) int {
	reclaimed := 0
	for _, cache := range m.Caches() {
		if aggressive {
			reclaimed += cache.Stats().Size
			cache.Clear()
			continue
		}
		reclaimed += cache.PurgeExpired()
	}

	m.collector(aggressive)
	heapMB := m.sampler.HeapAllocMB()
	now := m.clock.Now()

	m.mu.Lock()
	m.gcCount++
	m.lastGC = now
	m.heapMB = heapMB
	gcCount := m.gcCount
	exceeded := tokensExceeded(m.limits, m.contextTokens)
	m.mu.Unlock()

	m.metrics.recordGC(aggressive, float64(now.UnixNano())/float64(time.Second))
	m.metrics.setHeap(heapMB)

	m.logger.Info("Memory reclamation completed",
		slog.Bool("aggressive", aggressive),
		slog.Uint64("gc_count", gcCount),
		slog.Int("reclaimed_entries", reclaimed),
		slog.Uint64("heap_alloc_mb", heapMB))

	if exceeded {
		m.logger.Warn("Context token limit exceeded; trimming is left to the caller")
	}

	return reclaimed
}

// Start starts the pressure check loop. Calling it while running does nothing.
// The loop keeps running while limits are disabled but never reclaims.
func (m *MemoryManager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running() {
		return
	}

	select {
	case <-m.reschedule:
	default:
	}

	interval := m.Limits().CheckInterval()
	ticker := m.clock.NewTicker(interval)
	stop := make(chan struct{})
	done := make(chan struct{})
	m.stop = stop
	m.done = done

	go m.checkLoop(ctx, ticker, stop, done)

	m.logger.Info("Memory manager started", slog.Duration("check_interval", interval))
}

// running reports whether the loop goroutine is alive. Must be called with
// runMu held.
func (m *MemoryManager) running() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Stop stops the pressure loop and waits for it to exit
func (m *MemoryManager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.done == nil {
		return
	}

	close(m.stop)
	<-m.done
	m.stop = nil
	m.done = nil

	m.logger.Info("Memory manager stopped")
}

func (m *MemoryManager) checkLoop(ctx context.Context, ticker ports.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-m.reschedule:
			ticker.Reset(m.Limits().CheckInterval())
		case <-ticker.C():
			m.checkPressure()
		}
	}
}

// checkPressure samples the heap and runs a light pass when the token gauge
// or the heap estimate is over its limit. It reports whether a pass ran.
func (m *MemoryManager) checkPressure() bool {
	m.mu.RLock()
	limits := m.limits
	tokens := m.contextTokens
	m.mu.RUnlock()

	if !limits.Enabled {
		return false
	}

	heapMB := m.sampler.HeapAllocMB()

	m.mu.Lock()
	m.heapMB = heapMB
	m.mu.Unlock()
	m.metrics.setHeap(heapMB)

	overTokens := tokensExceeded(limits, tokens)
	overHeap := limits.ThresholdMemoryMB > 0 && heapMB > limits.ThresholdMemoryMB
	if !overTokens && !overHeap {
		return false
	}

	if overTokens {
		m.metrics.recordPressure("context_tokens")
	}
	if overHeap {
		m.metrics.recordPressure("heap")
	}

	m.logger.Warn("Memory pressure detected",
		slog.Int("context_tokens", tokens),
		slog.Uint64("max_context_tokens", uint64(limits.MaxContextTokens)),
		slog.Uint64("heap_alloc_mb", heapMB),
		slog.Uint64("threshold_memory_mb", limits.ThresholdMemoryMB))

	m.ForceGC(false)
	return true
}
