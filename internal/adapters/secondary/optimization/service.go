// Package optimization composes the memory manager and the shared caches and
// owns their background task lifecycle.
package optimization

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/PolycarpusTack/papin-sub003/internal/adapters/secondary/cache"
	"github.com/PolycarpusTack/papin-sub003/internal/adapters/secondary/monitoring"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

// Cache names used in logs, metrics and the diagnostics API.
const (
	APICacheName      = "api_cache"
	ResourceCacheName = "resource_cache"
)

// Manager owns one MemoryManager and the two named caches
type Manager struct {
	memory        *MemoryManager
	apiCache      *cache.Cache[string, []byte]
	resourceCache *cache.Cache[string, []byte]
	monitor       *monitoring.RuntimeMonitor
	registry      *prometheus.Registry
	clock         ports.Clock
	logger        *slog.Logger

	mu      sync.Mutex
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
}

// NewManager builds the memory manager and both caches from config and
// registers the caches for reclamation.
func NewManager(config entities.Config, opts ...Option) (*Manager, error) {
	o := applyOptions(opts...)

	registry := o.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	monitor := monitoring.NewRuntimeMonitor(o.clock)
	sampler := o.sampler
	if sampler == nil {
		sampler = monitor
	}

	memory, err := NewMemoryManager(
		WithLogger(o.logger),
		WithClock(o.clock),
		WithSampler(sampler),
		WithRegistry(registry),
		withCollector(o.collector),
	)
	if err != nil {
		return nil, err
	}
	if err := memory.UpdateLimits(config.Memory); err != nil {
		return nil, fmt.Errorf("memory config: %w", err)
	}

	cacheOpts := []cache.Option{
		cache.WithLogger(o.logger),
		cache.WithClock(o.clock),
		cache.WithMetrics(registry),
	}

	apiCache, err := cache.New[string, []byte](APICacheName, config.APICache, cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("api_cache config: %w", err)
	}

	resourceCache, err := cache.New[string, []byte](ResourceCacheName, config.ResourceCache, cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("resource_cache config: %w", err)
	}

	memory.RegisterCache(apiCache)
	memory.RegisterCache(resourceCache)

	return &Manager{
		memory:        memory,
		apiCache:      apiCache,
		resourceCache: resourceCache,
		monitor:       monitor,
		registry:      registry,
		clock:         o.clock,
		logger:        o.logger.With(slog.String("component", "optimization")),
	}, nil
}

// Start starts every cache sweep and the memory pressure loop. Calling it
// while running does nothing. After the parent context of a previous Start
// is cancelled the stale tasks are cleaned up and started again.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeLocked() {
		return nil
	}
	if m.running {
		if err := m.stopLocked(); err != nil {
			m.logger.Warn("Stale optimization tasks stopped with errors", slog.String("error", err.Error()))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	m.cancel = cancel
	m.running = true

	for _, c := range m.managedCaches() {
		c.StartCleanup(runCtx)
	}
	m.memory.Start(runCtx)

	m.logger.Info("Optimization manager started")
	return nil
}

// Stop stops every background task and waits for them to exit. Stored
// entries are kept. The first snapshot error, if any, is returned.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	if err := m.stopLocked(); err != nil {
		m.logger.Warn("Optimization manager stopped with errors", slog.String("error", err.Error()))
		return err
	}

	m.logger.Info("Optimization manager stopped")
	return nil
}

// stopLocked joins the background tasks and flushes snapshots. Must be
// called with mu held and running set.
func (m *Manager) stopLocked() error {
	var g errgroup.Group
	for _, c := range m.managedCaches() {
		g.Go(c.StopCleanup)
	}
	g.Go(func() error {
		m.memory.Stop()
		return nil
	})
	err := g.Wait()

	m.cancel()
	m.cancel = nil
	m.runCtx = nil
	m.running = false
	return err
}

// activeLocked reports whether the tasks of the last Start are still
// live. Must be called with mu held.
func (m *Manager) activeLocked() bool {
	return m.running && m.runCtx.Err() == nil
}

// IsRunning reports whether the background tasks are running: Start was
// called, and neither Stop nor cancellation of its context followed
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

// MemoryManager returns the shared memory manager
func (m *Manager) MemoryManager() *MemoryManager {
	return m.memory
}

// APICache returns the shared API response cache
func (m *Manager) APICache() *cache.Cache[string, []byte] {
	return m.apiCache
}

// ResourceCache returns the shared derived resource cache
func (m *Manager) ResourceCache() *cache.Cache[string, []byte] {
	return m.resourceCache
}

// Cache looks up a cache by name
func (m *Manager) Cache(name string) (ports.ManagedCache, bool) {
	for _, c := range m.managedCaches() {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// CacheStats returns the stats of every cache, in a stable order
func (m *Manager) CacheStats() []entities.CacheStats {
	caches := m.managedCaches()
	stats := make([]entities.CacheStats, 0, len(caches))
	for _, c := range caches {
		stats = append(stats, c.Stats())
	}
	return stats
}

// Health reports process health against max_memory_mb
func (m *Manager) Health() entities.HealthStatus {
	return m.monitor.Health(m.memory.Limits().MaxMemoryMB)
}

// RuntimeStats returns the Go runtime memory counters
func (m *Manager) RuntimeStats() entities.RuntimeStats {
	return m.monitor.Stats()
}

// Report gathers memory, cache and runtime stats into one snapshot
func (m *Manager) Report() entities.StatsReport {
	return entities.StatsReport{
		Memory:    m.memory.Stats(),
		Limits:    m.memory.Limits(),
		Caches:    m.CacheStats(),
		Runtime:   m.monitor.Stats(),
		Timestamp: m.clock.Now(),
	}
}

// ApplyConfig applies reloaded memory limits and cache policies. Every
// section is validated before any is applied. Diagnostics and logging
// changes take effect on restart.
func (m *Manager) ApplyConfig(config entities.Config) error {
	if err := config.Memory.Validate(); err != nil {
		return fmt.Errorf("memory config: %w", err)
	}
	if err := config.APICache.Validate(); err != nil {
		return fmt.Errorf("api_cache config: %w", err)
	}
	if err := config.ResourceCache.Validate(); err != nil {
		return fmt.Errorf("resource_cache config: %w", err)
	}

	if err := m.memory.UpdateLimits(config.Memory); err != nil {
		return fmt.Errorf("memory config: %w", err)
	}
	if err := m.apiCache.UpdateConfig(config.APICache); err != nil {
		return fmt.Errorf("api_cache config: %w", err)
	}
	if err := m.resourceCache.UpdateConfig(config.ResourceCache); err != nil {
		return fmt.Errorf("resource_cache config: %w", err)
	}

	m.logger.Info("Configuration applied")
	return nil
}

// Gatherer exposes the metrics registry for the /metrics endpoint
func (m *Manager) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Manager) managedCaches() []ports.ManagedCache {
	return []ports.ManagedCache{m.apiCache, m.resourceCache}
}

var _ ports.ConfigApplier = (*Manager)(nil)
