package optimization

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
	"github.com/PolycarpusTack/papin-sub003/internal/test/fakes"
)

func testConfig() entities.Config {
	return entities.Config{
		Memory:        entities.DefaultMemoryLimits(),
		APICache:      entities.DefaultCacheConfig(),
		ResourceCache: entities.DefaultCacheConfig(),
	}
}

func newTestManager(t *testing.T, config entities.Config) (*Manager, *fakes.Clock) {
	t.Helper()
	clock := fakes.NewClock(epoch)
	spy := &collectorSpy{}
	manager, err := NewManager(config,
		WithClock(clock),
		WithSampler(&fakes.Sampler{}),
		withCollector(spy.collect),
	)
	require.NoError(t, err)
	return manager, clock
}

func TestNewManager(t *testing.T) {
	t.Run("with default config", func(t *testing.T) {
		manager, _ := newTestManager(t, testConfig())

		require.NotNil(t, manager.MemoryManager())
		require.NotNil(t, manager.APICache())
		require.NotNil(t, manager.ResourceCache())
		assert.False(t, manager.IsRunning())

		assert.Equal(t, APICacheName, manager.APICache().Name())
		assert.Equal(t, ResourceCacheName, manager.ResourceCache().Name())
		assert.Len(t, manager.MemoryManager().Caches(), 2)
		assert.True(t, manager.MemoryManager().Limits().Enabled)
	})

	t.Run("invalid cache config", func(t *testing.T) {
		config := testConfig()
		config.APICache.MaxEntries = 0

		_, err := NewManager(config)
		require.Error(t, err)
		assert.ErrorIs(t, err, entities.ErrInvalidConfig)
		assert.Contains(t, err.Error(), "api_cache config")
	})

	t.Run("invalid memory limits", func(t *testing.T) {
		config := testConfig()
		config.Memory.CheckIntervalSecs = 0

		_, err := NewManager(config)
		require.Error(t, err)
		assert.ErrorIs(t, err, entities.ErrInvalidConfig)
		assert.Contains(t, err.Error(), "memory config")
	})
}

func TestManager_AccessorsShareHandles(t *testing.T) {
	manager, _ := newTestManager(t, testConfig())

	manager.APICache().Put("GET /models", []byte(`{"models":[]}`))

	value, found := manager.APICache().Get("GET /models")
	assert.True(t, found)
	assert.Equal(t, []byte(`{"models":[]}`), value)

	byName, ok := manager.Cache(APICacheName)
	require.True(t, ok)
	assert.Equal(t, 1, byName.Stats().Size)

	_, ok = manager.Cache("unknown")
	assert.False(t, ok)
}

func TestManager_AggressiveGCClearsBothCaches(t *testing.T) {
	manager, _ := newTestManager(t, testConfig())

	manager.APICache().Put("a", []byte("1"))
	manager.ResourceCache().Put("b", []byte("2"))
	manager.ResourceCache().Put("c", []byte("3"))

	reclaimed := manager.MemoryManager().ForceGC(true)

	assert.Equal(t, 3, reclaimed)
	for _, stats := range manager.CacheStats() {
		assert.Equal(t, 0, stats.Size, stats.Name)
	}
	assert.Equal(t, uint64(1), manager.MemoryManager().Stats().GCCount)
}

func TestManager_StartStop(t *testing.T) {
	manager, clock := newTestManager(t, testConfig())
	ctx := context.Background()

	t.Run("start spawns each task once", func(t *testing.T) {
		require.NoError(t, manager.Start(ctx))
		require.NoError(t, manager.Start(ctx))

		assert.True(t, manager.IsRunning())
		assert.Equal(t, 3, clock.ActiveTickers(), "two cache sweeps and one pressure loop")
	})

	t.Run("stop keeps data", func(t *testing.T) {
		manager.APICache().Put("k", []byte("v"))

		require.NoError(t, manager.Stop())
		assert.False(t, manager.IsRunning())
		assert.Equal(t, 0, clock.ActiveTickers())

		_, found := manager.APICache().Get("k")
		assert.True(t, found)
	})

	t.Run("stop twice", func(t *testing.T) {
		assert.NoError(t, manager.Stop())
	})

	t.Run("restart immediately", func(t *testing.T) {
		require.NoError(t, manager.Start(ctx))
		require.NoError(t, manager.Stop())
		require.NoError(t, manager.Start(ctx))
		assert.Equal(t, 3, clock.ActiveTickers())
		require.NoError(t, manager.Stop())
	})
}

func TestManager_RestartAfterContextCancelled(t *testing.T) {
	manager, clock := newTestManager(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, manager.Start(ctx))
	assert.True(t, manager.IsRunning())

	cancel()
	assert.False(t, manager.IsRunning())
	require.Eventually(t, func() bool { return clock.ActiveTickers() == 0 }, time.Second, time.Millisecond)

	require.NoError(t, manager.Start(context.Background()))
	assert.True(t, manager.IsRunning())
	assert.Equal(t, 3, clock.ActiveTickers())

	require.NoError(t, manager.Stop())
	assert.False(t, manager.IsRunning())
}

func TestManager_StopReportsSnapshotError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0600))

	config := testConfig()
	config.APICache.Persist = true
	config.APICache.CacheFile = filepath.Join(blocker, "api.cache")

	manager, _ := newTestManager(t, config)
	require.NoError(t, manager.Start(context.Background()))

	manager.APICache().Put("k", []byte("v"))

	err := manager.Stop()
	require.Error(t, err)
	assert.False(t, manager.IsRunning(), "the manager stops even when the snapshot fails")

	_, found := manager.APICache().Get("k")
	assert.True(t, found, "the cache keeps working in memory")
}

func TestManager_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	config := testConfig()
	config.ResourceCache.Persist = true
	config.ResourceCache.CacheFile = filepath.Join(dir, "resource.cache")

	first, _ := newTestManager(t, config)
	require.NoError(t, first.Start(context.Background()))
	first.ResourceCache().Put("icon.png", []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, first.Stop())

	second, _ := newTestManager(t, config)
	require.NoError(t, second.Start(context.Background()))
	defer func() { _ = second.Stop() }()

	value, found := second.ResourceCache().Get("icon.png")
	assert.True(t, found)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, value)
}

func TestManager_Metrics(t *testing.T) {
	manager, _ := newTestManager(t, testConfig())
	manager.APICache().Get("missing")
	manager.MemoryManager().ForceGC(false)

	families, err := manager.Gatherer().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}

	assert.True(t, names["papin_cache_misses_total"])
	assert.True(t, names["papin_cache_size"])
	assert.True(t, names["papin_memory_gc_total"])
	assert.True(t, names["papin_memory_context_tokens"])
	assert.True(t, names["go_goroutines"])
}

func TestManager_Health(t *testing.T) {
	manager, _ := newTestManager(t, testConfig())

	health := manager.Health()
	assert.NotEmpty(t, health.Uptime)
	assert.Greater(t, health.Runtime.Goroutines, 0)
	assert.WithinDuration(t, epoch, health.CheckedAt, time.Second)
}

func TestManager_Report(t *testing.T) {
	manager, _ := newTestManager(t, testConfig())
	manager.APICache().Put("k", []byte("v"))
	manager.MemoryManager().UpdateContextTokens(42)

	report := manager.Report()

	assert.Equal(t, 42, report.Memory.CurrentContextTokens)
	assert.Equal(t, manager.MemoryManager().Limits(), report.Limits)
	require.Len(t, report.Caches, 2)
	assert.Equal(t, APICacheName, report.Caches[0].Name)
	assert.Equal(t, 1, report.Caches[0].Size)
	assert.Equal(t, ResourceCacheName, report.Caches[1].Name)
	assert.Equal(t, epoch, report.Timestamp)
}

func TestManager_ApplyConfig(t *testing.T) {
	t.Run("updates limits and both caches", func(t *testing.T) {
		manager, _ := newTestManager(t, testConfig())

		config := testConfig()
		config.Memory.MaxContextTokens = 5000
		config.APICache.MaxEntries = 10
		config.ResourceCache.TTLSeconds = 60

		require.NoError(t, manager.ApplyConfig(config))

		assert.Equal(t, uint32(5000), manager.MemoryManager().Limits().MaxContextTokens)
		assert.Equal(t, 10, manager.APICache().Config().MaxEntries)
		assert.Equal(t, uint64(60), manager.ResourceCache().Config().TTLSeconds)
	})

	t.Run("invalid section changes nothing", func(t *testing.T) {
		manager, _ := newTestManager(t, testConfig())

		config := testConfig()
		config.Memory.MaxContextTokens = 5000
		config.ResourceCache.MaxEntries = -1

		err := manager.ApplyConfig(config)
		require.Error(t, err)
		assert.ErrorIs(t, err, entities.ErrInvalidConfig)
		assert.Contains(t, err.Error(), "resource_cache config")
		assert.Equal(t, entities.DefaultMemoryLimits(), manager.MemoryManager().Limits())
	})
}
