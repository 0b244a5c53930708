package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
)

func TestConfigMerger_Defaults(t *testing.T) {
	merger := NewConfigMerger()

	config := merger.Defaults()
	require.NotNil(t, config)
	require.NoError(t, config.Validate())

	assert.Equal(t, entities.DefaultMemoryLimits(), config.Memory)
	assert.Equal(t, 1000, config.APICache.MaxEntries)
	assert.Equal(t, uint64(3600), config.APICache.TTLSeconds)
	assert.Equal(t, 500, config.ResourceCache.MaxEntries)
	assert.Equal(t, uint64(86400), config.ResourceCache.TTLSeconds)
	assert.True(t, config.APICache.Enabled)
	assert.True(t, config.ResourceCache.Enabled)
	assert.Equal(t, "localhost", config.Diagnostics.Host)
	assert.Equal(t, 7420, config.Diagnostics.Port)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestConfigMerger_ApplyFlags(t *testing.T) {
	merger := NewConfigMerger()
	base := GetDefaultConfig()

	t.Run("applies all flags", func(t *testing.T) {
		flags := map[string]interface{}{
			"host":               "0.0.0.0",
			"port":               9000,
			"no-diagnostics":     true,
			"log-level":          "debug",
			"log-json":           true,
			"max-context-tokens": 32000,
		}

		result := merger.ApplyFlags(base, flags)

		assert.Equal(t, "0.0.0.0", result.Diagnostics.Host)
		assert.Equal(t, 9000, result.Diagnostics.Port)
		assert.False(t, result.Diagnostics.Enabled)
		assert.Equal(t, "debug", result.Logging.Level)
		assert.True(t, result.Logging.JSONFormat)
		assert.Equal(t, uint32(32000), result.Memory.MaxContextTokens)
	})

	t.Run("ignores zero and mistyped flags", func(t *testing.T) {
		flags := map[string]interface{}{
			"host":      "",
			"port":      "9000",
			"log-level": "",
			"log-json":  false,
		}

		result := merger.ApplyFlags(base, flags)

		assert.Equal(t, base.Diagnostics.Host, result.Diagnostics.Host)
		assert.Equal(t, base.Diagnostics.Port, result.Diagnostics.Port)
		assert.Equal(t, base.Logging.Level, result.Logging.Level)
		assert.False(t, result.Logging.JSONFormat)
	})

	t.Run("does not modify input", func(t *testing.T) {
		original := GetDefaultConfig()
		_ = merger.ApplyFlags(original, map[string]interface{}{"host": "example.com"})
		assert.Equal(t, "localhost", original.Diagnostics.Host)
	})
}

func TestConfigMerger_ApplyEnvVars(t *testing.T) {
	merger := NewConfigMerger()

	t.Run("applies environment overrides", func(t *testing.T) {
		t.Setenv("PAPIN_MEMORY_ENABLED", "false")
		t.Setenv("PAPIN_MAX_MEMORY_MB", "4096")
		t.Setenv("PAPIN_THRESHOLD_MEMORY_MB", "2048")
		t.Setenv("PAPIN_MAX_CONTEXT_TOKENS", "200000")
		t.Setenv("PAPIN_MEMORY_CHECK_INTERVAL", "10")
		t.Setenv("PAPIN_API_CACHE_MAX_ENTRIES", "50")
		t.Setenv("PAPIN_API_CACHE_TTL", "0")
		t.Setenv("PAPIN_API_CACHE_PERSIST", "true")
		t.Setenv("PAPIN_API_CACHE_FILE", "/var/cache/papin/api.cache")
		t.Setenv("PAPIN_API_CACHE_COMPRESSION", "lz4")
		t.Setenv("PAPIN_RESOURCE_CACHE_ENABLED", "false")
		t.Setenv("PAPIN_HOST", "0.0.0.0")
		t.Setenv("PAPIN_PORT", "8081")
		t.Setenv("PAPIN_CORS_ORIGINS", "https://a.example, https://b.example")
		t.Setenv("PAPIN_LOG_LEVEL", "warn")
		t.Setenv("PAPIN_LOG_JSON", "true")

		result := merger.ApplyEnvVars(GetDefaultConfig())

		assert.False(t, result.Memory.Enabled)
		assert.Equal(t, uint64(4096), result.Memory.MaxMemoryMB)
		assert.Equal(t, uint64(2048), result.Memory.ThresholdMemoryMB)
		assert.Equal(t, uint32(200000), result.Memory.MaxContextTokens)
		assert.Equal(t, uint32(10), result.Memory.CheckIntervalSecs)

		assert.Equal(t, 50, result.APICache.MaxEntries)
		assert.Equal(t, uint64(0), result.APICache.TTLSeconds)
		assert.True(t, result.APICache.Persist)
		assert.Equal(t, "/var/cache/papin/api.cache", result.APICache.CacheFile)
		assert.Equal(t, "lz4", result.APICache.Compression)
		assert.False(t, result.ResourceCache.Enabled)

		assert.Equal(t, "0.0.0.0", result.Diagnostics.Host)
		assert.Equal(t, 8081, result.Diagnostics.Port)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, result.Diagnostics.CORSOrigins)

		assert.Equal(t, "warn", result.Logging.Level)
		assert.True(t, result.Logging.JSONFormat)
	})

	t.Run("ignores malformed values", func(t *testing.T) {
		t.Setenv("PAPIN_MAX_CONTEXT_TOKENS", "lots")
		t.Setenv("PAPIN_PORT", "-1")
		t.Setenv("PAPIN_MEMORY_ENABLED", "maybe")
		t.Setenv("PAPIN_MEMORY_CHECK_INTERVAL", "99999999999")

		base := GetDefaultConfig()
		result := merger.ApplyEnvVars(base)

		assert.Equal(t, base.Memory, result.Memory)
		assert.Equal(t, base.Diagnostics.Port, result.Diagnostics.Port)
	})
}

func TestDeepCopy(t *testing.T) {
	t.Run("nil input", func(t *testing.T) {
		assert.Nil(t, deepCopy(nil))
	})

	t.Run("copies slices", func(t *testing.T) {
		src := GetDefaultConfig()
		dst := deepCopy(src)

		assert.Equal(t, src, dst)

		dst.Diagnostics.CORSOrigins[0] = "https://changed.example"
		dst.APICache.MaxEntries = 1
		assert.Equal(t, "http://localhost:3000", src.Diagnostics.CORSOrigins[0])
		assert.Equal(t, 1000, src.APICache.MaxEntries)
	})
}
