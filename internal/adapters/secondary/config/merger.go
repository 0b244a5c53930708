package config

import (
	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

// ConfigMerger implements the ConfigMerger interface
type ConfigMerger struct{}

// NewConfigMerger creates a new configuration merger
func NewConfigMerger() *ConfigMerger {
	return &ConfigMerger{}
}

// Defaults returns the built-in configuration
func (m *ConfigMerger) Defaults() *entities.Config {
	return GetDefaultConfig()
}

// ApplyFlags applies CLI flag overrides to a configuration
func (m *ConfigMerger) ApplyFlags(config *entities.Config, flags map[string]interface{}) *entities.Config {
	result := deepCopy(config)

	if host, ok := flags["host"].(string); ok && host != "" {
		result.Diagnostics.Host = host
	}

	if port, ok := flags["port"].(int); ok && port > 0 {
		result.Diagnostics.Port = port
	}

	if noDiagnostics, ok := flags["no-diagnostics"].(bool); ok && noDiagnostics {
		result.Diagnostics.Enabled = false
	}

	if level, ok := flags["log-level"].(string); ok && level != "" {
		result.Logging.Level = level
	}

	if jsonLogs, ok := flags["log-json"].(bool); ok && jsonLogs {
		result.Logging.JSONFormat = true
	}

	if tokens, ok := flags["max-context-tokens"].(int); ok && tokens > 0 {
		result.Memory.MaxContextTokens = uint32(tokens) // #nosec G115 - flag values are small
	}

	return result
}

// ApplyEnvVars applies PAPIN_* environment variable overrides to a configuration
func (m *ConfigMerger) ApplyEnvVars(config *entities.Config) *entities.Config {
	result := deepCopy(config)

	// Memory limits
	setBoolFromEnv("PAPIN_MEMORY_ENABLED", &result.Memory.Enabled)
	setUint64FromEnv("PAPIN_MAX_MEMORY_MB", &result.Memory.MaxMemoryMB)
	setUint64FromEnv("PAPIN_THRESHOLD_MEMORY_MB", &result.Memory.ThresholdMemoryMB)
	setUint32FromEnv("PAPIN_MAX_CONTEXT_TOKENS", &result.Memory.MaxContextTokens)
	setUint32FromEnv("PAPIN_MEMORY_CHECK_INTERVAL", &result.Memory.CheckIntervalSecs)

	// Caches
	applyCacheEnvVars("PAPIN_API_CACHE", &result.APICache)
	applyCacheEnvVars("PAPIN_RESOURCE_CACHE", &result.ResourceCache)

	// Diagnostics server
	setBoolFromEnv("PAPIN_DIAGNOSTICS_ENABLED", &result.Diagnostics.Enabled)
	setStringFromEnv("PAPIN_HOST", &result.Diagnostics.Host)
	setIntFromEnv("PAPIN_PORT", &result.Diagnostics.Port)
	setSliceFromEnv("PAPIN_CORS_ORIGINS", &result.Diagnostics.CORSOrigins)

	// Logging
	setStringFromEnv("PAPIN_LOG_LEVEL", &result.Logging.Level)
	setBoolFromEnv("PAPIN_LOG_JSON", &result.Logging.JSONFormat)
	setStringFromEnv("PAPIN_LOG_FILE", &result.Logging.File)

	return result
}

// applyCacheEnvVars reads <prefix>_ENABLED, _MAX_ENTRIES, _TTL, _PERSIST,
// _FILE and _COMPRESSION
func applyCacheEnvVars(prefix string, cache *entities.CacheConfig) {
	setBoolFromEnv(prefix+"_ENABLED", &cache.Enabled)
	setIntFromEnv(prefix+"_MAX_ENTRIES", &cache.MaxEntries)
	setUint64FromEnv(prefix+"_TTL", &cache.TTLSeconds)
	setBoolFromEnv(prefix+"_PERSIST", &cache.Persist)
	setStringFromEnv(prefix+"_FILE", &cache.CacheFile)
	setStringFromEnv(prefix+"_COMPRESSION", &cache.Compression)
}

// deepCopy creates a deep copy of a configuration
func deepCopy(src *entities.Config) *entities.Config {
	if src == nil {
		return nil
	}

	dst := *src

	if src.Diagnostics.CORSOrigins != nil {
		dst.Diagnostics.CORSOrigins = make([]string, len(src.Diagnostics.CORSOrigins))
		copy(dst.Diagnostics.CORSOrigins, src.Diagnostics.CORSOrigins)
	}

	return &dst
}

// Ensure ConfigMerger implements ports.ConfigMerger
var _ ports.ConfigMerger = (*ConfigMerger)(nil)
