package entities

import (
	"fmt"
	"math"
	"time"
)

// Snapshot compression algorithms accepted in CacheConfig.Compression.
const (
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
	CompressionNone = "none"
)

// maxTTLSeconds is the largest TTL that still fits in a time.Duration.
const maxTTLSeconds = uint64(math.MaxInt64 / int64(time.Second))

// CacheConfig is the policy of a single cache instance
type CacheConfig struct {
	// MaxEntries bounds the number of live entries
	MaxEntries int `toml:"max_entries" yaml:"max_entries" json:"max_entries"`

	// TTLSeconds is the entry lifetime; 0 disables time-based expiry
	TTLSeconds uint64 `toml:"ttl_seconds" yaml:"ttl_seconds" json:"ttl_seconds"`

	// Persist enables the on-disk snapshot when CacheFile is set
	Persist bool `toml:"persist" yaml:"persist" json:"persist"`

	// CacheFile is the snapshot path
	CacheFile string `toml:"cache_file" yaml:"cache_file" json:"cache_file,omitempty"`

	// Enabled turns storage on; a disabled cache computes every request
	Enabled bool `toml:"enabled" yaml:"enabled" json:"enabled"`

	// CleanupIntervalSecs is the period of the background expiry sweep
	CleanupIntervalSecs uint32 `toml:"cleanup_interval_secs" yaml:"cleanup_interval_secs" json:"cleanup_interval_secs"`

	// Compression selects the snapshot compression (zstd, lz4, none)
	Compression string `toml:"compression" yaml:"compression" json:"compression,omitempty"`
}

// DefaultCacheConfig returns the policy used when nothing is configured
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries:          1000,
		TTLSeconds:          3600,
		Enabled:             true,
		CleanupIntervalSecs: 300,
		Compression:         CompressionZstd,
	}
}

// Validate rejects structurally invalid cache policies
func (c CacheConfig) Validate() error {
	if c.MaxEntries < 0 {
		return fmt.Errorf("%w: max_entries must be non-negative", ErrInvalidConfig)
	}

	if c.Enabled && c.MaxEntries == 0 {
		return fmt.Errorf("%w: max_entries must be greater than 0 when caching is enabled", ErrInvalidConfig)
	}

	if c.TTLSeconds > maxTTLSeconds {
		return fmt.Errorf("%w: ttl_seconds %d overflows a duration (max %d)", ErrInvalidConfig, c.TTLSeconds, maxTTLSeconds)
	}

	if c.Enabled && c.CleanupIntervalSecs == 0 {
		return fmt.Errorf("%w: cleanup_interval_secs must be greater than 0 when caching is enabled", ErrInvalidConfig)
	}

	switch c.Compression {
	case "", CompressionZstd, CompressionLZ4, CompressionNone:
	default:
		return fmt.Errorf("%w: invalid compression: %s (must be zstd, lz4, or none)", ErrInvalidConfig, c.Compression)
	}

	return nil
}

// TTL returns the entry lifetime; zero means entries never expire
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// CleanupInterval returns the sweep period with a one minute fallback
func (c CacheConfig) CleanupInterval() time.Duration {
	if c.CleanupIntervalSecs == 0 {
		return time.Minute
	}
	return time.Duration(c.CleanupIntervalSecs) * time.Second
}

// PersistenceEnabled reports whether a snapshot file should be used
func (c CacheConfig) PersistenceEnabled() bool {
	return c.Persist && c.CacheFile != ""
}

// GetCompression returns the snapshot compression with default
func (c CacheConfig) GetCompression() string {
	if c.Compression == "" {
		return CompressionZstd
	}
	return c.Compression
}

// CacheStats represents cache statistics
type CacheStats struct {
	// Name identifies the cache
	Name string `json:"name"`

	// Size is the current number of items in cache
	Size int `json:"size"`

	// MaxSize is the configured capacity
	MaxSize int `json:"max_size"`

	// Hits is the number of cache hits
	Hits int64 `json:"hits"`

	// Misses is the number of cache misses
	Misses int64 `json:"misses"`

	// Evictions is the number of entries removed by expiry, capacity or clear
	Evictions int64 `json:"evictions"`

	// InFlight is the number of computations currently running
	InFlight int `json:"in_flight"`

	// HitRate is the fraction of lookups served from the cache
	HitRate float64 `json:"hit_rate"`
}
