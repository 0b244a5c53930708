package entities

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Memory        MemoryLimits      `toml:"memory" yaml:"memory"`
	APICache      CacheConfig       `toml:"api_cache" yaml:"api_cache"`
	ResourceCache CacheConfig       `toml:"resource_cache" yaml:"resource_cache"`
	Diagnostics   DiagnosticsConfig `toml:"diagnostics" yaml:"diagnostics"`
	Logging       LoggingConfig     `toml:"logging" yaml:"logging"`
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory config: %w", err)
	}

	if err := c.APICache.Validate(); err != nil {
		return fmt.Errorf("api_cache config: %w", err)
	}

	if err := c.ResourceCache.Validate(); err != nil {
		return fmt.Errorf("resource_cache config: %w", err)
	}

	if c.APICache.PersistenceEnabled() && c.ResourceCache.PersistenceEnabled() &&
		filepath.Clean(c.APICache.CacheFile) == filepath.Clean(c.ResourceCache.CacheFile) {
		return fmt.Errorf("%w: api_cache and resource_cache must not share a cache_file", ErrInvalidConfig)
	}

	if err := c.Diagnostics.Validate(); err != nil {
		return fmt.Errorf("diagnostics config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// DiagnosticsConfig contains the diagnostics HTTP server configuration
type DiagnosticsConfig struct {
	Enabled           bool     `toml:"enabled" yaml:"enabled"`
	Host              string   `toml:"host" yaml:"host"`
	Port              int      `toml:"port" yaml:"port"`
	ReadTimeout       int      `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      int      `toml:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout   int      `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	StatsIntervalSecs int      `toml:"stats_interval_secs" yaml:"stats_interval_secs"`
	CORSOrigins       []string `toml:"cors_origins" yaml:"cors_origins"`
}

// Validate validates diagnostics server configuration
func (s DiagnosticsConfig) Validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return errors.New("port must be between 0 and 65535")
	}

	if s.ReadTimeout < 0 {
		return errors.New("read timeout must be non-negative")
	}

	if s.WriteTimeout < 0 {
		return errors.New("write timeout must be non-negative")
	}

	if s.ShutdownTimeout < 0 {
		return errors.New("shutdown timeout must be non-negative")
	}

	if s.StatsIntervalSecs < 0 {
		return errors.New("stats interval must be non-negative")
	}

	for _, origin := range s.CORSOrigins {
		if origin == "" {
			return errors.New("CORS origin cannot be empty")
		}
		if origin == "*" {
			continue
		}
		if len(origin) < 7 || (!strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://")) {
			return fmt.Errorf("invalid CORS origin format: %s (must start with http:// or https://)", origin)
		}
	}

	return nil
}

// Address returns host:port
func (s DiagnosticsConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GetReadTimeout returns the read timeout as a duration
func (s DiagnosticsConfig) GetReadTimeout() time.Duration {
	if s.ReadTimeout <= 0 {
		return 15 * time.Second
	}
	return time.Duration(s.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the write timeout as a duration
func (s DiagnosticsConfig) GetWriteTimeout() time.Duration {
	if s.WriteTimeout <= 0 {
		return 15 * time.Second
	}
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetShutdownTimeout returns the shutdown timeout as a duration
func (s DiagnosticsConfig) GetShutdownTimeout() time.Duration {
	if s.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// GetStatsInterval returns the websocket stats push period
func (s DiagnosticsConfig) GetStatsInterval() time.Duration {
	if s.StatsIntervalSecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.StatsIntervalSecs) * time.Second
}

// GetCORSOrigins returns CORS origins with defaults if empty
func (s DiagnosticsConfig) GetCORSOrigins() []string {
	if len(s.CORSOrigins) == 0 {
		return []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		}
	}
	return s.CORSOrigins
}

// LogLevel represents logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `toml:"level" yaml:"level"`             // debug, info, warn, error
	JSONFormat bool   `toml:"json_format" yaml:"json_format"` // Output logs in JSON format
	File       string `toml:"file" yaml:"file"`               // Log to file (optional)
}

// Validate validates logging configuration
func (l LoggingConfig) Validate() error {
	switch LogLevel(l.Level) {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	case "":
		// Empty is okay, will use default
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", l.Level)
	}

	if l.File != "" {
		if !filepath.IsAbs(l.File) {
			return errors.New("log file path must be absolute")
		}

		dir := filepath.Dir(l.File)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("log file directory does not exist: %s", dir)
		}
	}

	return nil
}

// GetLevel returns the log level with default
func (l LoggingConfig) GetLevel() LogLevel {
	if l.Level == "" {
		return LogLevelInfo
	}
	return LogLevel(l.Level)
}
