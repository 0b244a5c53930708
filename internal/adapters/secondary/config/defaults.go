package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
)

// GetDefaultConfig returns the built-in configuration
func GetDefaultConfig() *entities.Config {
	resourceCache := entities.DefaultCacheConfig()
	resourceCache.MaxEntries = 500
	resourceCache.TTLSeconds = 86400

	return &entities.Config{
		Memory:        entities.DefaultMemoryLimits(),
		APICache:      entities.DefaultCacheConfig(),
		ResourceCache: resourceCache,
		Diagnostics: entities.DiagnosticsConfig{
			Enabled:           true,
			Host:              "localhost",
			Port:              7420,
			ReadTimeout:       15,
			WriteTimeout:      15,
			ShutdownTimeout:   5,
			StatsIntervalSecs: 5,
			CORSOrigins: []string{
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			},
		},
		Logging: entities.LoggingConfig{
			Level: string(entities.LogLevelInfo),
		},
	}
}

// lookupEnv returns a non-empty environment variable
func lookupEnv(key string) (string, bool) {
	value := os.Getenv(key)
	return value, value != ""
}

// setStringFromEnv overwrites target when the variable is set
func setStringFromEnv(key string, target *string) {
	if value, ok := lookupEnv(key); ok {
		*target = value
	}
}

// setIntFromEnv overwrites target when the variable holds a non-negative int
func setIntFromEnv(key string, target *int) {
	if value, ok := lookupEnv(key); ok {
		if intValue, err := strconv.Atoi(value); err == nil && intValue >= 0 {
			*target = intValue
		}
	}
}

// setUint64FromEnv overwrites target when the variable holds a uint64
func setUint64FromEnv(key string, target *uint64) {
	if value, ok := lookupEnv(key); ok {
		if uintValue, err := strconv.ParseUint(value, 10, 64); err == nil {
			*target = uintValue
		}
	}
}

// setUint32FromEnv overwrites target when the variable holds a uint32
func setUint32FromEnv(key string, target *uint32) {
	if value, ok := lookupEnv(key); ok {
		if uintValue, err := strconv.ParseUint(value, 10, 32); err == nil {
			*target = uint32(uintValue)
		}
	}
}

// setBoolFromEnv overwrites target when the variable holds a bool
func setBoolFromEnv(key string, target *bool) {
	if value, ok := lookupEnv(key); ok {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			*target = boolValue
		}
	}
}

// setSliceFromEnv overwrites target with a comma separated list
func setSliceFromEnv(key string, target *[]string) {
	value, ok := lookupEnv(key)
	if !ok {
		return
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) > 0 {
		*target = result
	}
}
