package ports

import (
	"context"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
)

// ConfigLoader defines the interface for loading configuration files.
// Every Load method decodes the file over a copy of base, so keys the file
// does not mention keep the base value.
type ConfigLoader interface {
	// LoadGlobal loads the global configuration file, creating it with
	// defaults on first run
	LoadGlobal(ctx context.Context, base *entities.Config) (*entities.Config, error)

	// LoadLocal loads the local configuration file from dir. It returns nil
	// when dir has none.
	LoadLocal(ctx context.Context, dir string, base *entities.Config) (*entities.Config, error)

	// LoadFile loads an explicitly named configuration file
	LoadFile(ctx context.Context, path string, base *entities.Config) (*entities.Config, error)

	// CreateDefaults creates a default configuration file at the specified path
	CreateDefaults(ctx context.Context, path string) error

	// GetGlobalPath returns the path to the global configuration file
	GetGlobalPath() string
}

// ConfigMerger defines the interface for layering overrides onto a configuration
type ConfigMerger interface {
	// Defaults returns the built-in configuration
	Defaults() *entities.Config

	// ApplyFlags applies CLI flag overrides to a configuration
	ApplyFlags(config *entities.Config, flags map[string]interface{}) *entities.Config

	// ApplyEnvVars applies environment variable overrides to a configuration
	ApplyEnvVars(config *entities.Config) *entities.Config
}

// ConfigService defines the interface for the configuration service
type ConfigService interface {
	// LoadConfig loads the complete configuration with hierarchy and overrides.
	// A non-empty explicitPath replaces the local file lookup.
	LoadConfig(ctx context.Context, workingDir, explicitPath string, flags map[string]interface{}) (*entities.Config, error)

	// GetDefaultConfig returns the default configuration
	GetDefaultConfig() *entities.Config

	// ValidateConfig validates a configuration
	ValidateConfig(config *entities.Config) error

	// CreateGlobalConfig creates the global configuration file with defaults
	CreateGlobalConfig(ctx context.Context) error
}

// ConfigApplier applies a reloaded configuration to running components
type ConfigApplier interface {
	// ApplyConfig applies the sections that can change at runtime
	ApplyConfig(config entities.Config) error
}
