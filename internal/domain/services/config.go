package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

// ConfigService implements the configuration service business logic
type ConfigService struct {
	loader ports.ConfigLoader
	merger ports.ConfigMerger
}

// NewConfigService creates a new configuration service
func NewConfigService(loader ports.ConfigLoader, merger ports.ConfigMerger) *ConfigService {
	return &ConfigService{
		loader: loader,
		merger: merger,
	}
}

// LoadConfig builds the configuration in order of precedence:
// defaults → global file → local (or explicit) file → environment → flags
func (s *ConfigService) LoadConfig(ctx context.Context, workingDir, explicitPath string, flags map[string]interface{}) (*entities.Config, error) {
	config := s.GetDefaultConfig()

	globalConfig, err := s.loader.LoadGlobal(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("loading global config: %w", err)
	}
	if globalConfig != nil {
		config = globalConfig
	}

	var localConfig *entities.Config
	if explicitPath != "" {
		localConfig, err = s.loader.LoadFile(ctx, explicitPath, config)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	} else {
		localConfig, err = s.loader.LoadLocal(ctx, workingDir, config)
		if err != nil {
			return nil, fmt.Errorf("loading local config: %w", err)
		}
	}
	if localConfig != nil {
		config = localConfig
	}

	config = s.merger.ApplyEnvVars(config)
	config = s.merger.ApplyFlags(config, flags)

	if err := s.ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("final config validation: %w", err)
	}

	return config, nil
}

// GetDefaultConfig returns the default configuration
func (s *ConfigService) GetDefaultConfig() *entities.Config {
	return s.merger.Defaults()
}

// ValidateConfig validates a configuration
func (s *ConfigService) ValidateConfig(config *entities.Config) error {
	if config == nil {
		return errors.New("config cannot be nil")
	}

	return config.Validate()
}

// CreateGlobalConfig creates the global configuration file with defaults
func (s *ConfigService) CreateGlobalConfig(ctx context.Context) error {
	return s.loader.CreateDefaults(ctx, s.loader.GetGlobalPath())
}

// Ensure ConfigService implements ports.ConfigService
var _ ports.ConfigService = (*ConfigService)(nil)
