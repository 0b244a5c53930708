package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

// localNames are the local config files looked up in a working directory,
// in order of preference
var localNames = []string{"papin.toml", "papin.yaml", "papin.yml"}

// FileLoader implements the ConfigLoader interface for TOML and YAML files
type FileLoader struct {
	globalPath string
	localNames []string
}

// NewFileLoader creates a loader rooted at ~/.config/papin/optimization.toml
func NewFileLoader() *FileLoader {
	homeDir, _ := os.UserHomeDir()
	globalPath := filepath.Join(homeDir, ".config", "papin", "optimization.toml")

	return &FileLoader{
		globalPath: globalPath,
		localNames: localNames,
	}
}

// LoadGlobal loads the global configuration file
func (l *FileLoader) LoadGlobal(ctx context.Context, base *entities.Config) (*entities.Config, error) {
	if _, err := os.Stat(l.globalPath); os.IsNotExist(err) {
		// Create default config on first run
		if err := l.CreateDefaults(ctx, l.globalPath); err != nil {
			return nil, fmt.Errorf("creating defaults: %w", err)
		}
	}

	return l.loadConfig(l.globalPath, base)
}

// LoadLocal loads the first local configuration file found in dir
func (l *FileLoader) LoadLocal(ctx context.Context, dir string, base *entities.Config) (*entities.Config, error) {
	for _, name := range l.localNames {
		localPath := filepath.Join(dir, name)
		if _, err := os.Stat(localPath); err == nil {
			return l.loadConfig(localPath, base)
		}
	}

	return nil, nil // Local config is optional
}

// LoadFile loads an explicitly named configuration file
func (l *FileLoader) LoadFile(ctx context.Context, path string, base *entities.Config) (*entities.Config, error) {
	return l.loadConfig(path, base)
}

// CreateDefaults writes the default configuration as TOML
func (l *FileLoader) CreateDefaults(ctx context.Context, path string) error {
	if err := l.ensureConfigDir(path); err != nil {
		return err
	}

	file, err := os.Create(path) // #nosec G304 - path is controlled (global config path or CLI argument)
	if err != nil {
		return fmt.Errorf("creating config file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	encoder := toml.NewEncoder(file)
	encoder.Indent = "  "

	if err := encoder.Encode(GetDefaultConfig()); err != nil {
		return fmt.Errorf("encoding config to %s: %w", path, err)
	}

	return nil
}

// GetGlobalPath returns the path to the global configuration file
func (l *FileLoader) GetGlobalPath() string {
	return l.globalPath
}

// WatchPaths returns every file a load from workingDir could read: the
// global file and either explicitPath or each local candidate
func (l *FileLoader) WatchPaths(workingDir, explicitPath string) []string {
	paths := []string{l.globalPath}
	if explicitPath != "" {
		return append(paths, explicitPath)
	}
	for _, name := range l.localNames {
		paths = append(paths, filepath.Join(workingDir, name))
	}
	return paths
}

// loadConfig decodes path over a copy of base and validates the result
func (l *FileLoader) loadConfig(path string, base *entities.Config) (*entities.Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is from controlled sources (global/local config)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	config := deepCopy(base)
	if config == nil {
		config = GetDefaultConfig()
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing YAML from %s: %w", path, err)
		}
	case ".toml", "":
		if _, err := toml.Decode(string(data), config); err != nil {
			return nil, fmt.Errorf("parsing TOML from %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q for %s", ext, path)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}

	return config, nil
}

// ensureConfigDir ensures the configuration directory exists
func (l *FileLoader) ensureConfigDir(path string) error {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	return nil
}

// Ensure FileLoader implements ports.ConfigLoader
var _ ports.ConfigLoader = (*FileLoader)(nil)
