package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

// ConfigSource is what LoadConfig is called with on every reload
type ConfigSource struct {
	WorkingDir   string
	ExplicitPath string
	Flags        map[string]interface{}
}

// ConfigReloadService watches the configuration files and applies the
// reloaded configuration to the running components
type ConfigReloadService struct {
	watcher  ports.FileWatcher
	config   ports.ConfigService
	applier  ports.ConfigApplier
	notifier ports.EventBroadcaster
	logger   *slog.Logger

	mu          sync.Mutex
	watching    bool
	watchCancel context.CancelFunc
	done        chan struct{}
	source      ConfigSource
}

// NewConfigReloadService creates a new config reload service. notifier may
// be nil when no diagnostics server runs.
func NewConfigReloadService(
	watcher ports.FileWatcher,
	config ports.ConfigService,
	applier ports.ConfigApplier,
	notifier ports.EventBroadcaster,
	logger *slog.Logger,
) *ConfigReloadService {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigReloadService{
		watcher:  watcher,
		config:   config,
		applier:  applier,
		notifier: notifier,
		logger:   logger.With("service", "config_reload"),
	}
}

// Start watches every path and reloads on each change
func (s *ConfigReloadService) Start(ctx context.Context, source ConfigSource, paths ...string) error {
	if len(paths) == 0 {
		return errors.New("no config paths to watch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watching {
		return errors.New("already watching")
	}

	watchCtx, cancel := context.WithCancel(ctx)

	var events <-chan ports.FileChangeEvent
	for _, path := range paths {
		ch, err := s.watcher.Watch(watchCtx, path)
		if err != nil {
			cancel()
			return fmt.Errorf("watching %s: %w", path, err)
		}
		events = ch
	}

	s.watching = true
	s.watchCancel = cancel
	s.source = source
	s.done = make(chan struct{})

	go s.handleEvents(watchCtx, events, s.done)

	s.logger.Info("Watching configuration", slog.Any("paths", paths))
	return nil
}

// Stop stops watching and waits for an in-progress reload to finish
func (s *ConfigReloadService) Stop() error {
	s.mu.Lock()
	if !s.watching {
		s.mu.Unlock()
		return nil
	}
	s.watchCancel()
	done := s.done
	s.watching = false
	s.watchCancel = nil
	s.done = nil
	s.mu.Unlock()

	<-done
	return s.watcher.Stop()
}

// IsWatching returns whether the service is currently watching
func (s *ConfigReloadService) IsWatching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watching
}

// handleEvents reloads on every change event until ctx is done
func (s *ConfigReloadService) handleEvents(ctx context.Context, events <-chan ports.FileChangeEvent, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}

			s.logger.Info("Config file change detected",
				slog.String("path", event.Path),
				slog.String("type", event.Type.String()),
			)

			// A failed reload keeps the running configuration
			if err := s.reload(ctx); err != nil {
				s.logger.Error("Failed to reload configuration",
					slog.String("error", err.Error()),
					slog.String("path", event.Path),
				)
				continue
			}

			s.notify(event)
		}
	}
}

// reload runs the full layered load and applies the result
func (s *ConfigReloadService) reload(ctx context.Context) error {
	s.mu.Lock()
	source := s.source
	s.mu.Unlock()

	config, err := s.config.LoadConfig(ctx, source.WorkingDir, source.ExplicitPath, source.Flags)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := s.applier.ApplyConfig(*config); err != nil {
		return fmt.Errorf("applying config: %w", err)
	}

	s.logger.Info("Configuration reloaded")
	return nil
}

func (s *ConfigReloadService) notify(event ports.FileChangeEvent) {
	if s.notifier == nil {
		return
	}

	update := ports.UpdateEvent{
		Type:      ports.EventTypeConfigReload,
		Timestamp: event.Timestamp,
		Data: map[string]interface{}{
			"file": event.Path,
			"type": event.Type.String(),
		},
	}

	if err := s.notifier.Broadcast(update); err != nil {
		s.logger.Debug("Config reload not broadcast",
			slog.String("error", err.Error()),
			slog.String("file", event.Path),
		)
	}
}
