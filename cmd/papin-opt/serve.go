package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	diaghttp "github.com/PolycarpusTack/papin-sub003/internal/adapters/primary/http"
	"github.com/PolycarpusTack/papin-sub003/internal/adapters/secondary/config"
	"github.com/PolycarpusTack/papin-sub003/internal/adapters/secondary/optimization"
	"github.com/PolycarpusTack/papin-sub003/internal/adapters/secondary/watcher"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/services"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory manager, caches and diagnostics server",
	Long: `Start the memory pressure loop and the cache sweeps, and serve the
diagnostics API until interrupted. Snapshots are written on shutdown for
caches with persistence enabled.

Example:
  papin-opt serve
  papin-opt serve --port 9000 --log-level debug
  papin-opt serve --watch-config`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addServeFlags(serveCmd)
}

// addServeFlags registers the override flags. Defaults come from config;
// flags only override when set.
func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("port", "p", 0, "Diagnostics port (overrides config)")
	cmd.Flags().String("host", "", "Diagnostics host (overrides config)")
	cmd.Flags().Bool("no-diagnostics", false, "Do not start the diagnostics server")
	cmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	cmd.Flags().Bool("log-json", false, "Log in JSON format (overrides config)")
	cmd.Flags().Int("max-context-tokens", 0, "Context token limit (overrides config)")
	cmd.Flags().Bool("watch-config", false, "Reload memory limits and cache policies when config files change")
}

// flagOverrides collects the flags the user actually set
func flagOverrides(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := cmd.Flags()

	for _, name := range []string{"host", "log-level"} {
		if set.Changed(name) {
			value, _ := set.GetString(name)
			flags[name] = value
		}
	}
	for _, name := range []string{"port", "max-context-tokens"} {
		if set.Changed(name) {
			value, _ := set.GetInt(name)
			flags[name] = value
		}
	}
	for _, name := range []string{"no-diagnostics", "log-json"} {
		if set.Changed(name) {
			value, _ := set.GetBool(name)
			flags[name] = value
		}
	}

	return flags
}

// configSource resolves where configuration is loaded from
func configSource(cmd *cobra.Command, flags map[string]interface{}) (services.ConfigSource, error) {
	workingDir, err := os.Getwd()
	if err != nil {
		return services.ConfigSource{}, fmt.Errorf("resolving working directory: %w", err)
	}

	explicitPath, _ := cmd.Flags().GetString("config")
	return services.ConfigSource{WorkingDir: workingDir, ExplicitPath: explicitPath, Flags: flags}, nil
}

func newConfigService() *services.ConfigService {
	return services.NewConfigService(config.NewFileLoader(), config.NewConfigMerger())
}

// loadConfig layers defaults, global and local files, PAPIN_* variables and flags
func loadConfig(cmd *cobra.Command, flags map[string]interface{}) (*entities.Config, error) {
	source, err := configSource(cmd, flags)
	if err != nil {
		return nil, err
	}

	finalConfig, err := newConfigService().LoadConfig(cmd.Context(), source.WorkingDir, source.ExplicitPath, source.Flags)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return finalConfig, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	source, err := configSource(cmd, flagOverrides(cmd))
	if err != nil {
		return err
	}

	configService := newConfigService()
	finalConfig, err := configService.LoadConfig(cmd.Context(), source.WorkingDir, source.ExplicitPath, source.Flags)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logger, closer, err := newLogger(finalConfig.Logging, verbose, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	manager, err := optimization.NewManager(*finalConfig, optimization.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating optimization manager: %w", err)
	}

	d := &daemon{
		manager:         manager,
		shutdownTimeout: finalConfig.Diagnostics.GetShutdownTimeout(),
	}

	var notifier ports.EventBroadcaster
	if finalConfig.Diagnostics.Enabled {
		d.server = diaghttp.NewServer(manager, finalConfig.Diagnostics, logger)
		notifier = d.server
	}

	if watch, _ := cmd.Flags().GetBool("watch-config"); watch {
		fileWatcher := watcher.NewPollingWatcher(configPollInterval, configDebounce, watcher.WithLogger(logger))
		d.reloader = services.NewConfigReloadService(fileWatcher, configService, manager, notifier, logger)
		d.source = source
		d.watchPaths = config.NewFileLoader().WatchPaths(source.WorkingDir, source.ExplicitPath)
	}

	return d.run(cmd.Context(), logger)
}

const (
	configPollInterval = 2 * time.Second
	configDebounce     = time.Second
)

// daemon is everything serve runs until interrupted
type daemon struct {
	manager         *optimization.Manager
	server          *diaghttp.Server              // nil when diagnostics are disabled
	reloader        *services.ConfigReloadService // nil unless --watch-config
	source          services.ConfigSource
	watchPaths      []string
	shutdownTimeout time.Duration
}

// run starts every component, blocks until ctx is cancelled and stops
// them in reverse order
func (d *daemon) run(ctx context.Context, logger *slog.Logger) error {
	if err := d.manager.Start(ctx); err != nil {
		return fmt.Errorf("starting optimization manager: %w", err)
	}

	if d.server != nil {
		if err := d.server.Start(ctx); err != nil {
			_ = d.manager.Stop()
			return fmt.Errorf("starting diagnostics server: %w", err)
		}
		logger.Info("Diagnostics available", slog.String("url", "http://"+d.server.Addr()))
	}

	if d.reloader != nil {
		// A watch failure leaves the daemon running without reload
		if err := d.reloader.Start(ctx, d.source, d.watchPaths...); err != nil {
			logger.Warn("Config watching disabled", slog.String("error", err.Error()))
		}
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	var errs []error
	if d.reloader != nil {
		if err := d.reloader.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping config watcher: %w", err))
		}
	}
	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.shutdownTimeout+time.Second)
		if err := d.server.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if err := d.manager.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping optimization manager: %w", err))
	}

	return errors.Join(errs...)
}
