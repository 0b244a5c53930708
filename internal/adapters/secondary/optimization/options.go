package optimization

import (
	"log/slog"
	"runtime"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

// Option configures a MemoryManager or Manager
type Option func(*options)

type options struct {
	logger    *slog.Logger
	clock     ports.Clock
	sampler   ports.MemorySampler
	registry  *prometheus.Registry
	collector func(aggressive bool)
}

// WithLogger sets the logger; nil keeps slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces the wall clock, mainly for tests
func WithClock(clock ports.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithSampler replaces the heap sampler used by the pressure check
func WithSampler(sampler ports.MemorySampler) Option {
	return func(o *options) {
		if sampler != nil {
			o.sampler = sampler
		}
	}
}

// WithRegistry exports metrics to the given registry. A Manager without
// one creates its own.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// withCollector replaces the runtime collection step
func withCollector(collector func(aggressive bool)) Option {
	return func(o *options) {
		o.collector = collector
	}
}

// collectRuntime asks the Go runtime to collect. The aggressive variant
// also returns freed memory to the OS.
func collectRuntime(aggressive bool) {
	if aggressive {
		debug.FreeOSMemory()
		return
	}
	runtime.GC()
}

func applyOptions(opts ...Option) *options {
	o := &options{
		logger:    slog.Default(),
		clock:     ports.NewRealClock(),
		collector: collectRuntime,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
