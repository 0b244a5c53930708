package cache

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

// Option configures a Cache
type Option func(*options)

type options struct {
	logger     *slog.Logger
	clock      ports.Clock
	registerer prometheus.Registerer
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

// WithMetrics exports the cache counters to the given Prometheus registerer
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = registerer
	}
}

func applyOptions(opts ...Option) *options {
	o := &options{
		logger: slog.Default(),
		clock:  ports.NewRealClock(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
