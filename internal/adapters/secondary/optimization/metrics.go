package optimization

import (
	"github.com/prometheus/client_golang/prometheus"
)

// memoryMetrics mirrors the memory manager state as Prometheus metrics.
type memoryMetrics struct {
	gcTotal       *prometheus.CounterVec
	lastGC        prometheus.Gauge
	contextTokens prometheus.Gauge
	maxTokens     prometheus.Gauge
	heapAllocMB   prometheus.Gauge
	pressureTotal *prometheus.CounterVec
}

func newMemoryMetrics(registerer prometheus.Registerer) (*memoryMetrics, error) {
	m := &memoryMetrics{
		gcTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "papin",
			Subsystem: "memory",
			Name:      "gc_total",
			Help:      "Total number of reclamation passes",
		}, []string{"mode"}),
		lastGC: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "papin",
			Subsystem: "memory",
			Name:      "last_gc_timestamp_seconds",
			Help:      "Unix time of the last reclamation pass",
		}),
		contextTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "papin",
			Subsystem: "memory",
			Name:      "context_tokens",
			Help:      "Current conversation context size in tokens",
		}),
		maxTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "papin",
			Subsystem: "memory",
			Name:      "max_context_tokens",
			Help:      "Configured context token limit",
		}),
		heapAllocMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "papin",
			Subsystem: "memory",
			Name:      "heap_alloc_megabytes",
			Help:      "Last sampled Go heap in use",
		}),
		pressureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "papin",
			Subsystem: "memory",
			Name:      "pressure_total",
			Help:      "Pressure checks that triggered a light reclamation pass",
		}, []string{"reason"}),
	}

	for _, collector := range []prometheus.Collector{
		m.gcTotal, m.lastGC, m.contextTokens, m.maxTokens, m.heapAllocMB, m.pressureTotal,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func gcMode(aggressive bool) string {
	if aggressive {
		return "aggressive"
	}
	return "light"
}

func (m *memoryMetrics) recordGC(aggressive bool, unixSeconds float64) {
	if m == nil {
		return
	}
	m.gcTotal.WithLabelValues(gcMode(aggressive)).Inc()
	m.lastGC.Set(unixSeconds)
}

func (m *memoryMetrics) setContextTokens(tokens int) {
	if m != nil {
		m.contextTokens.Set(float64(tokens))
	}
}

func (m *memoryMetrics) setMaxTokens(tokens uint32) {
	if m != nil {
		m.maxTokens.Set(float64(tokens))
	}
}

func (m *memoryMetrics) setHeap(mb uint64) {
	if m != nil {
		m.heapAllocMB.Set(float64(mb))
	}
}

func (m *memoryMetrics) recordPressure(reason string) {
	if m != nil {
		m.pressureTotal.WithLabelValues(reason).Inc()
	}
}
