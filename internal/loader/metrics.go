package loader

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts loader activity. Register Collectors() with a registry to
// export it.
type Metrics struct {
	chunks  *prometheus.CounterVec
	records *prometheus.CounterVec
	inits   prometheus.Counter
}

// NewMetrics creates unregistered loader metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datapack",
			Subsystem: "loader",
			Name:      "chunks_total",
			Help:      "Chunk loads by priority class and outcome.",
		}, []string{"class", "outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datapack",
			Subsystem: "loader",
			Name:      "records_total",
			Help:      "Records delivered by category.",
		}, []string{"category"}),
		inits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "datapack",
			Subsystem: "loader",
			Name:      "manifest_fetches_total",
			Help:      "Manifest fetch attempts.",
		}),
	}
}

// Collectors returns the collectors to register.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.chunks, m.records, m.inits}
}
