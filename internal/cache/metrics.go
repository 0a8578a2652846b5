package cache

import (
	"context"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds cache statistics for observability.
type Metrics struct {
	Hits        atomic.Int64
	Misses      atomic.Int64
	StaleServes atomic.Int64
	Evictions   atomic.Int64
	FetchErrors atomic.Int64

	entries func(context.Context) int
}

// Entries returns the current entry count of the owning cache's fastest tier.
func (m *Metrics) Entries() int {
	if m.entries == nil {
		return 0
	}
	return m.entries(context.Background())
}

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	StaleServes int64 `json:"staleServes"`
	Evictions   int64 `json:"evictions"`
	FetchErrors int64 `json:"fetchErrors"`
	Entries     int   `json:"entries"`
}

// Snapshot returns current values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Hits:        m.Hits.Load(),
		Misses:      m.Misses.Load(),
		StaleServes: m.StaleServes.Load(),
		Evictions:   m.Evictions.Load(),
		FetchErrors: m.FetchErrors.Load(),
		Entries:     m.Entries(),
	}
}

var (
	hitsDesc = prometheus.NewDesc(
		"datapack_cache_hits_total",
		"Number of cache lookups served from a fresh entry",
		[]string{"cache"}, nil)

	missesDesc = prometheus.NewDesc(
		"datapack_cache_misses_total",
		"Number of cache lookups that invoked the fetcher",
		[]string{"cache"}, nil)

	staleDesc = prometheus.NewDesc(
		"datapack_cache_stale_serves_total",
		"Number of expired entries returned after a fetcher failure",
		[]string{"cache"}, nil)

	evictionsDesc = prometheus.NewDesc(
		"datapack_cache_evictions_total",
		"Number of entries evicted to honour the entry bound",
		[]string{"cache"}, nil)

	fetchErrorsDesc = prometheus.NewDesc(
		"datapack_cache_fetch_errors_total",
		"Number of fetcher failures",
		[]string{"cache"}, nil)

	entriesDesc = prometheus.NewDesc(
		"datapack_cache_entries",
		"Number of entries held in the fastest tier",
		[]string{"cache"}, nil)
)

// Collector exports one or more named Metrics to prometheus.
type Collector struct {
	caches map[string]*Metrics
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector over the given caches, keyed by label.
func NewCollector(caches map[string]*Metrics) *Collector {
	return &Collector{caches: caches}
}

// Describe returns all descriptions of the collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- hitsDesc
	ch <- missesDesc
	ch <- staleDesc
	ch <- evictionsDesc
	ch <- fetchErrorsDesc
	ch <- entriesDesc
}

// Collect returns the current state of all metrics of the collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, m := range c.caches {
		s := m.Snapshot()
		ch <- prometheus.MustNewConstMetric(hitsDesc, prometheus.CounterValue, float64(s.Hits), name)
		ch <- prometheus.MustNewConstMetric(missesDesc, prometheus.CounterValue, float64(s.Misses), name)
		ch <- prometheus.MustNewConstMetric(staleDesc, prometheus.CounterValue, float64(s.StaleServes), name)
		ch <- prometheus.MustNewConstMetric(evictionsDesc, prometheus.CounterValue, float64(s.Evictions), name)
		ch <- prometheus.MustNewConstMetric(fetchErrorsDesc, prometheus.CounterValue, float64(s.FetchErrors), name)
		ch <- prometheus.MustNewConstMetric(entriesDesc, prometheus.GaugeValue, float64(s.Entries), name)
	}
}
