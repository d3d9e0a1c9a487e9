// Package metrics defines the prometheus collectors CubeDB exposes on
// its metrics endpoint, grounded on the same client_golang/promhttp
// pairing used for Postgres collector exposition in the wider example
// set.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cubedb/cubedb/internal/cube"
)

// Metrics holds every collector CubeDB registers. A zero-value Metrics
// is never used directly; callers get one from New, which also performs
// registration against a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	CommandsTotal     *prometheus.CounterVec
	CommandErrors     *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec
	Cubes             prometheus.Gauge
	Partitions        prometheus.Gauge
	InternedValues    prometheus.Gauge
}

// New registers and returns CubeDB's metric set against a fresh
// registry, so that test instances don't collide on prometheus's global
// DefaultRegisterer.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cubedb_connections_active",
			Help: "Number of TCP connections currently being served.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cubedb_commands_total",
			Help: "Total commands dispatched, by verb.",
		}, []string{"verb"}),
		CommandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cubedb_command_errors_total",
			Help: "Total command errors, by verb and error code.",
		}, []string{"verb", "code"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cubedb_command_duration_seconds",
			Help:    "Command handling latency, by verb.",
			Buckets: prometheus.DefBuckets,
		}, []string{"verb"}),
		Cubes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cubedb_cubes",
			Help: "Number of cubes currently held in the store.",
		}),
		Partitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cubedb_partitions",
			Help: "Total number of partitions across every cube.",
		}),
		InternedValues: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cubedb_interned_values",
			Help: "Total number of distinct interned values (columns + values).",
		}),
	}

	reg.MustRegister(
		m.ConnectionsActive,
		m.CommandsTotal,
		m.CommandErrors,
		m.CommandDuration,
		m.Cubes,
		m.Partitions,
		m.InternedValues,
	)
	return m
}

// ObserveCommand records one dispatched command's latency. Per-verb error
// counting happens separately, at the dispatcher, which has the code.
func (m *Metrics) ObserveCommand(verb string, d time.Duration) {
	m.CommandsTotal.WithLabelValues(verb).Inc()
	m.CommandDuration.WithLabelValues(verb).Observe(d.Seconds())
}

// RecordError increments the per-verb, per-code error counter.
func (m *Metrics) RecordError(verb, code string) {
	m.CommandErrors.WithLabelValues(verb, code).Inc()
}

// RefreshStoreGauges recomputes the store-size gauges. Called once at
// startup after restore and after each DUMP, rather than on every command —
// walking every cube on every request would defeat the point of the
// inverted index.
func (m *Metrics) RefreshStoreGauges(s *cube.Store) {
	names := s.CubeNames()
	m.Cubes.Set(float64(len(names)))

	var partitions int
	for _, name := range names {
		c := s.GetCube(name)
		if c == nil {
			continue
		}
		partitions += len(c.PartitionNames())
	}
	m.Partitions.Set(float64(partitions))

	in := s.Interner()
	m.InternedValues.Set(float64(in.Columns.Len() + in.Values.Len()))
}

// Handler returns the HTTP handler to serve on the metrics listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
