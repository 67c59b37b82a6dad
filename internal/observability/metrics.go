package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/signalsfoundry/roadnet-ext/core"
)

// ExtensionCollector exposes geometry settle, registry integrity and vehicle
// anomaly metrics. It implements core.MetricsRecorder.
type ExtensionCollector struct {
	gatherer prometheus.Gatherer

	Settles         *prometheus.CounterVec
	SettleDurations prometheus.Histogram
	SettlesDeferred prometheus.Counter
	Notifications   *prometheus.CounterVec
	CorruptedLists  *prometheus.CounterVec
	VehicleAnomaly  *prometheus.CounterVec
	SpawnRelinks    prometheus.Counter
	LoadedSegments  prometheus.Gauge
}

var _ core.MetricsRecorder = (*ExtensionCollector)(nil)

// NewExtensionCollector registers extension metrics against reg, defaulting
// to the global Prometheus registry when nil.
func NewExtensionCollector(reg prometheus.Registerer) (*ExtensionCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	settles, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roadext_geometry_settles_total",
		Help: "Geometry settle invocations that had work to do, labeled by pass (full or first).",
	}, []string{"pass"}), "roadext_geometry_settles_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "roadext_geometry_settle_duration_seconds",
		Help:    "Duration of geometry settle invocations that had work to do.",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}), "roadext_geometry_settle_duration_seconds")
	if err != nil {
		return nil, err
	}

	deferred, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roadext_geometry_settles_deferred_total",
		Help: "Full settles that left entities pending for the next tick.",
	}), "roadext_geometry_settles_deferred_total")
	if err != nil {
		return nil, err
	}

	notifications, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roadext_geometry_notifications_total",
		Help: "Geometry updates published to subscribers, labeled by kind.",
	}, []string{"kind"}), "roadext_geometry_notifications_total")
	if err != nil {
		return nil, err
	}

	corrupted, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roadext_corrupted_lists_total",
		Help: "Intrusive list traversals aborted by the iteration bound, labeled by structure.",
	}, []string{"structure"}), "roadext_corrupted_lists_total")
	if err != nil {
		return nil, err
	}

	anomalies, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roadext_vehicle_anomalies_total",
		Help: "Tolerated vehicle event anomalies, labeled by kind.",
	}, []string{"kind"}), "roadext_vehicle_anomalies_total")
	if err != nil {
		return nil, err
	}

	relinks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roadext_vehicle_spawn_relinks_total",
		Help: "Spawn events received for vehicles that were still spawned or linked.",
	}), "roadext_vehicle_spawn_relinks_total")
	if err != nil {
		return nil, err
	}

	loaded, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roadext_loaded_segments",
		Help: "Valid segments found by the last load.",
	}), "roadext_loaded_segments")
	if err != nil {
		return nil, err
	}

	return &ExtensionCollector{
		gatherer:        gathererFor(reg),
		Settles:         settles,
		SettleDurations: durations,
		SettlesDeferred: deferred,
		Notifications:   notifications,
		CorruptedLists:  corrupted,
		VehicleAnomaly:  anomalies,
		SpawnRelinks:    relinks,
		LoadedSegments:  loaded,
	}, nil
}

// RecordSettle counts a settle invocation. Idle settles are ignored.
func (c *ExtensionCollector) RecordSettle(stats core.SettleStats) {
	if c == nil {
		return
	}
	if stats.Notifications() == 0 && !stats.Pending {
		return
	}
	pass := "full"
	if stats.FirstPassOnly {
		pass = "first"
	}
	c.Settles.WithLabelValues(pass).Inc()
	c.SettleDurations.Observe(stats.Duration.Seconds())
	if stats.Pending && !stats.FirstPassOnly {
		c.SettlesDeferred.Inc()
	}
	c.Notifications.WithLabelValues("segment").Add(float64(stats.Segments))
	c.Notifications.WithLabelValues("node").Add(float64(stats.Nodes))
	c.Notifications.WithLabelValues("replacement").Add(float64(stats.Replacements))
}

// RecordCorruptedList counts an aborted list traversal.
func (c *ExtensionCollector) RecordCorruptedList(structure string) {
	if c == nil {
		return
	}
	c.CorruptedLists.WithLabelValues(structure).Inc()
}

// RecordVehicleAnomaly counts a tolerated vehicle anomaly.
func (c *ExtensionCollector) RecordVehicleAnomaly(kind string) {
	if c == nil {
		return
	}
	c.VehicleAnomaly.WithLabelValues(kind).Inc()
	if kind == "spawn_relink" {
		c.SpawnRelinks.Inc()
	}
}

// SetLoadedSegments updates the loaded segment gauge.
func (c *ExtensionCollector) SetLoadedSegments(n int) {
	if c == nil {
		return
	}
	c.LoadedSegments.Set(float64(n))
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ExtensionCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ExtensionCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
