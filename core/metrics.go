package core

import "time"

// SettleStats summarises one settle invocation.
type SettleStats struct {
	FirstPassOnly bool
	Segments      int
	Nodes         int
	Replacements  int
	// Pending is true when at least one entity could not be resolved and the
	// dirty flag was left set for the next tick.
	Pending  bool
	Duration time.Duration
}

// Notifications returns the total number of updates published.
func (s SettleStats) Notifications() int {
	return s.Segments + s.Nodes + s.Replacements
}

// MetricsRecorder receives counters from the extension layer.
type MetricsRecorder interface {
	RecordSettle(stats SettleStats)
	// RecordCorruptedList is called when a bounded traversal detected a
	// broken intrusive list. structure names the list kind.
	RecordCorruptedList(structure string)
	// RecordVehicleAnomaly counts tolerated vehicle event anomalies, such as
	// a duplicate spawn or a failed length computation.
	RecordVehicleAnomaly(kind string)
}

type noopMetrics struct{}

func (noopMetrics) RecordSettle(SettleStats)         {}
func (noopMetrics) RecordCorruptedList(string)       {}
func (noopMetrics) RecordVehicleAnomaly(kind string) {}
