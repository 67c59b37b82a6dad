package core

import (
	"github.com/paulmach/orb"
	"github.com/signalsfoundry/roadnet-ext/model"
)

// Network is the capability surface of the authoritative simulation that the
// extension layer reads from. It is the only source of truth for validity,
// topology and vehicle configuration.
type Network interface {
	IsSegmentValid(id model.SegmentID) bool
	IsNodeValid(id model.NodeID) bool

	// Segment returns the raw slot for id. Node ids stay populated after the
	// segment is released.
	Segment(id model.SegmentID) model.Segment

	// SegmentDirection returns the facing vector of segment id at node,
	// pointing away from the node into the segment. ok is false when the
	// segment does not touch node.
	SegmentDirection(id model.SegmentID, node model.NodeID) (dir orb.Point, ok bool)

	Vehicle(id model.VehicleID) (model.Vehicle, bool)

	// TopologyUpdating reports whether the simulation is still in the middle
	// of applying topology edits for the current tick.
	TopologyUpdating() bool
}

// Options is the feature configuration consumed (not owned) by the layer.
type Options interface {
	// RegistryEnabled reports whether per-segment-end vehicle registries are
	// maintained at all.
	RegistryEnabled() bool
	// RecklessDriverPercent is the share (0-100) of passenger car drivers
	// classified as reckless.
	RecklessDriverPercent() int
}

// StaticOptions is a fixed Options value.
type StaticOptions struct {
	Registry        bool
	RecklessPercent int
}

func (o StaticOptions) RegistryEnabled() bool      { return o.Registry }
func (o StaticOptions) RecklessDriverPercent() int { return o.RecklessPercent }

// DefaultOptions enables the registry and disables reckless drivers.
func DefaultOptions() StaticOptions {
	return StaticOptions{Registry: true}
}
