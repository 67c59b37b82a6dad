package core

import (
	"context"
	"sync"

	"github.com/signalsfoundry/roadnet-ext/internal/logging"
	"github.com/signalsfoundry/roadnet-ext/model"
	"github.com/signalsfoundry/roadnet-ext/timectrl"
)

// Extensions wires the extension stores and the geometry manager for one
// loaded network. It is the inbound surface for simulation events and the
// outbound surface for policy managers.
type Extensions struct {
	// mu serialises simulation writes against readers on other goroutines
	// (WithReadLock). The geometry manager has its own lock.
	mu sync.RWMutex

	net     Network
	caps    Capacities
	opts    Options
	clock   timectrl.SimClock
	log     logging.Logger
	metrics MetricsRecorder
	frame   uint32

	Segments    *ExtSegmentStore
	SegmentEnds *ExtSegmentEndStore
	Nodes       *ExtNodeStore
	Vehicles    *ExtVehicleStore
	Geometry    *GeometryManager
}

// Option customises Extensions construction.
type Option func(*Extensions)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Extensions) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetricsRecorder attaches a metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(e *Extensions) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithOptions sets the feature options consulted by the vehicle registry.
func WithOptions(o Options) Option {
	return func(e *Extensions) {
		if o != nil {
			e.opts = o
		}
	}
}

// WithClock sets the clock used to stamp vehicle position and transit
// changes.
func WithClock(c timectrl.SimClock) Option {
	return func(e *Extensions) {
		if c != nil {
			e.clock = c
		}
	}
}

// NewExtensions allocates every store to caps and wires them together.
func NewExtensions(net Network, caps Capacities, opts ...Option) *Extensions {
	e := &Extensions{
		net:     net,
		caps:    caps.ApplyDefaults(),
		opts:    DefaultOptions(),
		clock:   timectrl.SystemClock{},
		log:     logging.Noop(),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	e.Segments = newExtSegmentStore(net, e.caps)
	e.SegmentEnds = newExtSegmentEndStore(net, e.caps, e.log, e.metrics)
	e.Nodes = newExtNodeStore(net, e.caps)
	e.Vehicles = newExtVehicleStore(net, e.caps, e.opts, e.clock, e.log, e.metrics)
	e.Geometry = newGeometryManager(net, e.caps, e.Segments, e.log, e.metrics)

	e.Segments.ends = e.SegmentEnds
	e.Segments.geometry = e.Geometry
	e.SegmentEnds.nodes = e.Nodes
	e.SegmentEnds.vehicles = e.Vehicles
	e.Nodes.geometry = e.Geometry
	e.Vehicles.ends = e.SegmentEnds
	return e
}

// Capacities returns the slot counts the stores were allocated with.
func (e *Extensions) Capacities() Capacities { return e.caps }

// WithReadLock runs fn while simulation writes are excluded. fn must not call
// inbound methods of e.
func (e *Extensions) WithReadLock(fn func() error) error {
	if fn == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn()
}

//
// ---------- Inbound: simulation -> extensions ----------
//

// SegmentTopologyChanged recalculates a created, destroyed or reconnected
// segment.
func (e *Extensions) SegmentTopologyChanged(segmentID model.SegmentID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Segments.Recalculate(segmentID)
}

// NodeTopologyChanged recalculates a node and every segment touching it.
func (e *Extensions) NodeTopologyChanged(nodeID model.NodeID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	marked := false
	for _, segmentID := range e.Nodes.SegmentIDs(nodeID) {
		if e.Segments.Recalculate(segmentID) {
			raw := e.net.Segment(segmentID)
			marked = marked || raw.StartNode == nodeID || raw.EndNode == nodeID
		}
	}
	e.Nodes.Recalculate(nodeID, marked)
}

// VehicleCreated starts tracking a vehicle.
func (e *Extensions) VehicleCreated(v model.Vehicle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Vehicles.OnCreate(v)
}

// VehicleStartPathFind reclassifies a vehicle about to search for a path.
func (e *Extensions) VehicleStartPathFind(v model.Vehicle, vehicleType *model.VehicleType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Vehicles.OnStartPathFind(v, vehicleType)
}

// VehicleSpawned puts a vehicle on the network.
func (e *Extensions) VehicleSpawned(v model.Vehicle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Vehicles.OnSpawn(v)
}

// VehiclePositionUpdated moves a vehicle onto end.
func (e *Extensions) VehiclePositionUpdated(v model.Vehicle, end model.SegmentEndID, cur, next model.PathPosition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Vehicles.UpdatePosition(v, end, cur, next)
}

// VehicleDespawned takes a vehicle off the network.
func (e *Extensions) VehicleDespawned(vehicleID model.VehicleID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Vehicles.OnDespawn(vehicleID)
}

// VehicleReleased stops tracking a vehicle.
func (e *Extensions) VehicleReleased(vehicleID model.VehicleID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Vehicles.OnRelease(vehicleID)
}

// SimulationStep advances per-frame bookkeeping and settles pending
// geometry changes.
func (e *Extensions) SimulationStep(ctx context.Context) SettleStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Vehicles.SimulationStep(e.frame)
	e.frame++
	return e.Geometry.Settle(ctx)
}

//
// ---------- Lifecycle ----------
//

// Load builds the extension state for every live segment and node, then
// settles.
func (e *Extensions) Load(ctx context.Context) SettleStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	segments, nodes := 0, 0
	for id := 1; id < e.caps.MaxSegments; id++ {
		if e.net.IsSegmentValid(model.SegmentID(id)) {
			e.Segments.Recalculate(model.SegmentID(id))
			segments++
		}
	}
	for id := 1; id < e.caps.MaxNodes; id++ {
		if e.net.IsNodeValid(model.NodeID(id)) {
			e.Geometry.MarkNodeUpdated(model.NodeID(id))
			nodes++
		}
	}

	e.log.Info(ctx, "extension state loaded",
		logging.Int("segments", segments),
		logging.Int("nodes", nodes),
		logging.String("capacities", e.caps.String()),
	)
	return e.Geometry.Settle(ctx)
}

// Unload resets every record and drops all subscribers.
func (e *Extensions) Unload() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Geometry.reset()
	e.Geometry.unsubscribeAll()
	e.Vehicles.resetAll()
	e.SegmentEnds.resetAll()
	e.Nodes.resetAll()
	e.Segments.resetAll()
	e.frame = 0
}

//
// ---------- Outbound accessors ----------
//
// Accessors do not lock; call them from the simulation goroutine, from a
// geometry subscriber, or inside WithReadLock.

// Subscribe registers fn for geometry updates. fn runs with the write lock
// held, so it may use the accessors but not WithReadLock or the inbound
// methods.
func (e *Extensions) Subscribe(fn func(GeometryUpdate)) *Subscription {
	return e.Geometry.Subscribe(fn)
}

// IsSegmentValid reports whether the segment was valid at its last
// recalculation.
func (e *Extensions) IsSegmentValid(segmentID model.SegmentID) bool {
	return e.Segments.IsValid(segmentID)
}

// IsNodeValid reports whether the simulation knows the node.
func (e *Extensions) IsNodeValid(nodeID model.NodeID) bool {
	return e.Nodes.IsValid(nodeID)
}

// Classification returns the derived classification of a segment.
func (e *Extensions) Classification(segmentID model.SegmentID) ExtSegment {
	return e.Segments.Get(segmentID)
}

// SegmentEndFlowFlags returns whether traffic enters and leaves the node at
// the given end.
func (e *Extensions) SegmentEndFlowFlags(segmentID model.SegmentID, startEnd bool) (incoming, outgoing bool) {
	return e.SegmentEnds.FlowFlags(segmentID, startEnd)
}

// VehicleRegistryHead returns the first vehicle registered at a segment end.
func (e *Extensions) VehicleRegistryHead(segmentID model.SegmentID, startEnd bool) model.VehicleID {
	return e.SegmentEnds.Head(segmentID, startEnd)
}

// VehicleState returns the extension record of a vehicle.
func (e *Extensions) VehicleState(vehicleID model.VehicleID) ExtVehicle {
	return e.Vehicles.Get(vehicleID)
}
