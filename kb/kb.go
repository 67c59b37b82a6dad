// Package kb holds RoadNetwork, an in-memory stand-in for the authoritative
// traffic simulation. It owns the raw segment, node and vehicle slots and
// publishes an event for every edit.
package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/signalsfoundry/roadnet-ext/model"
)

// EventType indicates what kind of change happened in the network.
type EventType int

const (
	EventSegmentChanged EventType = iota
	EventNodeChanged
	EventVehicleCreated
	EventVehicleReleased
)

func (t EventType) String() string {
	switch t {
	case EventSegmentChanged:
		return "segment_changed"
	case EventNodeChanged:
		return "node_changed"
	case EventVehicleCreated:
		return "vehicle_created"
	case EventVehicleReleased:
		return "vehicle_released"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is emitted to subscribers after an edit has been applied.
type Event struct {
	Type    EventType
	Segment model.SegmentID
	Node    model.NodeID
	Vehicle model.VehicleID
}

var (
	ErrOutOfRange = errors.New("kb: id out of range")
	ErrExists     = errors.New("kb: slot already in use")
	ErrNotFound   = errors.New("kb: slot not in use")
)

// RoadNetwork is a thread-safe store of fixed-size segment, node and vehicle
// slots. Released segments keep their node ids.
type RoadNetwork struct {
	mu sync.RWMutex

	segments     []model.Segment
	segmentValid []bool
	nodes        []model.Node
	nodeValid    []bool
	vehicles     []model.Vehicle
	vehicleValid []bool

	updating bool

	subs   map[int]func(Event)
	nextID int
}

// NewRoadNetwork constructs an empty network with the given slot counts.
// Slot 0 of every kind is reserved as the none id.
func NewRoadNetwork(maxSegments, maxNodes, maxVehicles int) *RoadNetwork {
	return &RoadNetwork{
		segments:     make([]model.Segment, maxSegments),
		segmentValid: make([]bool, maxSegments),
		nodes:        make([]model.Node, maxNodes),
		nodeValid:    make([]bool, maxNodes),
		vehicles:     make([]model.Vehicle, maxVehicles),
		vehicleValid: make([]bool, maxVehicles),
		subs:         make(map[int]func(Event)),
	}
}

// AddNode creates node n.ID.
func (rn *RoadNetwork) AddNode(n model.Node) error {
	rn.mu.Lock()
	if n.ID == 0 || int(n.ID) >= len(rn.nodes) {
		rn.mu.Unlock()
		return fmt.Errorf("%w: node %d", ErrOutOfRange, n.ID)
	}
	if rn.nodeValid[n.ID] {
		rn.mu.Unlock()
		return fmt.Errorf("%w: node %d", ErrExists, n.ID)
	}
	rn.nodes[n.ID] = n
	rn.nodeValid[n.ID] = true
	rn.mu.Unlock()

	rn.publish(Event{Type: EventNodeChanged, Node: n.ID})
	return nil
}

// ReleaseNode marks node id invalid. Segments still attached to it are left
// alone; callers release them first.
func (rn *RoadNetwork) ReleaseNode(id model.NodeID) error {
	rn.mu.Lock()
	if !rn.nodeInUseLocked(id) {
		rn.mu.Unlock()
		return fmt.Errorf("%w: node %d", ErrNotFound, id)
	}
	rn.nodeValid[id] = false
	rn.mu.Unlock()

	rn.publish(Event{Type: EventNodeChanged, Node: id})
	return nil
}

// AddSegment creates segment s.ID between two existing nodes.
func (rn *RoadNetwork) AddSegment(s model.Segment) error {
	rn.mu.Lock()
	if s.ID == 0 || int(s.ID) >= len(rn.segments) {
		rn.mu.Unlock()
		return fmt.Errorf("%w: segment %d", ErrOutOfRange, s.ID)
	}
	if rn.segmentValid[s.ID] {
		rn.mu.Unlock()
		return fmt.Errorf("%w: segment %d", ErrExists, s.ID)
	}
	if err := rn.checkEndpointsLocked(s); err != nil {
		rn.mu.Unlock()
		return err
	}
	rn.segments[s.ID] = cloneSegment(s)
	rn.segmentValid[s.ID] = true
	rn.mu.Unlock()

	rn.publish(Event{Type: EventSegmentChanged, Segment: s.ID})
	return nil
}

// UpdateSegment replaces the record of an existing segment. Endpoints may
// change, which moves the segment's ends to other nodes.
func (rn *RoadNetwork) UpdateSegment(s model.Segment) error {
	rn.mu.Lock()
	if !rn.segmentInUseLocked(s.ID) {
		rn.mu.Unlock()
		return fmt.Errorf("%w: segment %d", ErrNotFound, s.ID)
	}
	if err := rn.checkEndpointsLocked(s); err != nil {
		rn.mu.Unlock()
		return err
	}
	rn.segments[s.ID] = cloneSegment(s)
	rn.mu.Unlock()

	rn.publish(Event{Type: EventSegmentChanged, Segment: s.ID})
	return nil
}

// ReleaseSegment marks segment id invalid. The slot keeps its node ids.
func (rn *RoadNetwork) ReleaseSegment(id model.SegmentID) error {
	rn.mu.Lock()
	if !rn.segmentInUseLocked(id) {
		rn.mu.Unlock()
		return fmt.Errorf("%w: segment %d", ErrNotFound, id)
	}
	rn.segmentValid[id] = false
	rn.mu.Unlock()

	rn.publish(Event{Type: EventSegmentChanged, Segment: id})
	return nil
}

// AddVehicle creates vehicle v.ID.
func (rn *RoadNetwork) AddVehicle(v model.Vehicle) error {
	rn.mu.Lock()
	if v.ID == 0 || int(v.ID) >= len(rn.vehicles) {
		rn.mu.Unlock()
		return fmt.Errorf("%w: vehicle %d", ErrOutOfRange, v.ID)
	}
	if rn.vehicleValid[v.ID] {
		rn.mu.Unlock()
		return fmt.Errorf("%w: vehicle %d", ErrExists, v.ID)
	}
	rn.vehicles[v.ID] = v
	rn.vehicleValid[v.ID] = true
	rn.mu.Unlock()

	rn.publish(Event{Type: EventVehicleCreated, Vehicle: v.ID})
	return nil
}

// UpdateVehicle replaces the record of an existing vehicle without emitting
// an event. Movement is reported by the caller through its own channel.
func (rn *RoadNetwork) UpdateVehicle(v model.Vehicle) error {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if !rn.vehicleInUseLocked(v.ID) {
		return fmt.Errorf("%w: vehicle %d", ErrNotFound, v.ID)
	}
	rn.vehicles[v.ID] = v
	return nil
}

// ReleaseVehicle frees vehicle id.
func (rn *RoadNetwork) ReleaseVehicle(id model.VehicleID) error {
	rn.mu.Lock()
	if !rn.vehicleInUseLocked(id) {
		rn.mu.Unlock()
		return fmt.Errorf("%w: vehicle %d", ErrNotFound, id)
	}
	rn.vehicleValid[id] = false
	rn.vehicles[id] = model.Vehicle{}
	rn.mu.Unlock()

	rn.publish(Event{Type: EventVehicleReleased, Vehicle: id})
	return nil
}

// SetTopologyUpdating toggles the in-progress topology edit flag.
func (rn *RoadNetwork) SetTopologyUpdating(updating bool) {
	rn.mu.Lock()
	rn.updating = updating
	rn.mu.Unlock()
}

// TopologyUpdating reports whether a batch of topology edits is in progress.
func (rn *RoadNetwork) TopologyUpdating() bool {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	return rn.updating
}

// IsSegmentValid reports whether segment id is in use.
func (rn *RoadNetwork) IsSegmentValid(id model.SegmentID) bool {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	return rn.segmentInUseLocked(id)
}

// IsNodeValid reports whether node id is in use.
func (rn *RoadNetwork) IsNodeValid(id model.NodeID) bool {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	return rn.nodeInUseLocked(id)
}

// Segment returns a copy of the slot for id, valid or not. Out of range ids
// return the zero segment.
func (rn *RoadNetwork) Segment(id model.SegmentID) model.Segment {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	if int(id) >= len(rn.segments) {
		return model.Segment{}
	}
	return cloneSegment(rn.segments[id])
}

// Node returns the slot for id and whether it is in use.
func (rn *RoadNetwork) Node(id model.NodeID) (model.Node, bool) {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	if !rn.nodeInUseLocked(id) {
		return model.Node{}, false
	}
	return rn.nodes[id], true
}

// Vehicle returns the record for id and whether it is in use.
func (rn *RoadNetwork) Vehicle(id model.VehicleID) (model.Vehicle, bool) {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	if !rn.vehicleInUseLocked(id) {
		return model.Vehicle{}, false
	}
	return rn.vehicles[id], true
}

// SegmentDirection returns the facing vector of segment id at node, pointing
// into the segment. An explicit StartDirection or EndDirection wins over the
// node-to-node vector.
func (rn *RoadNetwork) SegmentDirection(id model.SegmentID, node model.NodeID) (orb.Point, bool) {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	if !rn.segmentInUseLocked(id) {
		return orb.Point{}, false
	}
	s := rn.segments[id]

	var override orb.Point
	var other model.NodeID
	switch node {
	case s.StartNode:
		override, other = s.StartDirection, s.EndNode
	case s.EndNode:
		override, other = s.EndDirection, s.StartNode
	default:
		return orb.Point{}, false
	}
	if override != (orb.Point{}) {
		return override, true
	}
	from, to := rn.nodes[node].Position, rn.nodes[other].Position
	return orb.Point{to[0] - from[0], to[1] - from[1]}, true
}

// SegmentIDs returns the ids of all valid segments in ascending order.
func (rn *RoadNetwork) SegmentIDs() []model.SegmentID {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	var res []model.SegmentID
	for i, ok := range rn.segmentValid {
		if ok {
			res = append(res, model.SegmentID(i))
		}
	}
	return res
}

// NodeIDs returns the ids of all valid nodes in ascending order.
func (rn *RoadNetwork) NodeIDs() []model.NodeID {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	var res []model.NodeID
	for i, ok := range rn.nodeValid {
		if ok {
			res = append(res, model.NodeID(i))
		}
	}
	return res
}

// SegmentsAt returns the valid segments that touch node, ascending.
func (rn *RoadNetwork) SegmentsAt(node model.NodeID) []model.SegmentID {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	var res []model.SegmentID
	for i, ok := range rn.segmentValid {
		if !ok {
			continue
		}
		if s := rn.segments[i]; s.StartNode == node || s.EndNode == node {
			res = append(res, model.SegmentID(i))
		}
	}
	return res
}

// Subscribe registers a callback for network events. It returns an
// unsubscribe function.
func (rn *RoadNetwork) Subscribe(fn func(Event)) (unsubscribe func()) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	id := rn.nextID
	rn.nextID++
	rn.subs[id] = fn

	return func() {
		rn.mu.Lock()
		defer rn.mu.Unlock()
		delete(rn.subs, id)
	}
}

// publish notifies subscribers outside the lock so they may read back.
func (rn *RoadNetwork) publish(ev Event) {
	rn.mu.RLock()
	ids := make([]int, 0, len(rn.subs))
	for id := range rn.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, rn.subs[id])
	}
	rn.mu.RUnlock()

	for _, sub := range subs {
		sub(ev)
	}
}

func (rn *RoadNetwork) checkEndpointsLocked(s model.Segment) error {
	if !rn.nodeInUseLocked(s.StartNode) {
		return fmt.Errorf("%w: start node %d of segment %d", ErrNotFound, s.StartNode, s.ID)
	}
	if !rn.nodeInUseLocked(s.EndNode) {
		return fmt.Errorf("%w: end node %d of segment %d", ErrNotFound, s.EndNode, s.ID)
	}
	return nil
}

func (rn *RoadNetwork) segmentInUseLocked(id model.SegmentID) bool {
	return id != 0 && int(id) < len(rn.segmentValid) && rn.segmentValid[id]
}

func (rn *RoadNetwork) nodeInUseLocked(id model.NodeID) bool {
	return id != 0 && int(id) < len(rn.nodeValid) && rn.nodeValid[id]
}

func (rn *RoadNetwork) vehicleInUseLocked(id model.VehicleID) bool {
	return id != 0 && int(id) < len(rn.vehicleValid) && rn.vehicleValid[id]
}

func cloneSegment(s model.Segment) model.Segment {
	s.Lanes = append([]model.Lane(nil), s.Lanes...)
	return s
}
