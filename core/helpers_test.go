package core

import (
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/signalsfoundry/roadnet-ext/kb"
	"github.com/signalsfoundry/roadnet-ext/model"
)

var testCaps = Capacities{MaxSegments: 128, MaxNodes: 64, MaxVehicles: 64}

type stubMetrics struct {
	mu        sync.Mutex
	settles   []SettleStats
	corrupted map[string]int
	anomalies map[string]int
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{corrupted: map[string]int{}, anomalies: map[string]int{}}
}

func (s *stubMetrics) RecordSettle(stats SettleStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settles = append(s.settles, stats)
}

func (s *stubMetrics) RecordCorruptedList(structure string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupted[structure]++
}

func (s *stubMetrics) RecordVehicleAnomaly(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies[kind]++
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

// updateLog collects geometry updates in delivery order.
type updateLog struct {
	updates []GeometryUpdate
}

func (l *updateLog) record(u GeometryUpdate) {
	if u.Segment != nil {
		seg := *u.Segment
		u.Segment = &seg
	}
	if u.Replacement != nil {
		r := *u.Replacement
		u.Replacement = &r
	}
	l.updates = append(l.updates, u)
}

func (l *updateLog) count(kind UpdateKind) int {
	n := 0
	for _, u := range l.updates {
		if u.Kind() == kind {
			n++
		}
	}
	return n
}

func (l *updateLog) segments(id model.SegmentID) []ExtSegment {
	var res []ExtSegment
	for _, u := range l.updates {
		if u.Segment != nil && u.Segment.SegmentID == id {
			res = append(res, *u.Segment)
		}
	}
	return res
}

func (l *updateLog) nodes(id model.NodeID) int {
	n := 0
	for _, u := range l.updates {
		if u.Kind() == UpdateNode && u.NodeID == id {
			n++
		}
	}
	return n
}

func (l *updateLog) reset() { l.updates = nil }

func carLane(dir model.LaneDirection) model.Lane {
	return model.Lane{Type: model.LaneTypeVehicle, Categories: model.VehicleCategoryCar, Direction: dir}
}

func twoWayLanes() []model.Lane {
	return []model.Lane{carLane(model.LaneDirectionForward), carLane(model.LaneDirectionBackward)}
}

// newTestNetwork builds four nodes on a square:
//
//	4 --- 3
//	|     |
//	1 --- 2
func newTestNetwork(t *testing.T) *kb.RoadNetwork {
	t.Helper()
	rn := kb.NewRoadNetwork(testCaps.MaxSegments, testCaps.MaxNodes, testCaps.MaxVehicles)
	for _, n := range []model.Node{
		{ID: 1, Position: orb.Point{0, 0}},
		{ID: 2, Position: orb.Point{100, 0}},
		{ID: 3, Position: orb.Point{100, 100}},
		{ID: 4, Position: orb.Point{0, 100}},
	} {
		if err := rn.AddNode(n); err != nil {
			t.Fatalf("AddNode(%d) error: %v", n.ID, err)
		}
	}
	return rn
}

func addSegment(t *testing.T, rn *kb.RoadNetwork, id model.SegmentID, start, end model.NodeID, lanes []model.Lane) {
	t.Helper()
	if err := rn.AddSegment(model.Segment{ID: id, StartNode: start, EndNode: end, Lanes: lanes}); err != nil {
		t.Fatalf("AddSegment(%d) error: %v", id, err)
	}
}

func addVehicle(t *testing.T, rn *kb.RoadNetwork, v model.Vehicle) model.Vehicle {
	t.Helper()
	if err := rn.AddVehicle(v); err != nil {
		t.Fatalf("AddVehicle(%d) error: %v", v.ID, err)
	}
	return v
}

func newTestExtensions(t *testing.T, net Network, opts ...Option) (*Extensions, *stubMetrics) {
	t.Helper()
	metrics := newStubMetrics()
	opts = append([]Option{WithMetricsRecorder(metrics)}, opts...)
	return NewExtensions(net, testCaps, opts...), metrics
}

// placeVehicle creates, spawns and positions v on end.
func placeVehicle(e *Extensions, v model.Vehicle, end model.SegmentEndID, lane uint8) {
	e.VehicleCreated(v)
	e.VehicleSpawned(v)
	e.VehiclePositionUpdated(v, end,
		model.PathPosition{Segment: end.Segment(), Lane: lane},
		model.PathPosition{})
}
