package core

import (
	"sync"
	"testing"

	"github.com/signalsfoundry/roadnet-ext/model"
)

func TestLoadPublishesEverything(t *testing.T) {
	rn := newTestNetwork(t)
	addSegment(t, rn, 1, 1, 2, twoWayLanes())
	addSegment(t, rn, 2, 2, 3, []model.Lane{carLane(model.LaneDirectionForward)})
	e, _ := newTestExtensions(t, rn)

	var log updateLog
	e.Subscribe(log.record)

	stats := e.Load(t.Context())
	if stats.Segments != 2 || stats.Nodes != 4 || stats.Replacements != 0 {
		t.Fatalf("Load() stats = %+v, want 2 segments, 4 nodes", stats)
	}
	if !e.IsSegmentValid(1) || !e.IsSegmentValid(2) || e.IsSegmentValid(3) {
		t.Fatalf("segment validity after Load wrong")
	}
	if ids := e.Nodes.SegmentIDs(2); len(ids) != 2 {
		t.Fatalf("node 2 segments = %v, want [1 2]", ids)
	}
	if e.Geometry.Dirty() {
		t.Fatalf("Dirty() = true after Load")
	}
}

func TestUnloadResetsState(t *testing.T) {
	rn := newTestNetwork(t)
	addSegment(t, rn, 1, 1, 2, twoWayLanes())
	e, _ := newTestExtensions(t, rn)
	e.Load(t.Context())

	var log updateLog
	e.Subscribe(log.record)
	placeVehicle(e, addVehicle(t, rn, model.Vehicle{ID: 1, Length: 4}), model.NewSegmentEndID(1, true), 0)

	e.Unload()

	if e.IsSegmentValid(1) {
		t.Fatalf("IsSegmentValid(1) = true after Unload")
	}
	if rec := e.VehicleState(1); rec.Lifecycle() != LifecycleReleased || rec.Linked() {
		t.Fatalf("vehicle record after Unload = %+v", rec)
	}
	if head := e.VehicleRegistryHead(1, true); head != 0 {
		t.Fatalf("registry head after Unload = %d", head)
	}

	e.Load(t.Context())
	if len(log.updates) != 0 {
		t.Fatalf("subscriber survived Unload: %d updates", len(log.updates))
	}
	if !e.IsSegmentValid(1) {
		t.Fatalf("IsSegmentValid(1) = false after reload")
	}
}

func TestNodeTopologyChangedRecalculatesSegments(t *testing.T) {
	rn := newTestNetwork(t)
	addSegment(t, rn, 1, 1, 2, []model.Lane{carLane(model.LaneDirectionForward)})
	e, _ := newTestExtensions(t, rn)
	e.Load(t.Context())

	if err := rn.UpdateSegment(model.Segment{ID: 1, StartNode: 1, EndNode: 2, Lanes: twoWayLanes()}); err != nil {
		t.Fatalf("UpdateSegment error: %v", err)
	}
	e.NodeTopologyChanged(2)
	if e.Classification(1).OneWay {
		t.Fatalf("segment 1 not recalculated through its node")
	}
}

func TestWithReadLockExcludesWriters(t *testing.T) {
	rn := newTestNetwork(t)
	addSegment(t, rn, 1, 1, 2, twoWayLanes())
	e, _ := newTestExtensions(t, rn)
	e.Load(t.Context())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 200 {
			e.SegmentTopologyChanged(1)
			e.SimulationStep(t.Context())
		}
	}()
	for range 200 {
		_ = e.WithReadLock(func() error {
			if !e.IsSegmentValid(1) {
				t.Errorf("segment 1 observed invalid mid-recalculation")
			}
			return nil
		})
	}
	wg.Wait()
}

func TestSimulationStepConcurrentWithTopologyChanges(t *testing.T) {
	rn := newTestNetwork(t)
	addSegment(t, rn, 1, 1, 2, twoWayLanes())
	e, _ := newTestExtensions(t, rn)
	e.Load(t.Context())

	var published int
	e.Subscribe(func(u GeometryUpdate) {
		if u.Segment != nil && u.Segment.SegmentID == 1 {
			published++
		}
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 2000 {
			e.SegmentTopologyChanged(1)
		}
	}()
	go func() {
		defer wg.Done()
		for range 2000 {
			e.SimulationStep(t.Context())
		}
	}()
	wg.Wait()

	e.SimulationStep(t.Context())
	if e.Geometry.Dirty() {
		t.Fatalf("Dirty() = true after the final step")
	}
	if !e.IsSegmentValid(1) {
		t.Fatalf("segment 1 invalid after concurrent recalculation")
	}
	if published == 0 {
		t.Fatalf("segment 1 never published")
	}
}

func TestDefaultsApplied(t *testing.T) {
	e := NewExtensions(newTestNetwork(t), Capacities{})
	if got := e.Capacities(); got != DefaultCapacities() {
		t.Fatalf("Capacities() = %v, want defaults", got)
	}
	if !e.opts.RegistryEnabled() {
		t.Fatalf("registry disabled by default")
	}
}
