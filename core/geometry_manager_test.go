package core

import (
	"testing"

	"github.com/signalsfoundry/roadnet-ext/model"
)

func TestSettlePublishesOncePerEntity(t *testing.T) {
	rn := newTestNetwork(t)
	addSegment(t, rn, 1, 1, 2, twoWayLanes())
	e, metrics := newTestExtensions(t, rn)

	var log updateLog
	e.Subscribe(log.record)

	for range 3 {
		e.SegmentTopologyChanged(1)
	}
	stats := e.Geometry.Settle(t.Context())

	if got := len(log.segments(1)); got != 1 {
		t.Fatalf("segment 1 notifications = %d, want 1", got)
	}
	if log.nodes(1) != 1 || log.nodes(2) != 1 {
		t.Fatalf("node notifications = %d/%d, want 1/1", log.nodes(1), log.nodes(2))
	}
	if stats.Segments != 1 || stats.Nodes != 2 || stats.Pending {
		t.Fatalf("stats = %+v, want 1 segment, 2 nodes, not pending", stats)
	}
	if e.Geometry.Dirty() {
		t.Fatalf("Dirty() = true after settle")
	}

	// A second settle without new marks publishes nothing.
	log.reset()
	if stats := e.Geometry.Settle(t.Context()); stats.Notifications() != 0 || len(log.updates) != 0 {
		t.Fatalf("idle settle published %d updates", len(log.updates))
	}
	if len(metrics.settles) == 0 {
		t.Fatalf("settle metrics not recorded")
	}
}

func TestInvalidationsPublishedBeforeReplacements(t *testing.T) {
	rn := newTestNetwork(t)
	addSegment(t, rn, 1, 1, 2, twoWayLanes())
	e, _ := newTestExtensions(t, rn)
	e.Load(t.Context())

	var log updateLog
	e.Subscribe(log.record)

	e.Geometry.MarkNodeUpdated(3)
	e.Geometry.EnqueueReplacement(SegmentEndReplacement{
		Old: model.NewSegmentEndID(7, true),
		New: model.NewSegmentEndID(8, true),
	})
	e.Geometry.MarkNodeUpdated(4)
	if err := rn.ReleaseNode(4); err != nil {
		t.Fatalf("ReleaseNode error: %v", err)
	}

	e.Geometry.Settle(t.Context())

	if len(log.updates) != 3 {
		t.Fatalf("updates = %d, want 3", len(log.updates))
	}
	first, second, third := log.updates[0], log.updates[1], log.updates[2]
	if first.Kind() != UpdateNode || first.NodeID != 4 {
		t.Fatalf("first update = %v/%d, want invalid node 4", first.Kind(), first.NodeID)
	}
	if second.Kind() != UpdateNode || second.NodeID != 3 {
		t.Fatalf("second update = %v/%d, want node 3", second.Kind(), second.NodeID)
	}
	if third.Kind() != UpdateReplacement {
		t.Fatalf("third update = %v, want replacement", third.Kind())
	}
}

func TestReplacementsDrainInFIFOOrder(t *testing.T) {
	rn := newTestNetwork(t)
	e, _ := newTestExtensions(t, rn)

	var log updateLog
	e.Subscribe(log.record)

	for i := model.SegmentID(1); i <= 3; i++ {
		e.Geometry.EnqueueReplacement(SegmentEndReplacement{
			Old: model.NewSegmentEndID(i, true),
			New: model.NewSegmentEndID(i+10, true),
		})
	}
	if got := e.Geometry.PendingReplacements(); got != 3 {
		t.Fatalf("PendingReplacements() = %d, want 3", got)
	}
	e.Geometry.Settle(t.Context())

	for i, u := range log.updates {
		if u.Replacement == nil || u.Replacement.Old.Segment() != model.SegmentID(i+1) {
			t.Fatalf("update %d = %+v, want replacement of segment %d", i, u, i+1)
		}
	}
	if got := e.Geometry.PendingReplacements(); got != 0 {
		t.Fatalf("PendingReplacements() after settle = %d, want 0", got)
	}
}

func TestSettleDeferredWhileTopologyUpdating(t *testing.T) {
	rn := newTestNetwork(t)
	addSegment(t, rn, 1, 1, 2, twoWayLanes())
	e, _ := newTestExtensions(t, rn)

	var log updateLog
	e.Subscribe(log.record)

	rn.SetTopologyUpdating(true)
	e.SegmentTopologyChanged(1)
	if stats := e.Geometry.Settle(t.Context()); stats.Notifications() != 0 {
		t.Fatalf("settle during topology update published %d updates", stats.Notifications())
	}
	if !e.Geometry.Dirty() {
		t.Fatalf("Dirty() = false while work is deferred")
	}

	rn.SetTopologyUpdating(false)
	e.SimulationStep(t.Context())
	if got := len(log.segments(1)); got != 1 {
		t.Fatalf("segment 1 notifications after step = %d, want 1", got)
	}
}

func TestFirstPassOnlyKeepsValidPending(t *testing.T) {
	rn := newTestNetwork(t)
	addSegment(t, rn, 1, 1, 2, twoWayLanes())
	e, _ := newTestExtensions(t, rn)

	var log updateLog
	e.Subscribe(log.record)

	e.Geometry.MarkNodeUpdated(2)
	if err := rn.ReleaseNode(3); err != nil {
		t.Fatalf("ReleaseNode error: %v", err)
	}
	// Marking an invalid node settles the first pass immediately.
	e.Geometry.MarkNodeUpdated(3)

	if len(log.updates) != 1 || log.updates[0].NodeID != 3 {
		t.Fatalf("updates = %+v, want only node 3", log.updates)
	}
	if !e.Geometry.Dirty() {
		t.Fatalf("Dirty() = false with node 2 still pending")
	}
	e.Geometry.Settle(t.Context())
	if log.nodes(2) != 1 {
		t.Fatalf("node 2 notifications = %d, want 1", log.nodes(2))
	}
}

func TestNodeInvalidatedMidSettleStaysPending(t *testing.T) {
	rn := newTestNetwork(t)
	e, _ := newTestExtensions(t, rn)

	var log updateLog
	e.Subscribe(log.record)
	// Releasing node 1 while node 3's invalidation is delivered leaves node 1
	// dirty and invalid when the second pass reaches it.
	e.Subscribe(func(u GeometryUpdate) {
		if u.Kind() == UpdateNode && u.NodeID == 3 && rn.IsNodeValid(1) {
			if err := rn.ReleaseNode(1); err != nil {
				t.Errorf("ReleaseNode error: %v", err)
			}
		}
	})

	e.Geometry.MarkNodeUpdated(1)
	e.Geometry.MarkNodeUpdated(3)
	e.Geometry.EnqueueReplacement(SegmentEndReplacement{
		Old: model.NewSegmentEndID(5, true),
		New: model.NewSegmentEndID(6, true),
	})
	if err := rn.ReleaseNode(3); err != nil {
		t.Fatalf("ReleaseNode error: %v", err)
	}

	stats := e.Geometry.Settle(t.Context())
	if !stats.Pending || stats.Nodes != 1 || stats.Replacements != 0 {
		t.Fatalf("stats = %+v, want node 3 only, pending, no replacements", stats)
	}
	if got := log.count(UpdateReplacement); got != 0 {
		t.Fatalf("replacements published = %d, want 0", got)
	}
	if log.nodes(1) != 0 {
		t.Fatalf("node 1 published while pending")
	}
	if !e.Geometry.Dirty() {
		t.Fatalf("Dirty() = false with node 1 pending")
	}
	if got := e.Geometry.PendingReplacements(); got != 1 {
		t.Fatalf("PendingReplacements() = %d, want 1", got)
	}

	stats = e.Geometry.Settle(t.Context())
	if stats.Pending || stats.Nodes != 1 || stats.Replacements != 1 {
		t.Fatalf("retry stats = %+v, want node 1 and the replacement", stats)
	}
	if log.nodes(1) != 1 || log.count(UpdateReplacement) != 1 {
		t.Fatalf("retry published node 1 %d times and %d replacements", log.nodes(1), log.count(UpdateReplacement))
	}
	if e.Geometry.Dirty() {
		t.Fatalf("Dirty() = true after the retry drained")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	rn := newTestNetwork(t)
	e, _ := newTestExtensions(t, rn)

	var a, b updateLog
	subA := e.Subscribe(a.record)
	e.Subscribe(b.record)

	e.Geometry.MarkNodeUpdated(1)
	e.Geometry.Settle(t.Context())

	subA.Unsubscribe()
	subA.Unsubscribe()

	e.Geometry.MarkNodeUpdated(2)
	e.Geometry.Settle(t.Context())

	if len(a.updates) != 1 {
		t.Fatalf("unsubscribed observer got %d updates, want 1", len(a.updates))
	}
	if len(b.updates) != 2 {
		t.Fatalf("remaining observer got %d updates, want 2", len(b.updates))
	}
}

func TestMarkAllUpdated(t *testing.T) {
	rn := newTestNetwork(t)
	addSegment(t, rn, 1, 1, 2, twoWayLanes())
	addSegment(t, rn, 2, 2, 3, twoWayLanes())
	e, _ := newTestExtensions(t, rn)
	e.Load(t.Context())

	var log updateLog
	e.Subscribe(log.record)

	e.Geometry.MarkAllUpdated()
	stats := e.Geometry.Settle(t.Context())
	if stats.Segments != 2 || stats.Nodes != 4 {
		t.Fatalf("stats = %+v, want 2 segments and 4 nodes", stats)
	}
}

func TestUpdateKind(t *testing.T) {
	seg := ExtSegment{SegmentID: 1}
	r := SegmentEndReplacement{}
	for _, tc := range []struct {
		u    GeometryUpdate
		want UpdateKind
	}{
		{GeometryUpdate{Segment: &seg}, UpdateSegment},
		{GeometryUpdate{NodeID: 4}, UpdateNode},
		{GeometryUpdate{Replacement: &r}, UpdateReplacement},
	} {
		if got := tc.u.Kind(); got != tc.want {
			t.Fatalf("Kind() = %v, want %v", got, tc.want)
		}
	}
}
