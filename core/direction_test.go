package core

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/signalsfoundry/roadnet-ext/model"
)

func TestClassifyDirection(t *testing.T) {
	// Source segment leaves the node southwards; traffic arrives heading north.
	source := orb.Point{0, -1}
	for _, tc := range []struct {
		name   string
		target orb.Point
		want   ArrowDirection
	}{
		{"straight", orb.Point{0, 1}, ArrowForward},
		{"slight bend", orb.Point{0.3, 1}, ArrowForward},
		{"east", orb.Point{1, 0}, ArrowRight},
		{"west", orb.Point{-1, 0}, ArrowLeft},
		{"back along source", orb.Point{0, -1}, ArrowTurn},
		{"sharp right", orb.Point{0.2, -1}, ArrowRight},
		{"sharp left", orb.Point{-0.2, -1}, ArrowLeft},
		{"scaled", orb.Point{0, 250}, ArrowForward},
	} {
		if got := ClassifyDirection(source, tc.target); got != tc.want {
			t.Fatalf("%s: ClassifyDirection(%v, %v) = %v, want %v", tc.name, source, tc.target, got, tc.want)
		}
	}
}

func TestClassifyTurnBoundaries(t *testing.T) {
	below := math.Nextafter(turnSectorCross, 0)
	for _, tc := range []struct {
		name  string
		cross float64
		dot   float64
		want  ArrowDirection
	}{
		{"left edge ahead", 0.5, -0.8, ArrowLeft},
		{"right edge ahead", -0.5, -0.8, ArrowRight},
		{"left edge behind", 0.5, 0.8, ArrowLeft},
		{"right edge behind", -0.5, 0.8, ArrowRight},
		{"just inside left cone", below, -0.8, ArrowForward},
		{"just inside right cone", -below, -0.8, ArrowForward},
		{"just inside left rear cone", below, 0.8, ArrowLeft},
		{"just inside right rear cone", -below, 0.8, ArrowRight},
		{"square", 0, 0, ArrowForward},
		{"dead ahead", 0, -1, ArrowForward},
		{"dead behind", 0, 1, ArrowTurn},
		{"barely behind", 0, math.SmallestNonzeroFloat64, ArrowTurn},
	} {
		if got := classifyTurn(tc.cross, tc.dot); got != tc.want {
			t.Fatalf("%s: classifyTurn(%v, %v) = %v, want %v", tc.name, tc.cross, tc.dot, got, tc.want)
		}
	}
}

func TestClassifyDirectionAroundSectorEdges(t *testing.T) {
	// Heading north; a target at angle a from straight ahead sits at
	// (-sin a, cos a) on the left and (sin a, cos a) on the right.
	source := orb.Point{0, -1}
	at := func(deg float64, left, behind bool) orb.Point {
		r := deg * math.Pi / 180
		x, y := math.Sin(r), math.Cos(r)
		if left {
			x = -x
		}
		if behind {
			y = -y
		}
		return orb.Point{x, y}
	}
	for _, tc := range []struct {
		name   string
		target orb.Point
		want   ArrowDirection
	}{
		{"29 left", at(29, true, false), ArrowForward},
		{"31 left", at(31, true, false), ArrowLeft},
		{"29 right", at(29, false, false), ArrowForward},
		{"31 right", at(31, false, false), ArrowRight},
		{"149 left", at(31, true, true), ArrowLeft},
		{"151 left", at(29, true, true), ArrowLeft},
		{"151 right", at(29, false, true), ArrowRight},
		{"179 right", at(1, false, true), ArrowRight},
	} {
		if got := ClassifyDirection(source, tc.target); got != tc.want {
			t.Fatalf("%s: ClassifyDirection(%v, %v) = %v, want %v", tc.name, source, tc.target, got, tc.want)
		}
	}
}

func TestSegmentEndDirection(t *testing.T) {
	// Node 2 at (100,0): segment 1 goes west to node 1, segment 2 north to
	// node 3, segment 3 east to node 5.
	rn := newTestNetwork(t)
	if err := rn.AddNode(model.Node{ID: 5, Position: orb.Point{200, 0}}); err != nil {
		t.Fatalf("AddNode error: %v", err)
	}
	addSegment(t, rn, 1, 1, 2, twoWayLanes())
	addSegment(t, rn, 2, 2, 3, twoWayLanes())
	addSegment(t, rn, 3, 2, 5, twoWayLanes())
	e, _ := newTestExtensions(t, rn)
	e.Load(t.Context())

	// Arriving at node 2 from segment 1 heads east.
	source := model.NewSegmentEndID(1, false)
	if got := e.SegmentEnds.Direction(source, 3); got != ArrowForward {
		t.Fatalf("Direction(1->3) = %v, want forward", got)
	}
	if got := e.SegmentEnds.Direction(source, 1); got != ArrowTurn {
		t.Fatalf("Direction(1->1) = %v, want turn", got)
	}
	if got := e.SegmentEnds.Direction(source, 99); got != ArrowNone {
		t.Fatalf("Direction(1->99) = %v, want none", got)
	}
	// Eastbound traffic turning north bears left.
	if got := e.SegmentEnds.Direction(source, 2); got != ArrowLeft {
		t.Fatalf("Direction(1->2) = %v, want left", got)
	}
	// Segment 2 does not touch node 5.
	if got := e.SegmentEnds.Direction(model.NewSegmentEndID(3, false), 2); got != ArrowNone {
		t.Fatalf("Direction(3@end->2) = %v, want none", got)
	}
}
