package core

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/signalsfoundry/roadnet-ext/model"
)

// ArrowDirection is the turn a vehicle makes from a source segment end into
// a target segment at the same node.
type ArrowDirection uint8

const (
	ArrowNone ArrowDirection = iota
	ArrowLeft
	ArrowForward
	ArrowRight
	ArrowTurn
)

func (d ArrowDirection) String() string {
	switch d {
	case ArrowLeft:
		return "left"
	case ArrowForward:
		return "forward"
	case ArrowRight:
		return "right"
	case ArrowTurn:
		return "turn"
	default:
		return "none"
	}
}

// Sector boundary: |cross| >= 0.5 is sin(30°).
const turnSectorCross = 0.5

// Direction classifies the turn from source into targetSegmentID. Both
// facing vectors point away from the shared node.
func (s *ExtSegmentEndStore) Direction(source model.SegmentEndID, targetSegmentID model.SegmentID) ArrowDirection {
	end := s.Get(source)
	if end.NodeID == 0 || !s.net.IsSegmentValid(targetSegmentID) {
		return ArrowNone
	}
	if targetSegmentID == end.SegmentID {
		return ArrowTurn
	}
	sourceDir, ok := s.net.SegmentDirection(end.SegmentID, end.NodeID)
	if !ok {
		return ArrowNone
	}
	targetDir, ok := s.net.SegmentDirection(targetSegmentID, end.NodeID)
	if !ok {
		return ArrowNone
	}
	return ClassifyDirection(sourceDir, targetDir)
}

// ClassifyDirection maps two facing vectors to an arrow direction.
//
// cross is the planar y-component of source x target in a left-handed
// frame, positive when the target lies left of the approach heading.
func ClassifyDirection(source, target orb.Point) ArrowDirection {
	source = normalize(source)
	target = normalize(target)

	cross := source[1]*target[0] - source[0]*target[1]
	dot := source[0]*target[0] + source[1]*target[1]
	return classifyTurn(cross, dot)
}

// classifyTurn applies the sector thresholds to unit vectors: cross >= 0.5
// is Left, cross <= -0.5 is Right. Inside the ±30° cones the target is
// straight ahead when dot <= 0; otherwise it is behind and the sign of cross
// picks Left, Right or Turn.
func classifyTurn(cross, dot float64) ArrowDirection {
	if cross >= turnSectorCross {
		return ArrowLeft
	}
	if cross <= -turnSectorCross {
		return ArrowRight
	}
	if dot > 0 {
		switch {
		case cross > 0:
			return ArrowLeft
		case cross < 0:
			return ArrowRight
		default:
			return ArrowTurn
		}
	}
	return ArrowForward
}

func normalize(p orb.Point) orb.Point {
	n := planar.Distance(orb.Point{}, p)
	if n == 0 {
		return p
	}
	return orb.Point{p[0] / n, p[1] / n}
}
