package core

import (
	"fmt"

	"github.com/signalsfoundry/roadnet-ext/model"
)

// ExtSegment holds the classification derived from a segment's configuration.
// It is reset and rebuilt on every recalculation.
type ExtSegment struct {
	SegmentID  model.SegmentID
	Valid      bool
	OneWay     bool
	Highway    bool
	HasBusLane bool
}

// SegmentFlag selects one classification of an ExtSegment.
type SegmentFlag uint8

const (
	SegmentFlagOneWay SegmentFlag = iota + 1
	SegmentFlagHighway
	SegmentFlagBusLane
)

// ExtSegmentStore caches ExtSegment records for every segment slot.
type ExtSegmentStore struct {
	net      Network
	caps     Capacities
	segments []ExtSegment

	ends     *ExtSegmentEndStore
	geometry *GeometryManager
}

func newExtSegmentStore(net Network, caps Capacities) *ExtSegmentStore {
	s := &ExtSegmentStore{
		net:      net,
		caps:     caps,
		segments: make([]ExtSegment, caps.MaxSegments),
	}
	for i := range s.segments {
		s.segments[i].SegmentID = model.SegmentID(i)
	}
	return s
}

// Recalculate rebuilds the record for segmentID from the simulation and
// cascades into both segment ends before publishing a geometry update. It
// reports whether the segment and its endpoint nodes were marked.
func (s *ExtSegmentStore) Recalculate(segmentID model.SegmentID) bool {
	if !s.caps.segmentInRange(segmentID) {
		return false
	}
	seg := &s.segments[segmentID]

	if !s.net.IsSegmentValid(segmentID) {
		if !seg.Valid {
			return false
		}
		s.reset(seg)
		seg.Valid = false
		s.recalculateEnds(segmentID)
		s.geometry.MarkSegmentUpdated(*seg)
		return true
	}

	s.reset(seg)
	raw := s.net.Segment(segmentID)
	seg.Valid = true
	seg.OneWay = IsOneWay(raw.Lanes)
	seg.Highway = raw.Class.Highway
	seg.HasBusLane = HasBusLane(raw.Lanes)

	s.recalculateEnds(segmentID)
	s.geometry.MarkSegmentUpdated(*seg)
	return true
}

func (s *ExtSegmentStore) recalculateEnds(segmentID model.SegmentID) {
	s.ends.Recalculate(segmentID, true)
	s.ends.Recalculate(segmentID, false)
}

func (s *ExtSegmentStore) reset(seg *ExtSegment) {
	*seg = ExtSegment{SegmentID: seg.SegmentID}
}

func (s *ExtSegmentStore) resetAll() {
	for i := range s.segments {
		s.reset(&s.segments[i])
	}
}

// Get returns a copy of the record for segmentID. Out-of-range ids yield an
// invalid zero record.
func (s *ExtSegmentStore) Get(segmentID model.SegmentID) ExtSegment {
	if !s.caps.segmentInRange(segmentID) {
		return ExtSegment{SegmentID: segmentID}
	}
	return s.segments[segmentID]
}

// IsValid reports whether the last recalculation found the segment alive.
func (s *ExtSegmentStore) IsValid(segmentID model.SegmentID) bool {
	return s.Get(segmentID).Valid
}

// Classification returns a single flag of the segment's classification.
func (s *ExtSegmentStore) Classification(segmentID model.SegmentID, flag SegmentFlag) (bool, error) {
	seg := s.Get(segmentID)
	switch flag {
	case SegmentFlagOneWay:
		return seg.OneWay, nil
	case SegmentFlagHighway:
		return seg.Highway, nil
	case SegmentFlagBusLane:
		return seg.HasBusLane, nil
	default:
		return false, fmt.Errorf("%w: segment flag %d", ErrInvalidArgument, flag)
	}
}

// IsVehicleLane reports whether road vehicles registered at segment ends can
// drive on lane.
func IsVehicleLane(lane model.Lane) bool {
	if lane.Type&(model.LaneTypeVehicle|model.LaneTypeTransportVehicle) == 0 {
		return false
	}
	return lane.Categories&model.VehicleCategoryRoadVehicles != 0
}

// IsOneWay reports whether vehicle traffic flows in at most one direction
// over the given lanes. A lane carrying both directions makes the segment
// two-way on its own.
func IsOneWay(lanes []model.Lane) bool {
	var forward, backward bool
	for _, lane := range lanes {
		if !IsVehicleLane(lane) {
			continue
		}
		if lane.Direction&model.LaneDirectionForward != 0 {
			forward = true
		}
		if lane.Direction&model.LaneDirectionBackward != 0 {
			backward = true
		}
		if forward && backward {
			return false
		}
	}
	return true
}

// HasBusLane reports whether any lane is a dedicated transport lane usable by
// road vehicles.
func HasBusLane(lanes []model.Lane) bool {
	for _, lane := range lanes {
		if lane.Type&model.LaneTypeTransportVehicle != 0 && lane.Categories&model.VehicleCategoryCar != 0 {
			return true
		}
	}
	return false
}
