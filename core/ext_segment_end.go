package core

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/signalsfoundry/roadnet-ext/internal/logging"
	"github.com/signalsfoundry/roadnet-ext/model"
)

// ExtSegmentEnd holds the flow classification of one segment end and the head
// of the intrusive list of vehicles registered there. The list is threaded
// through ExtVehicle.PreviousVehicleIDOnSegment / NextVehicleIDOnSegment.
type ExtSegmentEnd struct {
	SegmentID      model.SegmentID
	StartEnd       bool
	NodeID         model.NodeID
	Incoming       bool
	Outgoing       bool
	FirstVehicleID model.VehicleID
}

// ID returns the packed segment end id of the record.
func (e ExtSegmentEnd) ID() model.SegmentEndID {
	return model.NewSegmentEndID(e.SegmentID, e.StartEnd)
}

// ExtSegmentEndStore owns one ExtSegmentEnd per segment end slot.
type ExtSegmentEndStore struct {
	net     Network
	caps    Capacities
	log     logging.Logger
	metrics MetricsRecorder

	ends []ExtSegmentEnd

	nodes    *ExtNodeStore
	vehicles *ExtVehicleStore
}

func newExtSegmentEndStore(net Network, caps Capacities, log logging.Logger, metrics MetricsRecorder) *ExtSegmentEndStore {
	s := &ExtSegmentEndStore{
		net:     net,
		caps:    caps,
		log:     log,
		metrics: metrics,
		ends:    make([]ExtSegmentEnd, caps.MaxSegments*2),
	}
	for i := range s.ends {
		id := model.SegmentEndID(i)
		s.ends[i] = ExtSegmentEnd{SegmentID: id.Segment(), StartEnd: id.StartEnd()}
	}
	return s
}

// Recalculate rebuilds the flow flags of one segment end, force-unlinks every
// vehicle still registered there and keeps the node adjacency in sync.
func (s *ExtSegmentEndStore) Recalculate(segmentID model.SegmentID, startEnd bool) {
	if !s.caps.segmentInRange(segmentID) {
		return
	}
	end := &s.ends[model.NewSegmentEndID(segmentID, startEnd)]
	priorNode := end.NodeID

	s.reset(end)

	if !s.net.IsSegmentValid(segmentID) {
		if priorNode != 0 {
			s.nodes.RemoveSegment(priorNode, segmentID, startEnd)
		}
		return
	}

	raw := s.net.Segment(segmentID)
	nodeID := raw.NodeFor(startEnd)
	end.NodeID = nodeID
	end.Incoming, end.Outgoing = FlowAt(raw.Lanes, startEnd)

	if priorNode != 0 && priorNode != nodeID {
		s.nodes.RemoveSegment(priorNode, segmentID, startEnd)
		s.nodes.MarkDetached(priorNode)
	}
	s.nodes.AddSegment(nodeID, segmentID, startEnd)
}

// FlowAt computes whether vehicles can arrive at (incoming) or leave from
// (outgoing) the node at the given end. Forward lanes run start->end.
func FlowAt(lanes []model.Lane, startEnd bool) (incoming, outgoing bool) {
	for _, lane := range lanes {
		if !IsVehicleLane(lane) {
			continue
		}
		towardEnd := lane.Direction&model.LaneDirectionForward != 0
		towardStart := lane.Direction&model.LaneDirectionBackward != 0
		if startEnd {
			incoming = incoming || towardStart
			outgoing = outgoing || towardEnd
		} else {
			incoming = incoming || towardEnd
			outgoing = outgoing || towardStart
		}
	}
	return incoming, outgoing
}

// reset clears the derived fields and force-unlinks the registry. The
// traversal is capped at the vehicle capacity so a corrupted list cannot
// hang the simulation.
func (s *ExtSegmentEndStore) reset(end *ExtSegmentEnd) {
	iterations := 0
	for end.FirstVehicleID != 0 {
		head := end.FirstVehicleID
		if !s.caps.vehicleInRange(head) {
			s.reportCorruptList(end.ID(), "head out of range")
			break
		}
		next := s.vehicles.records[head].NextVehicleIDOnSegment
		s.UnregisterVehicle(head)
		if end.FirstVehicleID == head {
			end.FirstVehicleID = next
		}
		iterations++
		if iterations > s.caps.MaxVehicles {
			s.reportCorruptList(end.ID(), "registry reset did not terminate")
			break
		}
	}
	end.FirstVehicleID = 0
	end.NodeID = 0
	end.Incoming = false
	end.Outgoing = false
}

func (s *ExtSegmentEndStore) resetAll() {
	for i := range s.ends {
		id := model.SegmentEndID(i)
		s.ends[i] = ExtSegmentEnd{SegmentID: id.Segment(), StartEnd: id.StartEnd()}
	}
}

func (s *ExtSegmentEndStore) reportCorruptList(id model.SegmentEndID, reason string) {
	s.log.Error(context.Background(), "invalid vehicle list detected",
		logging.String("segment_end", id.String()),
		logging.String("reason", reason),
		logging.Int("max_vehicles", s.caps.MaxVehicles),
		logging.String("stack", string(debug.Stack())),
	)
	s.metrics.RecordCorruptedList("segment_end_registry")
}

// RegisterVehicle links vehicleID at the head of the registry of endID.
// The caller must have unlinked the vehicle first.
func (s *ExtSegmentEndStore) RegisterVehicle(endID model.SegmentEndID, vehicleID model.VehicleID) {
	if !s.caps.segmentEndInRange(endID) || !s.caps.vehicleInRange(vehicleID) {
		return
	}
	end := &s.ends[endID]
	v := &s.vehicles.records[vehicleID]

	v.PreviousVehicleIDOnSegment = 0
	v.NextVehicleIDOnSegment = end.FirstVehicleID
	if end.FirstVehicleID != 0 && s.caps.vehicleInRange(end.FirstVehicleID) {
		s.vehicles.records[end.FirstVehicleID].PreviousVehicleIDOnSegment = vehicleID
	}
	end.FirstVehicleID = vehicleID
}

// UnregisterVehicle removes vehicleID from whichever registry it is linked
// into and clears its current position.
func (s *ExtSegmentEndStore) UnregisterVehicle(vehicleID model.VehicleID) {
	if !s.caps.vehicleInRange(vehicleID) {
		return
	}
	v := &s.vehicles.records[vehicleID]

	prev, next := v.PreviousVehicleIDOnSegment, v.NextVehicleIDOnSegment
	if prev != 0 && s.caps.vehicleInRange(prev) {
		s.vehicles.records[prev].NextVehicleIDOnSegment = next
	}
	if next != 0 && s.caps.vehicleInRange(next) {
		s.vehicles.records[next].PreviousVehicleIDOnSegment = prev
	}
	if s.caps.segmentInRange(v.CurrentSegmentID) {
		end := &s.ends[model.NewSegmentEndID(v.CurrentSegmentID, v.CurrentStartEnd)]
		if end.FirstVehicleID == vehicleID {
			end.FirstVehicleID = next
		}
	}

	v.PreviousVehicleIDOnSegment = 0
	v.NextVehicleIDOnSegment = 0
	v.CurrentSegmentID = 0
	v.CurrentStartEnd = false
	v.CurrentLaneIndex = 0
}

// Get returns a copy of the segment end record.
func (s *ExtSegmentEndStore) Get(id model.SegmentEndID) ExtSegmentEnd {
	if !s.caps.segmentEndInRange(id) {
		return ExtSegmentEnd{SegmentID: id.Segment(), StartEnd: id.StartEnd()}
	}
	return s.ends[id]
}

// FlowFlags returns the incoming/outgoing classification of a segment end.
func (s *ExtSegmentEndStore) FlowFlags(segmentID model.SegmentID, startEnd bool) (incoming, outgoing bool) {
	end := s.Get(model.NewSegmentEndID(segmentID, startEnd))
	return end.Incoming, end.Outgoing
}

// Head returns the first vehicle registered at a segment end, or 0.
func (s *ExtSegmentEndStore) Head(segmentID model.SegmentID, startEnd bool) model.VehicleID {
	return s.Get(model.NewSegmentEndID(segmentID, startEnd)).FirstVehicleID
}

// SegmentEndAt returns the end of segmentID that touches nodeID.
func (s *ExtSegmentEndStore) SegmentEndAt(segmentID model.SegmentID, nodeID model.NodeID) (model.SegmentEndID, bool) {
	if nodeID == 0 {
		return 0, false
	}
	for _, start := range []bool{true, false} {
		id := model.NewSegmentEndID(segmentID, start)
		if s.Get(id).NodeID == nodeID {
			return id, true
		}
	}
	return 0, false
}

// RegisteredVehicles walks the registry of id from the head. When the walk
// exceeds the vehicle capacity or leaves the id range the partial result is
// returned together with ErrCorruptedList.
func (s *ExtSegmentEndStore) RegisteredVehicles(id model.SegmentEndID) ([]model.VehicleID, error) {
	if !s.caps.segmentEndInRange(id) {
		return nil, nil
	}
	var out []model.VehicleID
	for vid := s.ends[id].FirstVehicleID; vid != 0; vid = s.vehicles.records[vid].NextVehicleIDOnSegment {
		if !s.caps.vehicleInRange(vid) {
			s.reportCorruptList(id, fmt.Sprintf("vehicle %d out of range", vid))
			return out, fmt.Errorf("%w: segment end %s links vehicle %d", ErrCorruptedList, id, vid)
		}
		if len(out) >= s.caps.MaxVehicles {
			s.reportCorruptList(id, "traversal exceeded vehicle capacity")
			return out, fmt.Errorf("%w: segment end %s exceeds %d vehicles", ErrCorruptedList, id, s.caps.MaxVehicles)
		}
		out = append(out, vid)
	}
	return out, nil
}

// CountRegistered returns the number of vehicles registered at id.
func (s *ExtSegmentEndStore) CountRegistered(id model.SegmentEndID) (int, error) {
	ids, err := s.RegisteredVehicles(id)
	return len(ids), err
}

// Validate checks the registry of id: no cycles, consistent back links and
// every member positioned at this segment end.
func (s *ExtSegmentEndStore) Validate(id model.SegmentEndID) error {
	ids, err := s.RegisteredVehicles(id)
	if err != nil {
		return err
	}
	seen := make(map[model.VehicleID]struct{}, len(ids))
	prev := model.VehicleID(0)
	for _, vid := range ids {
		if _, dup := seen[vid]; dup {
			return fmt.Errorf("%w: segment end %s visits vehicle %d twice", ErrCorruptedList, id, vid)
		}
		seen[vid] = struct{}{}
		v := s.vehicles.records[vid]
		if v.PreviousVehicleIDOnSegment != prev {
			return fmt.Errorf("%w: vehicle %d back link %d, want %d", ErrCorruptedList, vid, v.PreviousVehicleIDOnSegment, prev)
		}
		if v.CurrentSegmentID != id.Segment() || v.CurrentStartEnd != id.StartEnd() {
			return fmt.Errorf("%w: vehicle %d positioned at %s, linked at %s", ErrCorruptedList, vid,
				model.NewSegmentEndID(v.CurrentSegmentID, v.CurrentStartEnd), id)
		}
		prev = vid
	}
	return nil
}
