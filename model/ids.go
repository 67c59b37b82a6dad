package model

import "fmt"

// SegmentID identifies a road segment slot. Zero is the "none" sentinel.
type SegmentID uint32

// NodeID identifies a junction/node slot. Zero is the "none" sentinel.
type NodeID uint32

// VehicleID identifies a vehicle slot. Zero is the "none" sentinel.
type VehicleID uint32

// SegmentEndID packs a segment id and an end flag into a single index:
// segmentID*2 for the start end, segmentID*2+1 for the end end.
type SegmentEndID uint32

// NewSegmentEndID returns the packed index for one end of a segment.
func NewSegmentEndID(segmentID SegmentID, startEnd bool) SegmentEndID {
	id := SegmentEndID(segmentID) << 1
	if !startEnd {
		id |= 1
	}
	return id
}

// Segment returns the segment half of the packed id.
func (id SegmentEndID) Segment() SegmentID { return SegmentID(id >> 1) }

// StartEnd reports whether the id denotes the start end of its segment.
func (id SegmentEndID) StartEnd() bool { return id&1 == 0 }

func (id SegmentEndID) String() string {
	end := "end"
	if id.StartEnd() {
		end = "start"
	}
	return fmt.Sprintf("%d@%s", id.Segment(), end)
}
