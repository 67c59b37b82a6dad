package model

import "github.com/paulmach/orb"

// LaneDirection is the direction of travel on a lane relative to the
// segment's start->end orientation.
type LaneDirection uint8

const (
	LaneDirectionNone     LaneDirection = 0
	LaneDirectionForward  LaneDirection = 1 << 0
	LaneDirectionBackward LaneDirection = 1 << 1
	LaneDirectionBoth                   = LaneDirectionForward | LaneDirectionBackward
)

// Has reports whether d includes all bits of other.
func (d LaneDirection) Has(other LaneDirection) bool { return d&other == other && other != 0 }

// LaneType describes what kind of traffic a lane is built for.
type LaneType uint8

const (
	LaneTypeNone LaneType = 0
	// LaneTypeVehicle is a general traffic lane.
	LaneTypeVehicle LaneType = 1 << 0
	// LaneTypePedestrian is a footpath.
	LaneTypePedestrian LaneType = 1 << 1
	// LaneTypeParking is a roadside parking strip.
	LaneTypeParking LaneType = 1 << 2
	// LaneTypeTransportVehicle is a dedicated public transport lane.
	LaneTypeTransportVehicle LaneType = 1 << 3
)

// VehicleCategory is the set of vehicle kinds a lane admits.
type VehicleCategory uint16

const (
	VehicleCategoryNone       VehicleCategory = 0
	VehicleCategoryCar        VehicleCategory = 1 << 0
	VehicleCategoryTram       VehicleCategory = 1 << 1
	VehicleCategoryTrain      VehicleCategory = 1 << 2
	VehicleCategoryBicycle    VehicleCategory = 1 << 3
	VehicleCategoryMetro      VehicleCategory = 1 << 4
	VehicleCategoryMonorail   VehicleCategory = 1 << 5
	VehicleCategoryTrolleybus VehicleCategory = 1 << 6

	// VehicleCategoryRoadVehicles covers every motorised category that uses
	// segment-end registries.
	VehicleCategoryRoadVehicles = VehicleCategoryCar | VehicleCategoryTram | VehicleCategoryTrain |
		VehicleCategoryMetro | VehicleCategoryMonorail | VehicleCategoryTrolleybus
)

// Lane is one sub-channel of a segment.
type Lane struct {
	Type       LaneType        `json:"type"`
	Categories VehicleCategory `json:"categories"`
	Direction  LaneDirection   `json:"direction"`
}

// RoadClass carries the road configuration flags consulted by the
// classification layer.
type RoadClass struct {
	Name    string `json:"name"`
	Highway bool   `json:"highway"`
}

// Segment is the authoritative simulation's record for a segment slot.
// Node ids remain populated after the segment is released so consumers can
// still learn which nodes a removal touched.
type Segment struct {
	ID        SegmentID `json:"id"`
	StartNode NodeID    `json:"start_node"`
	EndNode   NodeID    `json:"end_node"`
	Lanes     []Lane    `json:"lanes"`
	Class     RoadClass `json:"class"`

	// StartDirection and EndDirection optionally override the facing vector
	// at each end (pointing away from the node into the segment). When zero
	// the straight line between the two node positions is used.
	StartDirection orb.Point `json:"start_direction"`
	EndDirection   orb.Point `json:"end_direction"`
}

// NodeFor returns the node at the given end of the segment.
func (s Segment) NodeFor(startEnd bool) NodeID {
	if startEnd {
		return s.StartNode
	}
	return s.EndNode
}

// Node is the authoritative simulation's record for a node slot.
type Node struct {
	ID       NodeID    `json:"id"`
	Position orb.Point `json:"position"`
}
