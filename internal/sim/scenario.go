// Package sim drives a kb.RoadNetwork from a JSON scenario and forwards its
// events into core.Extensions.
package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/signalsfoundry/roadnet-ext/kb"
	"github.com/signalsfoundry/roadnet-ext/model"
)

// Action names a scripted topology edit.
type Action string

const (
	ActionAddNode          Action = "add_node"
	ActionReleaseNode      Action = "release_node"
	ActionAddSegment       Action = "add_segment"
	ActionUpdateSegment    Action = "update_segment"
	ActionReleaseSegment   Action = "release_segment"
	ActionBeginTopology    Action = "begin_topology_update"
	ActionEndTopology      Action = "end_topology_update"
	ActionReleaseVehicle   Action = "release_vehicle"
	ActionStopVehicle      Action = "stop_vehicle"
	ActionResumeVehicle    Action = "resume_vehicle"
	ActionStartPathFinding Action = "start_path_find"
)

// Scenario is the decoded scenario file.
type Scenario struct {
	Nodes    []model.Node    `json:"nodes"`
	Segments []model.Segment `json:"segments"`
	Vehicles []VehiclePlan   `json:"vehicles"`
	Events   []ScriptedEvent `json:"events"`
}

// VehiclePlan is a vehicle with the route it drives once spawned.
type VehiclePlan struct {
	model.Vehicle
	SpawnFrame uint32      `json:"spawn_frame"`
	Route      []RouteStep `json:"route"`
	// Release frees the vehicle after it despawns at the end of its route.
	Release bool `json:"release"`
}

// RouteStep places a vehicle on one segment end for a number of frames.
type RouteStep struct {
	Segment  model.SegmentID `json:"segment"`
	StartEnd bool            `json:"start_end"`
	Lane     uint8           `json:"lane"`
	Frames   uint32          `json:"frames"`
}

// End returns the segment end of the step.
func (s RouteStep) End() model.SegmentEndID {
	return model.NewSegmentEndID(s.Segment, s.StartEnd)
}

// ScriptedEvent is one topology edit applied at Frame.
type ScriptedEvent struct {
	Frame     uint32          `json:"frame"`
	Action    Action          `json:"action"`
	Node      *model.Node     `json:"node,omitempty"`
	NodeID    model.NodeID    `json:"node_id,omitempty"`
	Segment   *model.Segment  `json:"segment,omitempty"`
	SegmentID model.SegmentID `json:"segment_id,omitempty"`
	VehicleID model.VehicleID `json:"vehicle_id,omitempty"`
}

// Summary reports what Apply put into the network.
type Summary struct {
	Nodes    int
	Segments int
	Vehicles int
	Events   int
}

var (
	ErrEmptyRoute    = errors.New("vehicle route is empty")
	ErrUnknownAction = errors.New("unknown scenario action")
)

// LoadScenario decodes and validates a scenario from r.
func LoadScenario(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("LoadScenario: %w", err)
	}
	return &sc, nil
}

// Validate checks references that the network cannot check on its own.
func (sc *Scenario) Validate() error {
	for _, v := range sc.Vehicles {
		if v.ID == 0 {
			return fmt.Errorf("vehicle with id 0")
		}
		if len(v.Route) == 0 {
			return fmt.Errorf("vehicle %d: %w", v.ID, ErrEmptyRoute)
		}
	}
	for i := range sc.Events {
		ev := &sc.Events[i]
		action, err := ParseAction(string(ev.Action))
		if err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		ev.Action = action
		switch action {
		case ActionAddNode:
			if ev.Node == nil {
				return fmt.Errorf("event %d: %s without node", i, action)
			}
		case ActionAddSegment, ActionUpdateSegment:
			if ev.Segment == nil {
				return fmt.Errorf("event %d: %s without segment", i, action)
			}
		}
	}
	return nil
}

// Apply adds the scenario's nodes, segments and vehicles to rn. Scripted
// events are left to a Runner.
func Apply(rn *kb.RoadNetwork, sc *Scenario) (Summary, error) {
	if rn == nil || sc == nil {
		return Summary{}, fmt.Errorf("Apply: network and scenario are required")
	}
	var sum Summary
	for _, n := range sc.Nodes {
		if err := rn.AddNode(n); err != nil {
			return sum, fmt.Errorf("Apply: %w", err)
		}
		sum.Nodes++
	}
	for _, s := range sc.Segments {
		if err := rn.AddSegment(s); err != nil {
			return sum, fmt.Errorf("Apply: %w", err)
		}
		sum.Segments++
	}
	for _, v := range sc.Vehicles {
		if err := rn.AddVehicle(v.Vehicle); err != nil {
			return sum, fmt.Errorf("Apply: %w", err)
		}
		sum.Vehicles++
	}
	sum.Events = len(sc.Events)
	return sum, nil
}

// ParseAction maps a loosely written action name to an Action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_"))))
	switch a {
	case ActionAddNode, ActionReleaseNode, ActionAddSegment, ActionUpdateSegment, ActionReleaseSegment,
		ActionBeginTopology, ActionEndTopology, ActionReleaseVehicle, ActionStopVehicle,
		ActionResumeVehicle, ActionStartPathFinding:
		return a, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownAction, s)
	}
}
