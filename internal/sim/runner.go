package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/roadnet-ext/core"
	"github.com/signalsfoundry/roadnet-ext/internal/logging"
	"github.com/signalsfoundry/roadnet-ext/kb"
	"github.com/signalsfoundry/roadnet-ext/model"
)

type vehicleRun struct {
	plan         VehiclePlan
	step         int
	framesOnStep uint32
	spawned      bool
	done         bool
}

// Runner applies scripted edits and vehicle movements frame by frame and
// settles the extension layer after each frame.
type Runner struct {
	net    *kb.RoadNetwork
	ext    *core.Extensions
	bridge *Bridge
	log    logging.Logger

	mu        sync.Mutex
	events    map[uint32][]ScriptedEvent
	lastEvent uint32
	vehicles  []*vehicleRun
	byID      map[model.VehicleID]*vehicleRun
	frames    uint32
}

// NewRunner prepares a runner for sc. The scenario must already have been
// applied to net and bridged to ext.
func NewRunner(net *kb.RoadNetwork, ext *core.Extensions, bridge *Bridge, sc *Scenario, log logging.Logger) *Runner {
	if log == nil {
		log = logging.Noop()
	}
	r := &Runner{
		net:    net,
		ext:    ext,
		bridge: bridge,
		log:    log,
		events: make(map[uint32][]ScriptedEvent),
		byID:   make(map[model.VehicleID]*vehicleRun),
	}
	if sc == nil {
		return r
	}
	for _, ev := range sc.Events {
		r.events[ev.Frame] = append(r.events[ev.Frame], ev)
		if ev.Frame > r.lastEvent {
			r.lastEvent = ev.Frame
		}
	}
	plans := append([]VehiclePlan(nil), sc.Vehicles...)
	sort.SliceStable(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })
	for _, p := range plans {
		run := &vehicleRun{plan: p}
		r.vehicles = append(r.vehicles, run)
		r.byID[p.ID] = run
	}
	return r
}

// Step runs one frame.
func (r *Runner) Step(ctx context.Context, frame uint32) core.SettleStats {
	r.mu.Lock()
	for _, ev := range r.events[frame] {
		if err := r.apply(ev); err != nil {
			r.log.Warn(ctx, "scripted event failed",
				logging.Int("frame", int(frame)),
				logging.String("action", string(ev.Action)),
				logging.Err(err),
			)
		}
	}
	for _, run := range r.vehicles {
		r.advance(ctx, frame, run)
	}
	r.frames++
	r.mu.Unlock()

	return r.ext.SimulationStep(ctx)
}

// Listener adapts Step to a timectrl.Listener.
func (r *Runner) Listener(ctx context.Context) func(frame uint32, now time.Time) {
	return func(frame uint32, _ time.Time) {
		r.Step(ctx, frame)
	}
}

// Done reports whether every scripted event has run and every vehicle has
// finished its route.
func (r *Runner) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frames <= r.lastEvent && len(r.events) > 0 {
		return false
	}
	for _, run := range r.vehicles {
		if !run.done {
			return false
		}
	}
	return true
}

// Frames returns the number of frames stepped.
func (r *Runner) Frames() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *Runner) apply(ev ScriptedEvent) error {
	switch ev.Action {
	case ActionAddNode:
		return r.net.AddNode(*ev.Node)
	case ActionReleaseNode:
		return r.net.ReleaseNode(ev.NodeID)
	case ActionAddSegment:
		return r.net.AddSegment(*ev.Segment)
	case ActionUpdateSegment:
		return r.net.UpdateSegment(*ev.Segment)
	case ActionReleaseSegment:
		return r.net.ReleaseSegment(ev.SegmentID)
	case ActionBeginTopology:
		r.net.SetTopologyUpdating(true)
		return nil
	case ActionEndTopology:
		r.net.SetTopologyUpdating(false)
		return nil
	case ActionReleaseVehicle:
		if run, ok := r.byID[ev.VehicleID]; ok {
			run.done = true
		}
		return r.net.ReleaseVehicle(ev.VehicleID)
	case ActionStopVehicle, ActionResumeVehicle:
		v, ok := r.net.Vehicle(ev.VehicleID)
		if !ok {
			return fmt.Errorf("%w: vehicle %d", kb.ErrNotFound, ev.VehicleID)
		}
		v.Stopped = ev.Action == ActionStopVehicle
		return r.net.UpdateVehicle(v)
	case ActionStartPathFinding:
		v, ok := r.net.Vehicle(ev.VehicleID)
		if !ok {
			return fmt.Errorf("%w: vehicle %d", kb.ErrNotFound, ev.VehicleID)
		}
		r.ext.VehicleStartPathFind(v, nil)
		return nil
	default:
		return fmt.Errorf("%w %q", ErrUnknownAction, ev.Action)
	}
}

func (r *Runner) advance(ctx context.Context, frame uint32, run *vehicleRun) {
	if run.done {
		return
	}
	id := run.plan.ID
	if !run.spawned {
		if frame < run.plan.SpawnFrame {
			return
		}
		v, ok := r.net.Vehicle(id)
		if !ok {
			run.done = true
			return
		}
		r.ext.VehicleStartPathFind(v, nil)
		r.ext.VehicleSpawned(v)
		run.spawned = true
	}

	route := run.plan.Route
	if run.step >= len(route) {
		r.finish(ctx, run)
		return
	}
	cur := route[run.step]
	if !r.ext.IsSegmentValid(cur.Segment) {
		r.log.Info(ctx, "vehicle route blocked by missing segment",
			logging.Uint32("vehicle_id", uint32(id)),
			logging.Uint32("segment_id", uint32(cur.Segment)),
		)
		r.finish(ctx, run)
		return
	}
	var next *RouteStep
	if run.step+1 < len(route) {
		next = &route[run.step+1]
	}
	r.bridge.VehicleMoved(id, cur, next)

	run.framesOnStep++
	if run.framesOnStep >= max(cur.Frames, 1) {
		run.step++
		run.framesOnStep = 0
	}
}

func (r *Runner) finish(ctx context.Context, run *vehicleRun) {
	id := run.plan.ID
	r.ext.VehicleDespawned(id)
	run.done = true
	if run.plan.Release {
		if err := r.net.ReleaseVehicle(id); err != nil {
			r.log.Warn(ctx, "vehicle release failed", logging.Uint32("vehicle_id", uint32(id)), logging.Err(err))
		}
	}
}
