package inspect

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/roadnet-ext/core"
	"github.com/signalsfoundry/roadnet-ext/internal/logging"
	"github.com/signalsfoundry/roadnet-ext/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server implements InspectorServer on top of an Extensions instance. Every
// read runs under Extensions.WithReadLock.
type Server struct {
	ext *core.Extensions
	log logging.Logger
}

var _ InspectorServer = (*Server)(nil)

// NewServer constructs an inspector bound to ext.
func NewServer(ext *core.Extensions, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{ext: ext, log: log}
}

func (s *Server) ensureReady() error {
	if s == nil || s.ext == nil {
		return status.Error(codes.FailedPrecondition, "extensions not loaded")
	}
	return nil
}

// GetSegment returns the classification and both ends of a live segment.
func (s *Server) GetSegment(ctx context.Context, in *wrapperspb.UInt32Value) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	id := model.SegmentID(in.GetValue())
	if err := s.checkSegment(id); err != nil {
		return nil, ToStatusError(err)
	}
	ctx, span := startChildSpan(ctx, "Inspect.GetSegment", "segment", uint32(id))
	defer span.End()

	var out map[string]any
	err := s.ext.WithReadLock(func() error {
		if !s.ext.IsSegmentValid(id) {
			return fmt.Errorf("%w: segment %d", ErrNotFound, id)
		}
		seg := s.ext.Classification(id)
		out = map[string]any{
			"segment_id":   float64(id),
			"valid":        seg.Valid,
			"one_way":      seg.OneWay,
			"highway":      seg.Highway,
			"has_bus_lane": seg.HasBusLane,
			"start":        s.segmentEndFields(model.NewSegmentEndID(id, true)),
			"end":          s.segmentEndFields(model.NewSegmentEndID(id, false)),
		}
		return nil
	})
	return s.respond(ctx, out, err)
}

// GetSegmentEnd returns the flow flags and registry head of one segment end.
func (s *Server) GetSegmentEnd(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	endID, err := s.segmentEndFromRequest(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	ctx, span := startChildSpan(ctx, "Inspect.GetSegmentEnd", "segment_end", uint32(endID))
	defer span.End()

	var out map[string]any
	err = s.ext.WithReadLock(func() error {
		if !s.ext.IsSegmentValid(endID.Segment()) {
			return fmt.Errorf("%w: segment %d", ErrNotFound, endID.Segment())
		}
		out = s.segmentEndFields(endID)
		return nil
	})
	return s.respond(ctx, out, err)
}

// GetNode returns the adjacency of a live node and any staged removal.
func (s *Server) GetNode(ctx context.Context, in *wrapperspb.UInt32Value) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	id := model.NodeID(in.GetValue())
	if id == 0 || int(id) >= s.ext.Capacities().MaxNodes {
		return nil, ToStatusError(fmt.Errorf("%w: node %d", ErrInvalidID, id))
	}
	ctx, span := startChildSpan(ctx, "Inspect.GetNode", "node", uint32(id))
	defer span.End()

	var out map[string]any
	err := s.ext.WithReadLock(func() error {
		if !s.ext.IsNodeValid(id) {
			return fmt.Errorf("%w: node %d", ErrNotFound, id)
		}
		segments := []any{}
		for _, segID := range s.ext.Nodes.SegmentIDs(id) {
			segments = append(segments, float64(segID))
		}
		out = map[string]any{
			"node_id":  float64(id),
			"segments": segments,
		}
		if staged, ok := s.ext.Nodes.StagedRemoval(id); ok {
			out["staged_removal"] = staged.String()
		}
		return nil
	})
	return s.respond(ctx, out, err)
}

// GetVehicle returns the extension record of a created vehicle.
func (s *Server) GetVehicle(ctx context.Context, in *wrapperspb.UInt32Value) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	id := model.VehicleID(in.GetValue())
	if id == 0 || int(id) >= s.ext.Capacities().MaxVehicles {
		return nil, ToStatusError(fmt.Errorf("%w: vehicle %d", ErrInvalidID, id))
	}
	ctx, span := startChildSpan(ctx, "Inspect.GetVehicle", "vehicle", uint32(id))
	defer span.End()

	var out map[string]any
	err := s.ext.WithReadLock(func() error {
		v := s.ext.VehicleState(id)
		if v.Lifecycle() == core.LifecycleReleased {
			return fmt.Errorf("%w: vehicle %d", ErrNotFound, id)
		}
		out = map[string]any{
			"vehicle_id":       float64(id),
			"lifecycle":        v.Lifecycle().String(),
			"vehicle_type":     v.VehicleType.String(),
			"stopped":          v.Flags&core.VehicleFlagStopped != 0,
			"reckless_driver":  v.RecklessDriver,
			"total_length":     v.TotalLength,
			"wait_time":        float64(v.WaitTime),
			"junction_transit": float64(v.JunctionTransitState),
			"timed_rand":       float64(v.TimedRand),
		}
		if v.Linked() {
			out["current_segment_end"] = model.NewSegmentEndID(v.CurrentSegmentID, v.CurrentStartEnd).String()
			out["current_lane"] = float64(v.CurrentLaneIndex)
		}
		if v.NextSegmentID != 0 {
			out["next_segment"] = float64(v.NextSegmentID)
			out["next_lane"] = float64(v.NextLaneIndex)
		}
		return nil
	})
	return s.respond(ctx, out, err)
}

// ListRegistry returns the vehicles registered at a segment end, head first.
// A corrupted list is reported as DataLoss.
func (s *Server) ListRegistry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	endID, err := s.segmentEndFromRequest(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	ctx, span := startChildSpan(ctx, "Inspect.ListRegistry", "segment_end", uint32(endID))
	defer span.End()

	var out map[string]any
	err = s.ext.WithReadLock(func() error {
		ids, err := s.ext.SegmentEnds.RegisteredVehicles(endID)
		if err != nil {
			return err
		}
		vehicles := make([]any, 0, len(ids))
		for _, id := range ids {
			vehicles = append(vehicles, float64(id))
		}
		out = map[string]any{
			"segment_end": endID.String(),
			"vehicles":    vehicles,
		}
		return nil
	})
	return s.respond(ctx, out, err)
}

// GetDirection classifies the turn from a segment end into a target segment
// at the same node.
func (s *Server) GetDirection(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	endID, err := s.segmentEndFromRequest(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	target, err := numberField(in, "target")
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := s.checkSegment(model.SegmentID(target)); err != nil {
		return nil, ToStatusError(err)
	}

	var out map[string]any
	err = s.ext.WithReadLock(func() error {
		dir := s.ext.SegmentEnds.Direction(endID, model.SegmentID(target))
		out = map[string]any{
			"segment_end": endID.String(),
			"target":      float64(target),
			"direction":   dir.String(),
		}
		return nil
	})
	return s.respond(ctx, out, err)
}

func (s *Server) segmentEndFields(id model.SegmentEndID) map[string]any {
	end := s.ext.SegmentEnds.Get(id)
	return map[string]any{
		"segment_end":  id.String(),
		"node_id":      float64(end.NodeID),
		"incoming":     end.Incoming,
		"outgoing":     end.Outgoing,
		"head_vehicle": float64(end.FirstVehicleID),
	}
}

func (s *Server) checkSegment(id model.SegmentID) error {
	if id == 0 || int(id) >= s.ext.Capacities().MaxSegments {
		return fmt.Errorf("%w: segment %d", ErrInvalidID, id)
	}
	return nil
}

func (s *Server) segmentEndFromRequest(in *structpb.Struct) (model.SegmentEndID, error) {
	segment, err := numberField(in, "segment")
	if err != nil {
		return 0, err
	}
	if err := s.checkSegment(model.SegmentID(segment)); err != nil {
		return 0, err
	}
	startEnd := in.GetFields()["start_end"].GetBoolValue()
	return model.NewSegmentEndID(model.SegmentID(segment), startEnd), nil
}

func (s *Server) respond(ctx context.Context, out map[string]any, err error) (*structpb.Struct, error) {
	if err != nil {
		logging.LoggerFromContext(ctx, s.log).Debug(ctx, "inspect request failed", logging.Err(err))
		return nil, ToStatusError(err)
	}
	res, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return res, nil
}
