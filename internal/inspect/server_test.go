package inspect

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/signalsfoundry/roadnet-ext/core"
	"github.com/signalsfoundry/roadnet-ext/internal/logging"
	"github.com/signalsfoundry/roadnet-ext/internal/observability"
	"github.com/signalsfoundry/roadnet-ext/kb"
	"github.com/signalsfoundry/roadnet-ext/model"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var testCaps = core.Capacities{MaxSegments: 32, MaxNodes: 16, MaxVehicles: 32}

func carLanes() []model.Lane {
	return []model.Lane{
		{Type: model.LaneTypeVehicle, Categories: model.VehicleCategoryCar, Direction: model.LaneDirectionForward},
		{Type: model.LaneTypeVehicle, Categories: model.VehicleCategoryCar, Direction: model.LaneDirectionBackward},
	}
}

// newTestExtensions builds a T junction at node 2:
//
//	      3
//	      |
//	1 --- 2 --- 4
func newTestExtensions(t *testing.T) *core.Extensions {
	t.Helper()
	rn := kb.NewRoadNetwork(testCaps.MaxSegments, testCaps.MaxNodes, testCaps.MaxVehicles)
	for _, n := range []model.Node{
		{ID: 1, Position: orb.Point{0, 0}},
		{ID: 2, Position: orb.Point{100, 0}},
		{ID: 3, Position: orb.Point{100, 100}},
		{ID: 4, Position: orb.Point{200, 0}},
	} {
		if err := rn.AddNode(n); err != nil {
			t.Fatalf("AddNode(%d) error: %v", n.ID, err)
		}
	}
	for _, s := range []model.Segment{
		{ID: 10, StartNode: 1, EndNode: 2, Lanes: carLanes()},
		{ID: 11, StartNode: 2, EndNode: 3, Lanes: carLanes()},
		{ID: 12, StartNode: 2, EndNode: 4, Lanes: carLanes()[:1]},
	} {
		if err := rn.AddSegment(s); err != nil {
			t.Fatalf("AddSegment(%d) error: %v", s.ID, err)
		}
	}
	ext := core.NewExtensions(rn, testCaps)
	ext.Load(t.Context())

	for _, id := range []model.VehicleID{7, 8} {
		v := model.Vehicle{ID: id, AI: model.AIClassPassengerCar, Length: 4}
		if err := rn.AddVehicle(v); err != nil {
			t.Fatalf("AddVehicle(%d) error: %v", id, err)
		}
		ext.VehicleCreated(v)
		ext.VehicleSpawned(v)
		ext.VehiclePositionUpdated(v, model.NewSegmentEndID(10, false),
			model.PathPosition{Segment: 10}, model.PathPosition{Segment: 11})
	}
	return ext
}

func startServer(t *testing.T, ext *core.Extensions, rpc *observability.RPCCollector) *Client {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	log := logging.New(logging.Config{Level: "warn", Format: "text"})
	interceptors := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
	}
	if rpc != nil {
		interceptors = append(interceptors, rpc.UnaryServerInterceptor())
	}
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	RegisterInspectorServer(server, NewServer(ext, log))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGetSegment(t *testing.T) {
	client := startServer(t, newTestExtensions(t), nil)
	ctx := testContext(t)

	resp, err := client.GetSegment(ctx, 12)
	if err != nil {
		t.Fatalf("GetSegment() error: %v", err)
	}
	fields := resp.AsMap()
	if fields["one_way"] != true {
		t.Fatalf("one_way = %v, want true", fields["one_way"])
	}
	start := fields["start"].(map[string]any)
	if start["node_id"] != float64(2) || start["outgoing"] != true || start["incoming"] != false {
		t.Fatalf("start end = %v, want node 2 outgoing only", start)
	}

	resp, err = client.GetSegment(ctx, 10)
	if err != nil {
		t.Fatalf("GetSegment(10) error: %v", err)
	}
	end := resp.AsMap()["end"].(map[string]any)
	if end["head_vehicle"] != float64(8) {
		t.Fatalf("head_vehicle = %v, want 8", end["head_vehicle"])
	}
}

func TestGetSegmentErrors(t *testing.T) {
	client := startServer(t, newTestExtensions(t), nil)
	ctx := testContext(t)

	tests := []struct {
		name string
		id   uint32
		code codes.Code
	}{
		{name: "zero", id: 0, code: codes.InvalidArgument},
		{name: "out of range", id: 99, code: codes.InvalidArgument},
		{name: "unused slot", id: 20, code: codes.NotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.GetSegment(ctx, tc.id)
			if code := status.Code(err); code != tc.code {
				t.Fatalf("GetSegment(%d) code = %v, want %v", tc.id, code, tc.code)
			}
		})
	}
}

func TestGetSegmentEndAndRegistry(t *testing.T) {
	client := startServer(t, newTestExtensions(t), nil)
	ctx := testContext(t)

	end, err := client.GetSegmentEnd(ctx, 10, false)
	if err != nil {
		t.Fatalf("GetSegmentEnd() error: %v", err)
	}
	if got := end.AsMap()["segment_end"]; got != "10@end" {
		t.Fatalf("segment_end = %v, want 10@end", got)
	}

	reg, err := client.ListRegistry(ctx, 10, false)
	if err != nil {
		t.Fatalf("ListRegistry() error: %v", err)
	}
	vehicles := reg.AsMap()["vehicles"].([]any)
	if len(vehicles) != 2 || vehicles[0] != float64(8) || vehicles[1] != float64(7) {
		t.Fatalf("vehicles = %v, want [8 7]", vehicles)
	}

	empty, err := client.ListRegistry(ctx, 10, true)
	if err != nil {
		t.Fatalf("ListRegistry(start) error: %v", err)
	}
	if got := empty.AsMap()["vehicles"].([]any); len(got) != 0 {
		t.Fatalf("vehicles = %v, want empty", got)
	}
}

func TestListRegistryCorrupted(t *testing.T) {
	ext := newTestExtensions(t)
	// Registering 7 again without unlinking it first closes the list into
	// the cycle 7 -> 8 -> 7.
	ext.SegmentEnds.RegisterVehicle(model.NewSegmentEndID(10, false), 7)
	client := startServer(t, ext, nil)

	_, err := client.ListRegistry(testContext(t), 10, false)
	if code := status.Code(err); code != codes.DataLoss {
		t.Fatalf("ListRegistry() code = %v, want DataLoss", code)
	}
}

func TestGetNode(t *testing.T) {
	client := startServer(t, newTestExtensions(t), nil)
	ctx := testContext(t)

	resp, err := client.GetNode(ctx, 2)
	if err != nil {
		t.Fatalf("GetNode() error: %v", err)
	}
	segments := resp.AsMap()["segments"].([]any)
	if len(segments) != 3 || segments[0] != float64(10) || segments[2] != float64(12) {
		t.Fatalf("segments = %v, want [10 11 12]", segments)
	}

	if _, err := client.GetNode(ctx, 9); status.Code(err) != codes.NotFound {
		t.Fatalf("GetNode(9) code = %v, want NotFound", status.Code(err))
	}
}

func TestGetVehicle(t *testing.T) {
	client := startServer(t, newTestExtensions(t), nil)
	ctx := testContext(t)

	resp, err := client.GetVehicle(ctx, 7)
	if err != nil {
		t.Fatalf("GetVehicle() error: %v", err)
	}
	fields := resp.AsMap()
	if fields["lifecycle"] != "spawned" || fields["vehicle_type"] != "passenger_car" {
		t.Fatalf("vehicle = %v, want spawned passenger_car", fields)
	}
	if fields["current_segment_end"] != "10@end" || fields["next_segment"] != float64(11) {
		t.Fatalf("position = %v/%v, want 10@end -> 11", fields["current_segment_end"], fields["next_segment"])
	}
	if fields["total_length"] != float64(4) {
		t.Fatalf("total_length = %v, want 4", fields["total_length"])
	}

	if _, err := client.GetVehicle(ctx, 9); status.Code(err) != codes.NotFound {
		t.Fatalf("GetVehicle(9) code = %v, want NotFound", status.Code(err))
	}
}

func TestGetDirection(t *testing.T) {
	client := startServer(t, newTestExtensions(t), nil)
	ctx := testContext(t)

	tests := []struct {
		target uint32
		want   string
	}{
		{target: 12, want: "forward"},
		{target: 11, want: "left"},
		{target: 10, want: "turn"},
	}
	for _, tc := range tests {
		resp, err := client.GetDirection(ctx, 10, false, tc.target)
		if err != nil {
			t.Fatalf("GetDirection(%d) error: %v", tc.target, err)
		}
		if got := resp.AsMap()["direction"]; got != tc.want {
			t.Fatalf("GetDirection(10@end -> %d) = %v, want %s", tc.target, got, tc.want)
		}
	}
}

func TestInterceptorsRecordMetricsAndRequestID(t *testing.T) {
	reg := prometheus.NewRegistry()
	rpc, err := observability.NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector() error: %v", err)
	}
	client := startServer(t, newTestExtensions(t), rpc)

	ctx := metadata.AppendToOutgoingContext(testContext(t), requestIDMetadataKey, "req-42")
	if _, err := client.GetNode(ctx, 1); err != nil {
		t.Fatalf("GetNode() error: %v", err)
	}
	_, _ = client.GetNode(ctx, 0)

	if got := testutil.ToFloat64(rpc.RPCRequests.WithLabelValues("Inspector", "GetNode", "OK")); got != 1 {
		t.Fatalf("OK requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(rpc.RPCRequests.WithLabelValues("Inspector", "GetNode", "InvalidArgument")); got != 1 {
		t.Fatalf("InvalidArgument requests = %v, want 1", got)
	}
}
