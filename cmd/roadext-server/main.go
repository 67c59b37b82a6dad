package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/roadnet-ext/core"
	"github.com/signalsfoundry/roadnet-ext/internal/config"
	"github.com/signalsfoundry/roadnet-ext/internal/inspect"
	"github.com/signalsfoundry/roadnet-ext/internal/logging"
	"github.com/signalsfoundry/roadnet-ext/internal/observability"
	"github.com/signalsfoundry/roadnet-ext/internal/sim"
	"github.com/signalsfoundry/roadnet-ext/kb"
	"github.com/signalsfoundry/roadnet-ext/model"
	"github.com/signalsfoundry/roadnet-ext/timectrl"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	flag.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "TCP address the inspector gRPC server listens on")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "HTTP address for Prometheus /metrics (empty disables)")
	flag.StringVar(&cfg.ScenarioPath, "scenario", cfg.ScenarioPath, "Path to a JSON road network scenario")
	flag.DurationVar(&cfg.TickInterval, "tick", cfg.TickInterval, "Simulation frame interval")
	flag.BoolVar(&cfg.Accelerated, "accelerated", cfg.Accelerated, "Step frames as fast as possible")
	maxFrames := flag.Uint("max-frames", uint(cfg.MaxFrames), "Stop the frame loop after this many frames (0 runs until shutdown)")
	flag.Parse()
	cfg.MaxFrames = uint32(*maxFrames)

	log := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run loads the scenario, drives the frame loop and serves the inspector on
// lis until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector, err := observability.NewExtensionCollector(reg)
	if err != nil {
		return fmt.Errorf("metrics collector: %w", err)
	}
	rpcCollector, err := observability.NewRPCCollector(reg)
	if err != nil {
		return fmt.Errorf("rpc collector: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log)

	sc, err := loadScenario(cfg.ScenarioPath)
	if err != nil {
		return err
	}

	caps := cfg.Capacities
	rn := kb.NewRoadNetwork(caps.MaxSegments, caps.MaxNodes, caps.MaxVehicles)

	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(time.Now(), cfg.TickInterval, mode)

	ext := core.NewExtensions(rn, caps,
		core.WithLogger(log),
		core.WithMetricsRecorder(collector),
		core.WithOptions(cfg.Options()),
		core.WithClock(tc),
	)
	defer ext.Unload()

	loaded := make(map[model.SegmentID]struct{})
	sub := ext.Subscribe(func(u core.GeometryUpdate) {
		if u.Kind() != core.UpdateSegment {
			return
		}
		if u.Segment.Valid {
			loaded[u.Segment.SegmentID] = struct{}{}
		} else {
			delete(loaded, u.Segment.SegmentID)
		}
		collector.SetLoadedSegments(len(loaded))
	})
	defer sub.Unsubscribe()

	bridge := sim.NewBridge(rn, ext, log)
	defer bridge.Close()

	summary, err := sim.Apply(rn, sc)
	if err != nil {
		return err
	}
	stats := ext.Load(ctx)
	log.Info(ctx, "scenario loaded",
		logging.String("path", cfg.ScenarioPath),
		logging.Int("nodes", summary.Nodes),
		logging.Int("segments", summary.Segments),
		logging.Int("vehicles", summary.Vehicles),
		logging.Int("events", summary.Events),
		logging.Int("settled_segments", stats.Segments),
	)

	simCtx, cancelSim := context.WithCancel(ctx)
	defer cancelSim()
	runner := sim.NewRunner(rn, ext, bridge, sc, log)
	step := runner.Listener(simCtx)
	tc.AddListener(func(frame uint32, now time.Time) {
		step(frame, now)
		// An accelerated run with no frame limit would spin once the
		// scenario has nothing left to do.
		if cfg.Accelerated && cfg.MaxFrames == 0 && runner.Done() {
			log.Info(simCtx, "scenario complete", logging.Uint32("frames", runner.Frames()))
			cancelSim()
		}
	})
	simDone := tc.Start(simCtx, cfg.MaxFrames)

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			inspect.RequestIDUnaryServerInterceptor(log),
			inspect.TracingUnaryServerInterceptor(),
			rpcCollector.UnaryServerInterceptor(),
		),
	)
	inspect.RegisterInspectorServer(server, inspect.NewServer(ext, log))

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting inspector gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		serveErr <- server.Serve(lis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = fmt.Errorf("gRPC server: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down roadext server")
	server.GracefulStop()
	cancelSim()
	<-simDone

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

func loadScenario(path string) (*sim.Scenario, error) {
	if path == "" {
		return &sim.Scenario{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	return sim.LoadScenario(f)
}

func serveMetrics(addr string, collector *observability.ExtensionCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
