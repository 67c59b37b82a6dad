package core

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/signalsfoundry/roadnet-ext/internal/logging"
	"github.com/signalsfoundry/roadnet-ext/model"
	"github.com/signalsfoundry/roadnet-ext/timectrl"
)

// VehicleFlags is the lifecycle flag set of an ExtVehicle.
type VehicleFlags uint8

const (
	VehicleFlagCreated VehicleFlags = 1 << iota
	VehicleFlagSpawned
	VehicleFlagStopped
)

// Lifecycle is the coarse lifecycle state derived from VehicleFlags.
type Lifecycle uint8

const (
	LifecycleReleased Lifecycle = iota
	LifecycleCreated
	LifecycleSpawned
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleCreated:
		return "created"
	case LifecycleSpawned:
		return "spawned"
	default:
		return "released"
	}
}

// JunctionTransitState tracks a vehicle's progress through the next junction.
type JunctionTransitState uint8

const (
	JunctionTransitNone JunctionTransitState = iota
	JunctionTransitApproach
	JunctionTransitEnter
	JunctionTransitLeave
	JunctionTransitBlocked
)

// ExtVehicle is the extension record of one vehicle slot.
type ExtVehicle struct {
	VehicleID   model.VehicleID
	Flags       VehicleFlags
	VehicleType model.VehicleType

	CurrentSegmentID model.SegmentID
	CurrentStartEnd  bool
	CurrentLaneIndex uint8
	NextSegmentID    model.SegmentID
	NextLaneIndex    uint8

	PreviousVehicleIDOnSegment model.VehicleID
	NextVehicleIDOnSegment     model.VehicleID

	LastPathID            uint32
	LastPathPositionIndex uint8
	WaitTime              uint32

	JunctionTransitState JunctionTransitState
	TimedRand            uint8
	TotalLength          float64
	RecklessDriver       bool
	DriverInstanceID     uint32

	LastPositionUpdate     time.Time
	LastTransitStateUpdate time.Time
}

// Lifecycle reports the lifecycle state encoded in the flags.
func (v ExtVehicle) Lifecycle() Lifecycle {
	switch {
	case v.Flags&VehicleFlagSpawned != 0:
		return LifecycleSpawned
	case v.Flags&VehicleFlagCreated != 0:
		return LifecycleCreated
	default:
		return LifecycleReleased
	}
}

// Linked reports whether the vehicle is positioned on a segment end.
func (v ExtVehicle) Linked() bool {
	return v.CurrentSegmentID != 0
}

// ExtVehicleStore runs the per-vehicle lifecycle and keeps vehicles linked
// into the registry of the segment end they are driving on. It carries no
// lock: every mutation happens on the simulation goroutine.
type ExtVehicleStore struct {
	net     Network
	caps    Capacities
	opts    Options
	clock   timectrl.SimClock
	log     logging.Logger
	metrics MetricsRecorder
	rng     *rand.Rand

	records []ExtVehicle
	ends    *ExtSegmentEndStore
}

func newExtVehicleStore(net Network, caps Capacities, opts Options, clock timectrl.SimClock, log logging.Logger, metrics MetricsRecorder) *ExtVehicleStore {
	s := &ExtVehicleStore{
		net:     net,
		caps:    caps,
		opts:    opts,
		clock:   clock,
		log:     log,
		metrics: metrics,
		rng:     rand.New(rand.NewPCG(uint64(caps.MaxVehicles), 0x5eed)),
		records: make([]ExtVehicle, caps.MaxVehicles),
	}
	for i := range s.records {
		s.records[i].VehicleID = model.VehicleID(i)
	}
	return s
}

// OnCreate starts the lifecycle of a vehicle. A vehicle that is already
// created is released first.
func (s *ExtVehicleStore) OnCreate(v model.Vehicle) {
	if !s.caps.vehicleInRange(v.ID) {
		return
	}
	rec := &s.records[v.ID]
	if rec.Flags&VehicleFlagCreated != 0 {
		s.OnRelease(v.ID)
	}
	rec.VehicleType = DetermineVehicleType(v)
	rec.RecklessDriver = false
	rec.Flags = VehicleFlagCreated
}

// OnStartPathFind refreshes the vehicle type and driver classification when
// the simulation starts a path search. Trailing vehicles inherit both.
func (s *ExtVehicleStore) OnStartPathFind(v model.Vehicle, vehicleType *model.VehicleType) {
	if !s.caps.vehicleInRange(v.ID) {
		return
	}
	rec := &s.records[v.ID]
	if rec.Flags&VehicleFlagCreated == 0 {
		s.OnCreate(v)
	}
	if vehicleType != nil {
		rec.VehicleType = *vehicleType
	}
	rec.RecklessDriver = s.isRecklessDriver(*rec, v)

	steps := 0
	for trailerID := v.TrailingVehicle; trailerID != 0; {
		trailer, ok := s.net.Vehicle(trailerID)
		if !ok || !s.caps.vehicleInRange(trailerID) {
			break
		}
		trec := &s.records[trailerID]
		if trec.Flags&VehicleFlagCreated == 0 {
			s.OnCreate(trailer)
		}
		trec.VehicleType = rec.VehicleType
		trec.RecklessDriver = rec.RecklessDriver

		trailerID = trailer.TrailingVehicle
		steps++
		if steps > s.caps.MaxVehicles {
			s.reportCorruptTrailers(v.ID)
			break
		}
	}
}

// OnSpawn marks a created vehicle as spawned, unlinking it from any registry
// it might still be in.
func (s *ExtVehicleStore) OnSpawn(v model.Vehicle) {
	if !s.caps.vehicleInRange(v.ID) {
		return
	}
	rec := &s.records[v.ID]
	if rec.Flags&VehicleFlagCreated == 0 {
		s.OnCreate(v)
	}
	if rec.Flags&VehicleFlagSpawned != 0 || rec.Linked() || rec.NextVehicleIDOnSegment != 0 || rec.PreviousVehicleIDOnSegment != 0 {
		s.log.Debug(context.Background(), "vehicle spawned while still linked",
			logging.Uint32("vehicle_id", uint32(v.ID)),
			logging.Uint32("segment_id", uint32(rec.CurrentSegmentID)),
		)
		s.metrics.RecordVehicleAnomaly("spawn_relink")
	}
	s.ends.UnregisterVehicle(v.ID)

	rec.LastPathID = 0
	rec.LastPathPositionIndex = 0
	rec.DriverInstanceID = v.DriverInstance

	length, err := s.TotalLength(v)
	if err != nil {
		s.log.Warn(context.Background(), "vehicle length unavailable; using 0",
			logging.Uint32("vehicle_id", uint32(v.ID)),
			logging.Err(err),
		)
		s.metrics.RecordVehicleAnomaly("length_failure")
		length = 0
	}
	rec.TotalLength = length
	rec.Flags |= VehicleFlagSpawned
}

// UpdatePosition records the segment end and lanes a vehicle is driving on.
// Registry membership only changes when the vehicle crossed onto another
// segment end or lane since the previous call.
func (s *ExtVehicleStore) UpdatePosition(v model.Vehicle, end model.SegmentEndID, cur, next model.PathPosition) {
	if !s.caps.vehicleInRange(v.ID) {
		return
	}
	rec := &s.records[v.ID]
	if rec.Flags&VehicleFlagSpawned == 0 {
		s.OnSpawn(v)
	}

	if rec.NextSegmentID != next.Segment || rec.NextLaneIndex != next.Lane {
		rec.NextSegmentID = next.Segment
		rec.NextLaneIndex = next.Lane
	}
	rec.LastPathID = v.PathID
	rec.LastPathPositionIndex = v.PathPositionIndex
	s.updateStopped(rec, v.Stopped)

	segmentID, startEnd := end.Segment(), end.StartEnd()
	if segmentID == rec.CurrentSegmentID && startEnd == rec.CurrentStartEnd && cur.Lane == rec.CurrentLaneIndex {
		return
	}

	if rec.Linked() {
		s.ends.UnregisterVehicle(v.ID)
	}
	rec.LastPositionUpdate = s.clock.Now()
	rec.CurrentSegmentID = segmentID
	rec.CurrentStartEnd = startEnd
	rec.CurrentLaneIndex = cur.Lane
	rec.WaitTime = 0
	if segmentID != 0 && s.opts.RegistryEnabled() {
		s.ends.RegisterVehicle(end, v.ID)
	}
	s.SetJunctionTransitState(v.ID, JunctionTransitApproach)
}

func (s *ExtVehicleStore) updateStopped(rec *ExtVehicle, stopped bool) {
	if !stopped {
		rec.Flags &^= VehicleFlagStopped
		return
	}
	rec.Flags |= VehicleFlagStopped
	if rec.WaitTime < math.MaxUint32 {
		rec.WaitTime++
	}
}

// OnDespawn takes a spawned vehicle off the network; it stays created.
func (s *ExtVehicleStore) OnDespawn(vehicleID model.VehicleID) {
	if !s.caps.vehicleInRange(vehicleID) {
		return
	}
	rec := &s.records[vehicleID]
	if rec.Flags&VehicleFlagSpawned == 0 {
		return
	}
	rec.DriverInstanceID = 0
	s.ends.UnregisterVehicle(vehicleID)

	rec.NextSegmentID = 0
	rec.NextLaneIndex = 0
	rec.TotalLength = 0
	rec.WaitTime = 0
	rec.JunctionTransitState = JunctionTransitNone
	rec.Flags &= VehicleFlagCreated
}

// OnRelease ends the lifecycle and resets every field.
func (s *ExtVehicleStore) OnRelease(vehicleID model.VehicleID) {
	if !s.caps.vehicleInRange(vehicleID) {
		return
	}
	rec := &s.records[vehicleID]
	if rec.Flags&VehicleFlagCreated == 0 {
		return
	}
	if rec.Flags&VehicleFlagSpawned != 0 {
		s.OnDespawn(vehicleID)
	}
	*rec = ExtVehicle{VehicleID: vehicleID}
}

// SetJunctionTransitState updates the transit state, stamping the change time.
func (s *ExtVehicleStore) SetJunctionTransitState(vehicleID model.VehicleID, state JunctionTransitState) {
	if !s.caps.vehicleInRange(vehicleID) {
		return
	}
	rec := &s.records[vehicleID]
	if rec.JunctionTransitState == state {
		return
	}
	rec.JunctionTransitState = state
	rec.LastTransitStateUpdate = s.clock.Now()
}

// StepRand refreshes the timed random value of a created vehicle.
func (s *ExtVehicleStore) StepRand(vehicleID model.VehicleID) {
	if !s.caps.vehicleInRange(vehicleID) {
		return
	}
	rec := &s.records[vehicleID]
	if rec.Flags&VehicleFlagCreated == 0 {
		return
	}
	rec.TimedRand = uint8(s.rng.IntN(100))
}

// SimulationStep refreshes the timed random values of one 64th of the
// vehicle slots per frame.
func (s *ExtVehicleStore) SimulationStep(frame uint32) {
	for id := int(frame & 63); id < len(s.records); id += 64 {
		s.StepRand(model.VehicleID(id))
	}
}

// Get returns a copy of the vehicle record.
func (s *ExtVehicleStore) Get(vehicleID model.VehicleID) ExtVehicle {
	if !s.caps.vehicleInRange(vehicleID) {
		return ExtVehicle{VehicleID: vehicleID}
	}
	return s.records[vehicleID]
}

func (s *ExtVehicleStore) resetAll() {
	for i := range s.records {
		s.records[i] = ExtVehicle{VehicleID: model.VehicleID(i)}
	}
}

// TotalLength sums the body lengths of v and its trailing vehicles.
func (s *ExtVehicleStore) TotalLength(v model.Vehicle) (float64, error) {
	total := 0.0
	cur := v
	for steps := 0; ; steps++ {
		if math.IsNaN(cur.Length) || math.IsInf(cur.Length, 0) || cur.Length < 0 {
			return 0, fmt.Errorf("%w: vehicle %d has length %v", ErrVehicleLength, cur.ID, cur.Length)
		}
		total += cur.Length
		if cur.TrailingVehicle == 0 {
			return total, nil
		}
		if steps >= s.caps.MaxVehicles {
			return 0, fmt.Errorf("%w: trailer chain of vehicle %d does not terminate", ErrVehicleLength, v.ID)
		}
		next, ok := s.net.Vehicle(cur.TrailingVehicle)
		if !ok {
			return 0, fmt.Errorf("%w: trailer %d of vehicle %d not found", ErrVehicleLength, cur.TrailingVehicle, cur.ID)
		}
		cur = next
	}
}

func (s *ExtVehicleStore) isRecklessDriver(rec ExtVehicle, v model.Vehicle) bool {
	if rec.VehicleType != model.VehicleTypePassengerCar || v.Emergency {
		return false
	}
	return int(rec.TimedRand) < s.opts.RecklessDriverPercent()
}

func (s *ExtVehicleStore) reportCorruptTrailers(vehicleID model.VehicleID) {
	s.log.Error(context.Background(), "invalid trailer list detected",
		logging.Uint32("vehicle_id", uint32(vehicleID)),
		logging.Int("max_vehicles", s.caps.MaxVehicles),
		logging.String("stack", string(debug.Stack())),
	)
	s.metrics.RecordCorruptedList("trailer_chain")
}

// DetermineVehicleType classifies v. The emergency flag takes precedence
// over the AI class.
func DetermineVehicleType(v model.Vehicle) model.VehicleType {
	if v.Emergency {
		return model.VehicleTypeEmergency
	}
	switch v.AI {
	case model.AIClassPassengerCar:
		return model.VehicleTypePassengerCar
	case model.AIClassBus:
		return model.VehicleTypeBus
	case model.AIClassTaxi:
		return model.VehicleTypeTaxi
	case model.AIClassCargoTruck:
		return model.VehicleTypeCargoTruck
	case model.AIClassAmbulance, model.AIClassFireTruck, model.AIClassPolice,
		model.AIClassHearse, model.AIClassGarbageTruck:
		return model.VehicleTypeService
	case model.AIClassPassengerTrain:
		return model.VehicleTypePassengerTrain
	case model.AIClassCargoTrain:
		return model.VehicleTypeCargoTrain
	case model.AIClassTram:
		return model.VehicleTypeTram
	case model.AIClassTrolleybus:
		return model.VehicleTypeTrolleybus
	case model.AIClassBicycle:
		return model.VehicleTypeBicycle
	default:
		return model.VehicleTypeNone
	}
}
