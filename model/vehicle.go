package model

// AIClass is the behaviour class the authoritative simulation assigned to a
// vehicle.
type AIClass uint8

const (
	AIClassUnknown AIClass = iota
	AIClassPassengerCar
	AIClassBus
	AIClassTaxi
	AIClassCargoTruck
	AIClassAmbulance
	AIClassFireTruck
	AIClassPolice
	AIClassHearse
	AIClassGarbageTruck
	AIClassPassengerTrain
	AIClassCargoTrain
	AIClassTram
	AIClassTrolleybus
	AIClassBicycle
)

// VehicleType is the extension layer's classification of a vehicle.
type VehicleType uint16

const (
	VehicleTypeNone           VehicleType = 0
	VehicleTypePassengerCar   VehicleType = 1 << 0
	VehicleTypeBus            VehicleType = 1 << 1
	VehicleTypeTaxi           VehicleType = 1 << 2
	VehicleTypeCargoTruck     VehicleType = 1 << 3
	VehicleTypeService        VehicleType = 1 << 4
	VehicleTypeEmergency      VehicleType = 1 << 5
	VehicleTypePassengerTrain VehicleType = 1 << 6
	VehicleTypeCargoTrain     VehicleType = 1 << 7
	VehicleTypeTram           VehicleType = 1 << 8
	VehicleTypeTrolleybus     VehicleType = 1 << 9
	VehicleTypeBicycle        VehicleType = 1 << 10
)

var vehicleTypeNames = map[VehicleType]string{
	VehicleTypeNone:           "none",
	VehicleTypePassengerCar:   "passenger_car",
	VehicleTypeBus:            "bus",
	VehicleTypeTaxi:           "taxi",
	VehicleTypeCargoTruck:     "cargo_truck",
	VehicleTypeService:        "service",
	VehicleTypeEmergency:      "emergency",
	VehicleTypePassengerTrain: "passenger_train",
	VehicleTypeCargoTrain:     "cargo_train",
	VehicleTypeTram:           "tram",
	VehicleTypeTrolleybus:     "trolleybus",
	VehicleTypeBicycle:        "bicycle",
}

func (t VehicleType) String() string {
	if name, ok := vehicleTypeNames[t]; ok {
		return name
	}
	return "mixed"
}

// Vehicle is the authoritative simulation's snapshot of a vehicle slot.
type Vehicle struct {
	ID VehicleID `json:"id"`

	AI AIClass `json:"ai"`
	// Emergency is set while the vehicle is on an emergency run.
	Emergency bool `json:"emergency"`

	// Length of this car body in metres. Trailers carry their own length.
	Length float64 `json:"length"`
	// TrailingVehicle is the next coupled car (trailer, rail car), or 0.
	TrailingVehicle VehicleID `json:"trailing_vehicle"`

	// DriverInstance is the citizen instance driving the vehicle, if any.
	DriverInstance uint32 `json:"driver_instance"`

	Stopped bool `json:"stopped"`

	PathID            uint32 `json:"path_id"`
	PathPositionIndex uint8  `json:"path_position_index"`
}

// PathPosition is a position on a calculated path: a lane on a segment.
type PathPosition struct {
	Segment SegmentID `json:"segment"`
	Lane    uint8     `json:"lane"`
	Offset  uint8     `json:"offset"`
}
