package core

import "errors"

var (
	// ErrInvalidArgument indicates a programmer error such as an unknown
	// classification flag. The call fails; nothing is recovered.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCorruptedList indicates an intrusive vehicle list did not terminate
	// within the vehicle capacity or violated its linkage invariants.
	ErrCorruptedList = errors.New("corrupted vehicle list")
	// ErrVehicleLength indicates the physical length of a vehicle could not
	// be derived from its configuration.
	ErrVehicleLength = errors.New("cannot compute vehicle length")
)
