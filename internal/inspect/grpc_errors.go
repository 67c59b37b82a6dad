package inspect

import (
	"errors"

	"github.com/signalsfoundry/roadnet-ext/core"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrNotFound is returned when the requested entity is not live.
	ErrNotFound = errors.New("not found")
	// ErrInvalidID is returned for zero or out-of-range ids.
	ErrInvalidID = errors.New("invalid id")
)

// ToStatusError maps extension layer errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidID),
		errors.Is(err, core.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, core.ErrCorruptedList):
		return status.Error(codes.DataLoss, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
