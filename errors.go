package ecat

import "errors"

var (
	// ErrIllegalArgument is returned by configuration-time calls given
	// nil or otherwise invalid arguments.
	ErrIllegalArgument = errors.New("illegal argument")
	// ErrNoMemory is returned when a configuration-time allocation
	// (domain buffer, datagram pair) cannot be satisfied.
	ErrNoMemory = errors.New("not enough memory")
	// ErrAlreadyFinished is returned by AddFMMUConfig once Finish has
	// been called on the owning domain.
	ErrAlreadyFinished = errors.New("domain already finished")
	// ErrDeviceIndex is returned for an out-of-range device index.
	ErrDeviceIndex = errors.New("device index out of range")
	// ErrNoDriver is returned when a DatagramManager has no driver set.
	ErrNoDriver = errors.New("no driver set")
)
