package gpio

import "errors"

// Domain errors for the port poller.
var (
	// ErrInvalidAddress is returned when a BitAddress is outside the poller's
	// bus, port range (0-1) or bit range (0-7).
	ErrInvalidAddress = errors.New("gpio: invalid bit address")

	// ErrDuplicateBinding is returned when an input binding with the same
	// address and trigger is already registered.
	ErrDuplicateBinding = errors.New("gpio: duplicate input binding")

	// ErrDriver wraps hardware read/write failures. It is never fatal.
	ErrDriver = errors.New("gpio: driver error")

	// ErrInvalidTrigger is returned when a trigger name cannot be parsed.
	ErrInvalidTrigger = errors.New("gpio: invalid trigger")
)
