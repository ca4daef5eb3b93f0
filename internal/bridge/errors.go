package bridge

import "errors"

// Domain errors for the bridge.
var (
	// ErrInvalidWiring is returned when the wiring table fails validation.
	ErrInvalidWiring = errors.New("bridge: invalid wiring")

	// ErrUnknownProperty is returned when a pushed value names a property
	// that is not declared in the wiring table.
	ErrUnknownProperty = errors.New("bridge: unknown property")

	// ErrInvalidValue is returned when a property value is not numeric.
	ErrInvalidValue = errors.New("bridge: invalid property value")

	// ErrUnexpectedLine is returned for a line that is neither a push, a
	// probe reply nor a subscription echo.
	ErrUnexpectedLine = errors.New("bridge: unexpected line")

	// ErrSyncFailed is returned when the initial state could not be read
	// within the retry budget.
	ErrSyncFailed = errors.New("bridge: initial sync failed")

	// ErrQueueFull is returned when the outbound command queue is full.
	ErrQueueFull = errors.New("bridge: command queue full")
)
