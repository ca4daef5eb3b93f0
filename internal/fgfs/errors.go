package fgfs

import "errors"

// Domain errors for the simulator link.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("fgfs: not connected")

	// ErrConnectionFailed is returned when resolving, dialling or the initial
	// handshake write fails.
	ErrConnectionFailed = errors.New("fgfs: connection failed")

	// ErrConnectionLost is returned by Poll when a read fails.
	ErrConnectionLost = errors.New("fgfs: connection lost")

	// ErrPeerClosed is returned by Poll when an idle connection turns out to
	// have been half-closed by the simulator.
	ErrPeerClosed = errors.New("fgfs: peer closed connection")

	// ErrWriteFailed is returned when a line could not be written in time.
	ErrWriteFailed = errors.New("fgfs: write failed")

	// ErrTimeout is returned by SyncGet when no reply arrives in time.
	ErrTimeout = errors.New("fgfs: operation timed out")

	// ErrMalformedLine is returned when a received line cannot be parsed.
	ErrMalformedLine = errors.New("fgfs: malformed line")

	// ErrLineTooLong is returned when the residual buffer overflows without
	// a line terminator; the buffered bytes are discarded.
	ErrLineTooLong = errors.New("fgfs: line exceeds maximum length")
)
