package cdu

import "errors"

// Decode errors. None of them are fatal; the offending event is dropped.
var (
	// ErrUnmappedKey is returned for a key index with no character or name.
	ErrUnmappedKey = errors.New("cdu: unmapped key index")

	// ErrUnknownReportKind is returned for a report whose kind byte is
	// neither a press nor an acknowledgement kind.
	ErrUnknownReportKind = errors.New("cdu: unknown report kind")

	// ErrShortReport is returned for a press report without a full mask.
	ErrShortReport = errors.New("cdu: short report")

	// ErrInvalidLineSelect is returned when a line-select identity cannot be
	// parsed.
	ErrInvalidLineSelect = errors.New("cdu: invalid line-select key")

	// ErrSource wraps report source failures.
	ErrSource = errors.New("cdu: report source error")
)
