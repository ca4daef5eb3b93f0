// Package cdu decodes key reports from a packetized cockpit keypad (the
// control display unit of an airliner) into simulator commands.
//
// The keypad controller sends fixed-size reports: one kind byte followed by
// a little-endian 32-bit mask. Each press kind covers one 32-key bank, so a
// key's global index is kindOrdinal*32 + bit. The Decoder keeps one level
// per key and emits exactly one event per transition:
//
//   - a press always becomes a command line
//   - a release becomes a command line only for keys with TrackRelease set
//
// Commands follow the simulator's "run" grammar:
//
//	run cdu-key cdu=0 key=65          character keys (ASCII code)
//	run cdu-lsk cdu=0 lsk=L3          line-select keys, 1-based row
//	run cdu-button-exec cdu=0         every other named key
//
// Report I/O goes through the ReportSource interface; the package itself
// never blocks and starts no goroutines.
package cdu
