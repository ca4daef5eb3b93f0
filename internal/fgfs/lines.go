package fgfs

import (
	"bytes"
	"fmt"
	"strings"
)

// Protocol constants.
const (
	// lineTerminator ends every outbound line.
	lineTerminator = "\r\n"

	// maxResidual bounds the bytes kept while waiting for a line terminator.
	maxResidual = 64 * 1024

	// probeReply is the server's answer to the "pwd" liveness probe.
	probeReply = "/"
)

// Commands understood by the property server.
const (
	cmdData      = "data"
	cmdQuit      = "quit"
	cmdProbe     = "pwd"
	cmdSubscribe = "subscribe"
	cmdSet       = "set"
	cmdGet       = "get"
	cmdRun       = "run"
)

// LineHandler is invoked once per complete line received from the server.
// The line has its terminator removed.
type LineHandler func(line string)

// LineSplitter reassembles a byte stream into lines.
//
// Bytes after the last terminator are held back as residual and prepended
// to the next Feed, so a line split across reads is dispatched exactly once.
// The zero value is ready for use.
type LineSplitter struct {
	residual []byte

	// resets counts Reset calls so Feed can tell when emit reset it.
	resets uint64
}

// Feed appends data to the residual and emits every complete line.
//
// Lines end in "\n"; a preceding "\r" is stripped. Empty lines are emitted
// too, since an empty property value is sent as a bare terminator.
// If emit calls Reset, the remaining lines and the tail are discarded.
//
// Parameters:
//   - data: Bytes just read from the connection
//   - emit: Called once per complete line, in stream order
//
// Returns:
//   - int: Number of lines emitted
//   - error: ErrLineTooLong if the residual overflowed and was discarded
func (s *LineSplitter) Feed(data []byte, emit LineHandler) (int, error) {
	buf := append(s.residual, data...)
	s.residual = nil
	resets := s.resets

	count := 0
	start := 0
	for {
		i := bytes.IndexByte(buf[start:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(buf[start:start+i], []byte{'\r'})
		start += i + 1

		emit(string(line))
		count++
		if s.resets != resets {
			return count, nil
		}
	}

	// Keep only the partial tail, in a fresh slice so the backing array
	// does not grow without bound.
	tail := buf[start:]
	if len(tail) > maxResidual {
		return count, fmt.Errorf("%w: %d bytes discarded", ErrLineTooLong, len(tail))
	}
	s.residual = append([]byte(nil), tail...)

	return count, nil
}

// Residual returns a copy of the bytes waiting for a terminator.
func (s *LineSplitter) Residual() []byte {
	return append([]byte(nil), s.residual...)
}

// Reset discards any residual bytes.
func (s *LineSplitter) Reset() {
	s.residual = nil
	s.resets++
}

// ParsePush splits a subscription push of the form "<path>=<value>".
//
// Returns ok=false when the line has no '=' or an empty path.
func ParsePush(line string) (path, value string, ok bool) {
	path, value, found := strings.Cut(line, "=")
	path = strings.TrimSpace(path)
	if !found || path == "" {
		return "", "", false
	}
	return path, strings.TrimSpace(value), true
}

// ParseBool parses a boolean property value.
// The server sends either "true"/"false" or "1"/"0".
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q is not a boolean", ErrMalformedLine, value)
	}
}

// IsProbeReply reports whether line is the reply to a "pwd" probe.
func IsProbeReply(line string) bool {
	return strings.TrimSpace(line) == probeReply
}

// formatCommand joins a command verb with its arguments.
func formatCommand(verb string, args ...string) string {
	if len(args) == 0 {
		return verb
	}
	return verb + " " + strings.Join(args, " ")
}
