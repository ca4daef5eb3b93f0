package cdu

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// Report layout.
const (
	// reportSize is the kind byte plus a 32-bit key mask.
	reportSize = 5

	// keysPerKind is the number of keys covered by one press kind.
	keysPerKind = 32

	// maxReportsPerPoll bounds one drain so a chattering device cannot
	// starve the rest of the tick.
	maxReportsPerPoll = 64
)

// ReportSource is the packetized device transport.
//
// Implementations must be bounded and non-blocking.
type ReportSource interface {
	// ReadReport returns the next pending report; ok is false when none
	// is available.
	ReadReport() (report []byte, ok bool, err error)

	// WriteReport sends an output report to the device.
	WriteReport(report []byte) error
}

// CommandSink receives the command lines produced by key events.
type CommandSink interface {
	Send(line string)
}

// SinkFunc adapts a function to CommandSink.
type SinkFunc func(line string)

// Send implements CommandSink.
func (f SinkFunc) Send(line string) { f(line) }

// Event is one key transition.
type Event struct {
	Key     Key
	Pressed bool
	// Line is the emitted command, empty for an untracked release.
	Line string
}

// KindTable classifies report kind bytes.
type KindTable struct {
	// Press maps a press kind to its bank ordinal.
	Press map[byte]int

	// Ack lists acknowledgement kinds, dropped without logging.
	Ack map[byte]struct{}
}

// DefaultKinds returns the kind table of the keypad controller.
func DefaultKinds() KindTable {
	return KindTable{
		Press: map[byte]int{0x19: 0, 0x1A: 1, 0x1B: 2},
		Ack: map[byte]struct{}{
			0x01: {}, 0x14: {}, 0x15: {}, 0x18: {},
		},
	}
}

// DefaultInitReports starts the controller and switches on its backlight
// and annunciator banks.
func DefaultInitReports() [][]byte {
	return [][]byte{
		{0x01, 0x01, 0x01, 0x10, 0x48, 0x97, 0xA9, 0x00},
		{0x14, 0x01},
		{0x15, 0x01, 0xFF},
		{0x15, 0x02, 0xFF},
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures a Decoder.
type Options struct {
	// CDU is the keypad instance number sent with every command.
	CDU int

	// Kinds classifies report kinds. Default: DefaultKinds().
	Kinds KindTable

	// Keys maps key indices. Default: DefaultKeys().
	Keys KeyTable

	// InitReports are written by Init. Default: DefaultInitReports().
	InitReports [][]byte

	// Sink receives command lines. Required.
	Sink CommandSink

	// OnEvent, if set, observes every transition after the sink.
	OnEvent func(Event)

	Logger Logger
}

// Stats holds decoder counters.
type Stats struct {
	Reports      uint64
	Presses      uint64
	Releases     uint64
	Acks         uint64
	DecodeErrors uint64
}

// Decoder turns raw key reports into command lines.
//
// Thread Safety:
//   - Not safe for concurrent use; one loop calls Poll.
//   - Stats may be read from any goroutine.
type Decoder struct {
	src  ReportSource
	opts Options

	// state holds the last known level of every key.
	state []bool

	reports      atomic.Uint64
	presses      atomic.Uint64
	releases     atomic.Uint64
	acks         atomic.Uint64
	decodeErrors atomic.Uint64
}

// NewDecoder creates a decoder over src.
//
// Returns:
//   - *Decoder: Decoder with every key released
//   - error: If src or Sink is nil
func NewDecoder(src ReportSource, opts Options) (*Decoder, error) {
	if src == nil {
		return nil, fmt.Errorf("cdu: report source is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("cdu: command sink is required")
	}
	if opts.Kinds.Press == nil {
		opts.Kinds = DefaultKinds()
	}
	if opts.Keys == nil {
		opts.Keys = DefaultKeys()
	}
	if opts.InitReports == nil {
		opts.InitReports = DefaultInitReports()
	}

	size := len(opts.Keys)
	for _, ordinal := range opts.Kinds.Press {
		if n := (ordinal + 1) * keysPerKind; n > size {
			size = n
		}
	}

	return &Decoder{
		src:   src,
		opts:  opts,
		state: make([]bool, size),
	}, nil
}

// CDU returns the keypad instance number.
func (d *Decoder) CDU() int {
	return d.opts.CDU
}

// Init writes the initialisation reports to the device.
//
// Returns:
//   - error: ErrSource wrapping the first failed write
func (d *Decoder) Init() error {
	for _, report := range d.opts.InitReports {
		if err := d.src.WriteReport(report); err != nil {
			return fmt.Errorf("%w: init report % X: %w", ErrSource, report, err)
		}
	}
	d.logDebug("keypad initialised", "cdu", d.opts.CDU, "reports", len(d.opts.InitReports))
	return nil
}

// Poll drains every available report and emits one event per key
// transition.
//
// Decode errors are logged and counted; only a failing source is returned.
//
// Returns:
//   - error: ErrSource wrapping a read failure
func (d *Decoder) Poll() error {
	for range maxReportsPerPoll {
		report, ok, err := d.src.ReadReport()
		if err != nil {
			return fmt.Errorf("%w: read: %w", ErrSource, err)
		}
		if !ok {
			return nil
		}

		d.reports.Add(1)
		if err := d.Decode(report); err != nil {
			d.decodeErrors.Add(1)
			d.logWarn("dropping keypad report", "cdu", d.opts.CDU, "error", err)
		}
	}
	return nil
}

// Decode applies one report to the key state table.
//
// Returns:
//   - error: ErrShortReport or ErrUnknownReportKind for reports that were
//     ignored; unmapped keys inside a valid report are logged, not returned
func (d *Decoder) Decode(report []byte) error {
	if len(report) == 0 {
		return fmt.Errorf("%w: empty", ErrShortReport)
	}

	kind := report[0]
	ordinal, isPress := d.opts.Kinds.Press[kind]
	if !isPress {
		if _, isAck := d.opts.Kinds.Ack[kind]; isAck {
			d.acks.Add(1)
			return nil
		}
		return fmt.Errorf("%w: 0x%02X", ErrUnknownReportKind, kind)
	}

	if len(report) < reportSize {
		return fmt.Errorf("%w: kind 0x%02X has %d bytes", ErrShortReport, kind, len(report))
	}

	mask := binary.LittleEndian.Uint32(report[1:reportSize])
	offset := ordinal * keysPerKind

	for bit := range keysPerKind {
		index := offset + bit
		level := mask&(1<<bit) != 0
		if d.state[index] == level {
			continue
		}
		d.state[index] = level
		d.emit(index, level)
	}

	return nil
}

// Pressed reports the last known level of a key.
func (d *Decoder) Pressed(index int) bool {
	if index < 0 || index >= len(d.state) {
		return false
	}
	return d.state[index]
}

// Reset releases every key without emitting events.
func (d *Decoder) Reset() {
	clear(d.state)
}

// Stats returns current counters.
func (d *Decoder) Stats() Stats {
	return Stats{
		Reports:      d.reports.Load(),
		Presses:      d.presses.Load(),
		Releases:     d.releases.Load(),
		Acks:         d.acks.Load(),
		DecodeErrors: d.decodeErrors.Load(),
	}
}

func (d *Decoder) emit(index int, pressed bool) {
	key, err := d.opts.Keys.Lookup(index)
	if err != nil {
		d.decodeErrors.Add(1)
		d.logWarn("keypad event dropped", "cdu", d.opts.CDU, "pressed", pressed, "error", err)
		return
	}

	ev := Event{Key: key, Pressed: pressed}

	if pressed {
		d.presses.Add(1)
	} else {
		d.releases.Add(1)
	}

	if pressed || key.TrackRelease {
		cmd, err := CommandFor(key, d.opts.CDU)
		if err != nil {
			d.decodeErrors.Add(1)
			d.logWarn("keypad event dropped", "cdu", d.opts.CDU, "key", key.String(), "error", err)
			return
		}
		if !pressed {
			cmd = cmd.Release()
		}
		ev.Line = cmd.Line()
		d.opts.Sink.Send(ev.Line)
	}

	d.logDebug("keypad key", "cdu", d.opts.CDU, "key", key.String(), "pressed", pressed)

	if d.opts.OnEvent != nil {
		d.opts.OnEvent(ev)
	}
}

func (d *Decoder) logDebug(msg string, keysAndValues ...any) {
	if d.opts.Logger != nil {
		d.opts.Logger.Debug(msg, keysAndValues...)
	}
}

func (d *Decoder) logWarn(msg string, keysAndValues ...any) {
	if d.opts.Logger != nil {
		d.opts.Logger.Warn(msg, keysAndValues...)
	}
}
