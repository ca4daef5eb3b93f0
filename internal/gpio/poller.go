package gpio

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// PortsPerBus is the number of 8-bit ports on one expander.
const PortsPerBus = 2

// PortDriver is the hardware access used by a Poller.
//
// Implementations must be bounded and non-blocking. A driver that cannot
// service a request returns an error; callers treat it as a stale read and
// retry on the next tick.
type PortDriver interface {
	// ConfigurePort sets the direction mask (1 = input) and the pull-up mask.
	ConfigurePort(bus, port uint8, dirMask, pullupMask Bits) error

	// ReadPort returns the current input levels of a port.
	ReadPort(bus, port uint8) (Bits, error)

	// WritePort sets the output latch of a port.
	WritePort(bus, port uint8, value Bits) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats holds poller counters.
type Stats struct {
	Reads        uint64
	Writes       uint64
	Edges        uint64
	DriverErrors uint64
}

// Poller owns the bindings and port snapshots of one bus address.
//
// Thread Safety:
//   - Not safe for concurrent use; one loop calls Update.
//   - Stats may be read from any goroutine.
type Poller struct {
	bus    uint8
	driver PortDriver

	inputs   [PortsPerBus][]*InputBinding
	outputs  [PortsPerBus][]*OutputBinding
	snapshot [PortsPerBus]Bits
	dirty    [PortsPerBus]bool

	logger Logger

	reads        atomic.Uint64
	writes       atomic.Uint64
	edges        atomic.Uint64
	driverErrors atomic.Uint64
}

// NewPoller creates a poller for one bus address.
func NewPoller(bus uint8, driver PortDriver) *Poller {
	return &Poller{
		bus:    bus,
		driver: driver,
	}
}

// Bus returns the bus address served by this poller.
func (p *Poller) Bus() uint8 {
	return p.bus
}

// SetLogger sets the logger for this poller.
func (p *Poller) SetLogger(logger Logger) {
	p.logger = logger
}

// AddInput registers an edge handler on one bit.
//
// Several bindings may share a bit only if their triggers differ, e.g. one
// capturing the press and one the release.
//
// Parameters:
//   - addr: Bit to watch; Bus must match the poller
//   - trigger: Which transitions fire the handler
//   - h: Handler called synchronously from Update
//
// Returns:
//   - *InputBinding: The registered binding
//   - error: ErrInvalidAddress or ErrDuplicateBinding
func (p *Poller) AddInput(addr BitAddress, trigger Trigger, h EdgeHandler) (*InputBinding, error) {
	if err := p.checkAddress(addr); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("gpio: input %s has no handler", addr)
	}

	for _, existing := range p.inputs[addr.Port] {
		if existing.Addr == addr && existing.Trigger == trigger {
			return nil, fmt.Errorf("%w: %s (%s)", ErrDuplicateBinding, addr, trigger)
		}
	}

	b := &InputBinding{Addr: addr, Trigger: trigger, handler: h}
	p.inputs[addr.Port] = append(p.inputs[addr.Port], b)
	return b, nil
}

// AddOutput registers an output bit and marks its port dirty so the
// initial flush writes it.
//
// Returns:
//   - *OutputBinding: The registered binding, initially off
//   - error: ErrInvalidAddress
func (p *Poller) AddOutput(addr BitAddress) (*OutputBinding, error) {
	if err := p.checkAddress(addr); err != nil {
		return nil, err
	}

	o := &OutputBinding{Addr: addr, notifier: p}
	p.outputs[addr.Port] = append(p.outputs[addr.Port], o)
	p.dirty[addr.Port] = true
	return o, nil
}

// InputMask returns the bits of a port referenced by input bindings.
func (p *Poller) InputMask(port uint8) Bits {
	var mask Bits
	for _, b := range p.inputs[port] {
		mask = mask.Set(b.Addr.Bit)
	}
	return mask
}

// Open configures both ports and performs the initial output flush.
//
// Bits referenced by an input binding become pulled-up inputs; every
// other bit stays an output.
//
// Returns:
//   - error: ErrDriver wrapping the first configuration or write failure
func (p *Poller) Open() error {
	for port := range uint8(PortsPerBus) {
		mask := p.InputMask(port)
		if err := p.driver.ConfigurePort(p.bus, port, mask, mask); err != nil {
			p.driverErrors.Add(1)
			return fmt.Errorf("%w: configure 0x%02X/%d: %w", ErrDriver, p.bus, port, err)
		}
	}

	if err := p.flush(); err != nil {
		return err
	}

	p.logDebug("poller opened",
		"bus", fmt.Sprintf("0x%02X", p.bus),
		"inputs_port0", p.InputMask(0).String(),
		"inputs_port1", p.InputMask(1).String(),
	)
	return nil
}

// Update runs one poll cycle: read ports, dispatch edges on changed ports,
// then flush dirty outputs.
//
// Edge detection always precedes the flush, so an output changed by a
// handler is written in the same cycle.
//
// Returns:
//   - error: ErrDriver joining any read/write failures; never fatal
func (p *Poller) Update() error {
	var errs []error

	for port := range uint8(PortsPerBus) {
		if len(p.inputs[port]) == 0 {
			continue
		}

		value, err := p.driver.ReadPort(p.bus, port)
		p.reads.Add(1)
		if err != nil {
			p.driverErrors.Add(1)
			errs = append(errs, fmt.Errorf("%w: read 0x%02X/%d: %w", ErrDriver, p.bus, port, err))
			continue
		}

		if value == p.snapshot[port] {
			continue
		}
		p.snapshot[port] = value

		// Every binding applies its own trigger; none short-circuits another.
		for _, b := range p.inputs[port] {
			if b.observe(value.Test(b.Addr.Bit)) {
				p.edges.Add(1)
			}
		}
	}

	if err := p.flush(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// MarkAllDirty forces every port with outputs to be rewritten at the next
// Update.
func (p *Poller) MarkAllDirty() {
	for port := range uint8(PortsPerBus) {
		if len(p.outputs[port]) > 0 {
			p.dirty[port] = true
		}
	}
}

// Snapshot returns the last value read from a port.
func (p *Poller) Snapshot(port uint8) Bits {
	return p.snapshot[port%PortsPerBus]
}

// Dirty reports whether a port is waiting to be flushed.
func (p *Poller) Dirty(port uint8) bool {
	return p.dirty[port%PortsPerBus]
}

// Stats returns current counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Reads:        p.reads.Load(),
		Writes:       p.writes.Load(),
		Edges:        p.edges.Load(),
		DriverErrors: p.driverErrors.Load(),
	}
}

// outputChanged implements changeNotifier.
func (p *Poller) outputChanged(port uint8) {
	p.dirty[port%PortsPerBus] = true
}

// flush writes every dirty port. A failed port stays dirty.
func (p *Poller) flush() error {
	var errs []error

	for port := range uint8(PortsPerBus) {
		if !p.dirty[port] {
			continue
		}

		value := p.outputValue(port)
		p.writes.Add(1)
		if err := p.driver.WritePort(p.bus, port, value); err != nil {
			p.driverErrors.Add(1)
			errs = append(errs, fmt.Errorf("%w: write 0x%02X/%d: %w", ErrDriver, p.bus, port, err))
			continue
		}
		p.dirty[port] = false
	}

	return errors.Join(errs...)
}

// outputValue is the union of the true-state outputs on a port.
func (p *Poller) outputValue(port uint8) Bits {
	var value Bits
	for _, o := range p.outputs[port] {
		if o.state {
			value = value.Union(Bits(0).Set(o.Addr.Bit))
		}
	}
	return value
}

func (p *Poller) checkAddress(addr BitAddress) error {
	if addr.Bus != p.bus {
		return fmt.Errorf("%w: %s does not belong to bus 0x%02X", ErrInvalidAddress, addr, p.bus)
	}
	return addr.Validate()
}

func (p *Poller) logDebug(msg string, keysAndValues ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, keysAndValues...)
	}
}
