// Package mcp23017 drives MCP23017 16-bit I2C port expanders as a
// gpio.PortDriver.
//
// Each expander has two 8-bit ports. Port 0 maps to pins 0-7 (GPA) and
// port 1 to pins 8-15 (GPB). Bus addresses are the 7-bit I2C addresses
// 0x20-0x27.
package mcp23017

import (
	"errors"
	"fmt"
	"sync"

	mcp "github.com/racerxdl/go-mcp23017"

	"github.com/nerrad567/cockpit-bridge/internal/gpio"
)

// Address range of the expander family.
const (
	BaseAddress uint8 = 0x20
	MaxAddress  uint8 = 0x27

	pinsPerPort = 8
)

// ErrInvalidAddress is returned for an address outside 0x20-0x27.
var ErrInvalidAddress = errors.New("mcp23017: address out of range")

// Config holds expander settings.
type Config struct {
	// Bus is the Linux I2C bus number (/dev/i2c-N).
	Bus uint8

	// InvertInputs reports a pulled-up input as 0 until its switch closes
	// it to ground.
	InvertInputs bool
}

// chip is the pin-level access used by Driver.
type chip interface {
	setDirection(pin uint8, input, pullup bool) error
	read(pin uint8) (bool, error)
	write(pin uint8, level bool) error
	close() error
}

// Driver implements gpio.PortDriver for any number of expanders on one
// I2C bus. Devices are opened on first use.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Driver struct {
	cfg  Config
	open func(bus, devNum uint8) (chip, error)

	mu    sync.Mutex
	chips map[uint8]chip
	dirs  map[portKey]gpio.Bits
}

type portKey struct {
	addr uint8
	port uint8
}

// Compile-time check that Driver satisfies gpio.PortDriver.
var _ gpio.PortDriver = (*Driver)(nil)

// New creates a driver for the configured bus.
func New(cfg Config) *Driver {
	return &Driver{
		cfg:   cfg,
		open:  openChip,
		chips: make(map[uint8]chip),
		dirs:  make(map[portKey]gpio.Bits),
	}
}

// DeviceNumber converts an I2C address to the A2..A0 strap number.
func DeviceNumber(addr uint8) (uint8, error) {
	if addr < BaseAddress || addr > MaxAddress {
		return 0, fmt.Errorf("%w: 0x%02X", ErrInvalidAddress, addr)
	}
	return addr - BaseAddress, nil
}

// PinIndex returns the chip pin number of a port bit.
func PinIndex(port, bit uint8) uint8 {
	return port*pinsPerPort + bit
}

// ConfigurePort sets direction and pull-ups for one port.
// A 1 in dirMask makes the bit an input.
func (d *Driver) ConfigurePort(addr, port uint8, dirMask, pullupMask gpio.Bits) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.chip(addr)
	if err != nil {
		return err
	}

	for bit := range uint8(pinsPerPort) {
		pin := PinIndex(port, bit)
		if err := c.setDirection(pin, dirMask.Test(bit), pullupMask.Test(bit)); err != nil {
			return fmt.Errorf("configuring 0x%02X pin %d: %w", addr, pin, err)
		}
	}

	d.dirs[portKey{addr, port}] = dirMask
	return nil
}

// ReadPort reads the input bits of a port. Output bits read as 0.
func (d *Driver) ReadPort(addr, port uint8) (gpio.Bits, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.chip(addr)
	if err != nil {
		return 0, err
	}

	inputs := d.dirs[portKey{addr, port}]
	var value gpio.Bits
	for bit := range uint8(pinsPerPort) {
		if !inputs.Test(bit) {
			continue
		}
		level, err := c.read(PinIndex(port, bit))
		if err != nil {
			return 0, fmt.Errorf("reading 0x%02X pin %d: %w", addr, PinIndex(port, bit), err)
		}
		value = value.With(bit, level != d.cfg.InvertInputs)
	}
	return value, nil
}

// WritePort sets the output bits of a port. Input bits are left alone.
func (d *Driver) WritePort(addr, port uint8, value gpio.Bits) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.chip(addr)
	if err != nil {
		return err
	}

	inputs := d.dirs[portKey{addr, port}]
	for bit := range uint8(pinsPerPort) {
		if inputs.Test(bit) {
			continue
		}
		if err := c.write(PinIndex(port, bit), value.Test(bit)); err != nil {
			return fmt.Errorf("writing 0x%02X pin %d: %w", addr, PinIndex(port, bit), err)
		}
	}
	return nil
}

// Close releases every opened expander.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for addr, c := range d.chips {
		if err := c.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing 0x%02X: %w", addr, err))
		}
		delete(d.chips, addr)
	}
	return errors.Join(errs...)
}

// chip returns the open device at addr. Caller holds d.mu.
func (d *Driver) chip(addr uint8) (chip, error) {
	if c, ok := d.chips[addr]; ok {
		return c, nil
	}

	devNum, err := DeviceNumber(addr)
	if err != nil {
		return nil, err
	}
	c, err := d.open(d.cfg.Bus, devNum)
	if err != nil {
		return nil, fmt.Errorf("opening i2c-%d 0x%02X: %w", d.cfg.Bus, addr, err)
	}
	d.chips[addr] = c
	return c, nil
}

// deviceChip adapts the library device to chip.
type deviceChip struct {
	dev *mcp.Device
}

func openChip(bus, devNum uint8) (chip, error) {
	dev, err := mcp.Open(bus, devNum)
	if err != nil {
		return nil, err
	}
	return deviceChip{dev: dev}, nil
}

func (c deviceChip) setDirection(pin uint8, input, pullup bool) error {
	if !input {
		return c.dev.PinMode(pin, mcp.OUTPUT)
	}
	if err := c.dev.PinMode(pin, mcp.INPUT); err != nil {
		return err
	}
	return c.dev.SetPullUp(pin, pullup)
}

func (c deviceChip) read(pin uint8) (bool, error) {
	level, err := c.dev.DigitalRead(pin)
	if err != nil {
		return false, err
	}
	return bool(level), nil
}

func (c deviceChip) write(pin uint8, level bool) error {
	return c.dev.DigitalWrite(pin, mcp.PinLevel(level))
}

func (c deviceChip) close() error {
	return c.dev.Close()
}
