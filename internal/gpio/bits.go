package gpio

import "fmt"

// Bits is the value of one 8-bit port.
//
// The named accessors keep bit arithmetic in one place.
type Bits uint8

// Test reports whether bit i is set.
func (b Bits) Test(i uint8) bool {
	return b&(1<<i) != 0
}

// Set returns b with bit i set.
func (b Bits) Set(i uint8) Bits {
	return b | 1<<i
}

// Clear returns b with bit i cleared.
func (b Bits) Clear(i uint8) Bits {
	return b &^ (1 << i)
}

// With returns b with bit i set to v.
func (b Bits) With(i uint8, v bool) Bits {
	if v {
		return b.Set(i)
	}
	return b.Clear(i)
}

// Union returns the bitwise union of b and o.
func (b Bits) Union(o Bits) Bits {
	return b | o
}

// String formats the port value as eight binary digits, MSB first.
func (b Bits) String() string {
	return fmt.Sprintf("%08b", uint8(b))
}

// BitAddress names one bit on an expander: bus address, port (0 or 1) and
// bit index (0-7).
type BitAddress struct {
	Bus  uint8
	Port uint8
	Bit  uint8
}

// String returns "0x20/0/3" style notation.
func (a BitAddress) String() string {
	return fmt.Sprintf("0x%02X/%d/%d", a.Bus, a.Port, a.Bit)
}

// Validate checks the port and bit ranges.
func (a BitAddress) Validate() error {
	if a.Port >= PortsPerBus {
		return fmt.Errorf("%w: %s: port must be 0 or 1", ErrInvalidAddress, a)
	}
	if a.Bit > 7 {
		return fmt.Errorf("%w: %s: bit must be 0-7", ErrInvalidAddress, a)
	}
	return nil
}
