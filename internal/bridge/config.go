package bridge

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/cockpit-bridge/internal/cdu"
	"github.com/nerrad567/cockpit-bridge/internal/gpio"
)

// Wiring maps hardware to simulator properties and commands.
type Wiring struct {
	// CDU configures attached keypads.
	CDU CDUWiring `yaml:"cdu"`

	// Buses lists every GPIO expander and its bit bindings.
	Buses []BusWiring `yaml:"buses"`

	// Properties lists the simulator properties the bridge reads.
	Properties []PropertyWiring `yaml:"properties"`

	// Lamps drive outputs from property ranges.
	Lamps []LampRule `yaml:"lamps"`

	// Servos drive gauge needles from property values.
	Servos []ServoRule `yaml:"servos"`

	// LinkIndicator names an output lit while the simulator is unreachable.
	LinkIndicator string `yaml:"link_indicator,omitempty"`
}

// CDUWiring configures keypad decoding.
type CDUWiring struct {
	// Index is the instance number of the first keypad.
	Index int `yaml:"index"`

	// ReleaseKeys are keys whose release is forwarded.
	ReleaseKeys []string `yaml:"release_keys"`

	// InitReports replaces the controller's init sequence, one byte list
	// per report. Empty keeps cdu.DefaultInitReports.
	InitReports [][]int `yaml:"init_reports,omitempty"`
}

// Reports converts InitReports to raw reports.
//
// Returns:
//   - [][]byte: The reports, or nil when none are configured
//   - error: ErrInvalidWiring for an empty report or a value outside 0-255
func (c CDUWiring) Reports() ([][]byte, error) {
	if len(c.InitReports) == 0 {
		return nil, nil
	}

	reports := make([][]byte, 0, len(c.InitReports))
	for i, values := range c.InitReports {
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: cdu.init_reports[%d] is empty", ErrInvalidWiring, i)
		}
		report := make([]byte, len(values))
		for j, v := range values {
			if v < 0 || v > 0xFF {
				return nil, fmt.Errorf("%w: cdu.init_reports[%d][%d] = %d is not a byte", ErrInvalidWiring, i, j, v)
			}
			report[j] = byte(v)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// BusWiring describes one expander.
type BusWiring struct {
	Address uint8          `yaml:"address"`
	Inputs  []InputWiring  `yaml:"inputs"`
	Outputs []OutputWiring `yaml:"outputs"`
}

// InputWiring binds one input bit to a simulator action.
// Exactly one of Set and Run is used.
type InputWiring struct {
	Name    string `yaml:"name"`
	Port    uint8  `yaml:"port"`
	Bit     uint8  `yaml:"bit"`
	Trigger string `yaml:"trigger"`

	// Set is a property path written with Value, or with 1/0 from the
	// input level when Value is empty.
	Set   string `yaml:"set,omitempty"`
	Value string `yaml:"value,omitempty"`

	// Run is a command (with optional key=value args) fired on the edge.
	Run string `yaml:"run,omitempty"`
}

// OutputWiring names one output bit.
type OutputWiring struct {
	Name string `yaml:"name"`
	Port uint8  `yaml:"port"`
	Bit  uint8  `yaml:"bit"`
}

// PropertyWiring declares one simulator property.
type PropertyWiring struct {
	Path string `yaml:"path"`

	// Sync reads the value during initial sync.
	Sync bool `yaml:"sync"`

	// Subscribe asks the simulator to push changes.
	Subscribe bool `yaml:"subscribe"`
}

// LampRule lights Output while Property is inside When.
type LampRule struct {
	Property string `yaml:"property"`
	Output   string `yaml:"output"`
	When     Range  `yaml:"when"`
}

// ServoRule moves a servo channel along a curve.
type ServoRule struct {
	Property string       `yaml:"property"`
	Channel  int          `yaml:"channel"`
	Curve    [][2]float64 `yaml:"curve"`
}

// ParseCurve converts the YAML breakpoints into a Curve.
func (s ServoRule) ParseCurve() (Curve, error) {
	var c Curve
	if len(s.Curve) != len(c) {
		return c, fmt.Errorf("%w: servo %d curve needs %d points, has %d",
			ErrInvalidWiring, s.Channel, len(c), len(s.Curve))
	}
	for i, p := range s.Curve {
		c[i] = Point{X: p[0], Y: p[1]}
		if i > 0 && c[i].X <= c[i-1].X {
			return c, fmt.Errorf("%w: servo %d curve x values must increase",
				ErrInvalidWiring, s.Channel)
		}
	}
	return c, nil
}

// Address returns the bit address of an input on bus.
func (in InputWiring) Address(bus uint8) gpio.BitAddress {
	return gpio.BitAddress{Bus: bus, Port: in.Port, Bit: in.Bit}
}

// Address returns the bit address of an output on bus.
func (out OutputWiring) Address(bus uint8) gpio.BitAddress {
	return gpio.BitAddress{Bus: bus, Port: out.Port, Bit: out.Bit}
}

// LoadWiring reads a wiring table from a YAML file.
//
// Parameters:
//   - path: Path to the YAML file
//
// Returns:
//   - *Wiring: Validated table
//   - error: If the file cannot be read, parsed or validated
func LoadWiring(path string) (*Wiring, error) {
	w := &Wiring{
		CDU: CDUWiring{ReleaseKeys: append([]string(nil), cdu.DefaultReleaseKeys...)},
	}

	data, err := os.ReadFile(path) //nolint:gosec // Path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading wiring file: %w", err)
	}

	if err := yaml.Unmarshal(data, w); err != nil {
		return nil, fmt.Errorf("parsing wiring file: %w", err)
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}

	return w, nil
}

// Validate checks the table for internal consistency.
//
// Returns:
//   - error: ErrInvalidWiring listing every problem, joined with "; "
func (w *Wiring) Validate() error {
	var errs []string

	errs = append(errs, w.validateBuses()...)
	errs = append(errs, w.validateProperties()...)
	errs = append(errs, w.validateRules()...)
	errs = append(errs, w.validateCDU()...)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidWiring, strings.Join(errs, "; "))
	}
	return nil
}

func (w *Wiring) validateBuses() []string {
	var errs []string
	buses := make(map[uint8]bool)
	outputs := make(map[string]bool)

	for _, bus := range w.Buses {
		if buses[bus.Address] {
			errs = append(errs, fmt.Sprintf("duplicate bus address 0x%02X", bus.Address))
		}
		buses[bus.Address] = true

		used := make(map[gpio.BitAddress]string)
		for _, out := range bus.Outputs {
			addr := out.Address(bus.Address)
			if err := addr.Validate(); err != nil {
				errs = append(errs, fmt.Sprintf("output %q: %v", out.Name, err))
			}
			if out.Name == "" {
				errs = append(errs, fmt.Sprintf("output at %s has no name", addr))
			} else if outputs[out.Name] {
				errs = append(errs, fmt.Sprintf("duplicate output name %q", out.Name))
			}
			outputs[out.Name] = true
			if other, ok := used[addr]; ok {
				errs = append(errs, fmt.Sprintf("output %q shares %s with %q", out.Name, addr, other))
			}
			used[addr] = out.Name
		}

		triggers := make(map[string]bool)
		for _, in := range bus.Inputs {
			addr := in.Address(bus.Address)
			if err := addr.Validate(); err != nil {
				errs = append(errs, fmt.Sprintf("input %q: %v", in.Name, err))
			}
			if other, ok := used[addr]; ok {
				errs = append(errs, fmt.Sprintf("input %q shares %s with output %q", in.Name, addr, other))
			}
			trigger, err := gpio.ParseTrigger(in.Trigger)
			if err != nil {
				errs = append(errs, fmt.Sprintf("input %q: %v", in.Name, err))
			} else {
				key := addr.String() + "/" + trigger.String()
				if triggers[key] {
					errs = append(errs, fmt.Sprintf("input %q duplicates trigger %s on %s", in.Name, trigger, addr))
				}
				triggers[key] = true
			}
			if (in.Set == "") == (in.Run == "") {
				errs = append(errs, fmt.Sprintf("input %q needs exactly one of set or run", in.Name))
			}
		}
	}

	if w.LinkIndicator != "" && !outputs[w.LinkIndicator] {
		errs = append(errs, fmt.Sprintf("link_indicator %q is not a declared output", w.LinkIndicator))
	}

	return errs
}

func (w *Wiring) validateProperties() []string {
	var errs []string
	seen := make(map[string]bool)

	for _, p := range w.Properties {
		if !strings.HasPrefix(p.Path, "/") {
			errs = append(errs, fmt.Sprintf("property %q must be an absolute path", p.Path))
			continue
		}
		key := CanonicalPath(p.Path)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("duplicate property %q", p.Path))
		}
		seen[key] = true
	}

	return errs
}

func (w *Wiring) validateRules() []string {
	var errs []string

	props := make(map[string]bool, len(w.Properties))
	for _, p := range w.Properties {
		props[CanonicalPath(p.Path)] = true
	}
	outputs := make(map[string]bool)
	for _, bus := range w.Buses {
		for _, out := range bus.Outputs {
			outputs[out.Name] = true
		}
	}

	for _, lamp := range w.Lamps {
		if !props[CanonicalPath(lamp.Property)] {
			errs = append(errs, fmt.Sprintf("lamp %q references undeclared property %q", lamp.Output, lamp.Property))
		}
		if !outputs[lamp.Output] {
			errs = append(errs, fmt.Sprintf("lamp references undeclared output %q", lamp.Output))
		}
		if lamp.When.IsZero() {
			errs = append(errs, fmt.Sprintf("lamp %q has no bounds in when", lamp.Output))
		}
	}

	channels := make(map[int]bool)
	for _, servo := range w.Servos {
		if !props[CanonicalPath(servo.Property)] {
			errs = append(errs, fmt.Sprintf("servo %d references undeclared property %q", servo.Channel, servo.Property))
		}
		if servo.Channel < 0 {
			errs = append(errs, fmt.Sprintf("servo channel %d must not be negative", servo.Channel))
		}
		if channels[servo.Channel] {
			errs = append(errs, fmt.Sprintf("duplicate servo channel %d", servo.Channel))
		}
		channels[servo.Channel] = true
		if _, err := servo.ParseCurve(); err != nil {
			errs = append(errs, strings.TrimPrefix(err.Error(), ErrInvalidWiring.Error()+": "))
		}
	}

	return errs
}

func (w *Wiring) validateCDU() []string {
	var errs []string
	if w.CDU.Index < 0 {
		errs = append(errs, "cdu.index must not be negative")
	}
	if _, unknown := cdu.KeysWithRelease(w.CDU.ReleaseKeys...); len(unknown) > 0 {
		errs = append(errs, fmt.Sprintf("cdu.release_keys has unknown keys %v", unknown))
	}
	if _, err := w.CDU.Reports(); err != nil {
		errs = append(errs, strings.TrimPrefix(err.Error(), ErrInvalidWiring.Error()+": "))
	}
	return errs
}

// Default wiring addresses.
const (
	GearBus    uint8 = 0x20
	SixpackBus uint8 = 0x21
)

// Gear indication thresholds on position-norm.
const (
	GearDownLocked = 0.98
	GearUpLocked   = 0.02
)

// DefaultWiring returns the gear panel and sixpack layout.
//
// The gear bus carries the lever switches on port 0 bits 0 and 1, then a
// pair of lamps per gear leg: "unsafe" while in transit, "locked" once down.
// The sixpack bus carries six caution lamps on port 0 and their push
// buttons on port 1.
func DefaultWiring() *Wiring {
	w := &Wiring{
		CDU: CDUWiring{ReleaseKeys: append([]string(nil), cdu.DefaultReleaseKeys...)},
	}

	gear := BusWiring{
		Address: GearBus,
		Inputs: []InputWiring{
			{Name: "gear-up", Port: 0, Bit: 0, Trigger: "rising", Set: "/controls/gear/gear-down", Value: "0"},
			{Name: "gear-down", Port: 0, Bit: 1, Trigger: "rising", Set: "/controls/gear/gear-down", Value: "1"},
		},
	}

	for leg := range 3 {
		path := fmt.Sprintf("/gear/gear[%d]/position-norm", leg)
		unsafe := fmt.Sprintf("gear%d-unsafe", leg)
		locked := fmt.Sprintf("gear%d-locked", leg)
		bit := uint8(2 + 2*leg)

		gear.Outputs = append(gear.Outputs,
			OutputWiring{Name: unsafe, Port: 0, Bit: bit},
			OutputWiring{Name: locked, Port: 0, Bit: bit + 1},
		)
		w.Properties = append(w.Properties, PropertyWiring{Path: path, Sync: true, Subscribe: true})
		w.Lamps = append(w.Lamps,
			LampRule{Property: path, Output: unsafe, When: Range{GT: ptr(GearUpLocked), LE: ptr(GearDownLocked)}},
			LampRule{Property: path, Output: locked, When: Range{GE: ptr(GearDownLocked)}},
		)
	}

	sixpack := BusWiring{Address: SixpackBus}
	for i, name := range []string{"flt-cont", "elec", "irs", "fuel", "apu", "ovht-det"} {
		path := "/instrumentation/annunciators/sixpack/" + name
		lamp := "sixpack-" + name
		bit := uint8(i)

		sixpack.Outputs = append(sixpack.Outputs, OutputWiring{Name: lamp, Port: 0, Bit: bit})
		sixpack.Inputs = append(sixpack.Inputs, InputWiring{
			Name: lamp + "-button", Port: 1, Bit: bit, Trigger: "either",
			Set: path + "-pressed",
		})
		w.Properties = append(w.Properties, PropertyWiring{Path: path, Sync: true, Subscribe: true})
		w.Lamps = append(w.Lamps, LampRule{Property: path, Output: lamp, When: Range{GE: ptr(0.5)}})
	}

	w.Buses = []BusWiring{gear, sixpack}
	return w
}

func ptr(v float64) *float64 {
	return &v
}
