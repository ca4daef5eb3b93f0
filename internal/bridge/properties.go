package bridge

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nerrad567/cockpit-bridge/internal/fgfs"
	"github.com/nerrad567/cockpit-bridge/internal/gpio"
)

// CanonicalPath normalises a property path so that "/gear/gear[0]/x" and
// "/gear/gear/x" compare equal. The server omits "[0]" in pushes.
func CanonicalPath(path string) string {
	return strings.ReplaceAll(strings.TrimSpace(path), "[0]", "")
}

// ParseValue converts a raw property value to a number.
// Booleans map to 1 and 0.
func ParseValue(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v, nil
	}
	if b, err := fgfs.ParseBool(raw); err == nil {
		if b {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidValue, raw)
}

// Range is a set of optional bounds. A value is inside the range when it
// satisfies every bound that is set.
type Range struct {
	GT *float64 `yaml:"gt,omitempty"`
	GE *float64 `yaml:"ge,omitempty"`
	LT *float64 `yaml:"lt,omitempty"`
	LE *float64 `yaml:"le,omitempty"`
}

// IsZero reports whether no bound is set.
func (r Range) IsZero() bool {
	return r.GT == nil && r.GE == nil && r.LT == nil && r.LE == nil
}

// Contains reports whether v satisfies every bound.
func (r Range) Contains(v float64) bool {
	if r.GT != nil && !(v > *r.GT) {
		return false
	}
	if r.GE != nil && !(v >= *r.GE) {
		return false
	}
	if r.LT != nil && !(v < *r.LT) {
		return false
	}
	if r.LE != nil && !(v <= *r.LE) {
		return false
	}
	return true
}

// Point is one curve breakpoint: property value X maps to pulse Y.
type Point struct {
	X float64
	Y float64
}

// Curve is a two-segment piecewise-linear map from property value to
// servo pulse. Inputs outside the first and last breakpoints clamp.
type Curve [3]Point

// Eval returns the rounded pulse for x.
func (c Curve) Eval(x float64) int {
	switch {
	case math.IsNaN(x) || x <= c[0].X:
		return int(math.Round(c[0].Y))
	case x >= c[2].X:
		return int(math.Round(c[2].Y))
	}

	lo, hi := c[0], c[1]
	if x > c[1].X {
		lo, hi = c[1], c[2]
	}
	t := (x - lo.X) / (hi.X - lo.X)
	return int(math.Round(lo.Y + t*(hi.Y-lo.Y)))
}

// Servo pulse bounds of the default gauge curve, in PWM ticks.
const (
	ServoMinPulse = 150
	ServoMaxPulse = 600
)

// ServoDriver sets PWM pulse widths on a servo controller.
type ServoDriver interface {
	SetPulse(channel int, ticks int) error
}

// Property is the last value received for one property.
type Property struct {
	Path  string
	Raw   string
	Value float64
	Valid bool
}

// lampRoute drives one output from one property.
type lampRoute struct {
	rule   LampRule
	output *gpio.OutputBinding
}

// servoRoute drives one servo channel from one property.
type servoRoute struct {
	rule  ServoRule
	curve Curve
	last  int
	sent  bool
}

// PropertyRouter stores property values and applies them to lamp and servo
// rules.
//
// Thread Safety:
//   - Not safe for concurrent use; owned by the bridge loop.
type PropertyRouter struct {
	props  map[string]*Property
	order  []string
	lamps  map[string][]*lampRoute
	servos map[string][]*servoRoute
	driver ServoDriver
}

// NewPropertyRouter builds a router for the declared properties.
//
// Parameters:
//   - w: Validated wiring table
//   - outputs: Output bindings by name
//   - servos: Servo driver; may be nil when no servo rules exist
//
// Returns:
//   - *PropertyRouter: Router with every property invalid
//   - error: ErrInvalidWiring if a rule references a missing output
func NewPropertyRouter(w *Wiring, outputs map[string]*gpio.OutputBinding, servos ServoDriver) (*PropertyRouter, error) {
	r := &PropertyRouter{
		props:  make(map[string]*Property, len(w.Properties)),
		lamps:  make(map[string][]*lampRoute),
		servos: make(map[string][]*servoRoute),
		driver: servos,
	}

	for _, p := range w.Properties {
		key := CanonicalPath(p.Path)
		r.props[key] = &Property{Path: p.Path}
		r.order = append(r.order, key)
	}

	for _, lamp := range w.Lamps {
		out, ok := outputs[lamp.Output]
		if !ok {
			return nil, fmt.Errorf("%w: lamp output %q not bound", ErrInvalidWiring, lamp.Output)
		}
		key := CanonicalPath(lamp.Property)
		r.lamps[key] = append(r.lamps[key], &lampRoute{rule: lamp, output: out})
	}

	for _, servo := range w.Servos {
		if servos == nil {
			return nil, fmt.Errorf("%w: servo channel %d has no driver", ErrInvalidWiring, servo.Channel)
		}
		curve, err := servo.ParseCurve()
		if err != nil {
			return nil, err
		}
		key := CanonicalPath(servo.Property)
		r.servos[key] = append(r.servos[key], &servoRoute{rule: servo, curve: curve})
	}

	return r, nil
}

// Apply stores a raw value and drives every rule bound to the property.
//
// Parameters:
//   - path: Property path as received; "[0]" indices are ignored
//   - raw: Raw value text
//   - force: Re-drive outputs even when the value did not change
//
// Returns:
//   - bool: Whether the stored value changed
//   - error: ErrUnknownProperty, ErrInvalidValue, or a servo driver error
func (r *PropertyRouter) Apply(path, raw string, force bool) (bool, error) {
	key := CanonicalPath(path)
	prop, ok := r.props[key]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownProperty, path)
	}

	value, err := ParseValue(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}

	changed := !prop.Valid || prop.Value != value
	prop.Raw = strings.TrimSpace(raw)
	prop.Value = value
	prop.Valid = true

	if !changed && !force {
		return false, nil
	}

	for _, lamp := range r.lamps[key] {
		lamp.output.SetState(lamp.rule.When.Contains(value))
		if force {
			lamp.output.Refresh()
		}
	}

	var servoErr error
	for _, s := range r.servos[key] {
		ticks := s.curve.Eval(value)
		if s.sent && ticks == s.last && !force {
			continue
		}
		if err := r.driver.SetPulse(s.rule.Channel, ticks); err != nil {
			servoErr = fmt.Errorf("servo channel %d: %w", s.rule.Channel, err)
			continue
		}
		s.last = ticks
		s.sent = true
	}

	return changed, servoErr
}

// Get returns the stored property.
func (r *PropertyRouter) Get(path string) (Property, bool) {
	prop, ok := r.props[CanonicalPath(path)]
	if !ok {
		return Property{}, false
	}
	return *prop, true
}

// Known reports whether path is a declared property.
func (r *PropertyRouter) Known(path string) bool {
	_, ok := r.props[CanonicalPath(path)]
	return ok
}

// Invalidate marks every property stale, so the next value re-drives its
// rules.
func (r *PropertyRouter) Invalidate() {
	for _, key := range r.order {
		r.props[key].Valid = false
	}
}
