package gpio

import (
	"fmt"
	"strings"
)

// Trigger selects which transitions fire an InputBinding.
type Trigger int

const (
	// TriggerEither fires on every change.
	TriggerEither Trigger = iota

	// TriggerRising fires only on 0 -> 1.
	TriggerRising

	// TriggerFalling fires only on 1 -> 0.
	TriggerFalling
)

// String returns the configuration name of the trigger.
func (t Trigger) String() string {
	switch t {
	case TriggerEither:
		return "either"
	case TriggerRising:
		return "rising"
	case TriggerFalling:
		return "falling"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

// ParseTrigger parses "either", "rising" or "falling".
// An empty string means TriggerEither.
func ParseTrigger(s string) (Trigger, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "either", "any", "both":
		return TriggerEither, nil
	case "rising", "high", "press":
		return TriggerRising, nil
	case "falling", "low", "release":
		return TriggerFalling, nil
	default:
		return TriggerEither, fmt.Errorf("%w: %q", ErrInvalidTrigger, s)
	}
}

// fires reports whether a transition to level qualifies.
func (t Trigger) fires(level bool) bool {
	switch t {
	case TriggerRising:
		return level
	case TriggerFalling:
		return !level
	default:
		return true
	}
}

// EdgeHandler receives the new level of a bit after a qualifying transition.
type EdgeHandler interface {
	OnEdge(level bool)
}

// EdgeFunc adapts an ordinary function to EdgeHandler.
type EdgeFunc func(level bool)

// OnEdge calls f(level).
func (f EdgeFunc) OnEdge(level bool) {
	f(level)
}

// InputBinding watches one bit and calls its handler on qualifying edges.
//
// The last observed level starts low, matching the power-on default of a
// pulled-down input, so a baseline read of 0 never fires.
type InputBinding struct {
	Addr    BitAddress
	Trigger Trigger

	last    bool
	handler EdgeHandler
}

// Level returns the last observed level.
func (b *InputBinding) Level() bool {
	return b.last
}

// observe records level and fires the handler if the transition qualifies.
// Returns true if the handler was called.
func (b *InputBinding) observe(level bool) bool {
	if level == b.last {
		return false
	}
	b.last = level

	if !b.Trigger.fires(level) {
		return false
	}
	b.handler.OnEdge(level)
	return true
}

// changeNotifier is told when an output needs its port rewritten.
type changeNotifier interface {
	outputChanged(port uint8)
}

// OutputBinding drives one bit of an output port.
//
// SetState only marks the port dirty; the write happens at the next
// Poller.Update, so several changes to the same port cost one write.
type OutputBinding struct {
	Addr BitAddress

	state    bool
	notifier changeNotifier
}

// SetState sets the desired level. Repeating the current level is a no-op.
func (o *OutputBinding) SetState(on bool) {
	if o.state == on {
		return
	}
	o.state = on
	o.Refresh()
}

// State returns the desired level.
func (o *OutputBinding) State() bool {
	return o.state
}

// Refresh marks the port dirty without changing the state, forcing a
// rewrite at the next Update.
func (o *OutputBinding) Refresh() {
	if o.notifier != nil {
		o.notifier.outputChanged(o.Addr.Port)
	}
}
