package bridge

import "time"

// State is the orchestrator state.
type State int

// Orchestrator states.
const (
	StateIdle State = iota
	StateConnecting
	StateSyncing
	StateSteady
	StateBackoff
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSyncing:
		return "syncing"
	case StateSteady:
		return "steady"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Backoff defaults.
const (
	DefaultBackoffFloor   = 4 * time.Second
	DefaultBackoffCeiling = 30 * time.Second
)

// Backoff computes reconnect delays: Floor on the first failure, doubling
// on each further failure, capped at Ceiling.
//
// The zero value uses the defaults.
type Backoff struct {
	Floor   time.Duration
	Ceiling time.Duration

	current time.Duration
}

// Next returns the delay before the next attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	floor, ceiling := b.Floor, b.Ceiling
	if floor <= 0 {
		floor = DefaultBackoffFloor
	}
	if ceiling < floor {
		ceiling = max(floor, DefaultBackoffCeiling)
	}

	if b.current == 0 {
		b.current = floor
	} else {
		b.current = min(b.current*2, ceiling)
	}
	return b.current
}

// Reset returns the sequence to the floor after a successful connect.
func (b *Backoff) Reset() {
	b.current = 0
}
