package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/cockpit-bridge/internal/cdu"
	"github.com/nerrad567/cockpit-bridge/internal/fgfs"
	"github.com/nerrad567/cockpit-bridge/internal/gpio"
)

// Timing defaults.
const (
	// DefaultPollTimeout is the link wait per tick (20 Hz).
	DefaultPollTimeout = 50 * time.Millisecond

	// DefaultKeepaliveInterval is the idle time before a probe is sent.
	DefaultKeepaliveInterval = 10 * time.Second

	// DefaultStatusInterval is how often status is published.
	DefaultStatusInterval = 30 * time.Second

	// DefaultSyncRetries is the number of initial sync rounds.
	DefaultSyncRetries = 3

	// DefaultQueueSize bounds the outbound command queue.
	DefaultQueueSize = 256
)

// LineClient is the simulator link used by the bridge.
type LineClient interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Write(line string) error
	Poll(h fgfs.LineHandler, timeout time.Duration) error
	Close() error
	Subscribe(path string) error
	Probe() error
	SyncGet(path string, timeout time.Duration) (string, error)
	LastActivity() time.Time
	Stats() fgfs.Stats
	Address() string
}

// Compile-time check that the simulator client satisfies LineClient.
var _ LineClient = (*fgfs.Client)(nil)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures a Bridge.
type Options struct {
	// BridgeID identifies this bridge in status and telemetry.
	// Default: "cockpit".
	BridgeID string

	// Version is reported in status messages.
	Version string

	// Client is the simulator link. Required.
	Client LineClient

	// Wiring is the hardware mapping. Required.
	Wiring *Wiring

	// Ports drives the GPIO expanders. Required when Wiring has buses.
	Ports gpio.PortDriver

	// Keypads are the packetized keypad transports, one per CDU.
	Keypads []cdu.ReportSource

	// Servos drives gauge servos. Required when Wiring has servos.
	Servos ServoDriver

	// Publisher, Metrics and Journal are optional outbound sinks.
	Publisher Publisher
	Metrics   MetricsWriter
	Journal   Journal

	Logger Logger

	PollTimeout       time.Duration
	SyncTimeout       time.Duration
	SyncRetries       int
	KeepaliveInterval time.Duration
	StatusInterval    time.Duration
	QueueSize         int
	Backoff           Backoff

	// Sleep waits for d or until ctx is done. Default: a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// Bridge is the orchestrator state machine.
//
// Thread Safety:
//   - Step and Run must be called from one goroutine.
//   - Stats may be read from any goroutine.
type Bridge struct {
	opts   Options
	client LineClient
	wiring *Wiring

	pollers  []*gpio.Poller
	outputs  map[string]*gpio.OutputBinding
	decoders []*cdu.Decoder
	router   *PropertyRouter
	link     *gpio.OutputBinding

	state   State
	backoff Backoff
	lastErr error
	queue   []string

	pendingJournal []string

	session      string
	sessionStart time.Time
	startTime    time.Time
	lastStatus   time.Time

	reconnects      atomic.Uint64
	protocolErrors  atomic.Uint64
	droppedCommands atomic.Uint64
	inputEdges      atomic.Uint64
	keyEvents       atomic.Uint64
	stateValue      atomic.Int32
}

// New builds a bridge, opens every port poller and initialises every keypad.
//
// Hardware failures here are returned; they are the only fatal errors of
// the bridge.
//
// Returns:
//   - *Bridge: Bridge in StateIdle
//   - error: Validation, hardware configuration or keypad init failure
func New(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("bridge: client is required")
	}
	if opts.Wiring == nil {
		return nil, fmt.Errorf("bridge: wiring is required")
	}
	if err := opts.Wiring.Validate(); err != nil {
		return nil, err
	}
	if len(opts.Wiring.Buses) > 0 && opts.Ports == nil {
		return nil, fmt.Errorf("bridge: port driver is required for %d buses", len(opts.Wiring.Buses))
	}
	applyDefaults(&opts)

	b := &Bridge{
		opts:      opts,
		client:    opts.Client,
		wiring:    opts.Wiring,
		outputs:   make(map[string]*gpio.OutputBinding),
		backoff:   opts.Backoff,
		queue:     make([]string, 0, opts.QueueSize),
		startTime: opts.Now(),
	}

	if err := b.attachBuses(); err != nil {
		return nil, err
	}

	router, err := NewPropertyRouter(b.wiring, b.outputs, opts.Servos)
	if err != nil {
		return nil, err
	}
	b.router = router

	if name := b.wiring.LinkIndicator; name != "" {
		b.link = b.outputs[name]
		b.link.SetState(true)
	}

	for _, p := range b.pollers {
		if err := p.Open(); err != nil {
			return nil, err
		}
	}

	if err := b.attachKeypads(); err != nil {
		return nil, err
	}

	return b, nil
}

func applyDefaults(opts *Options) {
	if opts.BridgeID == "" {
		opts.BridgeID = "cockpit"
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.SyncRetries <= 0 {
		opts.SyncRetries = DefaultSyncRetries
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.StatusInterval == 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
}

// attachBuses creates one poller per bus and registers its bindings.
func (b *Bridge) attachBuses() error {
	for _, bus := range b.wiring.Buses {
		p := gpio.NewPoller(bus.Address, b.opts.Ports)
		if b.opts.Logger != nil {
			p.SetLogger(b.opts.Logger)
		}

		for _, out := range bus.Outputs {
			binding, err := p.AddOutput(out.Address(bus.Address))
			if err != nil {
				return fmt.Errorf("output %q: %w", out.Name, err)
			}
			b.outputs[out.Name] = binding
		}

		for _, in := range bus.Inputs {
			trigger, err := gpio.ParseTrigger(in.Trigger)
			if err != nil {
				return fmt.Errorf("input %q: %w", in.Name, err)
			}
			if _, err := p.AddInput(in.Address(bus.Address), trigger, b.inputAction(in)); err != nil {
				return fmt.Errorf("input %q: %w", in.Name, err)
			}
		}

		b.pollers = append(b.pollers, p)
	}
	return nil
}

// attachKeypads creates and initialises one decoder per keypad.
func (b *Bridge) attachKeypads() error {
	keys, unknown := cdu.KeysWithRelease(b.wiring.CDU.ReleaseKeys...)
	if len(unknown) > 0 {
		return fmt.Errorf("%w: cdu.release_keys has unknown keys %v", ErrInvalidWiring, unknown)
	}
	reports, err := b.wiring.CDU.Reports()
	if err != nil {
		return err
	}

	for i, src := range b.opts.Keypads {
		opts := cdu.Options{
			CDU:         b.wiring.CDU.Index + i,
			Keys:        keys,
			InitReports: reports,
			Sink:        cdu.SinkFunc(b.enqueueLine),
			OnEvent:     b.onKeyEvent,
		}
		if b.opts.Logger != nil {
			opts.Logger = b.opts.Logger
		}

		d, err := cdu.NewDecoder(src, opts)
		if err != nil {
			return err
		}
		if err := d.Init(); err != nil {
			return err
		}
		b.decoders = append(b.decoders, d)
	}
	return nil
}

// inputAction builds the edge handler for one input.
func (b *Bridge) inputAction(in InputWiring) gpio.EdgeHandler {
	return gpio.EdgeFunc(func(level bool) {
		var line string
		if in.Run != "" {
			line = "run " + strings.TrimSpace(in.Run)
		} else {
			value := in.Value
			if value == "" {
				value = "0"
				if level {
					value = "1"
				}
			}
			line = "set " + in.Set + " " + value
		}

		b.inputEdges.Add(1)
		b.logDebug("input edge", "input", in.Name, "level", level)
		b.enqueueLine(line)
		b.writeMetric(measurementEdge,
			map[string]string{"input": in.Name},
			map[string]interface{}{"level": level},
		)
		b.publishEvent(EventInput, in.Name, level, line)
	})
}

func (b *Bridge) onKeyEvent(ev cdu.Event) {
	b.keyEvents.Add(1)
	b.writeMetric(measurementKey,
		map[string]string{"key": ev.Key.String()},
		map[string]interface{}{"pressed": ev.Pressed},
	)
	b.publishEvent(EventKey, ev.Key.String(), ev.Pressed, ev.Line)
}

// Enqueue adds a command line for the simulator.
//
// Lines are written during the next steady tick. While the link is down,
// or when the queue is full, the line is dropped.
//
// Returns:
//   - error: fgfs.ErrNotConnected or ErrQueueFull when the line was dropped
func (b *Bridge) Enqueue(line string) error {
	if !b.client.IsConnected() {
		b.droppedCommands.Add(1)
		return fmt.Errorf("%w: dropping %q", fgfs.ErrNotConnected, line)
	}
	if len(b.queue) >= b.opts.QueueSize {
		b.droppedCommands.Add(1)
		return fmt.Errorf("%w: dropping %q", ErrQueueFull, line)
	}
	b.queue = append(b.queue, line)
	return nil
}

func (b *Bridge) enqueueLine(line string) {
	if err := b.Enqueue(line); err != nil {
		b.logWarn("command dropped", "error", err)
	}
}

// Run steps the state machine until ctx is cancelled.
//
// On exit the link is closed, the link indicator is lit and a final
// "stopping" status is published.
//
// Returns:
//   - error: nil on cancellation
func (b *Bridge) Run(ctx context.Context) error {
	b.publish(HealthStarting, "bridge starting")

	for ctx.Err() == nil {
		b.Step(ctx)
	}

	b.shutdown(context.WithoutCancel(ctx))
	return nil
}

// Step runs one state machine step and returns the new state.
func (b *Bridge) Step(ctx context.Context) State {
	if ctx.Err() != nil {
		return b.state
	}

	switch b.state {
	case StateIdle:
		b.setState(ctx, StateConnecting, "start")
	case StateConnecting:
		b.connect(ctx)
	case StateSyncing:
		b.sync(ctx)
	case StateSteady:
		b.tick(ctx)
	case StateBackoff:
		b.wait(ctx)
	}

	return b.state
}

// State returns the current state.
func (b *Bridge) State() State {
	return State(b.stateValue.Load())
}

// Session returns the ID of the current simulator connection.
func (b *Bridge) Session() string {
	return b.session
}

// Property returns the last value received for path.
func (b *Bridge) Property(path string) (Property, bool) {
	return b.router.Get(path)
}

// Output returns the named output binding.
func (b *Bridge) Output(name string) (*gpio.OutputBinding, bool) {
	o, ok := b.outputs[name]
	return o, ok
}

// Pollers returns the port pollers in wiring order.
func (b *Bridge) Pollers() []*gpio.Poller {
	return b.pollers
}

// Decoders returns the keypad decoders.
func (b *Bridge) Decoders() []*cdu.Decoder {
	return b.decoders
}

// Queued returns the number of lines waiting to be written.
func (b *Bridge) Queued() int {
	return len(b.queue)
}

func (b *Bridge) connect(ctx context.Context) {
	if err := b.client.Connect(ctx); err != nil {
		b.fail(ctx, "connect", err)
		return
	}

	b.backoff.Reset()
	b.session = uuid.NewString()
	b.sessionStart = b.now()
	b.reconnects.Add(1)
	b.lastErr = nil

	b.logInfo("simulator connected", "address", b.client.Address(), "session", b.session)
	b.setState(ctx, StateSyncing, "connected")
}

// sync reads every synchronised property, retrying only the failures, then
// subscribes and forces every actuator to match.
func (b *Bridge) sync(ctx context.Context) {
	values := make(map[string]string)
	var pending []string
	for _, p := range b.wiring.Properties {
		if p.Sync {
			pending = append(pending, p.Path)
		}
	}

	for round := 0; round < b.opts.SyncRetries && len(pending) > 0; round++ {
		var failed []string
		for _, path := range pending {
			reply, err := b.client.SyncGet(path, b.opts.SyncTimeout)
			if err != nil {
				if !b.client.IsConnected() {
					b.fail(ctx, "sync", err)
					return
				}
				b.logDebug("initial read failed", "path", path, "round", round+1, "error", err)
				failed = append(failed, path)
				continue
			}
			values[path] = replyValue(reply)
		}
		pending = failed
	}

	if len(pending) > 0 {
		err := fmt.Errorf("%w: %d properties unanswered: %s",
			ErrSyncFailed, len(pending), strings.Join(pending, ", "))
		b.record(ctx, JournalSyncFailure, err.Error())
		b.client.Close() //nolint:errcheck // Best-effort, we are giving up on this session
		b.fail(ctx, "sync", err)
		return
	}

	for _, p := range b.wiring.Properties {
		if !p.Subscribe {
			continue
		}
		if err := b.client.Subscribe(p.Path); err != nil {
			b.fail(ctx, "subscribe", err)
			return
		}
	}

	b.router.Invalidate()
	for _, p := range b.wiring.Properties {
		raw, ok := values[p.Path]
		if !ok {
			continue
		}
		b.applyValue(p.Path, raw, true)
	}

	if b.link != nil {
		b.link.SetState(false)
	}
	for _, p := range b.pollers {
		p.MarkAllDirty()
	}

	b.setState(ctx, StateSteady, "initial state synchronised")
}

// replyValue extracts the value from a get reply, which is either the bare
// value or "<path>=<value>".
func replyValue(reply string) string {
	if _, value, ok := fgfs.ParsePush(reply); ok {
		return value
	}
	return strings.TrimSpace(reply)
}

// tick runs one steady-state cycle.
func (b *Bridge) tick(ctx context.Context) {
	if err := b.client.Poll(b.handleLine, b.opts.PollTimeout); err != nil {
		b.fail(ctx, "poll", err)
		return
	}

	for _, d := range b.decoders {
		if err := d.Poll(); err != nil {
			b.logDebug("keypad poll failed", "cdu", d.CDU(), "error", err)
		}
	}

	b.updatePollers()
	b.flushJournal(ctx)

	if err := b.drain(); err != nil {
		b.fail(ctx, "write", err)
		return
	}

	now := b.now()
	if now.Sub(b.client.LastActivity()) >= b.opts.KeepaliveInterval {
		if err := b.client.Probe(); err != nil {
			b.fail(ctx, "keepalive", err)
			return
		}
	}

	if b.statusDue(now) {
		b.publishStatus()
	}
}

// drain writes every queued line in order.
func (b *Bridge) drain() error {
	for len(b.queue) > 0 {
		line := b.queue[0]
		if err := b.client.Write(line); err != nil {
			b.droppedCommands.Add(uint64(len(b.queue)))
			b.queue = b.queue[:0]
			return err
		}
		b.queue = b.queue[1:]
	}
	b.queue = b.queue[:0]
	return nil
}

func (b *Bridge) updatePollers() {
	for _, p := range b.pollers {
		if err := p.Update(); err != nil {
			b.logDebug("port update failed", "bus", fmt.Sprintf("0x%02X", p.Bus()), "error", err)
		}
	}
}

// handleLine demultiplexes one line received from the simulator.
func (b *Bridge) handleLine(line string) {
	if strings.TrimSpace(line) == "" || fgfs.IsProbeReply(line) {
		return
	}
	if strings.HasPrefix(line, "subscribe ") {
		return
	}

	path, value, ok := fgfs.ParsePush(line)
	if !ok {
		b.protocolError(fmt.Errorf("%w: %q", ErrUnexpectedLine, line))
		return
	}

	b.applyValue(path, value, false)
}

func (b *Bridge) applyValue(path, raw string, force bool) {
	changed, err := b.router.Apply(path, raw, force)
	if err != nil {
		if errors.Is(err, ErrUnknownProperty) || errors.Is(err, ErrInvalidValue) {
			b.protocolError(err)
			return
		}
		b.logWarn("servo update failed", "path", path, "error", err)
	}
	if !changed {
		return
	}

	prop, _ := b.router.Get(path)
	b.writeMetric(measurementProperty,
		map[string]string{"path": CanonicalPath(path)},
		map[string]interface{}{"value": prop.Value},
	)
}

// protocolError counts and logs a skipped line. Journal entries are written
// from the tick, which owns the context.
func (b *Bridge) protocolError(err error) {
	b.protocolErrors.Add(1)
	b.logWarn("skipping simulator line", "error", err)
	b.pendingJournal = append(b.pendingJournal, err.Error())
}

func (b *Bridge) flushJournal(ctx context.Context) {
	for _, detail := range b.pendingJournal {
		b.record(ctx, JournalProtocolError, detail)
	}
	b.pendingJournal = b.pendingJournal[:0]
}

// fail closes the link after an error and enters Backoff.
func (b *Bridge) fail(ctx context.Context, stage string, err error) {
	b.lastErr = fmt.Errorf("%s: %w", stage, err)
	b.flushJournal(ctx)

	if b.client.IsConnected() {
		b.client.Close() //nolint:errcheck // Close is best-effort
	}
	if n := len(b.queue); n > 0 {
		b.droppedCommands.Add(uint64(n))
		b.queue = b.queue[:0]
	}

	b.logWarn("simulator link failed", "stage", stage, "error", err)
	b.record(ctx, JournalLinkError, b.lastErr.Error())
	b.setState(ctx, StateBackoff, b.lastErr.Error())
}

// wait lights the link indicator, keeps the panel alive and sleeps before
// the next connection attempt.
func (b *Bridge) wait(ctx context.Context) {
	delay := b.backoff.Next()

	if b.link != nil {
		b.link.SetState(true)
	}
	b.updatePollers()

	b.logInfo("reconnecting after backoff", "delay", delay.String(), "address", b.client.Address())

	if err := b.opts.Sleep(ctx, delay); err != nil {
		return
	}
	b.setState(ctx, StateConnecting, "backoff elapsed")
}

// setState performs a transition and reports it to every sink.
func (b *Bridge) setState(ctx context.Context, next State, reason string) {
	if next == b.state {
		return
	}
	prev := b.state
	b.state = next
	b.stateValue.Store(int32(next))

	b.logDebug("state change", "from", prev.String(), "to", next.String(), "reason", reason)

	b.writeMetric(measurementLink,
		map[string]string{"state": next.String()},
		map[string]interface{}{
			"connected": next == StateSteady,
			"state":     int(next),
		},
	)
	b.record(ctx, JournalState, prev.String()+" -> "+next.String()+": "+reason)
	b.publishStatus()
}

func (b *Bridge) shutdown(ctx context.Context) {
	b.flushJournal(ctx)

	if b.client.IsConnected() {
		b.client.Close() //nolint:errcheck // Best-effort during shutdown
	}
	if b.link != nil {
		b.link.SetState(true)
	}
	b.updatePollers()

	b.record(ctx, JournalState, b.state.String()+" -> stopped: shutdown")
	b.publish(HealthStopping, "shutdown")
	b.logInfo("bridge stopped", "state", b.state.String())
}

func (b *Bridge) now() time.Time {
	return b.opts.Now()
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.opts.Logger != nil {
		b.opts.Logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.opts.Logger != nil {
		b.opts.Logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.opts.Logger != nil {
		b.opts.Logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if b.opts.Logger != nil {
		b.opts.Logger.Error(msg, "error", err)
	}
}
