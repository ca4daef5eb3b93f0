package bridge

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/cockpit-bridge/internal/cdu"
	"github.com/nerrad567/cockpit-bridge/internal/gpio"
)

// testClock is a manually advanced clock.
type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type testRig struct {
	bridge  *Bridge
	client  *mockLineClient
	ports   *mockPortDriver
	clock   *testClock
	sleeps  []time.Duration
	journal *mockJournal
	pub     *mockPublisher
	metrics *mockMetrics
}

func newTestRig(t *testing.T, w *Wiring, mutate func(*Options)) *testRig {
	t.Helper()

	rig := &testRig{
		client:  newMockLineClient(),
		ports:   newMockPortDriver(),
		clock:   &testClock{t: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)},
		journal: &mockJournal{},
		pub:     &mockPublisher{},
		metrics: &mockMetrics{},
	}
	rig.client.lastActivity = rig.clock.t

	for _, p := range w.Properties {
		rig.client.values[p.Path] = "0"
	}

	opts := Options{
		BridgeID:  "test",
		Client:    rig.client,
		Wiring:    w,
		Ports:     rig.ports,
		Publisher: rig.pub,
		Metrics:   rig.metrics,
		Journal:   rig.journal,
		Now:       rig.clock.Now,
		Sleep: func(_ context.Context, d time.Duration) error {
			rig.sleeps = append(rig.sleeps, d)
			return nil
		},
	}
	if mutate != nil {
		mutate(&opts)
	}

	b, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rig.bridge = b
	return rig
}

// steady steps the bridge from Idle to Steady.
func (r *testRig) steady(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for range 3 {
		r.bridge.Step(ctx)
	}
	if got := r.bridge.State(); got != StateSteady {
		t.Fatalf("State() = %v, want %v (last error: %v)", got, StateSteady, r.bridge.lastErr)
	}
}

func TestBridge_GearDownAndLocked(t *testing.T) {
	rig := newTestRig(t, DefaultWiring(), nil)
	rig.steady(t)

	rig.client.push("/gear/gear[0]/position-norm=0.99")
	rig.bridge.Step(context.Background())

	locked, _ := rig.bridge.Output("gear0-locked")
	unsafe, _ := rig.bridge.Output("gear0-unsafe")
	if !locked.State() {
		t.Error("gear0-locked = false, want true")
	}
	if unsafe.State() {
		t.Error("gear0-unsafe = true, want false")
	}

	value, ok := rig.ports.last(GearBus, 0)
	if !ok {
		t.Fatal("no write to gear port")
	}
	if want := gpio.Bits(0).Set(3); value != want {
		t.Errorf("gear port = %s, want %s", value, want)
	}
}

func TestBridge_PushWithoutIndexAliasesFirstGear(t *testing.T) {
	rig := newTestRig(t, DefaultWiring(), nil)
	rig.steady(t)

	rig.client.push("/gear/gear/position-norm=0.5", "/gear/gear[2]/position-norm=1")
	rig.bridge.Step(context.Background())

	tests := []struct {
		output string
		want   bool
	}{
		{"gear0-unsafe", true},
		{"gear0-locked", false},
		{"gear2-unsafe", false},
		{"gear2-locked", true},
		{"gear1-unsafe", false},
	}
	for _, tt := range tests {
		o, _ := rig.bridge.Output(tt.output)
		if o.State() != tt.want {
			t.Errorf("%s = %v, want %v", tt.output, o.State(), tt.want)
		}
	}

	p, ok := rig.bridge.Property("/gear/gear[0]/position-norm")
	if !ok || p.Value != 0.5 {
		t.Errorf("Property() = %+v, %v, want value 0.5", p, ok)
	}
}

func TestBridge_SyncSubscribesAndForcesOutputs(t *testing.T) {
	w := DefaultWiring()
	rig := newTestRig(t, w, nil)
	rig.client.values["/gear/gear[1]/position-norm"] = "1"
	rig.client.values["/instrumentation/annunciators/sixpack/fuel"] = "true"
	rig.steady(t)

	if got := len(rig.client.lines("get ")); got != len(w.Properties) {
		t.Errorf("get lines = %d, want %d", got, len(w.Properties))
	}
	if got := len(rig.client.lines("subscribe ")); got != len(w.Properties) {
		t.Errorf("subscribe lines = %d, want %d", got, len(w.Properties))
	}

	rig.bridge.Step(context.Background())

	if v, _ := rig.ports.last(GearBus, 0); v != gpio.Bits(0).Set(5) {
		t.Errorf("gear port = %s, want gear1-locked only", v)
	}
	if v, _ := rig.ports.last(SixpackBus, 0); v != gpio.Bits(0).Set(3) {
		t.Errorf("sixpack lamps = %s, want fuel only", v)
	}
	if rig.bridge.Session() == "" {
		t.Error("Session() is empty after connect")
	}
}

func TestBridge_SyncRetriesOnlyFailingPaths(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantState State
	}{
		{"recovers on last round", 2, StateSteady},
		{"exhausts budget", 3, StateBackoff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := DefaultWiring()
			rig := newTestRig(t, w, nil)
			flaky := "/gear/gear[2]/position-norm"
			rig.client.getFails[flaky] = tt.failures

			ctx := context.Background()
			rig.bridge.Step(ctx)
			rig.bridge.Step(ctx)
			rig.bridge.Step(ctx)

			if got := rig.bridge.State(); got != tt.wantState {
				t.Fatalf("State() = %v, want %v", got, tt.wantState)
			}

			gets := rig.client.lines("get ")
			want := len(w.Properties) + min(tt.failures, DefaultSyncRetries-1)
			if len(gets) != want {
				t.Errorf("get lines = %d, want %d", len(gets), want)
			}

			if tt.wantState == StateBackoff {
				if !rig.journal.has(JournalSyncFailure) {
					t.Error("journal has no sync failure entry")
				}
				if rig.client.IsConnected() {
					t.Error("client still connected after sync failure")
				}
				if len(rig.client.lines("subscribe ")) != 0 {
					t.Error("subscribed despite failed sync")
				}
			}
		})
	}
}

func TestBridge_BackoffSequence(t *testing.T) {
	rig := newTestRig(t, DefaultWiring(), nil)
	for range 6 {
		rig.client.connectErr = append(rig.client.connectErr, errMockLinkDown)
	}

	ctx := context.Background()
	for range 40 {
		if rig.bridge.Step(ctx) == StateSteady {
			break
		}
	}

	want := []time.Duration{
		4 * time.Second, 8 * time.Second, 16 * time.Second,
		30 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	if !reflect.DeepEqual(rig.sleeps, want) {
		t.Errorf("sleeps = %v, want %v", rig.sleeps, want)
	}
	if rig.bridge.State() != StateSteady {
		t.Errorf("State() = %v, want %v", rig.bridge.State(), StateSteady)
	}

	// A later failure starts again from the floor.
	rig.client.pollErr = errMockLinkDown
	rig.bridge.Step(ctx)
	rig.client.pollErr = nil
	rig.bridge.Step(ctx)
	if got := rig.sleeps[len(rig.sleeps)-1]; got != 4*time.Second {
		t.Errorf("sleep after reconnect = %v, want 4s", got)
	}
}

func TestBridge_LinkIndicator(t *testing.T) {
	w := DefaultWiring()
	w.Buses[1].Outputs = append(w.Buses[1].Outputs, OutputWiring{Name: "link", Port: 0, Bit: 7})
	w.LinkIndicator = "link"

	rig := newTestRig(t, w, nil)
	if v, _ := rig.ports.last(SixpackBus, 0); !v.Test(7) {
		t.Errorf("link indicator off at startup, port = %s", v)
	}

	rig.steady(t)
	rig.bridge.Step(context.Background())
	if v, _ := rig.ports.last(SixpackBus, 0); v.Test(7) {
		t.Errorf("link indicator on while steady, port = %s", v)
	}

	rig.client.pollErr = errMockLinkDown
	rig.bridge.Step(context.Background())
	if rig.bridge.State() != StateBackoff {
		t.Fatalf("State() = %v, want %v", rig.bridge.State(), StateBackoff)
	}
	rig.bridge.Step(context.Background())
	if v, _ := rig.ports.last(SixpackBus, 0); !v.Test(7) {
		t.Errorf("link indicator off during backoff, port = %s", v)
	}
}

func TestBridge_InputEdgeWritesSet(t *testing.T) {
	rig := newTestRig(t, DefaultWiring(), nil)
	rig.steady(t)

	rig.ports.setLevel(GearBus, 0, gpio.Bits(0).Set(1))
	rig.bridge.Step(context.Background())

	rig.ports.setLevel(GearBus, 0, gpio.Bits(0).Set(0))
	rig.bridge.Step(context.Background())

	rig.ports.setLevel(SixpackBus, 1, gpio.Bits(0).Set(3))
	rig.bridge.Step(context.Background())
	rig.ports.setLevel(SixpackBus, 1, 0)
	rig.bridge.Step(context.Background())

	got := rig.client.lines("set ")
	want := []string{
		"set /controls/gear/gear-down 1",
		"set /controls/gear/gear-down 0",
		"set /instrumentation/annunciators/sixpack/fuel-pressed 1",
		"set /instrumentation/annunciators/sixpack/fuel-pressed 0",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("set lines = %q, want %q", got, want)
	}
	if rig.pub.count(EventTopic("test")) != len(want) {
		t.Errorf("events published = %d, want %d", rig.pub.count(EventTopic("test")), len(want))
	}
}

func TestBridge_KeypadPress(t *testing.T) {
	keypad := &mockReportSource{}
	rig := newTestRig(t, DefaultWiring(), func(o *Options) {
		o.Keypads = []cdu.ReportSource{keypad}
	})

	if want := len(cdu.DefaultInitReports()); len(keypad.written) != want {
		t.Errorf("keypad init reports = %d, want %d", len(keypad.written), want)
	}

	rig.steady(t)
	keypad.queue = append(keypad.queue, []byte{0x19, 1 << 5, 0, 0, 0})
	rig.bridge.Step(context.Background())

	got := rig.client.lines("run ")
	if want := []string{"run cdu-button-legs cdu=0"}; !reflect.DeepEqual(got, want) {
		t.Errorf("run lines = %q, want %q", got, want)
	}
}

func TestBridge_Keepalive(t *testing.T) {
	rig := newTestRig(t, DefaultWiring(), nil)
	rig.steady(t)
	ctx := context.Background()

	rig.clock.Advance(time.Second)
	rig.bridge.Step(ctx)
	if n := len(rig.client.lines("pwd")); n != 0 {
		t.Errorf("probes after 1s = %d, want 0", n)
	}

	rig.clock.Advance(DefaultKeepaliveInterval)
	rig.bridge.Step(ctx)
	if n := len(rig.client.lines("pwd")); n != 1 {
		t.Errorf("probes after keepalive interval = %d, want 1", n)
	}
}

func TestBridge_HandleLine(t *testing.T) {
	rig := newTestRig(t, DefaultWiring(), nil)
	rig.steady(t)

	rig.client.push(
		"/",
		"",
		"subscribe /gear/gear[0]/position-norm",
		"/unknown/property=1",
		"garbage without equals",
		"/gear/gear[1]/position-norm=abc",
	)
	rig.bridge.Step(context.Background())

	if got := rig.bridge.protocolErrors.Load(); got != 3 {
		t.Errorf("protocol errors = %d, want 3", got)
	}
	if rig.bridge.State() != StateSteady {
		t.Errorf("State() = %v, protocol errors must not drop the link", rig.bridge.State())
	}
	if !rig.journal.has(JournalProtocolError) {
		t.Error("journal has no protocol error entry")
	}
}

func TestBridge_EnqueueWhileDisconnected(t *testing.T) {
	rig := newTestRig(t, DefaultWiring(), nil)

	if err := rig.bridge.Enqueue("run anything"); err == nil {
		t.Error("Enqueue() while disconnected expected error")
	}
	if rig.bridge.Queued() != 0 {
		t.Errorf("Queued() = %d, want 0", rig.bridge.Queued())
	}
}

func TestBridge_QueueFull(t *testing.T) {
	rig := newTestRig(t, DefaultWiring(), func(o *Options) { o.QueueSize = 2 })
	rig.steady(t)

	for range 2 {
		if err := rig.bridge.Enqueue("run x"); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if err := rig.bridge.Enqueue("run x"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Enqueue() error = %v, want %v", err, ErrQueueFull)
	}

	rig.bridge.Step(context.Background())
	if rig.bridge.Queued() != 0 {
		t.Errorf("Queued() after tick = %d, want 0", rig.bridge.Queued())
	}
}

func TestBridge_WriteFailureEntersBackoff(t *testing.T) {
	rig := newTestRig(t, DefaultWiring(), nil)
	rig.steady(t)

	rig.bridge.Enqueue("run x") //nolint:errcheck
	rig.client.writeErr = errMockLinkDown
	rig.bridge.Step(context.Background())

	if rig.bridge.State() != StateBackoff {
		t.Errorf("State() = %v, want %v", rig.bridge.State(), StateBackoff)
	}
	if rig.bridge.Queued() != 0 {
		t.Errorf("Queued() = %d, want 0", rig.bridge.Queued())
	}
}

func TestBridge_Servo(t *testing.T) {
	w := &Wiring{
		Properties: []PropertyWiring{{Path: "/instrumentation/airspeed", Sync: true, Subscribe: true}},
		Servos: []ServoRule{{
			Property: "/instrumentation/airspeed",
			Channel:  2,
			Curve:    [][2]float64{{0, 150}, {100, 400}, {400, 600}},
		}},
	}
	servo := &mockServo{}
	rig := newTestRig(t, w, func(o *Options) { o.Servos = servo })
	rig.steady(t)

	rig.client.push(
		"/instrumentation/airspeed=50",
		"/instrumentation/airspeed=50.001",
		"/instrumentation/airspeed=1000",
	)
	rig.bridge.Step(context.Background())

	want := []int{150, 275, 600}
	if got := servo.pulses[2]; !reflect.DeepEqual(got, want) {
		t.Errorf("pulses = %v, want %v", got, want)
	}
}

func TestBridge_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rig := newTestRig(t, DefaultWiring(), func(o *Options) {
		o.Sleep = func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}
	})
	rig.client.connectErr = []error{errMockLinkDown}

	if err := rig.bridge.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if rig.bridge.State() != StateBackoff {
		t.Errorf("State() = %v, want %v", rig.bridge.State(), StateBackoff)
	}
	if rig.pub.count(StatusTopic("test")) < 3 {
		t.Errorf("status messages = %d, want starting, transitions and stopping", rig.pub.count(StatusTopic("test")))
	}
	if !rig.journal.has(JournalLinkError) {
		t.Error("journal has no link error entry")
	}
}

func TestBridge_StatusMessage(t *testing.T) {
	rig := newTestRig(t, DefaultWiring(), nil)
	rig.steady(t)
	rig.clock.Advance(90 * time.Second)

	msg := rig.bridge.StatusMessage(rig.bridge.determineStatus())
	if msg.Status != HealthHealthy {
		t.Errorf("Status = %v, want %v", msg.Status, HealthHealthy)
	}
	if msg.State != "steady" {
		t.Errorf("State = %q, want steady", msg.State)
	}
	if msg.UptimeSeconds != 90 {
		t.Errorf("UptimeSeconds = %d, want 90", msg.UptimeSeconds)
	}
	if msg.Simulator == nil || msg.Simulator.Status != "connected" {
		t.Errorf("Simulator = %+v, want connected", msg.Simulator)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no client", Options{Wiring: DefaultWiring(), Ports: newMockPortDriver()}},
		{"no wiring", Options{Client: newMockLineClient()}},
		{"no port driver", Options{Client: newMockLineClient(), Wiring: DefaultWiring()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

func TestBackoff_Sequence(t *testing.T) {
	b := Backoff{Floor: 4 * time.Second, Ceiling: 30 * time.Second}

	var got []time.Duration
	for range 6 {
		got = append(got, b.Next())
	}
	want := []time.Duration{
		4 * time.Second, 8 * time.Second, 16 * time.Second,
		30 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Next() sequence = %v, want %v", got, want)
	}

	b.Reset()
	if d := b.Next(); d != 4*time.Second {
		t.Errorf("Next() after Reset = %v, want 4s", d)
	}

	var zero Backoff
	if d := zero.Next(); d != DefaultBackoffFloor {
		t.Errorf("zero Backoff Next() = %v, want %v", d, DefaultBackoffFloor)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateSyncing, "syncing"},
		{StateSteady, "steady"},
		{StateBackoff, "backoff"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestBridge_KeypadInitFromWiring(t *testing.T) {
	w := DefaultWiring()
	w.CDU.InitReports = [][]int{{0x18, 0x02, 0x00}}
	keypad := &mockReportSource{}
	newTestRig(t, w, func(o *Options) {
		o.Keypads = []cdu.ReportSource{keypad}
	})

	want := [][]byte{{0x18, 0x02, 0x00}}
	if !reflect.DeepEqual(keypad.written, want) {
		t.Errorf("keypad init reports = % X, want % X", keypad.written, want)
	}
}

func TestBridge_AttachKeypadsRejectsUnknownReleaseKey(t *testing.T) {
	w := DefaultWiring()
	w.CDU.ReleaseKeys = []string{"clear", "warp"}
	keypad := &mockReportSource{}
	b := &Bridge{
		wiring: w,
		opts:   Options{Keypads: []cdu.ReportSource{keypad}},
	}

	err := b.attachKeypads()
	if !errors.Is(err, ErrInvalidWiring) {
		t.Fatalf("attachKeypads() error = %v, want %v", err, ErrInvalidWiring)
	}
	if !strings.Contains(err.Error(), "warp") {
		t.Errorf("attachKeypads() error = %q, want it to name the unknown key", err)
	}
	if len(keypad.written) != 0 || len(b.decoders) != 0 {
		t.Error("no keypad may be initialised with an invalid release key list")
	}
}
