package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/cockpit-bridge/internal/fgfs"
	"github.com/nerrad567/cockpit-bridge/internal/gpio"
)

var errMockLinkDown = errors.New("link down")

// mockLineClient simulates the simulator link.
type mockLineClient struct {
	mu sync.Mutex

	connected  bool
	connectErr []error
	values     map[string]string
	getFails   map[string]int
	pushes     []string
	pollErr    error
	writeErr   error

	written      []string
	connects     int
	closes       int
	lastActivity time.Time
}

func newMockLineClient() *mockLineClient {
	return &mockLineClient{
		values:   make(map[string]string),
		getFails: make(map[string]int),
	}
}

func (m *mockLineClient) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if len(m.connectErr) > 0 {
		err := m.connectErr[0]
		m.connectErr = m.connectErr[1:]
		if err != nil {
			return err
		}
	}
	m.connected = true
	return nil
}

func (m *mockLineClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockLineClient) Write(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fgfs.ErrNotConnected
	}
	if m.writeErr != nil {
		m.connected = false
		return m.writeErr
	}
	m.written = append(m.written, line)
	return nil
}

func (m *mockLineClient) Poll(h fgfs.LineHandler, _ time.Duration) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return fgfs.ErrNotConnected
	}
	if m.pollErr != nil {
		m.connected = false
		err := m.pollErr
		m.mu.Unlock()
		return err
	}
	lines := m.pushes
	m.pushes = nil
	m.mu.Unlock()

	for _, line := range lines {
		h(line)
	}
	return nil
}

func (m *mockLineClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		m.written = append(m.written, "quit")
	}
	m.connected = false
	m.closes++
	return nil
}

func (m *mockLineClient) Subscribe(path string) error {
	return m.Write("subscribe " + path)
}

func (m *mockLineClient) Probe() error {
	return m.Write("pwd")
}

func (m *mockLineClient) SyncGet(path string, _ time.Duration) (string, error) {
	if err := m.Write("get " + path); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getFails[path] > 0 {
		m.getFails[path]--
		return "", fgfs.ErrTimeout
	}
	v, ok := m.values[path]
	if !ok {
		return "", fgfs.ErrTimeout
	}
	return v, nil
}

func (m *mockLineClient) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

func (m *mockLineClient) Stats() fgfs.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fgfs.Stats{LinesTx: uint64(len(m.written)), Connected: m.connected}
}

func (m *mockLineClient) Address() string {
	return "sim.test:5501"
}

func (m *mockLineClient) push(lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, lines...)
}

func (m *mockLineClient) lines(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, l := range m.written {
		if strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	return out
}

// mockPortDriver stores port levels and records writes.
type mockPortDriver struct {
	mu     sync.Mutex
	levels map[[2]uint8]gpio.Bits
	writes map[[2]uint8][]gpio.Bits
}

func newMockPortDriver() *mockPortDriver {
	return &mockPortDriver{
		levels: make(map[[2]uint8]gpio.Bits),
		writes: make(map[[2]uint8][]gpio.Bits),
	}
}

func (m *mockPortDriver) ConfigurePort(uint8, uint8, gpio.Bits, gpio.Bits) error {
	return nil
}

func (m *mockPortDriver) ReadPort(bus, port uint8) (gpio.Bits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[[2]uint8{bus, port}], nil
}

func (m *mockPortDriver) WritePort(bus, port uint8, value gpio.Bits) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]uint8{bus, port}
	m.writes[key] = append(m.writes[key], value)
	return nil
}

func (m *mockPortDriver) setLevel(bus, port uint8, value gpio.Bits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[[2]uint8{bus, port}] = value
}

// last returns the last value written to a port.
func (m *mockPortDriver) last(bus, port uint8) (gpio.Bits, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.writes[[2]uint8{bus, port}]
	if len(w) == 0 {
		return 0, false
	}
	return w[len(w)-1], true
}

// mockServo records pulses.
type mockServo struct {
	mu     sync.Mutex
	pulses map[int][]int
}

func (m *mockServo) SetPulse(channel, ticks int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pulses == nil {
		m.pulses = make(map[int][]int)
	}
	m.pulses[channel] = append(m.pulses[channel], ticks)
	return nil
}

// mockPublisher records published messages.
type mockPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (m *mockPublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.messages == nil {
		m.messages = make(map[string][][]byte)
	}
	m.messages[topic] = append(m.messages[topic], payload)
	return nil
}

func (m *mockPublisher) IsConnected() bool { return true }

func (m *mockPublisher) count(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[topic])
}

// mockMetrics records measurement names.
type mockMetrics struct {
	mu     sync.Mutex
	points []string
}

func (m *mockMetrics) WritePoint(measurement string, _ map[string]string, _ map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, measurement)
}

// mockJournal records entry kinds.
type mockJournal struct {
	mu    sync.Mutex
	kinds []string
}

func (m *mockJournal) Record(_ context.Context, _, kind, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds = append(m.kinds, kind)
	return nil
}

func (m *mockJournal) has(kind string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// mockReportSource replays keypad reports.
type mockReportSource struct {
	queue   [][]byte
	written [][]byte
}

func (m *mockReportSource) ReadReport() ([]byte, bool, error) {
	if len(m.queue) == 0 {
		return nil, false, nil
	}
	r := m.queue[0]
	m.queue = m.queue[1:]
	return r, true, nil
}

func (m *mockReportSource) WriteReport(report []byte) error {
	m.written = append(m.written, report)
	return nil
}
