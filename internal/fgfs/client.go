package fgfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// Default timeouts and sizes for the simulator link.
const (
	// DefaultHost is the simulator host used when none is configured.
	DefaultHost = "simpc.local"

	// DefaultPort is the property server port used when none is configured.
	DefaultPort = 5501

	// defaultConnectTimeout bounds resolving and dialling.
	defaultConnectTimeout = 5 * time.Second

	// defaultWriteTimeout bounds a single line write.
	defaultWriteTimeout = 100 * time.Millisecond

	// defaultSyncTimeout is how long SyncGet waits for its reply.
	defaultSyncTimeout = 1000 * time.Millisecond

	// readBufferSize is the size of the receive buffer.
	readBufferSize = 32 * 1024

	// drainTimeout is the wait used to collect stale lines before a get.
	drainTimeout = time.Millisecond
)

// Config holds simulator connection settings.
type Config struct {
	// Host is the simulator host name or IP address.
	// Default: "simpc.local"
	Host string

	// Port is the property server TCP port.
	// Default: 5501
	Port int

	// ConnectTimeout bounds resolving and dialling.
	// Default: 5 seconds.
	ConnectTimeout time.Duration

	// WriteTimeout bounds each line write.
	// Default: 100 milliseconds.
	WriteTimeout time.Duration

	// SyncTimeout is the SyncGet reply timeout when the caller passes zero.
	// Default: 1 second.
	SyncTimeout time.Duration
}

// Address returns the host:port dial address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Stats holds operational statistics for the link.
type Stats struct {
	LinesRx      uint64
	LinesTx      uint64
	ErrorsTotal  uint64
	Connects     uint64
	LastActivity time.Time
	Connected    bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Client is a line-oriented connection to the simulator property server.
//
// States: Disconnected -> Connect -> Connected -> (I/O error, peer close,
// Close) -> Disconnected. The client never reconnects on its own.
//
// Thread Safety:
//   - A Client belongs to one loop and is not safe for concurrent use.
//   - Stats may be read from any goroutine.
type Client struct {
	cfg  Config
	conn net.Conn

	connected    bool
	splitter     LineSplitter
	buf          []byte
	lastActivity time.Time

	logger Logger

	// Statistics (atomic so status reporters can read them)
	linesRx     atomic.Uint64
	linesTx     atomic.Uint64
	errorsTotal atomic.Uint64
	connects    atomic.Uint64
	lastTx      atomic.Int64 // Unix nanoseconds
	isUp        atomic.Bool
}

// New creates a disconnected client with defaults applied.
func New(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.SyncTimeout == 0 {
		cfg.SyncTimeout = defaultSyncTimeout
	}

	return &Client{
		cfg: cfg,
		buf: make([]byte, readBufferSize),
	}
}

// Dial creates a client and connects it.
//
// Parameters:
//   - ctx: Context for cancellation of the dial
//   - cfg: Connection configuration
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed wrapping the cause
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	c := New(cfg)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect resolves the configured address, opens the stream socket and
// switches the server into data mode.
//
// Any failure leaves the client Disconnected. Calling Connect on a
// connected client is a no-op.
//
// Returns:
//   - error: ErrConnectionFailed wrapping the cause
func (c *Client) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}
	c.drop()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", c.cfg.Address())
	if err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, c.cfg.Address(), err)
	}

	c.conn = conn
	c.setConnected(true)

	// Validates the link; a write failure has already dropped the socket.
	if err := c.Write(cmdData); err != nil {
		return fmt.Errorf("%w: handshake: %w", ErrConnectionFailed, err)
	}

	c.connects.Add(1)
	c.logInfo("connected to simulator", "address", c.cfg.Address())
	return nil
}

// IsConnected returns true while the connection is usable.
func (c *Client) IsConnected() bool {
	return c.connected
}

// Write sends one line, appending the CRLF terminator.
//
// The write is bounded by WriteTimeout. On failure the client is marked
// Disconnected before the socket is closed, so Close is never re-entered.
//
// Returns:
//   - error: ErrNotConnected or ErrWriteFailed wrapping the cause
func (c *Client) Write(line string) error {
	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		c.errorsTotal.Add(1)
		c.drop()
		return fmt.Errorf("%w: set deadline: %w", ErrWriteFailed, err)
	}

	if _, err := io.WriteString(c.conn, line+lineTerminator); err != nil {
		c.errorsTotal.Add(1)
		c.drop()
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	now := time.Now()
	c.lastActivity = now
	c.lastTx.Store(now.UnixNano())
	c.linesTx.Add(1)
	return nil
}

// Poll waits up to timeout for data and dispatches every complete line.
//
// When the wait times out with no data, a non-consuming peek checks whether
// the peer has half-closed the socket, since silence alone cannot tell idle
// from closed. A trailing partial line is kept for the next call.
//
// Parameters:
//   - h: Invoked synchronously once per complete line
//   - timeout: Maximum time to wait for readability
//
// Returns:
//   - error: nil when idle or lines were handled; ErrNotConnected,
//     ErrPeerClosed or ErrConnectionLost otherwise (connection is closed)
func (c *Client) Poll(h LineHandler, timeout time.Duration) error {
	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		c.errorsTotal.Add(1)
		c.drop()
		return fmt.Errorf("%w: set deadline: %w", ErrConnectionLost, err)
	}

	n, err := c.conn.Read(c.buf)
	if n > 0 {
		_, feedErr := c.splitter.Feed(c.buf[:n], func(line string) {
			c.linesRx.Add(1)
			h(line)
		})
		if feedErr != nil {
			c.errorsTotal.Add(1)
			c.logWarn("discarding oversized line", "error", feedErr)
		}
	}

	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// The handler may have closed the client.
		if n > 0 || c.conn == nil {
			return nil
		}
		if peerClosed(c.conn) {
			c.drop()
			c.logInfo("simulator closed the connection")
			return ErrPeerClosed
		}
		return nil
	}

	c.errorsTotal.Add(1)
	c.drop()
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrConnectionLost, ErrPeerClosed)
	}
	return fmt.Errorf("%w: %w", ErrConnectionLost, err)
}

// Close sends "quit" if still connected and releases the socket.
// Safe to call any number of times.
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *Client) Close() error {
	if c.connected {
		//nolint:errcheck // Best-effort goodbye, the socket is closed either way
		c.Write(cmdQuit)
	}
	c.drop()
	return nil
}

// Subscribe asks the server to push every change of path.
func (c *Client) Subscribe(path string) error {
	return c.Write(formatCommand(cmdSubscribe, path))
}

// Set writes a property value.
func (c *Client) Set(path, value string) error {
	return c.Write(formatCommand(cmdSet, path, value))
}

// Run fires a simulator command with optional "key=value" arguments.
func (c *Client) Run(command string, args ...string) error {
	return c.Write(formatCommand(cmdRun, append([]string{command}, args...)...))
}

// Probe writes the harmless "pwd" liveness probe.
func (c *Client) Probe() error {
	return c.Write(cmdProbe)
}

// SyncGet queries one property and waits for its reply line.
//
// Retrying is the caller's job; SyncGet fails rather than hangs when the
// reply does not arrive within timeout. Lines already waiting when SyncGet
// is called, such as the late reply to an earlier timed out get, are
// discarded before the query is sent.
//
// Parameters:
//   - path: Property path to query
//   - timeout: Reply timeout; zero uses Config.SyncTimeout
//
// Returns:
//   - string: The bare reply value
//   - error: ErrTimeout, or the Write/Poll error that closed the link
func (c *Client) SyncGet(path string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = c.cfg.SyncTimeout
	}

	if err := c.discardPending(); err != nil {
		return "", err
	}
	if err := c.Write(formatCommand(cmdGet, path)); err != nil {
		return "", err
	}

	deadline := time.Now().Add(timeout)
	var reply string
	got := false

	for !got {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", fmt.Errorf("%w: get %s", ErrTimeout, path)
		}

		err := c.Poll(func(line string) {
			if got {
				c.logDebug("discarding line received after get reply", "path", path, "line", line)
				return
			}
			reply = line
			got = true
		}, remaining)
		if err != nil {
			return "", err
		}
	}

	return reply, nil
}

// discardPending drops every complete line already readable.
func (c *Client) discardPending() error {
	if !c.connected {
		return ErrNotConnected
	}
	for {
		stale := 0
		err := c.Poll(func(line string) {
			stale++
			c.logDebug("discarding stale line before get", "line", line)
		}, drainTimeout)
		if err != nil || stale == 0 {
			return err
		}
	}
}

// LastActivity returns the time of the last successful write.
// The orchestrator uses it to schedule keepalive probes.
func (c *Client) LastActivity() time.Time {
	return c.lastActivity
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	var last time.Time
	if ns := c.lastTx.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		LinesRx:      c.linesRx.Load(),
		LinesTx:      c.linesTx.Load(),
		ErrorsTotal:  c.errorsTotal.Load(),
		Connects:     c.connects.Load(),
		LastActivity: last,
		Connected:    c.isUp.Load(),
	}
}

// Address returns the configured dial address.
func (c *Client) Address() string {
	return c.cfg.Address()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// drop marks the client disconnected and closes the socket without
// sending anything.
func (c *Client) drop() {
	c.setConnected(false)
	if c.conn != nil {
		c.conn.Close() //nolint:errcheck // Best effort on an already failed socket
		c.conn = nil
	}
	c.splitter.Reset()
}

func (c *Client) setConnected(v bool) {
	c.connected = v
	c.isUp.Store(v)
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Info(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, keysAndValues...)
	}
}
