package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/cockpit-bridge/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang as the bridge's outbound status publisher.
//
// It publishes only; the bridge never subscribes. The last retained payload
// of every topic is remembered and republished after a reconnect, so the
// broker's retained status is restored once the broker comes back even if
// the bridge had nothing new to say.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Connection callbacks run on paho goroutines and never call back
//     into the caller.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig
	will    Will

	// retained tracks the last retained payload per topic for replay.
	retained map[string]retainedMessage
	retMu    sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Will is the Last Will and Testament the broker publishes, retained, if
// the bridge disappears without closing the connection.
type Will struct {
	Topic   string
	Payload []byte
}

type retainedMessage struct {
	qos     byte
	payload []byte
}

// Connect establishes a connection to the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Registers the will, if will.Topic is set
//  3. Sets up auto-reconnect with exponential backoff
//  4. Attempts the initial connection with timeout
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//   - will: Offline message for unexpected disconnects
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectionFailed if the initial connection fails within timeout
func Connect(cfg config.MQTTConfig, will Will) (*Client, error) {
	opts := buildClientOptions(cfg)
	if err := configureLWT(opts, will); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		options:  opts,
		will:     will,
		retained: make(map[string]retainedMessage),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect callback runs asynchronously and may not have run yet.
	c.setConnected(true)

	return c, nil
}

// handleConnect is called on the initial connect and every reconnect.
func (c *Client) handleConnect() {
	c.setConnected(true)
	c.replayRetained()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// replayRetained republishes every remembered retained message.
func (c *Client) replayRetained() {
	c.retMu.RLock()
	defer c.retMu.RUnlock()

	for topic, msg := range c.retained {
		c.client.Publish(topic, msg.qos, true, msg.payload)
	}
}

// remember records a retained publish for replay.
func (c *Client) remember(topic string, qos byte, payload []byte) {
	c.retMu.Lock()
	defer c.retMu.Unlock()

	if c.retained == nil {
		c.retained = make(map[string]retainedMessage)
	}
	c.retained[topic] = retainedMessage{qos: qos, payload: append([]byte(nil), payload...)}
}

// RetainedCount returns the number of topics that will be replayed on
// reconnect.
func (c *Client) RetainedCount() int {
	c.retMu.RLock()
	defer c.retMu.RUnlock()
	return len(c.retained)
}

// Close disconnects from the broker after a quiesce period for pending
// publishes. The will is not sent: the bridge publishes its own stopping
// status before closing.
//
// Returns:
//   - error: nil (a connection already closed is not an error)
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports whether the broker connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback invoked on every (re)connect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection events.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}
