package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client wraps paho.mqtt.golang for a single node session over mutual TLS.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are restored on reconnection.
type Client struct {
	client pahomqtt.Client
	opts   Options

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// closed is set once Close has run; the client cannot be reused.
	closed bool
	connMu sync.RWMutex

	onConnectionLost func(err error)
	callbackMu       sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked on paho's delivery goroutine and should not block.
// A returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// Dial loads the node's TLS material and connects to the broker.
//
// The handshake is bounded by Options.ConnectTimeout (5s by default) and by ctx.
// On failure no client is returned and nothing is left running.
//
// Parameters:
//   - ctx: Context bounding the handshake
//   - opts: Broker address, node id (used as client id) and certificate paths
//
// Returns:
//   - *Client: Connected client with auto-reconnect enabled
//   - error: ErrTLSConfig when the certificates cannot be loaded, ErrConnectionFailed otherwise
func Dial(ctx context.Context, opts Options) (*Client, error) {
	tlsConfig, err := buildTLSConfig(opts)
	if err != nil {
		return nil, err
	}

	po := buildClientOptions(opts, tlsConfig)
	c := &Client{
		opts:          opts,
		subscriptions: make(map[string]subscription),
	}

	// The initial connect also fires this handler; there is nothing to restore then.
	po.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.restoreSubscriptions()
	})
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})

	c.client = pahomqtt.NewClient(po)
	token := c.client.Connect()
	if err := waitToken(ctx, token, opts.connectTimeout()); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, BrokerURL(opts.Broker), err)
	}

	return c, nil
}

// waitToken blocks until the token completes, the timeout elapses or ctx ends.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleConnectionLost is called by paho when the link drops.
// Auto-reconnect is already under way when this runs.
func (c *Client) handleConnectionLost(err error) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost, reconnecting",
			"client_id", c.opts.ClientID,
			"error", err,
		)
	}

	c.callbackMu.RLock()
	callback := c.onConnectionLost
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		// Errors during reconnection are ignored; the next reconnect retries.
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close disconnects from the broker, waiting up to the connect timeout for
// in-flight work. Closing twice is not an error.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.closed || c.client == nil {
		return nil
	}
	c.closed = true
	c.client.Disconnect(uint(c.opts.connectTimeout().Milliseconds()))

	c.subMu.Lock()
	c.subscriptions = make(map[string]subscription)
	c.subMu.Unlock()

	return nil
}

// Ping reports whether the link to the broker is currently open.
//
// paho does not expose an application-level ping; keepalive PINGREQ packets
// run in the background and close the link when unanswered, so an open
// connection means the last keepalive round-trip succeeded.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPingFailed, err)
	}
	if c.isClosed() {
		return ErrNotConnected
	}
	if !c.client.IsConnectionOpen() {
		return fmt.Errorf("%w: link to %s is down", ErrPingFailed, BrokerURL(c.opts.Broker))
	}
	return nil
}

// IsConnected reports whether the client is usable. It stays true while
// paho is reconnecting in the background, so publishes are queued rather
// than refused during a transient outage.
func (c *Client) IsConnected() bool {
	if c.isClosed() {
		return false
	}
	return c.client.IsConnected()
}

func (c *Client) isClosed() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.closed
}

// SetOnConnectionLost sets a callback invoked whenever the link drops.
func (c *Client) SetOnConnectionLost(callback func(err error)) {
	c.callbackMu.Lock()
	c.onConnectionLost = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
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

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
