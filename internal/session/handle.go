package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nerrad567/fleetctl/internal/credentials"
	"github.com/nerrad567/fleetctl/internal/infrastructure/logging"
)

// DefaultHistorySize bounds the per-topic payload history.
const DefaultHistorySize = 100

// Config identifies the node a Handle speaks for.
type Config struct {
	Broker   string
	NodeID   string
	CertPath string
	KeyPath  string
	RootPath string

	// HistorySize bounds per-topic history. Zero means DefaultHistorySize.
	HistorySize int
}

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Handle.
type Option func(*Handle)

// WithSleep replaces the backoff sleep. Tests use it to observe delays.
func WithSleep(fn SleepFunc) Option {
	return func(h *Handle) {
		h.sleep = fn
	}
}

// Handle is one node's session.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Operations are serialised by an internal mutex; IsConnected and State
//     never block on an in-flight operation.
type Handle struct {
	cfg    Config
	dialer Dialer
	logger *logging.Logger
	sleep  SleepFunc

	// mu serialises lifecycle and messaging operations.
	mu        sync.Mutex
	transport Transport

	stateMu sync.RWMutex
	state   State

	subMu sync.Mutex
	subs  map[string]*subscriptionState
}

// New validates that every credential file exists and returns an
// unconnected Handle. No network activity happens here.
func New(cfg Config, dialer Dialer, logger *logging.Logger, opts ...Option) (*Handle, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("%w: empty node id", credentials.ErrCredentialsNotFound)
	}
	if err := checkFiles(cfg); err != nil {
		return nil, err
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if logger == nil {
		logger = logging.Discard()
	}

	h := &Handle{
		cfg:    cfg,
		dialer: dialer,
		logger: logger.With("component", "session", "node_id", cfg.NodeID),
		sleep:  sleepContext,
		state:  StateUnresolved,
		subs:   make(map[string]*subscriptionState),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func checkFiles(cfg Config) error {
	for label, path := range map[string]string{
		"certificate": cfg.CertPath,
		"key":         cfg.KeyPath,
		"root CA":     cfg.RootPath,
	} {
		if path == "" {
			return fmt.Errorf("%w: node %s: no %s path", credentials.ErrCredentialsNotFound, cfg.NodeID, label)
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: node %s: %s %s: %w", credentials.ErrCredentialsNotFound, cfg.NodeID, label, path, err)
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NodeID returns the node this handle speaks for.
func (h *Handle) NodeID() string {
	return h.cfg.NodeID
}

// Config returns the handle's configuration.
func (h *Handle) Config() Config {
	return h.cfg
}

// State returns the cached lifecycle state.
func (h *Handle) State() State {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.state
}

// IsConnected reports the cached state. Use Ping to verify the link.
func (h *Handle) IsConnected() bool {
	return h.State() == StateConnected
}

func (h *Handle) setState(s State) {
	h.stateMu.Lock()
	prev := h.state
	h.state = s
	h.stateMu.Unlock()

	if prev != s {
		h.logger.Debug("session state changed", "from", prev.String(), "to", s.String())
	}
}

// Connect performs the handshake. It is a no-op when already connected.
// On failure the handle moves to Failed and ErrConnectFailed is returned.
func (h *Handle) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connectLocked(ctx)
}

func (h *Handle) connectLocked(ctx context.Context) error {
	switch state := h.State(); {
	case state == StateConnected:
		return nil
	case state.Terminal():
		return fmt.Errorf("%w: node %s is %s", ErrHandleClosed, h.cfg.NodeID, state)
	case state == StateDegraded:
		return h.redialLocked(ctx)
	}

	h.setState(StateResolving)
	if err := checkFiles(h.cfg); err != nil {
		h.setState(StateFailed)
		return err
	}

	return h.dialLocked(ctx)
}

func (h *Handle) dialLocked(ctx context.Context) error {
	h.setState(StateConnecting)

	transport, err := h.dialer.Dial(ctx, h.cfg)
	if err != nil {
		h.setState(StateFailed)
		h.logger.Warn("connect failed", "broker", h.cfg.Broker, "error", err)
		return fmt.Errorf("%w: node %s to %s: %w", ErrConnectFailed, h.cfg.NodeID, h.cfg.Broker, err)
	}

	h.transport = transport
	h.setState(StateConnected)
	h.logger.Info("connected", "broker", h.cfg.Broker)
	return nil
}

// Ping probes the link. A failed probe moves Connected to Degraded; a
// successful probe from Degraded restores Connected.
func (h *Handle) Ping(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.State().hasTransport() {
		return fmt.Errorf("%w: node %s", ErrNotConnected, h.cfg.NodeID)
	}

	if err := h.transport.Ping(ctx); err != nil {
		h.setState(StateDegraded)
		return fmt.Errorf("%w: node %s: %w", ErrPingFailed, h.cfg.NodeID, err)
	}
	h.setState(StateConnected)
	return nil
}

// Reconnect tears the transport down and performs a fresh handshake,
// restoring existing subscriptions on the new link.
func (h *Handle) Reconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if state := h.State(); state.Terminal() {
		return fmt.Errorf("%w: node %s is %s", ErrHandleClosed, h.cfg.NodeID, state)
	}
	return h.redialLocked(ctx)
}

func (h *Handle) redialLocked(ctx context.Context) error {
	if h.transport != nil {
		if err := h.transport.Close(); err != nil {
			h.logger.Debug("closing stale transport", "error", err)
		}
		h.transport = nil
	}

	if err := h.dialLocked(ctx); err != nil {
		return err
	}

	var errs []error
	for topic, qos := range h.subscribedTopics() {
		if err := h.transport.Subscribe(ctx, topic, qos, h.deliver(topic)); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err))
		}
	}
	return errors.Join(errs...)
}

// Disconnect closes the transport and clears subscription state. The
// handle is Disconnected afterwards even if the close reported an error.
// Disconnecting a terminal handle is a no-op.
func (h *Handle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.State().Terminal() {
		return nil
	}

	var err error
	if h.transport != nil {
		if cerr := h.transport.Close(); cerr != nil {
			err = fmt.Errorf("%w: node %s: %w", ErrDisconnectFailed, h.cfg.NodeID, cerr)
		}
		h.transport = nil
	}

	h.clearSubscriptions()
	h.setState(StateDisconnected)
	h.logger.Info("disconnected")
	return err
}
