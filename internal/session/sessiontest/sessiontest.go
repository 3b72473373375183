// Package sessiontest provides an in-memory transport and dialer for
// exercising session handles without a broker.
package sessiontest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nerrad567/fleetctl/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetctl/internal/session"
)

// ErrInjected is the default error returned by configured failures.
var ErrInjected = errors.New("sessiontest: injected failure")

// Publication is one recorded publish.
type Publication struct {
	Topic   string
	Payload []byte
	QoS     byte
}

// Transport is a fake session.Transport.
type Transport struct {
	mu sync.Mutex

	// PublishFailures makes the next n publishes fail with ErrInjected.
	PublishFailures int
	SubscribeErr    error
	UnsubscribeErr  error
	PingErr         error
	CloseErr        error

	published []Publication
	subs      map[string]mqtt.MessageHandler
	closed    bool
}

// NewTransport returns an open fake transport.
func NewTransport() *Transport {
	return &Transport{subs: make(map[string]mqtt.MessageHandler)}
}

// Publish records the publication.
func (t *Transport) Publish(_ context.Context, topic string, payload []byte, qos byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return mqtt.ErrNotConnected
	}
	if t.PublishFailures > 0 {
		t.PublishFailures--
		return ErrInjected
	}
	t.published = append(t.published, Publication{Topic: topic, Payload: append([]byte(nil), payload...), QoS: qos})
	return nil
}

// Subscribe records the handler.
func (t *Transport) Subscribe(_ context.Context, topic string, _ byte, handler mqtt.MessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SubscribeErr != nil {
		return t.SubscribeErr
	}
	t.subs[topic] = handler
	return nil
}

// Unsubscribe drops the handler.
func (t *Transport) Unsubscribe(_ context.Context, topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.UnsubscribeErr != nil {
		return t.UnsubscribeErr
	}
	delete(t.subs, topic)
	return nil
}

// Ping returns PingErr.
func (t *Transport) Ping(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return mqtt.ErrNotConnected
	}
	return t.PingErr
}

// IsConnected reports whether Close has not been called.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Close marks the transport closed and returns CloseErr.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return t.CloseErr
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// SetPingErr changes the ping result.
func (t *Transport) SetPingErr(err error) {
	t.mu.Lock()
	t.PingErr = err
	t.mu.Unlock()
}

// Published returns a copy of the recorded publications.
func (t *Transport) Published() []Publication {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Publication(nil), t.published...)
}

// Subscribed reports whether a handler is registered for the exact filter.
func (t *Transport) Subscribed(filter string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.subs[filter]
	return ok
}

// Deliver invokes every handler whose filter matches topic and returns
// how many matched.
func (t *Transport) Deliver(topic string, payload []byte) int {
	t.mu.Lock()
	var handlers []mqtt.MessageHandler
	for filter, h := range t.subs {
		if mqtt.MatchTopic(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	t.mu.Unlock()

	for _, h := range handlers {
		_ = h(topic, payload)
	}
	return len(handlers)
}

// Dialer is a fake session.Dialer handing out fake transports.
type Dialer struct {
	mu         sync.Mutex
	failures   map[string]error
	transports map[string]*Transport
	dials      []string
	configure  func(nodeID string, t *Transport)
}

// NewDialer returns a dialer that succeeds for every node.
func NewDialer() *Dialer {
	return &Dialer{
		failures:   make(map[string]error),
		transports: make(map[string]*Transport),
	}
}

// Fail makes dials for nodeID fail with err (ErrInjected when nil).
func (d *Dialer) Fail(nodeID string, err error) {
	if err == nil {
		err = ErrInjected
	}
	d.mu.Lock()
	d.failures[nodeID] = err
	d.mu.Unlock()
}

// Configure runs fn on every transport before it is returned.
func (d *Dialer) Configure(fn func(nodeID string, t *Transport)) {
	d.mu.Lock()
	d.configure = fn
	d.mu.Unlock()
}

// Dial implements session.Dialer.
func (d *Dialer) Dial(ctx context.Context, cfg session.Config) (session.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials = append(d.dials, cfg.NodeID)
	if err, ok := d.failures[cfg.NodeID]; ok {
		return nil, err
	}
	t := NewTransport()
	if d.configure != nil {
		d.configure(cfg.NodeID, t)
	}
	d.transports[cfg.NodeID] = t
	return t, nil
}

// Transport returns the latest transport dialled for nodeID.
func (d *Dialer) Transport(nodeID string) *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[nodeID]
}

// Dials returns the node ids dialled so far, in order.
func (d *Dialer) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

// WriteCredentials creates placeholder certificate, key and root files for
// nodeID in dir and returns a matching config.
func WriteCredentials(t testing.TB, dir, nodeID string) session.Config {
	t.Helper()
	cfg := session.Config{
		Broker:   "broker.test:8883",
		NodeID:   nodeID,
		CertPath: filepath.Join(dir, nodeID+".crt"),
		KeyPath:  filepath.Join(dir, nodeID+".key"),
		RootPath: filepath.Join(dir, "root.pem"),
	}
	for _, path := range []string{cfg.CertPath, cfg.KeyPath, cfg.RootPath} {
		if err := os.WriteFile(path, []byte("pem"), 0o600); err != nil {
			t.Fatalf("writing %s: %v", path, err)
		}
	}
	return cfg
}
