package session

import (
	"context"

	"github.com/nerrad567/fleetctl/internal/infrastructure/mqtt"
)

// Transport is a connected link to the broker for one node.
// *mqtt.Client satisfies it.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
	Subscribe(ctx context.Context, topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Ping(ctx context.Context) error
	IsConnected() bool
	Close() error
}

// Dialer opens a Transport for a session configuration.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, cfg Config) (Transport, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, cfg Config) (Transport, error) {
	return f(ctx, cfg)
}

// MQTTDialer returns a Dialer that connects with paho over mutual TLS.
// The node id doubles as the MQTT client id.
func MQTTDialer(logger mqtt.Logger) Dialer {
	return DialerFunc(func(ctx context.Context, cfg Config) (Transport, error) {
		client, err := mqtt.Dial(ctx, mqtt.Options{
			Broker:   cfg.Broker,
			ClientID: cfg.NodeID,
			CertPath: cfg.CertPath,
			KeyPath:  cfg.KeyPath,
			RootPath: cfg.RootPath,
		})
		if err != nil {
			return nil, err
		}
		if logger != nil {
			client.SetLogger(logger)
		}
		return client, nil
	})
}
