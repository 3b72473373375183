package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// DefaultConnectTimeout bounds the handshake and the graceful disconnect.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultOperationTimeout bounds publish, subscribe and unsubscribe acknowledgements.
	DefaultOperationTimeout = 10 * time.Second

	// defaultKeepAlive is the keepalive interval. Kept short so a dead link
	// is noticed by the liveness probe within one interval.
	defaultKeepAlive = 30 * time.Second

	// defaultPort is the broker port used when the address has none.
	defaultPort = "443"

	// alpnProtocol lets mutual-TLS MQTT share port 443 with HTTPS on the cloud broker.
	alpnProtocol = "x-amzn-mqtt-ca"

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Options describes one node session against the broker.
type Options struct {
	// Broker is "host", "host:port" or a full URL (ssl://host:port).
	Broker string

	// ClientID is the MQTT client identifier. The broker policy expects the node id.
	ClientID string

	CertPath string
	KeyPath  string
	RootPath string

	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout > 0 {
		return o.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (o Options) operationTimeout() time.Duration {
	if o.OperationTimeout > 0 {
		return o.OperationTimeout
	}
	return DefaultOperationTimeout
}

// BrokerURL normalises a broker address into a paho broker URL.
//
// Examples:
//
//	BrokerURL("example.com")          // ssl://example.com:443
//	BrokerURL("example.com:8883")     // ssl://example.com:8883
//	BrokerURL("tcp://localhost:1883") // tcp://localhost:1883
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	if _, _, err := net.SplitHostPort(broker); err != nil {
		broker = net.JoinHostPort(broker, defaultPort)
	}
	return "ssl://" + broker
}

// buildTLSConfig loads the node's client certificate and the root trust anchor.
func buildTLSConfig(opts Options) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(opts.CertPath, opts.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: loading key pair: %w", ErrTLSConfig, err)
	}

	rootPEM, err := os.ReadFile(opts.RootPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading root CA: %w", ErrTLSConfig, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(rootPEM) {
		return nil, fmt.Errorf("%w: no certificates in %s", ErrTLSConfig, opts.RootPath)
	}

	tlsConfig := &tls.Config{
		MinVersion:   tlsMinVersion,
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
	}
	if strings.HasSuffix(BrokerURL(opts.Broker), ":"+defaultPort) {
		tlsConfig.NextProtos = []string{alpnProtocol}
	}
	return tlsConfig, nil
}

// buildClientOptions creates paho options for a node session.
//
// This configures:
//   - Broker URL (ssl:// by default) and client id
//   - Mutual TLS with the node certificate
//   - Auto-reconnect, so publishes issued while the link is down are held
//     in paho's in-memory store (unbounded) and drained after reconnect
//   - Clean session mode
func buildClientOptions(opts Options, tlsConfig *tls.Config) *pahomqtt.ClientOptions {
	po := pahomqtt.NewClientOptions()

	po.AddBroker(BrokerURL(opts.Broker))
	po.SetClientID(opts.ClientID)
	po.SetTLSConfig(tlsConfig)

	po.SetCleanSession(true)
	po.SetOrderMatters(true)
	po.SetStore(pahomqtt.NewMemoryStore())

	po.SetAutoReconnect(true)
	po.SetConnectRetry(false)
	po.SetMaxReconnectInterval(time.Minute)

	po.SetConnectTimeout(opts.connectTimeout())
	po.SetWriteTimeout(opts.operationTimeout())
	po.SetKeepAlive(defaultKeepAlive)
	po.SetPingTimeout(opts.connectTimeout())

	return po
}
