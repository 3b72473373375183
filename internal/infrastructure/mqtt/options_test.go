package mqtt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTestIdentity writes a self-signed certificate, its key and a root
// bundle containing the same certificate into dir.
func writeTestIdentity(t *testing.T, dir string) Options {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "node-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},

		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey() error = %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	opts := Options{
		ClientID: "node-test",
		CertPath: filepath.Join(dir, "node.crt"),
		KeyPath:  filepath.Join(dir, "node.key"),
		RootPath: filepath.Join(dir, "root.pem"),
	}
	for path, data := range map[string][]byte{
		opts.CertPath: certPEM,
		opts.KeyPath:  keyPEM,
		opts.RootPath: certPEM,
	} {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatalf("WriteFile(%s) error = %v", path, err)
		}
	}
	return opts
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"example.com", "ssl://example.com:443"},
		{"example.com:8883", "ssl://example.com:8883"},
		{"tcp://localhost:1883", "tcp://localhost:1883"},
		{"ssl://example.com:443", "ssl://example.com:443"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := BrokerURL(tt.input); got != tt.want {
				t.Errorf("BrokerURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestBuildTLSConfig(t *testing.T) {
	opts := writeTestIdentity(t, t.TempDir())
	opts.Broker = "example.com"

	cfg, err := buildTLSConfig(opts)
	if err != nil {
		t.Fatalf("buildTLSConfig() error = %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("Certificates = %d, want 1", len(cfg.Certificates))
	}
	if cfg.RootCAs == nil {
		t.Error("RootCAs is nil")
	}
	if len(cfg.NextProtos) != 1 || cfg.NextProtos[0] != alpnProtocol {
		t.Errorf("NextProtos = %v, want [%s] on port 443", cfg.NextProtos, alpnProtocol)
	}
}

func TestBuildTLSConfig_NoALPNOffPort443(t *testing.T) {
	opts := writeTestIdentity(t, t.TempDir())
	opts.Broker = "example.com:8883"

	cfg, err := buildTLSConfig(opts)
	if err != nil {
		t.Fatalf("buildTLSConfig() error = %v", err)
	}
	if len(cfg.NextProtos) != 0 {
		t.Errorf("NextProtos = %v, want none", cfg.NextProtos)
	}
}

func TestBuildTLSConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	valid := writeTestIdentity(t, dir)

	garbage := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(o *Options)
	}{
		{"missing cert", func(o *Options) { o.CertPath = filepath.Join(dir, "absent.crt") }},
		{"missing key", func(o *Options) { o.KeyPath = filepath.Join(dir, "absent.key") }},
		{"missing root", func(o *Options) { o.RootPath = filepath.Join(dir, "absent.pem") }},
		{"root without certificates", func(o *Options) { o.RootPath = garbage }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid
			tt.mutate(&opts)
			_, err := buildTLSConfig(opts)
			if !errors.Is(err, ErrTLSConfig) {
				t.Errorf("buildTLSConfig() error = %v, want ErrTLSConfig", err)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	opts := writeTestIdentity(t, t.TempDir())
	opts.Broker = "example.com"

	tlsConfig, err := buildTLSConfig(opts)
	if err != nil {
		t.Fatal(err)
	}
	po := buildClientOptions(opts, tlsConfig)

	if po.ClientID != "node-test" {
		t.Errorf("ClientID = %q, want node-test", po.ClientID)
	}
	if len(po.Servers) != 1 || po.Servers[0].String() != "ssl://example.com:443" {
		t.Errorf("Servers = %v, want [ssl://example.com:443]", po.Servers)
	}
	if !po.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if po.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", po.ConnectTimeout, DefaultConnectTimeout)
	}
	if po.WriteTimeout != DefaultOperationTimeout {
		t.Errorf("WriteTimeout = %v, want %v", po.WriteTimeout, DefaultOperationTimeout)
	}
}
