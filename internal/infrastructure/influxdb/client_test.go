package influxdb_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fleetctl/internal/infrastructure/config"
	"github.com/nerrad567/fleetctl/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local InfluxDB. Set
// FLEETCTL_TEST_INFLUXDB_URL to point elsewhere.
func testConfig() config.InfluxDBConfig {
	url := os.Getenv("FLEETCTL_TEST_INFLUXDB_URL")
	if url == "" {
		url = "http://127.0.0.1:8086"
	}
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         os.Getenv("FLEETCTL_INFLUXDB_TOKEN"),
		Org:           "fleetctl",
		Bucket:        "tsdata",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip skips the test when no InfluxDB is reachable.
func connectOrSkip(t *testing.T) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(context.Background(), testConfig())
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:1"

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := influxdb.Connect(ctx, testConfig()); err == nil {
		t.Fatal("Connect() with cancelled context should fail")
	}
}

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestWriteSample(t *testing.T) {
	client := connectOrSkip(t)

	var writeErr error
	var mu sync.Mutex
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	client.WriteSample(influxdb.Sample{
		NodeID:   "test-node",
		Param:    "temperature",
		DataType: "float",
		Value:    21.5,
		Time:     time.Now(),
	})
	client.Flush()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("Write error = %v", writeErr)
	}
}

func TestClose(t *testing.T) {
	client := connectOrSkip(t)

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close() = %v, want ErrNotConnected", err)
	}

	// Writes after close are dropped.
	client.WriteSample(influxdb.Sample{NodeID: "n", Param: "p", Value: 1.0, Time: time.Now()})
	client.Flush()
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
}
