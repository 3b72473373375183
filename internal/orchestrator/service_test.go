package orchestrator_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/fleetctl/internal/credentials"
	"github.com/nerrad567/fleetctl/internal/identity"
	"github.com/nerrad567/fleetctl/internal/infrastructure/config"
	"github.com/nerrad567/fleetctl/internal/ledger"
	"github.com/nerrad567/fleetctl/internal/orchestrator"
	"github.com/nerrad567/fleetctl/internal/registry"
	"github.com/nerrad567/fleetctl/internal/session"
	"github.com/nerrad567/fleetctl/internal/session/sessiontest"
)

type env struct {
	cfg      *config.Config
	creds    string
	identity *identity.Store
	ledger   *ledger.Ledger
	dialer   *sessiontest.Dialer
	observed *observer
}

type observer struct {
	mu     sync.Mutex
	topics []string
}

func (o *observer) ObservePublish(_ string, topic string, _ []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.topics = append(o.topics, topic)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "certs"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "certs", credentials.RootFile), []byte("pem"), 0o600))

	store, err := identity.Open(dir, nil)
	require.NoError(t, err)

	l, err := ledger.Open(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck // Test cleanup

	return &env{
		cfg:      config.Default(dir),
		creds:    t.TempDir(),
		identity: store,
		ledger:   l,
		dialer:   sessiontest.NewDialer(),
		observed: &observer{},
	}
}

// provision writes credentials for nodeID and records them in the identity store.
func (e *env) provision(t *testing.T, nodeID string) {
	t.Helper()
	cfg := sessiontest.WriteCredentials(t, e.creds, nodeID)
	require.NoError(t, e.identity.Add(credentials.Identity{NodeID: nodeID, CertPath: cfg.CertPath, KeyPath: cfg.KeyPath}))
}

// service builds a fresh Service, as a new process would.
func (e *env) service(t *testing.T) *orchestrator.Service {
	t.Helper()
	svc, err := orchestrator.New(context.Background(), orchestrator.Options{
		Config:   e.cfg,
		Identity: e.identity,
		Dialer:   e.dialer,
		Ledger:   e.ledger,
		Observer: e.observed,
		SessionOptions: []session.Option{
			session.WithSleep(func(context.Context, time.Duration) error { return nil }),
		},
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func (e *env) registered(t *testing.T, nodeID string) bool {
	t.Helper()
	ok, err := e.ledger.IsRegistered(context.Background(), nodeID)
	require.NoError(t, err)
	return ok
}

func TestConnectMany_PartialFailure(t *testing.T) {
	e := newEnv(t)
	e.provision(t, "A")
	svc := e.service(t)

	batch, err := svc.ConnectMany(context.Background(), []string{"A", "B"}, orchestrator.ConnectOptions{})
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{"A": true, "B": false}, batch.Results())
	assert.ErrorIs(t, batch.Err("B"), credentials.ErrCredentialsNotFound)
	assert.Equal(t, "A", svc.ActiveNodeID())

	_, ok := svc.Registry().Record("B")
	assert.False(t, ok, "no registry entry for the failed node")
	assert.True(t, e.registered(t, "A"))
	assert.False(t, e.registered(t, "B"))

	select {
	case <-batch.Done():
	default:
		t.Fatal("batch without timeout should be done immediately")
	}
}

func TestConnectMany_FirstInInputOrderBecomesActive(t *testing.T) {
	e := newEnv(t)
	for _, id := range []string{"A", "B", "C"} {
		e.provision(t, id)
	}
	e.dialer.Fail("A", nil)
	svc := e.service(t)

	batch, err := svc.ConnectMany(context.Background(), []string{"A", "C", "B", "C", " "}, orchestrator.ConnectOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "C", "B"}, batch.Nodes())
	assert.Equal(t, []string{"C", "B"}, batch.Connected())
	assert.ErrorIs(t, batch.Err("A"), session.ErrConnectFailed)
	assert.Equal(t, "C", svc.ActiveNodeID())
}

func TestConnectMany_UsesBrokerOverride(t *testing.T) {
	e := newEnv(t)
	e.provision(t, "A")
	svc := e.service(t)

	_, err := svc.ConnectMany(context.Background(), []string{"A"}, orchestrator.ConnectOptions{Broker: "other.example:8883"})
	require.NoError(t, err)

	rec, ok := svc.Registry().Record("A")
	require.True(t, ok)
	assert.Equal(t, "other.example:8883", rec.Broker)
}

func TestConnectMany_NoNodes(t *testing.T) {
	svc := newEnv(t).service(t)
	_, err := svc.ConnectMany(context.Background(), []string{"", "  "}, orchestrator.ConnectOptions{})
	assert.ErrorIs(t, err, orchestrator.ErrNoNodes)
}

func TestConnect_TimeoutExpires(t *testing.T) {
	e := newEnv(t)
	e.provision(t, "A")
	svc := e.service(t)

	var mu sync.Mutex
	var reported []orchestrator.Expiry
	batch, err := svc.Connect(context.Background(), "A", orchestrator.ConnectOptions{
		Timeout: 50 * time.Millisecond,
		OnExpire: func(ex orchestrator.Expiry) {
			mu.Lock()
			reported = append(reported, ex)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	assert.True(t, e.registered(t, "A"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, batch.Wait(ctx))

	_, ok := svc.Registry().Record("A")
	assert.False(t, ok)
	assert.False(t, e.registered(t, "A"))
	assert.Empty(t, svc.ActiveNodeID())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	assert.Equal(t, "A", reported[0].NodeID)
	assert.True(t, reported[0].Removed)
	assert.Equal(t, reported, batch.Expired())
}

func TestConnect_TimeoutSkipsAlreadyDisconnected(t *testing.T) {
	e := newEnv(t)
	e.provision(t, "A")
	svc := e.service(t)

	batch, err := svc.Connect(context.Background(), "A", orchestrator.ConnectOptions{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, svc.Disconnect(context.Background(), "A"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, batch.Wait(ctx))

	expired := batch.Expired()
	require.Len(t, expired, 1)
	assert.False(t, expired[0].Removed)
}

func TestBatch_StopAndInterrupt(t *testing.T) {
	e := newEnv(t)
	e.provision(t, "A")
	svc := e.service(t)

	batch, err := svc.Connect(context.Background(), "A", orchestrator.ConnectOptions{Timeout: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, batch.Timeout())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, batch.Wait(ctx), context.Canceled)

	assert.True(t, batch.Stop())
	require.NoError(t, batch.Wait(context.Background()))
	_, ok := svc.Registry().Record("A")
	assert.True(t, ok, "stopped batch leaves the connection registered")
}

func TestBatch_InterruptWaitsForRunningExpiry(t *testing.T) {
	e := newEnv(t)
	e.provision(t, "A")
	svc := e.service(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	batch, err := svc.Connect(context.Background(), "A", orchestrator.ConnectOptions{
		Timeout: time.Millisecond,
		OnExpire: func(orchestrator.Expiry) {
			close(entered)
			<-release
		},
	})
	require.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("expiry did not start")
	}

	result := make(chan bool, 1)
	go func() { result <- batch.Interrupt() }()

	select {
	case <-result:
		t.Fatal("Interrupt returned while the expiry was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case left := <-result:
		assert.False(t, left)
	case <-time.After(3 * time.Second):
		t.Fatal("Interrupt did not return after the expiry finished")
	}
	assert.False(t, e.registered(t, "A"))
	require.Len(t, batch.Expired(), 1)
}

func TestBatch_InterruptBeforeExpiry(t *testing.T) {
	e := newEnv(t)
	e.provision(t, "A")
	svc := e.service(t)

	batch, err := svc.Connect(context.Background(), "A", orchestrator.ConnectOptions{Timeout: time.Hour})
	require.NoError(t, err)
	assert.True(t, batch.Interrupt())
	assert.True(t, e.registered(t, "A"))
}

func TestConnect_ReturnsTypedError(t *testing.T) {
	e := newEnv(t)
	svc := e.service(t)

	batch, err := svc.Connect(context.Background(), "ghost", orchestrator.ConnectOptions{})
	require.ErrorIs(t, err, credentials.ErrCredentialsNotFound)
	assert.Equal(t, map[string]bool{"ghost": false}, batch.Results())
}

func TestDisconnectAll(t *testing.T) {
	e := newEnv(t)
	for _, id := range []string{"A", "B", "C"} {
		e.provision(t, id)
	}
	svc := e.service(t)
	_, err := svc.ConnectMany(context.Background(), []string{"A", "B", "C"}, orchestrator.ConnectOptions{})
	require.NoError(t, err)

	results := svc.DisconnectAll(context.Background())
	assert.Equal(t, map[string]bool{"A": true, "B": true, "C": true}, results)

	for _, id := range []string{"A", "B", "C"} {
		_, err := svc.Registry().Get(context.Background(), id)
		assert.ErrorIs(t, err, registry.ErrNotFound)
		assert.False(t, e.registered(t, id))
	}
}

func TestActiveAndSwitch(t *testing.T) {
	e := newEnv(t)
	e.provision(t, "A")
	e.provision(t, "B")
	svc := e.service(t)

	_, err := svc.Active(context.Background())
	require.ErrorIs(t, err, orchestrator.ErrNoActiveNode)

	_, err = svc.ConnectMany(context.Background(), []string{"A", "B"}, orchestrator.ConnectOptions{})
	require.NoError(t, err)

	h, err := svc.Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A", h.NodeID())

	require.NoError(t, svc.Switch("B"))
	h, err = svc.Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "B", h.NodeID())

	assert.ErrorIs(t, svc.Switch("ghost"), orchestrator.ErrNotConnected)
}

func TestPublish_ActiveNodeAcrossProcesses(t *testing.T) {
	e := newEnv(t)
	e.provision(t, "A")

	first := e.service(t)
	_, err := first.Connect(context.Background(), "A", orchestrator.ConnectOptions{})
	require.NoError(t, err)

	second := e.service(t)
	require.NoError(t, second.Publish(context.Background(), "", "node/A/alert", map[string]string{"message": "hi"}, 1))

	published := e.dialer.Transport("A").Published()
	require.Len(t, published, 1)
	assert.Equal(t, "node/A/alert", published[0].Topic)
	assert.JSONEq(t, `{"message":"hi"}`, string(published[0].Payload))
	assert.Equal(t, []string{"node/A/alert"}, e.observed.topics)
}

func TestPublish_RetriesThenFails(t *testing.T) {
	e := newEnv(t)
	e.provision(t, "A")
	e.dialer.Configure(func(_ string, tr *sessiontest.Transport) { tr.PublishFailures = 10 })
	svc := e.service(t)

	err := svc.Publish(context.Background(), "A", "node/A/config", "x", 1)
	require.ErrorIs(t, err, session.ErrPublishFailed)
	assert.Empty(t, e.observed.topics, "failed publishes are not observed")
}

func TestPublish_NoActiveNode(t *testing.T) {
	svc := newEnv(t).service(t)
	err := svc.Publish(context.Background(), "", "node/x/config", "x", 1)
	assert.ErrorIs(t, err, orchestrator.ErrNoActiveNode)
}

func TestHandle_ConnectsUnknownNodeOnDemand(t *testing.T) {
	e := newEnv(t)
	e.provision(t, "A")
	svc := e.service(t)

	h, err := svc.Handle(context.Background(), "A")
	require.NoError(t, err)
	assert.True(t, h.IsConnected())

	again, err := svc.Handle(context.Background(), "A")
	require.NoError(t, err)
	assert.Same(t, h, again, "on-demand session is reused within the process")
	assert.Equal(t, []string{"A"}, e.dialer.Dials())

	_, stored := svc.Registry().Record("A")
	assert.False(t, stored, "on-demand connect is not persisted")
	assert.False(t, e.registered(t, "A"))

	svc.Close()
	assert.False(t, h.IsConnected())
}

func TestPublish_OnDemandKeepsActiveNode(t *testing.T) {
	e := newEnv(t)
	e.provision(t, "A")
	e.provision(t, "B")
	svc := e.service(t)

	_, err := svc.Connect(context.Background(), "A", orchestrator.ConnectOptions{})
	require.NoError(t, err)

	require.NoError(t, svc.Publish(context.Background(), "B", "node/B/params", "x", 1))
	assert.Equal(t, "A", svc.ActiveNodeID())
	_, stored := svc.Registry().Record("B")
	assert.False(t, stored)
	assert.Equal(t, "node/B/params", e.dialer.Transport("B").Published()[0].Topic)

	later := e.service(t)
	assert.Equal(t, "A", later.ActiveNodeID(), "a later process still targets A")
	assert.Len(t, later.Registry().List(context.Background()), 1)

	assert.True(t, svc.Disconnect(context.Background(), "B"))
	assert.Equal(t, "A", svc.ActiveNodeID())
}

func TestHandle_StoredButUnreachable(t *testing.T) {
	e := newEnv(t)
	e.provision(t, "A")
	_, err := e.service(t).Connect(context.Background(), "A", orchestrator.ConnectOptions{})
	require.NoError(t, err)

	e.dialer.Fail("A", nil)
	_, err = e.service(t).Handle(context.Background(), "A")
	assert.ErrorIs(t, err, orchestrator.ErrNotConnected)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	e := newEnv(t)
	e.provision(t, "A")
	svc := e.service(t)

	got := make(chan session.Message, 1)
	h, err := svc.Subscribe(context.Background(), "A", "node/A/otaurl", 1, func(m session.Message) { got <- m })
	require.NoError(t, err)
	assert.Equal(t, []string{"node/A/otaurl"}, h.Subscriptions())

	e.dialer.Transport("A").Deliver("node/A/otaurl", []byte(`{"ota_job_id":"j"}`))
	select {
	case m := <-got:
		assert.Equal(t, "node/A/otaurl", m.Topic)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}

	require.NoError(t, svc.Unsubscribe(context.Background(), "A", "node/A/otaurl"))
	assert.Empty(t, h.Subscriptions())
}

func TestResolveCredentials_SearchesCertBase(t *testing.T) {
	e := newEnv(t)
	base := t.TempDir()
	for _, name := range []string{"N1.crt", "N1.key"} {
		require.NoError(t, os.WriteFile(filepath.Join(base, name), []byte("pem"), 0o600))
	}
	e.cfg.Paths.CertBase = base
	svc := e.service(t)

	id, err := svc.ResolveCredentials("N1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "N1.crt"), id.CertPath)

	stored, ok := e.identity.Lookup("N1")
	require.True(t, ok, "resolved identity is remembered")
	assert.Equal(t, id.KeyPath, stored.KeyPath)
}

func TestResolveCredentials_MissingBase(t *testing.T) {
	e := newEnv(t)
	e.cfg.Paths.CertBase = filepath.Join(t.TempDir(), "absent")
	svc := e.service(t)

	_, err := svc.ResolveCredentials("N1")
	assert.ErrorIs(t, err, credentials.ErrCredentialsNotFound)
}

func TestBroker_IdentityStoreOverridesConfig(t *testing.T) {
	e := newEnv(t)
	svc := e.service(t)
	assert.Equal(t, e.cfg.BrokerAddress(), svc.Broker())

	require.NoError(t, e.identity.SetBroker("custom.example:443"))
	assert.Equal(t, "custom.example:443", svc.Broker())
}

func TestStatus(t *testing.T) {
	e := newEnv(t)
	e.provision(t, "A")
	e.provision(t, "B")
	_, err := e.service(t).ConnectMany(context.Background(), []string{"A", "B"}, orchestrator.ConnectOptions{})
	require.NoError(t, err)

	e.dialer.Configure(func(nodeID string, tr *sessiontest.Transport) {
		if nodeID == "B" {
			tr.PingErr = sessiontest.ErrInjected
		}
	})
	svc := e.service(t)

	cold := svc.Status(context.Background(), false)
	require.Len(t, cold, 2)
	assert.False(t, cold[0].Connected, "no live handle in a fresh process")
	assert.True(t, cold[0].Active)
	assert.True(t, cold[0].Registered)

	verified := svc.Status(context.Background(), true)
	require.Len(t, verified, 2)
	assert.Equal(t, "A", verified[0].Record.NodeID)
	assert.True(t, verified[0].Connected)
	assert.Equal(t, "B", verified[1].Record.NodeID)
	assert.False(t, verified[1].Connected)
	assert.ErrorIs(t, verified[1].Err, session.ErrPingFailed)
	assert.Equal(t, session.StateDegraded, verified[1].State)
}
