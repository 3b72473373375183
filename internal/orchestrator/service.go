package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/fleetctl/internal/credentials"
	"github.com/nerrad567/fleetctl/internal/infrastructure/config"
	"github.com/nerrad567/fleetctl/internal/infrastructure/logging"
	"github.com/nerrad567/fleetctl/internal/registry"
	"github.com/nerrad567/fleetctl/internal/session"
)

// maxConcurrentConnects bounds the handshakes ConnectMany runs at once.
const maxConcurrentConnects = 32

// IdentityStore is the persisted node identity catalogue.
// *identity.Store satisfies it.
type IdentityStore interface {
	Lookup(nodeID string) (credentials.Identity, bool)
	Add(id credentials.Identity) error
	Broker() string
	CertBasePath() string
}

// Ledger is the cross-process registration mirror. *ledger.Ledger
// satisfies it.
type Ledger interface {
	registry.Mirror
	IsRegistered(ctx context.Context, nodeID string) (bool, error)
}

// PublishObserver sees every successful publish.
type PublishObserver interface {
	ObservePublish(nodeID, topic string, payload []byte)
}

// Options wires a Service. Ledger and Observer may be nil.
type Options struct {
	Config         *config.Config
	Identity       IdentityStore
	Resolver       *credentials.Resolver
	Dialer         session.Dialer
	Ledger         Ledger
	Observer       PublishObserver
	Logger         *logging.Logger
	SessionOptions []session.Option
}

// ConnectOptions tune a connect call.
type ConnectOptions struct {
	// Broker overrides the configured broker address.
	Broker string
	// Timeout, when positive, schedules removal of the batch's connections.
	Timeout time.Duration
	// OnExpire is called for every connection the timeout closes.
	OnExpire func(Expiry)
}

// Status describes one stored connection.
type Status struct {
	Record     registry.Record
	Active     bool
	Connected  bool
	State      session.State
	Registered bool
	Err        error
}

// Service is the per-invocation operation surface.
//
// Thread Safety:
//   - Methods may be called concurrently; per-node operations are
//     serialised by the node's session handle.
type Service struct {
	cfg      *config.Config
	identity IdentityStore
	resolver *credentials.Resolver
	dialer   session.Dialer
	ledger   Ledger
	observer PublishObserver
	base     *logging.Logger
	logger   *logging.Logger
	sessOpts []session.Option

	registry *registry.Registry

	// transient holds handles connected on demand for nodes without a
	// stored connection. They live only as long as this process.
	mu        sync.Mutex
	transient map[string]*session.Handle
}

// New builds the Service and opens the connection registry in the config
// directory.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, errors.New("orchestrator: config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Resolver == nil {
		opts.Resolver = credentials.NewResolver(opts.Logger)
	}
	if opts.Dialer == nil {
		opts.Dialer = session.MQTTDialer(opts.Logger.With("component", "mqtt"))
	}

	s := &Service{
		cfg:      opts.Config,
		identity: opts.Identity,
		resolver: opts.Resolver,
		dialer:   opts.Dialer,
		ledger:   opts.Ledger,
		observer: opts.Observer,
		base:     opts.Logger,
		logger:   opts.Logger.With("component", "orchestrator"),
		sessOpts: opts.SessionOptions,

		transient: make(map[string]*session.Handle),
	}

	var mirror registry.Mirror
	if opts.Ledger != nil {
		mirror = opts.Ledger
	}
	reg, err := registry.Open(ctx, opts.Config.Dir, mirror, s.newHandle, opts.Logger)
	if err != nil {
		return nil, err
	}
	s.registry = reg
	return s, nil
}

// Registry exposes the connection registry.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Close drops this process's live sessions. Stored connections remain.
func (s *Service) Close() {
	s.registry.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for nodeID, h := range s.transient {
		s.disconnectQuietly(h)
		delete(s.transient, nodeID)
	}
}

func (s *Service) disconnectQuietly(h *session.Handle) {
	if err := h.Disconnect(); err != nil {
		s.logger.Debug("ignoring disconnect error", "node_id", h.NodeID(), "error", err)
	}
}

// QoS returns the configured default QoS.
func (s *Service) QoS() byte {
	return byte(s.cfg.Session.QoS) //nolint:gosec // validated to 0..2
}

// Broker returns the broker used when no override is given: the identity
// store's broker if set, else the configured one.
func (s *Service) Broker() string {
	if s.identity != nil {
		if b := s.identity.Broker(); b != "" {
			return b
		}
	}
	return s.cfg.BrokerAddress()
}

// ResolveCredentials returns the certificate and key for nodeID: from the
// identity store when present, otherwise by searching the certificate base
// directory. Resolved identities are added to the store.
func (s *Service) ResolveCredentials(nodeID string) (credentials.Identity, error) {
	if s.identity != nil {
		if id, ok := s.identity.Lookup(nodeID); ok {
			return id, nil
		}
	}

	base := s.cfg.Paths.CertBase
	if s.identity != nil && s.identity.CertBasePath() != "" {
		base = s.identity.CertBasePath()
	}
	if base == "" {
		return credentials.Identity{}, fmt.Errorf("%w: node %s is not in the identity store and no certificate base path is set",
			credentials.ErrCredentialsNotFound, nodeID)
	}

	id, err := s.resolver.Resolve(base, nodeID, "")
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidBasePath) {
			return credentials.Identity{}, fmt.Errorf("%w: node %s: %w", credentials.ErrCredentialsNotFound, nodeID, err)
		}
		return credentials.Identity{}, err
	}

	if s.identity != nil {
		if err := s.identity.Add(id); err != nil {
			s.logger.Warn("failed to remember resolved identity", "node_id", nodeID, "error", err)
		}
	}
	return id, nil
}

func (s *Service) newHandle(rec registry.Record) (*session.Handle, error) {
	root, err := credentials.RootCA(s.cfg.Dir)
	if err != nil {
		return nil, err
	}
	return session.New(session.Config{
		Broker:      rec.Broker,
		NodeID:      rec.NodeID,
		CertPath:    rec.CertPath,
		KeyPath:     rec.KeyPath,
		RootPath:    root,
		HistorySize: s.cfg.Session.HistorySize,
	}, s.dialer, s.base, s.sessOpts...)
}

// dial resolves credentials and performs the handshake for one node.
func (s *Service) dial(ctx context.Context, nodeID, broker string) (*session.Handle, registry.Record, error) {
	id, err := s.ResolveCredentials(nodeID)
	if err != nil {
		return nil, registry.Record{}, err
	}
	rec := registry.Record{NodeID: nodeID, Broker: broker, CertPath: id.CertPath, KeyPath: id.KeyPath}

	h, err := s.newHandle(rec)
	if err != nil {
		return nil, rec, err
	}
	if err := h.Connect(ctx); err != nil {
		return nil, rec, err
	}
	return h, rec, nil
}

// Connect connects one node and makes it active. The returned error is
// the node's typed failure; the Batch is returned either way.
func (s *Service) Connect(ctx context.Context, nodeID string, opts ConnectOptions) (*Batch, error) {
	batch, err := s.ConnectMany(ctx, []string{nodeID}, opts)
	if err != nil {
		return nil, err
	}
	return batch, batch.Err(strings.TrimSpace(nodeID))
}

// ConnectMany connects every node concurrently. Registry writes happen
// after all attempts finish. The first connected node in input order
// becomes active. Duplicate and empty ids are dropped.
func (s *Service) ConnectMany(ctx context.Context, nodeIDs []string, opts ConnectOptions) (*Batch, error) {
	ids := uniqueIDs(nodeIDs)
	if len(ids) == 0 {
		return nil, ErrNoNodes
	}

	broker := opts.Broker
	if broker == "" {
		broker = s.Broker()
	}

	type attempt struct {
		handle *session.Handle
		rec    registry.Record
		err    error
	}
	attempts := make([]attempt, len(ids))

	var g errgroup.Group
	g.SetLimit(maxConcurrentConnects)
	for i, nodeID := range ids {
		i, nodeID := i, nodeID
		g.Go(func() error {
			h, rec, err := s.dial(ctx, nodeID, broker)
			attempts[i] = attempt{handle: h, rec: rec, err: err}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // Workers never return errors; failures are in attempts

	batch := newBatch(ids)
	first := ""
	for i, nodeID := range ids {
		a := attempts[i]
		if a.err == nil {
			if err := s.registry.Add(ctx, a.rec, a.handle); err != nil {
				a.err = err
				if derr := a.handle.Disconnect(); derr != nil {
					s.logger.Debug("ignoring disconnect error", "node_id", nodeID, "error", derr)
				}
			}
		}
		if a.err != nil {
			batch.errs[nodeID] = a.err
			s.logger.Warn("connect failed", "node_id", nodeID, "broker", broker, "error", a.err)
			continue
		}
		s.dropTransient(nodeID)
		if first == "" {
			first = nodeID
		}
		s.logger.Info("connected", "node_id", nodeID, "broker", broker)
	}

	if first != "" {
		if err := s.registry.SetActive(first); err != nil {
			s.logger.Error("failed to set active node", "node_id", first, "error", err)
		}
	}

	if opts.Timeout > 0 && first != "" {
		batch.schedule(opts.Timeout, func() { s.expire(batch, opts.OnExpire) })
	} else {
		batch.finish()
	}
	return batch, nil
}

func (s *Service) expire(batch *Batch, onExpire func(Expiry)) {
	for _, nodeID := range batch.Connected() {
		e := Expiry{
			NodeID:  nodeID,
			Removed: s.registry.Remove(context.Background(), nodeID),
			At:      time.Now(),
		}
		batch.record(e)
		s.logger.Info("connection expired", "node_id", nodeID, "removed", e.Removed)
		if onExpire != nil {
			onExpire(e)
		}
	}
	batch.finish()
}

func uniqueIDs(nodeIDs []string) []string {
	seen := make(map[string]struct{}, len(nodeIDs))
	ids := make([]string, 0, len(nodeIDs))
	for _, raw := range nodeIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// Disconnect removes nodeID, reporting whether it was known.
func (s *Service) Disconnect(ctx context.Context, nodeID string) bool {
	dropped := s.dropTransient(nodeID)
	return s.registry.Remove(ctx, nodeID) || dropped
}

func (s *Service) dropTransient(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.transient[nodeID]
	if ok {
		s.disconnectQuietly(h)
		delete(s.transient, nodeID)
	}
	return ok
}

// DisconnectAll removes every known node, including on-demand sessions.
func (s *Service) DisconnectAll(ctx context.Context) map[string]bool {
	s.mu.Lock()
	transient := make([]string, 0, len(s.transient))
	for nodeID := range s.transient {
		transient = append(transient, nodeID)
	}
	s.mu.Unlock()

	results := s.registry.RemoveAll(ctx)
	for _, nodeID := range transient {
		if s.dropTransient(nodeID) {
			results[nodeID] = true
		}
	}
	return results
}

// ActiveNodeID returns the active node id or "".
func (s *Service) ActiveNodeID() string {
	return s.registry.Active()
}

// Active returns a connected handle for the active node.
func (s *Service) Active(ctx context.Context) (*session.Handle, error) {
	nodeID := s.registry.Active()
	if nodeID == "" {
		return nil, ErrNoActiveNode
	}
	return s.Handle(ctx, nodeID)
}

// Switch makes nodeID the active node.
func (s *Service) Switch(nodeID string) error {
	if err := s.registry.SetActive(nodeID); err != nil {
		return fmt.Errorf("%w: node %s: %w", ErrNotConnected, nodeID, err)
	}
	return nil
}

// Handle returns a connected handle for nodeID, or for the active node
// when nodeID is empty. A stored connection is rehydrated. A node with no
// stored connection is connected on demand for this process only: the
// connection store and the active node are left untouched.
func (s *Service) Handle(ctx context.Context, nodeID string) (*session.Handle, error) {
	if nodeID == "" {
		nodeID = s.registry.Active()
		if nodeID == "" {
			return nil, ErrNoActiveNode
		}
	}

	if _, known := s.registry.Record(nodeID); known {
		h, err := s.registry.Get(ctx, nodeID)
		if err != nil {
			return nil, fmt.Errorf("%w: node %s: %w", ErrNotConnected, nodeID, err)
		}
		return h, nil
	}
	return s.onDemand(ctx, nodeID)
}

func (s *Service) onDemand(ctx context.Context, nodeID string) (*session.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.transient[nodeID]; ok {
		if h.IsConnected() {
			return h, nil
		}
		s.disconnectQuietly(h)
		delete(s.transient, nodeID)
	}

	broker := s.Broker()
	h, _, err := s.dial(ctx, nodeID, broker)
	if err != nil {
		s.logger.Warn("on-demand connect failed", "node_id", nodeID, "broker", broker, "error", err)
		return nil, err
	}
	s.transient[nodeID] = h
	s.logger.Info("connected on demand", "node_id", nodeID, "broker", broker)
	return h, nil
}

// Publish sends payload to topic on behalf of nodeID (the active node when
// empty), retrying per the configured publish_retry.
func (s *Service) Publish(ctx context.Context, nodeID, topic string, payload any, qos byte) error {
	data, err := session.EncodePayload(payload)
	if err != nil {
		return err
	}
	h, err := s.Handle(ctx, nodeID)
	if err != nil {
		return err
	}
	if err := h.Publish(ctx, topic, data, qos, s.cfg.Session.PublishRetry); err != nil {
		return err
	}
	if s.observer != nil {
		s.observer.ObservePublish(h.NodeID(), topic, data)
	}
	return nil
}

// Subscribe registers cb for topic on nodeID's session and returns the
// handle so callers can read its message stream.
func (s *Service) Subscribe(ctx context.Context, nodeID, topic string, qos byte, cb session.Callback) (*session.Handle, error) {
	h, err := s.Handle(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if err := h.Subscribe(ctx, topic, qos, cb); err != nil {
		return nil, err
	}
	return h, nil
}

// Unsubscribe removes a subscription from nodeID's session.
func (s *Service) Unsubscribe(ctx context.Context, nodeID, topic string) error {
	h, err := s.Handle(ctx, nodeID)
	if err != nil {
		return err
	}
	return h.Unsubscribe(ctx, topic)
}

// Status lists stored connections. With verify, each node is rehydrated
// and pinged; otherwise only this process's live handles are inspected.
func (s *Service) Status(ctx context.Context, verify bool) []Status {
	active := s.registry.Active()
	records := s.registry.List(ctx)
	statuses := make([]Status, 0, len(records))

	for _, rec := range records {
		st := Status{Record: rec, Active: rec.NodeID == active, State: session.StateUnresolved}

		if verify {
			h, err := s.registry.Get(ctx, rec.NodeID)
			if err == nil {
				err = h.Ping(ctx)
				st.State = h.State()
			}
			st.Connected = err == nil
			st.Err = err
		} else if h, ok := s.registry.Live(rec.NodeID); ok {
			st.State = h.State()
			st.Connected = h.IsConnected()
		}

		if s.ledger != nil {
			registered, err := s.ledger.IsRegistered(ctx, rec.NodeID)
			if err != nil {
				s.logger.Debug("ledger lookup failed", "node_id", rec.NodeID, "error", err)
			}
			st.Registered = registered
		}
		statuses = append(statuses, st)
	}
	return statuses
}
