package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nerrad567/fleetctl/internal/credentials"
	"github.com/nerrad567/fleetctl/internal/infrastructure/logging"
	"github.com/nerrad567/fleetctl/internal/infrastructure/yamlfile"
	"github.com/nerrad567/fleetctl/internal/session"
)

// FileName is the connection store inside the config directory.
const FileName = "connections.yaml"

// corruptSuffix is appended to a store file that failed to parse.
const corruptSuffix = ".corrupt"

// Record is the persisted metadata for one node connection.
type Record struct {
	NodeID   string `yaml:"-" json:"node_id"`
	Broker   string `yaml:"broker" json:"broker"`
	CertPath string `yaml:"cert_path" json:"cert_path"`
	KeyPath  string `yaml:"key_path" json:"key_path"`
}

// Valid reports whether the record's credential files are reachable.
func (r Record) Valid() bool {
	return credentials.Identity{CertPath: r.CertPath, KeyPath: r.KeyPath}.Exists()
}

type document struct {
	ActiveNode  string            `yaml:"active_node"`
	Connections map[string]Record `yaml:"connections"`
}

// Mirror receives every registry mutation. *ledger.Ledger satisfies it.
type Mirror interface {
	Register(ctx context.Context, nodeID, broker string) error
	Unregister(ctx context.Context, nodeID string) error
	Reconcile(ctx context.Context, known map[string]string) error
}

// HandleFactory builds an unconnected handle from persisted metadata.
type HandleFactory func(rec Record) (*session.Handle, error)

// Registry maps node ids to connections.
//
// Thread Safety:
//   - All methods are safe for concurrent use within one process.
//   - Across processes the store is last-writer-wins.
type Registry struct {
	path    string
	mirror  Mirror
	factory HandleFactory
	logger  *logging.Logger

	mu   sync.Mutex
	doc  document
	live map[string]*session.Handle
}

// Open loads the connection store from dir. A corrupt store is logged,
// moved aside to connections.yaml.corrupt and replaced by an empty one.
// mirror may be nil.
func Open(ctx context.Context, dir string, mirror Mirror, factory HandleFactory, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Registry{
		path:    filepath.Join(dir, FileName),
		mirror:  mirror,
		factory: factory,
		logger:  logger.With("component", "registry"),
		doc:     document{Connections: make(map[string]Record)},
		live:    make(map[string]*session.Handle),
	}

	if _, err := yamlfile.Read(r.path, &r.doc); err != nil {
		if !errors.Is(err, yamlfile.ErrDecode) {
			return nil, err
		}
		if rerr := r.recoverCorrupt(err); rerr != nil {
			return nil, rerr
		}
	}
	if r.doc.Connections == nil {
		r.doc.Connections = make(map[string]Record)
	}
	for nodeID, rec := range r.doc.Connections {
		rec.NodeID = nodeID
		r.doc.Connections[nodeID] = rec
	}

	if _, ok := r.doc.Connections[r.doc.ActiveNode]; r.doc.ActiveNode != "" && !ok {
		r.logger.Warn("active node has no stored connection, clearing", "node_id", r.doc.ActiveNode)
		r.doc.ActiveNode = ""
		if err := r.saveLocked(); err != nil {
			return nil, err
		}
	}

	r.reconcileMirror(ctx)
	return r, nil
}

func (r *Registry) recoverCorrupt(cause error) error {
	r.logger.Error("connection store unreadable, resetting",
		"path", r.path,
		"error", fmt.Errorf("%w: %w", ErrStoreCorrupted, cause),
	)
	if _, err := yamlfile.MoveAside(r.path, corruptSuffix); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreCorrupted, err)
	}
	r.doc = document{Connections: make(map[string]Record)}
	if err := r.saveLocked(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreCorrupted, err)
	}
	return nil
}

func (r *Registry) reconcileMirror(ctx context.Context) {
	if r.mirror == nil {
		return
	}
	known := make(map[string]string, len(r.doc.Connections))
	for nodeID, rec := range r.doc.Connections {
		known[nodeID] = rec.Broker
	}
	if err := r.mirror.Reconcile(ctx, known); err != nil {
		r.logger.Warn("ledger reconcile failed", "error", err)
	}
}

// Path returns the store file location.
func (r *Registry) Path() string {
	return r.path
}

// Add stores rec, caches h as its live handle and makes the node active.
// An existing live handle for the same node is disconnected.
func (r *Registry) Add(ctx context.Context, rec Record, h *session.Handle) error {
	if rec.NodeID == "" {
		return ErrInvalidRecord
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.live[rec.NodeID]; ok && old != h {
		r.disconnectQuietly(old)
	}
	if h != nil {
		r.live[rec.NodeID] = h
	}
	r.doc.Connections[rec.NodeID] = rec
	r.doc.ActiveNode = rec.NodeID
	if err := r.saveLocked(); err != nil {
		return err
	}

	if r.mirror != nil {
		if err := r.mirror.Register(ctx, rec.NodeID, rec.Broker); err != nil {
			r.logger.Warn("ledger register failed", "node_id", rec.NodeID, "error", err)
		}
	}
	r.logger.Debug("connection added", "node_id", rec.NodeID, "broker", rec.Broker)
	return nil
}

// Get returns a connected handle for nodeID. A live connected handle is
// returned as is; otherwise one is rehydrated from the stored record,
// connected and cached. A record whose credential files have vanished is
// pruned. Every failure is reported as ErrNotFound.
func (r *Registry) Get(ctx context.Context, nodeID string) (*session.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.live[nodeID]; ok && h.IsConnected() {
		return h, nil
	}

	rec, ok := r.doc.Connections[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: node %s", ErrNotFound, nodeID)
	}
	if !rec.Valid() {
		r.logger.Warn("pruning connection with missing credentials",
			"node_id", nodeID,
			"cert_path", rec.CertPath,
			"key_path", rec.KeyPath,
		)
		r.removeLocked(ctx, nodeID)
		return nil, fmt.Errorf("%w: node %s credentials missing", ErrNotFound, nodeID)
	}

	if stale, ok := r.live[nodeID]; ok {
		r.disconnectQuietly(stale)
		delete(r.live, nodeID)
	}

	h, err := r.factory(rec)
	if err != nil {
		r.logger.Warn("rehydrating connection failed", "node_id", nodeID, "error", err)
		return nil, fmt.Errorf("%w: node %s: %w", ErrNotFound, nodeID, err)
	}
	if err := h.Connect(ctx); err != nil {
		r.logger.Warn("reconnecting stored connection failed", "node_id", nodeID, "error", err)
		return nil, fmt.Errorf("%w: node %s: %w", ErrNotFound, nodeID, err)
	}

	r.live[nodeID] = h
	return h, nil
}

// Live returns the cached handle for nodeID without rehydrating.
func (r *Registry) Live(nodeID string) (*session.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.live[nodeID]
	return h, ok
}

// Remove disconnects and forgets nodeID, reporting whether it was known.
// Disconnect errors are logged and otherwise ignored.
func (r *Registry) Remove(ctx context.Context, nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(ctx, nodeID)
}

func (r *Registry) removeLocked(ctx context.Context, nodeID string) bool {
	_, stored := r.doc.Connections[nodeID]
	h, live := r.live[nodeID]
	if !stored && !live {
		return false
	}

	if live {
		r.disconnectQuietly(h)
		delete(r.live, nodeID)
	}
	delete(r.doc.Connections, nodeID)
	if r.doc.ActiveNode == nodeID {
		r.doc.ActiveNode = ""
	}
	if err := r.saveLocked(); err != nil {
		r.logger.Error("failed to persist removal", "node_id", nodeID, "error", err)
	}

	if r.mirror != nil {
		if err := r.mirror.Unregister(ctx, nodeID); err != nil {
			r.logger.Warn("ledger unregister failed", "node_id", nodeID, "error", err)
		}
	}
	r.logger.Debug("connection removed", "node_id", nodeID)
	return true
}

// RemoveAll removes every known node and reports the outcome per node.
func (r *Registry) RemoveAll(ctx context.Context) map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make(map[string]struct{}, len(r.doc.Connections)+len(r.live))
	for nodeID := range r.doc.Connections {
		ids[nodeID] = struct{}{}
	}
	for nodeID := range r.live {
		ids[nodeID] = struct{}{}
	}

	results := make(map[string]bool, len(ids))
	for nodeID := range ids {
		results[nodeID] = r.removeLocked(ctx, nodeID)
	}
	return results
}

// Close disconnects every live handle without touching the store, so the
// connections can be rehydrated by a later process.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for nodeID, h := range r.live {
		r.disconnectQuietly(h)
		delete(r.live, nodeID)
	}
}

// Active returns the active node id, or "" when none is set.
func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.ActiveNode
}

// SetActive makes nodeID the active node. An empty id clears it; any other
// id must have a stored connection.
func (r *Registry) SetActive(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if nodeID != "" {
		if _, ok := r.doc.Connections[nodeID]; !ok {
			return fmt.Errorf("%w: node %s", ErrNotFound, nodeID)
		}
	}
	r.doc.ActiveNode = nodeID
	return r.saveLocked()
}

// Record returns the stored metadata for nodeID.
func (r *Registry) Record(nodeID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.doc.Connections[nodeID]
	return rec, ok
}

// List returns every stored record sorted by node id. Records whose
// credential files have vanished are pruned first.
func (r *Registry) List(ctx context.Context) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]Record, 0, len(r.doc.Connections))
	for nodeID, rec := range r.doc.Connections {
		if !rec.Valid() {
			r.logger.Warn("pruning connection with missing credentials", "node_id", nodeID)
			r.removeLocked(ctx, nodeID)
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].NodeID < records[j].NodeID })
	return records
}

func (r *Registry) disconnectQuietly(h *session.Handle) {
	if err := h.Disconnect(); err != nil {
		r.logger.Debug("ignoring disconnect error", "node_id", h.NodeID(), "error", err)
	}
}

func (r *Registry) saveLocked() error {
	if err := yamlfile.Write(r.path, r.doc); err != nil {
		return fmt.Errorf("saving connection store: %w", err)
	}
	return nil
}
