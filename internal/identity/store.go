package identity

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nerrad567/fleetctl/internal/credentials"
	"github.com/nerrad567/fleetctl/internal/infrastructure/logging"
	"github.com/nerrad567/fleetctl/internal/infrastructure/yamlfile"
)

// FileName is the identity store file inside the config directory.
const FileName = "devices.yaml"

// corruptSuffix is appended to a store file that failed to parse.
const corruptSuffix = ".corrupt"

// Entry is one stored node identity.
type Entry struct {
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

type document struct {
	Broker       string           `yaml:"broker,omitempty"`
	CertBasePath string           `yaml:"cert_base_path,omitempty"`
	Nodes        map[string]Entry `yaml:"nodes"`
}

// Store is the devices.yaml identity store.
//
// Thread Safety:
//   - All methods are safe for concurrent use within one process.
//   - Across processes the last writer wins.
type Store struct {
	path   string
	logger *logging.Logger

	mu  sync.Mutex
	doc document
}

// Open loads the store from dir, pruning entries whose files are gone.
// A missing file yields an empty store.
func Open(dir string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Store{
		path:   filepath.Join(dir, FileName),
		logger: logger.With("component", "identity"),
		doc:    document{Nodes: make(map[string]Entry)},
	}

	if _, err := yamlfile.Read(s.path, &s.doc); err != nil {
		if !errors.Is(err, yamlfile.ErrDecode) {
			return nil, err
		}
		s.logger.Error("identity store unreadable, starting empty",
			"path", s.path,
			"error", fmt.Errorf("%w: %w", ErrStoreCorrupted, err),
		)
		if _, mvErr := yamlfile.MoveAside(s.path, corruptSuffix); mvErr != nil {
			s.logger.Warn("could not move corrupt store aside", "error", mvErr)
		}
		s.doc = document{Nodes: make(map[string]Entry)}
	}
	if s.doc.Nodes == nil {
		s.doc.Nodes = make(map[string]Entry)
	}

	if pruned := s.pruneLocked(); len(pruned) > 0 {
		s.logger.Info("pruned identities with missing files", "node_ids", pruned)
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the store file location.
func (s *Store) Path() string {
	return s.path
}

// Broker returns the broker override, or "" when none is set.
func (s *Store) Broker() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Broker
}

// SetBroker persists a broker override.
func (s *Store) SetBroker(broker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Broker = broker
	return s.saveLocked()
}

// CertBasePath returns the stored certificate search base, or "".
func (s *Store) CertBasePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.CertBasePath
}

// SetCertBasePath persists the certificate search base as an absolute path.
func (s *Store) SetCertBasePath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.CertBasePath = abs
	return s.saveLocked()
}

// Add records or replaces a node identity. Both files must exist.
func (s *Store) Add(id credentials.Identity) error {
	if id.NodeID == "" {
		return ErrInvalidNodeID
	}
	certPath, err := filepath.Abs(id.CertPath)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", id.CertPath, err)
	}
	keyPath, err := filepath.Abs(id.KeyPath)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", id.KeyPath, err)
	}
	abs := credentials.Identity{NodeID: id.NodeID, CertPath: certPath, KeyPath: keyPath}
	if !abs.Exists() {
		return fmt.Errorf("%w: node %s (%s, %s)", ErrFileNotFound, id.NodeID, certPath, keyPath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Nodes[id.NodeID] = Entry{CertPath: certPath, KeyPath: keyPath}
	return s.saveLocked()
}

// AddAll records several identities in one write, skipping any whose
// files are missing. It returns the number stored.
func (s *Store) AddAll(ids []credentials.Identity) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, id := range ids {
		if id.NodeID == "" || !id.Exists() {
			continue
		}
		s.doc.Nodes[id.NodeID] = Entry{CertPath: id.CertPath, KeyPath: id.KeyPath}
		added++
	}
	if added == 0 {
		return 0, nil
	}
	return added, s.saveLocked()
}

// Lookup returns the identity for nodeID. An entry whose files vanished
// is removed and reported as absent.
func (s *Store) Lookup(nodeID string) (credentials.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.doc.Nodes[nodeID]
	if !ok {
		return credentials.Identity{}, false
	}
	id := credentials.Identity{NodeID: nodeID, CertPath: entry.CertPath, KeyPath: entry.KeyPath}
	if id.Exists() {
		return id, true
	}

	delete(s.doc.Nodes, nodeID)
	if err := s.saveLocked(); err != nil {
		s.logger.Warn("failed to persist pruned identity", "node_id", nodeID, "error", err)
	}
	return credentials.Identity{}, false
}

// List returns every stored identity sorted by node id.
func (s *Store) List() []credentials.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]credentials.Identity, 0, len(s.doc.Nodes))
	for nodeID, entry := range s.doc.Nodes {
		ids = append(ids, credentials.Identity{NodeID: nodeID, CertPath: entry.CertPath, KeyPath: entry.KeyPath})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].NodeID < ids[j].NodeID })
	return ids
}

// Remove deletes a node identity, reporting whether it was present.
func (s *Store) Remove(nodeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Nodes[nodeID]; !ok {
		return false, nil
	}
	delete(s.doc.Nodes, nodeID)
	return true, s.saveLocked()
}

// Reset clears the broker override, the cert base and every identity.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = document{Nodes: make(map[string]Entry)}
	return s.saveLocked()
}

func (s *Store) pruneLocked() []string {
	var pruned []string
	for nodeID, entry := range s.doc.Nodes {
		id := credentials.Identity{NodeID: nodeID, CertPath: entry.CertPath, KeyPath: entry.KeyPath}
		if !id.Exists() {
			delete(s.doc.Nodes, nodeID)
			pruned = append(pruned, nodeID)
		}
	}
	sort.Strings(pruned)
	return pruned
}

func (s *Store) saveLocked() error {
	if err := yamlfile.Write(s.path, s.doc); err != nil {
		return fmt.Errorf("saving identity store: %w", err)
	}
	return nil
}
