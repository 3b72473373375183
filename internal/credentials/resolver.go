package credentials

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nerrad567/fleetctl/internal/infrastructure/logging"
)

// Layout names the on-disk arrangement an identity was found in.
type Layout string

// Supported layouts, in search order.
const (
	LayoutMAC         Layout = "mac"
	LayoutNodeDetails Layout = "node_details"
	LayoutManifest    Layout = "manifest"
	LayoutFlat        Layout = "flat"
	LayoutNodeDir     Layout = "node_dir"
)

const (
	// SidecarFile holds the node id inside a MAC-named directory.
	SidecarFile = "node_id.txt"

	nodeDetailsDir = "node_details"
	nodeDirPrefix  = "node-"
)

var (
	certCandidates = []string{"node.crt", "crt-node.crt", "certificate.crt"}
	keyCandidates  = []string{"node.key", "key-node.key", "private.key"}
)

// Identity is a node's certificate and key on disk.
type Identity struct {
	NodeID   string `json:"node_id" yaml:"node_id"`
	CertPath string `json:"cert_path" yaml:"cert_path"`
	KeyPath  string `json:"key_path" yaml:"key_path"`
	Layout   Layout `json:"layout,omitempty" yaml:"-"`
}

// Exists reports whether both files are still reachable.
func (id Identity) Exists() bool {
	return fileExists(id.CertPath) && fileExists(id.KeyPath)
}

// Resolver searches a base directory for node identities.
//
// Thread Safety:
//   - A Resolver holds no mutable state and is safe for concurrent use.
type Resolver struct {
	logger *logging.Logger
}

// NewResolver creates a Resolver. A nil logger discards output.
func NewResolver(logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Resolver{logger: logger.With("component", "credentials")}
}

// Resolve finds the certificate and key for nodeID under basePath.
// mac may be empty, in which case the MAC layout is skipped.
func (r *Resolver) Resolve(basePath, nodeID, mac string) (Identity, error) {
	if nodeID == "" {
		return Identity{}, fmt.Errorf("%w: empty node id", ErrCredentialsNotFound)
	}
	if !dirExists(basePath) {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidBasePath, basePath)
	}

	if mac != "" {
		if id, ok := r.resolveMAC(basePath, nodeID, mac); ok {
			return id, nil
		}
	}

	for _, id := range r.walkNodeDetails(basePath) {
		if id.NodeID == nodeID {
			return id, nil
		}
	}

	for _, id := range r.walkManifests(basePath) {
		if id.NodeID == nodeID {
			return id, nil
		}
	}

	flat := Identity{
		NodeID:   nodeID,
		CertPath: filepath.Join(basePath, nodeID+".crt"),
		KeyPath:  filepath.Join(basePath, nodeID+".key"),
		Layout:   LayoutFlat,
	}
	if flat.Exists() {
		return flat, nil
	}

	nodeDir := filepath.Join(basePath, nodeDirPrefix+nodeID)
	dir := Identity{
		NodeID:   nodeID,
		CertPath: filepath.Join(nodeDir, "node.crt"),
		KeyPath:  filepath.Join(nodeDir, "node.key"),
		Layout:   LayoutNodeDir,
	}
	if dir.Exists() {
		return dir, nil
	}

	return Identity{}, fmt.Errorf("%w: node %s under %s", ErrCredentialsNotFound, nodeID, basePath)
}

// Discover enumerates every identity reachable through the node_details and
// manifest layouts. The first occurrence of a node id wins; the result is
// sorted by node id.
func (r *Resolver) Discover(basePath string) ([]Identity, error) {
	if !dirExists(basePath) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBasePath, basePath)
	}

	seen := make(map[string]bool)
	var found []Identity
	for _, id := range append(r.walkNodeDetails(basePath), r.walkManifests(basePath)...) {
		if seen[id.NodeID] {
			continue
		}
		seen[id.NodeID] = true
		found = append(found, id)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].NodeID < found[j].NodeID })
	return found, nil
}

// resolveMAC checks base/<mac>/. The sidecar must name nodeID; a mismatch
// rejects the directory even if certificate files are present.
func (r *Resolver) resolveMAC(basePath, nodeID, mac string) (Identity, bool) {
	for _, candidate := range macDirNames(mac) {
		dir := filepath.Join(basePath, candidate)
		data, err := os.ReadFile(filepath.Join(dir, SidecarFile))
		if err != nil {
			continue
		}
		if got := strings.TrimSpace(string(data)); got != nodeID {
			r.logger.Warn("MAC directory belongs to another node",
				"dir", dir,
				"sidecar_node_id", got,
				"node_id", nodeID,
			)
			continue
		}
		id := Identity{
			NodeID:   nodeID,
			CertPath: filepath.Join(dir, "node.crt"),
			KeyPath:  filepath.Join(dir, "node.key"),
			Layout:   LayoutMAC,
		}
		if id.Exists() {
			return id, true
		}
	}
	return Identity{}, false
}

// macDirNames returns the directory names a MAC may be stored under:
// as given, then lower-case without separators.
func macDirNames(mac string) []string {
	names := []string{mac}
	compact := strings.ToLower(strings.NewReplacer(":", "", "-", "").Replace(mac))
	if compact != mac {
		names = append(names, compact)
	}
	return names
}

// walkNodeDetails finds node-<mfg>-<node_id> directories under every
// node_details directory below basePath.
func (r *Resolver) walkNodeDetails(basePath string) []Identity {
	var found []Identity

	err := filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			r.logger.Debug("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() || d.Name() != nodeDetailsDir {
			return nil
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			r.logger.Debug("skipping unreadable node_details", "path", path, "error", err)
			return fs.SkipDir
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			nodeID, ok := nodeIDFromDirName(entry.Name())
			if !ok {
				continue
			}
			folder := filepath.Join(path, entry.Name())
			certPath, keyPath := firstExisting(folder, certCandidates), firstExisting(folder, keyCandidates)
			if certPath == "" || keyPath == "" {
				r.logger.Warn("certificate files not found for node", "node_id", nodeID, "dir", folder)
				continue
			}
			found = append(found, Identity{
				NodeID:   nodeID,
				CertPath: certPath,
				KeyPath:  keyPath,
				Layout:   LayoutNodeDetails,
			})
		}
		return fs.SkipDir
	})
	if err != nil {
		r.logger.Debug("node_details walk aborted", "base", basePath, "error", err)
	}

	return found
}

// nodeIDFromDirName parses node-<mfg>-<node_id>.
func nodeIDFromDirName(name string) (string, bool) {
	parts := strings.SplitN(name, "-", 3)
	if len(parts) != 3 || parts[0]+"-" != nodeDirPrefix || parts[1] == "" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

func firstExisting(dir string, names []string) string {
	for _, name := range names {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func dirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
