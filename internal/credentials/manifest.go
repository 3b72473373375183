package credentials

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest row keys.
const (
	keyNodeID     = "node_id"
	keyClientCert = "client_cert"
	keyClientKey  = "client_key"
)

// manifestRecord is one node entry in a YAML or JSON manifest.
// yaml.v3 parses JSON documents as well, so one struct serves both.
type manifestRecord struct {
	NodeID     string `yaml:"node_id"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// manifestDocument is the wrapped form: {nodes: [...]}.
type manifestDocument struct {
	Nodes []manifestRecord `yaml:"nodes"`
}

// walkManifests parses every CSV, YAML and JSON manifest under basePath and
// returns the identities whose files exist. Unparseable files are skipped.
func (r *Resolver) walkManifests(basePath string) []Identity {
	var found []Identity

	err := filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}

		var records []manifestRecord
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv":
			rec, perr := parseCSVManifest(path)
			if perr != nil {
				r.logger.Debug("skipping CSV manifest", "path", path, "error", perr)
				return nil
			}
			records = []manifestRecord{rec}
		case ".yaml", ".yml", ".json":
			recs, perr := parseStructuredManifest(path)
			if perr != nil {
				r.logger.Debug("skipping manifest", "path", path, "error", perr)
				return nil
			}
			records = recs
		default:
			return nil
		}

		for _, rec := range records {
			if id, ok := r.identityFromRecord(basePath, filepath.Dir(path), rec); ok {
				found = append(found, id)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Debug("manifest walk aborted", "base", basePath, "error", err)
	}

	return found
}

func (r *Resolver) identityFromRecord(basePath, manifestDir string, rec manifestRecord) (Identity, bool) {
	if rec.NodeID == "" || rec.ClientCert == "" || rec.ClientKey == "" {
		return Identity{}, false
	}

	certPath := locateFile(basePath, manifestDir, rec.ClientCert, ".crt")
	keyPath := locateFile(basePath, manifestDir, rec.ClientKey, ".key")
	if certPath == "" || keyPath == "" {
		r.logger.Debug("manifest entry points at missing files",
			"node_id", rec.NodeID,
			"client_cert", rec.ClientCert,
			"client_key", rec.ClientKey,
		)
		return Identity{}, false
	}

	return Identity{
		NodeID:   rec.NodeID,
		CertPath: certPath,
		KeyPath:  keyPath,
		Layout:   LayoutManifest,
	}, true
}

// parseCSVManifest reads a provisioning CSV.
//
// Two shapes are accepted: a header row naming "key" and "value" columns,
// or headerless rows of the form key,type,encoding,value. When no node_id
// row is present the id is taken from the file name <prefix>-<mfg>-<node_id>.csv.
func parseCSVManifest(path string) (manifestRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return manifestRecord{}, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	keyIdx, valIdx := 0, 3
	var rec manifestRecord
	first := true
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return manifestRecord{}, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, path, err)
		}

		if first {
			first = false
			if k, v, ok := headerColumns(row); ok {
				keyIdx, valIdx = k, v
				continue
			}
		}
		if len(row) <= keyIdx || len(row) <= valIdx {
			continue
		}

		value := strings.TrimSpace(row[valIdx])
		switch strings.TrimSpace(row[keyIdx]) {
		case keyNodeID:
			rec.NodeID = value
		case keyClientCert:
			rec.ClientCert = value
		case keyClientKey:
			rec.ClientKey = value
		}
	}

	if rec.NodeID == "" {
		rec.NodeID = nodeIDFromManifestName(path)
	}
	if rec.NodeID == "" || rec.ClientCert == "" || rec.ClientKey == "" {
		return manifestRecord{}, fmt.Errorf("%w: %s: missing node_id, client_cert or client_key", ErrInvalidManifest, path)
	}
	return rec, nil
}

// headerColumns returns the indices of the key and value columns when row
// is a header row.
func headerColumns(row []string) (int, int, bool) {
	keyIdx, valIdx := -1, -1
	for i, cell := range row {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case "key":
			keyIdx = i
		case "value":
			valIdx = i
		}
	}
	return keyIdx, valIdx, keyIdx >= 0 && valIdx >= 0
}

// nodeIDFromManifestName extracts <node_id> from <prefix>-<mfg>-<node_id>.csv.
func nodeIDFromManifestName(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parts := strings.SplitN(name, "-", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}

// parseStructuredManifest accepts a list of records, a {nodes: [...]}
// document, or a single record.
func parseStructuredManifest(path string) ([]manifestRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var list []manifestRecord
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var doc manifestDocument
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Nodes) > 0 {
		return doc.Nodes, nil
	}

	var single manifestRecord
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, path, err)
	}
	return []manifestRecord{single}, nil
}

// locateFile resolves a manifest path to an existing file.
//
// Candidates, in order: the path itself (absolute) or joined to base
// (relative); the path joined to the manifest's directory; then every
// trailing suffix of the path re-based under base, longest first. This
// recovers manifests written on another machine. Each candidate is also
// tried with its extension replaced by ext.
func locateFile(basePath, manifestDir, p, ext string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}

	var candidates []string
	if filepath.IsAbs(p) {
		candidates = append(candidates, p)
	} else {
		candidates = append(candidates, filepath.Join(basePath, p), filepath.Join(manifestDir, p))
	}

	parts := strings.FieldsFunc(strings.ReplaceAll(p, `\`, "/"), func(r rune) bool { return r == '/' })
	for i := 1; i < len(parts); i++ {
		candidates = append(candidates, filepath.Join(basePath, filepath.Join(parts[i:]...)))
	}

	for _, c := range candidates {
		if fileExists(c) {
			return c
		}
		if alt := withExt(c, ext); alt != c && fileExists(alt) {
			return alt
		}
	}
	return ""
}

func withExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
