// Package yamlfile reads and atomically writes YAML documents on disk.
//
// Writers never leave a half-written file behind: the document is written
// to a temporary file in the same directory, synced, then renamed over the
// target. Concurrent processes may still lose each other's updates (last
// writer wins) but a reader never sees a torn file.
package yamlfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrDecode is returned when a file exists but does not parse.
var ErrDecode = errors.New("yamlfile: decode failed")

// Read decodes path into v. It reports false without error when the file
// does not exist, leaving v untouched.
func Read(path string, v any) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the config dir
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	return true, nil
}

// Write encodes v and replaces path atomically. Parent directories are
// created with 0700 since the stores reference private key paths.
func Write(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("ensure dir %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// MoveAside renames a damaged file to <path><suffix>, replacing any earlier copy.
func MoveAside(path, suffix string) (string, error) {
	dest := path + suffix
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("moving %s aside: %w", path, err)
	}
	return dest, nil
}
