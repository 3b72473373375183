package credentials

import (
	"fmt"
	"os"
	"path/filepath"
)

// RootFile is the root CA bundle name inside a certs directory.
const RootFile = "root.pem"

// RootCA locates the broker's root CA bundle: <configDir>/certs/root.pem
// first, then certs/root.pem next to the running executable.
func RootCA(configDir string) (string, error) {
	var candidates []string
	if configDir != "" {
		candidates = append(candidates, filepath.Join(configDir, "certs", RootFile))
	}
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "certs", RootFile))
	}

	for _, path := range candidates {
		if fileExists(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: looked in %v", ErrRootCertNotFound, candidates)
}
