package credentials

import "errors"

// Domain-specific errors for credential resolution.
var (
	// ErrCredentialsNotFound is returned when no layout yields an existing
	// certificate and key pair for the node.
	ErrCredentialsNotFound = errors.New("credentials: certificate and key not found")

	// ErrRootCertNotFound is returned when no root CA bundle can be located.
	ErrRootCertNotFound = errors.New("credentials: root CA certificate not found")

	// ErrInvalidBasePath is returned when the search base is empty or not a directory.
	ErrInvalidBasePath = errors.New("credentials: base path is not a directory")

	// ErrInvalidManifest is returned when a manifest file cannot be parsed.
	ErrInvalidManifest = errors.New("credentials: invalid manifest")
)
