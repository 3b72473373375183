package identity

import "errors"

// Domain-specific errors for the identity store.
var (
	// ErrFileNotFound is returned when adding a node whose certificate or key is missing.
	ErrFileNotFound = errors.New("identity: certificate or key file not found")

	// ErrInvalidNodeID is returned for an empty node id.
	ErrInvalidNodeID = errors.New("identity: node id cannot be empty")

	// ErrStoreCorrupted is logged when devices.yaml cannot be parsed.
	// The damaged file is moved aside and an empty store is used.
	ErrStoreCorrupted = errors.New("identity: store corrupted")
)
