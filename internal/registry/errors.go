package registry

import "errors"

// Domain-specific errors for the connection registry.
var (
	// ErrNotFound is returned when a node has no usable connection: no
	// record, vanished credential files, or a failed rehydration.
	ErrNotFound = errors.New("registry: connection not found")

	// ErrStoreCorrupted is logged when connections.yaml cannot be parsed.
	// It is returned only if the damaged file could not be set aside.
	ErrStoreCorrupted = errors.New("registry: connection store corrupted")

	// ErrInvalidRecord is returned when adding a record without a node id.
	ErrInvalidRecord = errors.New("registry: record requires a node id")
)
