package ledger

import "errors"

// Domain-specific errors for the shared connection ledger.
var (
	// ErrUnavailable is returned when the ledger database cannot be opened or migrated.
	ErrUnavailable = errors.New("ledger: unavailable")

	// ErrInvalidEntry is returned for an empty node id.
	ErrInvalidEntry = errors.New("ledger: node id cannot be empty")
)
