package orchestrator

import "errors"

// Domain-specific errors for the orchestrator.
var (
	// ErrNoNodes is returned when a connect request names no nodes.
	ErrNoNodes = errors.New("orchestrator: no node ids given")

	// ErrNoActiveNode is returned when an operation defaults to the active
	// node and none is set.
	ErrNoActiveNode = errors.New("orchestrator: no active node")

	// ErrNotConnected is returned when a node has no usable connection.
	ErrNotConnected = errors.New("orchestrator: node not connected")
)
