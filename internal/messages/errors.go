package messages

import "errors"

// Domain-specific errors for payload construction.
var (
	// ErrInvalidDataType is returned for a time-series type outside the
	// supported set.
	ErrInvalidDataType = errors.New("messages: invalid data type")

	// ErrInvalidValue is returned when a raw value does not convert to its
	// declared type.
	ErrInvalidValue = errors.New("messages: invalid value")

	// ErrInvalidStatus is returned for an unknown OTA status.
	ErrInvalidStatus = errors.New("messages: invalid OTA status")

	// ErrInvalidPayload is returned when an inbound payload does not decode
	// into the expected shape.
	ErrInvalidPayload = errors.New("messages: invalid payload")

	// ErrMissingField is returned when a document lacks a required field.
	ErrMissingField = errors.New("messages: missing required field")

	// ErrNodeMismatch is returned when a node config names another node.
	ErrNodeMismatch = errors.New("messages: node id mismatch")
)
