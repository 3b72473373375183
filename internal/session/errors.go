package session

import "errors"

// Domain-specific errors for session handles.
// Missing credential files are reported with credentials.ErrCredentialsNotFound.
var (
	// ErrConnectFailed is returned when the handshake with the broker fails.
	ErrConnectFailed = errors.New("session: connect failed")

	// ErrNotConnected is returned by operations that need a live link.
	ErrNotConnected = errors.New("session: not connected")

	// ErrHandleClosed is returned once a handle is Disconnected or Failed.
	ErrHandleClosed = errors.New("session: handle closed")

	// ErrPublishFailed is returned after every publish attempt failed.
	ErrPublishFailed = errors.New("session: publish failed")

	// ErrSubscribeFailed is returned when the broker rejects a subscription.
	ErrSubscribeFailed = errors.New("session: subscribe failed")

	// ErrUnsubscribeFailed is returned when the broker rejects an unsubscribe.
	ErrUnsubscribeFailed = errors.New("session: unsubscribe failed")

	// ErrPingFailed is returned when the liveness probe fails.
	ErrPingFailed = errors.New("session: ping failed")

	// ErrDisconnectFailed is returned when the transport did not close cleanly.
	// The handle is Disconnected regardless.
	ErrDisconnectFailed = errors.New("session: disconnect failed")

	// ErrNotSubscribed is returned when reading messages for an unknown topic.
	ErrNotSubscribed = errors.New("session: not subscribed")

	// ErrPublishPending is returned by PublishResult.Wait when the timeout
	// elapses before the publish completes.
	ErrPublishPending = errors.New("session: publish still pending")

	// ErrEncodePayload is returned when a payload cannot be serialised.
	ErrEncodePayload = errors.New("session: cannot encode payload")
)
