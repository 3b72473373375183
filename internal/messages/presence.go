package messages

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Presence event types.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// Defaults applied to presence events when the operator gives none.
const (
	DefaultPresenceClientID = "rainmaker-node"
	DefaultPresenceIP       = "192.168.1.100"
	DefaultDisconnectReason = "CLIENT_INITIATED_DISCONNECT"
)

// PresenceEvent mirrors the broker's connect/disconnect lifecycle event.
// Exactly one of IPAddress (connected) or DisconnectReason (disconnected)
// is set.
type PresenceEvent struct {
	ClientID                  string `json:"clientId"`
	ClientInitiatedDisconnect bool   `json:"clientInitiatedDisconnect"`
	EventType                 string `json:"eventType"`
	PrincipalIdentifier       string `json:"principalIdentifier"`
	SessionIdentifier         string `json:"sessionIdentifier"`
	Timestamp                 int64  `json:"timestamp"`
	VersionNumber             int    `json:"versionNumber"`
	IPAddress                 string `json:"ipAddress,omitempty"`
	DisconnectReason          string `json:"disconnectReason,omitempty"`
}

// PresenceOptions are the operator-supplied event fields. Empty strings
// take defaults; an empty SessionID gets a fresh UUID.
type PresenceOptions struct {
	ClientID        string
	ClientInitiated bool
	PrincipalID     string
	SessionID       string
	Version         int
	IPAddress       string
	Reason          string
}

// NewConnectedEvent builds a connected event stamped at now (milliseconds).
func NewConnectedEvent(opts PresenceOptions, now time.Time) PresenceEvent {
	ev := newPresenceEvent(EventConnected, opts, now)
	ev.IPAddress = opts.IPAddress
	if ev.IPAddress == "" {
		ev.IPAddress = DefaultPresenceIP
	}
	return ev
}

// NewDisconnectedEvent builds a disconnected event stamped at now.
func NewDisconnectedEvent(opts PresenceOptions, now time.Time) PresenceEvent {
	ev := newPresenceEvent(EventDisconnected, opts, now)
	ev.DisconnectReason = opts.Reason
	if ev.DisconnectReason == "" {
		ev.DisconnectReason = DefaultDisconnectReason
	}
	return ev
}

func newPresenceEvent(eventType string, opts PresenceOptions, now time.Time) PresenceEvent {
	clientID := opts.ClientID
	if clientID == "" {
		clientID = DefaultPresenceClientID
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return PresenceEvent{
		ClientID:                  clientID,
		ClientInitiatedDisconnect: opts.ClientInitiated,
		EventType:                 eventType,
		PrincipalIdentifier:       opts.PrincipalID,
		SessionIdentifier:         sessionID,
		Timestamp:                 now.UnixMilli(),
		VersionNumber:             opts.Version,
	}
}

// PrincipalFromCertPath derives the certificate id from a provisioning
// path such as .../node-<mfg>-<certid>/node.crt. It falls back to
// fallback when the parent directory carries no dash-separated suffix.
func PrincipalFromCertPath(certPath, fallback string) string {
	if certPath == "" {
		return fallback
	}
	parent := filepath.Base(filepath.Dir(certPath))
	idx := strings.LastIndex(parent, "-")
	if idx < 0 || idx == len(parent)-1 {
		return fallback
	}
	return parent[idx+1:]
}
