package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes used by nodes and the cloud broker's rules engine.
const (
	// TopicPrefixNode is the base for all per-node topics: node/{id}/...
	TopicPrefixNode = "node"

	// TopicPrefixTSIngest routes time-series through the broker's basic-ingest rule,
	// bypassing the message broker fan-out.
	TopicPrefixTSIngest = "$aws/rules/esp_ts_ingest/node"

	// TopicPrefixSimpleTSIngest is the basic-ingest route for simple time-series.
	TopicPrefixSimpleTSIngest = "$aws/rules/esp_simple_ts_ingest/node"

	// TopicPrefixPresence is the base for broker lifecycle events.
	TopicPrefixPresence = "$aws/events/presence"
)

// Topics provides builders for node MQTT topics.
// Using these helpers keeps topic naming consistent across commands.
//
//	topics := mqtt.Topics{}
//	topics.NodeParams("abc123") // node/abc123/params/local
type Topics struct{}

// =============================================================================
// Configuration and Parameters
// =============================================================================

// NodeConfig returns the topic a node reports its configuration on.
//
// Example: node/abc123/config
func (Topics) NodeConfig(nodeID string) string {
	return fmt.Sprintf("%s/%s/config", TopicPrefixNode, nodeID)
}

// NodeParamsRoot returns the base parameters topic.
//
// Example: node/abc123/params
func (Topics) NodeParamsRoot(nodeID string) string {
	return fmt.Sprintf("%s/%s/params", TopicPrefixNode, nodeID)
}

// NodeParams returns the topic a node reports its local parameters on.
//
// Example: node/abc123/params/local
func (Topics) NodeParams(nodeID string) string {
	return fmt.Sprintf("%s/%s/params/local", TopicPrefixNode, nodeID)
}

// NodeRemoteParams returns the topic for parameter changes pushed to a node.
//
// Example: node/abc123/params/remote
func (Topics) NodeRemoteParams(nodeID string) string {
	return fmt.Sprintf("%s/%s/params/remote", TopicPrefixNode, nodeID)
}

// NodeGroupParams returns the topic for group parameter updates.
//
// Example: node/abc123/params/group
func (Topics) NodeGroupParams(nodeID string) string {
	return fmt.Sprintf("%s/%s/params/group", TopicPrefixNode, nodeID)
}

// NodeInitParams returns the topic for the first parameter report after boot.
//
// Example: node/abc123/params/init
func (Topics) NodeInitParams(nodeID string) string {
	return fmt.Sprintf("%s/%s/params/init", TopicPrefixNode, nodeID)
}

// NodeLocalInitParams returns the local-init parameters topic.
//
// Example: node/abc123/params/local/init
func (Topics) NodeLocalInitParams(nodeID string) string {
	return fmt.Sprintf("%s/%s/params/local/init", TopicPrefixNode, nodeID)
}

// NodeGetParams returns the topic that asks a node to report its
// parameters on NodeParamsRoot.
//
// Example: node/abc123/get/params
func (Topics) NodeGetParams(nodeID string) string {
	return fmt.Sprintf("%s/%s/get/params", TopicPrefixNode, nodeID)
}

// =============================================================================
// OTA
// =============================================================================

// NodeOTAFetch returns the topic a node requests firmware on.
//
// Example: node/abc123/otafetch
func (Topics) NodeOTAFetch(nodeID string) string {
	return fmt.Sprintf("%s/%s/otafetch", TopicPrefixNode, nodeID)
}

// NodeOTAStatus returns the topic a node reports OTA job progress on.
//
// Example: node/abc123/otastatus
func (Topics) NodeOTAStatus(nodeID string) string {
	return fmt.Sprintf("%s/%s/otastatus", TopicPrefixNode, nodeID)
}

// NodeOTAURL returns the topic the cloud answers firmware requests on.
//
// Example: node/abc123/otaurl
func (Topics) NodeOTAURL(nodeID string) string {
	return fmt.Sprintf("%s/%s/otaurl", TopicPrefixNode, nodeID)
}

// =============================================================================
// User Mapping and Alerts
// =============================================================================

// NodeUserMapping returns the user-node association topic.
//
// Example: node/abc123/user/mapping
func (Topics) NodeUserMapping(nodeID string) string {
	return fmt.Sprintf("%s/%s/user/mapping", TopicPrefixNode, nodeID)
}

// NodeAlert returns the topic for alerts raised by a node.
//
// Example: node/abc123/alert
func (Topics) NodeAlert(nodeID string) string {
	return fmt.Sprintf("%s/%s/alert", TopicPrefixNode, nodeID)
}

// =============================================================================
// Time Series
// =============================================================================

// NodeTSData returns the time-series topic. With basicIngest the broker's
// rules-engine route is used instead of the plain node topic.
//
// Example: node/abc123/tsdata
func (Topics) NodeTSData(nodeID string, basicIngest bool) string {
	if basicIngest {
		return fmt.Sprintf("%s/%s/tsdata", TopicPrefixTSIngest, nodeID)
	}
	return fmt.Sprintf("%s/%s/tsdata", TopicPrefixNode, nodeID)
}

// NodeSimpleTSData returns the simple time-series topic.
//
// Example: $aws/rules/esp_simple_ts_ingest/node/abc123/simple_tsdata
func (Topics) NodeSimpleTSData(nodeID string, basicIngest bool) string {
	if basicIngest {
		return fmt.Sprintf("%s/%s/simple_tsdata", TopicPrefixSimpleTSIngest, nodeID)
	}
	return fmt.Sprintf("%s/%s/simple_tsdata", TopicPrefixNode, nodeID)
}

// =============================================================================
// Presence
// =============================================================================

// PresenceConnected returns the broker lifecycle topic for a node connect.
//
// Example: $aws/events/presence/connected/abc123
func (Topics) PresenceConnected(nodeID string) string {
	return fmt.Sprintf("%s/connected/%s", TopicPrefixPresence, nodeID)
}

// PresenceDisconnected returns the broker lifecycle topic for a node disconnect.
//
// Example: $aws/events/presence/disconnected/abc123
func (Topics) PresenceDisconnected(nodeID string) string {
	return fmt.Sprintf("%s/disconnected/%s", TopicPrefixPresence, nodeID)
}

// =============================================================================
// Wildcard Patterns
// =============================================================================

// AllNodeTopics returns a pattern matching every topic of one node.
//
// Pattern: node/abc123/#
func (Topics) AllNodeTopics(nodeID string) string {
	return fmt.Sprintf("%s/%s/#", TopicPrefixNode, nodeID)
}

// =============================================================================
// Parsing
// =============================================================================

// NodeIDFromTopic extracts the node id from any catalogue topic.
// It returns false when the topic is not node-scoped.
func NodeIDFromTopic(topic string) (string, bool) {
	for _, prefix := range []string{TopicPrefixTSIngest, TopicPrefixSimpleTSIngest, TopicPrefixNode} {
		rest, ok := strings.CutPrefix(topic, prefix+"/")
		if !ok {
			continue
		}
		id, _, _ := strings.Cut(rest, "/")
		if id == "" {
			return "", false
		}
		return id, true
	}

	if rest, ok := strings.CutPrefix(topic, TopicPrefixPresence+"/"); ok {
		parts := strings.Split(rest, "/")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1], true
		}
	}
	return "", false
}

// MatchTopic reports whether an MQTT topic filter (with + and # wildcards)
// matches a concrete topic.
func MatchTopic(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
