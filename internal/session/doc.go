// Package session manages one node's MQTT session.
//
// A Handle owns a single mutual-TLS transport identified by the node's
// certificate. It tracks a small state machine, retries publishes with
// exponential backoff, and keeps per-topic subscription state (the last
// payload, a bounded history and an optional callback).
//
// Operations on one Handle are serialised, so publishes and subscribes
// issued by the same caller reach the broker in call order.
//
// The transport is reached through the Dialer seam. MQTTDialer connects
// with paho; tests substitute an in-memory fake.
package session
