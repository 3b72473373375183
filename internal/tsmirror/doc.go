// Package tsmirror copies time-series documents published to nodes into a
// sample store.
//
// The Mirror observes every successful publish. Payloads sent to a
// tsdata or simple_tsdata topic (plain or basic-ingest) are decoded and
// each record becomes one sample; every other publish is ignored.
package tsmirror
