// Package logging provides structured logging for fleetctl.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across every component.
//
// # Features
//
//   - Text output by default (operator terminal), JSON on request
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Logs go to stderr so command output on stdout stays clean
//
// # Configuration
//
//	logging:
//	  level: "warn"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stderr"   # stdout, stderr
//
// # Security
//
// Never log key material or the InfluxDB token. Certificate and key
// paths are fine to log.
package logging
