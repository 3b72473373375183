// Package messages builds and parses the JSON payloads exchanged with
// fleet nodes.
//
// Each payload has a typed struct whose JSON tags reproduce the wire
// format exactly. Builders validate their inputs and stamp timestamps;
// parsers accept what nodes and the cloud send back (OTA URL jobs,
// time-series documents).
//
// Time-series values are typed by a DataType. ConvertValue turns the
// operator's command-line text into the JSON value matching that type.
package messages
