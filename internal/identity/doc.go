// Package identity persists the operator's known node identities.
//
// The store lives in <config_dir>/devices.yaml and records the broker
// override, the certificate search base and a map of node id to
// certificate and key paths. Paths are stored absolute. Entries whose
// files have disappeared are dropped when the store is opened and when
// they are looked up.
package identity
