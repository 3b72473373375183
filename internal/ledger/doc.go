// Package ledger is the cross-process mirror of live node connections.
//
// Every fleetctl invocation is a separate process. The ledger lets one
// process see which nodes another has registered. It is a single SQLite
// table in <config_dir>/ledger.db; concurrent writers are serialised by
// SQLite's busy timeout and the last writer wins.
//
// The connection registry is the only writer. It registers on add,
// unregisters on remove and reconciles the table against the persisted
// connection store whenever it loads.
package ledger
