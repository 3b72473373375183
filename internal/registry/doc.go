// Package registry tracks node connections within and across invocations.
//
// Connection metadata (broker and credential paths per node, plus the
// active node) is persisted in <config_dir>/connections.yaml and written
// atomically after every mutation. Live session handles exist only in the
// current process; Get rehydrates a handle from the persisted record when
// none is live.
//
// Invariant: after every successful mutation the active node is either
// empty or a key of the stored connections. Removing the active node
// clears it in the same write.
//
// Every mutation is mirrored into the shared ledger so other processes can
// see what is registered. The store is authoritative; on load the ledger
// is reconciled to it.
package registry
