// Package credentials locates a node's client certificate and private key.
//
// Provisioning tools lay certificates out on disk in several ways. The
// resolver tries each layout in a fixed order and the first existing
// pair wins:
//
//  1. MAC directory: base/<mac>/ with a node_id.txt sidecar naming the node
//  2. node_details tree: .../node_details/node-<mfg>-<node_id>/
//  3. Manifests: CSV (key,type,encoding,value rows), YAML or JSON records
//  4. Flat files: base/<node_id>.crt and base/<node_id>.key
//  5. Per-node directory: base/node-<node_id>/node.crt and node.key
//
// Identities are only ever found, never generated. RootCA locates the
// broker's trust anchor separately.
package credentials
