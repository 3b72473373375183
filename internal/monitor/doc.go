// Package monitor serves a local websocket stream of the MQTT messages a
// fleetctl process receives, plus a read-only view of its connections.
//
// The server binds to the configured monitor.listen address (loopback by
// default) and exposes:
//
//	GET /health       liveness
//	GET /connections  connection store view with liveness flags
//	GET /ws           websocket stream; ?topic=<filter> pre-subscribes
//
// Websocket clients subscribe to MQTT topic filters and receive every
// relayed message whose topic matches:
//
//	srv, err := monitor.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
//	go srv.Relay(ctx, nodeID, msgs)
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package monitor
