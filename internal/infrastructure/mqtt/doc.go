// Package mqtt provides the per-node MQTT transport for fleetctl.
//
// This package manages:
//   - Mutual-TLS connection to the cloud broker as a single node identity
//   - Message publishing with QoS acknowledgement
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - An in-memory offline queue drained by paho's auto-reconnect
//   - The node topic catalogue (Topics)
//
// # Architecture
//
// Every node has its own certificate, so every node gets its own Client.
// The session package drives a Client through its Transport interface.
//
//	session.Handle → mqtt.Client → broker (ssl://host:443, ALPN x-amzn-mqtt-ca)
//
// # Timeouts
//
//   - Connect and disconnect: 5s
//   - Publish, subscribe and unsubscribe acknowledgement: 10s
//
// # Usage
//
//	client, err := mqtt.Dial(ctx, mqtt.Options{
//	    Broker:   "example-ats.iot.us-east-1.amazonaws.com",
//	    ClientID: nodeID,
//	    CertPath: id.CertPath,
//	    KeyPath:  id.KeyPath,
//	    RootPath: rootPath,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(ctx, mqtt.Topics{}.NodeRemoteParams(nodeID), payload, 1)
package mqtt
