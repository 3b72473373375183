// Package influxdb mirrors node time-series samples into InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every time-series
// value fleetctl publishes to a node can be copied here as a point in the
// node_tsdata measurement, tagged by node_id, param and dt.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSample(influxdb.Sample{NodeID: "n1", Param: "temp", DataType: "float", Value: 21.5, Time: now})
//
// # Thread Safety
//
// All methods are safe for concurrent use. The write API batches points
// according to batch_size and flush_interval.
//
// # Error Handling
//
// Writes are non-blocking; batch failures are delivered to the SetOnError
// callback. Connection and health check errors are returned directly.
package influxdb
