package influxdb

import (
	"encoding/json"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement node samples are written to.
const Measurement = "node_tsdata"

// Sample is one time-series value published to a node.
type Sample struct {
	NodeID   string
	Param    string
	DataType string
	Value    any
	Time     time.Time
}

// WriteSample queues s for the next batch. Samples are dropped while the
// client is disconnected.
func (c *Client) WriteSample(s Sample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(SamplePoint(s))
}

// SamplePoint converts a sample to a point tagged by node, parameter and
// data type.
func SamplePoint(s Sample) *write.Point {
	return write.NewPoint(
		Measurement,
		map[string]string{
			"node_id": s.NodeID,
			"param":   s.Param,
			"dt":      s.DataType,
		},
		sampleFields(s.Value),
		s.Time,
	)
}

// sampleFields maps a JSON value to fields. Scalars land in "value";
// arrays and objects are stored re-encoded in "json".
func sampleFields(v any) map[string]any {
	switch val := v.(type) {
	case bool, string, float64, float32, int, int64, int32, uint, uint64:
		return map[string]any{"value": val}
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return map[string]any{"value": f}
		}
		return map[string]any{"value": val.String()}
	case nil:
		return map[string]any{"json": "null"}
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return map[string]any{"json": ""}
		}
		return map[string]any{"json": string(data)}
	}
}
