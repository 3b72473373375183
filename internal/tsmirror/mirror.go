package tsmirror

import (
	"strings"
	"time"

	"github.com/nerrad567/fleetctl/internal/infrastructure/influxdb"
	"github.com/nerrad567/fleetctl/internal/infrastructure/logging"
	"github.com/nerrad567/fleetctl/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetctl/internal/messages"
)

// SampleWriter stores samples. *influxdb.Client satisfies it.
type SampleWriter interface {
	WriteSample(s influxdb.Sample)
}

// Mirror turns published time-series documents into samples.
//
// Thread Safety:
//   - Safe for concurrent use if the SampleWriter is.
type Mirror struct {
	writer SampleWriter
	logger *logging.Logger
}

// New creates a Mirror writing to w.
func New(w SampleWriter, logger *logging.Logger) *Mirror {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Mirror{writer: w, logger: logger.With("component", "tsmirror")}
}

// ObservePublish mirrors payload if topic carries time-series data.
// Undecodable payloads are logged and skipped.
func (m *Mirror) ObservePublish(nodeID, topic string, payload []byte) {
	samples, err := Samples(nodeID, topic, payload)
	if err != nil {
		m.logger.Debug("skipping undecodable time-series payload", "node_id", nodeID, "topic", topic, "error", err)
		return
	}
	for _, s := range samples {
		m.writer.WriteSample(s)
	}
	if len(samples) > 0 {
		m.logger.Debug("mirrored time-series", "node_id", nodeID, "samples", len(samples))
	}
}

// Samples decodes the time-series samples carried by a publish. The node
// id embedded in the topic wins over nodeID. Non time-series topics yield
// no samples and no error.
func Samples(nodeID, topic string, payload []byte) ([]influxdb.Sample, error) {
	if id, ok := mqtt.NodeIDFromTopic(topic); ok {
		nodeID = id
	}

	switch {
	case strings.HasSuffix(topic, "/simple_tsdata"):
		doc, err := messages.ParseSimpleTSData(payload)
		if err != nil {
			return nil, err
		}
		return []influxdb.Sample{{
			NodeID:   nodeID,
			Param:    doc.Name,
			DataType: string(doc.DataType),
			Value:    doc.V.Value,
			Time:     time.Unix(doc.T, 0),
		}}, nil

	case strings.HasSuffix(topic, "/tsdata"):
		doc, err := messages.ParseTSData(payload)
		if err != nil {
			return nil, err
		}
		var samples []influxdb.Sample
		for _, series := range doc.Series {
			for _, rec := range series.Records {
				samples = append(samples, influxdb.Sample{
					NodeID:   nodeID,
					Param:    series.Name,
					DataType: string(series.DataType),
					Value:    rec.V.Value,
					Time:     time.Unix(rec.T, 0),
				})
			}
		}
		return samples, nil

	default:
		return nil, nil
	}
}
