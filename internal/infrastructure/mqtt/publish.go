package mqtt

import (
	"context"
	"fmt"
)

// Maximum payload size for MQTT messages (128KB, the cloud broker's limit).
const maxPayloadSize = 128 << 10

// Publish sends a message to the topic and waits for the broker acknowledgement
// (QoS 1/2) or for the packet to be written (QoS 0).
//
// While paho is reconnecting, QoS≥1 publishes are held in the in-memory store
// and sent once the link returns. If the wait times out first, ErrTimeout is
// returned but the message stays queued.
//
// Example:
//
//	topic := mqtt.Topics{}.NodeParams("node-1")
//	err := client.Publish(ctx, topic, []byte(`{"Light":{"Power":true}}`), 1)
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, false, payload)
	if err := waitToken(ctx, token, c.opts.operationTimeout()); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}
