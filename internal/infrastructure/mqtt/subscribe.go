package mqtt

import (
	"context"
	"fmt"
)

// Subscribe registers a handler for messages on the topic filter.
//
// Filters may use the + and # wildcards. The subscription is tracked and
// restored after an automatic reconnect.
//
// Example:
//
//	err := client.Subscribe(ctx, mqtt.Topics{}.NodeOTAURL("node-1"), 1,
//	    func(topic string, payload []byte) error {
//	        fmt.Printf("%s: %s\n", topic, payload)
//	        return nil
//	    })
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if err := waitToken(ctx, token, c.opts.operationTimeout()); err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	return nil
}

// Unsubscribe removes a subscription. Messages already in flight may still
// be delivered to the old handler.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	token := c.client.Unsubscribe(topic)
	if err := waitToken(ctx, token, c.opts.operationTimeout()); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, topic, err)
	}

	return nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the exact filter string.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
