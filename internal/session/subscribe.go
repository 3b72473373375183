package session

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/fleetctl/internal/infrastructure/mqtt"
)

// Message is a payload received on a subscription.
type Message struct {
	// Topic is the concrete topic, with wildcards expanded.
	Topic    string
	Payload  []byte
	Received time.Time
}

// Callback is invoked for every message on a subscription, after the
// message has been recorded. It runs on the transport's delivery goroutine.
type Callback func(msg Message)

// subscriptionState is the per-filter record kept by a Handle.
type subscriptionState struct {
	qos      byte
	last     []byte
	history  [][]byte
	callback Callback
	ch       chan Message
}

// Subscribe registers interest in a topic filter, connecting first if
// necessary. Every message updates the filter's last payload and bounded
// history and is offered to the Messages channel; cb, if non-nil, is
// called as well. Subscribing again replaces the callback and keeps the
// recorded history.
func (h *Handle) Subscribe(ctx context.Context, topic string, qos byte, cb Callback) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.State().hasTransport() {
		if err := h.connectLocked(ctx); err != nil {
			return err
		}
	}

	h.subMu.Lock()
	state, existed := h.subs[topic]
	if !existed {
		state = &subscriptionState{ch: make(chan Message, h.cfg.HistorySize)}
		h.subs[topic] = state
	}
	state.qos = qos
	state.callback = cb
	h.subMu.Unlock()

	if err := h.transport.Subscribe(ctx, topic, qos, h.deliver(topic)); err != nil {
		if !existed {
			h.dropSubscription(topic)
		}
		return fmt.Errorf("%w: node %s topic %s: %w", ErrSubscribeFailed, h.cfg.NodeID, topic, err)
	}

	h.logger.Debug("subscribed", "topic", topic, "qos", qos)
	return nil
}

// Unsubscribe removes a subscription and its recorded state. The
// subscription's Messages channel is closed.
func (h *Handle) Unsubscribe(ctx context.Context, topic string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.State().hasTransport() {
		return fmt.Errorf("%w: node %s", ErrNotConnected, h.cfg.NodeID)
	}

	if err := h.transport.Unsubscribe(ctx, topic); err != nil {
		return fmt.Errorf("%w: node %s topic %s: %w", ErrUnsubscribeFailed, h.cfg.NodeID, topic, err)
	}

	h.dropSubscription(topic)
	h.logger.Debug("unsubscribed", "topic", topic)
	return nil
}

// Messages returns the channel fed by a subscription. It is closed when
// the subscription ends. Messages are dropped, not queued, when the
// channel is full; the history still records them.
func (h *Handle) Messages(topic string) (<-chan Message, error) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	state, ok := h.subs[topic]
	if !ok {
		return nil, fmt.Errorf("%w: node %s topic %s", ErrNotSubscribed, h.cfg.NodeID, topic)
	}
	return state.ch, nil
}

// LastMessage returns the most recent payload recorded for a filter.
func (h *Handle) LastMessage(topic string) ([]byte, bool) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	state, ok := h.subs[topic]
	if !ok || state.last == nil {
		return nil, false
	}
	return state.last, true
}

// History returns a copy of the recorded payloads for a filter, oldest first.
func (h *Handle) History(topic string) [][]byte {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	state, ok := h.subs[topic]
	if !ok {
		return nil
	}
	out := make([][]byte, len(state.history))
	copy(out, state.history)
	return out
}

// Subscriptions returns the subscribed topic filters.
func (h *Handle) Subscriptions() []string {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	topics := make([]string, 0, len(h.subs))
	for topic := range h.subs {
		topics = append(topics, topic)
	}
	return topics
}

// deliver builds the transport handler for a filter.
func (h *Handle) deliver(filter string) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		msg := Message{Topic: topic, Payload: payload, Received: time.Now()}

		h.subMu.Lock()
		state, ok := h.subs[filter]
		if !ok {
			h.subMu.Unlock()
			return nil
		}
		state.last = payload
		state.history = append(state.history, payload)
		if over := len(state.history) - h.cfg.HistorySize; over > 0 {
			state.history = append([][]byte(nil), state.history[over:]...)
		}
		select {
		case state.ch <- msg:
		default:
			h.logger.Debug("message channel full, dropping", "topic", topic)
		}
		cb := state.callback
		h.subMu.Unlock()

		if cb != nil {
			cb(msg)
		}
		return nil
	}
}

func (h *Handle) subscribedTopics() map[string]byte {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	topics := make(map[string]byte, len(h.subs))
	for topic, state := range h.subs {
		topics[topic] = state.qos
	}
	return topics
}

func (h *Handle) dropSubscription(topic string) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	if state, ok := h.subs[topic]; ok {
		close(state.ch)
		delete(h.subs, topic)
	}
}

func (h *Handle) clearSubscriptions() {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	for topic, state := range h.subs {
		close(state.ch)
		delete(h.subs, topic)
	}
}
