package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Publish sends payload to topic, connecting first if necessary.
//
// Up to retry+1 attempts are made. Between attempts the handle waits
// 2^n seconds (1s, 2s, 4s, ...). When every attempt fails the error wraps
// ErrPublishFailed and the last cause.
//
// Payloads of type []byte, json.RawMessage, string and numbers are sent
// as-is (numbers in decimal form); nil sends an empty payload; anything
// else is JSON-encoded.
func (h *Handle) Publish(ctx context.Context, topic string, payload any, qos byte, retry int) error {
	data, err := EncodePayload(payload)
	if err != nil {
		return err
	}
	if retry < 0 {
		retry = 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	attempts := retry + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * time.Second
			h.logger.Debug("retrying publish", "topic", topic, "attempt", attempt+1, "delay", delay)
			if err := h.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		if lastErr = h.publishOnceLocked(ctx, topic, data, qos); lastErr == nil {
			h.logger.Debug("published", "topic", topic, "bytes", len(data))
			return nil
		}
		h.logger.Warn("publish attempt failed", "topic", topic, "attempt", attempt+1, "error", lastErr)
	}

	return fmt.Errorf("%w: node %s topic %s after %d attempt(s): %w", ErrPublishFailed, h.cfg.NodeID, topic, attempts, lastErr)
}

func (h *Handle) publishOnceLocked(ctx context.Context, topic string, data []byte, qos byte) error {
	if !h.State().hasTransport() {
		if err := h.connectLocked(ctx); err != nil {
			return err
		}
	}
	return h.transport.Publish(ctx, topic, data, qos)
}

// PublishResult is the outcome of an asynchronous publish.
type PublishResult struct {
	done chan struct{}
	err  error
}

// Done is closed once the publish has completed or failed.
func (r *PublishResult) Done() <-chan struct{} {
	return r.done
}

// Wait blocks up to timeout and returns the publish error.
// ErrPublishPending means the publish is still running.
func (r *PublishResult) Wait(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.done:
		return r.err
	case <-timer.C:
		return ErrPublishPending
	}
}

// PublishAsync runs Publish in the background.
func (h *Handle) PublishAsync(ctx context.Context, topic string, payload any, qos byte, retry int) *PublishResult {
	result := &PublishResult{done: make(chan struct{})}
	go func() {
		defer close(result.done)
		result.err = h.Publish(ctx, topic, payload, qos, retry)
	}()
	return result
}

// EncodePayload converts a payload to wire bytes.
func EncodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	case int:
		return []byte(strconv.Itoa(v)), nil
	case int8, int16, int32, int64:
		return []byte(fmt.Sprintf("%d", v)), nil
	case uint, uint8, uint16, uint32, uint64:
		return []byte(fmt.Sprintf("%d", v)), nil
	case float32:
		return []byte(strconv.FormatFloat(float64(v), 'g', -1, 32)), nil
	case float64:
		return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodePayload, err)
	}
	return data, nil
}
