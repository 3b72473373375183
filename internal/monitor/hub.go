package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/fleetctl/internal/infrastructure/config"
	"github.com/nerrad567/fleetctl/internal/infrastructure/logging"
	"github.com/nerrad567/fleetctl/internal/infrastructure/mqtt"
)

// Websocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeMessage     = "message"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	// writeWait bounds every websocket write.
	writeWait = 10 * time.Second
)

// WSMessage is a frame sent to or from a websocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload carries the topic filters of subscribe and
// unsubscribe frames.
type WSSubscribePayload struct {
	Topics []string `json:"topics"`
}

// Event is one relayed MQTT message. Payload is raw JSON when the message
// body parses as JSON, otherwise a string.
type Event struct {
	NodeID   string    `json:"node_id"`
	Topic    string    `json:"topic"`
	Payload  any       `json:"payload"`
	Received time.Time `json:"received"`
}

// NewEvent builds an Event from a raw MQTT body.
func NewEvent(nodeID, topic string, body []byte, received time.Time) Event {
	var payload any = string(body)
	if json.Valid(body) {
		payload = json.RawMessage(append([]byte(nil), body...))
	}
	return Event{NodeID: nodeID, Topic: topic, Payload: payload, Received: received}
}

// Hub tracks websocket clients and fans relayed messages out to them.
type Hub struct {
	cfg     config.MonitorConfig
	logger  *logging.Logger
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
}

type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]struct{}
	mu     sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(cfg config.MonitorConfig, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// unregister closes the send channel only if the client was still present,
// so a racing closeAll cannot double-close it.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends ev to every client subscribed to a matching filter and
// returns how many clients it was queued for.
func (h *Hub) Broadcast(ev Event) int {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeMessage,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   ev,
	})
	if err != nil {
		h.logger.Error("failed to marshal relayed message", "topic", ev.Topic, "error", err)
		return 0
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if c.matches(ev.Topic) {
			c.trySend(data)
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("relayed message", "topic", ev.Topic, "recipients", sent)
	}
	return sent
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	if c.hub.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	}
	wait := c.pongWait()
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(wait))
		c.handleMessage(data)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.pingInterval())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) pingInterval() time.Duration {
	return c.hub.cfg.GetPingInterval()
}

func (c *wsClient) pongWait() time.Duration {
	return c.pingInterval() + writeWait
}

func (c *wsClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		topics, ok := c.decodeTopics(msg)
		if !ok {
			return
		}
		c.subscribe(topics...)
		c.hub.logger.Info("websocket client subscribed", "topics", topics)
		c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"subscribed": topics})
	case WSTypeUnsubscribe:
		topics, ok := c.decodeTopics(msg)
		if !ok {
			return
		}
		c.mu.Lock()
		for _, t := range topics {
			delete(c.topics, t)
		}
		c.mu.Unlock()
		c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": topics})
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *wsClient) decodeTopics(msg WSMessage) ([]string, bool) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return nil, false
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil || len(sub.Topics) == 0 {
		c.sendError(msg.ID, "payload must carry a non-empty topics list")
		return nil, false
	}
	return sub.Topics, true
}

func (c *wsClient) subscribe(topics ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		if t != "" {
			c.topics[t] = struct{}{}
		}
	}
}

func (c *wsClient) matches(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for filter := range c.topics {
		if mqtt.MatchTopic(filter, topic) {
			return true
		}
	}
	return false
}

// trySend drops data when the client is slow or already gone.
func (c *wsClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *wsClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
