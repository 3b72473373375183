package monitor

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type contextKey string

const ctxKeyRequestID contextKey = "request_id"

// upgrader accepts any origin: the server binds loopback only.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// ConnectionView is the /connections representation of one stored connection.
type ConnectionView struct {
	NodeID     string `json:"node_id"`
	Broker     string `json:"broker"`
	Active     bool   `json:"active"`
	Connected  bool   `json:"connected"`
	State      string `json:"state"`
	Registered bool   `json:"registered"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/connections", s.handleConnections)
	r.Get("/ws", s.handleWebSocket)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"clients": s.hub.ClientCount(),
	})
}

// handleConnections lists stored connections; ?verify=true pings each one.
func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	if s.conns == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "connection listing is not available")
		return
	}

	verify := r.URL.Query().Get("verify") == "true"
	statuses := s.conns.Status(r.Context(), verify)

	views := make([]ConnectionView, 0, len(statuses))
	for _, st := range statuses {
		v := ConnectionView{
			NodeID:     st.Record.NodeID,
			Broker:     st.Record.Broker,
			Active:     st.Active,
			Connected:  st.Connected,
			State:      st.State.String(),
			Registered: st.Registered,
		}
		if st.Err != nil {
			v.Error = st.Err.Error()
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": views})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
		topics: make(map[string]struct{}),
	}
	c.subscribe(r.URL.Query()["topic"]...)
	s.hub.register(c)

	go c.writePump()
	go c.readPump()
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"path", r.URL.Path,
					"request_id", r.Context().Value(ctxKeyRequestID),
				)
				writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
