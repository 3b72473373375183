package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/fleetctl/internal/infrastructure/config"
	"github.com/nerrad567/fleetctl/internal/infrastructure/logging"
	"github.com/nerrad567/fleetctl/internal/orchestrator"
	"github.com/nerrad567/fleetctl/internal/session"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 5 * time.Second

// ConnectionLister reports the connection store with liveness flags.
type ConnectionLister interface {
	Status(ctx context.Context, verify bool) []orchestrator.Status
}

// Deps holds the dependencies of a monitor Server.
type Deps struct {
	Config      config.MonitorConfig
	Logger      *logging.Logger
	Connections ConnectionLister // optional; /connections returns 404 without it
	Version     string
}

// Server serves the monitor HTTP and websocket endpoints.
type Server struct {
	cfg     config.MonitorConfig
	logger  *logging.Logger
	conns   ConnectionLister
	version string
	hub     *Hub

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a server. It does not listen until Start is called.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("component", "monitor")
	return &Server{
		cfg:     deps.Config,
		logger:  logger,
		conns:   deps.Connections,
		version: deps.Version,
		hub:     NewHub(deps.Config, logger),
	}
}

// Hub returns the server's websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the configured address and serves in the background until
// ctx ends or Close is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrListenFailed, s.cfg.Listen, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitor server error", "error", err)
		}
	}()

	s.logger.Info("monitor server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the server down and disconnects websocket clients.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.server = nil
	s.listener = nil
	if err != nil {
		return fmt.Errorf("shutting down monitor server: %w", err)
	}
	return nil
}

// Relay broadcasts every message from msgs until the channel closes or
// ctx ends.
func (s *Server) Relay(ctx context.Context, nodeID string, msgs <-chan session.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			s.hub.Broadcast(NewEvent(nodeID, m.Topic, m.Payload, m.Received))
		}
	}
}
