package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/fairdice/internal/auth"
	"github.com/lox/fairdice/internal/engine"
	"github.com/lox/fairdice/internal/service"
	"github.com/lox/fairdice/internal/transcript"
)

// Server represents the WebSocket server
type Server struct {
	addr        string
	upgrader    websocket.Upgrader
	connections map[*Connection]bool
	register    chan *Connection
	unregister  chan *Connection
	logger      *log.Logger
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	games       *service.GameService
	journal     *transcript.Journal
	validator   auth.Validator
	http        *http.Server
}

// NewServer creates a new WebSocket server
func NewServer(addr string, games *service.GameService, journal *transcript.Journal, validator auth.Validator, logger *log.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	if validator == nil {
		validator = auth.NewNoopValidator()
	}

	return &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// For development, allow all origins
				// In production, implement proper origin checking
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		logger:      logger.WithPrefix("server"),
		ctx:         ctx,
		cancel:      cancel,
		games:       games,
		journal:     journal,
		validator:   validator,
	}
}

// Start starts the WebSocket server
func (s *Server) Start() error {
	go s.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.http = &http.Server{Addr: s.addr, Handler: mux}

	s.logger.Info("Starting WebSocket server", "addr", s.addr)
	return s.http.ListenAndServe()
}

// Stop stops the WebSocket server
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	for conn := range s.connections {
		_ = conn.Close()
	}
	s.mu.Unlock()

	if s.http != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
	return nil
}

// run handles connection lifecycle
func (s *Server) run() {
	for {
		select {
		case conn := <-s.register:
			s.mu.Lock()
			s.connections[conn] = true
			total := len(s.connections)
			s.mu.Unlock()
			s.logger.Info("Client connected", "total", total)

		case conn := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.connections[conn]; ok {
				delete(s.connections, conn)
				_ = conn.Close()
			}
			total := len(s.connections)
			s.mu.Unlock()
			s.logger.Info("Client disconnected", "total", total)

		case <-s.ctx.Done():
			return
		}
	}
}

// handleWebSocket handles WebSocket upgrade requests
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := NewConnection(conn, s.logger, s.games, s.journal, s.validator)
	s.register <- client
	client.Start()

	go func() {
		<-client.ctx.Done()
		s.unregister <- client
	}()
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK")
}

// OnEvent implements engine.Sink, pushing each event to the connections
// authenticated as the identity it concerns. Delivery is best-effort; a slow
// client's buffer overflowing closes that client, never the engine.
func (s *Server) OnEvent(ev engine.Event) {
	identity := ev.Who()
	if identity == "" {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("Failed to encode event for broadcast", "type", ev.EventType(), "error", err)
		return
	}

	msg, err := NewMessage(MessageTypeGameEvent, GameEventData{
		Event:   ev.EventType().String(),
		Payload: payload,
	})
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for conn := range s.connections {
		if conn.Identity() == identity {
			if err := conn.SendMessage(msg); err != nil {
				s.logger.Debug("Failed to push event to client", "identity", identity, "error", err)
			}
		}
	}
}

// ConnectedIdentities returns the authenticated identities currently online
func (s *Server) ConnectedIdentities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var identities []string
	for conn := range s.connections {
		if id := conn.Identity(); id != "" {
			identities = append(identities, id)
		}
	}

	return identities
}

var _ engine.Sink = (*Server)(nil)
