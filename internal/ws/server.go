package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/zerverless/studio/internal/session"
)

const writeTimeout = 5 * time.Second

// StateSource produces the snapshot pushed to clients.
type StateSource interface {
	Snapshot() session.Snapshot
}

// Server pushes state snapshots to every connected client. Broadcasts are
// coalesced: many Notify calls while a push is pending result in one push
// of the latest state.
type Server struct {
	source StateSource
	logger zerolog.Logger

	connsMu sync.RWMutex
	conns   map[string]*websocket.Conn

	pending chan struct{}
}

func NewServer(source StateSource, logger zerolog.Logger) *Server {
	return &Server{
		source:  source,
		logger:  logger.With().Str("component", "ws").Logger(),
		conns:   make(map[string]*websocket.Conn),
		pending: make(chan struct{}, 1),
	}
}

// Notify schedules a broadcast. It never blocks.
func (s *Server) Notify() {
	select {
	case s.pending <- struct{}{}:
	default:
	}
}

// Run delivers scheduled broadcasts until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return ctx.Err()
		case <-s.pending:
			s.Broadcast(ctx)
		}
	}
}

// Broadcast sends the current snapshot to all clients, dropping any that
// cannot be written to.
func (s *Server) Broadcast(ctx context.Context) {
	msg := s.stateMessage()

	s.connsMu.RLock()
	targets := make(map[string]*websocket.Conn, len(s.conns))
	for id, conn := range s.conns {
		targets[id] = conn
	}
	s.connsMu.RUnlock()

	for id, conn := range targets {
		if err := s.write(ctx, conn, msg); err != nil {
			s.logger.Debug().Err(err).Str("client_id", id).Msg("dropping client")
			s.remove(id)
			conn.Close(websocket.StatusGoingAway, "write failed")
		}
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) HandleState(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "goodbye")

	id := uuid.New().String()
	logger := s.logger.With().Str("client_id", id).Logger()

	if err := s.write(r.Context(), conn, s.stateMessage()); err != nil {
		logger.Debug().Err(err).Msg("initial state not delivered")
		return
	}

	s.connsMu.Lock()
	s.conns[id] = conn
	s.connsMu.Unlock()
	defer s.remove(id)

	logger.Debug().Msg("client connected")
	s.handleMessages(r.Context(), conn, logger)
	logger.Debug().Msg("client disconnected")
}

func (s *Server) handleMessages(ctx context.Context, conn *websocket.Conn, logger zerolog.Logger) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				logger.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}

		var msg BaseMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug().Err(err).Msg("invalid message format")
			continue
		}

		switch msg.Type {
		case "ping":
			if err := s.write(ctx, conn, PongMessage{Type: "pong"}); err != nil {
				return
			}
		case "refresh":
			if err := s.write(ctx, conn, s.stateMessage()); err != nil {
				return
			}
		default:
			logger.Debug().Str("type", msg.Type).Msg("unknown message type")
		}
	}
}

func (s *Server) stateMessage() StateMessage {
	return StateMessage{Type: "state", Snapshot: s.source.Snapshot()}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

func (s *Server) remove(id string) {
	s.connsMu.Lock()
	delete(s.conns, id)
	s.connsMu.Unlock()
}

func (s *Server) closeAll() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for id, conn := range s.conns {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.conns, id)
	}
}
