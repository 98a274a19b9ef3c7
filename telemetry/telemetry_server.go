package telemetry

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/chorus-fed/conductor/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server broadcasts telemetry events to websocket subscribers. Slow
// subscribers are dropped rather than back-pressuring consensus.
type Server struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
	closed  bool
}

// NewServer returns an empty feed.
func NewServer() *Server {
	return &Server{clients: make(map[*websocket.Conn]chan Event)}
}

// Handler upgrades subscribers onto the feed.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn(log.NodeMonitoring, "telemetry upgrade failed", "err", err)
			return
		}
		ch := make(chan Event, 256)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.clients[conn] = ch
		s.mu.Unlock()

		go s.writer(conn, ch)
	})
}

func (s *Server) writer(conn *websocket.Conn, ch chan Event) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// Publish fans an event out to every subscriber.
func (s *Server) Publish(ev Event) {
	ev.Name = EventName(ev.Code)
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.clients {
		select {
		case ch <- ev:
		default:
			// subscriber too slow: drop it
			close(ch)
			delete(s.clients, conn)
		}
	}
}

// Close drops every subscriber.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for conn, ch := range s.clients {
		close(ch)
		delete(s.clients, conn)
	}
}
