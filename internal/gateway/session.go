package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// streamConn is a cached websocket connection plus the lock that
// serializes calls over it. gorilla/websocket permits only one
// concurrent reader and writer per connection.
type streamConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// session is the lazily created per-sessionId connection state. Only
// streaming transports hold anything here; request/response and process
// transports are stateless.
type session struct {
	id string

	mu      sync.Mutex
	streams map[string]*streamConn
	created time.Time
}

func newSession(id string) *session {
	return &session{
		id:      id,
		streams: make(map[string]*streamConn),
		created: time.Now(),
	}
}

// stream returns the cached connection for a tool, dialing on first
// use.
func (s *session) stream(toolName string, dial func() (*websocket.Conn, error)) (*streamConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc, ok := s.streams[toolName]; ok {
		return sc, nil
	}
	conn, err := dial()
	if err != nil {
		return nil, err
	}
	sc := &streamConn{conn: conn}
	s.streams[toolName] = sc
	return sc, nil
}

// drop removes a broken connection so the next call re-dials.
func (s *session) drop(toolName string) {
	s.mu.Lock()
	sc, ok := s.streams[toolName]
	delete(s.streams, toolName)
	s.mu.Unlock()

	if ok {
		_ = sc.conn.Close()
	}
}

// closeAll releases every held connection. Individual close failures
// are logged and do not stop the rest from being released.
func (s *session) closeAll() {
	s.mu.Lock()
	streams := s.streams
	s.streams = make(map[string]*streamConn)
	s.mu.Unlock()

	for name, sc := range streams {
		if err := sc.conn.Close(); err != nil {
			slog.Debug("close stream connection", "session", s.id, "tool", name, "error", err)
		}
	}
}
