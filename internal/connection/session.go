package connection

import (
	"sync"
)

// Session is one authenticated relay connection.
//
// At most one socket is attached at a time. connected implies the socket is
// open; closed is terminal.
type Session struct {
	DeviceID int
	PeerID   int
	Token    string

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.RWMutex
	conn      lineConn
	connected bool
	closed    bool
}

func newSession(cfg ManagerConfig, conn lineConn) *Session {
	return &Session{
		DeviceID:  cfg.DeviceID,
		PeerID:    cfg.PeerID,
		Token:     cfg.Token,
		conn:      conn,
		connected: true,
	}
}

// IsConnected returns the current connection state.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Write sends one frame. Writes never interleave.
func (s *Session) Write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	conn, connected, closed := s.conn, s.connected, s.closed
	s.mu.RUnlock()

	if closed {
		return ErrSessionClosed
	}
	if !connected || conn == nil {
		return ErrNotConnected
	}
	return conn.Write(p)
}

// ReadLine blocks for the next inbound line.
func (s *Session) ReadLine() ([]byte, error) {
	s.mu.RLock()
	conn, closed := s.conn, s.closed
	s.mu.RUnlock()

	if closed {
		return nil, ErrSessionClosed
	}
	if conn == nil {
		return nil, ErrNotConnected
	}
	return conn.ReadLine()
}

// Close closes the socket. The session cannot be reestablished afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// disconnect drops the socket, unblocking any reader. Returns true if this
// call performed the transition.
func (s *Session) disconnect() bool {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return false
	}
	s.connected = false
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	return true
}

// attach installs a fresh socket. Returns false if the session was closed
// meanwhile; the caller then owns conn.
func (s *Session) attach(conn lineConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conn = conn
	s.connected = true
	return true
}
