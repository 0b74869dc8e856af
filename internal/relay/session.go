package relay

import (
	"sync"

	"github.com/google/uuid"
)

type State int

const (
	StateUnjoined State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one live client connection as the relay sees it. The transport
// drains Outbound and writes each frame to the socket.
type Session struct {
	ID         uuid.UUID
	Token      string
	RemoteAddr string

	mu     sync.Mutex
	state  State
	userID int64
	out    chan []byte
}

func NewSession(token, remoteAddr string, buffer int) *Session {
	if buffer <= 0 {
		buffer = 1
	}
	return &Session{
		ID:         uuid.New(),
		Token:      token,
		RemoteAddr: remoteAddr,
		out:        make(chan []byte, buffer),
	}
}

// Outbound is closed once the session is closed.
func (s *Session) Outbound() <-chan []byte {
	return s.out
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID is the id the session joined under, 0 when not joined.
func (s *Session) UserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) markJoined(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = StateJoined
	s.userID = userID
	return true
}

// enqueue never blocks. It reports false when the session is closed or its
// queue is full.
func (s *Session) enqueue(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	select {
	case s.out <- frame:
		return true
	default:
		return false
	}
}

// close reports true only for the call that actually closed the session.
func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	close(s.out)
	return true
}
