package chat

import "time"

type SessionState uint8

const (
	StateConnected SessionState = iota
	StateIdentified
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session 单条连接的状态，只由该连接自己的读协程修改。
// 频道成员关系记录在 Router 里。
type Session struct {
	ConnID    string
	CreatedAt time.Time

	userID string
	state  SessionState
}

func newSession(connID string, now time.Time) *Session {
	return &Session{ConnID: connID, CreatedAt: now, state: StateConnected}
}

// UserID 未 setup 时 ok 为 false
func (s *Session) UserID() (string, bool) {
	return s.userID, s.state == StateIdentified
}

func (s *Session) State() SessionState { return s.state }

func (s *Session) Closed() bool { return s.state == StateDisconnected }

func (s *Session) identify(userID string) {
	s.userID = userID
	s.state = StateIdentified
}

func (s *Session) close() {
	s.state = StateDisconnected
}
