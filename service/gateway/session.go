package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"

	"PGate/tools/ids"
)

const writeWait = 10 * time.Second

// recentRequestIDs bounds the per-session duplicate-delivery window.
const recentRequestIDs = 256

// Link is the underlying duplex byte stream a session owns. Abstracted so
// the registry and tests never touch gorilla directly.
type Link interface {
	WriteBinary(payload []byte) error
	WritePing() error
	WriteClose(code int, reason string) error
	Close() error
}

type wsLink struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func NewWSLink(ws *websocket.Conn) Link { return &wsLink{ws: ws} }

func (l *wsLink) WriteBinary(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return l.ws.WriteMessage(websocket.BinaryMessage, payload)
}

func (l *wsLink) WritePing() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait))
}

func (l *wsLink) WriteClose(code int, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

func (l *wsLink) Close() error { return l.ws.Close() }

// Session is one authenticated device connection for one user. Created on
// successful admission; the physical link can be rebound on a switch
// handoff without tearing the session down.
type Session struct {
	ID            string
	UserID        int64
	DeviceType    DeviceType
	EstablishedAt time.Time
	Status        OnlineStatus
	Location      *Location
	Details       map[string]string

	Send chan []byte // consumed by a single writer goroutine

	seen *lru.Cache[int64, struct{}] // inbound correlation ids

	mu        sync.Mutex
	link      Link
	heartbeat time.Time
	closed    bool
	closeInfo CloseInfo
	done      chan struct{}
}

func NewSession(hs *Handshake, link Link, sendQueue int) *Session {
	now := time.Now()
	seen, _ := lru.New[int64, struct{}](recentRequestIDs)
	return &Session{
		seen:          seen,
		ID:            ids.GenerateString(),
		UserID:        hs.UserID,
		DeviceType:    hs.DeviceType,
		EstablishedAt: now,
		Status:        hs.Status,
		Location:      hs.Location,
		Details:       hs.DeviceDetails,
		Send:          make(chan []byte, sendQueue),
		link:          link,
		heartbeat:     now,
		done:          make(chan struct{}),
	}
}

// MarkRequest records an inbound correlation id. False means the id was
// seen recently on this session and the frame is a duplicate delivery.
func (s *Session) MarkRequest(id int64) bool {
	if id == 0 {
		return true
	}
	dup, _ := s.seen.ContainsOrAdd(id, struct{}{})
	return !dup
}

func (s *Session) Link() Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Rebind swaps the physical connection under the same session, e.g. after
// a switch handoff. The previous link is closed benignly.
func (s *Session) Rebind(link Link) {
	s.mu.Lock()
	old := s.link
	s.link = link
	s.heartbeat = time.Now()
	s.mu.Unlock()
	if old != nil {
		_ = old.WriteClose(CloseSwitch, "rebound")
		_ = old.Close()
	}
}

// Enqueue is non-blocking; a full queue drops the frame and reports false.
func (s *Session) Enqueue(payload []byte) bool {
	select {
	case s.Send <- payload:
		return true
	default:
		return false
	}
}

func (s *Session) TouchHeartbeat() {
	s.mu.Lock()
	s.heartbeat = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeat
}

// CloseWith shuts the session down exactly once.
func (s *Session) CloseWith(info CloseInfo) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeInfo = info
	link := s.link
	s.mu.Unlock()

	if link != nil {
		_ = link.WriteClose(info.Code, info.Reason)
		_ = link.Close()
	}
	close(s.done)
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Closed() (CloseInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeInfo, s.closed
}
