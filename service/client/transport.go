package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"PGate/logger"
	"PGate/service/codec"
	"PGate/tools/safe"
)

// Credentials is everything needed to (re)establish a connection. Kept as
// plain strings so the client side has no dependency on server-side enums.
type Credentials struct {
	RequestID    int64
	UserID       int64
	Password     string
	DeviceType   string
	OnlineStatus string
	Location     string // "<longitude>:<latitude>"
}

func (c *Credentials) header() http.Header {
	h := http.Header{}
	h.Set(codec.HeaderUserID, strconv.FormatInt(c.UserID, 10))
	if c.RequestID > 0 {
		h.Set(codec.HeaderRequestID, strconv.FormatInt(c.RequestID, 10))
	}
	if c.Password != "" {
		h.Set(codec.HeaderPassword, c.Password)
	}
	if c.DeviceType != "" {
		h.Set(codec.HeaderDeviceType, c.DeviceType)
	}
	if c.OnlineStatus != "" {
		h.Set(codec.HeaderOnlineStatus, c.OnlineStatus)
	}
	if c.Location != "" {
		h.Set(codec.HeaderLocation, c.Location)
	}
	return h
}

// HandshakeError is a rejected upgrade: the numeric code from X-API-Code
// and, for redirects, the target address from X-API-Reason.
type HandshakeError struct {
	Code   int
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected: code=%d reason=%q", e.Code, e.Reason)
}

// Sink receives everything one established transport produces. OnFrame is
// called from a single goroutine; OnClosed fires exactly once, after the
// last frame.
type Sink interface {
	OnFrame(payload []byte)
	OnClosed(code int, reason string, err error)
}

// Transport is one established connection. Send reports false when the
// outbound queue is full; the frame was not accepted.
type Transport interface {
	Send(payload []byte) bool
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, addr string, creds *Credentials, sink Sink) (Transport, error)
}

// ===== websocket dialer =====

const (
	defaultSendQueue = 64
	writeWait        = 10 * time.Second
)

type WSDialer struct {
	// Path of the upgrade endpoint, default "/im".
	Path      string
	SendQueue int
}

func (d *WSDialer) path() string {
	if d.Path == "" {
		return "/im"
	}
	return d.Path
}

func (d *WSDialer) Dial(ctx context.Context, addr string, creds *Credentials, sink Sink) (Transport, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: d.path()}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), creds.header())
	if err != nil {
		if resp != nil {
			if raw := resp.Header.Get(codec.HeaderCode); raw != "" {
				code, _ := strconv.Atoi(raw)
				return nil, &HandshakeError{Code: code, Reason: resp.Header.Get(codec.HeaderReason)}
			}
		}
		return nil, err
	}

	t := &wsTransport{
		ws:   ws,
		out:  make(chan []byte, safe.DefaultInt(d.SendQueue, defaultSendQueue)),
		done: make(chan struct{}),
	}
	safe.Go(func() { t.writeLoop() })
	safe.Go(func() { t.readLoop(sink) })
	return t, nil
}

type wsTransport struct {
	ws   *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (t *wsTransport) Send(payload []byte) bool {
	select {
	case t.out <- payload:
		return true
	case <-t.done:
		return false
	default:
		return false
	}
}

func (t *wsTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return t.ws.Close()
}

func (t *wsTransport) writeLoop() {
	for {
		select {
		case payload := <-t.out:
			_ = t.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				logger.Warnf("[client] write failed: %v", err)
				_ = t.Close()
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *wsTransport) readLoop(sink Sink) {
	for {
		_, payload, err := t.ws.ReadMessage()
		if err != nil {
			t.once.Do(func() { close(t.done) })
			code, reason := 0, ""
			if ce, ok := err.(*websocket.CloseError); ok {
				code, reason = ce.Code, ce.Text
			}
			sink.OnClosed(code, reason, err)
			return
		}
		sink.OnFrame(payload)
	}
}
