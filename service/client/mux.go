package client

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"PGate/logger"
	"PGate/service/codec"
	"PGate/tools/errs"
)

// Correlation ids cross the wire as JSON numbers; anything at or above
// 2^53 would lose precision in the codec's float path.
const maxCorrelationID = int64(1) << 53

type Conf struct {
	// HeartbeatInterval is the empty-frame keepalive period.
	HeartbeatInterval time.Duration
	// MinRequestInterval throttles outbound requests; zero disables
	// throttling. A heartbeat tick inside this window since the last send
	// is suppressed.
	MinRequestInterval time.Duration
}

func (c *Conf) norm() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// Result is the terminal state of one request: either a response envelope
// or an error, never both.
type Result struct {
	Envelope *codec.Envelope
	Err      error
}

// Future resolves exactly once.
type Future struct {
	once sync.Once
	ch   chan Result
}

func newFuture() *Future {
	return &Future{ch: make(chan Result, 1)}
}

func (f *Future) resolve(r Result) {
	f.once.Do(func() { f.ch <- r })
}

func (f *Future) Done() <-chan Result { return f.ch }

func (f *Future) Wait(ctx context.Context) (*codec.Envelope, error) {
	select {
	case r := <-f.ch:
		return r.Envelope, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FrameListener observes every decoded inbound envelope, matched or not,
// so side-channel data (session info pushes, relayed requests) can be
// consumed without stealing responses.
type FrameListener func(*codec.Envelope)

// Mux correlates many logical in-flight requests over one physical
// connection. All mutable state is guarded by mu; inbound frames arrive on
// the transport's single delivery goroutine, heartbeats on the ticker
// goroutine, sends on caller goroutines.
type Mux struct {
	conf   Conf
	dialer Dialer

	mu         sync.Mutex
	transport  Transport
	pending    map[int64]*Future
	heartbeats []*heartbeatAck // FIFO ack callbacks
	listeners  []FrameListener
	relayed    []FrameListener
	lastSend   time.Time
	addr       string
	creds      *Credentials
	closed     bool

	stopPing chan struct{}
	pingOnce sync.Once
}

func NewMux(conf Conf, dialer Dialer) *Mux {
	conf.norm()
	return &Mux{
		conf:     conf,
		dialer:   dialer,
		pending:  make(map[int64]*Future),
		stopPing: make(chan struct{}),
	}
}

func (m *Mux) AddFrameListener(l FrameListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// AddRelayedListener observes server-initiated request pushes only.
func (m *Mux) AddRelayedListener(l FrameListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relayed = append(m.relayed, l)
}

func (m *Mux) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport != nil
}

// Connect establishes the connection. A handshake rejected with a redirect
// code and a non-empty target is retried once against that target before
// any error surfaces; success of the retry is success of the connect.
func (m *Mux) Connect(ctx context.Context, addr string, creds *Credentials) error {
	if err := m.dial(ctx, addr, creds); err != nil {
		var he *HandshakeError
		if errors.As(err, &he) && he.Code == errs.RedirectError && he.Reason != "" {
			logger.Infof("[mux] redirected on handshake to %s", he.Reason)
			if rerr := m.dial(ctx, he.Reason, creds); rerr == nil {
				return nil
			}
			// reconnection failed: the original failure surfaces
		}
		return err
	}
	return nil
}

func (m *Mux) dial(ctx context.Context, addr string, creds *Credentials) error {
	t, err := m.dialer.Dial(ctx, addr, creds, (*muxSink)(m))
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = t.Close()
		return errs.ErrNotConnected.WithDetail("multiplexer closed")
	}
	if m.transport != nil {
		_ = m.transport.Close()
	}
	m.transport = t
	m.addr = addr
	m.creds = creds
	m.mu.Unlock()

	m.pingOnce.Do(func() { go m.heartbeatLoop() })
	return nil
}

// Send transmits one correlated request and returns its future. Fails fast
// with no network I/O when disconnected or throttled; transport
// backpressure fails the future without registering it.
func (m *Mux) Send(kind string, data map[string]any) (*Future, error) {
	m.mu.Lock()
	if m.transport == nil {
		m.mu.Unlock()
		return nil, errs.ErrNotConnected.Wrap()
	}
	if m.conf.MinRequestInterval > 0 && time.Since(m.lastSend) < m.conf.MinRequestInterval {
		m.mu.Unlock()
		return nil, errs.ErrRateLimited.WithDetail("min request interval not elapsed")
	}

	// reserve the id up front so a concurrent Send cannot pick it
	id := m.nextIDLocked()
	fut := newFuture()
	m.pending[id] = fut
	t := m.transport
	m.mu.Unlock()

	frame, err := codec.Marshal(&codec.Envelope{RequestID: id, Kind: kind, Data: data})
	if err != nil {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return nil, errs.ErrInternal.WrapMsg("encode request", "kind", kind)
	}

	if !t.Send(frame) {
		// backpressure: the request never left, so it stays unregistered
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		fut.resolve(Result{Err: errs.ErrMessageRejected.WithDetail("send queue full")})
		return fut, nil
	}

	m.mu.Lock()
	m.lastSend = time.Now()
	m.mu.Unlock()
	return fut, nil
}

// Request is Send plus Wait.
func (m *Mux) Request(ctx context.Context, kind string, data map[string]any) (*codec.Envelope, error) {
	fut, err := m.Send(kind, data)
	if err != nil {
		return nil, err
	}
	return fut.Wait(ctx)
}

// heartbeatAck is queued by pointer so a failed send can retract exactly
// its own callback.
type heartbeatAck struct {
	fn func(error)
}

// Heartbeat sends one empty keepalive frame. The callback queue is FIFO:
// the next inbound empty frame completes the oldest outstanding callback,
// a connection close completes all of them exceptionally. Returns false
// when the send was suppressed or impossible.
func (m *Mux) Heartbeat(ack func(error)) bool {
	m.mu.Lock()
	t := m.transport
	if t == nil {
		m.mu.Unlock()
		if ack != nil {
			ack(errs.ErrNotConnected.Wrap())
		}
		return false
	}
	if m.conf.MinRequestInterval > 0 && time.Since(m.lastSend) < m.conf.MinRequestInterval {
		// a real request just went out; it keeps the connection alive
		m.mu.Unlock()
		return false
	}
	// the callback is queued before the frame leaves: an ack racing the
	// send must find it
	var entry *heartbeatAck
	if ack != nil {
		entry = &heartbeatAck{fn: ack}
		m.heartbeats = append(m.heartbeats, entry)
	}
	m.mu.Unlock()

	if !t.Send([]byte{}) {
		if entry != nil && m.retractHeartbeat(entry) {
			ack(errs.ErrMessageRejected.WithDetail("heartbeat rejected"))
		}
		return false
	}

	m.mu.Lock()
	m.lastSend = time.Now()
	m.mu.Unlock()
	return true
}

// retractHeartbeat unqueues a callback whose frame never left. False means
// the entry is already gone and its callback has been completed elsewhere.
func (m *Mux) retractHeartbeat(entry *heartbeatAck) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.heartbeats {
		if e == entry {
			m.heartbeats = append(m.heartbeats[:i], m.heartbeats[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Mux) heartbeatLoop() {
	ticker := time.NewTicker(m.conf.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Heartbeat(nil)
		case <-m.stopPing:
			return
		}
	}
}

// Close tears the connection down and fails every outstanding future and
// heartbeat callback exactly once.
func (m *Mux) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	t := m.transport
	m.transport = nil
	m.mu.Unlock()

	close(m.stopPing)
	m.failAll(errs.ErrNotConnected.WithDetail("multiplexer closed"))
	if t != nil {
		return t.Close()
	}
	return nil
}

// nextIDLocked picks a random positive correlation id below 2^53 that is
// not in flight. Caller holds mu.
func (m *Mux) nextIDLocked() int64 {
	for {
		id := rand.Int63n(maxCorrelationID-1) + 1
		if _, taken := m.pending[id]; !taken {
			return id
		}
	}
}

func (m *Mux) failAll(err error) {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[int64]*Future)
	acks := m.heartbeats
	m.heartbeats = nil
	m.mu.Unlock()

	for _, fut := range pending {
		fut.resolve(Result{Err: err})
	}
	for _, ack := range acks {
		ack.fn(err)
	}
}

// ===== inbound path (transport delivery goroutine) =====

// muxSink keeps the Sink methods off the public Mux API.
type muxSink Mux

func (s *muxSink) OnFrame(payload []byte) { (*Mux)(s).onFrame(payload) }

func (s *muxSink) OnClosed(code int, reason string, err error) {
	(*Mux)(s).onClosed(code, reason, err)
}

func (m *Mux) onFrame(payload []byte) {
	if len(payload) == 0 {
		// heartbeat ack: complete the oldest outstanding callback
		m.mu.Lock()
		var ack func(error)
		if len(m.heartbeats) > 0 {
			ack = m.heartbeats[0].fn
			m.heartbeats = m.heartbeats[1:]
		}
		m.mu.Unlock()
		if ack != nil {
			ack(nil)
		}
		return
	}

	env, err := codec.Unmarshal(payload)
	if err != nil {
		logger.Warnf("[mux] dropping undecodable frame: %v", err)
		return
	}

	m.mu.Lock()
	listeners := append([]FrameListener(nil), m.listeners...)
	relayed := append([]FrameListener(nil), m.relayed...)
	var fut *Future
	if env.IsResponse() {
		fut = m.pending[env.RequestID]
		delete(m.pending, env.RequestID)
	}
	m.mu.Unlock()

	// every frame is observable, matched or not
	for _, l := range listeners {
		l(env)
	}
	if env.RelayedRequest != nil {
		for _, l := range relayed {
			l(env)
		}
	}

	if !env.IsResponse() {
		return
	}
	if fut == nil {
		// timed out or duplicate: dropped silently
		return
	}
	switch {
	case !env.HasCode():
		fut.resolve(Result{Err: errs.ErrMissingCode.WithDetail(env.Kind)})
	case env.StatusCode() != 200:
		fut.resolve(Result{Err: errs.NewCodeError(int(env.StatusCode()), env.Reason).Wrap()})
	default:
		fut.resolve(Result{Envelope: env})
	}
}

func (m *Mux) onClosed(code int, reason string, err error) {
	m.mu.Lock()
	m.transport = nil
	addr := m.addr
	creds := m.creds
	closed := m.closed
	m.mu.Unlock()

	m.failAll(errs.ErrNotConnected.WrapMsg("connection closed", "code", code, "reason", reason))

	if closed {
		return
	}
	if code == codec.CloseRedirect && reason != "" {
		// served by another member now: chase it with the same credentials
		logger.Infof("[mux] redirect close, reconnecting to %s", reason)
		if rerr := m.dial(context.Background(), reason, creds); rerr != nil {
			logger.Errorf("[mux] redirect reconnect to %s failed: %v", reason, rerr)
		}
		return
	}
	logger.Infof("[mux] connection to %s closed: code=%d reason=%q err=%v", addr, code, reason, err)
}
