package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"PGate/service/codec"
	"PGate/tools/errs"
)

type fakeTransport struct {
	mu     sync.Mutex
	addr   string
	sink   Sink
	frames [][]byte
	reject bool
	closed bool
}

func (t *fakeTransport) Send(p []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reject {
		return false
	}
	t.frames = append(t.frames, p)
	return true
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) sentEnvelopes(tb testing.TB) []*codec.Envelope {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*codec.Envelope
	for _, f := range t.frames {
		if len(f) == 0 {
			continue
		}
		env, err := codec.Unmarshal(f)
		if err != nil {
			tb.Fatal(err)
		}
		out = append(out, env)
	}
	return out
}

func (t *fakeTransport) deliver(tb testing.TB, env *codec.Envelope) {
	tb.Helper()
	raw, err := codec.Marshal(env)
	if err != nil {
		tb.Fatal(err)
	}
	t.sink.OnFrame(raw)
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	fail       map[string]error
}

func (d *fakeDialer) Dial(_ context.Context, addr string, _ *Credentials, sink Sink) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail[addr]; err != nil {
		return nil, err
	}
	t := &fakeTransport{addr: addr, sink: sink}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func connectedMux(t *testing.T, conf Conf) (*Mux, *fakeDialer, *fakeTransport) {
	t.Helper()
	d := &fakeDialer{}
	m := NewMux(conf, d)
	if err := m.Connect(context.Background(), "10.0.0.1:9100", &Credentials{UserID: 200, Password: "secret"}); err != nil {
		t.Fatal(err)
	}
	return m, d, d.last()
}

func TestSendNotConnected(t *testing.T) {
	m := NewMux(Conf{}, &fakeDialer{})
	if _, err := m.Send(codec.KindEcho, nil); !errs.ErrNotConnected.Is(err) {
		t.Fatalf("want not-connected, got %v", err)
	}
}

func TestOutOfOrderCorrelation(t *testing.T) {
	m, _, tr := connectedMux(t, Conf{})
	defer m.Close()

	futs := make([]*Future, 3)
	for i := range futs {
		fut, err := m.Send(codec.KindEcho, map[string]any{"seq": i})
		if err != nil {
			t.Fatal(err)
		}
		futs[i] = fut
	}

	sent := tr.sentEnvelopes(t)
	if len(sent) != 3 {
		t.Fatalf("sent %d frames, want 3", len(sent))
	}
	ids := make([]int64, 3)
	for i, env := range sent {
		if env.RequestID <= 0 || env.RequestID >= maxCorrelationID {
			t.Fatalf("correlation id %d out of range", env.RequestID)
		}
		ids[i] = env.RequestID
	}

	// deliver responses out of send order
	for _, i := range []int{2, 0, 1} {
		tr.deliver(t, codec.NewResponse(ids[i], 200, "r"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i, fut := range futs {
		env, err := fut.Wait(ctx)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if env.RequestID != ids[i] {
			t.Fatalf("request %d resolved with id %d, want %d", i, env.RequestID, ids[i])
		}
	}
}

func TestResponseBusinessError(t *testing.T) {
	m, _, tr := connectedMux(t, Conf{})
	defer m.Close()

	fut, err := m.Send(codec.KindEcho, nil)
	if err != nil {
		t.Fatal(err)
	}
	id := tr.sentEnvelopes(t)[0].RequestID
	tr.deliver(t, codec.NewResponse(id, int64(errs.SessionConflictError), "conflict"))

	if _, err := fut.Wait(context.Background()); !errs.ErrSessionConflict.Is(err) {
		t.Fatalf("want session conflict, got %v", err)
	}
}

func TestResponseMissingStatusCode(t *testing.T) {
	m, _, tr := connectedMux(t, Conf{})
	defer m.Close()

	fut, err := m.Send(codec.KindEcho, nil)
	if err != nil {
		t.Fatal(err)
	}
	id := tr.sentEnvelopes(t)[0].RequestID
	// matched response with no status code at all
	tr.deliver(t, &codec.Envelope{RequestID: id, Kind: codec.KindEcho})

	if _, err := fut.Wait(context.Background()); !errs.ErrMissingCode.Is(err) {
		t.Fatalf("want missing status code, got %v", err)
	}
}

func TestUnmatchedResponseDropped(t *testing.T) {
	m, _, tr := connectedMux(t, Conf{})
	defer m.Close()

	var seen int
	var mu sync.Mutex
	m.AddFrameListener(func(*codec.Envelope) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	tr.deliver(t, codec.NewResponse(424242, 200, "nobody asked"))

	mu.Lock()
	defer mu.Unlock()
	if seen != 1 {
		t.Fatalf("listeners saw %d frames, want 1", seen)
	}
}

func TestRelayedRequestGoesToListeners(t *testing.T) {
	m, _, tr := connectedMux(t, Conf{})
	defer m.Close()

	fut, err := m.Send(codec.KindEcho, nil)
	if err != nil {
		t.Fatal(err)
	}
	id := tr.sentEnvelopes(t)[0].RequestID

	var mu sync.Mutex
	var relayed []*codec.Envelope
	m.AddRelayedListener(func(e *codec.Envelope) {
		mu.Lock()
		relayed = append(relayed, e)
		mu.Unlock()
	})

	// same correlation id, but a relayed request is a push, not a response
	tr.deliver(t, &codec.Envelope{
		RequestID:      id,
		RelayedRequest: &codec.RelayedRequest{Kind: "poke"},
	})

	mu.Lock()
	if len(relayed) != 1 || relayed[0].RelayedRequest.Kind != "poke" {
		t.Fatalf("relayed=%v", relayed)
	}
	mu.Unlock()

	// the pending request is still outstanding
	select {
	case r := <-fut.Done():
		t.Fatalf("pending request resolved by a push: %+v", r)
	default:
	}
}

func TestSendThrottled(t *testing.T) {
	m, _, _ := connectedMux(t, Conf{MinRequestInterval: time.Hour})
	defer m.Close()

	if _, err := m.Send(codec.KindEcho, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Send(codec.KindEcho, nil); !errs.ErrRateLimited.Is(err) {
		t.Fatalf("want rate limited, got %v", err)
	}
}

func TestSendBackpressure(t *testing.T) {
	m, _, tr := connectedMux(t, Conf{})
	defer m.Close()

	tr.mu.Lock()
	tr.reject = true
	tr.mu.Unlock()

	fut, err := m.Send(codec.KindEcho, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fut.Wait(context.Background()); !errs.ErrMessageRejected.Is(err) {
		t.Fatalf("want message rejected, got %v", err)
	}

	// nothing was registered: the next send works once pressure lifts
	tr.mu.Lock()
	tr.reject = false
	tr.mu.Unlock()
	fut, err = m.Send(codec.KindEcho, nil)
	if err != nil {
		t.Fatal(err)
	}
	id := tr.sentEnvelopes(t)[0].RequestID
	tr.deliver(t, codec.NewResponse(id, 200, ""))
	if _, err := fut.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

// Five in-flight requests and two outstanding heartbeat callbacks: closing
// the connection must fail all seven exceptionally, each exactly once.
func TestCloseFailsAllPending(t *testing.T) {
	m, _, _ := connectedMux(t, Conf{})

	futs := make([]*Future, 5)
	for i := range futs {
		fut, err := m.Send(codec.KindEcho, nil)
		if err != nil {
			t.Fatal(err)
		}
		futs[i] = fut
	}

	var mu sync.Mutex
	ackErrs := make([]error, 0, 2)
	for i := 0; i < 2; i++ {
		if !m.Heartbeat(func(err error) {
			mu.Lock()
			ackErrs = append(ackErrs, err)
			mu.Unlock()
		}) {
			t.Fatal("heartbeat not sent")
		}
	}

	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	for i, fut := range futs {
		select {
		case r := <-fut.Done():
			if r.Err == nil {
				t.Fatalf("request %d resolved successfully after close", i)
			}
		default:
			t.Fatalf("request %d leaked: never resolved", i)
		}
		// exactly once: the future channel must now be drained
		select {
		case <-fut.Done():
			t.Fatalf("request %d resolved twice", i)
		default:
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ackErrs) != 2 {
		t.Fatalf("heartbeat callbacks fired %d times, want 2", len(ackErrs))
	}
	for _, err := range ackErrs {
		if err == nil {
			t.Fatal("heartbeat callback completed successfully after close")
		}
	}
}

func TestHeartbeatSuppressedAfterRecentSend(t *testing.T) {
	m, _, tr := connectedMux(t, Conf{MinRequestInterval: time.Hour})
	defer m.Close()

	if _, err := m.Send(codec.KindEcho, nil); err != nil {
		t.Fatal(err)
	}
	if m.Heartbeat(nil) {
		t.Fatal("heartbeat not suppressed inside min interval")
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.frames) != 1 {
		t.Fatalf("frames=%d, want the single request", len(tr.frames))
	}
}

func TestHeartbeatAckFIFO(t *testing.T) {
	m, _, tr := connectedMux(t, Conf{})
	defer m.Close()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 2; i++ {
		i := i
		if !m.Heartbeat(func(err error) {
			if err != nil {
				t.Errorf("heartbeat %d: %v", i, err)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}) {
			t.Fatal("heartbeat not sent")
		}
	}

	tr.mu.Lock()
	if len(tr.frames) != 2 || len(tr.frames[0]) != 0 || len(tr.frames[1]) != 0 {
		tr.mu.Unlock()
		t.Fatalf("want two empty frames, got %d", len(tr.frames))
	}
	tr.mu.Unlock()

	// each inbound empty frame completes the oldest callback
	tr.sink.OnFrame(nil)
	tr.sink.OnFrame(nil)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 0 || order[1] != 1 {
		t.Fatalf("ack order=%v, want [0 1]", order)
	}
}

func TestConnectFollowsHandshakeRedirect(t *testing.T) {
	d := &fakeDialer{fail: map[string]error{
		"10.0.0.1:9100": &HandshakeError{Code: errs.RedirectError, Reason: "10.0.0.2:9100"},
	}}
	m := NewMux(Conf{}, d)
	defer m.Close()

	creds := &Credentials{UserID: 200, Password: "secret", DeviceType: "DESKTOP"}
	if err := m.Connect(context.Background(), "10.0.0.1:9100", creds); err != nil {
		t.Fatalf("redirected connect must succeed: %v", err)
	}
	if tr := d.last(); tr == nil || tr.addr != "10.0.0.2:9100" {
		t.Fatalf("connected to %+v, want redirect target", tr)
	}
}

func TestConnectRedirectFailureSurfacesOriginal(t *testing.T) {
	d := &fakeDialer{fail: map[string]error{
		"10.0.0.1:9100": &HandshakeError{Code: errs.RedirectError, Reason: "10.0.0.2:9100"},
		"10.0.0.2:9100": &HandshakeError{Code: errs.UnavailableError},
	}}
	m := NewMux(Conf{}, d)
	defer m.Close()

	err := m.Connect(context.Background(), "10.0.0.1:9100", &Credentials{UserID: 200})
	he, ok := err.(*HandshakeError)
	if !ok || he.Code != errs.RedirectError {
		t.Fatalf("want the original redirect error, got %v", err)
	}
}

func TestRedirectCloseReconnects(t *testing.T) {
	m, d, tr := connectedMux(t, Conf{})
	defer m.Close()

	fut, err := m.Send(codec.KindEcho, nil)
	if err != nil {
		t.Fatal(err)
	}

	// server hands the session off to another member mid-connection
	tr.sink.OnClosed(codec.CloseRedirect, "10.0.0.2:9100", nil)

	if next := d.last(); next == tr || next.addr != "10.0.0.2:9100" {
		t.Fatalf("reconnected to %+v, want redirect target", next)
	}
	if !m.Connected() {
		t.Fatal("mux must be connected after redirect reconnect")
	}
	// the in-flight request died with the old connection
	if _, err := fut.Wait(context.Background()); !errs.ErrNotConnected.Is(err) {
		t.Fatalf("want not-connected for the in-flight request, got %v", err)
	}
}

func TestNonRedirectCloseStaysDown(t *testing.T) {
	m, d, tr := connectedMux(t, Conf{})
	defer m.Close()

	tr.sink.OnClosed(codec.CloseClientDisconnect, "bye", nil)

	if m.Connected() {
		t.Fatal("mux must be disconnected")
	}
	if len(d.transports) != 1 {
		t.Fatalf("unexpected reconnect: %d transports", len(d.transports))
	}
	if _, err := m.Send(codec.KindEcho, nil); !errs.ErrNotConnected.Is(err) {
		t.Fatalf("want not-connected, got %v", err)
	}
}

// echoAckDialer hands out a transport that answers every empty keepalive
// frame with an ack inside the Send call itself, the tightest possible
// race between a heartbeat send and its ack.
type echoAckDialer struct {
	tr *echoAckTransport
}

type echoAckTransport struct {
	fakeTransport
}

func (t *echoAckTransport) Send(p []byte) bool {
	if !t.fakeTransport.Send(p) {
		return false
	}
	if len(p) == 0 {
		t.sink.OnFrame(nil)
	}
	return true
}

func (d *echoAckDialer) Dial(_ context.Context, addr string, _ *Credentials, sink Sink) (Transport, error) {
	d.tr = &echoAckTransport{}
	d.tr.addr = addr
	d.tr.sink = sink
	return d.tr, nil
}

// An ack arriving before Heartbeat returns must still complete the
// callback: it has to be queued before the frame leaves.
func TestHeartbeatAckRacingSend(t *testing.T) {
	d := &echoAckDialer{}
	m := NewMux(Conf{}, d)
	if err := m.Connect(context.Background(), "10.0.0.1:9100", &Credentials{UserID: 200}); err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	acked := make(chan error, 1)
	if !m.Heartbeat(func(err error) { acked <- err }) {
		t.Fatal("heartbeat not sent")
	}
	select {
	case err := <-acked:
		if err != nil {
			t.Fatalf("ack err=%v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ack never completed the callback")
	}

	m.mu.Lock()
	queued := len(m.heartbeats)
	m.mu.Unlock()
	if queued != 0 {
		t.Fatalf("callback queue length=%d, want 0", queued)
	}
}

// A rejected heartbeat send must retract its queued callback: the next
// inbound ack belongs to the next heartbeat, not a ghost.
func TestHeartbeatRejectedRetractsCallback(t *testing.T) {
	m, _, tr := connectedMux(t, Conf{})
	defer m.Close()

	tr.mu.Lock()
	tr.reject = true
	tr.mu.Unlock()

	var got error
	if m.Heartbeat(func(err error) { got = err }) {
		t.Fatal("rejected heartbeat reported as sent")
	}
	if !errs.ErrMessageRejected.Is(got) {
		t.Fatalf("ack err=%v, want message rejected", got)
	}

	tr.mu.Lock()
	tr.reject = false
	tr.mu.Unlock()

	acked := make(chan error, 1)
	if !m.Heartbeat(func(err error) { acked <- err }) {
		t.Fatal("heartbeat not sent")
	}
	tr.sink.OnFrame(nil)
	select {
	case err := <-acked:
		if err != nil {
			t.Fatalf("ack err=%v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ack consumed by a retracted callback")
	}
}
