package gateway

import (
	"testing"

	"PGate/service/cluster"
	"PGate/service/codec"
	"PGate/tools/errs"
)

func dequeueEnvelope(t *testing.T, s *Session) *codec.Envelope {
	t.Helper()
	select {
	case payload := <-s.Send:
		env, err := codec.Unmarshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		return env
	default:
		t.Fatal("no frame queued")
		return nil
	}
}

// A retried frame reusing a correlation id must not run its handler a
// second time; the duplicate gets its own error response.
func TestDuplicateInboundRequestID(t *testing.T) {
	disp := NewDispatcher()
	disp.Register(EchoHandler{})
	view := cluster.NewView("node-a", cluster.NewSlotRing(cluster.DefaultSlotCount))
	srv := NewServer(ServerConf{}, nil, NewSessionRegistry(Policy{}), disp, view)

	sess, _ := newTestSession(200, DeviceDesktop)
	env := &codec.Envelope{RequestID: 9, Kind: codec.KindEcho, Data: map[string]any{"n": "1"}}

	srv.handleEnvelope(sess, env)
	srv.handleEnvelope(sess, env)

	first := dequeueEnvelope(t, sess)
	if first.StatusCode() != 200 {
		t.Fatalf("first response code=%d, want 200", first.StatusCode())
	}
	second := dequeueEnvelope(t, sess)
	if second.StatusCode() != errs.DuplicateRequestIDError {
		t.Fatalf("second response code=%d, want %d", second.StatusCode(), errs.DuplicateRequestIDError)
	}

	// a fresh id on the same session goes through
	srv.handleEnvelope(sess, &codec.Envelope{RequestID: 10, Kind: codec.KindEcho})
	if got := dequeueEnvelope(t, sess).StatusCode(); got != 200 {
		t.Fatalf("fresh request code=%d, want 200", got)
	}
}
