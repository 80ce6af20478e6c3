package events

import (
	"context"
	"sync"
	"testing"

	"PGate/service/gateway"
)

type captureProducer struct {
	mu     sync.Mutex
	events []*SessionEvent
}

func (p *captureProducer) Publish(_ context.Context, e *SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *captureProducer) Close() error { return nil }

func (p *captureProducer) byType(t string) []*SessionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*SessionEvent
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type nopLink struct{}

func (nopLink) WriteBinary([]byte) error    { return nil }
func (nopLink) WritePing() error            { return nil }
func (nopLink) WriteClose(int, string) error { return nil }
func (nopLink) Close() error                { return nil }

func TestBridgePublishesLifecycle(t *testing.T) {
	prod := &captureProducer{}
	registry := gateway.NewSessionRegistry(gateway.Policy{})
	NewBridge(prod).Bind(registry)

	s := gateway.NewSession(&gateway.Handshake{UserID: 7, DeviceType: gateway.DeviceDesktop}, nopLink{}, 1)
	registry.Register(s)

	online := prod.byType(TypeOnline)
	if len(online) != 1 || online[0].UserID != 7 || online[0].SessionID != s.ID {
		t.Fatalf("online events=%+v", online)
	}

	registry.Drop(s, gateway.CloseInfo{Code: gateway.CloseClientDisconnect, Reason: "bye"})
	offline := prod.byType(TypeOffline)
	if len(offline) != 1 || offline[0].CloseCode != gateway.CloseClientDisconnect {
		t.Fatalf("offline events=%+v", offline)
	}
}

// A supersession emits an online event for the new session but never an
// offline event for the replaced one.
func TestBridgeSilentOnSwitch(t *testing.T) {
	prod := &captureProducer{}
	registry := gateway.NewSessionRegistry(gateway.Policy{})
	NewBridge(prod).Bind(registry)

	a := gateway.NewSession(&gateway.Handshake{UserID: 7, DeviceType: gateway.DeviceDesktop}, nopLink{}, 1)
	b := gateway.NewSession(&gateway.Handshake{UserID: 7, DeviceType: gateway.DeviceDesktop}, nopLink{}, 1)
	registry.Register(a)
	registry.Register(b)

	if got := len(prod.byType(TypeOnline)); got != 2 {
		t.Fatalf("online events=%d, want 2", got)
	}
	if got := len(prod.byType(TypeOffline)); got != 0 {
		t.Fatalf("offline events=%d, want 0", got)
	}
}
