package cluster

import (
	"context"
	"sync"
)

// MembershipSource abstracts the backing discovery layer (Consul, Nacos,
// or a static list). The slot ring and view never depend on a concrete
// implementation.
type MembershipSource interface {
	// List returns the current member set.
	List(ctx context.Context) ([]Member, error)
	// Announce registers or refreshes the local member and its advertised
	// address metadata.
	Announce(ctx context.Context, m Member) error
	// SetAddr updates a member's advertised address attribute.
	SetAddr(ctx context.Context, memberID, addr string) error
	// Watch delivers full member sets on every membership change.
	Watch(ctx context.Context) (Watcher, error)
	Close() error
}

type Watcher interface {
	Next() ([]Member, error)
	Stop() error
}

// ===== Static source (tests / single-node) =====

type StaticSource struct {
	mu      sync.Mutex
	members map[string]Member
	subs    []chan []Member
}

func NewStaticSource(members ...Member) *StaticSource {
	s := &StaticSource{members: make(map[string]Member)}
	for _, m := range members {
		s.members[m.ID] = m
	}
	return s
}

func (s *StaticSource) List(_ context.Context) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

func (s *StaticSource) Announce(_ context.Context, m Member) error {
	s.mu.Lock()
	s.members[m.ID] = m
	s.notifyLocked()
	s.mu.Unlock()
	return nil
}

func (s *StaticSource) SetAddr(_ context.Context, memberID, addr string) error {
	s.mu.Lock()
	if m, ok := s.members[memberID]; ok {
		m.Addr = addr
		s.members[memberID] = m
		s.notifyLocked()
	}
	s.mu.Unlock()
	return nil
}

func (s *StaticSource) Remove(memberID string) {
	s.mu.Lock()
	delete(s.members, memberID)
	s.notifyLocked()
	s.mu.Unlock()
}

func (s *StaticSource) Watch(_ context.Context) (Watcher, error) {
	ch := make(chan []Member, 8)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return &staticWatcher{s: s, ch: ch}, nil
}

func (s *StaticSource) Close() error { return nil }

func (s *StaticSource) snapshotLocked() []Member {
	out := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	return out
}

func (s *StaticSource) notifyLocked() {
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default: // slow subscriber, it will catch the next change
		}
	}
}

type staticWatcher struct {
	s  *StaticSource
	ch chan []Member
}

func (w *staticWatcher) Next() ([]Member, error) {
	members, ok := <-w.ch
	if !ok {
		return nil, context.Canceled
	}
	return members, nil
}

func (w *staticWatcher) Stop() error {
	w.s.mu.Lock()
	for i, ch := range w.s.subs {
		if ch == w.ch {
			w.s.subs = append(w.s.subs[:i], w.s.subs[i+1:]...)
			close(ch)
			break
		}
	}
	w.s.mu.Unlock()
	return nil
}
