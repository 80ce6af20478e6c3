package gateway

import (
	"sync"

	"PGate/logger"
)

// OfflineListener observes real disconnects (presence, events). Switch
// closes never reach listeners: a reconnect/redirect handoff must not look
// like the user going offline.
type OfflineListener func(s *Session, info CloseInfo)

// OnlineListener observes every successful registration, supersessions
// included (the new session is online regardless).
type OnlineListener func(s *Session)

// Policy is the simultaneous-login matrix: a device type may not log in
// while any of its conflicting types holds a live session. Empty means
// every device type may be online concurrently (one session per type).
type Policy struct {
	Conflicts map[DeviceType][]DeviceType
}

// SingleSessionPolicy blocks every device type while any other is online.
func SingleSessionPolicy() Policy {
	all := []DeviceType{DeviceDesktop, DeviceBrowser, DeviceIOS, DeviceAndroid, DeviceOthers, DeviceUnknown}
	conflicts := make(map[DeviceType][]DeviceType, len(all))
	for _, d := range all {
		for _, other := range all {
			if other != d {
				conflicts[d] = append(conflicts[d], other)
			}
		}
	}
	return Policy{Conflicts: conflicts}
}

// SessionRegistry is the per-user, per-device-type table of live sessions.
// The single mutex makes register/evict on the same key linearizable: two
// racing admissions cannot both believe they won the slot.
type SessionRegistry struct {
	mu        sync.Mutex
	byUser    map[int64]map[DeviceType]*Session
	total     int
	policy    Policy
	listeners []OfflineListener
	online    []OnlineListener
}

func NewSessionRegistry(policy Policy) *SessionRegistry {
	return &SessionRegistry{
		byUser: make(map[int64]map[DeviceType]*Session),
		policy: policy,
	}
}

// AddOfflineListener must be called during wiring, before serving.
func (r *SessionRegistry) AddOfflineListener(l OfflineListener) {
	r.listeners = append(r.listeners, l)
}

func (r *SessionRegistry) AddOnlineListener(l OnlineListener) {
	r.online = append(r.online, l)
}

// Register installs the session, forcibly superseding any live session for
// the same (user, device type). The superseded session is closed with the
// switch reason and produces no offline event.
func (r *SessionRegistry) Register(s *Session) {
	r.mu.Lock()
	m := r.byUser[s.UserID]
	if m == nil {
		m = make(map[DeviceType]*Session)
		r.byUser[s.UserID] = m
	}
	old := m[s.DeviceType]
	m[s.DeviceType] = s
	if old == nil {
		r.total++
	}
	r.mu.Unlock()

	if old != nil {
		logger.Infof("[registry] superseded user=%d device=%s old=%s new=%s",
			s.UserID, s.DeviceType, old.ID, s.ID)
		old.CloseWith(SwitchClose())
	}
	for _, l := range r.online {
		l(s)
	}
}

// Evict closes and removes the session for (user, device type). Offline
// listeners fire unless the reason is a switch.
func (r *SessionRegistry) Evict(userID int64, device DeviceType, info CloseInfo) bool {
	r.mu.Lock()
	m := r.byUser[userID]
	s := m[device]
	if s != nil {
		delete(m, device)
		if len(m) == 0 {
			delete(r.byUser, userID)
		}
		r.total--
	}
	r.mu.Unlock()

	if s == nil {
		return false
	}
	s.CloseWith(info)
	r.notify(s, info)
	return true
}

// Drop is the read-loop exit path: it removes the session only if the
// table still points at this exact instance. A superseded session has
// already been replaced and must not remove (or signal offline for) its
// successor.
func (r *SessionRegistry) Drop(s *Session, info CloseInfo) {
	r.mu.Lock()
	m := r.byUser[s.UserID]
	if m == nil || m[s.DeviceType] != s {
		r.mu.Unlock()
		return
	}
	delete(m, s.DeviceType)
	if len(m) == 0 {
		delete(r.byUser, s.UserID)
	}
	r.total--
	r.mu.Unlock()

	s.CloseWith(info)
	r.notify(s, info)
}

// IsDeviceTypeAllowed is consulted before every admission.
func (r *SessionRegistry) IsDeviceTypeAllowed(userID int64, device DeviceType) bool {
	conflicts := r.policy.Conflicts[device]
	if len(conflicts) == 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.byUser[userID]
	for _, other := range conflicts {
		if _, online := m[other]; online {
			return false
		}
	}
	return true
}

func (r *SessionRegistry) Get(userID int64, device DeviceType) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byUser[userID][device]
	return s, ok
}

func (r *SessionRegistry) SessionsOf(userID int64) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.byUser[userID]
	out := make([]*Session, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}

func (r *SessionRegistry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, r.total)
	for _, m := range r.byUser {
		for _, s := range m {
			out = append(out, s)
		}
	}
	return out
}

func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

func (r *SessionRegistry) CloseAll(info CloseInfo) {
	r.mu.Lock()
	var all []*Session
	for _, m := range r.byUser {
		for _, s := range m {
			all = append(all, s)
		}
	}
	r.byUser = make(map[int64]map[DeviceType]*Session)
	r.total = 0
	r.mu.Unlock()

	for _, s := range all {
		s.CloseWith(info)
	}
}

func (r *SessionRegistry) notify(s *Session, info CloseInfo) {
	if info.IsSwitch() {
		return
	}
	for _, l := range r.listeners {
		l(s, info)
	}
}
