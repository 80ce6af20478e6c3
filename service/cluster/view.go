package cluster

import (
	"PGate/logger"
	"PGate/tools/errs"
	"context"
	"sync"
)

// Snapshot is a complete, immutable point-in-time picture of the cluster.
// Readers never see a partially-updated member list.
type Snapshot struct {
	Generation uint64
	Members    []Member // sorted by id
	byID       map[string]Member
}

func (s *Snapshot) Member(id string) (Member, bool) {
	m, ok := s.byID[id]
	return m, ok
}

// View maintains the last-known membership snapshot plus the slot ring.
// Apply swaps in a whole new snapshot (copy-on-write); lookups are O(1)
// and never block.
type View struct {
	mu       sync.RWMutex
	localID  string
	ring     SlotRing
	snap     *Snapshot
	watchers []func(*Snapshot)
}

func NewView(localID string, ring SlotRing) *View {
	return &View{
		localID: localID,
		ring:    ring,
		snap:    &Snapshot{byID: map[string]Member{}},
	}
}

func (v *View) LocalID() string { return v.localID }
func (v *View) Ring() SlotRing  { return v.ring }

// Notify registers a callback invoked after every applied membership
// change. Registration must happen during wiring, before Run starts.
func (v *View) Notify(fn func(*Snapshot)) {
	v.watchers = append(v.watchers, fn)
}

// Apply installs a new membership snapshot. A member count above the slot
// count is a fatal configuration error: the ring cannot hand out less than
// one slot per member, so the node must stop serving rather than route
// with a broken assignment.
func (v *View) Apply(members []Member) error {
	if len(members) > v.ring.Slots() {
		return errs.ErrMemberOverflow.WrapMsg("refusing membership update",
			"members", len(members), "slots", v.ring.Slots())
	}
	sorted := SortMembers(members)
	byID := make(map[string]Member, len(sorted))
	for _, m := range sorted {
		byID[m.ID] = m
	}

	v.mu.Lock()
	snap := &Snapshot{
		Generation: v.snap.Generation + 1,
		Members:    sorted,
		byID:       byID,
	}
	v.snap = snap
	v.mu.Unlock()

	for _, fn := range v.watchers {
		fn(snap)
	}
	return nil
}

func (v *View) Snapshot() *Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap
}

func (v *View) Generation() uint64 {
	return v.Snapshot().Generation
}

// MemberResponsibleFor returns the member owning the user's slot, or nil
// when the local node is responsible. An empty membership (single-node
// bootstrap) also resolves to local.
func (v *View) MemberResponsibleFor(userID int64) *Member {
	snap := v.Snapshot()
	owner, ok := v.ring.OwnerOf(v.ring.SlotOf(userID), snap.Members)
	if !ok || owner.ID == v.localID {
		return nil
	}
	return &owner
}

func (v *View) IsLocalResponsibleFor(userID int64) bool {
	return v.MemberResponsibleFor(userID) == nil
}

// MemberAddrResponsibleFor is the admission-facing shape of the ownership
// check: the owning member's address, or local=true when this node serves
// the user itself.
func (v *View) MemberAddrResponsibleFor(userID int64) (string, bool) {
	m := v.MemberResponsibleFor(userID)
	if m == nil {
		return "", true
	}
	return m.Addr, false
}

func (v *View) AddressOf(memberID string) string {
	if m, ok := v.Snapshot().Member(memberID); ok {
		return m.Addr
	}
	return ""
}

// Run pulls the initial member list and then follows change events until
// ctx is done. A fatal configuration error (member overflow) is returned
// to the caller, which must shut the node down.
func (v *View) Run(ctx context.Context, source MembershipSource) error {
	members, err := source.List(ctx)
	if err != nil {
		return errs.WrapMsg(err, "membership bootstrap list")
	}
	if err := v.Apply(members); err != nil {
		return err
	}

	w, err := source.Watch(ctx)
	if err != nil {
		return errs.WrapMsg(err, "membership watch")
	}
	defer func() { _ = w.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		members, err := w.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warnf("[cluster] watch next err: %v", err)
			continue
		}
		if err := v.Apply(members); err != nil {
			return err
		}
		logger.Infof("[cluster] membership applied gen=%d members=%d",
			v.Generation(), len(members))
	}
}
