package cluster

// DefaultSlotCount partitions the user id space. Member count may never
// exceed it; see View.Apply.
const DefaultSlotCount = 127

// SlotRing is the pure slot math: user id -> slot, slot -> owning member.
// It holds no member state; callers pass a sorted member list and must
// recompute ownership whenever that list changes.
type SlotRing struct {
	slots int
}

func NewSlotRing(slots int) SlotRing {
	if slots <= 0 {
		slots = DefaultSlotCount
	}
	return SlotRing{slots: slots}
}

func (r SlotRing) Slots() int { return r.slots }

// SlotOf maps a user id onto [0, slots). User ids are positive application
// identifiers, but the modulo is kept non-negative regardless.
func (r SlotRing) SlotOf(userID int64) int {
	s := int(userID % int64(r.slots))
	if s < 0 {
		s += r.slots
	}
	return s
}

// OwnerOf resolves the member owning the given slot over a sorted member
// list. Slots are split into contiguous ranges of size slots/len(members);
// the last member absorbs the truncation remainder so coverage is total.
func (r SlotRing) OwnerOf(slot int, sorted []Member) (Member, bool) {
	if len(sorted) == 0 || slot < 0 || slot >= r.slots {
		return Member{}, false
	}
	step := r.slots / len(sorted)
	if step == 0 {
		// more members than slots; View.Apply refuses this configuration
		return Member{}, false
	}
	idx := slot / step
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx], true
}
