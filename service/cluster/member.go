package cluster

import (
	"sort"

	"github.com/google/uuid"
)

// Member is one node in the gateway cluster. ID is a stable UUID string
// and doubles as the sort key for slot assignment; Addr is the advertised
// address clients are redirected to.
type Member struct {
	ID   string
	Addr string
	Meta map[string]string
}

func NewLocalMember(addr string) Member {
	return Member{ID: uuid.NewString(), Addr: addr}
}

// SortMembers returns a copy sorted by member id. Slot ownership is only
// meaningful over a sorted list.
func SortMembers(members []Member) []Member {
	out := make([]Member, len(members))
	copy(out, members)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
