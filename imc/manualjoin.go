package imc

import (
	"sync"

	"github.com/dtnx/bpd/eid"
)

// ManualJoinKey identifies one locally requested (group, service) join that
// must survive restart (§4.8).
type ManualJoinKey struct {
	Group   uint64
	Service uint64
}

// ManualJoins is an EID-keyed map of manual join records: the requesting
// local registration's EID maps to the set of groups/services it asked to
// join directly (as opposed to a join learned via petition).
type ManualJoins struct {
	mu    sync.RWMutex
	byEID map[eid.EID]map[ManualJoinKey]struct{}
}

func NewManualJoins() *ManualJoins {
	return &ManualJoins{byEID: make(map[eid.EID]map[ManualJoinKey]struct{})}
}

func (m *ManualJoins) Add(requester eid.EID, group, service uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.byEID[requester]
	if !ok {
		set = make(map[ManualJoinKey]struct{})
		m.byEID[requester] = set
	}
	set[ManualJoinKey{Group: group, Service: service}] = struct{}{}
}

func (m *ManualJoins) Del(requester eid.EID, group, service uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.byEID[requester]
	if !ok {
		return
	}
	delete(set, ManualJoinKey{Group: group, Service: service})
	if len(set) == 0 {
		delete(m.byEID, requester)
	}
}

// Groups returns every group number requester has manually joined.
func (m *ManualJoins) Groups(requester eid.EID) []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []uint64
	for k := range m.byEID[requester] {
		out = append(out, k.Group)
	}
	return out
}

// All returns every (requester, key) pair, for persistence.
func (m *ManualJoins) All() []struct {
	EID eid.EID
	Key ManualJoinKey
} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []struct {
		EID eid.EID
		Key ManualJoinKey
	}
	for e, set := range m.byEID {
		for k := range set {
			out = append(out, struct {
				EID eid.EID
				Key ManualJoinKey
			}{e, k})
		}
	}
	return out
}

func (m *ManualJoins) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byEID = make(map[eid.EID]map[ManualJoinKey]struct{})
}
