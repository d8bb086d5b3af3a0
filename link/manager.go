package link

import (
	"sync"
	"time"

	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/cmn/cos"
	"github.com/dtnx/bpd/cmn/nlog"
	"github.com/dtnx/bpd/eid"
)

// Reason enumerates why a contact or link transition occurred.
type Reason int

const (
	ReasonNoInfo Reason = iota
	ReasonUserInitiated
	ReasonBroken
	ReasonIdle
	ReasonTimeout
	ReasonShutdown
)

func (r Reason) String() string {
	switch r {
	case ReasonUserInitiated:
		return "user-initiated"
	case ReasonBroken:
		return "broken"
	case ReasonIdle:
		return "idle"
	case ReasonTimeout:
		return "timeout"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "no-info"
	}
}

// RequeueFunc re-enters a drained bundle into the routing pipeline, used by
// the opportunistic-link reclaim policy. Supplied by the daemon/router
// wiring layer so this package does not need to import either.
type RequeueFunc func(b *bundle.Bundle)

// Manager maintains the set of known links and the mapping from
// (convergence-layer, peer EID) to link.
type Manager struct {
	mu    sync.RWMutex
	links map[string]*Link // keyed by Name

	// ClearOppQueueOnUnavailable mirrors cmn.FlagClearBundlesWhenOppLinkUnavailable.
	ClearOppQueueOnUnavailable bool
	Requeue                    RequeueFunc
}

func NewManager() *Manager {
	return &Manager{links: make(map[string]*Link)}
}

func (m *Manager) Add(l *Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[l.Name] = l
}

func (m *Manager) Get(name string) (*Link, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.links[name]
	return l, ok
}

// TypeFilter/StateFilter let FindLinkTo narrow its search; a nil filter
// means "don't care", the same as passing AnyType/AnyState.
type (
	TypeFilter  func(TypeVariant) bool
	StateFilter func(State) bool
)

func AnyType(TypeVariant) bool { return true }
func AnyState(State) bool      { return true }

// FindLinkTo locates a link to peer over cl, optionally ignoring next-hop
// (peer discovery does this, since transport addressing may change across
// sessions).
func (m *Manager) FindLinkTo(cl string, nextHop string, peer eid.EID, ignoreNextHop bool, tf TypeFilter, sf StateFilter) (*Link, bool) {
	if tf == nil {
		tf = AnyType
	}
	if sf == nil {
		sf = AnyState
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.links {
		if l.CLType != cl || !l.Peer.Equal(peer) {
			continue
		}
		if !ignoreNextHop && l.NextHop != nextHop {
			continue
		}
		if !tf(l.TypeVar) || !sf(l.State()) {
			continue
		}
		return l, true
	}
	return nil, false
}

// NewOpportunisticLink creates and registers a fresh opportunistic link to
// peer, used by the peer-discovery flow when no existing link is found.
func (m *Manager) NewOpportunisticLink(cl, nextHop string, peer eid.EID) *Link {
	l := New(cos.GenLinkID(), cl, TypeOpportunistic, peer, nextHop)
	m.Add(l)
	return l
}

func (m *Manager) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, name)
}

// All returns a snapshot of every registered link.
func (m *Manager) All() []*Link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	return out
}

//
// State machine
//

// SetAvailable transitions UNAVAILABLE -> AVAILABLE, on a reachability
// probe success or admin action, and CLOSED -> AVAILABLE once the retry
// interval from ScheduleRetry has elapsed. Resets the exponential-backoff
// counter.
func (m *Manager) SetAvailable(l *Link) bool {
	l.mu.Lock()
	ok := l.state == StateUnavailable || l.state == StateAvailable || l.state == StateClosed
	if ok {
		l.state = StateAvailable
	}
	l.mu.Unlock()
	if ok {
		l.resetRetry()
	}
	return ok
}

// SetUnavailable transitions AVAILABLE -> UNAVAILABLE by admin action, and
// applies the opportunistic-link reclaim policy if configured.
func (m *Manager) SetUnavailable(l *Link) bool {
	l.mu.Lock()
	ok := l.state == StateAvailable || l.state == StateUnavailable
	if ok {
		l.state = StateUnavailable
	}
	l.mu.Unlock()
	if ok && l.TypeVar == TypeOpportunistic && m.ClearOppQueueOnUnavailable {
		m.drainToRequeue(l)
	}
	return ok
}

func (m *Manager) drainToRequeue(l *Link) {
	if m.Requeue == nil {
		return
	}
	var drained []*bundle.Bundle
	l.Queue.ForEach(func(b *bundle.Bundle) { drained = append(drained, b) })
	for _, b := range drained {
		l.Queue.Erase(b)
		m.Requeue(b)
	}
}

// OpenLink transitions AVAILABLE -> OPEN when a contact starts.
func (m *Manager) OpenLink(l *Link) (*Contact, bool) {
	l.mu.Lock()
	ok := l.state == StateAvailable
	l.mu.Unlock()
	if !ok {
		return nil, false
	}
	l.setState(StateOpen)
	return l.openContact(), true
}

// SetBusy transitions OPEN -> BUSY under backpressure (no dequeue possible).
func (m *Manager) SetBusy(l *Link) bool {
	l.mu.Lock()
	ok := l.state == StateOpen
	if ok {
		l.state = StateBusy
	}
	l.mu.Unlock()
	return ok
}

// SetReady reverses BUSY -> OPEN once dequeue is possible again.
func (m *Manager) SetReady(l *Link) bool {
	l.mu.Lock()
	ok := l.state == StateBusy
	if ok {
		l.state = StateOpen
	}
	l.mu.Unlock()
	return ok
}

// CloseLink transitions OPEN/BUSY -> CLOSED on contact down.
func (m *Manager) CloseLink(l *Link, reason Reason) bool {
	l.mu.Lock()
	ok := l.state == StateOpen || l.state == StateBusy
	if ok {
		l.state = StateClosed
	}
	l.mu.Unlock()
	if ok {
		l.closeContact()
		nlog.Infof("link %s: closed (%s)", l.Name, reason)
	}
	return ok
}

// ScheduleRetry computes the exponential-backoff delay for CLOSED ->
// AVAILABLE, between the link's configured min and max, unless it is
// marked for deletion. Returns (delay, false) when the link should not be
// retried instead.
func (m *Manager) ScheduleRetry(l *Link) (time.Duration, bool) {
	l.mu.Lock()
	del := l.MarkedForDelete
	l.mu.Unlock()
	if del {
		return 0, false
	}
	return l.nextRetryDelay(), true
}

// DeleteLink marks l for deletion and removes it from the registry.
func (m *Manager) DeleteLink(l *Link) {
	l.mu.Lock()
	l.MarkedForDelete = true
	l.mu.Unlock()
	m.Delete(l.Name)
}
