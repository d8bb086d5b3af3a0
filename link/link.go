// Package link implements the link and contact manager (C6): the registry
// of known links, the link state machine, and opportunistic link
// creation/reclaim.
package link

import (
	"sync"
	"time"

	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/eid"
)

// TypeVariant is a link's connectivity model (§3).
type TypeVariant int

const (
	TypeAlwaysOn TypeVariant = iota
	TypeOnDemand
	TypeScheduled
	TypeOpportunistic
)

func (t TypeVariant) String() string {
	switch t {
	case TypeAlwaysOn:
		return "always-on"
	case TypeOnDemand:
		return "on-demand"
	case TypeScheduled:
		return "scheduled"
	case TypeOpportunistic:
		return "opportunistic"
	default:
		return "unknown"
	}
}

// State is a link's current connectivity state (§3, §4.6).
type State int

const (
	StateUnavailable State = iota
	StateAvailable
	StateOpen
	StateBusy
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnavailable:
		return "unavailable"
	case StateAvailable:
		return "available"
	case StateOpen:
		return "open"
	case StateBusy:
		return "busy"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Params holds per-type timing knobs (§3).
type Params struct {
	MinRetryInterval time.Duration
	MaxRetryInterval time.Duration
	IdleCloseTime    time.Duration
	KeepaliveInterval time.Duration
}

// Contact is a single connected session on a link (§3): created when a link
// transitions to open, destroyed when the session ends.
type Contact struct {
	StartedAt time.Time
	BytesSent, BytesRecv uint64
	BundlesSent, BundlesRecv uint64
}

// Link is a send-side association to a peer (§3).
type Link struct {
	mu sync.Mutex

	Name       string
	CLType     string
	TypeVar    TypeVariant
	state      State
	Peer       eid.EID
	NextHop    string
	Reliable   bool
	Params     Params
	MarkedForDelete bool

	Queue   *bundle.List // outbound queue
	contact *Contact

	CLState any // convergence-layer-specific opaque state

	retryAttempt int // consecutive CLOSED->retry count, for exponential backoff
}

func New(name, clType string, tv TypeVariant, peer eid.EID, nextHop string) *Link {
	return &Link{
		Name:    name,
		CLType:  clType,
		TypeVar: tv,
		Peer:    peer,
		NextHop: nextHop,
		state:   StateUnavailable,
		Queue:   bundle.NewList(name+".outq", bundle.KindInsertionOrder),
	}
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) Contact() *Contact {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.contact
}

// setState transitions the link's state directly; callers must already
// have validated the transition against the state machine in Manager.
func (l *Link) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Link) openContact() *Contact {
	c := &Contact{StartedAt: time.Now()}
	l.mu.Lock()
	l.contact = c
	l.mu.Unlock()
	return c
}

func (l *Link) closeContact() {
	l.mu.Lock()
	l.contact = nil
	l.mu.Unlock()
}

func (l *Link) nextRetryDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.Params.MinRetryInterval << l.retryAttempt
	if l.Params.MaxRetryInterval > 0 && d > l.Params.MaxRetryInterval {
		d = l.Params.MaxRetryInterval
	}
	if d <= 0 {
		d = l.Params.MinRetryInterval
	}
	l.retryAttempt++
	return d
}

func (l *Link) resetRetry() {
	l.mu.Lock()
	l.retryAttempt = 0
	l.mu.Unlock()
}
