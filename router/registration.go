package router

import (
	"sync"
	"time"

	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/eid"
)

// FailureAction is what a registration wants done with a bundle it cannot
// currently accept delivery of (§3).
type FailureAction int

const (
	FailureDefer FailureAction = iota
	FailureAbandon
)

// Registration is a local delivery endpoint (§3).
type Registration struct {
	ID        uint64
	Pattern   eid.EID
	Expires   time.Time // zero means never
	OnFailure FailureAction
	DeliveryQ *bundle.List
}

func (r *Registration) Matches(dest eid.EID) bool {
	return r.Pattern.Scheme == dest.Scheme && r.Pattern.Node == dest.Node
}

func (r *Registration) Expired(now time.Time) bool {
	return !r.Expires.IsZero() && now.After(r.Expires)
}

// Registrations is the set of local delivery endpoints, including the
// always-present admin registration.
type Registrations struct {
	mu     sync.RWMutex
	nextID uint64
	regs   map[uint64]*Registration
}

func NewRegistrations(adminEID eid.EID) *Registrations {
	r := &Registrations{regs: make(map[uint64]*Registration)}
	r.add(&Registration{Pattern: adminEID, DeliveryQ: bundle.NewList("admin.delivery", bundle.KindInsertionOrder)})
	return r
}

func (r *Registrations) add(reg *Registration) *Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	reg.ID = r.nextID
	r.regs[reg.ID] = reg
	return reg
}

// Add registers a new local delivery endpoint.
func (r *Registrations) Add(pattern eid.EID, onFailure FailureAction, expires time.Time) *Registration {
	return r.add(&Registration{
		Pattern:   pattern,
		Expires:   expires,
		OnFailure: onFailure,
		DeliveryQ: bundle.NewList("reg.delivery", bundle.KindInsertionOrder),
	})
}

func (r *Registrations) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.regs, id)
}

// MatchingFor returns every non-expired registration whose pattern matches dest.
func (r *Registrations) MatchingFor(dest eid.EID) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	var out []*Registration
	for _, reg := range r.regs {
		if reg.Expired(now) {
			continue
		}
		if reg.Matches(dest) {
			out = append(out, reg)
		}
	}
	return out
}

// Expired returns every registration whose expiration has passed, without
// removing them — the caller (daemon's housekeeping sweep) posts
// RegistrationExpired for each and then calls Remove.
func (r *Registrations) Expired(now time.Time) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Registration
	for _, reg := range r.regs {
		if reg.Expired(now) {
			out = append(out, reg)
		}
	}
	return out
}
