// Package router implements the router and custody subsystem (C7): route
// table lookups, duplicate suppression, local delivery, custody
// acceptance/timers, reactive fragmentation, and expiration.
package router

import (
	"sync"

	"github.com/dtnx/bpd/eid"
	"github.com/dtnx/bpd/link"
)

// Route maps a destination pattern to the link that forwards toward it.
// Pattern matching is by scheme + node number (§4.7's simplest case: a
// static next-hop route per destination node or group); an empty Pattern
// Node acts as the scheme's default route.
type Route struct {
	Pattern eid.EID
	Link    *link.Link
}

// Table is the router's route table.
type Table struct {
	mu     sync.RWMutex
	routes []Route
}

func NewTable() *Table { return &Table{} }

func (t *Table) Add(pattern eid.EID, l *link.Link) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = append(t.routes, Route{Pattern: pattern, Link: l})
}

func (t *Table) Del(pattern eid.EID, l *link.Link) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.routes {
		if r.Pattern.Equal(pattern) && r.Link == l {
			t.routes = append(t.routes[:i], t.routes[i+1:]...)
			return
		}
	}
}

// Lookup returns every link registered as a route toward dest: an exact
// (scheme, node) match first, falling back to any route registered for
// dest's scheme with no node restriction (the scheme's default route).
func (t *Table) Lookup(dest eid.EID) []*link.Link {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var exact, fallback []*link.Link
	for _, r := range t.routes {
		if r.Pattern.Scheme != dest.Scheme {
			continue
		}
		switch {
		case r.Pattern.Node == dest.Node:
			exact = append(exact, r.Link)
		case r.Pattern.Node == 0:
			fallback = append(fallback, r.Link)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return fallback
}

// All returns a snapshot of every configured route.
func (t *Table) All() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Route(nil), t.routes...)
}
