package bundle

import (
	"container/list"
	"sync"
)

// Kind selects a List's ordering/indexing discipline (§3).
type Kind int

const (
	KindInsertionOrder Kind = iota
	KindIntKey
	KindStringKey
	KindMultiMap
)

// mapEntry is a bundle's back-pointer into one List: the list identity,
// its linked-list position (for O(1) erase), and (for keyed variants) the
// key it was inserted under (to also remove it from the key index).
type mapEntry struct {
	elem *list.Element
	key  any
}

// List is a named collection a Bundle may belong to (all_bundles, pending,
// custody, dupe-finder, per-link/per-registration queues, ...). Each List
// has its own lock (§5); the daemon acquires it when enumerating.
//
// The core maintains an inverted index: every Bundle carries a map from
// *List to its position in that list, so Erase is O(1) without a linear
// scan — grounded on the mapping-set invariant of §3.
type List struct {
	mu   sync.RWMutex
	Name string
	kind Kind

	ll       *list.List // of *Bundle, insertion-ordered backbone for all kinds
	intIdx   map[uint64]*list.Element
	strIdx   map[string]*list.Element
	multiIdx map[any][]*list.Element
}

func NewList(name string, kind Kind) *List {
	l := &List{Name: name, kind: kind, ll: list.New()}
	switch kind {
	case KindIntKey:
		l.intIdx = make(map[uint64]*list.Element)
	case KindStringKey:
		l.strIdx = make(map[string]*list.Element)
	case KindMultiMap:
		l.multiIdx = make(map[any][]*list.Element)
	}
	return l
}

// PushBack appends b with no key (insertion-order lists).
func (l *List) PushBack(b *Bundle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	elem := l.ll.PushBack(b)
	b.addMapping(l, &mapEntry{elem: elem})
}

// PushKey appends b under key (ordered-by-key and multi-map lists).
func (l *List) PushKey(key any, b *Bundle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	elem := l.ll.PushBack(b)
	switch l.kind {
	case KindIntKey:
		l.intIdx[key.(uint64)] = elem
	case KindStringKey:
		l.strIdx[key.(string)] = elem
	case KindMultiMap:
		l.multiIdx[key] = append(l.multiIdx[key], elem)
	}
	b.addMapping(l, &mapEntry{elem: elem, key: key})
}

// Erase removes b from the list in O(1) via its mapping back-pointer.
// No-op if b is not a member.
func (l *List) Erase(b *Bundle) {
	b.Mu.Lock()
	entry, ok := b.mappings[l]
	b.Mu.Unlock()
	if !ok {
		return
	}

	l.mu.Lock()
	l.ll.Remove(entry.elem)
	l.removeFromIndex(entry)
	l.mu.Unlock()

	b.removeMapping(l)
}

func (l *List) removeFromIndex(entry *mapEntry) {
	switch l.kind {
	case KindIntKey:
		delete(l.intIdx, entry.key.(uint64))
	case KindStringKey:
		delete(l.strIdx, entry.key.(string))
	case KindMultiMap:
		slot := l.multiIdx[entry.key]
		for i, e := range slot {
			if e == entry.elem {
				l.multiIdx[entry.key] = append(slot[:i], slot[i+1:]...)
				break
			}
		}
	}
}

func (l *List) LookupInt(key uint64) (*Bundle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	elem, ok := l.intIdx[key]
	if !ok {
		return nil, false
	}
	return elem.Value.(*Bundle), true
}

func (l *List) LookupString(key string) (*Bundle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	elem, ok := l.strIdx[key]
	if !ok {
		return nil, false
	}
	return elem.Value.(*Bundle), true
}

func (l *List) LookupMulti(key any) []*Bundle {
	l.mu.RLock()
	defer l.mu.RUnlock()
	slot := l.multiIdx[key]
	out := make([]*Bundle, len(slot))
	for i, e := range slot {
		out[i] = e.Value.(*Bundle)
	}
	return out
}

// Len returns the number of bundles currently in the list.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ll.Len()
}

// Front returns the first bundle in insertion order, or (nil, false) on an
// empty list (§8's boundary behavior: "front/back return none").
func (l *List) Front() (*Bundle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e := l.ll.Front()
	if e == nil {
		return nil, false
	}
	return e.Value.(*Bundle), true
}

// Back returns the last bundle in insertion order, or (nil, false) on an
// empty list.
func (l *List) Back() (*Bundle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e := l.ll.Back()
	if e == nil {
		return nil, false
	}
	return e.Value.(*Bundle), true
}

// PopFront erases and returns the first bundle in insertion order, or
// (nil, false) on an empty list (§8: "pop_front returns none" when empty).
// Used by convergence-layer connections to dequeue a link's outbound queue.
func (l *List) PopFront() (*Bundle, bool) {
	b, ok := l.Front()
	if !ok {
		return nil, false
	}
	l.Erase(b)
	return b, true
}

// ForEach calls f for every bundle, in list order, under a read lock.
// f must not mutate the list; use Erase/PushBack outside the callback.
func (l *List) ForEach(f func(*Bundle)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for e := l.ll.Front(); e != nil; e = e.Next() {
		f(e.Value.(*Bundle))
	}
}

// MoveAllTo atomically transfers every entry to dst, preserving mapping
// records (each bundle's back-pointer is repointed to dst, not cleared and
// re-added, so its mapping-set cardinality — and therefore its reference
// count — is unaffected).
func (l *List) MoveAllTo(dst *List) {
	if l == dst {
		return
	}
	l.mu.Lock()
	dst.mu.Lock()
	defer dst.mu.Unlock()
	defer l.mu.Unlock()

	for e := l.ll.Front(); e != nil; {
		next := e.Next()
		b := e.Value.(*Bundle)

		b.Mu.Lock()
		entry := b.mappings[l]
		delete(b.mappings, l)
		b.Mu.Unlock()

		l.ll.Remove(e)
		l.removeFromIndex(entry)

		newElem := dst.ll.PushBack(b)
		newEntry := &mapEntry{elem: newElem, key: entry.key}
		switch dst.kind {
		case KindIntKey:
			if entry.key != nil {
				dst.intIdx[entry.key.(uint64)] = newElem
			}
		case KindStringKey:
			if entry.key != nil {
				dst.strIdx[entry.key.(string)] = newElem
			}
		case KindMultiMap:
			if entry.key != nil {
				dst.multiIdx[entry.key] = append(dst.multiIdx[entry.key], newElem)
			}
		}
		b.Mu.Lock()
		b.mappings[dst] = newEntry
		b.Mu.Unlock()

		e = next
	}
}

//
// Bundle<->List mapping-set bookkeeping
//

// addMapping records b's membership in l and counts it toward b's
// reference count, per §3's "refcount = live Refs + mapping cardinality".
func (b *Bundle) addMapping(l *List, entry *mapEntry) {
	b.Mu.Lock()
	b.mappings[l] = entry
	b.Mu.Unlock()
	b.refs.Add(1)
}

func (b *Bundle) removeMapping(l *List) {
	b.Mu.Lock()
	_, ok := b.mappings[l]
	if ok {
		delete(b.mappings, l)
	}
	b.Mu.Unlock()
	if ok {
		b.release()
	}
}

// MappingCount returns how many lists b is currently a member of —
// the inverted-index invariant's cardinality term.
func (b *Bundle) MappingCount() int {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	return len(b.mappings)
}

// OnList reports whether b is currently a member of l.
func (b *Bundle) OnList(l *List) bool {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	_, ok := b.mappings[l]
	return ok
}
