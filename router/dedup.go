package router

import (
	"fmt"
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/dtnx/bpd/bundle"
)

// DupFinder suppresses re-delivery/re-forwarding of a bundle the router has
// already seen, keyed on (source EID, creation time, creation seqno,
// fragment offset) per §4.7's suppress_duplicates. A cuckoo filter gives
// false-positive-but-never-false-negative membership at fixed memory, which
// is the right tradeoff here: an occasional spurious "seen it" costs one
// redundant suppression, never a correctness violation in the other
// direction would — so capacity is sized generously relative to expected
// pending-bundle counts.
type DupFinder struct {
	mu     sync.Mutex
	filter *cuckoo.Filter
}

// NewDupFinder sizes the underlying cuckoo filter for roughly capacity
// distinct bundles.
func NewDupFinder(capacity uint) *DupFinder {
	return &DupFinder{filter: cuckoo.NewFilter(capacity)}
}

func dupKey(b *bundle.Bundle) []byte {
	return []byte(fmt.Sprintf("%s|%d|%d|%d", b.Source.Raw, b.Created.Time, b.Created.SeqNo, b.FragOffset))
}

// Seen records b and reports whether an equivalent bundle was already
// recorded. A fragment is keyed separately per offset, so distinct
// fragments of the same original bundle are never mistaken for duplicates
// of each other.
func (d *DupFinder) Seen(b *bundle.Bundle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := dupKey(b)
	if d.filter.Lookup(key) {
		return true
	}
	d.filter.InsertUnique(key)
	return false
}

// Forget removes b's key, e.g. after its retention lapses and its slot
// should be reusable (best-effort: a cuckoo filter's Delete can fail silently
// on a key it never actually held, which is harmless here).
func (d *DupFinder) Forget(b *bundle.Bundle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filter.Delete(dupKey(b))
}

// Count returns the approximate number of distinct keys currently recorded.
func (d *DupFinder) Count() uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filter.Count()
}

// Reset empties the filter, e.g. on daemon restart when persisted state is
// not trusted.
func (d *DupFinder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filter.Reset()
}
