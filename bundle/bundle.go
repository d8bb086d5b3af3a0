// Package bundle implements the bundle entity and its multi-list mapping
// discipline (C2): reference-counted bundles, an inverted index of list
// memberships, and the per-link forwarding log.
package bundle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dtnx/bpd/eid"
)

// Flag is a bundle processing/control flag (§3).
type Flag uint32

const (
	FlagCustodyRequested Flag = 1 << iota
	FlagIsAdmin
	FlagSingletonDestination
	FlagReactiveFragEnabled
	FlagReceivedAsFragment
	FlagIsFragment
	FlagDoNotFragment
)

func (f Flag) IsSet(fl Flag) bool { return f&fl != 0 }

// RetentionReason is one of the reasons a bundle must not be deleted.
type RetentionReason uint32

const (
	RetainPendingDelivery RetentionReason = 1 << iota
	RetainInCustody
	RetainPendingForwarding
	RetainInFlight
)

// Creation is a bundle's creation timestamp: seconds since the protocol
// epoch, plus a per-second sub-sequence to disambiguate bundles created
// within the same second by the same source.
type Creation struct {
	Time  uint64
	SeqNo uint64
}

// Block is one protocol block: primary (type 0 by this spec's convention),
// payload (type 1), or an extension block. The core treats non-primary
// block bodies as opaque; the block-processor registry (bp) interprets them.
type Block struct {
	Type  uint64
	Flags uint32
	Body  []byte
}

// Bundle is the central entity (§3). Mutating fields are protected by Mu;
// callers holding a Ref must take Mu before touching Mappings, ForwardLog,
// or Retention, matching §5's per-bundle lock.
type Bundle struct {
	Mu sync.Mutex

	LocalID uint64
	Version int // 6 or 7

	Source, Destination, Custodian, ReportTo, PrevHop eid.EID

	Created  Creation
	Lifetime time.Duration

	Priority int
	Flags    Flag

	// FragOffset/FragTotalLen are meaningful only when FlagIsFragment is set.
	FragOffset    uint64
	FragTotalLen  uint64

	Payload Payload
	Blocks  []Block

	ForwardLog ForwardingLog

	retention atomic.Uint32 // RetentionReason bitset
	refs      atomic.Int64  // live BundleRefs + mapping-set cardinality

	mappings map[*List]*mapEntry // inverted index: list -> this bundle's position in it

	onFree func(*Bundle) // invoked when the last Ref is dropped while the retention set is empty
}

func New(localID uint64) *Bundle {
	return &Bundle{
		LocalID:  localID,
		mappings: make(map[*List]*mapEntry),
	}
}

// SetOnFree registers the callback the daemon uses to post a BundleFree
// event once the last reference (ref or mapping) drops.
func (b *Bundle) SetOnFree(f func(*Bundle)) { b.onFree = f }

//
// retention constraints
//

func (b *Bundle) AddRetention(r RetentionReason) {
	for {
		old := b.retention.Load()
		if old&uint32(r) != 0 {
			return
		}
		if b.retention.CompareAndSwap(old, old|uint32(r)) {
			return
		}
	}
}

func (b *Bundle) DropRetention(r RetentionReason) {
	for {
		old := b.retention.Load()
		neu := old &^ uint32(r)
		if neu == old {
			return
		}
		if b.retention.CompareAndSwap(old, neu) {
			return
		}
	}
}

func (b *Bundle) HasRetention(r RetentionReason) bool { return b.retention.Load()&uint32(r) != 0 }

// Deletable reports whether the retention-constraint set is empty.
func (b *Bundle) Deletable() bool { return b.retention.Load() == 0 }

//
// reference counting (BundleRef + mapping-set cardinality)
//

// Ref is a strong handle; the bundle is destroyed only when every Ref is
// dropped and the retention-constraint set is empty.
type Ref struct {
	b *Bundle
}

// TakeRef increments the reference count and returns a handle; the caller
// must call Drop exactly once.
func (b *Bundle) TakeRef() Ref {
	b.refs.Add(1)
	return Ref{b: b}
}

func (r Ref) Bundle() *Bundle { return r.b }

func (r Ref) Drop() {
	if r.b == nil {
		return
	}
	r.b.release()
}

func (b *Bundle) release() {
	if b.refs.Add(-1) == 0 && b.Deletable() && b.onFree != nil {
		b.onFree(b)
	}
}

func (b *Bundle) refCount() int64 { return b.refs.Load() }
