package router

import (
	"github.com/dtnx/bpd/bundle"
)

// ReactiveFragmentThreshold is the minimum tail length worth keeping as a
// remainder fragment (§4.7, Scenario 7): a break that would leave less than
// this many bytes unsent is not worth the extra primary-block overhead, so
// the bundle is left whole instead.
const ReactiveFragmentThreshold = 256

// SplitAt reactively fragments b at byteOffset bytes already transmitted,
// returning a prefix fragment covering [0, byteOffset) and a remainder
// fragment covering [byteOffset, total). Both share b's LocalID space via
// the caller-supplied id allocator since each fragment is a distinct bundle
// in the store (§4.7: "reactive fragmentation ... splits the bundle into
// two new bundles sharing the original's source/creation identity").
//
// SplitAt returns ok=false when the remainder would be smaller than
// ReactiveFragmentThreshold, per the worked example: a 1000-byte bundle
// broken after 600 bytes yields a 600-byte prefix and a 400-byte remainder,
// both above threshold, so the split proceeds.
func SplitAt(b *bundle.Bundle, byteOffset uint64, allocID func() uint64) (prefix, remainder *bundle.Bundle, ok bool) {
	total := uint64(b.Payload.Len())
	if byteOffset == 0 || byteOffset >= total {
		return nil, nil, false
	}
	remLen := total - byteOffset
	if remLen < ReactiveFragmentThreshold {
		return nil, nil, false
	}

	baseOffset := uint64(0)
	fullLen := total
	if b.Flags.IsSet(bundle.FlagIsFragment) {
		baseOffset = b.FragOffset
		fullLen = b.FragTotalLen
	}

	prefix = cloneFragment(b, allocID(), baseOffset, fullLen)
	remainder = cloneFragment(b, allocID(), baseOffset+byteOffset, fullLen)

	if prefixPayload, err := b.Payload.ReadAt(0, int(byteOffset)); err == nil {
		prefix.Payload.WriteAt(0, prefixPayload)
	}
	if remPayload, err := b.Payload.ReadAt(int64(byteOffset), int(remLen)); err == nil {
		remainder.Payload.WriteAt(0, remPayload)
	}

	return prefix, remainder, true
}

func cloneFragment(b *bundle.Bundle, id, fragOffset, fragTotal uint64) *bundle.Bundle {
	f := bundle.New(id)
	f.Version = b.Version
	f.Source = b.Source
	f.Destination = b.Destination
	f.Custodian = b.Custodian
	f.ReportTo = b.ReportTo
	f.Created = b.Created
	f.Lifetime = b.Lifetime
	f.Priority = b.Priority
	f.Flags = b.Flags | bundle.FlagIsFragment
	f.FragOffset = fragOffset
	f.FragTotalLen = fragTotal
	f.Payload = bundle.NewMemPayload(nil)
	return f
}
