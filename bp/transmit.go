package bp

import (
	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/eid"
	"github.com/dtnx/bpd/link"
)

// Transmit drives the per-link transmission pipeline of §4.4: for the
// payload block plus every extension block type the bundle already
// carries, Prepare decides inclusion and reserves a placeholder, Generate
// materializes each included block's body (the last one flagged as such),
// and Finalize completes any fields that depend on the other blocks
// already having bodies (e.g. a security block's signature). Returns the
// resulting XmitBlocks ready for EncodeXmitBPv7.
func Transmit(reg *Registry, b *bundle.Bundle, source eid.EID, lnk *link.Link) (*XmitBlocks, error) {
	xb := &XmitBlocks{}

	types := make([]uint64, 0, len(b.Blocks)+1)
	types = append(types, TypePayload)
	for _, blk := range b.Blocks {
		if blk.Type == TypePayload {
			continue
		}
		types = append(types, blk.Type)
	}

	type prepared struct {
		proc Processor
		idx  int
	}
	order := make([]prepared, 0, len(types))
	for _, typ := range types {
		proc, ok := reg.Lookup(typ)
		if !ok {
			proc = Noop
		}
		decision, err := proc.Prepare(b, xb, source, lnk)
		if err != nil {
			return nil, err
		}
		if decision == Skip {
			continue
		}
		idx := xb.Placeholder(typ, 0)
		order = append(order, prepared{proc, idx})
	}

	for i, p := range order {
		last := i == len(order)-1
		if err := p.proc.Generate(b, xb, p.idx, lnk, last); err != nil {
			return nil, err
		}
	}
	for _, p := range order {
		if err := p.proc.Finalize(b, xb); err != nil {
			return nil, err
		}
	}
	return xb, nil
}

// EncodeXmitBPv7 serializes the result of Transmit the same way
// EncodeBundleBPv7 serializes a bundle's own Blocks (§6): primary block
// first, then each xmit block in order with its CRC-32.
func EncodeXmitBPv7(b *bundle.Bundle, xb *XmitBlocks) []byte {
	w := NewCBORWriter()
	w.ArrayHeader(1 + len(xb.Blocks))
	encodePrimaryBPv7(w, b)
	for i, blk := range xb.Blocks {
		last := i == len(xb.Blocks)-1
		w.ArrayHeader(4)
		w.Uint(blk.Type)
		w.Uint(uint64(blockFlags(blk.Flags, last)))
		w.ByteString(blk.Body)
		var crc [4]byte
		crcOf(blk.Body, crc[:])
		w.ByteString(crc[:])
	}
	return w.Bytes()
}
