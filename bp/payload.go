package bp

import (
	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/eid"
	"github.com/dtnx/bpd/link"
)

// payloadProcessor implements Processor for the payload block (type 1),
// which is always present, always last, and whose body is the bundle's
// Payload handle contents rather than a pre-materialized []byte (§4.4).
type payloadProcessor struct{}

func (payloadProcessor) Consume(b *bundle.Bundle, block *bundle.Block, buf []byte) (int, bool, error) {
	block.Body = append(block.Body, buf...)
	return len(buf), true, nil
}

func (payloadProcessor) Prepare(*bundle.Bundle, *XmitBlocks, eid.EID, *link.Link) (Decision, error) {
	return Include, nil // the payload block is always transmitted
}

func (payloadProcessor) Generate(b *bundle.Bundle, xb *XmitBlocks, idx int, _ *link.Link, lastBlock bool) error {
	n := b.Payload.Len()
	body, err := b.Payload.ReadAt(0, int(n))
	if err != nil {
		return err
	}
	xb.Blocks[idx].Type = TypePayload
	xb.Blocks[idx].Body = body
	if lastBlock {
		xb.Blocks[idx].Flags |= uint32(blockFlagLast)
	}
	return nil
}

func (payloadProcessor) Finalize(*bundle.Bundle, *XmitBlocks) error { return nil }

// Payload is the shared payload-block processor, registered under TypePayload.
var Payload Processor = payloadProcessor{}

// DefaultRegistry returns a Registry with only the payload block
// registered; every other type has no entry, so Lookup reports it missing
// and Transmit handles it with Noop until a security-ciphersuite-specific
// or application extension processor is registered for it (the
// block-processor dispatch contract of §1 scopes ciphersuite internals out
// of the core).
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypePayload, Payload)
	return r
}
