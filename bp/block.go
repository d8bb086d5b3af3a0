package bp

import (
	"fmt"
	"sync"

	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/eid"
	"github.com/dtnx/bpd/link"
)

// Well-known block type codes (§6). The primary block is conventionally
// type 0 in this spec; the payload block is type 1; everything else is an
// extension block registered by its own processor.
const (
	TypePrimary uint64 = 0
	TypePayload uint64 = 1
)

// XmitBlocks is the outbound, per-transmission block list a Processor's
// Prepare/Generate/Finalize steps build up — distinct from the bundle's own
// (already-received) Blocks slice, per §4.4.
type XmitBlocks struct {
	Blocks []bundle.Block
}

// Placeholder reserves a slot in xb for a block this processor will later
// Generate; the generate step fills Body in place.
func (xb *XmitBlocks) Placeholder(typ uint64, flags uint32) int {
	xb.Blocks = append(xb.Blocks, bundle.Block{Type: typ, Flags: flags})
	return len(xb.Blocks) - 1
}

// Decision is Prepare's outcome: whether to include a block in outbound
// transmission at all.
type Decision int

const (
	Skip Decision = iota
	Include
)

// Processor is the four-operation contract every block type registers
// (§4.4): incremental parse, prepare-for-transmission, generate body,
// finalize fields that depend on other blocks.
type Processor interface {
	// Consume incrementally parses bytes into block, returning how many
	// bytes were consumed. A protocol error here drops the containing
	// bundle with reason parse-failure (§4.4).
	Consume(b *bundle.Bundle, block *bundle.Block, buf []byte) (consumed int, complete bool, err error)

	// Prepare decides whether this block type should be included in
	// outbound transmission on lnk, and if so reserves a placeholder in xb.
	Prepare(b *bundle.Bundle, xb *XmitBlocks, source eid.EID, lnk *link.Link) (Decision, error)

	// Generate materializes the block body (including its length preamble)
	// for the placeholder Prepare reserved. lastBlock is true when this is
	// the final block in the transmission (the payload block's "last-block"
	// flag, §4.4).
	Generate(b *bundle.Bundle, xb *XmitBlocks, idx int, lnk *link.Link, lastBlock bool) error

	// Finalize completes fields that depend on other blocks having already
	// been generated (e.g. a security block's signature over the rest of
	// the bundle). Most processors need no finalize step.
	Finalize(b *bundle.Bundle, xb *XmitBlocks) error
}

// Registry maps a block-type code to its Processor, per §4.4's "a registry
// keyed by block-type code".
type Registry struct {
	mu    sync.RWMutex
	procs map[uint64]Processor
}

func NewRegistry() *Registry { return &Registry{procs: make(map[uint64]Processor)} }

func (r *Registry) Register(typ uint64, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[typ] = p
}

// Lookup returns the processor registered for typ and whether one was
// found; it returns (nil, false) when none is registered, and callers such
// as Transmit then substitute Noop, the unknown-block fallback — unknown
// extension blocks are still carried (opaque to the core) but never
// dispatched to type-specific logic.
func (r *Registry) Lookup(typ uint64) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[typ]
	return p, ok
}

// noopProcessor implements Processor for block types the registry has no
// specific logic for: blocks are carried opaquely, never generated locally.
type noopProcessor struct{}

func (noopProcessor) Consume(_ *bundle.Bundle, block *bundle.Block, buf []byte) (int, bool, error) {
	block.Body = append(block.Body, buf...)
	return len(buf), true, nil
}

func (noopProcessor) Prepare(*bundle.Bundle, *XmitBlocks, eid.EID, *link.Link) (Decision, error) {
	return Skip, nil
}

func (noopProcessor) Generate(*bundle.Bundle, *XmitBlocks, int, *link.Link, bool) error {
	return fmt.Errorf("bp: noop processor cannot generate")
}

func (noopProcessor) Finalize(*bundle.Bundle, *XmitBlocks) error { return nil }

// Noop is the shared opaque-block fallback processor.
var Noop Processor = noopProcessor{}
