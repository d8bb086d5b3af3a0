package cl

import (
	"fmt"
	"time"

	"github.com/dtnx/bpd/bp"
	"github.com/dtnx/bpd/eid"
)

// handshake is the contact-negotiation message exchanged once at the start
// of a session, before any bundle frame: each side announces its EID and
// keepalive cadence so the peer-discovery step can identify the
// remote node and contact_up() can fire once both sides have completed it.
// Encoded with bp's CBOR primitives for consistency with the rest of the
// wire format, even though this is a
// CL-layer message rather than a bundle.
type handshake struct {
	LocalEID          string
	KeepaliveInterval time.Duration
	AnnounceIPN       bool
	Compress          bool
}

func encodeHandshake(h handshake) []byte {
	w := bp.NewCBORWriter()
	w.ArrayHeader(4)
	w.TextString(h.LocalEID)
	w.Uint(uint64(h.KeepaliveInterval / time.Millisecond))
	w.Uint(boolToUint(h.AnnounceIPN))
	w.Uint(boolToUint(h.Compress))
	return w.Bytes()
}

func decodeHandshake(buf []byte) (handshake, error) {
	r := bp.NewCBORReader(buf)
	if _, err := r.ArrayHeader("handshake", 4, 4); err != nil {
		return handshake{}, fmt.Errorf("cl: decode handshake: %w", err)
	}
	localEID, err := r.TextString("local_eid")
	if err != nil {
		return handshake{}, fmt.Errorf("cl: decode handshake: %w", err)
	}
	ka, err := r.Uint("keepalive_ms")
	if err != nil {
		return handshake{}, fmt.Errorf("cl: decode handshake: %w", err)
	}
	announce, err := r.Uint("announce_ipn")
	if err != nil {
		return handshake{}, fmt.Errorf("cl: decode handshake: %w", err)
	}
	compress, err := r.Uint("compress")
	if err != nil {
		return handshake{}, fmt.Errorf("cl: decode handshake: %w", err)
	}
	return handshake{
		LocalEID:          localEID,
		KeepaliveInterval: time.Duration(ka) * time.Millisecond,
		AnnounceIPN:       announce != 0,
		Compress:          compress != 0,
	}, nil
}

func boolToUint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// peerEIDFromHandshake parses the remote EID announced in a handshake,
// falling back to the null EID on a malformed announcement rather than
// failing the whole connection over a cosmetic field.
func peerEIDFromHandshake(h handshake) eid.EID {
	e, err := eid.Parse(h.LocalEID)
	if err != nil {
		return eid.None
	}
	return e
}
